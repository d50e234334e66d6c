package appserver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// MergeStrategy selects how config/write combines the new value with an
// existing one at the same key path.
type MergeStrategy string

const (
	MergeReplace MergeStrategy = "Replace"
	MergeMerge   MergeStrategy = "Merge"
)

// Config write error codes surfaced in error.data.config_write_error_code.
const (
	ConfigValidationError      = "ConfigValidationError"
	ConfigVersionConflictError = "ConfigVersionConflict"
	ConfigIOError              = "ConfigIoError"
)

// ConfigValueWriteParams is the payload of config/write.
type ConfigValueWriteParams struct {
	KeyPath         string        `json:"key_path"`
	Value           any           `json:"value"`
	MergeStrategy   MergeStrategy `json:"merge_strategy"`
	FilePath        string        `json:"file_path,omitempty"`
	ExpectedVersion *int64        `json:"expected_version,omitempty"`
}

// ConfigReadParams is the payload of config/read.
type ConfigReadParams struct {
	IncludeLayers bool `json:"includeLayers"`
}

// ConfigReadResult is the result of config/read. Layers is populated only
// when the request asked for it.
type ConfigReadResult struct {
	Config  map[string]any `json:"config"`
	Version int64          `json:"version"`
	Layers  []ConfigLayer  `json:"layers,omitempty"`
}

// ConfigLayer is one source in the merged view, lowest precedence first.
type ConfigLayer struct {
	Name   string         `json:"name"`
	Path   string         `json:"path,omitempty"`
	Values map[string]any `json:"values"`
}

// configWriteError carries a code for the structured error.data payload.
type configWriteError struct {
	code string
	msg  string
}

func (e *configWriteError) Error() string { return e.msg }

// ConfigStore holds the mutable user config layer backed by one YAML file,
// merged over a fixed defaults layer on read. Writes are atomic
// (temp file then rename) and bump a version counter used for optimistic
// concurrency by config/write's expected_version.
type ConfigStore struct {
	mu       sync.Mutex
	path     string
	defaults map[string]any
	values   map[string]any
	version  int64
}

// OpenConfigStore loads (or lazily creates) the config file at path.
func OpenConfigStore(path string, defaults map[string]any) (*ConfigStore, error) {
	if defaults == nil {
		defaults = map[string]any{}
	}
	s := &ConfigStore{path: path, defaults: defaults, values: map[string]any{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(raw, &s.values); err != nil {
		return nil, fmt.Errorf("appserver: config %s: %w", path, err)
	}
	if s.values == nil {
		s.values = map[string]any{}
	}
	return s, nil
}

// Read returns the merged config view.
func (s *ConfigStore) Read(includeLayers bool) ConfigReadResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := deepMergeMaps(s.defaults, s.values)
	res := ConfigReadResult{Config: merged, Version: s.version}
	if includeLayers {
		res.Layers = []ConfigLayer{
			{Name: "defaults", Values: deepCopyMap(s.defaults)},
			{Name: "user", Path: s.path, Values: deepCopyMap(s.values)},
		}
	}
	return res
}

// Write applies one ConfigValueWriteParams. Validation failures and
// version conflicts return a *configWriteError so the RPC layer can
// attach the code to error.data.
func (s *ConfigStore) Write(p ConfigValueWriteParams) (int64, error) {
	segments, err := splitKeyPath(p.KeyPath)
	if err != nil {
		return 0, err
	}
	switch p.MergeStrategy {
	case MergeReplace, MergeMerge:
	case "":
		p.MergeStrategy = MergeReplace
	default:
		return 0, &configWriteError{ConfigValidationError, fmt.Sprintf("unknown merge_strategy %q", p.MergeStrategy)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ExpectedVersion != nil && *p.ExpectedVersion != s.version {
		return 0, &configWriteError{ConfigVersionConflictError,
			fmt.Sprintf("expected version %d, store is at %d", *p.ExpectedVersion, s.version)}
	}

	next := deepCopyMap(s.values)
	if err := setAtPath(next, segments, p.Value, p.MergeStrategy); err != nil {
		return 0, err
	}

	path := s.path
	if p.FilePath != "" {
		path = p.FilePath
	}
	if err := writeYAMLAtomic(path, next); err != nil {
		return 0, &configWriteError{ConfigIOError, err.Error()}
	}

	s.values = next
	s.version++
	return s.version, nil
}

func splitKeyPath(keyPath string) ([]string, error) {
	if strings.TrimSpace(keyPath) == "" {
		return nil, &configWriteError{ConfigValidationError, "key_path must not be empty"}
	}
	segments := strings.Split(keyPath, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, &configWriteError{ConfigValidationError, fmt.Sprintf("key_path %q has an empty segment", keyPath)}
		}
	}
	return segments, nil
}

func setAtPath(root map[string]any, segments []string, value any, strategy MergeStrategy) error {
	cur := root
	for i, seg := range segments[:len(segments)-1] {
		child, ok := cur[seg]
		if !ok {
			m := map[string]any{}
			cur[seg] = m
			cur = m
			continue
		}
		m, ok := child.(map[string]any)
		if !ok {
			return &configWriteError{ConfigValidationError,
				fmt.Sprintf("key_path segment %q is not an object", strings.Join(segments[:i+1], "."))}
		}
		cur = m
	}
	leaf := segments[len(segments)-1]
	if strategy == MergeMerge {
		existing, haveOld := cur[leaf].(map[string]any)
		incoming, haveNew := value.(map[string]any)
		if !haveNew {
			return &configWriteError{ConfigValidationError, "merge_strategy Merge requires an object value"}
		}
		if haveOld {
			cur[leaf] = deepMergeMaps(existing, incoming)
			return nil
		}
	}
	cur[leaf] = value
	return nil
}

// deepMergeMaps returns base overlaid with over; nested maps merge
// recursively, everything else is replaced. Neither input is mutated.
func deepMergeMaps(base, over map[string]any) map[string]any {
	out := deepCopyMap(base)
	for k, v := range over {
		if ov, ok := v.(map[string]any); ok {
			if bv, ok := out[k].(map[string]any); ok {
				out[k] = deepMergeMaps(bv, ov)
				continue
			}
		}
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

func writeYAMLAtomic(path string, values map[string]any) error {
	raw, err := yaml.Marshal(values)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
