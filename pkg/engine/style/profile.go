// Package style persists named style profiles: a shell-style configuration
// bundling an MCP include/exclude list and a command-safety ruleset.
// Profiles are stored as TOML files for easy hand-editing.
package style

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Ruleset selects which command-safety heuristics apply.
type Ruleset string

const (
	RulesetAuto    Ruleset = "auto"
	RulesetPosix   Ruleset = "posix"
	RulesetWindows Ruleset = "windows"
)

// Profile is one named style's persisted configuration.
type Profile struct {
	Name         string   `toml:"name"`
	Ruleset      Ruleset  `toml:"ruleset"`
	McpInclude   []string `toml:"mcp_include"`
	McpExclude   []string `toml:"mcp_exclude"`
}

// Store reads and writes style profiles under a directory, one TOML file
// per profile named "<name>.toml".
type Store struct {
	Dir string
}

// NewStore creates a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("style: creating profile dir: %w", err)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.Dir, name+".toml")
}

// Load reads a named profile, returning a zero-value default Profile
// (Auto ruleset, empty lists) if the file does not exist yet.
func (s *Store) Load(name string) (Profile, error) {
	p := Profile{Name: name, Ruleset: RulesetAuto}
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("style: reading profile %q: %w", name, err)
	}
	if _, err := toml.Decode(string(data), &p); err != nil {
		return p, fmt.Errorf("style: decoding profile %q: %w", name, err)
	}
	p.Name = name
	return p, nil
}

// Save writes a profile atomically (temp file + rename), matching the
// teacher's FileSessionStore write discipline.
func (s *Store) Save(p Profile) error {
	tmp, err := os.CreateTemp(s.Dir, ".profile-*.tmp")
	if err != nil {
		return fmt.Errorf("style: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(p); err != nil {
		tmp.Close()
		return fmt.Errorf("style: encoding profile %q: %w", p.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path(p.Name))
}

// List returns the names of every profile persisted under the store,
// sorted alphabetically.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("style: listing profiles: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".toml"))
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a profile's persisted file. Deleting a profile that does
// not exist is a no-op.
func (s *Store) Delete(name string) error {
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("style: deleting profile %q: %w", name, err)
	}
	return nil
}

// PersistMcpLists implements policy.StylePersister: it merges the given
// include/exclude sets into the named profile and saves it.
func (s *Store) PersistMcpLists(name string, include, exclude []string) error {
	p, err := s.Load(name)
	if err != nil {
		return err
	}
	p.McpInclude = include
	p.McpExclude = exclude
	return s.Save(p)
}
