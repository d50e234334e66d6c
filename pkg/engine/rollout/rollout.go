// Package rollout writes and reads the append-only JSONL session
// transcript: files under <code_home>/sessions/YYYY/MM/DD/rollout-
// <timestamp>-<uuid>.jsonl, first line a SessionMeta record, subsequent
// lines RolloutLine{timestamp, item}.
package rollout

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Source classifies what originated the session.
type Source string

const (
	SourceCli  Source = "cli"
	SourceExec Source = "exec"
)

// SessionMeta is always the first line of a rollout file.
type SessionMeta struct {
	ID           string `json:"id"`
	Timestamp    string `json:"timestamp"`
	Cwd          string `json:"cwd"`
	Originator   string `json:"originator"`
	CliVersion   string `json:"cli_version"`
	Instructions string `json:"instructions,omitempty"`
	Source       Source `json:"source"`
}

// ItemKind discriminates a RolloutLine's payload.
type ItemKind string

const (
	ItemSessionMeta  ItemKind = "session_meta"
	ItemEvent        ItemKind = "event"
	ItemResponseItem ItemKind = "response_item"
)

// RolloutLine is one JSONL line after the first.
type RolloutLine struct {
	Timestamp string          `json:"timestamp"`
	Kind      ItemKind        `json:"kind"`
	Item      json.RawMessage `json:"item"`
}

// Writer appends lines to one rollout file.
type Writer struct {
	path string
	f    *os.File
	w    *bufio.Writer
}

// Create starts a new rollout file under root (<code_home>/sessions/...)
// for the given meta, writing the SessionMeta as the first line.
func Create(root string, meta SessionMeta, now time.Time) (*Writer, error) {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.Timestamp == "" {
		meta.Timestamp = now.UTC().Format(time.RFC3339Nano)
	}
	dir := filepath.Join(root, "sessions", now.Format("2006"), now.Format("01"), now.Format("02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("rollout: creating session dir: %w", err)
	}
	name := fmt.Sprintf("rollout-%s-%s.jsonl", now.UTC().Format("20060102T150405"), meta.ID)
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rollout: creating %s: %w", path, err)
	}
	w := &Writer{path: path, f: f, w: bufio.NewWriter(f)}
	if err := w.writeJSON(meta); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// OpenAppend reopens an existing rollout file for appending further lines,
// used when a `resume` continues a session instead of starting a fresh one.
func OpenAppend(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rollout: reopening %s: %w", path, err)
	}
	return &Writer{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// Path returns the rollout file's path on disk.
func (w *Writer) Path() string { return w.path }

// Append writes one RolloutLine.
func (w *Writer) Append(kind ItemKind, item any, ts time.Time) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("rollout: marshaling item: %w", err)
	}
	return w.writeJSON(RolloutLine{Timestamp: ts.UTC().Format(time.RFC3339Nano), Kind: kind, Item: raw})
}

func (w *Writer) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(data); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Flush flushes buffered writes to disk.
func (w *Writer) Flush() error { return w.w.Flush() }

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// ReadMeta reads just the first line of a rollout file.
func ReadMeta(path string) (SessionMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return SessionMeta{}, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	if !scanner.Scan() {
		return SessionMeta{}, fmt.Errorf("rollout: %s is empty", path)
	}
	var meta SessionMeta
	if err := json.Unmarshal(scanner.Bytes(), &meta); err != nil {
		return SessionMeta{}, fmt.Errorf("rollout: decoding meta from %s: %w", path, err)
	}
	return meta, nil
}

// CountUserMessages scans a rollout file and counts ResponseItem lines
// that look like a user message, used by the catalog's min_user_messages
// filter.
func CountUserMessages(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	count := 0
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue // skip SessionMeta line
		}
		var line RolloutLine
		if json.Unmarshal(scanner.Bytes(), &line) != nil {
			continue
		}
		if line.Kind != ItemResponseItem {
			continue
		}
		var probe struct {
			Role string `json:"role"`
		}
		if json.Unmarshal(line.Item, &probe) == nil && probe.Role == "user" {
			count++
		}
	}
	return count, scanner.Err()
}
