package policy

import "sync"

// McpDecision is the answer a user gives when asked about a gated MCP
// server.
type McpDecision string

const (
	AllowOnce             McpDecision = "allow_once"
	AllowSession          McpDecision = "allow_session"
	AllowPersistStyle     McpDecision = "allow_persist_style"
	DenyOnce              McpDecision = "deny_once"
	DenySession           McpDecision = "deny_session"
	DenyPersistStyle      McpDecision = "deny_persist_style"
	Cancel                McpDecision = "cancel"
)

// McpAccessSnapshot is an immutable, copy-on-write view of allow/deny sets
// for one turn. A new snapshot is produced on every decision; nothing
// mutates a snapshot already handed to a reader.
type McpAccessSnapshot struct {
	AllowTurn    map[string]bool
	AllowSession map[string]bool
	DenySession  map[string]bool
	StyleInclude map[string]bool
	StyleExclude map[string]bool
}

// emptySnapshot returns a snapshot with all sets empty but non-nil.
func emptySnapshot() McpAccessSnapshot {
	return McpAccessSnapshot{
		AllowTurn:    map[string]bool{},
		AllowSession: map[string]bool{},
		DenySession:  map[string]bool{},
		StyleInclude: map[string]bool{},
		StyleExclude: map[string]bool{},
	}
}

// clone returns a deep copy so mutation never aliases a previously
// returned snapshot.
func (s McpAccessSnapshot) clone() McpAccessSnapshot {
	c := emptySnapshot()
	for k := range s.AllowTurn {
		c.AllowTurn[k] = true
	}
	for k := range s.AllowSession {
		c.AllowSession[k] = true
	}
	for k := range s.DenySession {
		c.DenySession[k] = true
	}
	for k := range s.StyleInclude {
		c.StyleInclude[k] = true
	}
	for k := range s.StyleExclude {
		c.StyleExclude[k] = true
	}
	return c
}

// Allowed reports whether server is currently permitted, consulting turn,
// session, and style-profile layers in that precedence order; an explicit
// session-level deny beats a style-level include.
func (s McpAccessSnapshot) Allowed(server string) bool {
	if s.DenySession[server] {
		return false
	}
	if s.AllowTurn[server] || s.AllowSession[server] {
		return true
	}
	if s.StyleExclude[server] {
		return false
	}
	return s.StyleInclude[server]
}

// StylePersister writes a style profile's include/exclude lists to disk
// (backed by BurntSushi/toml in the style package); McpAccessManager calls
// it under its lock so persistence is atomic with the in-memory update.
type StylePersister interface {
	PersistMcpLists(styleName string, include, exclude []string) error
}

// McpAccessManager owns the current snapshot for a session and applies
// decisions atomically.
type McpAccessManager struct {
	mu        sync.Mutex
	snapshot  McpAccessSnapshot
	styleName string
	persister StylePersister
}

// NewMcpAccessManager creates a manager with an empty snapshot.
func NewMcpAccessManager(styleName string, persister StylePersister) *McpAccessManager {
	return &McpAccessManager{snapshot: emptySnapshot(), styleName: styleName, persister: persister}
}

// Snapshot returns the current immutable snapshot.
func (m *McpAccessManager) Snapshot() McpAccessSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// Decide applies a user's decision for a gated server, producing a new
// snapshot and, for persist-style decisions, writing through the
// StylePersister under the same lock so the two never diverge.
func (m *McpAccessManager) Decide(server string, decision McpDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.snapshot.clone()
	switch decision {
	case AllowOnce:
		next.AllowTurn[server] = true
	case AllowSession:
		next.AllowSession[server] = true
	case AllowPersistStyle:
		next.StyleInclude[server] = true
		delete(next.StyleExclude, server)
	case DenyOnce:
		// no persistent state; the caller simply doesn't dispatch this turn
	case DenySession:
		next.DenySession[server] = true
	case DenyPersistStyle:
		next.StyleExclude[server] = true
		delete(next.StyleInclude, server)
	case Cancel:
		m.snapshot = next
		return nil
	}
	m.snapshot = next

	if decision == AllowPersistStyle || decision == DenyPersistStyle {
		if m.persister != nil {
			return m.persister.PersistMcpLists(m.styleName, setToSlice(next.StyleInclude), setToSlice(next.StyleExclude))
		}
	}
	return nil
}

// NewTurn clears the turn-scoped allow set at the start of each turn,
// leaving session/style decisions intact.
func (m *McpAccessManager) NewTurn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.snapshot.clone()
	next.AllowTurn = map[string]bool{}
	m.snapshot = next
}

func setToSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
