package rollout

import (
	"strings"
	"time"

	"github.com/immateria/codex-mod-sub007/pkg/engine/history"
)

// TranscriptRecorder appends a live chat session's user/assistant turns to a
// rollout file and keeps its Catalog entry current, so an interactive
// session gets the same persistence and resume support as anything
// replayed by ReplayToHistory.
type TranscriptRecorder struct {
	w                *Writer
	sessionID        string
	cwd              string
	userMessageCount int
}

// NewTranscriptRecorder creates a fresh rollout file under root for the
// given session and starts tracking it.
func NewTranscriptRecorder(root, sessionID, cwd string, now time.Time) (*TranscriptRecorder, error) {
	w, err := Create(root, SessionMeta{
		ID:         sessionID,
		Cwd:        cwd,
		Originator: "cli-chat",
		Source:     SourceCli,
	}, now)
	if err != nil {
		return nil, err
	}
	return &TranscriptRecorder{w: w, sessionID: sessionID, cwd: cwd}, nil
}

// ResumeTranscriptRecorder reopens an existing session's rollout file so a
// `resume` continuation appends further turns to the same transcript rather
// than starting a new one.
func ResumeTranscriptRecorder(path, sessionID, cwd string, priorUserMessages int) (*TranscriptRecorder, error) {
	w, err := OpenAppend(path)
	if err != nil {
		return nil, err
	}
	return &TranscriptRecorder{w: w, sessionID: sessionID, cwd: cwd, userMessageCount: priorUserMessages}, nil
}

// Path returns the underlying rollout file's path.
func (r *TranscriptRecorder) Path() string { return r.w.Path() }

// RecordUser appends a user turn.
func (r *TranscriptRecorder) RecordUser(text string, now time.Time) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	r.userMessageCount++
	if err := r.w.Append(ItemResponseItem, ResponseItem{Role: "user", Text: text}, now); err != nil {
		return err
	}
	return r.w.Flush()
}

// RecordAssistant appends an assistant turn's final text. Empty turns (the
// user cancelled before any output, or an error aborted the turn) are
// dropped rather than recorded as a blank line.
func (r *TranscriptRecorder) RecordAssistant(text string, now time.Time) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := r.w.Append(ItemResponseItem, ResponseItem{Role: "assistant", Text: text}, now); err != nil {
		return err
	}
	return r.w.Flush()
}

// SyncCatalog upserts this session's current state into cat, so `resume
// --last` and friends see it without rescanning every rollout file on disk.
func (r *TranscriptRecorder) SyncCatalog(cat *history.Catalog, now time.Time) error {
	return cat.Upsert(history.CatalogEntry{
		SessionID:        r.sessionID,
		Path:             r.w.Path(),
		Cwd:              r.cwd,
		UserMessageCount: r.userMessageCount,
		LastEventAt:      now,
		FileModTime:      now,
	})
}

// Close flushes and closes the rollout file.
func (r *TranscriptRecorder) Close() error { return r.w.Close() }
