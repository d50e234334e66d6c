package history

import (
	"fmt"
	"sync"
)

// streamState is the Stream Controller's per-stream_id state, owned
// exclusively by the Store so FinishStream/AppendDelta can be applied
// atomically with the rest of history.
type streamState struct {
	kind   StreamKind
	order  OrderKey
	id     HistoryId
	closed bool
}

// Store is the append-only, content-addressed History Store. It is the sole
// owner of HistoryRecords; every other component holds HistoryId references
// and reads via Record/RecordsInOrder.
type Store struct {
	mu sync.Mutex

	records []HistoryRecord
	byID    map[HistoryId]int // id -> index into records
	nextID  HistoryId

	callIndex   map[string]int // call_id -> index into records (Exec/ToolCall)
	streamByID  map[string]*streamState
	closedSet   map[string]bool

	onWarn func(format string, args ...any)
}

// NewStore creates an empty History Store.
func NewStore() *Store {
	return &Store{
		byID:       make(map[HistoryId]int),
		callIndex:  make(map[string]int),
		streamByID: make(map[string]*streamState),
		closedSet:  make(map[string]bool),
		onWarn:     func(string, ...any) {},
	}
}

// SetWarnLogger installs a callback used for malformed-event warnings (§4.1
// failure semantics: rejects are logged, never partially applied).
func (s *Store) SetWarnLogger(f func(format string, args ...any)) {
	if f != nil {
		s.onWarn = f
	}
}

func (s *Store) warn(format string, args ...any) {
	s.onWarn(format, args...)
}

func (s *Store) allocID() HistoryId {
	s.nextID++
	return s.nextID
}

func (s *Store) append(rec HistoryRecord) HistoryId {
	rec.ID = s.allocID()
	s.records = append(s.records, rec)
	s.byID[rec.ID] = len(s.records) - 1
	return rec.ID
}

// Record returns the record for an id.
func (s *Store) Record(id HistoryId) (HistoryRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return HistoryRecord{}, false
	}
	return s.records[idx], true
}

// HistoryIdForCall resolves the HistoryId currently holding a call_id
// (ExecRecord or ToolCallRecord), following merges/folds.
func (s *Store) HistoryIdForCall(callID string) (HistoryId, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.callIndex[callID]
	if !ok {
		return 0, false
	}
	return s.records[idx].ID, true
}

// RecordsInOrder returns a snapshot of all records sorted by OrderKey. Ties
// never occur (OrderKey includes an insertion tie-breaker), so the sort is
// stable and total.
func (s *Store) RecordsInOrder() []HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryRecord, len(s.records))
	copy(out, s.records)
	// records are appended in apply order, which for accepted events is
	// already non-decreasing by OrderKey except for in-place mutations
	// (which keep the original Order). A defensive sort keeps the
	// invariant airtight even if a caller feeds keys out of order.
	insertionSort(out)
	return out
}

func insertionSort(recs []HistoryRecord) {
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && recs[j].Order.Less(recs[j-1].Order); j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
}

// ApplyDomainEvent is the single write path into the Store.
func (s *Store) ApplyDomainEvent(ev DomainEvent) (Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case BeginExec:
		return s.applyBeginExec(e)
	case AppendExecStdout:
		return s.applyAppendExecOutput(e.CallID, e.Offset, e.Bytes, true)
	case AppendExecStderr:
		return s.applyAppendExecOutput(e.CallID, e.Offset, e.Bytes, false)
	case FinishExec:
		return s.applyFinishExec(e)
	case BeginStream:
		return s.applyBeginStream(e)
	case AppendStreamDelta:
		return s.applyAppendStreamDelta(e)
	case FinishStream:
		return s.applyFinishStream(e)
	case InsertUserMessage:
		text := e.Text
		id := s.append(HistoryRecord{Order: e.Order, Kind: KindUserMessage, UserMessage: &text})
		return Mutation{Kind: MutationInserted, IDs: []HistoryId{id}}, nil
	case InsertNotice:
		id := s.append(HistoryRecord{Order: e.Order, Kind: KindNotice, Notice: &NoticeRecord{Level: e.Level, Message: e.Message}})
		return Mutation{Kind: MutationInserted, IDs: []HistoryId{id}}, nil
	case InsertBackground:
		id := s.append(HistoryRecord{Order: e.Order, Kind: KindBackground, Background: &BackgroundRecord{Message: e.Message}})
		return Mutation{Kind: MutationInserted, IDs: []HistoryId{id}}, nil
	case UpdateRateLimits:
		id := s.append(HistoryRecord{Order: e.Order, Kind: KindRateLimit, RateLimit: &RateLimitRecord{Snapshot: e.Snapshot}})
		return Mutation{Kind: MutationInserted, IDs: []HistoryId{id}}, nil
	case InsertPatch:
		id := s.append(HistoryRecord{Order: e.Order, Kind: KindPatch, Patch: &PatchRecord{CallID: e.CallID, Added: e.Added, Removed: e.Removed, Files: e.Files}})
		return Mutation{Kind: MutationInserted, IDs: []HistoryId{id}}, nil
	case ReplaceAtId:
		idx, ok := s.byID[e.ID]
		if !ok {
			s.warn("ReplaceAtId: unknown id %d", e.ID)
			return Mutation{Kind: MutationNoop}, fmt.Errorf("history: unknown id %d", e.ID)
		}
		e.Record.ID = e.ID
		e.Record.Order = s.records[idx].Order
		s.records[idx] = e.Record
		return Mutation{Kind: MutationReplaced, IDs: []HistoryId{e.ID}}, nil
	default:
		s.warn("ApplyDomainEvent: unhandled event type %T", ev)
		return Mutation{Kind: MutationNoop}, fmt.Errorf("history: unhandled event type %T", ev)
	}
}

// applyBeginExec: duplicate BeginExec with the same call_id is rejected
// idempotently by returning the existing id (§4.1 Guarantees).
func (s *Store) applyBeginExec(e BeginExec) (Mutation, error) {
	if idx, ok := s.callIndex[e.CallID]; ok {
		return Mutation{Kind: MutationNoop, IDs: []HistoryId{s.records[idx].ID}}, nil
	}
	rec := HistoryRecord{
		Order: e.Order,
		Kind:  KindExec,
		Exec: &ExecRecord{
			CallID:  e.CallID,
			Command: e.Command,
			Cwd:     e.Cwd,
			Action:  e.Action,
			Status:  ExecRunning,
		},
	}
	id := s.append(rec)
	s.callIndex[e.CallID] = len(s.records) - 1
	return Mutation{Kind: MutationInserted, IDs: []HistoryId{id}}, nil
}

func (s *Store) applyAppendExecOutput(callID string, offset int, b []byte, stdout bool) (Mutation, error) {
	idx, ok := s.callIndex[callID]
	if !ok {
		s.warn("AppendExec{Stdout,Stderr}: unknown call_id %s", callID)
		return Mutation{Kind: MutationNoop}, fmt.Errorf("history: unknown call_id %s", callID)
	}
	rec := &s.records[idx]
	if rec.Exec == nil {
		s.warn("AppendExec{Stdout,Stderr}: call_id %s is not an ExecRecord", callID)
		return Mutation{Kind: MutationNoop}, fmt.Errorf("history: call_id %s is not an ExecRecord", callID)
	}
	chunk := OutputChunk{Offset: offset, Bytes: append([]byte(nil), b...)}
	if stdout {
		rec.Exec.StdoutChunks = appendChunkOrdered(rec.Exec.StdoutChunks, chunk)
	} else {
		rec.Exec.StderrChunks = appendChunkOrdered(rec.Exec.StderrChunks, chunk)
	}
	return Mutation{Kind: MutationUpdated, IDs: []HistoryId{rec.ID}}, nil
}

// appendChunkOrdered keeps stdout_chunks monotonically non-decreasing by
// offset (§3 Invariants); an out-of-order delta is still appended (never
// dropped) but sorted into place so concatenation stays correct.
func appendChunkOrdered(chunks []OutputChunk, c OutputChunk) []OutputChunk {
	chunks = append(chunks, c)
	for i := len(chunks) - 1; i > 0 && chunks[i].Offset < chunks[i-1].Offset; i-- {
		chunks[i], chunks[i-1] = chunks[i-1], chunks[i]
	}
	return chunks
}

func (s *Store) applyFinishExec(e FinishExec) (Mutation, error) {
	idx, ok := s.callIndex[e.CallID]
	if !ok {
		// No matching begin: synthesize a minimal ExecRecord so the turn can
		// close cleanly (§4.1 Failure semantics).
		rec := HistoryRecord{
			Order: e.Order,
			Kind:  KindExec,
			Exec: &ExecRecord{
				CallID:  e.CallID,
				Command: e.Command,
				Cwd:     e.Cwd,
				Action:  e.Action,
				Status:  e.Status,
			},
		}
		if len(e.StdoutTail) > 0 {
			rec.Exec.StdoutChunks = []OutputChunk{{Offset: 0, Bytes: e.StdoutTail}}
		}
		if len(e.StderrTail) > 0 {
			rec.Exec.StderrChunks = []OutputChunk{{Offset: 0, Bytes: e.StderrTail}}
		}
		rec.Exec.ExitCode = e.ExitCode
		rec.Exec.WaitNotes = e.WaitNotes
		id := s.append(rec)
		s.callIndex[e.CallID] = len(s.records) - 1
		return Mutation{Kind: MutationInserted, IDs: []HistoryId{id}}, nil
	}

	rec := &s.records[idx]
	if rec.Exec == nil {
		s.warn("FinishExec: call_id %s is not an ExecRecord", e.CallID)
		return Mutation{Kind: MutationNoop}, fmt.Errorf("history: call_id %s is not an ExecRecord", e.CallID)
	}
	if rec.Exec.Status != ExecRunning {
		// §3 invariant: at most one terminal End event per call_id.
		return Mutation{Kind: MutationNoop, IDs: []HistoryId{rec.ID}}, nil
	}
	rec.Exec.Status = e.Status
	rec.Exec.ExitCode = e.ExitCode
	rec.Exec.WaitNotes = e.WaitNotes

	mutation := s.foldOrMergeExec(idx)
	return mutation, nil
}

// foldOrMergeExec implements §4.1's merging policy: adjacent completed
// Run-action ExecRecords with a contiguous OrderKey and identical cwd merge
// into a MergedExecRecord; Read/Search/List instead fold into a trailing
// ExploreAggregationRecord.
func (s *Store) foldOrMergeExec(idx int) Mutation {
	rec := &s.records[idx]
	callID := rec.Exec.CallID

	if rec.Exec.Action == ActionRun {
		if idx > 0 {
			prev := &s.records[idx-1]
			if merged := tryMergeRun(prev, rec); merged != nil {
				s.records[idx-1] = *merged
				s.records = append(s.records[:idx], s.records[idx+1:]...)
				s.rebuildIndexesFrom(idx - 1)
				return Mutation{Kind: MutationReplaced, IDs: []HistoryId{s.records[idx-1].ID}}
			}
		}
		return Mutation{Kind: MutationUpdated, IDs: []HistoryId{rec.ID}}
	}

	// Explore aggregation fold for Read/Search/List.
	entryStatus := rec.Exec.Status
	if entryStatus == ExecError && isNotFoundExec(rec.Exec) {
		entryStatus = ExecNotFound
	}
	entry := ExploreEntry{Action: rec.Exec.Action, Status: entryStatus, Record: *rec.Exec}

	if idx > 0 {
		prev := &s.records[idx-1]
		if prev.Kind == KindExploreAggregate {
			prev.ExploreAggregate.Entries = append(prev.ExploreAggregate.Entries, entry)
			s.records = append(s.records[:idx], s.records[idx+1:]...)
			s.rebuildIndexesFrom(idx - 1)
			return Mutation{Kind: MutationReplaced, IDs: []HistoryId{prev.ID}}
		}
	}

	rec.Kind = KindExploreAggregate
	rec.ExploreAggregate = &ExploreAggregationRecord{Entries: []ExploreEntry{entry}}
	rec.Exec = nil
	s.callIndex[callID] = idx
	return Mutation{Kind: MutationReplaced, IDs: []HistoryId{rec.ID}}
}

// isNotFoundExec is a best-effort heuristic: a non-zero exit from a
// Read/Search/List tool with no stderr usually means "no matches"/"no such
// file" rather than a hard error.
func isNotFoundExec(e *ExecRecord) bool {
	return e.ExitCode != nil && *e.ExitCode != 0 && len(e.Stderr()) == 0
}

func tryMergeRun(prev, cur *HistoryRecord) *HistoryRecord {
	if cur.Exec == nil || cur.Exec.Status == ExecRunning {
		return nil
	}
	switch prev.Kind {
	case KindExec:
		if prev.Exec == nil || prev.Exec.Action != ActionRun || prev.Exec.Status == ExecRunning {
			return nil
		}
		if prev.Exec.Cwd != cur.Exec.Cwd || !contiguous(prev.Order, cur.Order) {
			return nil
		}
		merged := HistoryRecord{
			Order: prev.Order,
			Kind:  KindMergedExec,
			MergedExec: &MergedExecRecord{
				Segments: []ExecRecord{*prev.Exec, *cur.Exec},
			},
		}
		return &merged
	case KindMergedExec:
		last := prev.MergedExec.Segments[len(prev.MergedExec.Segments)-1]
		if last.Cwd != cur.Exec.Cwd || !contiguous(prev.Order, cur.Order) {
			return nil
		}
		merged := *prev
		merged.MergedExec = &MergedExecRecord{
			Segments: append(append([]ExecRecord(nil), prev.MergedExec.Segments...), *cur.Exec),
		}
		return &merged
	default:
		return nil
	}
}

// contiguous treats two keys from the same request with adjacent
// (output_index, sequence_number) bookkeeping as "next to each other" in
// the emitted stream; callers only merge records that were in fact adjacent
// in RecordsInOrder, so equality of request_ordinal is the load-bearing
// check and OutputIndex/SequenceNumber need only be non-decreasing.
func contiguous(prev, cur OrderKey) bool {
	if prev.RequestOrdinal != cur.RequestOrdinal {
		return false
	}
	return prev.Less(cur) || prev == cur
}

// rebuildIndexesFrom recomputes byID/callIndex for indexes >= from, used
// after a slice splice shifts positions.
func (s *Store) rebuildIndexesFrom(from int) {
	for i := from; i < len(s.records); i++ {
		s.byID[s.records[i].ID] = i
		switch {
		case s.records[i].Exec != nil:
			s.callIndex[s.records[i].Exec.CallID] = i
		case s.records[i].ToolCall != nil:
			s.callIndex[s.records[i].ToolCall.CallID] = i
		case s.records[i].ExploreAggregate != nil:
			for _, ent := range s.records[i].ExploreAggregate.Entries {
				s.callIndex[ent.Record.CallID] = i
			}
		}
	}
}

func (s *Store) applyBeginStream(e BeginStream) (Mutation, error) {
	if st, ok := s.streamByID[e.StreamID]; ok && !st.closed {
		return Mutation{Kind: MutationNoop, IDs: []HistoryId{st.id}}, nil
	}
	var rec HistoryRecord
	if e.Kind == StreamReasoning {
		rec = HistoryRecord{Order: e.Order, Kind: KindReasoning, Reasoning: &ReasoningRecord{StreamID: e.StreamID, InProgress: true}}
	} else {
		rec = HistoryRecord{Order: e.Order, Kind: KindAssistantStream, Assistant: &AssistantStreamRecord{StreamID: e.StreamID, InProgress: true}}
	}
	id := s.append(rec)
	s.streamByID[e.StreamID] = &streamState{kind: e.Kind, order: e.Order, id: id}
	return Mutation{Kind: MutationInserted, IDs: []HistoryId{id}}, nil
}

func (s *Store) applyAppendStreamDelta(e AppendStreamDelta) (Mutation, error) {
	if s.closedSet[e.StreamID] {
		s.warn("AppendStreamDelta: dropping late delta for closed stream %s", e.StreamID)
		return Mutation{Kind: MutationNoop}, nil
	}
	st, ok := s.streamByID[e.StreamID]
	if !ok || st.closed {
		s.warn("AppendStreamDelta: dropping delta for unknown/closed stream %s", e.StreamID)
		return Mutation{Kind: MutationNoop}, nil
	}
	idx := s.byID[st.id]
	rec := &s.records[idx]
	if rec.Assistant != nil {
		rec.Assistant.Text += e.Text
	} else if rec.Reasoning != nil {
		if len(rec.Reasoning.Sections) == 0 {
			rec.Reasoning.Sections = append(rec.Reasoning.Sections, "")
		}
		last := len(rec.Reasoning.Sections) - 1
		rec.Reasoning.Sections[last] += e.Text
	}
	return Mutation{Kind: MutationUpdated, IDs: []HistoryId{rec.ID}}, nil
}

// applyFinishStream is idempotent: once a stream id is closed, applying
// FinishStream again (or any later AppendDelta) is a no-op (§4.1 Guarantees,
// §8 Testable property 3).
func (s *Store) applyFinishStream(e FinishStream) (Mutation, error) {
	st, ok := s.streamByID[e.StreamID]
	if !ok {
		s.warn("FinishStream: unknown stream %s", e.StreamID)
		return Mutation{Kind: MutationNoop}, nil
	}
	if st.closed {
		return Mutation{Kind: MutationNoop, IDs: []HistoryId{st.id}}, nil
	}
	st.closed = true
	s.closedSet[e.StreamID] = true

	idx := s.byID[st.id]
	rec := &s.records[idx]
	if rec.Assistant != nil {
		rec.Assistant.InProgress = false
		if e.FinalText != "" {
			rec.Assistant.Text = e.FinalText
		}
		rec.Assistant.Citations = e.Citations
		rec.Assistant.PlanBlock = e.PlanBlock
	} else if rec.Reasoning != nil {
		rec.Reasoning.InProgress = false
	}
	return Mutation{Kind: MutationUpdated, IDs: []HistoryId{rec.ID}}, nil
}

// IsStreamClosed reports whether a stream id has been finalized (used by the
// Stream Controller to decide whether a delta is late).
func (s *Store) IsStreamClosed(streamID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedSet[streamID]
}

// RunningExecCallIDs returns call_ids of ExecRecords still in the Running
// state, used by quiescence checks (§3 invariant: a turn is quiesced only
// when no running tool calls remain).
func (s *Store) RunningExecCallIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, rec := range s.records {
		if rec.Exec != nil && rec.Exec.Status == ExecRunning {
			out = append(out, rec.Exec.CallID)
		}
	}
	return out
}

// OpenStreamIDs returns stream ids that have not been finalized.
func (s *Store) OpenStreamIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, st := range s.streamByID {
		if !st.closed {
			out = append(out, id)
		}
	}
	return out
}
