package rollout

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/immateria/codex-mod-sub007/pkg/engine/history"
)

// ResponseItem is the canonical JSON shape Append writes for
// ItemResponseItem lines: a turn's user/assistant text, replayable into a
// History Store.
type ResponseItem struct {
	Role string `json:"role"` // "user" | "assistant"
	Text string `json:"text"`
}

// ReplayToHistory reconstructs a History Store from a rollout file's
// ResponseItem lines, in file order, so a resumed session (or the `view`
// CLI command) can hand the reconstructed transcript to the Renderer:
// UserMessage records via InsertUserMessage, assistant turns via the
// Begin/Append/Finish stream cycle.
func ReplayToHistory(path string) (*history.Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rollout: opening %s: %w", path, err)
	}
	defer f.Close()

	store := history.NewStore()
	alloc := history.NewAllocator()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	first := true
	streamSeq := 0
	for scanner.Scan() {
		if first {
			first = false
			continue // SessionMeta line
		}
		var line RolloutLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Kind != ItemResponseItem {
			continue
		}
		var item ResponseItem
		if err := json.Unmarshal(line.Item, &item); err != nil {
			continue
		}
		switch item.Role {
		case "user":
			if _, err := store.ApplyDomainEvent(history.InsertUserMessage{
				Text:  item.Text,
				Order: alloc.NextSynthetic(),
			}); err != nil {
				return nil, err
			}
		case "assistant":
			streamSeq++
			streamID := fmt.Sprintf("replay-%d", streamSeq)
			order := alloc.OrderKeyFromMeta(history.OrderMeta{RequestOrdinal: uint64(streamSeq)})
			if _, err := store.ApplyDomainEvent(history.BeginStream{Kind: history.StreamAnswer, StreamID: streamID, Order: order}); err != nil {
				return nil, err
			}
			if _, err := store.ApplyDomainEvent(history.FinishStream{StreamID: streamID, FinalText: item.Text}); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("rollout: scanning %s: %w", path, err)
	}
	return store, nil
}
