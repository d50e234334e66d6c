// Package history implements the authoritative ordered log of turn records:
// the History Store and the Order Key Allocator that stamps every record
// with a total order.
package history

import "sync"

// syntheticOutputIndex marks a key as synthetic so it always sorts after
// server-ordered items within the same request. missingOutputIndex is one
// less, reserved for server events that arrived without an output_index;
// keeping it one below the synthetic marker means a synthetic key can never
// collide with a legitimately-ordered-but-index-less server event.
const (
	missingOutputIndex  int32 = 1<<31 - 2 // math.MaxInt32 - 1
	syntheticOutputIndex int32 = 1<<31 - 1 // math.MaxInt32
)

// OrderKey is the total-order key assigned to every emitted item:
// (request_ordinal, output_index, sequence_number), tie-broken by an
// insertion counter so two records are never equal.
type OrderKey struct {
	RequestOrdinal uint64
	OutputIndex    int32
	SequenceNumber uint64
	insertion      uint64
}

// Less reports whether k sorts strictly before other.
func (k OrderKey) Less(other OrderKey) bool {
	if k.RequestOrdinal != other.RequestOrdinal {
		return k.RequestOrdinal < other.RequestOrdinal
	}
	if k.OutputIndex != other.OutputIndex {
		return k.OutputIndex < other.OutputIndex
	}
	if k.SequenceNumber != other.SequenceNumber {
		return k.SequenceNumber < other.SequenceNumber
	}
	return k.insertion < other.insertion
}

// OrderMeta is the subset of transport event metadata needed to compute an
// OrderKey; OutputIndex/SequenceNumber are optional because not every
// transport event carries them.
type OrderMeta struct {
	RequestOrdinal uint64
	OutputIndex    *int32
	SequenceNumber *uint64
}

// Allocator produces OrderKeys for a session. It is the only component
// allowed to mint synthetic keys, and it owns the per-request fallback
// sequence counter and the global insertion tie-breaker.
type Allocator struct {
	mu sync.Mutex

	insertionCounter uint64
	syntheticSeq     uint64

	// perRequestSeq assigns sequence numbers to server events that omit one,
	// keyed by request_ordinal.
	perRequestSeq map[uint64]uint64

	currentRequest uint64
	lastServerKey  OrderKey
	haveLastServer bool
}

// NewAllocator creates an empty allocator.
func NewAllocator() *Allocator {
	return &Allocator{perRequestSeq: make(map[uint64]uint64)}
}

// OrderKeyFromMeta computes a server-ordered key from transport metadata.
func (a *Allocator) OrderKeyFromMeta(meta OrderMeta) OrderKey {
	a.mu.Lock()
	defer a.mu.Unlock()

	outIdx := missingOutputIndex
	if meta.OutputIndex != nil {
		outIdx = *meta.OutputIndex
	}

	var seq uint64
	if meta.SequenceNumber != nil {
		seq = *meta.SequenceNumber
	} else {
		seq = a.perRequestSeq[meta.RequestOrdinal]
		a.perRequestSeq[meta.RequestOrdinal]++
	}

	a.insertionCounter++
	key := OrderKey{
		RequestOrdinal: meta.RequestOrdinal,
		OutputIndex:    outIdx,
		SequenceNumber: seq,
		insertion:      a.insertionCounter,
	}

	a.currentRequest = meta.RequestOrdinal
	a.lastServerKey = key
	a.haveLastServer = true
	return key
}

// NextSynthetic returns a key that always sorts after every server-ordered
// key of the same request, for records the engine itself inserts (notices,
// background events, rate-limit snapshots).
func (a *Allocator) NextSynthetic() OrderKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nextSyntheticLocked(a.currentRequest)
}

// NearTimeKeyForCurrentReq returns a synthetic key that sorts just after the
// most recent server-ordered key seen for the active turn.
func (a *Allocator) NearTimeKeyForCurrentReq() OrderKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	req := a.currentRequest
	if a.haveLastServer {
		req = a.lastServerKey.RequestOrdinal
	}
	return a.nextSyntheticLocked(req)
}

func (a *Allocator) nextSyntheticLocked(request uint64) OrderKey {
	a.syntheticSeq++
	a.insertionCounter++
	return OrderKey{
		RequestOrdinal: request,
		OutputIndex:    syntheticOutputIndex,
		SequenceNumber: a.syntheticSeq,
		insertion:      a.insertionCounter,
	}
}

// BeginRequest advances the allocator to a new request ordinal, as the Turn
// Runner does at the start of each turn.
func (a *Allocator) BeginRequest(requestOrdinal uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRequest = requestOrdinal
}
