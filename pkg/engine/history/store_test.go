package history

import "testing"

func TestRecordsInOrderIsMonotonic(t *testing.T) {
	s := NewStore()
	a := NewAllocator()

	if _, err := s.ApplyDomainEvent(InsertNotice{Message: "a", Order: a.NextSynthetic()}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ApplyDomainEvent(InsertNotice{Message: "b", Order: a.NextSynthetic()}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ApplyDomainEvent(InsertNotice{Message: "c", Order: a.NextSynthetic()}); err != nil {
		t.Fatal(err)
	}

	recs := s.RecordsInOrder()
	for i := 1; i < len(recs); i++ {
		if !recs[i-1].Order.Less(recs[i].Order) {
			t.Fatalf("record %d out of order: %+v >= %+v", i, recs[i-1].Order, recs[i].Order)
		}
	}
}

func TestInsertUserMessageRoundTrips(t *testing.T) {
	s := NewStore()
	a := NewAllocator()

	mut, err := s.ApplyDomainEvent(InsertUserMessage{Text: "hello there", Order: a.NextSynthetic()})
	if err != nil {
		t.Fatal(err)
	}
	if mut.Kind != MutationInserted || len(mut.IDs) != 1 {
		t.Fatalf("unexpected mutation: %+v", mut)
	}
	rec, ok := s.Record(mut.IDs[0])
	if !ok || rec.Kind != KindUserMessage || rec.UserMessage == nil || *rec.UserMessage != "hello there" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestDuplicateBeginExecIsIdempotent(t *testing.T) {
	s := NewStore()
	a := NewAllocator()

	m1, err := s.ApplyDomainEvent(BeginExec{CallID: "c1", Command: []string{"echo", "a"}, Action: ActionRun, Order: a.NextSynthetic()})
	if err != nil {
		t.Fatal(err)
	}
	m2, err := s.ApplyDomainEvent(BeginExec{CallID: "c1", Command: []string{"echo", "a"}, Action: ActionRun, Order: a.NextSynthetic()})
	if err != nil {
		t.Fatal(err)
	}
	if m2.Kind != MutationNoop {
		t.Fatalf("expected duplicate BeginExec to be a no-op, got %+v", m2)
	}
	if len(m1.IDs) != 1 || len(m2.IDs) != 1 || m1.IDs[0] != m2.IDs[0] {
		t.Fatalf("expected the same id back: %+v vs %+v", m1, m2)
	}
	if len(s.RecordsInOrder()) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(s.RecordsInOrder()))
	}
}

func TestExploreEntriesFoldIntoAggregation(t *testing.T) {
	s := NewStore()
	a := NewAllocator()

	o1 := a.OrderKeyFromMeta(OrderMeta{RequestOrdinal: 1})
	if _, err := s.ApplyDomainEvent(BeginExec{CallID: "rg1", Command: []string{"rg", "foo"}, Action: ActionSearch, Order: o1}); err != nil {
		t.Fatal(err)
	}
	exit1 := 1
	if _, err := s.ApplyDomainEvent(FinishExec{CallID: "rg1", Status: ExecNotFound, ExitCode: &exit1}); err != nil {
		t.Fatal(err)
	}

	o2 := a.OrderKeyFromMeta(OrderMeta{RequestOrdinal: 1})
	if _, err := s.ApplyDomainEvent(BeginExec{CallID: "ls1", Command: []string{"ls", "missing/"}, Action: ActionList, Order: o2}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ApplyDomainEvent(FinishExec{CallID: "ls1", Status: ExecNotFound, ExitCode: &exit1}); err != nil {
		t.Fatal(err)
	}

	recs := s.RecordsInOrder()
	var agg *ExploreAggregationRecord
	for _, r := range recs {
		if r.Kind == KindExploreAggregate {
			agg = r.ExploreAggregate
		}
	}
	if agg == nil {
		t.Fatalf("expected a folded ExploreAggregationRecord, got %+v", recs)
	}
	if len(agg.Entries) != 2 {
		t.Fatalf("expected 2 folded entries, got %d", len(agg.Entries))
	}
	if agg.Entries[0].Action != ActionSearch || agg.Entries[1].Action != ActionList {
		t.Fatalf("unexpected entry order: %+v", agg.Entries)
	}
}

func TestRunExecRecordsMergeWhenContiguous(t *testing.T) {
	s := NewStore()
	a := NewAllocator()

	o1 := a.OrderKeyFromMeta(OrderMeta{RequestOrdinal: 1})
	if _, err := s.ApplyDomainEvent(BeginExec{CallID: "e1", Command: []string{"echo", "a"}, Action: ActionRun, Cwd: "/tmp", Order: o1}); err != nil {
		t.Fatal(err)
	}
	exit0 := 0
	if _, err := s.ApplyDomainEvent(FinishExec{CallID: "e1", Status: ExecSuccess, ExitCode: &exit0}); err != nil {
		t.Fatal(err)
	}

	o2 := a.OrderKeyFromMeta(OrderMeta{RequestOrdinal: 1})
	if _, err := s.ApplyDomainEvent(BeginExec{CallID: "e2", Command: []string{"echo", "b"}, Action: ActionRun, Cwd: "/tmp", Order: o2}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ApplyDomainEvent(FinishExec{CallID: "e2", Status: ExecSuccess, ExitCode: &exit0}); err != nil {
		t.Fatal(err)
	}

	recs := s.RecordsInOrder()
	if len(recs) != 1 || recs[0].Kind != KindMergedExec {
		t.Fatalf("expected a single MergedExecRecord, got %+v", recs)
	}
	if len(recs[0].MergedExec.Segments) != 2 {
		t.Fatalf("expected 2 merged segments, got %d", len(recs[0].MergedExec.Segments))
	}
}

func TestFinishExecWithoutBeginSynthesizesRecord(t *testing.T) {
	s := NewStore()
	a := NewAllocator()

	exit1 := 1
	mut, err := s.ApplyDomainEvent(FinishExec{
		CallID:   "orphan",
		Status:   ExecError,
		ExitCode: &exit1,
		Command:  []string{"false"},
		Action:   ActionRun,
		Order:    a.NextSynthetic(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if mut.Kind != MutationInserted {
		t.Fatalf("expected synthesized insert, got %+v", mut)
	}
	rec, ok := s.Record(mut.IDs[0])
	if !ok || rec.Exec == nil || rec.Exec.Status != ExecError {
		t.Fatalf("expected a synthesized ExecRecord, got %+v", rec)
	}
}
