package sched

import (
	"testing"
	"time"
)

func newTestEvent(id uint64, fireAt time.Time, priority int) *event {
	return &event{id: id, fireAt: fireAt, priority: priority, seq: id}
}

func TestQueueOrdersByTime(t *testing.T) {
	base := time.Unix(1700000000, 0)
	var q eventQueue
	q.insert(newTestEvent(1, base.Add(sec(30)), 0))
	q.insert(newTestEvent(2, base.Add(sec(10)), 0))
	q.insert(newTestEvent(3, base.Add(sec(20)), 0))

	want := []uint64{2, 3, 1}
	for i, id := range want {
		ev := q.pop()
		if ev == nil || ev.id != id {
			t.Fatalf("pop %d = %+v, want id %d", i, ev, id)
		}
	}
	if q.pop() != nil {
		t.Fatal("pop on empty queue should return nil")
	}
}

func TestQueueTieBreaksByPriorityThenSeq(t *testing.T) {
	base := time.Unix(1700000000, 0)
	at := base.Add(sec(5))

	var q eventQueue
	q.insert(newTestEvent(1, at, 2))
	q.insert(newTestEvent(2, at, 1)) // lower value dispatches first
	q.insert(newTestEvent(3, at, 2)) // same prio as #1, later seq

	want := []uint64{2, 1, 3}
	for i, id := range want {
		if ev := q.pop(); ev.id != id {
			t.Fatalf("pop %d: got id %d, want %d", i, ev.id, id)
		}
	}
}

func TestQueueRemoveByID(t *testing.T) {
	base := time.Unix(1700000000, 0)
	var q eventQueue
	q.insert(newTestEvent(1, base.Add(sec(1)), 0))
	q.insert(newTestEvent(2, base.Add(sec(2)), 0))
	q.insert(newTestEvent(3, base.Add(sec(3)), 0))

	if ev := q.removeByID(2); ev == nil || ev.id != 2 {
		t.Fatalf("removeByID(2) = %+v", ev)
	}
	if ev := q.removeByID(2); ev != nil {
		t.Fatalf("second removeByID(2) = %+v, want nil", ev)
	}
	if q.len() != 2 {
		t.Fatalf("len = %d, want 2", q.len())
	}
	if q.peek().id != 1 {
		t.Fatalf("head = %d, want 1", q.peek().id)
	}
}

// Identity must survive a reschedule: an event whose fire time moved is
// still found under its id.
func TestQueueRemoveByIDAfterReschedule(t *testing.T) {
	base := time.Unix(1700000000, 0)
	var q eventQueue
	q.insert(newTestEvent(1, base.Add(sec(1)), 0))
	q.insert(newTestEvent(2, base.Add(sec(10)), 0))

	q.items[0].fireAt = base.Add(sec(4))

	if ev := q.removeByID(1); ev == nil || !ev.fireAt.Equal(base.Add(sec(4))) {
		t.Fatalf("removeByID after move = %+v", ev)
	}
}

func TestQueueOffsetsClampDueEvents(t *testing.T) {
	base := time.Unix(1700000000, 0)
	var q eventQueue
	q.insert(newTestEvent(1, base.Add(-sec(3)), 0)) // overdue
	q.insert(newTestEvent(2, base.Add(sec(7)), 0))

	got := q.offsets(base)
	if len(got) != 2 || got[0] != 0 || got[1] != sec(7) {
		t.Fatalf("offsets = %v, want [0 7s]", got)
	}
}

func TestEventInfoCarriesPeriod(t *testing.T) {
	j := &PeriodicJob{period: sec(30)}
	ev := &event{id: 9, fireAt: time.Unix(1700000000, 0), priority: 1, label: "probe", job: j}

	info := ev.info()
	if !info.Periodic || info.Period != sec(30) || info.Label != "probe" || info.ID != 9 {
		t.Fatalf("info = %+v", info)
	}

	one := &event{id: 10, fireAt: time.Unix(1700000000, 0)}
	if got := one.info(); got.Periodic || got.Period != 0 {
		t.Fatalf("one-shot info = %+v", got)
	}
}
