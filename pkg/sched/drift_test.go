package sched

import (
	"testing"
	"time"
)

func queueAt(base time.Time, offsets ...time.Duration) *eventQueue {
	q := &eventQueue{}
	for i, off := range offsets {
		q.insert(newTestEvent(uint64(i+1), base.Add(off), 0))
	}
	return q
}

func fireTimes(q *eventQueue, base time.Time) []time.Duration {
	out := make([]time.Duration, q.len())
	for i, ev := range q.items {
		out[i] = ev.fireAt.Sub(base)
	}
	return out
}

// A dispatch 20s late with two events close behind: the head moves to
// minDelay past now and the second follows to stay minDelay behind it.
func TestCorrectDriftLateDispatchRipples(t *testing.T) {
	base := time.Unix(1700000000, 0)
	q := queueAt(base, sec(20), sec(23))
	now := base.Add(sec(30))

	moved := correctDrift(q, now, sec(5), sec(5))
	if moved != 2 {
		t.Fatalf("moved = %d, want 2", moved)
	}
	got := fireTimes(q, base)
	if got[0] != sec(35) || got[1] != sec(40) {
		t.Fatalf("times = %v, want [35s 40s]", got)
	}
}

func TestCorrectDriftBufferedTarget(t *testing.T) {
	base := time.Unix(1700000000, 0)
	q := queueAt(base, sec(20), sec(23))
	now := base.Add(sec(30))

	// Buffered spacing for the push target, raw spacing for propagation.
	moved := correctDrift(q, now, sec(5), sec(5.25))
	if moved != 2 {
		t.Fatalf("moved = %d, want 2", moved)
	}
	got := fireTimes(q, base)
	if got[0] != sec(35.25) || got[1] != sec(40.25) {
		t.Fatalf("times = %v, want [35.25s 40.25s]", got)
	}
	if gap := got[1] - got[0]; gap != sec(5) {
		t.Fatalf("gap = %v, want 5s", gap)
	}
}

func TestCorrectDriftExactSpacingUntouched(t *testing.T) {
	base := time.Unix(1700000000, 0)
	q := queueAt(base, sec(5), sec(12))
	now := base

	// Head exactly minDelay away: no drift even with a buffered target.
	if moved := correctDrift(q, now, sec(5), sec(5.25)); moved != 0 {
		t.Fatalf("moved = %d, want 0", moved)
	}
	got := fireTimes(q, base)
	if got[0] != sec(5) || got[1] != sec(12) {
		t.Fatalf("times changed: %v", got)
	}
}

func TestCorrectDriftStopsAtHealthyGap(t *testing.T) {
	base := time.Unix(1700000000, 0)
	q := queueAt(base, sec(2), sec(30))
	now := base

	moved := correctDrift(q, now, sec(5), sec(5.25))
	if moved != 1 {
		t.Fatalf("moved = %d, want 1", moved)
	}
	got := fireTimes(q, base)
	if got[0] != sec(5.25) {
		t.Fatalf("head = %v, want 5.25s", got[0])
	}
	if got[1] != sec(30) {
		t.Fatalf("tail moved: %v", got[1])
	}
}

// A chain packed at exactly minDelay: every event moves, bounded by the
// queue length, and the gaps stay exact.
func TestCorrectDriftFullChainBounded(t *testing.T) {
	base := time.Unix(1700000000, 0)
	q := queueAt(base, sec(1), sec(6), sec(11))
	now := base

	moved := correctDrift(q, now, sec(5), sec(5))
	if moved != q.len() {
		t.Fatalf("moved = %d, want %d", moved, q.len())
	}
	got := fireTimes(q, base)
	want := []time.Duration{sec(5), sec(10), sec(15)}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("times = %v, want %v", got, want)
		}
	}
}

func TestCorrectDriftEmptyQueue(t *testing.T) {
	q := &eventQueue{}
	if moved := correctDrift(q, time.Unix(1700000000, 0), sec(5), sec(5)); moved != 0 {
		t.Fatalf("moved = %d, want 0", moved)
	}
}

func TestPushBackPreservesOrderAndIdentity(t *testing.T) {
	base := time.Unix(1700000000, 0)
	q := queueAt(base, sec(1), sec(3), sec(20))

	pushBack(q, sec(4), sec(5))

	// Order intact after in-place moves.
	for i := 1; i < q.len(); i++ {
		if q.items[i].fireAt.Before(q.items[i-1].fireAt) {
			t.Fatalf("queue out of order after push-back: %v", fireTimes(q, base))
		}
	}
	// Same events, same ids.
	ids := []uint64{q.items[0].id, q.items[1].id, q.items[2].id}
	if ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("identity changed: %v", ids)
	}
	got := fireTimes(q, base)
	// 1s+4s=5s; 3s must end 5s behind -> 10s; 20s keeps a healthy gap.
	if got[0] != sec(5) || got[1] != sec(10) || got[2] != sec(20) {
		t.Fatalf("times = %v", got)
	}
}
