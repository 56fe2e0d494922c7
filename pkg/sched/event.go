package sched

import (
	"context"
	"sort"
	"time"
)

// Action is the callback a scheduled event runs. It receives the run
// context, which is cancelled when the scheduler stops.
type Action func(ctx context.Context) error

// Handle identifies a queued one-shot event for cancellation.
type Handle struct {
	id     uint64
	label  string
	fireAt time.Time
}

func (h *Handle) ID() uint64 {
	if h == nil {
		return 0
	}
	return h.id
}

// FireAt is the dispatch time assigned at insertion. Drift correction may
// move the event later; Snapshot reflects the current time.
func (h *Handle) FireAt() time.Time {
	if h == nil {
		return time.Time{}
	}
	return h.fireAt
}

// EventInfo is a read-only view of a queued event.
type EventInfo struct {
	ID       uint64
	FireAt   time.Time
	Priority int
	Label    string
	Periodic bool
	Period   time.Duration
}

type event struct {
	id       uint64
	fireAt   time.Time
	priority int
	seq      uint64
	label    string
	action   Action
	job      *PeriodicJob // nil for one-shot events
}

func (ev *event) info() EventInfo {
	info := EventInfo{
		ID:       ev.id,
		FireAt:   ev.fireAt,
		Priority: ev.priority,
		Label:    ev.label,
	}
	if ev.job != nil {
		info.Periodic = true
		info.Period = ev.job.period
	}
	return info
}

// eventQueue keeps events ordered by (fireAt, priority, seq). The total
// order is strict because seq is unique, so every event has exactly one
// position and dispatch order is deterministic.
type eventQueue struct {
	items []*event
}

func eventLess(a, b *event) bool {
	if !a.fireAt.Equal(b.fireAt) {
		return a.fireAt.Before(b.fireAt)
	}
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

func (q *eventQueue) len() int { return len(q.items) }

func (q *eventQueue) peek() *event {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *eventQueue) insert(ev *event) {
	i := sort.Search(len(q.items), func(i int) bool {
		return eventLess(ev, q.items[i])
	})
	q.items = append(q.items, nil)
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = ev
}

func (q *eventQueue) pop() *event {
	if len(q.items) == 0 {
		return nil
	}
	ev := q.items[0]
	copy(q.items, q.items[1:])
	q.items[len(q.items)-1] = nil
	q.items = q.items[:len(q.items)-1]
	return ev
}

// removeByID unlinks the event with the given id, returning nil when it is
// not queued. Identity, not position: an event moved by drift correction
// is still found.
func (q *eventQueue) removeByID(id uint64) *event {
	for i, ev := range q.items {
		if ev.id == id {
			copy(q.items[i:], q.items[i+1:])
			q.items[len(q.items)-1] = nil
			q.items = q.items[:len(q.items)-1]
			return ev
		}
	}
	return nil
}

// offsets returns each event's delay from now, clamped at zero so events
// already due count as immediate. Input order is preserved.
func (q *eventQueue) offsets(now time.Time) []time.Duration {
	out := make([]time.Duration, len(q.items))
	for i, ev := range q.items {
		if d := ev.fireAt.Sub(now); d > 0 {
			out[i] = d
		}
	}
	return out
}
