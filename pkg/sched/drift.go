package sched

import "time"

// correctDrift restores minimum spacing after a dispatch. now is the
// dispatch instant; the queue holds the remaining events.
//
// When the gap to the new head is below the raw MinDelay, the head is
// pushed back to effMin past now and the shortfall ripples through its
// successors: each following event moves just enough to stay MinDelay
// behind its (already moved) predecessor, and the ripple stops at the
// first gap that survives. The dispatched event itself is never delayed;
// only events still queued absorb the correction.
//
// Returns the number of events moved, at most the queue length.
func correctDrift(q *eventQueue, now time.Time, minDelay, effMin time.Duration) int {
	head := q.peek()
	if head == nil {
		return 0
	}

	observed := head.fireAt.Sub(now)
	if observed >= minDelay {
		return 0
	}

	return pushBack(q, effMin-observed, minDelay)
}

// pushBack moves the queue head forward by amount and propagates the
// spacing shortfall down the queue.
//
// Move amounts are computed from a snapshot of the original times, then
// applied in place. Each moved event ends exactly MinDelay behind its
// moved predecessor while the unmoved tail keeps at least MinDelay of
// clearance, so the queue order is unchanged and no re-sort is needed.
func pushBack(q *eventQueue, amount time.Duration, minDelay time.Duration) int {
	if q.len() == 0 || amount <= 0 {
		return 0
	}

	moves := []time.Duration{amount}
	for i := 0; i+1 < q.len(); i++ {
		moved := q.items[i].fireAt.Add(moves[i])
		shortfall := minDelay - q.items[i+1].fireAt.Sub(moved)
		if shortfall <= 0 {
			break
		}
		moves = append(moves, shortfall)
	}

	for i, m := range moves {
		q.items[i].fireAt = q.items[i].fireAt.Add(m)
	}
	return len(moves)
}
