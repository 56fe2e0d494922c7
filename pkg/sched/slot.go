package sched

import "time"

// findSlot picks the dispatch offset (relative to now) for a new event.
//
// occupied lists the offsets of already queued events in ascending order.
// delay is the requested offset, effMin the buffered minimum spacing.
//
// An empty queue honors the requested delay exactly; delay 0 means
// immediately. Otherwise the search walks the gaps of the sequence
// [0, occupied..., sentinel] and takes the first gap that can hold the
// new event with effMin of clearance on both sides. Anchoring at 0 keeps
// the slot at least effMin away from anything dispatched right now; the
// sentinel is far enough out that the last gap always fits, so the search
// cannot fail.
func findSlot(occupied []time.Duration, delay, effMin time.Duration) time.Duration {
	if len(occupied) == 0 {
		return delay
	}

	offsets := make([]time.Duration, 0, len(occupied)+2)
	offsets = append(offsets, 0)
	offsets = append(offsets, occupied...)
	offsets = append(offsets, offsets[len(offsets)-1]+2*delay+2*effMin)

	for i := 0; i+1 < len(offsets); i++ {
		if offsets[i+1] >= delay+effMin && offsets[i+1] >= offsets[i]+2*effMin {
			return maxDuration(offsets[i]+effMin, delay)
		}
	}

	// Unreachable: the sentinel gap satisfies both conditions.
	return maxDuration(offsets[len(offsets)-2]+effMin, delay)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
