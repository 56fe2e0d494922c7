// Package sched implements a periodic event scheduler that keeps a
// minimum spacing between any two dispatches.
//
// Events are held in a single time-ordered queue. Insertion does not take
// the requested delay literally: a slot finder walks the gaps between
// queued events and places the new event in the earliest gap that keeps
// every neighbour at least the configured minimum delay away (inflated by
// a small buffer factor). After each dispatch a drift corrector measures
// the gap to the next queued event and pushes the tail back when a late
// run has eaten into it.
//
// One goroutine (Run) owns dispatching. Insert and Cancel are safe from
// any goroutine and wake the dispatcher when the head of the queue moves.
package sched
