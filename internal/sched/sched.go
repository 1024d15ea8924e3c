// Package sched implements the time-ordered event queue driving the
// simulation. It is a pure priority structure: it knows nothing about
// agents, lanes, or trips, only about (time, sequence) ordering.
package sched

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"

	"github.com/streetsim/streetsim_core/internal/models"
)

// ErrEmpty signals that no pending events remain; it terminates the run.
var ErrEmpty = errors.New("sched: no pending events")

// PastEventError reports an attempt to schedule an event before the current
// simulated time. It always indicates a modeling bug upstream and is never
// clamped away.
type PastEventError struct {
	At  models.SimTime
	Now models.SimTime
}

func (e *PastEventError) Error() string {
	return fmt.Sprintf("sched: event scheduled at %s, before current time %s", e.At, e.Now)
}

// Event is a single scheduled occurrence. It is owned by the scheduler until
// popped and is single-use: the next occurrence of the same logical thing is
// always a fresh Event. Cancellation marks the event inert; inert events are
// skipped cheaply on pop.
type Event struct {
	Time    models.SimTime
	Payload any

	seq   uint64
	inert bool
	index int
	owner *Scheduler
}

// Seq returns the insertion sequence number, the tie-break half of the
// ordering key.
func (e *Event) Seq() uint64 { return e.seq }

// Canceled reports whether the event has been marked inert.
func (e *Event) Canceled() bool { return e.inert }

// Cancel marks the event inert. Safe to call more than once.
func (e *Event) Cancel() {
	if e.inert {
		return
	}
	e.inert = true
	if e.owner != nil {
		e.owner.active--
	}
}

// Scheduler is the time-ordered event queue. Not safe for concurrent use;
// the engine runs a single handler at a time by construction.
type Scheduler struct {
	q      eventHeap
	now    models.SimTime
	seq    uint64
	active int
}

// New returns an empty scheduler at time zero.
func New() *Scheduler {
	s := &Scheduler{}
	heap.Init(&s.q)
	return s
}

// Now returns the current simulated time: the time of the last popped event.
func (s *Scheduler) Now() models.SimTime { return s.now }

// Len returns the number of pending, non-inert events.
func (s *Scheduler) Len() int { return s.active }

// Schedule inserts an event at time t and returns its handle. Scheduling
// before the current time fails with a PastEventError.
func (s *Scheduler) Schedule(t models.SimTime, payload any) (*Event, error) {
	if t < s.now {
		return nil, &PastEventError{At: t, Now: s.now}
	}
	e := &Event{Time: t, Payload: payload, seq: s.seq, owner: s}
	s.seq++
	s.active++
	heap.Push(&s.q, e)
	return e, nil
}

// Pop removes and returns the pending event with the smallest
// (time, sequence) key, advancing the clock to its time. Inert events are
// discarded silently. Returns ErrEmpty when nothing remains.
func (s *Scheduler) Pop() (*Event, error) {
	for s.q.Len() > 0 {
		e := heap.Pop(&s.q).(*Event)
		if e.inert {
			continue
		}
		s.active--
		s.now = e.Time
		return e, nil
	}
	return nil, ErrEmpty
}

// PeekTime returns the time of the next non-inert event without popping it.
func (s *Scheduler) PeekTime() (models.SimTime, bool) {
	for s.q.Len() > 0 {
		e := s.q[0]
		if !e.inert {
			return e.Time, true
		}
		heap.Pop(&s.q)
	}
	return 0, false
}

// Pending returns the non-inert events in processing order. Used for
// snapshots; the returned slice is a copy.
func (s *Scheduler) Pending() []*Event {
	out := make([]*Event, 0, s.active)
	for _, e := range s.q {
		if !e.inert {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Restorable is one pending event as captured in a snapshot.
type Restorable struct {
	Time    models.SimTime
	Seq     uint64
	Payload any
}

// Restore rebuilds scheduler state from a snapshot: the clock, the next
// sequence number, and the pending events in their original order.
func (s *Scheduler) Restore(now models.SimTime, nextSeq uint64, events []Restorable) {
	s.q = s.q[:0]
	s.now = now
	s.seq = nextSeq
	s.active = 0
	for _, ev := range events {
		e := &Event{Time: ev.Time, Payload: ev.Payload, seq: ev.Seq, owner: s}
		s.active++
		heap.Push(&s.q, e)
	}
}

// NextSeq returns the sequence number the next scheduled event will get.
func (s *Scheduler) NextSeq() uint64 { return s.seq }

// eventHeap orders events by (time, sequence); the sequence half makes the
// ordering total and deterministic across runs.
type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].Time != h[j].Time {
		return h[i].Time < h[j].Time
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x interface{}) {
	e := x.(*Event)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[0 : n-1]
	return e
}
