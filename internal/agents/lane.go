package agents

import (
	"fmt"

	"github.com/streetsim/streetsim_core/internal/models"
)

// occupant pairs an agent with the metres of lane it occupies.
type occupant struct {
	ID        models.AgentID
	Footprint float64
}

// LaneQueue is the mutable per-lane occupancy state: the agents present,
// ordered front-to-back by head position. The structural invariant is that
// no two occupied intervals overlap; a violation means a movement-model bug
// and is fatal to the run.
type LaneQueue struct {
	Lane      models.LaneID
	occupants []occupant
	// entryWaiters are agents holding at the end of a turn because the
	// queue had no room; woken when space may have opened.
	entryWaiters []models.AgentID
}

// NewLaneQueue returns an empty queue for a lane.
func NewLaneQueue(lane models.LaneID) *LaneQueue {
	return &LaneQueue{Lane: lane}
}

// Occupants returns the agent ids front-to-back.
func (q *LaneQueue) Occupants() []models.AgentID {
	ids := make([]models.AgentID, len(q.occupants))
	for i, o := range q.occupants {
		ids[i] = o.ID
	}
	return ids
}

// Len returns the occupant count.
func (q *LaneQueue) Len() int { return len(q.occupants) }

// LeaderOf returns the agent immediately ahead of the given one, or false
// when the agent leads the lane.
func (q *LaneQueue) LeaderOf(agent models.AgentID) (models.AgentID, bool) {
	for i, o := range q.occupants {
		if o.ID == agent {
			if i == 0 {
				return 0, false
			}
			return q.occupants[i-1].ID, true
		}
	}
	return 0, false
}

// FollowerOf returns the agent immediately behind the given one.
func (q *LaneQueue) FollowerOf(agent models.AgentID) (models.AgentID, bool) {
	for i, o := range q.occupants {
		if o.ID == agent {
			if i == len(q.occupants)-1 {
				return 0, false
			}
			return q.occupants[i+1].ID, true
		}
	}
	return 0, false
}

// Tail returns the rearmost occupant.
func (q *LaneQueue) Tail() (models.AgentID, bool) {
	if len(q.occupants) == 0 {
		return 0, false
	}
	return q.occupants[len(q.occupants)-1].ID, true
}

// FootprintOf returns the occupied length of an agent on this lane.
func (q *LaneQueue) FootprintOf(agent models.AgentID) float64 {
	for _, o := range q.occupants {
		if o.ID == agent {
			return o.Footprint
		}
	}
	return 0
}

// CanEnter reports whether a new occupant of the given footprint fits at
// the lane entrance at time now. positions returns the head position of an
// occupant at now. An entrant's head sits at its footprint when it enters,
// so the tail's rear must lie beyond that.
func (q *LaneQueue) CanEnter(footprint float64, now models.SimTime, positions func(models.AgentID) float64) bool {
	if len(q.occupants) == 0 {
		return true
	}
	tail := q.occupants[len(q.occupants)-1]
	return positions(tail.ID)-tail.Footprint >= footprint
}

// Enter appends an agent at the rear of the lane with its head at headPos.
// Overlapping the tail is a structural invariant violation.
func (q *LaneQueue) Enter(agent models.AgentID, footprint, headPos float64, now models.SimTime, positions func(models.AgentID) float64) error {
	if len(q.occupants) > 0 {
		tail := q.occupants[len(q.occupants)-1]
		tailRear := positions(tail.ID) - tail.Footprint
		if headPos > tailRear+1e-9 {
			return fmt.Errorf("lane %d: agent %d entering at %.2f overlaps agent %d (rear %.2f)",
				q.Lane, agent, headPos, tail.ID, tailRear)
		}
	}
	q.occupants = append(q.occupants, occupant{ID: agent, Footprint: footprint})
	return nil
}

// Insert places an agent by head position, used for mid-lane spawns. Fails
// if the occupied interval would overlap a neighbor; the caller retries
// later rather than teleporting anyone.
func (q *LaneQueue) Insert(agent models.AgentID, footprint, headPos float64, now models.SimTime, positions func(models.AgentID) float64) error {
	idx := len(q.occupants)
	for i, o := range q.occupants {
		if positions(o.ID) < headPos {
			idx = i
			break
		}
	}
	if idx > 0 {
		ahead := q.occupants[idx-1]
		if headPos > positions(ahead.ID)-ahead.Footprint+1e-9 {
			return fmt.Errorf("lane %d: agent %d at %.2f overlaps leader %d", q.Lane, agent, headPos, ahead.ID)
		}
	}
	if idx < len(q.occupants) {
		behind := q.occupants[idx]
		if positions(behind.ID) > headPos-footprint+1e-9 {
			return fmt.Errorf("lane %d: agent %d at %.2f overlaps follower %d", q.Lane, agent, headPos, behind.ID)
		}
	}
	q.occupants = append(q.occupants, occupant{})
	copy(q.occupants[idx+1:], q.occupants[idx:])
	q.occupants[idx] = occupant{ID: agent, Footprint: footprint}
	return nil
}

// Remove takes an agent out of the lane and returns the follower that may
// now advance, if any.
func (q *LaneQueue) Remove(agent models.AgentID) (models.AgentID, bool) {
	for i, o := range q.occupants {
		if o.ID == agent {
			var follower models.AgentID
			hasFollower := i+1 < len(q.occupants)
			if hasFollower {
				follower = q.occupants[i+1].ID
			}
			q.occupants = append(q.occupants[:i], q.occupants[i+1:]...)
			return follower, hasFollower
		}
	}
	return 0, false
}

// AddEntryWaiter registers an agent stalled at a turn exit waiting for
// room on this lane.
func (q *LaneQueue) AddEntryWaiter(agent models.AgentID) {
	q.entryWaiters = append(q.entryWaiters, agent)
}

// TakeEntryWaiters drains and returns the waiting entrants in FIFO order.
func (q *LaneQueue) TakeEntryWaiters() []models.AgentID {
	w := q.entryWaiters
	q.entryWaiters = nil
	return w
}

// EntryWaiters returns the waiting entrants without draining, for snapshots.
func (q *LaneQueue) EntryWaiters() []models.AgentID {
	return append([]models.AgentID(nil), q.entryWaiters...)
}

// CheckNoOverlap verifies the structural invariant at time now, returning
// an error naming the offending pair.
func (q *LaneQueue) CheckNoOverlap(now models.SimTime, positions func(models.AgentID) float64) error {
	for i := 1; i < len(q.occupants); i++ {
		ahead := q.occupants[i-1]
		behind := q.occupants[i]
		rear := positions(ahead.ID) - ahead.Footprint
		if positions(behind.ID) > rear+1e-9 {
			return fmt.Errorf("lane %d: occupied intervals overlap: agent %d head %.3f > agent %d rear %.3f",
				q.Lane, behind.ID, positions(behind.ID), ahead.ID, rear)
		}
	}
	return nil
}

// RestoreOccupants replaces the queue contents from a snapshot.
func (q *LaneQueue) RestoreOccupants(ids []models.AgentID, footprintFor func(models.AgentID) float64, waiters []models.AgentID) {
	q.occupants = q.occupants[:0]
	for _, id := range ids {
		q.occupants = append(q.occupants, occupant{ID: id, Footprint: footprintFor(id)})
	}
	q.entryWaiters = append([]models.AgentID(nil), waiters...)
}
