// Package intersection implements per-intersection admission control. Each
// variant arbitrates conflicting turn requests behind one contract; the
// invariant shared by all of them is that the set of in-progress turns is
// always pairwise non-conflicting.
package intersection

import (
	"fmt"

	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/network"
)

// Grant names an agent newly admitted to a turn. The engine converts grants
// into agent wake-up events.
type Grant struct {
	Agent models.AgentID
	Turn  models.TurnID
}

// Controller is the admission contract shared by all variants.
type Controller interface {
	// RequestTurn asks to start a turn now. Granted requests start
	// immediately; everything else is queued and re-evaluated when an
	// in-progress turn finishes or the controller's own state changes.
	RequestTurn(agent models.AgentID, turn models.TurnID, now models.SimTime) (bool, error)

	// TurnFinished retires an in-progress turn and re-evaluates the queue.
	// This is the sole mechanism by which queued agents make progress.
	TurnFinished(agent models.AgentID, turn models.TurnID, now models.SimTime) ([]Grant, error)

	// Reevaluate re-runs admission over the queue without retiring
	// anything; used after self-scheduled changes such as signal phase
	// boundaries.
	Reevaluate(now models.SimTime) ([]Grant, error)

	// NextChange returns the next time the controller's admission answer
	// can change on its own (signal phase boundaries, stop-sign stop
	// expiries). Controllers without autonomous state return false.
	NextChange(now models.SimTime) (models.SimTime, bool)

	// Snapshot and Restore serialize the controller's mutable state.
	Snapshot() State
	Restore(State)
}

// request is one queued admission request, in arrival order.
type request struct {
	Agent   models.AgentID `json:"agent"`
	Turn    models.TurnID  `json:"turn"`
	Arrived models.SimTime `json:"arrived"`
}

// State is the serializable mutable state of any controller variant.
type State struct {
	InProgress map[models.TurnID]models.AgentID `json:"in_progress,omitempty"`
	Queue      []request                        `json:"queue,omitempty"`
}

// admission is the bookkeeping shared by every variant: the in-progress
// set, the waiting queue, and the conflict checks that enforce the safety
// invariant.
type admission struct {
	net        *network.Network
	ix         *network.Intersection
	inProgress map[models.TurnID]models.AgentID
	queue      []request
}

func newAdmission(net *network.Network, ix *network.Intersection) admission {
	return admission{
		net:        net,
		ix:         ix,
		inProgress: make(map[models.TurnID]models.AgentID),
	}
}

// blocked reports whether starting turn now would conflict with any
// in-progress turn.
func (a *admission) blocked(turn models.TurnID) bool {
	if _, busy := a.inProgress[turn]; busy {
		return true
	}
	for active := range a.inProgress {
		if a.net.Conflicting(turn, active) {
			return true
		}
	}
	return false
}

// admit records a grant after a final conflict check. A conflicting grant
// here means a controller bug; the error aborts the run.
func (a *admission) admit(agent models.AgentID, turn models.TurnID) error {
	if a.blocked(turn) {
		return fmt.Errorf("intersection %d: granting turn %d to agent %d conflicts with in-progress set",
			a.ix.ID, turn, agent)
	}
	a.inProgress[turn] = agent
	return nil
}

// retire removes a finished turn from the in-progress set.
func (a *admission) retire(agent models.AgentID, turn models.TurnID) error {
	holder, ok := a.inProgress[turn]
	if !ok || holder != agent {
		return fmt.Errorf("intersection %d: turn %d finished by agent %d but held by agent %d",
			a.ix.ID, turn, agent, holder)
	}
	delete(a.inProgress, turn)
	return nil
}

// enqueue appends a request in arrival order.
func (a *admission) enqueue(agent models.AgentID, turn models.TurnID, now models.SimTime) {
	a.queue = append(a.queue, request{Agent: agent, Turn: turn, Arrived: now})
}

// dequeueAt removes the queue entry at index i.
func (a *admission) dequeueAt(i int) {
	a.queue = append(a.queue[:i], a.queue[i+1:]...)
}

func (a *admission) snapshot() State {
	st := State{}
	if len(a.inProgress) > 0 {
		st.InProgress = make(map[models.TurnID]models.AgentID, len(a.inProgress))
		for t, ag := range a.inProgress {
			st.InProgress[t] = ag
		}
	}
	st.Queue = append(st.Queue, a.queue...)
	return st
}

func (a *admission) restore(st State) {
	a.inProgress = make(map[models.TurnID]models.AgentID, len(st.InProgress))
	for t, ag := range st.InProgress {
		a.inProgress[t] = ag
	}
	a.queue = append([]request(nil), st.Queue...)
}

// New builds the controller variant configured for an intersection.
func New(net *network.Network, ix *network.Intersection) (Controller, error) {
	switch ix.Control {
	case network.ControlUncontrolled:
		return &Uncontrolled{admission: newAdmission(net, ix)}, nil
	case network.ControlStopSign:
		return &StopSign{admission: newAdmission(net, ix)}, nil
	case network.ControlSignal:
		return newSignal(net, ix)
	case network.ControlRoundabout:
		return &Roundabout{admission: newAdmission(net, ix)}, nil
	default:
		return nil, fmt.Errorf("intersection %d: unknown control kind %q", ix.ID, ix.Control)
	}
}
