package engine

import (
	"fmt"

	"github.com/streetsim/streetsim_core/internal/agents"
	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/network"
	"github.com/streetsim/streetsim_core/internal/parking"
)

// The engine is the movement models' World: every callback here runs
// inside a single dispatch, so none of it is safe to call concurrently.

func (e *Engine) Net() *network.Network { return e.net }

func (e *Engine) Queue(lane models.LaneID) *agents.LaneQueue {
	q, ok := e.queues[lane]
	if !ok {
		q = agents.NewLaneQueue(lane)
		e.queues[lane] = q
	}
	return q
}

func (e *Engine) AgentByID(id models.AgentID) (*agents.Agent, bool) {
	a, ok := e.agentsByID[id]
	return a, ok
}

func (e *Engine) HeadPos(id models.AgentID, now models.SimTime) float64 {
	a, ok := e.agentsByID[id]
	if !ok {
		return 0
	}
	return a.PosAt(now)
}

// scheduleSlack bounds how far in the past an arrival prediction may land
// and still count as float rounding. Anything older is a modeling bug and
// surfaces as the scheduler's past-event error.
const scheduleSlack = models.SimTime(1000) // 1µs

func (e *Engine) ScheduleUpdate(a *agents.Agent, at models.SimTime) error {
	a.CancelPending()
	// Rounding in arrival predictions can land a hair before now.
	if now := e.clock.Now(); at < now && now-at <= scheduleSlack {
		at = now
	}
	ev, err := e.clock.Schedule(at, agentUpdate{Agent: a.ID})
	if err != nil {
		return err
	}
	a.Pending = ev
	return nil
}

func (e *Engine) WakeAgent(id models.AgentID, now models.SimTime) {
	a, ok := e.agentsByID[id]
	if !ok {
		return
	}
	switch a.Status {
	case models.StatusDone, models.StatusParked:
		return
	}
	if err := e.ScheduleUpdate(a, now); err != nil {
		e.logf("Failed to wake agent %d: %v", id, err)
	}
}

func (e *Engine) LeaveLane(a *agents.Agent, lane models.LaneID, now models.SimTime) {
	q := e.Queue(lane)
	if follower, ok := q.Remove(a.ID); ok {
		e.WakeAgent(follower, now)
	}
	for _, waiter := range q.TakeEntryWaiters() {
		e.WakeAgent(waiter, now)
	}
}

func (e *Engine) RequestTurn(a *agents.Agent, turnID models.TurnID, now models.SimTime) (bool, error) {
	turn, ok := e.net.Turn(turnID)
	if !ok {
		return false, fmt.Errorf("request for unknown turn %d", turnID)
	}
	ctrl, ok := e.ctrls[turn.Intersection]
	if !ok {
		return false, fmt.Errorf("turn %d references unknown intersection %d", turnID, turn.Intersection)
	}
	granted, err := ctrl.RequestTurn(a.ID, turnID, now)
	if err != nil {
		return false, err
	}
	if !granted {
		e.armSignal(turn.Intersection, now)
	}
	return granted, nil
}

func (e *Engine) FinishTurn(a *agents.Agent, turnID models.TurnID, now models.SimTime) error {
	turn, ok := e.net.Turn(turnID)
	if !ok {
		return fmt.Errorf("finish for unknown turn %d", turnID)
	}
	ctrl, ok := e.ctrls[turn.Intersection]
	if !ok {
		return fmt.Errorf("turn %d references unknown intersection %d", turnID, turn.Intersection)
	}
	grants, err := ctrl.TurnFinished(a.ID, turnID, now)
	if err != nil {
		return err
	}
	e.deliver(grants, now)
	return nil
}

func (e *Engine) RequestSpot(a *agents.Agent, origin models.Position, radius int) parking.Result {
	return e.park.Request(a.ID, origin, radius)
}

func (e *Engine) OccupySpot(a *agents.Agent) error {
	return e.park.Occupy(a.Spot, a.ID)
}

func (e *Engine) ReleaseSpot(a *agents.Agent, now models.SimTime) {
	waiters, err := e.park.Release(a.Spot, a.ID)
	if err != nil {
		e.logf("Spot release failed for agent %d: %v", a.ID, err)
	}
	a.Spot = 0
	for _, w := range waiters {
		e.WakeAgent(w, now)
	}
}

func (e *Engine) WaitForParking(a *agents.Agent) {
	e.park.AddWaiter(a.ID)
}

func (e *Engine) Reroute(from, to models.Position, mode models.Mode) (*models.Path, error) {
	return e.planner.Replan(from, to, mode)
}

func (e *Engine) Line(id models.LineID) (models.TransitLine, bool) {
	line, ok := e.lines[id]
	return line, ok
}

func (e *Engine) Registry() *agents.StopRegistry { return e.registry }

func (e *Engine) TripDone(a *agents.Agent, now models.SimTime) {
	a.CancelPending()
	if a.Kind == agents.KindTransitVehicle {
		return
	}
	e.ledger.Complete(a.Trip, now)
}

func (e *Engine) TripFailed(a *agents.Agent, reason models.FailReason, now models.SimTime) {
	a.CancelPending()
	trip, ok := e.tripByID[a.Trip]
	if !ok {
		e.logf("Failure for unknown trip %d (agent %d)", a.Trip, a.ID)
		return
	}
	e.ledger.Fail(trip, reason, now)
}

func (e *Engine) Logf(format string, args ...any) { e.logf(format, args...) }
