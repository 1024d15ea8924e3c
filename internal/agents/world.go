package agents

import (
	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/network"
	"github.com/streetsim/streetsim_core/internal/parking"
)

// World is everything a movement model may touch while handling an event.
// The engine implements it; handlers run one at a time, so implementations
// need no locking.
type World interface {
	Net() *network.Network
	Queue(lane models.LaneID) *LaneQueue
	AgentByID(id models.AgentID) (*Agent, bool)

	// HeadPos returns an agent's head position along its current step at
	// time now.
	HeadPos(id models.AgentID, now models.SimTime) float64

	// ScheduleUpdate cancels the agent's outstanding event, if any, and
	// schedules its next one. The agent holds at most one at a time.
	ScheduleUpdate(a *Agent, at models.SimTime) error

	// WakeAgent schedules an immediate re-evaluation for another agent,
	// used when this handler changed a condition the other agent's
	// prediction depended on.
	WakeAgent(id models.AgentID, now models.SimTime)

	// LeaveLane removes the agent from a lane queue and wakes its
	// follower and any entry waiters.
	LeaveLane(a *Agent, lane models.LaneID, now models.SimTime)

	RequestTurn(a *Agent, turn models.TurnID, now models.SimTime) (bool, error)
	FinishTurn(a *Agent, turn models.TurnID, now models.SimTime) error

	RequestSpot(a *Agent, origin models.Position, radius int) parking.Result
	OccupySpot(a *Agent) error
	ReleaseSpot(a *Agent, now models.SimTime)
	WaitForParking(a *Agent)

	// Reroute asks the routing collaborator for a parking approach leg.
	Reroute(from, to models.Position, mode models.Mode) (*models.Path, error)

	Line(id models.LineID) (models.TransitLine, bool)
	Registry() *StopRegistry

	TripDone(a *Agent, now models.SimTime)
	TripFailed(a *Agent, reason models.FailReason, now models.SimTime)

	Logf(format string, args ...any)
}
