// Package agents implements the per-mode movement models: the state
// machines that move cars, bikes, pedestrians, and transit vehicles along
// their paths. The engine is event-driven: each agent has at most one
// outstanding scheduled event, recomputed whenever a relevant condition
// changes, rather than being stepped on a fixed clock tick.
package agents

import (
	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/sched"
)

// Kind separates ordinary travelers from transit vehicles, which follow a
// line rather than a single trip.
type Kind string

const (
	KindTraveler       Kind = "TRAVELER"
	KindTransitVehicle Kind = "TRANSIT_VEHICLE"
)

// Agent is one simulated traveler or transit vehicle. All mutable fields
// are owned by the single active event handler; nothing here is shared
// across goroutines.
type Agent struct {
	ID   models.AgentID
	Trip models.TripID
	Mode models.Mode
	Kind Kind

	Path      *models.Path
	StepIndex int

	// Kinematic state: the agent's head was at Dist metres along the
	// current step at UpdatedAt, moving at Speed m/s. Positions between
	// events are linear extrapolations of this triple.
	Dist      float64
	Speed     float64
	UpdatedAt models.SimTime

	Status models.AgentStatus

	// Pending is the agent's single outstanding event handle, if any.
	// A state change that invalidates the prediction cancels it and
	// schedules a replacement.
	Pending *sched.Event

	// Granted is set by the engine when an intersection controller admits
	// the agent's queued turn, consumed on the next wake-up.
	Granted bool

	// Parking state. ParkSearching marks a car past its path end that is
	// circling for a spot; Spot is its current reservation, if any.
	ParkSearching bool
	Spot          models.SpotID
	SearchRadius  int
	ParkRetries   int

	// Transit vehicle state.
	Line     models.LineID
	Legs     []*models.Path
	LegIndex int
	Riders   []models.AgentID
	Capacity int

	// Transit rider state. RodeVehicle distinguishes the egress walk from
	// the access walk once the rider is back on foot.
	Ride        *models.RideLeg
	OnVehicle   models.AgentID
	RodeVehicle bool
}

// PosAt returns the head position along the current step at time now,
// clamped below by the last update.
func (a *Agent) PosAt(now models.SimTime) float64 {
	if now <= a.UpdatedAt || a.Speed <= 0 {
		return a.Dist
	}
	return a.Dist + a.Speed*(now-a.UpdatedAt).Seconds()
}

// SetKinematics fixes a new (position, speed) at now, the anchor for
// future extrapolation.
func (a *Agent) SetKinematics(now models.SimTime, pos, speed float64) {
	a.Dist = pos
	a.Speed = speed
	a.UpdatedAt = now
}

// CurrentStep returns the step the agent is on, or false past the end.
func (a *Agent) CurrentStep() (models.Step, bool) {
	if a.Path == nil || a.StepIndex >= len(a.Path.Steps) {
		return models.Step{}, false
	}
	return a.Path.Steps[a.StepIndex], true
}

// OnFinalStep reports whether the agent is traversing its last step.
func (a *Agent) OnFinalStep() bool {
	return a.Path != nil && a.StepIndex == len(a.Path.Steps)-1
}

// CancelPending marks the agent's outstanding event inert, if any.
func (a *Agent) CancelPending() {
	if a.Pending != nil {
		a.Pending.Cancel()
		a.Pending = nil
	}
}

// Footprint returns the metres of lane the agent occupies, vehicle length
// plus minimum following gap.
func (a *Agent) Footprint() float64 {
	return FootprintFor(a.Mode, a.Kind)
}

// FootprintFor returns the occupied interval length for a mode.
func FootprintFor(mode models.Mode, kind Kind) float64 {
	if kind == KindTransitVehicle {
		return 14.0 // articulated bus plus gap
	}
	switch mode {
	case models.ModeCar:
		return 6.5 // 4.5 m vehicle + 2 m gap
	case models.ModeBike:
		return 2.5
	case models.ModePedestrian, models.ModeTransit:
		return 0.5
	default:
		return 6.5
	}
}
