package engine

import (
	"github.com/streetsim/streetsim_core/internal/models"
)

// Event payloads. Every scheduled event carries exactly one of these; the
// dispatch loop switches on the concrete type.

type payload interface{ isPayload() }

// agentUpdate is an agent's single outstanding movement event.
type agentUpdate struct {
	Agent models.AgentID `json:"agent"`
}

// tripSpawn introduces one trip at its departure time.
type tripSpawn struct {
	Trip models.TripID `json:"trip"`
}

// vehicleSpawn introduces one transit vehicle run: the Nth departure of a
// line.
type vehicleSpawn struct {
	Line      models.LineID `json:"line"`
	Departure int           `json:"departure"`
}

// signalChange re-evaluates a signal's queue at a phase boundary.
type signalChange struct {
	Intersection models.IntersectionID `json:"intersection"`
}

// gridlockCheck is the periodic stall probe. It only observes; agents are
// never moved by it.
type gridlockCheck struct{}

func (agentUpdate) isPayload()   {}
func (tripSpawn) isPayload()     {}
func (vehicleSpawn) isPayload()  {}
func (signalChange) isPayload()  {}
func (gridlockCheck) isPayload() {}
