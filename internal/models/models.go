package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mode represents the travel mode of an agent
type Mode string

const (
	ModeCar        Mode = "CAR"
	ModeBike       Mode = "BIKE"
	ModePedestrian Mode = "PEDESTRIAN"
	ModeTransit    Mode = "TRANSIT"
)

// AgentStatus represents the lifecycle state of an agent
type AgentStatus string

const (
	StatusSpawning              AgentStatus = "SPAWNING"
	StatusMoving                AgentStatus = "MOVING"
	StatusWaitingAtIntersection AgentStatus = "WAITING_AT_INTERSECTION"
	StatusParking               AgentStatus = "PARKING"
	StatusParked                AgentStatus = "PARKED"
	StatusBoarding              AgentStatus = "BOARDING"
	StatusDone                  AgentStatus = "DONE"
)

// Stable entity identifiers. Cross-entity references use these ids rather
// than pointers so lanes, intersections, and agents can refer to each other
// without ownership cycles.
type (
	AgentID        int64
	TripID         int64
	LaneID         int64
	TurnID         int64
	IntersectionID int64
	SpotID         int64
	LineID         string
)

// SimTime is a duration since the start of the run. It is monotonically
// non-decreasing over the life of a simulation; wall clocks never appear
// in the engine.
type SimTime time.Duration

// FromSeconds converts fractional seconds into a SimTime.
func FromSeconds(s float64) SimTime {
	return SimTime(s * float64(time.Second))
}

// Seconds returns the SimTime as fractional seconds.
func (t SimTime) Seconds() float64 {
	return time.Duration(t).Seconds()
}

func (t SimTime) String() string {
	return time.Duration(t).String()
}

// MarshalJSON encodes a SimTime as fractional seconds so scenario and
// trace files stay human-readable.
func (t SimTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Seconds())
}

// UnmarshalJSON decodes fractional seconds into a SimTime.
func (t *SimTime) UnmarshalJSON(data []byte) error {
	var s float64
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("simtime must be a number of seconds: %w", err)
	}
	*t = FromSeconds(s)
	return nil
}

// Position is a point on the network: a distance along a directed lane.
type Position struct {
	Lane     LaneID  `json:"lane"`
	Distance float64 `json:"distance"`
}

// StepKind distinguishes the two kinds of path steps
type StepKind string

const (
	StepLane StepKind = "LANE"
	StepTurn StepKind = "TURN"
)

// Step is one element of a path: either a lane traversal or a turn
// through an intersection
type Step struct {
	Kind StepKind `json:"kind"`
	Lane LaneID   `json:"lane,omitempty"`
	Turn TurnID   `json:"turn,omitempty"`
}

// Path is the ordered sequence of steps an agent follows. It is produced
// once by the router at spawn time and never mutated afterwards.
type Path struct {
	Mode  Mode   `json:"mode"`
	Steps []Step `json:"steps"`
	// Start bounds the traversal of the first lane step and End the last:
	// the agent enters at Start metres and finishes at End metres.
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	// Length is the total metres covered, FreeFlowTime the unobstructed
	// traversal time. Both are fixed at routing time and feed delay metrics.
	Length       float64 `json:"length"`
	FreeFlowTime SimTime `json:"free_flow_time"`
	// Ride is set on transit rider paths: the line to board and the stop
	// indexes for access and egress.
	Ride *RideLeg `json:"ride,omitempty"`
}

// RideLeg describes the transit portion of a rider's path. The rider walks
// the enclosing path's steps to the board stop, rides the line, then walks
// the egress path from the alight stop.
type RideLeg struct {
	Line       LineID `json:"line"`
	BoardStop  int    `json:"board_stop"`
	AlightStop int    `json:"alight_stop"`
	Egress     *Path  `json:"egress,omitempty"`
}

// TripOutcome is the terminal state of a trip; every trip reaches exactly one.
type TripOutcome string

const (
	OutcomeSuccess TripOutcome = "SUCCESS"
	OutcomeFailure TripOutcome = "FAILURE"
)

// FailReason explains a failed trip.
type FailReason string

const (
	FailNone             FailReason = ""
	FailUnroutable       FailReason = "UNROUTABLE"
	FailParkingExhausted FailReason = "PARKING_EXHAUSTED"
	FailTruncated        FailReason = "TRUNCATED"
)

// Trip is an immutable demand record: one traveler wanting to go from
// origin to destination at a departure time using a mode.
type Trip struct {
	ID          TripID   `json:"id"`
	Origin      Position `json:"origin"`
	Destination Position `json:"destination"`
	Departure   SimTime  `json:"departure"`
	Mode        Mode     `json:"mode"`
}

// TransitStop is one halt on a line. The vehicle pulls up on a driving
// lane while riders wait on an adjacent walkable lane, so a stop carries
// both positions.
type TransitStop struct {
	Vehicle Position `json:"vehicle"`
	Rider   Position `json:"rider"`
}

// TransitLine is a fixed-route service: an ordered stop list plus the
// departure times of its vehicles from the first stop.
type TransitLine struct {
	ID         LineID        `json:"id"`
	Stops      []TransitStop `json:"stops"`
	Departures []SimTime     `json:"departures"`
	Capacity   int           `json:"capacity"`
}

// Scenario is the full input to a run: the demand plus the seed driving
// every stochastic choice. Identical scenarios produce identical traces.
type Scenario struct {
	Name  string        `json:"name"`
	Seed  int64         `json:"seed"`
	Trips []Trip        `json:"trips"`
	Lines []TransitLine `json:"lines,omitempty"`
	// EndTime truncates the run when positive; zero means run to quiescence.
	EndTime SimTime `json:"end_time,omitempty"`
}

// TripRecord is the per-trip output: when it left, when and how it ended,
// and the delay against its free-flow time.
type TripRecord struct {
	TripID    TripID      `json:"trip_id"`
	Mode      Mode        `json:"mode"`
	Departure SimTime     `json:"departure"`
	Completed SimTime     `json:"completed"`
	Duration  SimTime     `json:"duration"`
	FreeFlow  SimTime     `json:"free_flow"`
	Delay     SimTime     `json:"delay"`
	Outcome   TripOutcome `json:"outcome"`
	Reason    FailReason  `json:"reason,omitempty"`
}
