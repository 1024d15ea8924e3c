// Package network holds the immutable road network a run executes against:
// lanes, turns, intersections, and parking spots. It is loaded once at run
// start and never mutated afterwards, so lookups need no locking.
package network

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/streetsim/streetsim_core/internal/geom"
	"github.com/streetsim/streetsim_core/internal/models"
)

// LaneClass restricts which modes may use a lane.
type LaneClass string

const (
	ClassDriving  LaneClass = "DRIVING"
	ClassBiking   LaneClass = "BIKING"
	ClassSidewalk LaneClass = "SIDEWALK"
)

// ControlKind selects the admission-control variant at an intersection.
type ControlKind string

const (
	ControlUncontrolled ControlKind = "UNCONTROLLED"
	ControlStopSign     ControlKind = "STOP_SIGN"
	ControlSignal       ControlKind = "SIGNAL"
	ControlRoundabout   ControlKind = "ROUNDABOUT"
)

// Lane is a directed network edge with fixed geometry.
type Lane struct {
	ID         models.LaneID         `json:"id"`
	From       models.IntersectionID `json:"from"`
	To         models.IntersectionID `json:"to"`
	Length     float64               `json:"length"`
	SpeedLimit float64               `json:"speed_limit"` // m/s
	Class      LaneClass             `json:"class"`
	Road       string                `json:"road"` // parent road name, used for stop-sign priority
	Polyline   []geom.Pt             `json:"polyline,omitempty"`
}

// Turn is a directed movement through an intersection connecting an
// incoming lane to an outgoing lane.
type Turn struct {
	ID           models.TurnID         `json:"id"`
	Intersection models.IntersectionID `json:"intersection"`
	From         models.LaneID         `json:"from"`
	To           models.LaneID         `json:"to"`
	Length       float64               `json:"length"`
	Polyline     []geom.Pt             `json:"polyline,omitempty"`
	// Circulating marks ring movements inside a roundabout; they take
	// unconditional priority over entering turns.
	Circulating bool `json:"circulating,omitempty"`
	// Conflicts is the static set of turns that may not be in progress at
	// the same time as this one. Computed once at load and invariant for
	// the run.
	Conflicts []models.TurnID `json:"-"`
}

// Phase is one step of a signal cycle: the turns it allows and how long
// it lasts.
type Phase struct {
	Turns    []models.TurnID `json:"turns"`
	Duration models.SimTime  `json:"duration"`
}

// Intersection groups the turns through a junction under one controller.
type Intersection struct {
	ID      models.IntersectionID `json:"id"`
	Control ControlKind           `json:"control"`
	Turns   []models.TurnID       `json:"turns"`
	// RoadPriority breaks ties between simultaneously-ready stop-sign
	// approaches; higher wins. Configured at map build time.
	RoadPriority map[string]int `json:"road_priority,omitempty"`
	// Signal configuration.
	Phases []Phase        `json:"phases,omitempty"`
	AllRed models.SimTime `json:"all_red,omitempty"`
}

// ParkingSpot is an exclusive parking place on a lane.
type ParkingSpot struct {
	ID     models.SpotID `json:"id"`
	Lane   models.LaneID `json:"lane"`
	Offset float64       `json:"offset"` // metres along the lane
}

// Definition is the JSON shape of a network file.
type Definition struct {
	Name          string         `json:"name"`
	Lanes         []Lane         `json:"lanes"`
	Turns         []Turn         `json:"turns"`
	Intersections []Intersection `json:"intersections"`
	Spots         []ParkingSpot  `json:"spots,omitempty"`
}

// Network is the validated, indexed road network.
type Network struct {
	Name          string
	Lanes         map[models.LaneID]*Lane
	Turns         map[models.TurnID]*Turn
	Intersections map[models.IntersectionID]*Intersection
	Spots         map[models.SpotID]*ParkingSpot

	turnsFromLane map[models.LaneID][]models.TurnID
	spotsByLane   map[models.LaneID][]models.SpotID
}

// New validates a definition, derives missing lengths from geometry,
// computes turn conflict sets, and returns the indexed network.
func New(def Definition) (*Network, error) {
	n := &Network{
		Name:          def.Name,
		Lanes:         make(map[models.LaneID]*Lane, len(def.Lanes)),
		Turns:         make(map[models.TurnID]*Turn, len(def.Turns)),
		Intersections: make(map[models.IntersectionID]*Intersection, len(def.Intersections)),
		Spots:         make(map[models.SpotID]*ParkingSpot, len(def.Spots)),
		turnsFromLane: make(map[models.LaneID][]models.TurnID),
		spotsByLane:   make(map[models.LaneID][]models.SpotID),
	}

	for i := range def.Intersections {
		ix := def.Intersections[i]
		if _, dup := n.Intersections[ix.ID]; dup {
			return nil, fmt.Errorf("duplicate intersection id %d", ix.ID)
		}
		if ix.Control == "" {
			ix.Control = ControlUncontrolled
		}
		if ix.Control == ControlSignal && len(ix.Phases) == 0 {
			return nil, fmt.Errorf("intersection %d: signal control requires phases", ix.ID)
		}
		n.Intersections[ix.ID] = &ix
	}

	for i := range def.Lanes {
		lane := def.Lanes[i]
		if _, dup := n.Lanes[lane.ID]; dup {
			return nil, fmt.Errorf("duplicate lane id %d", lane.ID)
		}
		if lane.Length <= 0 {
			lane.Length = geom.PolylineLength(lane.Polyline)
		}
		if lane.Length <= 0 {
			return nil, fmt.Errorf("lane %d: no length and no geometry", lane.ID)
		}
		if lane.SpeedLimit <= 0 {
			return nil, fmt.Errorf("lane %d: speed limit must be positive", lane.ID)
		}
		if lane.Class == "" {
			lane.Class = ClassDriving
		}
		n.Lanes[lane.ID] = &lane
	}

	for i := range def.Turns {
		turn := def.Turns[i]
		if _, dup := n.Turns[turn.ID]; dup {
			return nil, fmt.Errorf("duplicate turn id %d", turn.ID)
		}
		if _, ok := n.Lanes[turn.From]; !ok {
			return nil, fmt.Errorf("turn %d: unknown incoming lane %d", turn.ID, turn.From)
		}
		if _, ok := n.Lanes[turn.To]; !ok {
			return nil, fmt.Errorf("turn %d: unknown outgoing lane %d", turn.ID, turn.To)
		}
		if _, ok := n.Intersections[turn.Intersection]; !ok {
			return nil, fmt.Errorf("turn %d: unknown intersection %d", turn.ID, turn.Intersection)
		}
		if turn.Length <= 0 {
			turn.Length = geom.PolylineLength(turn.Polyline)
		}
		if turn.Length <= 0 {
			turn.Length = 1 // point turns still take a moment to clear
		}
		n.Turns[turn.ID] = &turn
		n.turnsFromLane[turn.From] = append(n.turnsFromLane[turn.From], turn.ID)
	}

	for _, ix := range n.Intersections {
		for _, tid := range ix.Turns {
			turn, ok := n.Turns[tid]
			if !ok {
				return nil, fmt.Errorf("intersection %d: unknown turn %d", ix.ID, tid)
			}
			if turn.Intersection != ix.ID {
				return nil, fmt.Errorf("intersection %d: turn %d belongs to intersection %d", ix.ID, tid, turn.Intersection)
			}
		}
	}

	for i := range def.Spots {
		spot := def.Spots[i]
		if _, dup := n.Spots[spot.ID]; dup {
			return nil, fmt.Errorf("duplicate parking spot id %d", spot.ID)
		}
		lane, ok := n.Lanes[spot.Lane]
		if !ok {
			return nil, fmt.Errorf("spot %d: unknown lane %d", spot.ID, spot.Lane)
		}
		if spot.Offset < 0 || spot.Offset > lane.Length {
			return nil, fmt.Errorf("spot %d: offset %.1f outside lane %d (length %.1f)", spot.ID, spot.Offset, spot.Lane, lane.Length)
		}
		n.Spots[spot.ID] = &spot
		n.spotsByLane[spot.Lane] = append(n.spotsByLane[spot.Lane], spot.ID)
	}

	n.computeConflicts()
	return n, nil
}

// LoadFile reads and validates a network definition from a JSON file.
func LoadFile(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading network file: %w", err)
	}
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing network file: %w", err)
	}
	net, err := New(def)
	if err != nil {
		return nil, fmt.Errorf("validating network %q: %w", def.Name, err)
	}
	return net, nil
}

// computeConflicts derives each turn's static conflict set: two turns
// through the same intersection conflict when they share an outgoing lane
// or their geometries cross. Turns from the same incoming lane are already
// serialized by the lane queue and are not marked.
func (n *Network) computeConflicts() {
	for _, ix := range n.Intersections {
		for i := 0; i < len(ix.Turns); i++ {
			for j := i + 1; j < len(ix.Turns); j++ {
				a := n.Turns[ix.Turns[i]]
				b := n.Turns[ix.Turns[j]]
				if a.From == b.From {
					continue
				}
				if a.To == b.To || turnsMayCross(a, b) {
					a.Conflicts = append(a.Conflicts, b.ID)
					b.Conflicts = append(b.Conflicts, a.ID)
				}
			}
		}
	}
}

// turnsMayCross reports whether two turn movements can occupy the same
// space. Without geometry on both sides there is nothing proving the
// movements disjoint, so they are conservatively treated as crossing.
func turnsMayCross(a, b *Turn) bool {
	if len(a.Polyline) < 2 || len(b.Polyline) < 2 {
		return true
	}
	return geom.PolylinesCross(a.Polyline, b.Polyline)
}

// Lane returns a lane by id.
func (n *Network) Lane(id models.LaneID) (*Lane, bool) {
	lane, ok := n.Lanes[id]
	return lane, ok
}

// Turn returns a turn by id.
func (n *Network) Turn(id models.TurnID) (*Turn, bool) {
	turn, ok := n.Turns[id]
	return turn, ok
}

// Intersection returns an intersection by id.
func (n *Network) Intersection(id models.IntersectionID) (*Intersection, bool) {
	ix, ok := n.Intersections[id]
	return ix, ok
}

// TurnsFrom returns the turns leaving a lane.
func (n *Network) TurnsFrom(lane models.LaneID) []models.TurnID {
	return n.turnsFromLane[lane]
}

// SpotsOn returns the parking spots on a lane.
func (n *Network) SpotsOn(lane models.LaneID) []models.SpotID {
	return n.spotsByLane[lane]
}

// Conflicting reports whether two turns may not be in progress together.
func (n *Network) Conflicting(a, b models.TurnID) bool {
	turn, ok := n.Turns[a]
	if !ok {
		return false
	}
	for _, c := range turn.Conflicts {
		if c == b {
			return true
		}
	}
	return false
}

// PositionOf returns the point and heading of a position on a lane. Pure
// geometry; lanes without polylines report the zero point.
func (n *Network) PositionOf(pos models.Position) (geom.Pt, float64) {
	lane, ok := n.Lanes[pos.Lane]
	if !ok {
		return geom.Pt{}, 0
	}
	return geom.PositionAt(lane.Polyline, pos.Distance)
}
