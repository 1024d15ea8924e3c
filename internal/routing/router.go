// Package routing is the path-finding collaborator consumed by the engine.
// It computes an immutable Path for an agent once at spawn time; the engine
// treats it as an opaque function from (origin, destination, mode) to a
// path or a miss.
package routing

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"

	"github.com/streetsim/streetsim_core/internal/geom"
	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/network"
)

const maxExploredLanes = 50000

// ErrNoPath reports that no route exists between the requested endpoints
// for the requested mode.
var ErrNoPath = errors.New("routing: no path found")

// Router computes paths over the lane/turn graph.
type Router struct {
	net *network.Network
}

// NewRouter creates a router over a network.
func NewRouter(net *network.Network) *Router {
	return &Router{net: net}
}

// FindPath finds a route from origin to destination for the given mode
// using A* over lanes, with turns as edges. The result is deterministic:
// heap ties are broken by insertion order.
func (r *Router) FindPath(origin, destination models.Position, mode models.Mode) (*models.Path, error) {
	return r.findPath(origin, destination, GetStrategy(mode), mode)
}

// FindVehiclePath routes a transit vehicle between consecutive stops.
func (r *Router) FindVehiclePath(origin, destination models.Position) (*models.Path, error) {
	return r.findPath(origin, destination, GetVehicleStrategy(), models.ModeTransit)
}

func (r *Router) findPath(origin, destination models.Position, strategy Strategy, mode models.Mode) (*models.Path, error) {
	startLane, ok := r.net.Lane(origin.Lane)
	if !ok {
		return nil, fmt.Errorf("routing: unknown origin lane %d", origin.Lane)
	}
	goalLane, ok := r.net.Lane(destination.Lane)
	if !ok {
		return nil, fmt.Errorf("routing: unknown destination lane %d", destination.Lane)
	}
	if strategy.EffectiveSpeed(startLane) <= 0 {
		return nil, fmt.Errorf("routing: %s cannot start on lane %d: %w", strategy.Name(), origin.Lane, ErrNoPath)
	}
	if strategy.EffectiveSpeed(goalLane) <= 0 {
		return nil, fmt.Errorf("routing: %s cannot end on lane %d: %w", strategy.Name(), destination.Lane, ErrNoPath)
	}

	// Same lane, forward direction: a single-step path.
	if origin.Lane == destination.Lane && destination.Distance >= origin.Distance {
		return r.buildPath([]models.Step{{Kind: models.StepLane, Lane: origin.Lane}}, origin, destination, strategy, mode)
	}

	goalPt, _ := r.net.PositionOf(destination)

	openSet := &pathQueue{}
	heap.Init(openSet)

	best := make(map[models.LaneID]float64)

	start := &searchState{
		lane:  origin.Lane,
		steps: []models.Step{{Kind: models.StepLane, Lane: origin.Lane}},
		g:     (startLane.Length - origin.Distance) / strategy.EffectiveSpeed(startLane),
	}
	start.f = start.g + r.heuristic(origin.Lane, goalPt, strategy)
	heap.Push(openSet, start)
	best[origin.Lane] = start.g

	explored := 0
	for openSet.Len() > 0 {
		if explored > maxExploredLanes {
			return nil, fmt.Errorf("routing: explored %d lanes without reaching goal: %w", explored, ErrNoPath)
		}
		current := heap.Pop(openSet).(*searchState)
		explored++

		if current.lane == destination.Lane && len(current.steps) > 1 {
			return r.buildPath(current.steps, origin, destination, strategy, mode)
		}

		for _, tid := range r.net.TurnsFrom(current.lane) {
			turn, _ := r.net.Turn(tid)
			next, _ := r.net.Lane(turn.To)
			speed := strategy.EffectiveSpeed(next)
			if speed <= 0 {
				continue
			}

			g := current.g + turn.Length/speed + next.Length/speed
			if prev, seen := best[turn.To]; seen && g >= prev {
				continue
			}
			best[turn.To] = g

			steps := make([]models.Step, 0, len(current.steps)+2)
			steps = append(steps, current.steps...)
			steps = append(steps,
				models.Step{Kind: models.StepTurn, Turn: tid},
				models.Step{Kind: models.StepLane, Lane: turn.To},
			)
			state := &searchState{
				lane:  turn.To,
				steps: steps,
				g:     g,
			}
			state.f = g + r.heuristic(turn.To, goalPt, strategy)
			heap.Push(openSet, state)
		}
	}

	return nil, fmt.Errorf("routing: explored %d lanes: %w", explored, ErrNoPath)
}

// heuristic estimates remaining time: straight-line distance from the end
// of a lane to the goal at the mode's top speed. Lanes without geometry get
// a zero heuristic, degrading that part of the search to Dijkstra.
func (r *Router) heuristic(lane models.LaneID, goal geom.Pt, strategy Strategy) float64 {
	l, ok := r.net.Lane(lane)
	if !ok || len(l.Polyline) == 0 {
		return 0
	}
	end, _ := geom.PositionAt(l.Polyline, l.Length)
	return geom.Dist(end, goal) / strategy.MaxSpeed()
}

// buildPath assembles the immutable Path: step list, bounds, total length,
// and free-flow time.
func (r *Router) buildPath(steps []models.Step, origin, destination models.Position, strategy Strategy, mode models.Mode) (*models.Path, error) {
	path := &models.Path{
		Mode:  mode,
		Steps: steps,
		Start: origin.Distance,
		End:   destination.Distance,
	}

	var length, freeFlow float64
	for i, step := range steps {
		switch step.Kind {
		case models.StepLane:
			lane, ok := r.net.Lane(step.Lane)
			if !ok {
				return nil, fmt.Errorf("routing: path references unknown lane %d", step.Lane)
			}
			from, to := 0.0, lane.Length
			if i == 0 {
				from = origin.Distance
			}
			if i == len(steps)-1 {
				to = destination.Distance
			}
			if to < from {
				return nil, fmt.Errorf("routing: inverted traversal on lane %d", step.Lane)
			}
			length += to - from
			freeFlow += (to - from) / strategy.EffectiveSpeed(lane)
		case models.StepTurn:
			turn, ok := r.net.Turn(step.Turn)
			if !ok {
				return nil, fmt.Errorf("routing: path references unknown turn %d", step.Turn)
			}
			length += turn.Length
			freeFlow += turn.Length / strategy.MaxSpeed()
		}
	}
	path.Length = length
	path.FreeFlowTime = models.FromSeconds(freeFlow)
	return path, nil
}

// FindTransitPath assembles a rider path: walk to a board stop on a line
// that also serves a stop near the destination, ride, then walk from the
// alight stop. Lines are considered in id order so the choice never depends
// on map iteration order. Only direct (no transfer) rides are considered.
func (r *Router) FindTransitPath(origin, destination models.Position, lines []models.TransitLine) (*models.Path, error) {
	sorted := make([]models.TransitLine, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	originPt, _ := r.net.PositionOf(origin)
	destPt, _ := r.net.PositionOf(destination)

	type candidate struct {
		line          models.TransitLine
		board, alight int
		walk          float64
	}
	var bestCand *candidate
	for _, line := range sorted {
		board, alight := -1, -1
		bestAccess, bestEgress := 0.0, 0.0
		for i, stop := range line.Stops {
			pt, _ := r.net.PositionOf(stop.Rider)
			access := geom.Dist(originPt, pt)
			egress := geom.Dist(destPt, pt)
			if board == -1 || access < bestAccess {
				board, bestAccess = i, access
			}
			if alight == -1 || egress < bestEgress {
				alight, bestEgress = i, egress
			}
		}
		if board < 0 || alight <= board {
			continue // line runs the wrong way for this trip
		}
		walk := bestAccess + bestEgress
		if bestCand == nil || walk < bestCand.walk {
			bestCand = &candidate{line: line, board: board, alight: alight, walk: walk}
		}
	}
	if bestCand == nil {
		return nil, fmt.Errorf("routing: no transit line serves this trip: %w", ErrNoPath)
	}

	access, err := r.FindPath(origin, bestCand.line.Stops[bestCand.board].Rider, models.ModePedestrian)
	if err != nil {
		return nil, fmt.Errorf("routing: access walk: %w", err)
	}
	egress, err := r.FindPath(bestCand.line.Stops[bestCand.alight].Rider, destination, models.ModePedestrian)
	if err != nil {
		return nil, fmt.Errorf("routing: egress walk: %w", err)
	}

	access.Mode = models.ModeTransit
	access.Ride = &models.RideLeg{
		Line:       bestCand.line.ID,
		BoardStop:  bestCand.board,
		AlightStop: bestCand.alight,
		Egress:     egress,
	}
	return access, nil
}

// searchState is a partial path during A* search
type searchState struct {
	lane  models.LaneID
	steps []models.Step
	g     float64 // seconds from origin
	f     float64 // g + heuristic
	seq   int     // insertion order, the deterministic tie-break
	index int     // for heap
}

// pathQueue implements heap.Interface for the A* open set
type pathQueue struct {
	items []*searchState
	next  int
}

func (pq *pathQueue) Len() int { return len(pq.items) }

func (pq *pathQueue) Less(i, j int) bool {
	if pq.items[i].f != pq.items[j].f {
		return pq.items[i].f < pq.items[j].f
	}
	return pq.items[i].seq < pq.items[j].seq
}

func (pq *pathQueue) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
	pq.items[i].index = i
	pq.items[j].index = j
}

func (pq *pathQueue) Push(x interface{}) {
	state := x.(*searchState)
	state.index = len(pq.items)
	state.seq = pq.next
	pq.next++
	pq.items = append(pq.items, state)
}

func (pq *pathQueue) Pop() interface{} {
	old := pq.items
	n := len(old)
	state := old[n-1]
	old[n-1] = nil
	state.index = -1
	pq.items = old[0 : n-1]
	return state
}
