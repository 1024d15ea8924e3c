// Package engine owns the run loop: it pops events in (time, sequence)
// order, dispatches them to the movement models, and wires together the
// scheduler, lane queues, intersection controllers, parking manager, and
// trip ledger. Handlers run strictly one at a time; nothing in here locks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/streetsim/streetsim_core/internal/agents"
	"github.com/streetsim/streetsim_core/internal/intersection"
	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/network"
	"github.com/streetsim/streetsim_core/internal/parking"
	"github.com/streetsim/streetsim_core/internal/routing"
	"github.com/streetsim/streetsim_core/internal/sched"
	"github.com/streetsim/streetsim_core/internal/trips"
)

// Options tunes a run without touching its semantics.
type Options struct {
	// UsePathCache routes through the Redis path cache.
	UsePathCache bool
	// TraceLines caps the retained trace; <= 0 keeps the full trace.
	TraceLines int
	// GridlockInterval is the stall-probe period; zero uses the default.
	GridlockInterval models.SimTime
	// Logf overrides the destination of run logs.
	Logf func(format string, args ...any)
}

const defaultGridlockInterval = models.SimTime(300e9) // 5 min

// Engine runs one scenario to completion. Build one per run; it is not
// reusable.
type Engine struct {
	net      *network.Network
	scenario *models.Scenario
	clock    *sched.Scheduler
	planner  *trips.Planner
	ledger   *trips.Ledger
	park     *parking.Manager
	registry *agents.StopRegistry
	trace    *Trace

	queues map[models.LaneID]*agents.LaneQueue
	ctrls  map[models.IntersectionID]intersection.Controller

	agentsByID map[models.AgentID]*agents.Agent
	tripByID   map[models.TripID]models.Trip
	lines      map[models.LineID]models.TransitLine
	legsByLine map[models.LineID][]*models.Path
	nextAgent  models.AgentID

	// signalWake tracks the one pending phase-boundary event per signal.
	signalWake map[models.IntersectionID]*sched.Event

	gridlockEvery models.SimTime
	processed     uint64
	lastProgress  uint64

	logf func(format string, args ...any)
}

// New builds an engine over a validated network and a normalized
// scenario. All stochastic choices derive from the scenario seed; the
// wall clock never enters the run.
func New(net *network.Network, sc *models.Scenario, opts Options) (*Engine, error) {
	e := &Engine{
		net:           net,
		scenario:      sc,
		clock:         sched.New(),
		planner:       trips.NewPlanner(net, net.Name, sc.Lines, opts.UsePathCache),
		ledger:        trips.NewLedger(),
		park:          parking.NewManager(net, sc.Seed),
		registry:      agents.NewStopRegistry(),
		trace:         NewTrace(opts.TraceLines),
		queues:        make(map[models.LaneID]*agents.LaneQueue),
		ctrls:         make(map[models.IntersectionID]intersection.Controller),
		agentsByID:    make(map[models.AgentID]*agents.Agent),
		tripByID:      make(map[models.TripID]models.Trip),
		lines:         make(map[models.LineID]models.TransitLine),
		legsByLine:    make(map[models.LineID][]*models.Path),
		signalWake:    make(map[models.IntersectionID]*sched.Event),
		gridlockEvery: opts.GridlockInterval,
		logf:          opts.Logf,
	}
	if e.logf == nil {
		e.logf = log.Printf
	}
	if e.gridlockEvery <= 0 {
		e.gridlockEvery = defaultGridlockInterval
	}

	for id, ix := range net.Intersections {
		ctrl, err := intersection.New(net, ix)
		if err != nil {
			return nil, err
		}
		e.ctrls[id] = ctrl
	}

	// Demand is scheduled in a fixed order so event sequence numbers,
	// and therefore tie-breaks, are reproducible: trips in their
	// normalized order, then transit runs by line id.
	for _, trip := range sc.Trips {
		e.tripByID[trip.ID] = trip
		if _, err := e.clock.Schedule(trip.Departure, tripSpawn{Trip: trip.ID}); err != nil {
			return nil, err
		}
	}

	lineIDs := make([]models.LineID, 0, len(sc.Lines))
	for _, line := range sc.Lines {
		e.lines[line.ID] = line
		lineIDs = append(lineIDs, line.ID)
	}
	sort.Slice(lineIDs, func(i, j int) bool { return lineIDs[i] < lineIDs[j] })
	for _, id := range lineIDs {
		line := e.lines[id]
		legs, err := e.planner.VehicleLegs(line)
		if err != nil {
			return nil, err
		}
		e.legsByLine[id] = legs
		for n, dep := range line.Departures {
			if _, err := e.clock.Schedule(dep, vehicleSpawn{Line: id, Departure: n}); err != nil {
				return nil, err
			}
		}
	}

	if _, err := e.clock.Schedule(e.gridlockEvery, gridlockCheck{}); err != nil {
		return nil, err
	}
	return e, nil
}

// Run drains the scheduler. It returns when every event has been
// processed (quiescence), when the scenario's end time is reached, or
// when the context is canceled; any dispatch error aborts the run with
// the offending event's time attached.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := e.clock.Pop()
		if errors.Is(err, sched.ErrEmpty) {
			break
		}
		if err != nil {
			return err
		}
		if e.scenario.EndTime > 0 && ev.Time > e.scenario.EndTime {
			e.ledger.Truncate(e.scenario.EndTime)
			return nil
		}
		if err := e.dispatch(ev); err != nil {
			return fmt.Errorf("engine: at %s (seq %d): %w", ev.Time, ev.Seq(), err)
		}
	}
	if e.ledger.OpenCount() > 0 {
		// Quiescence with open trips: everybody left is waiting on a
		// condition nobody will change.
		e.ledger.Truncate(e.clock.Now())
	}
	return nil
}

func (e *Engine) dispatch(ev *sched.Event) error {
	now := ev.Time
	switch p := ev.Payload.(type) {
	case agentUpdate:
		e.processed++
		a, ok := e.agentsByID[p.Agent]
		if !ok {
			return fmt.Errorf("event for unknown agent %d", p.Agent)
		}
		if a.Pending == ev {
			a.Pending = nil
		}
		if err := agents.Advance(a, now, e); err != nil {
			return err
		}
		e.trace.Record(now, ev.Seq(), "agent",
			fmt.Sprintf("%d %s step=%d pos=%.3f", a.ID, a.Status, a.StepIndex, a.Dist))
		return nil

	case tripSpawn:
		e.processed++
		return e.spawnTrip(p.Trip, now, ev.Seq())

	case vehicleSpawn:
		e.processed++
		return e.spawnVehicle(p, now, ev.Seq())

	case signalChange:
		e.processed++
		delete(e.signalWake, p.Intersection)
		ctrl, ok := e.ctrls[p.Intersection]
		if !ok {
			return fmt.Errorf("phase event for unknown intersection %d", p.Intersection)
		}
		grants, err := ctrl.Reevaluate(now)
		if err != nil {
			return err
		}
		e.deliver(grants, now)
		e.armSignal(p.Intersection, now)
		e.trace.Record(now, ev.Seq(), "signal",
			fmt.Sprintf("%d grants=%d", p.Intersection, len(grants)))
		return nil

	case gridlockCheck:
		return e.checkGridlock(now)

	default:
		return fmt.Errorf("unknown event payload %T", ev.Payload)
	}
}

func (e *Engine) spawnTrip(id models.TripID, now models.SimTime, seq uint64) error {
	trip, ok := e.tripByID[id]
	if !ok {
		return fmt.Errorf("spawn event for unknown trip %d", id)
	}
	path, err := e.planner.Plan(context.Background(), trip)
	if err != nil {
		if errors.Is(err, routing.ErrNoPath) {
			e.ledger.Fail(trip, models.FailUnroutable, now)
			e.trace.Record(now, seq, "trip", fmt.Sprintf("%d unroutable", id))
			return nil
		}
		return err
	}

	e.nextAgent++
	a := &agents.Agent{
		ID:   e.nextAgent,
		Trip: trip.ID,
		Mode: trip.Mode,
		Kind: agents.KindTraveler,
		Path: path,
		Ride: path.Ride,
	}
	e.agentsByID[a.ID] = a

	freeFlow := path.FreeFlowTime
	if path.Ride != nil && path.Ride.Egress != nil {
		freeFlow += path.Ride.Egress.FreeFlowTime
	}
	e.ledger.Begin(trip, freeFlow)

	if err := agents.Spawn(a, now, e); err != nil {
		var unroutable *agents.UnroutableTripError
		if errors.As(err, &unroutable) {
			a.Status = models.StatusDone
			e.ledger.Fail(trip, models.FailUnroutable, now)
			e.trace.Record(now, seq, "trip", fmt.Sprintf("%d unroutable", id))
			return nil
		}
		return err
	}
	e.trace.Record(now, seq, "trip", fmt.Sprintf("%d spawn agent=%d mode=%s", id, a.ID, trip.Mode))
	return nil
}

func (e *Engine) spawnVehicle(p vehicleSpawn, now models.SimTime, seq uint64) error {
	line, ok := e.lines[p.Line]
	if !ok {
		return fmt.Errorf("spawn event for unknown line %s", p.Line)
	}
	legs := e.legsByLine[p.Line]
	if len(legs) == 0 {
		return fmt.Errorf("line %s has no routed legs", p.Line)
	}

	e.nextAgent++
	a := &agents.Agent{
		ID:       e.nextAgent,
		Mode:     models.ModeTransit,
		Kind:     agents.KindTransitVehicle,
		Line:     p.Line,
		Legs:     legs,
		Capacity: line.Capacity,
		Path:     legs[0],
	}
	e.agentsByID[a.ID] = a

	// Riders already waiting at the first stop board before the vehicle
	// pulls out.
	for _, riderID := range e.registry.Board(p.Line, 0, a.Capacity) {
		if rider, found := e.agentsByID[riderID]; found {
			rider.OnVehicle = a.ID
			a.Riders = append(a.Riders, riderID)
		}
	}

	if err := agents.Spawn(a, now, e); err != nil {
		return err
	}
	e.trace.Record(now, seq, "vehicle",
		fmt.Sprintf("%s run=%d agent=%d boarded=%d", p.Line, p.Departure, a.ID, len(a.Riders)))
	return nil
}

// checkGridlock compares progress against the previous probe. A probe
// that finds no progress and no other pending work stops rescheduling
// itself so the run can drain; open trips are then truncated at
// quiescence.
func (e *Engine) checkGridlock(now models.SimTime) error {
	_, morePending := e.clock.PeekTime()
	progressed := e.processed != e.lastProgress
	e.lastProgress = e.processed

	if !progressed && e.ledger.OpenCount() > 0 {
		stalled := e.stalledAgents(now)
		e.logf("Gridlock suspected at %s: %d trips open, stalled agents: %v",
			now, e.ledger.OpenCount(), stalled)
		if !morePending {
			return nil
		}
	}
	if !morePending && e.ledger.OpenCount() == 0 {
		return nil
	}
	_, err := e.clock.Schedule(now+e.gridlockEvery, gridlockCheck{})
	return err
}

// stalledAgents lists non-terminal agents with no outstanding event,
// sorted for stable logs.
func (e *Engine) stalledAgents(now models.SimTime) []models.AgentID {
	var out []models.AgentID
	for id, a := range e.agentsByID {
		switch a.Status {
		case models.StatusDone, models.StatusParked:
			continue
		}
		if a.Pending == nil && a.OnVehicle == 0 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// deliver marks granted agents and wakes them.
func (e *Engine) deliver(grants []intersection.Grant, now models.SimTime) {
	for _, g := range grants {
		if a, ok := e.agentsByID[g.Agent]; ok {
			a.Granted = true
		}
		e.WakeAgent(g.Agent, now)
	}
}

// armSignal schedules the controller's next self-driven change (a signal
// phase boundary, a stop-sign stop expiry) if there is one and no such
// event is already pending.
func (e *Engine) armSignal(ix models.IntersectionID, now models.SimTime) {
	ctrl, ok := e.ctrls[ix]
	if !ok {
		return
	}
	at, ok := ctrl.NextChange(now)
	if !ok {
		return
	}
	if pending, exists := e.signalWake[ix]; exists && !pending.Canceled() {
		return
	}
	ev, err := e.clock.Schedule(at, signalChange{Intersection: ix})
	if err != nil {
		e.logf("Failed to arm signal %d: %v", ix, err)
		return
	}
	e.signalWake[ix] = ev
}

// Report summarizes the run's trip outcomes.
func (e *Engine) Report() trips.Report { return e.ledger.Summarize() }

// TraceDigest returns the SHA-256 over all processed events.
func (e *Engine) TraceDigest() string { return e.trace.Digest() }

// TraceLines returns the retained event trace.
func (e *Engine) TraceLines() []string { return e.trace.Lines() }

// Now returns the simulation clock.
func (e *Engine) Now() models.SimTime { return e.clock.Now() }

// Agent exposes an agent for inspection, mainly in tests.
func (e *Engine) Agent(id models.AgentID) (*agents.Agent, bool) {
	a, ok := e.agentsByID[id]
	return a, ok
}
