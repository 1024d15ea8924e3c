package engine

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/streetsim/streetsim_core/internal/agents"
	"github.com/streetsim/streetsim_core/internal/intersection"
	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/parking"
	"github.com/streetsim/streetsim_core/internal/sched"
)

// Snapshot is a full, JSON-serializable capture of a run in flight.
// Restoring it into a fresh engine over the same network and scenario
// resumes the run with identical future behavior.
type Snapshot struct {
	Now       models.SimTime `json:"now"`
	NextSeq   uint64         `json:"next_seq"`
	NextAgent models.AgentID `json:"next_agent"`

	Agents      []agentSnap                                  `json:"agents"`
	Lanes       map[models.LaneID]laneSnap                   `json:"lanes,omitempty"`
	Controllers map[models.IntersectionID]intersection.State `json:"controllers,omitempty"`

	ParkingSpots   map[models.SpotID]parking.SnapshotRecord   `json:"parking_spots,omitempty"`
	ParkingWaiters []models.AgentID                           `json:"parking_waiters,omitempty"`
	StopWaiting    map[models.LineID]map[int][]models.AgentID `json:"stop_waiting,omitempty"`

	Events []eventSnap `json:"events"`
}

type agentSnap struct {
	ID        models.AgentID     `json:"id"`
	Trip      models.TripID      `json:"trip,omitempty"`
	Mode      models.Mode        `json:"mode"`
	Kind      agents.Kind        `json:"kind"`
	Path      *models.Path       `json:"path,omitempty"`
	StepIndex int                `json:"step_index"`
	Dist      float64            `json:"dist"`
	Speed     float64            `json:"speed"`
	UpdatedAt models.SimTime     `json:"updated_at"`
	Status    models.AgentStatus `json:"status"`
	Granted   bool               `json:"granted,omitempty"`

	ParkSearching bool          `json:"park_searching,omitempty"`
	Spot          models.SpotID `json:"spot,omitempty"`
	SearchRadius  int           `json:"search_radius,omitempty"`
	ParkRetries   int           `json:"park_retries,omitempty"`

	Line     models.LineID    `json:"line,omitempty"`
	LegIndex int              `json:"leg_index,omitempty"`
	Riders   []models.AgentID `json:"riders,omitempty"`
	Capacity int              `json:"capacity,omitempty"`

	OnVehicle   models.AgentID `json:"on_vehicle,omitempty"`
	RodeVehicle bool           `json:"rode_vehicle,omitempty"`
}

type laneSnap struct {
	Occupants []models.AgentID `json:"occupants,omitempty"`
	Waiters   []models.AgentID `json:"waiters,omitempty"`
}

type eventSnap struct {
	Time models.SimTime  `json:"time"`
	Seq  uint64          `json:"seq"`
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Snapshot captures the engine's full mutable state. Call it between
// dispatches, never from inside one.
func (e *Engine) Snapshot() (*Snapshot, error) {
	snap := &Snapshot{
		Now:         e.clock.Now(),
		NextSeq:     e.clock.NextSeq(),
		NextAgent:   e.nextAgent,
		Lanes:       make(map[models.LaneID]laneSnap),
		Controllers: make(map[models.IntersectionID]intersection.State),
		StopWaiting: e.registry.WaitingSnapshot(),
	}

	ids := make([]models.AgentID, 0, len(e.agentsByID))
	for id := range e.agentsByID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		a := e.agentsByID[id]
		as := agentSnap{
			ID:            a.ID,
			Trip:          a.Trip,
			Mode:          a.Mode,
			Kind:          a.Kind,
			StepIndex:     a.StepIndex,
			Dist:          a.Dist,
			Speed:         a.Speed,
			UpdatedAt:     a.UpdatedAt,
			Status:        a.Status,
			Granted:       a.Granted,
			ParkSearching: a.ParkSearching,
			Spot:          a.Spot,
			SearchRadius:  a.SearchRadius,
			ParkRetries:   a.ParkRetries,
			Line:          a.Line,
			LegIndex:      a.LegIndex,
			Riders:        a.Riders,
			Capacity:      a.Capacity,
			OnVehicle:     a.OnVehicle,
			RodeVehicle:   a.RodeVehicle,
		}
		// Vehicle legs re-route identically at restore; only traveler
		// paths (which may include parking reroutes) are stored.
		if a.Kind != agents.KindTransitVehicle {
			as.Path = a.Path
		}
		snap.Agents = append(snap.Agents, as)
	}

	for lane, q := range e.queues {
		if q.Len() == 0 && len(q.EntryWaiters()) == 0 {
			continue
		}
		snap.Lanes[lane] = laneSnap{Occupants: q.Occupants(), Waiters: q.EntryWaiters()}
	}

	for id, ctrl := range e.ctrls {
		snap.Controllers[id] = ctrl.Snapshot()
	}

	snap.ParkingSpots = e.park.Snapshot()
	snap.ParkingWaiters = e.park.Waiters()

	for _, ev := range e.clock.Pending() {
		es := eventSnap{Time: ev.Time, Seq: ev.Seq()}
		var body any
		switch p := ev.Payload.(type) {
		case agentUpdate:
			es.Kind, body = "agent_update", p
		case tripSpawn:
			es.Kind, body = "trip_spawn", p
		case vehicleSpawn:
			es.Kind, body = "vehicle_spawn", p
		case signalChange:
			es.Kind, body = "signal_change", p
		case gridlockCheck:
			es.Kind = "gridlock_check"
		default:
			return nil, fmt.Errorf("engine: cannot snapshot event payload %T", ev.Payload)
		}
		if body != nil {
			raw, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			es.Body = raw
		}
		snap.Events = append(snap.Events, es)
	}
	return snap, nil
}

// Restore loads a snapshot into a freshly constructed engine. The engine
// must have been built with New over the same network and scenario.
func (e *Engine) Restore(snap *Snapshot) error {
	e.agentsByID = make(map[models.AgentID]*agents.Agent, len(snap.Agents))
	e.nextAgent = snap.NextAgent

	for _, as := range snap.Agents {
		a := &agents.Agent{
			ID:            as.ID,
			Trip:          as.Trip,
			Mode:          as.Mode,
			Kind:          as.Kind,
			Path:          as.Path,
			StepIndex:     as.StepIndex,
			Dist:          as.Dist,
			Speed:         as.Speed,
			UpdatedAt:     as.UpdatedAt,
			Status:        as.Status,
			Granted:       as.Granted,
			ParkSearching: as.ParkSearching,
			Spot:          as.Spot,
			SearchRadius:  as.SearchRadius,
			ParkRetries:   as.ParkRetries,
			Line:          as.Line,
			LegIndex:      as.LegIndex,
			Riders:        as.Riders,
			Capacity:      as.Capacity,
			OnVehicle:     as.OnVehicle,
			RodeVehicle:   as.RodeVehicle,
		}
		if a.Kind == agents.KindTransitVehicle {
			a.Legs = e.legsByLine[a.Line]
			if a.LegIndex < len(a.Legs) {
				a.Path = a.Legs[a.LegIndex]
			}
		}
		e.agentsByID[a.ID] = a
	}

	e.queues = make(map[models.LaneID]*agents.LaneQueue)
	for lane, ls := range snap.Lanes {
		q := e.Queue(lane)
		q.RestoreOccupants(ls.Occupants, func(id models.AgentID) float64 {
			if a, ok := e.agentsByID[id]; ok {
				return a.Footprint()
			}
			return 0
		}, ls.Waiters)
	}

	for id, st := range snap.Controllers {
		ctrl, ok := e.ctrls[id]
		if !ok {
			return fmt.Errorf("engine: snapshot references unknown intersection %d", id)
		}
		ctrl.Restore(st)
	}

	e.park.Restore(snap.ParkingSpots, snap.ParkingWaiters)

	e.registry.RestoreWaiting(snap.StopWaiting, func(id models.AgentID) models.SimTime {
		// A waiting rider's last kinematic update is its stop arrival.
		if a, ok := e.agentsByID[id]; ok {
			return a.UpdatedAt
		}
		return 0
	})

	events := make([]sched.Restorable, 0, len(snap.Events))
	for _, es := range snap.Events {
		var p payload
		switch es.Kind {
		case "agent_update":
			var v agentUpdate
			if err := json.Unmarshal(es.Body, &v); err != nil {
				return err
			}
			p = v
		case "trip_spawn":
			var v tripSpawn
			if err := json.Unmarshal(es.Body, &v); err != nil {
				return err
			}
			p = v
		case "vehicle_spawn":
			var v vehicleSpawn
			if err := json.Unmarshal(es.Body, &v); err != nil {
				return err
			}
			p = v
		case "signal_change":
			var v signalChange
			if err := json.Unmarshal(es.Body, &v); err != nil {
				return err
			}
			p = v
		case "gridlock_check":
			p = gridlockCheck{}
		default:
			return fmt.Errorf("engine: unknown snapshot event kind %q", es.Kind)
		}
		events = append(events, sched.Restorable{Time: es.Time, Seq: es.Seq, Payload: p})
	}
	e.clock.Restore(snap.Now, snap.NextSeq, events)

	// Re-link the one-outstanding-event handles.
	e.signalWake = make(map[models.IntersectionID]*sched.Event)
	for _, ev := range e.clock.Pending() {
		switch p := ev.Payload.(type) {
		case agentUpdate:
			if a, ok := e.agentsByID[p.Agent]; ok {
				a.Pending = ev
			}
		case signalChange:
			e.signalWake[p.Intersection] = ev
		}
	}
	return nil
}
