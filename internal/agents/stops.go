package agents

import (
	"sort"

	"github.com/streetsim/streetsim_core/internal/models"
)

// stopKey identifies one stop of one line.
type stopKey struct {
	Line models.LineID
	Stop int
}

// StopRegistry tracks riders waiting at transit stops, FIFO per
// (line, stop). Board order is arrival order with agent id breaking exact
// ties, keeping boarding deterministic.
type StopRegistry struct {
	waiting map[stopKey][]waitingRider
}

type waitingRider struct {
	Agent   models.AgentID `json:"agent"`
	Arrived models.SimTime `json:"arrived"`
}

// NewStopRegistry returns an empty registry.
func NewStopRegistry() *StopRegistry {
	return &StopRegistry{waiting: make(map[stopKey][]waitingRider)}
}

// Wait registers a rider at a stop.
func (r *StopRegistry) Wait(line models.LineID, stop int, agent models.AgentID, now models.SimTime) {
	key := stopKey{Line: line, Stop: stop}
	riders := append(r.waiting[key], waitingRider{Agent: agent, Arrived: now})
	sort.SliceStable(riders, func(i, j int) bool {
		if riders[i].Arrived != riders[j].Arrived {
			return riders[i].Arrived < riders[j].Arrived
		}
		return riders[i].Agent < riders[j].Agent
	})
	r.waiting[key] = riders
}

// Board removes and returns up to space riders waiting at a stop.
func (r *StopRegistry) Board(line models.LineID, stop int, space int) []models.AgentID {
	key := stopKey{Line: line, Stop: stop}
	riders := r.waiting[key]
	n := space
	if n > len(riders) {
		n = len(riders)
	}
	boarded := make([]models.AgentID, 0, n)
	for i := 0; i < n; i++ {
		boarded = append(boarded, riders[i].Agent)
	}
	if n == len(riders) {
		delete(r.waiting, key)
	} else {
		r.waiting[key] = riders[n:]
	}
	return boarded
}

// WaitingCount returns how many riders wait at a stop.
func (r *StopRegistry) WaitingCount(line models.LineID, stop int) int {
	return len(r.waiting[stopKey{Line: line, Stop: stop}])
}

// WaitingSnapshot exports the registry for persistence, keyed by line and
// stop index.
func (r *StopRegistry) WaitingSnapshot() map[models.LineID]map[int][]models.AgentID {
	out := make(map[models.LineID]map[int][]models.AgentID)
	for key, riders := range r.waiting {
		byStop, ok := out[key.Line]
		if !ok {
			byStop = make(map[int][]models.AgentID)
			out[key.Line] = byStop
		}
		for _, w := range riders {
			byStop[key.Stop] = append(byStop[key.Stop], w.Agent)
		}
	}
	return out
}

// RestoreWaiting rebuilds the registry from a snapshot; arrival order is
// the slice order.
func (r *StopRegistry) RestoreWaiting(snap map[models.LineID]map[int][]models.AgentID, arrivals func(models.AgentID) models.SimTime) {
	r.waiting = make(map[stopKey][]waitingRider)
	for line, byStop := range snap {
		for stop, agents := range byStop {
			key := stopKey{Line: line, Stop: stop}
			for _, id := range agents {
				r.waiting[key] = append(r.waiting[key], waitingRider{Agent: id, Arrived: arrivals(id)})
			}
		}
	}
}
