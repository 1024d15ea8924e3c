// Package parking tracks spot occupancy and serves allocation requests from
// agent state machines. Spots are exclusive: Free -> Reserved -> Occupied,
// with at most one holder at any simulated instant.
package parking

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/network"
)

// SpotState is the occupancy state of a parking spot.
type SpotState string

const (
	SpotFree     SpotState = "FREE"
	SpotReserved SpotState = "RESERVED"
	SpotOccupied SpotState = "OCCUPIED"
)

// ResultKind classifies the outcome of a spot request.
type ResultKind string

const (
	ResultAssigned      ResultKind = "ASSIGNED"
	ResultSearchFurther ResultKind = "SEARCH_FURTHER"
	ResultExhausted     ResultKind = "EXHAUSTED"
)

// MaxSearchRadius bounds how many lane hops outward a search may widen
// before the request is exhausted.
const MaxSearchRadius = 4

// Result is the answer to a spot request. Assigned carries the reserved
// spot; SearchFurther tells the caller to retry with the next radius.
type Result struct {
	Kind       ResultKind
	Spot       models.SpotID
	NextRadius int
}

// spotRecord tracks one spot's occupancy.
type spotRecord struct {
	State  SpotState      `json:"state"`
	Holder models.AgentID `json:"holder"`
}

// Manager owns all parking spot state for a run. It is mutated only by the
// single active event handler, so it carries no locks.
type Manager struct {
	net     *network.Network
	seed    int64
	records map[models.SpotID]*spotRecord
	waiters []models.AgentID
}

// NewManager builds a manager with every spot free.
func NewManager(net *network.Network, seed int64) *Manager {
	records := make(map[models.SpotID]*spotRecord, len(net.Spots))
	for id := range net.Spots {
		records[id] = &spotRecord{State: SpotFree}
	}
	return &Manager{net: net, seed: seed, records: records}
}

// Request searches for a free spot within radius lane-hops of the search
// origin. Candidate order is a seeded pseudo-random permutation derived
// from the scenario seed and the agent id, never map iteration or
// wall-clock order, so runs stay reproducible.
func (m *Manager) Request(agent models.AgentID, origin models.Position, radius int) Result {
	if radius > MaxSearchRadius {
		return Result{Kind: ResultExhausted}
	}

	candidates := m.candidateSpots(origin.Lane, radius)
	if len(candidates) > 0 {
		rng := rand.New(rand.NewSource(m.seed ^ (int64(agent) * 0x9e3779b9)))
		rng.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		for _, id := range candidates {
			rec := m.records[id]
			if rec.State == SpotFree {
				rec.State = SpotReserved
				rec.Holder = agent
				return Result{Kind: ResultAssigned, Spot: id}
			}
		}
	}

	if radius < MaxSearchRadius {
		return Result{Kind: ResultSearchFurther, NextRadius: radius + 1}
	}
	return Result{Kind: ResultExhausted}
}

// candidateSpots collects spot ids on all lanes reachable within the given
// number of turn hops from the origin lane, in a stable order (sorted by id)
// before the seeded shuffle is applied.
func (m *Manager) candidateSpots(origin models.LaneID, radius int) []models.SpotID {
	visited := map[models.LaneID]bool{origin: true}
	frontier := []models.LaneID{origin}
	var spots []models.SpotID
	spots = append(spots, m.net.SpotsOn(origin)...)

	for hop := 0; hop < radius; hop++ {
		var next []models.LaneID
		for _, lane := range frontier {
			for _, tid := range m.net.TurnsFrom(lane) {
				turn, _ := m.net.Turn(tid)
				if visited[turn.To] {
					continue
				}
				visited[turn.To] = true
				next = append(next, turn.To)
				spots = append(spots, m.net.SpotsOn(turn.To)...)
			}
		}
		frontier = next
	}

	sort.Slice(spots, func(i, j int) bool { return spots[i] < spots[j] })
	return spots
}

// Occupy transitions a spot the agent reserved into Occupied. Any other
// transition is a bookkeeping bug and returns an error the engine treats
// as fatal.
func (m *Manager) Occupy(spot models.SpotID, agent models.AgentID) error {
	rec, ok := m.records[spot]
	if !ok {
		return fmt.Errorf("parking: unknown spot %d", spot)
	}
	if rec.State != SpotReserved || rec.Holder != agent {
		return fmt.Errorf("parking: spot %d is %s held by agent %d, cannot be occupied by agent %d",
			spot, rec.State, rec.Holder, agent)
	}
	rec.State = SpotOccupied
	return nil
}

// Release frees a spot held by the agent and returns the waiting agents to
// re-evaluate, in FIFO order. The caller schedules their wake-up events.
func (m *Manager) Release(spot models.SpotID, agent models.AgentID) ([]models.AgentID, error) {
	rec, ok := m.records[spot]
	if !ok {
		return nil, fmt.Errorf("parking: unknown spot %d", spot)
	}
	if rec.State == SpotFree || rec.Holder != agent {
		return nil, fmt.Errorf("parking: spot %d is %s held by agent %d, cannot be released by agent %d",
			spot, rec.State, rec.Holder, agent)
	}
	rec.State = SpotFree
	rec.Holder = 0

	woken := m.waiters
	m.waiters = nil
	return woken, nil
}

// AddWaiter registers an agent to be woken when any spot frees up.
func (m *Manager) AddWaiter(agent models.AgentID) {
	m.waiters = append(m.waiters, agent)
}

// State returns the occupancy state and holder of a spot.
func (m *Manager) State(spot models.SpotID) (SpotState, models.AgentID) {
	rec, ok := m.records[spot]
	if !ok {
		return SpotFree, 0
	}
	return rec.State, rec.Holder
}

// Snapshot exports all non-free spot records keyed by spot id, for run
// persistence.
func (m *Manager) Snapshot() map[models.SpotID]SnapshotRecord {
	out := make(map[models.SpotID]SnapshotRecord)
	for id, rec := range m.records {
		if rec.State != SpotFree {
			out[id] = SnapshotRecord{State: rec.State, Holder: rec.Holder}
		}
	}
	return out
}

// Restore replaces spot state from a snapshot.
func (m *Manager) Restore(records map[models.SpotID]SnapshotRecord, waiters []models.AgentID) {
	for id := range m.records {
		m.records[id] = &spotRecord{State: SpotFree}
	}
	for id, rec := range records {
		m.records[id] = &spotRecord{State: rec.State, Holder: rec.Holder}
	}
	m.waiters = append([]models.AgentID(nil), waiters...)
}

// Waiters returns the current wake-up list, for snapshots.
func (m *Manager) Waiters() []models.AgentID {
	return append([]models.AgentID(nil), m.waiters...)
}

// SnapshotRecord is the serialized form of a spot's occupancy.
type SnapshotRecord struct {
	State  SpotState      `json:"state"`
	Holder models.AgentID `json:"holder"`
}
