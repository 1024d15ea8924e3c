// Package trips turns scenario demand into routed agents and collects the
// per-trip outcome records a run reports at the end.
package trips

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/streetsim/streetsim_core/internal/cache"
	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/network"
	"github.com/streetsim/streetsim_core/internal/routing"
)

// Planner routes a trip's path at spawn time. The path cache, when
// enabled, sits in front of the router keyed by network name and
// endpoints; results are deterministic so a hit and a miss produce the
// same path.
type Planner struct {
	net      *network.Network
	router   *routing.Router
	lines    []models.TransitLine
	netName  string
	useCache bool
}

// NewPlanner builds a planner over the network and the scenario's transit
// lines. useCache enables the Redis path cache.
func NewPlanner(net *network.Network, netName string, lines []models.TransitLine, useCache bool) *Planner {
	sorted := make([]models.TransitLine, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Planner{
		net:      net,
		router:   routing.NewRouter(net),
		lines:    sorted,
		netName:  netName,
		useCache: useCache,
	}
}

// Plan routes one trip. A failure wraps routing.ErrNoPath, which the
// caller records as an unroutable trip rather than an engine error.
func (p *Planner) Plan(ctx context.Context, trip models.Trip) (*models.Path, error) {
	var key string
	if p.useCache {
		key = cache.PathKey(p.netName, trip.Origin, trip.Destination, trip.Mode)
		if cached, err := cache.GetPath(ctx, key); err != nil {
			log.Printf("Path cache lookup failed, routing directly: %v", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	var path *models.Path
	var err error
	if trip.Mode == models.ModeTransit {
		path, err = p.router.FindTransitPath(trip.Origin, trip.Destination, p.lines)
	} else {
		path, err = p.router.FindPath(trip.Origin, trip.Destination, trip.Mode)
	}
	if err != nil {
		return nil, err
	}

	if p.useCache {
		if err := cache.SetPath(ctx, key, path); err != nil {
			log.Printf("Path cache store failed: %v", err)
		}
	}
	return path, nil
}

// Replan routes a fresh leg from an arbitrary position, used for parking
// approaches. These legs are never cached: the origin is a transient
// mid-lane position.
func (p *Planner) Replan(from, to models.Position, mode models.Mode) (*models.Path, error) {
	return p.router.FindPath(from, to, mode)
}

// VehicleLegs routes a transit vehicle's stop-to-stop legs for a line.
// Leg i runs from stop i to stop i+1; a line whose consecutive stops
// cannot be connected is a scenario error.
func (p *Planner) VehicleLegs(line models.TransitLine) ([]*models.Path, error) {
	legs := make([]*models.Path, 0, len(line.Stops)-1)
	for i := 0; i+1 < len(line.Stops); i++ {
		leg, err := p.router.FindVehiclePath(line.Stops[i].Vehicle, line.Stops[i+1].Vehicle)
		if err != nil {
			return nil, fmt.Errorf("trips: line %s: no vehicle path from stop %d to %d: %w",
				line.ID, i, i+1, err)
		}
		legs = append(legs, leg)
	}
	return legs, nil
}

// Ledger accumulates one record per trip. Every trip that enters the
// ledger leaves it with exactly one outcome.
type Ledger struct {
	open    map[models.TripID]openTrip
	records []models.TripRecord
}

type openTrip struct {
	trip     models.Trip
	freeFlow models.SimTime
}

func NewLedger() *Ledger {
	return &Ledger{open: make(map[models.TripID]openTrip)}
}

// Begin registers a spawned trip with the free-flow time of its routed
// path, the baseline its delay is measured against.
func (l *Ledger) Begin(trip models.Trip, freeFlow models.SimTime) {
	l.open[trip.ID] = openTrip{trip: trip, freeFlow: freeFlow}
}

// Complete closes a trip successfully at now.
func (l *Ledger) Complete(id models.TripID, now models.SimTime) {
	l.close(id, now, models.OutcomeSuccess, models.FailNone)
}

// Fail closes a trip with a failure reason at now. Unroutable trips never
// spawned, so Fail also accepts ids Begin never saw.
func (l *Ledger) Fail(trip models.Trip, reason models.FailReason, now models.SimTime) {
	if _, ok := l.open[trip.ID]; !ok {
		l.open[trip.ID] = openTrip{trip: trip}
	}
	l.close(trip.ID, now, models.OutcomeFailure, reason)
}

func (l *Ledger) close(id models.TripID, now models.SimTime, outcome models.TripOutcome, reason models.FailReason) {
	ot, ok := l.open[id]
	if !ok {
		return // already closed; double completion is a caller bug but harmless here
	}
	delete(l.open, id)

	duration := now - ot.trip.Departure
	if duration < 0 {
		duration = 0
	}
	delay := duration - ot.freeFlow
	if delay < 0 {
		delay = 0
	}
	l.records = append(l.records, models.TripRecord{
		TripID:    id,
		Mode:      ot.trip.Mode,
		Departure: ot.trip.Departure,
		Completed: now,
		Duration:  duration,
		FreeFlow:  ot.freeFlow,
		Delay:     delay,
		Outcome:   outcome,
		Reason:    reason,
	})
}

// Truncate fails every still-open trip at the run's end time.
func (l *Ledger) Truncate(now models.SimTime) {
	ids := make([]models.TripID, 0, len(l.open))
	for id := range l.open {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		l.close(id, now, models.OutcomeFailure, models.FailTruncated)
	}
}

// OpenCount returns the number of trips still in flight.
func (l *Ledger) OpenCount() int { return len(l.open) }

// Records returns all closed records sorted by trip id.
func (l *Ledger) Records() []models.TripRecord {
	out := make([]models.TripRecord, len(l.records))
	copy(out, l.records)
	sort.Slice(out, func(i, j int) bool { return out[i].TripID < out[j].TripID })
	return out
}

// ModeStats aggregates outcomes for one mode.
type ModeStats struct {
	Trips     int            `json:"trips"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	AvgDelay  models.SimTime `json:"avg_delay"`
	P50Delay  models.SimTime `json:"p50_delay"`
	P95Delay  models.SimTime `json:"p95_delay"`
}

// Report is the run summary: totals, per-mode stats, and failures broken
// down by reason.
type Report struct {
	Trips     int                       `json:"trips"`
	Succeeded int                       `json:"succeeded"`
	Failed    int                       `json:"failed"`
	ByMode    map[models.Mode]ModeStats `json:"by_mode"`
	ByReason  map[models.FailReason]int `json:"by_reason,omitempty"`
	Records   []models.TripRecord       `json:"records"`
}

// Summarize builds the run report from the closed records.
func (l *Ledger) Summarize() Report {
	records := l.Records()
	rep := Report{
		ByMode:   make(map[models.Mode]ModeStats),
		ByReason: make(map[models.FailReason]int),
		Records:  records,
	}

	delays := make(map[models.Mode][]models.SimTime)
	for _, r := range records {
		rep.Trips++
		st := rep.ByMode[r.Mode]
		st.Trips++
		if r.Outcome == models.OutcomeSuccess {
			rep.Succeeded++
			st.Succeeded++
			delays[r.Mode] = append(delays[r.Mode], r.Delay)
		} else {
			rep.Failed++
			st.Failed++
			rep.ByReason[r.Reason]++
		}
		rep.ByMode[r.Mode] = st
	}

	for mode, ds := range delays {
		sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })
		st := rep.ByMode[mode]
		var total models.SimTime
		for _, d := range ds {
			total += d
		}
		st.AvgDelay = total / models.SimTime(len(ds))
		st.P50Delay = percentile(ds, 0.50)
		st.P95Delay = percentile(ds, 0.95)
		rep.ByMode[mode] = st
	}
	return rep
}

// percentile uses the nearest-rank method over an ascending slice.
func percentile(sorted []models.SimTime, p float64) models.SimTime {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
