// Package scenario loads and normalizes simulation inputs. A scenario is
// the unit of reproducibility: the trip demand plus the seed for every
// stochastic choice the engine makes.
package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/network"
)

// Load reads a scenario from a JSON file and normalizes it.
func Load(path string) (*models.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	var sc models.Scenario
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing scenario file: %w", err)
	}
	if err := Normalize(&sc); err != nil {
		return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}
	return &sc, nil
}

// Normalize validates a scenario and puts it into canonical form: trips
// sorted by (departure, id) so spawn order never depends on input file
// ordering. Malformed records are errors, not warnings; a half-loaded
// scenario would silently change results.
func Normalize(sc *models.Scenario) error {
	seen := make(map[models.TripID]bool, len(sc.Trips))
	for i := range sc.Trips {
		trip := &sc.Trips[i]
		if seen[trip.ID] {
			return fmt.Errorf("duplicate trip id %d", trip.ID)
		}
		seen[trip.ID] = true
		if trip.Departure < 0 {
			return fmt.Errorf("trip %d: negative departure time", trip.ID)
		}
		switch trip.Mode {
		case models.ModeCar, models.ModeBike, models.ModePedestrian, models.ModeTransit:
		default:
			return fmt.Errorf("trip %d: unknown mode %q", trip.ID, trip.Mode)
		}
	}

	sort.SliceStable(sc.Trips, func(i, j int) bool {
		if sc.Trips[i].Departure != sc.Trips[j].Departure {
			return sc.Trips[i].Departure < sc.Trips[j].Departure
		}
		return sc.Trips[i].ID < sc.Trips[j].ID
	})

	lineSeen := make(map[models.LineID]bool, len(sc.Lines))
	for i := range sc.Lines {
		line := &sc.Lines[i]
		if lineSeen[line.ID] {
			return fmt.Errorf("duplicate transit line %q", line.ID)
		}
		lineSeen[line.ID] = true
		if len(line.Stops) < 2 {
			return fmt.Errorf("line %q: needs at least two stops", line.ID)
		}
		if line.Capacity <= 0 {
			line.Capacity = 60
		}
		sort.Slice(line.Departures, func(a, b int) bool {
			return line.Departures[a] < line.Departures[b]
		})
	}
	return nil
}

// CheckAgainst verifies that every position referenced by the scenario
// exists on the given network. Routing failures are recoverable at run
// time, but references to missing lanes are input errors and rejected
// up front.
func CheckAgainst(sc *models.Scenario, net *network.Network) error {
	checkPos := func(owner string, pos models.Position) error {
		lane, ok := net.Lane(pos.Lane)
		if !ok {
			return fmt.Errorf("%s: unknown lane %d", owner, pos.Lane)
		}
		if pos.Distance < 0 || pos.Distance > lane.Length {
			return fmt.Errorf("%s: distance %.1f outside lane %d (length %.1f)", owner, pos.Distance, pos.Lane, lane.Length)
		}
		return nil
	}

	for _, trip := range sc.Trips {
		if err := checkPos(fmt.Sprintf("trip %d origin", trip.ID), trip.Origin); err != nil {
			return err
		}
		if err := checkPos(fmt.Sprintf("trip %d destination", trip.ID), trip.Destination); err != nil {
			return err
		}
	}
	for _, line := range sc.Lines {
		for i, stop := range line.Stops {
			if err := checkPos(fmt.Sprintf("line %q stop %d vehicle side", line.ID, i), stop.Vehicle); err != nil {
				return err
			}
			if err := checkPos(fmt.Sprintf("line %q stop %d rider side", line.ID, i), stop.Rider); err != nil {
				return err
			}
			// The vehicle halts in traffic; riders wait off the roadway.
			if lane, _ := net.Lane(stop.Vehicle.Lane); lane.Class != network.ClassDriving {
				return fmt.Errorf("line %q stop %d: vehicle side on %s lane %d, needs a driving lane",
					line.ID, i, lane.Class, stop.Vehicle.Lane)
			}
			if lane, _ := net.Lane(stop.Rider.Lane); lane.Class == network.ClassDriving {
				return fmt.Errorf("line %q stop %d: rider side on driving lane %d, needs a walkable lane",
					line.ID, i, stop.Rider.Lane)
			}
		}
	}
	return nil
}
