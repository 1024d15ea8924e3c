package scenario

import (
	"testing"

	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/network"
	"github.com/stretchr/testify/assert"
)

// twoStops builds a minimal valid stop list for line-shape tests.
func twoStops() []models.TransitStop {
	return []models.TransitStop{
		{Vehicle: models.Position{Lane: 1}, Rider: models.Position{Lane: 3}},
		{Vehicle: models.Position{Lane: 2}, Rider: models.Position{Lane: 4}},
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		sc      models.Scenario
		wantErr string
	}{
		{
			name: "valid scenario",
			sc: models.Scenario{
				Trips: []models.Trip{
					{ID: 1, Mode: models.ModeCar, Departure: models.FromSeconds(10)},
				},
			},
		},
		{
			name: "duplicate trip id",
			sc: models.Scenario{
				Trips: []models.Trip{
					{ID: 1, Mode: models.ModeCar},
					{ID: 1, Mode: models.ModeBike},
				},
			},
			wantErr: "duplicate trip id 1",
		},
		{
			name: "negative departure",
			sc: models.Scenario{
				Trips: []models.Trip{
					{ID: 1, Mode: models.ModeCar, Departure: models.SimTime(-1)},
				},
			},
			wantErr: "negative departure",
		},
		{
			name: "unknown mode",
			sc: models.Scenario{
				Trips: []models.Trip{{ID: 1, Mode: "HOVERCRAFT"}},
			},
			wantErr: `unknown mode "HOVERCRAFT"`,
		},
		{
			name: "line with one stop",
			sc: models.Scenario{
				Lines: []models.TransitLine{
					{ID: "L1", Stops: []models.TransitStop{{Vehicle: models.Position{Lane: 1}}}},
				},
			},
			wantErr: "needs at least two stops",
		},
		{
			name: "duplicate line",
			sc: models.Scenario{
				Lines: []models.TransitLine{
					{ID: "L1", Stops: twoStops()},
					{ID: "L1", Stops: twoStops()},
				},
			},
			wantErr: `duplicate transit line "L1"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Normalize(&tt.sc)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeCanonicalOrder(t *testing.T) {
	sc := models.Scenario{
		Trips: []models.Trip{
			{ID: 3, Mode: models.ModeCar, Departure: models.FromSeconds(20)},
			{ID: 2, Mode: models.ModeCar, Departure: models.FromSeconds(10)},
			{ID: 1, Mode: models.ModeCar, Departure: models.FromSeconds(20)},
		},
	}
	assert.NoError(t, Normalize(&sc))

	var ids []models.TripID
	for _, trip := range sc.Trips {
		ids = append(ids, trip.ID)
	}
	// Sorted by departure, then id.
	assert.Equal(t, []models.TripID{2, 1, 3}, ids)
}

func TestNormalizeLineDefaults(t *testing.T) {
	sc := models.Scenario{
		Lines: []models.TransitLine{
			{
				ID:    "L1",
				Stops: twoStops(),
				Departures: []models.SimTime{
					models.FromSeconds(300), models.FromSeconds(60),
				},
			},
		},
	}
	assert.NoError(t, Normalize(&sc))

	assert.Equal(t, 60, sc.Lines[0].Capacity)
	assert.Equal(t, models.FromSeconds(60), sc.Lines[0].Departures[0])
	assert.Equal(t, models.FromSeconds(300), sc.Lines[0].Departures[1])
}

func TestCheckAgainst(t *testing.T) {
	net, err := network.New(network.Definition{
		Name: "tiny",
		Lanes: []network.Lane{
			{ID: 1, Length: 100, SpeedLimit: 14},
			{ID: 2, Length: 100, SpeedLimit: 14},
			{ID: 3, Length: 100, SpeedLimit: 1.4, Class: network.ClassSidewalk},
		},
	})
	assert.NoError(t, err)

	t.Run("Valid positions pass", func(t *testing.T) {
		sc := models.Scenario{
			Trips: []models.Trip{
				{ID: 1, Mode: models.ModeCar,
					Origin:      models.Position{Lane: 1, Distance: 0},
					Destination: models.Position{Lane: 1, Distance: 90}},
			},
		}
		assert.NoError(t, CheckAgainst(&sc, net))
	})

	t.Run("Unknown lane rejected", func(t *testing.T) {
		sc := models.Scenario{
			Trips: []models.Trip{
				{ID: 1, Mode: models.ModeCar, Origin: models.Position{Lane: 9}},
			},
		}
		assert.ErrorContains(t, CheckAgainst(&sc, net), "unknown lane 9")
	})

	t.Run("Distance beyond lane rejected", func(t *testing.T) {
		sc := models.Scenario{
			Trips: []models.Trip{
				{ID: 1, Mode: models.ModeCar,
					Origin: models.Position{Lane: 1, Distance: 200}},
			},
		}
		assert.ErrorContains(t, CheckAgainst(&sc, net), "outside lane 1")
	})

	t.Run("Valid line stops pass", func(t *testing.T) {
		sc := models.Scenario{
			Lines: []models.TransitLine{
				{ID: "L1", Stops: []models.TransitStop{
					{Vehicle: models.Position{Lane: 1, Distance: 20}, Rider: models.Position{Lane: 3, Distance: 20}},
					{Vehicle: models.Position{Lane: 2, Distance: 80}, Rider: models.Position{Lane: 3, Distance: 80}},
				}},
			},
		}
		assert.NoError(t, CheckAgainst(&sc, net))
	})

	t.Run("Line stop on unknown lane rejected", func(t *testing.T) {
		sc := models.Scenario{
			Lines: []models.TransitLine{
				{ID: "L1", Stops: []models.TransitStop{
					{Vehicle: models.Position{Lane: 1}, Rider: models.Position{Lane: 3}},
					{Vehicle: models.Position{Lane: 7}, Rider: models.Position{Lane: 3}},
				}},
			},
		}
		assert.ErrorContains(t, CheckAgainst(&sc, net), "unknown lane 7")
	})

	t.Run("Vehicle side must be a driving lane", func(t *testing.T) {
		sc := models.Scenario{
			Lines: []models.TransitLine{
				{ID: "L1", Stops: []models.TransitStop{
					{Vehicle: models.Position{Lane: 3}, Rider: models.Position{Lane: 3}},
					{Vehicle: models.Position{Lane: 2}, Rider: models.Position{Lane: 3}},
				}},
			},
		}
		assert.ErrorContains(t, CheckAgainst(&sc, net), "needs a driving lane")
	})

	t.Run("Rider side must be walkable", func(t *testing.T) {
		sc := models.Scenario{
			Lines: []models.TransitLine{
				{ID: "L1", Stops: []models.TransitStop{
					{Vehicle: models.Position{Lane: 1}, Rider: models.Position{Lane: 2}},
					{Vehicle: models.Position{Lane: 2}, Rider: models.Position{Lane: 3}},
				}},
			},
		}
		assert.ErrorContains(t, CheckAgainst(&sc, net), "needs a walkable lane")
	})
}
