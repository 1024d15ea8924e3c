package routing

import (
	"testing"

	"github.com/streetsim/streetsim_core/internal/geom"
	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/network"
	"github.com/stretchr/testify/assert"
)

// chainNet is three driving lanes in a row with a slow parallel detour
// between the two intersections.
func chainNet(t *testing.T) *network.Network {
	t.Helper()
	net, err := network.New(network.Definition{
		Name: "chain",
		Intersections: []network.Intersection{
			{ID: 1, Turns: []models.TurnID{10, 12}},
			{ID: 2, Turns: []models.TurnID{11, 13}},
		},
		Lanes: []network.Lane{
			{ID: 1, To: 1, Length: 100, SpeedLimit: 14},
			{ID: 2, From: 1, To: 2, Length: 100, SpeedLimit: 14},
			{ID: 3, From: 2, Length: 100, SpeedLimit: 14},
			{ID: 5, From: 1, To: 2, Length: 100, SpeedLimit: 3},
		},
		Turns: []network.Turn{
			{ID: 10, Intersection: 1, From: 1, To: 2, Length: 8},
			{ID: 11, Intersection: 2, From: 2, To: 3, Length: 8},
			{ID: 12, Intersection: 1, From: 1, To: 5, Length: 8},
			{ID: 13, Intersection: 2, From: 5, To: 3, Length: 8},
		},
	})
	assert.NoError(t, err)
	return net
}

func TestFindPath(t *testing.T) {
	r := NewRouter(chainNet(t))

	t.Run("Same lane forward is a single step", func(t *testing.T) {
		path, err := r.FindPath(
			models.Position{Lane: 1, Distance: 10},
			models.Position{Lane: 1, Distance: 60},
			models.ModeCar,
		)
		assert.NoError(t, err)
		assert.Len(t, path.Steps, 1)
		assert.Equal(t, models.StepLane, path.Steps[0].Kind)
		assert.Equal(t, 10.0, path.Start)
		assert.Equal(t, 60.0, path.End)
		assert.Equal(t, 50.0, path.Length)
		assert.InDelta(t, 50.0/14.0, path.FreeFlowTime.Seconds(), 1e-9)
	})

	t.Run("Chain route alternates lanes and turns", func(t *testing.T) {
		path, err := r.FindPath(
			models.Position{Lane: 1, Distance: 50},
			models.Position{Lane: 3, Distance: 50},
			models.ModeCar,
		)
		assert.NoError(t, err)

		var kinds []models.StepKind
		for _, step := range path.Steps {
			kinds = append(kinds, step.Kind)
		}
		assert.Equal(t, []models.StepKind{
			models.StepLane, models.StepTurn, models.StepLane, models.StepTurn, models.StepLane,
		}, kinds)
		assert.Equal(t, 216.0, path.Length) // 50 + 8 + 100 + 8 + 50
	})

	t.Run("Faster parallel lane wins", func(t *testing.T) {
		path, err := r.FindPath(
			models.Position{Lane: 1, Distance: 50},
			models.Position{Lane: 3, Distance: 50},
			models.ModeCar,
		)
		assert.NoError(t, err)
		assert.Equal(t, models.LaneID(2), path.Steps[2].Lane)
	})

	t.Run("Pedestrian cannot use driving lanes", func(t *testing.T) {
		_, err := r.FindPath(
			models.Position{Lane: 1, Distance: 0},
			models.Position{Lane: 3, Distance: 0},
			models.ModePedestrian,
		)
		assert.ErrorIs(t, err, ErrNoPath)
	})

	t.Run("Backward on same lane without a loop fails", func(t *testing.T) {
		_, err := r.FindPath(
			models.Position{Lane: 3, Distance: 60},
			models.Position{Lane: 3, Distance: 10},
			models.ModeCar,
		)
		assert.ErrorIs(t, err, ErrNoPath)
	})

	t.Run("Unknown origin lane", func(t *testing.T) {
		_, err := r.FindPath(
			models.Position{Lane: 99},
			models.Position{Lane: 3},
			models.ModeCar,
		)
		assert.ErrorContains(t, err, "unknown origin lane 99")
	})
}

func TestFindPathDeterminism(t *testing.T) {
	r := NewRouter(chainNet(t))
	origin := models.Position{Lane: 1, Distance: 0}
	dest := models.Position{Lane: 3, Distance: 100}

	first, err := r.FindPath(origin, dest, models.ModeCar)
	assert.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := r.FindPath(origin, dest, models.ModeCar)
		assert.NoError(t, err)
		assert.Equal(t, first.Steps, again.Steps)
	}
}

func TestFindTransitPath(t *testing.T) {
	net, err := network.New(network.Definition{
		Name: "transitnet",
		Lanes: []network.Lane{
			{ID: 20, Length: 100, SpeedLimit: 1.4, Class: network.ClassSidewalk,
				Polyline: []geom.Pt{{X: 0, Y: 0}, {X: 100, Y: 0}}},
			{ID: 21, Length: 100, SpeedLimit: 1.4, Class: network.ClassSidewalk,
				Polyline: []geom.Pt{{X: 200, Y: 0}, {X: 300, Y: 0}}},
			// Roadway the buses halt on, alongside each sidewalk.
			{ID: 22, Length: 100, SpeedLimit: 14,
				Polyline: []geom.Pt{{X: 0, Y: 4}, {X: 100, Y: 4}}},
			{ID: 23, Length: 100, SpeedLimit: 14,
				Polyline: []geom.Pt{{X: 200, Y: 4}, {X: 300, Y: 4}}},
		},
	})
	assert.NoError(t, err)
	r := NewRouter(net)

	lines := []models.TransitLine{
		{
			ID: "L1",
			Stops: []models.TransitStop{
				{Vehicle: models.Position{Lane: 22, Distance: 50}, Rider: models.Position{Lane: 20, Distance: 50}},
				{Vehicle: models.Position{Lane: 23, Distance: 50}, Rider: models.Position{Lane: 21, Distance: 50}},
			},
		},
	}

	t.Run("Direct ride with access and egress walks", func(t *testing.T) {
		path, err := r.FindTransitPath(
			models.Position{Lane: 20, Distance: 10},
			models.Position{Lane: 21, Distance: 90},
			lines,
		)
		assert.NoError(t, err)
		assert.Equal(t, models.ModeTransit, path.Mode)
		assert.NotNil(t, path.Ride)
		assert.Equal(t, models.LineID("L1"), path.Ride.Line)
		assert.Equal(t, 0, path.Ride.BoardStop)
		assert.Equal(t, 1, path.Ride.AlightStop)
		assert.NotNil(t, path.Ride.Egress)
		assert.Equal(t, 40.0, path.Length)        // walk 10 -> 50
		assert.Equal(t, 40.0, path.Ride.Egress.Length) // walk 50 -> 90
	})

	t.Run("Trip against line direction fails", func(t *testing.T) {
		_, err := r.FindTransitPath(
			models.Position{Lane: 21, Distance: 50},
			models.Position{Lane: 20, Distance: 50},
			lines,
		)
		assert.ErrorIs(t, err, ErrNoPath)
	})

	t.Run("No lines fails", func(t *testing.T) {
		_, err := r.FindTransitPath(
			models.Position{Lane: 20, Distance: 10},
			models.Position{Lane: 21, Distance: 90},
			nil,
		)
		assert.ErrorIs(t, err, ErrNoPath)
	})
}
