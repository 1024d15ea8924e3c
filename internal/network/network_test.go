package network

import (
	"testing"

	"github.com/streetsim/streetsim_core/internal/geom"
	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/stretchr/testify/assert"
)

func validDefinition() Definition {
	return Definition{
		Name: "testnet",
		Intersections: []Intersection{
			{ID: 1, Control: ControlUncontrolled, Turns: []models.TurnID{10, 11}},
		},
		Lanes: []Lane{
			{ID: 1, To: 1, Length: 100, SpeedLimit: 14, Road: "main"},
			{ID: 2, To: 1, Length: 100, SpeedLimit: 14, Road: "side"},
			{ID: 3, From: 1, Length: 100, SpeedLimit: 14, Road: "main"},
		},
		Turns: []Turn{
			{ID: 10, Intersection: 1, From: 1, To: 3, Length: 8},
			{ID: 11, Intersection: 1, From: 2, To: 3, Length: 8},
		},
		Spots: []ParkingSpot{
			{ID: 100, Lane: 3, Offset: 50},
		},
	}
}

func TestNetworkValidation(t *testing.T) {
	t.Run("Valid definition builds", func(t *testing.T) {
		net, err := New(validDefinition())
		assert.NoError(t, err)
		assert.Len(t, net.Lanes, 3)
		assert.Len(t, net.Turns, 2)
		assert.Len(t, net.Spots, 1)
	})

	t.Run("Duplicate lane id rejected", func(t *testing.T) {
		def := validDefinition()
		def.Lanes = append(def.Lanes, Lane{ID: 1, Length: 50, SpeedLimit: 10})
		_, err := New(def)
		assert.ErrorContains(t, err, "duplicate lane id 1")
	})

	t.Run("Lane length derived from polyline", func(t *testing.T) {
		def := validDefinition()
		def.Lanes[0].Length = 0
		def.Lanes[0].Polyline = []geom.Pt{{X: 0, Y: 0}, {X: 80, Y: 0}}
		net, err := New(def)
		assert.NoError(t, err)
		lane, _ := net.Lane(1)
		assert.Equal(t, 80.0, lane.Length)
	})

	t.Run("Lane without length or geometry rejected", func(t *testing.T) {
		def := validDefinition()
		def.Lanes[0].Length = 0
		_, err := New(def)
		assert.ErrorContains(t, err, "no length and no geometry")
	})

	t.Run("Turn referencing unknown lane rejected", func(t *testing.T) {
		def := validDefinition()
		def.Turns[0].From = 99
		_, err := New(def)
		assert.ErrorContains(t, err, "unknown incoming lane 99")
	})

	t.Run("Signal without phases rejected", func(t *testing.T) {
		def := validDefinition()
		def.Intersections[0].Control = ControlSignal
		_, err := New(def)
		assert.ErrorContains(t, err, "signal control requires phases")
	})

	t.Run("Spot outside lane rejected", func(t *testing.T) {
		def := validDefinition()
		def.Spots[0].Offset = 150
		_, err := New(def)
		assert.ErrorContains(t, err, "outside lane")
	})

	t.Run("Defaults applied", func(t *testing.T) {
		def := validDefinition()
		def.Lanes[0].Class = ""
		net, err := New(def)
		assert.NoError(t, err)
		lane, _ := net.Lane(1)
		assert.Equal(t, ClassDriving, lane.Class)
	})
}

func TestTurnConflicts(t *testing.T) {
	t.Run("Shared outgoing lane conflicts", func(t *testing.T) {
		net, err := New(validDefinition())
		assert.NoError(t, err)
		assert.True(t, net.Conflicting(10, 11))
		assert.True(t, net.Conflicting(11, 10))
	})

	t.Run("Crossing geometries conflict", func(t *testing.T) {
		def := validDefinition()
		def.Lanes = append(def.Lanes, Lane{ID: 4, From: 1, Length: 100, SpeedLimit: 14})
		def.Turns = []Turn{
			{ID: 10, Intersection: 1, From: 1, To: 3,
				Polyline: []geom.Pt{{X: 0, Y: 5}, {X: 10, Y: 5}}},
			{ID: 11, Intersection: 1, From: 2, To: 4,
				Polyline: []geom.Pt{{X: 5, Y: 0}, {X: 5, Y: 10}}},
		}
		def.Intersections[0].Turns = []models.TurnID{10, 11}
		net, err := New(def)
		assert.NoError(t, err)
		assert.True(t, net.Conflicting(10, 11))
	})

	t.Run("Same incoming lane never conflicts", func(t *testing.T) {
		def := validDefinition()
		def.Lanes = append(def.Lanes, Lane{ID: 4, From: 1, Length: 100, SpeedLimit: 14})
		def.Turns = []Turn{
			{ID: 10, Intersection: 1, From: 1, To: 3, Length: 8},
			{ID: 11, Intersection: 1, From: 1, To: 4, Length: 8},
		}
		def.Intersections[0].Turns = []models.TurnID{10, 11}
		net, err := New(def)
		assert.NoError(t, err)
		assert.False(t, net.Conflicting(10, 11))
	})

	t.Run("Missing geometry conflicts conservatively", func(t *testing.T) {
		// Without polylines nothing proves the movements disjoint, so
		// crossing is assumed even with distinct exit lanes.
		def := validDefinition()
		def.Lanes = append(def.Lanes, Lane{ID: 4, From: 1, Length: 100, SpeedLimit: 14})
		def.Turns = []Turn{
			{ID: 10, Intersection: 1, From: 1, To: 3, Length: 8},
			{ID: 11, Intersection: 1, From: 2, To: 4, Length: 8},
		}
		def.Intersections[0].Turns = []models.TurnID{10, 11}
		net, err := New(def)
		assert.NoError(t, err)
		assert.True(t, net.Conflicting(10, 11))
	})

	t.Run("Disjoint geometries do not conflict", func(t *testing.T) {
		def := validDefinition()
		def.Lanes = append(def.Lanes, Lane{ID: 4, From: 1, Length: 100, SpeedLimit: 14})
		def.Turns = []Turn{
			{ID: 10, Intersection: 1, From: 1, To: 3,
				Polyline: []geom.Pt{{X: 0, Y: 0}, {X: 10, Y: 0}}},
			{ID: 11, Intersection: 1, From: 2, To: 4,
				Polyline: []geom.Pt{{X: 0, Y: 20}, {X: 10, Y: 20}}},
		}
		def.Intersections[0].Turns = []models.TurnID{10, 11}
		net, err := New(def)
		assert.NoError(t, err)
		assert.False(t, net.Conflicting(10, 11))
	})
}

func TestNetworkIndexes(t *testing.T) {
	net, err := New(validDefinition())
	assert.NoError(t, err)

	assert.Equal(t, []models.TurnID{10}, net.TurnsFrom(1))
	assert.Equal(t, []models.TurnID{11}, net.TurnsFrom(2))
	assert.Empty(t, net.TurnsFrom(3))
	assert.Equal(t, []models.SpotID{100}, net.SpotsOn(3))
}
