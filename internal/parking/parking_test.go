package parking

import (
	"testing"

	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/network"
	"github.com/stretchr/testify/assert"
)

// spotNet is two lanes joined by one turn, with spots on both.
func spotNet(t *testing.T) *network.Network {
	t.Helper()
	net, err := network.New(network.Definition{
		Name: "spots",
		Intersections: []network.Intersection{
			{ID: 1, Turns: []models.TurnID{10}},
		},
		Lanes: []network.Lane{
			{ID: 1, To: 1, Length: 100, SpeedLimit: 14},
			{ID: 2, From: 1, Length: 100, SpeedLimit: 14},
		},
		Turns: []network.Turn{
			{ID: 10, Intersection: 1, From: 1, To: 2, Length: 5},
		},
		Spots: []network.ParkingSpot{
			{ID: 100, Lane: 1, Offset: 50},
			{ID: 101, Lane: 2, Offset: 20},
			{ID: 102, Lane: 2, Offset: 80},
		},
	})
	assert.NoError(t, err)
	return net
}

func TestRequestLifecycle(t *testing.T) {
	origin := models.Position{Lane: 1, Distance: 10}

	t.Run("Assigns and reserves a spot", func(t *testing.T) {
		m := NewManager(spotNet(t), 42)
		res := m.Request(7, origin, 0)
		assert.Equal(t, ResultAssigned, res.Kind)
		assert.Equal(t, models.SpotID(100), res.Spot) // only spot on lane 1

		state, holder := m.State(res.Spot)
		assert.Equal(t, SpotReserved, state)
		assert.Equal(t, models.AgentID(7), holder)
	})

	t.Run("Occupy requires a matching reservation", func(t *testing.T) {
		m := NewManager(spotNet(t), 42)
		res := m.Request(7, origin, 0)
		assert.Equal(t, ResultAssigned, res.Kind)

		assert.Error(t, m.Occupy(res.Spot, 8)) // wrong agent
		assert.NoError(t, m.Occupy(res.Spot, 7))
		state, _ := m.State(res.Spot)
		assert.Equal(t, SpotOccupied, state)

		assert.Error(t, m.Occupy(res.Spot, 7)) // already occupied
	})

	t.Run("Radius widens then exhausts", func(t *testing.T) {
		m := NewManager(spotNet(t), 42)
		// Take everything.
		for _, agent := range []models.AgentID{1, 2, 3} {
			res := m.Request(agent, origin, MaxSearchRadius)
			assert.Equal(t, ResultAssigned, res.Kind)
		}

		res := m.Request(4, origin, 0)
		assert.Equal(t, ResultSearchFurther, res.Kind)
		assert.Equal(t, 1, res.NextRadius)

		res = m.Request(4, origin, MaxSearchRadius)
		assert.Equal(t, ResultExhausted, res.Kind)
	})

	t.Run("Radius zero sees only the origin lane", func(t *testing.T) {
		m := NewManager(spotNet(t), 42)
		res := m.Request(1, origin, 0)
		assert.Equal(t, ResultAssigned, res.Kind)
		assert.Equal(t, models.SpotID(100), res.Spot)

		// Lane 1 is now full at radius 0.
		res = m.Request(2, origin, 0)
		assert.Equal(t, ResultSearchFurther, res.Kind)
	})
}

func TestRequestDeterminism(t *testing.T) {
	origin := models.Position{Lane: 1, Distance: 10}

	t.Run("Same seed and agent always pick the same spot", func(t *testing.T) {
		var first models.SpotID
		for i := 0; i < 10; i++ {
			m := NewManager(spotNet(t), 1234)
			res := m.Request(9, origin, 2)
			assert.Equal(t, ResultAssigned, res.Kind)
			if i == 0 {
				first = res.Spot
			} else {
				assert.Equal(t, first, res.Spot)
			}
		}
	})

	t.Run("Choice is independent of request history shape", func(t *testing.T) {
		a := NewManager(spotNet(t), 99)
		b := NewManager(spotNet(t), 99)
		// Different earlier traffic on b must not disturb agent 5's
		// permutation, only which spots are still free.
		resA := a.Request(5, origin, 2)
		b.Request(77, models.Position{Lane: 2}, 0)
		resB := b.Request(5, origin, 2)
		assert.Equal(t, resA.Kind, resB.Kind)
	})
}

func TestReleaseAndWaiters(t *testing.T) {
	origin := models.Position{Lane: 1, Distance: 10}

	t.Run("Release frees the spot and drains waiters FIFO", func(t *testing.T) {
		m := NewManager(spotNet(t), 42)
		res := m.Request(1, origin, 0)
		assert.NoError(t, m.Occupy(res.Spot, 1))

		m.AddWaiter(2)
		m.AddWaiter(3)

		woken, err := m.Release(res.Spot, 1)
		assert.NoError(t, err)
		assert.Equal(t, []models.AgentID{2, 3}, woken)

		state, _ := m.State(res.Spot)
		assert.Equal(t, SpotFree, state)

		// Waiter list is consumed.
		res2 := m.Request(2, origin, 0)
		assert.Equal(t, ResultAssigned, res2.Kind)
		woken, err = m.Release(res2.Spot, 2)
		assert.NoError(t, err)
		assert.Empty(t, woken)
	})

	t.Run("Release by non-holder fails", func(t *testing.T) {
		m := NewManager(spotNet(t), 42)
		res := m.Request(1, origin, 0)
		_, err := m.Release(res.Spot, 9)
		assert.Error(t, err)
	})
}

func TestSnapshotRestore(t *testing.T) {
	origin := models.Position{Lane: 1, Distance: 10}

	m := NewManager(spotNet(t), 42)
	res := m.Request(1, origin, 2)
	assert.NoError(t, m.Occupy(res.Spot, 1))
	res2 := m.Request(2, origin, 2)
	assert.Equal(t, ResultAssigned, res2.Kind)
	m.AddWaiter(9)

	snap := m.Snapshot()
	waiters := m.Waiters()
	assert.Len(t, snap, 2) // free spots are omitted

	fresh := NewManager(spotNet(t), 42)
	fresh.Restore(snap, waiters)

	state, holder := fresh.State(res.Spot)
	assert.Equal(t, SpotOccupied, state)
	assert.Equal(t, models.AgentID(1), holder)
	state, holder = fresh.State(res2.Spot)
	assert.Equal(t, SpotReserved, state)
	assert.Equal(t, models.AgentID(2), holder)
	assert.Equal(t, []models.AgentID{9}, fresh.Waiters())
}
