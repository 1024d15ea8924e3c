package intersection

import (
	"testing"

	"github.com/streetsim/streetsim_core/internal/geom"
	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/network"
	"github.com/stretchr/testify/assert"
)

func sec(s float64) models.SimTime { return models.FromSeconds(s) }

// crossing builds a junction with three approaches onto a shared exit
// lane plus one independent exit. Turns 10, 11, 12 all conflict with each
// other through lane 3; turn 13 conflicts with nothing.
func crossing(t *testing.T, control network.ControlKind, mutate func(*network.Definition)) (*network.Network, Controller) {
	t.Helper()
	def := network.Definition{
		Name: "crossing",
		Intersections: []network.Intersection{
			{
				ID:      1,
				Control: control,
				Turns:   []models.TurnID{10, 11, 12, 13},
				RoadPriority: map[string]int{
					"main": 2,
					"side": 1,
				},
			},
		},
		Lanes: []network.Lane{
			{ID: 1, To: 1, Length: 100, SpeedLimit: 14, Road: "main"},
			{ID: 2, To: 1, Length: 100, SpeedLimit: 14, Road: "side"},
			{ID: 5, To: 1, Length: 100, SpeedLimit: 14, Road: "main"},
			{ID: 3, From: 1, Length: 100, SpeedLimit: 14},
			{ID: 4, From: 1, Length: 100, SpeedLimit: 14},
		},
		Turns: []network.Turn{
			{ID: 10, Intersection: 1, From: 1, To: 3, Length: 8,
				Polyline: []geom.Pt{{X: 0, Y: 0}, {X: 8, Y: 0}}},
			{ID: 11, Intersection: 1, From: 2, To: 3, Length: 8,
				Polyline: []geom.Pt{{X: 0, Y: 2}, {X: 8, Y: 2}}},
			{ID: 12, Intersection: 1, From: 5, To: 3, Length: 8,
				Polyline: []geom.Pt{{X: 0, Y: 4}, {X: 8, Y: 4}}},
			{ID: 13, Intersection: 1, From: 2, To: 4, Length: 8,
				Polyline: []geom.Pt{{X: 0, Y: 20}, {X: 8, Y: 20}}},
		},
	}
	if mutate != nil {
		mutate(&def)
	}
	net, err := network.New(def)
	assert.NoError(t, err)
	ix, _ := net.Intersection(1)
	ctrl, err := New(net, ix)
	assert.NoError(t, err)
	return net, ctrl
}

func TestUncontrolled(t *testing.T) {
	t.Run("Grants when nothing conflicts", func(t *testing.T) {
		_, ctrl := crossing(t, network.ControlUncontrolled, nil)
		granted, err := ctrl.RequestTurn(1, 10, sec(0))
		assert.NoError(t, err)
		assert.True(t, granted)
	})

	t.Run("Conflicting request queues until the turn finishes", func(t *testing.T) {
		_, ctrl := crossing(t, network.ControlUncontrolled, nil)
		granted, _ := ctrl.RequestTurn(1, 10, sec(0))
		assert.True(t, granted)

		granted, err := ctrl.RequestTurn(2, 11, sec(1))
		assert.NoError(t, err)
		assert.False(t, granted)

		grants, err := ctrl.TurnFinished(1, 10, sec(5))
		assert.NoError(t, err)
		assert.Equal(t, []Grant{{Agent: 2, Turn: 11}}, grants)
	})

	t.Run("Non-conflicting turns run concurrently", func(t *testing.T) {
		_, ctrl := crossing(t, network.ControlUncontrolled, nil)
		granted, _ := ctrl.RequestTurn(1, 10, sec(0))
		assert.True(t, granted)
		granted, _ = ctrl.RequestTurn(2, 13, sec(0))
		assert.True(t, granted)
	})

	t.Run("Queued grants come in arrival order", func(t *testing.T) {
		_, ctrl := crossing(t, network.ControlUncontrolled, nil)
		ctrl.RequestTurn(1, 10, sec(0))
		ctrl.RequestTurn(2, 11, sec(1))
		ctrl.RequestTurn(3, 12, sec(2))

		grants, err := ctrl.TurnFinished(1, 10, sec(5))
		assert.NoError(t, err)
		// 11 admitted first; 12 conflicts with it and keeps waiting.
		assert.Equal(t, []Grant{{Agent: 2, Turn: 11}}, grants)

		grants, err = ctrl.TurnFinished(2, 11, sec(9))
		assert.NoError(t, err)
		assert.Equal(t, []Grant{{Agent: 3, Turn: 12}}, grants)
	})
}

func TestStopSign(t *testing.T) {
	t.Run("Sole arrival is granted once its stop elapses", func(t *testing.T) {
		_, ctrl := crossing(t, network.ControlStopSign, nil)
		granted, err := ctrl.RequestTurn(1, 10, sec(0))
		assert.NoError(t, err)
		assert.False(t, granted)

		// Still serving the mandatory stop.
		grants, err := ctrl.Reevaluate(sec(0.2))
		assert.NoError(t, err)
		assert.Empty(t, grants)

		at, ok := ctrl.NextChange(sec(0))
		assert.True(t, ok)
		assert.Equal(t, sec(0.5), at)

		grants, err = ctrl.Reevaluate(at)
		assert.NoError(t, err)
		assert.Equal(t, []Grant{{Agent: 1, Turn: 10}}, grants)
	})

	t.Run("Simultaneous arrivals compete on road priority", func(t *testing.T) {
		_, ctrl := crossing(t, network.ControlStopSign, nil)
		// Side road's request happens to be processed first; that must
		// not decide anything.
		ctrl.RequestTurn(2, 11, sec(3))
		ctrl.RequestTurn(1, 10, sec(3))

		grants, err := ctrl.Reevaluate(sec(3.5))
		assert.NoError(t, err)
		assert.Equal(t, []Grant{{Agent: 1, Turn: 10}}, grants)

		grants, err = ctrl.TurnFinished(1, 10, sec(5))
		assert.NoError(t, err)
		assert.Equal(t, []Grant{{Agent: 2, Turn: 11}}, grants)
	})

	t.Run("Road priority beats arrival order", func(t *testing.T) {
		_, ctrl := crossing(t, network.ControlStopSign, nil)
		ctrl.RequestTurn(1, 10, sec(0))
		grants, _ := ctrl.Reevaluate(sec(0.5))
		assert.Equal(t, []Grant{{Agent: 1, Turn: 10}}, grants)

		// Side road arrives before main, but main outranks it once the
		// junction clears.
		ctrl.RequestTurn(2, 11, sec(1))
		ctrl.RequestTurn(3, 12, sec(2))

		grants, err := ctrl.TurnFinished(1, 10, sec(10))
		assert.NoError(t, err)
		assert.Equal(t, []Grant{{Agent: 3, Turn: 12}}, grants)

		grants, err = ctrl.TurnFinished(3, 12, sec(15))
		assert.NoError(t, err)
		assert.Equal(t, []Grant{{Agent: 2, Turn: 11}}, grants)
	})

	t.Run("Equal priority and arrival falls back to lowest agent id", func(t *testing.T) {
		_, ctrl := crossing(t, network.ControlStopSign, func(def *network.Definition) {
			def.Lanes[1].Road = "main" // side approach promoted, all equal
		})
		ctrl.RequestTurn(1, 10, sec(0))
		grants, _ := ctrl.Reevaluate(sec(0.5))
		assert.Equal(t, []Grant{{Agent: 1, Turn: 10}}, grants)

		ctrl.RequestTurn(9, 11, sec(5))
		ctrl.RequestTurn(4, 12, sec(5))

		grants, err := ctrl.TurnFinished(1, 10, sec(10))
		assert.NoError(t, err)
		assert.Equal(t, []Grant{{Agent: 4, Turn: 12}}, grants)
	})

	t.Run("Later arrival on the same approach waits behind the head", func(t *testing.T) {
		_, ctrl := crossing(t, network.ControlStopSign, nil)
		ctrl.RequestTurn(1, 10, sec(0))
		grants, _ := ctrl.Reevaluate(sec(0.5))
		assert.Equal(t, []Grant{{Agent: 1, Turn: 10}}, grants)

		ctrl.RequestTurn(2, 11, sec(1))
		ctrl.RequestTurn(3, 11, sec(2))

		grants, _ = ctrl.TurnFinished(1, 10, sec(10))
		assert.Equal(t, []Grant{{Agent: 2, Turn: 11}}, grants)
	})

	t.Run("NextChange reports only pending stop expiries", func(t *testing.T) {
		_, ctrl := crossing(t, network.ControlStopSign, nil)
		_, ok := ctrl.NextChange(sec(0))
		assert.False(t, ok)

		ctrl.RequestTurn(1, 10, sec(0))
		ctrl.RequestTurn(2, 11, sec(3))

		at, ok := ctrl.NextChange(sec(0))
		assert.True(t, ok)
		assert.Equal(t, sec(0.5), at)

		at, ok = ctrl.NextChange(sec(1))
		assert.True(t, ok)
		assert.Equal(t, sec(3.5), at)

		_, ok = ctrl.NextChange(sec(4))
		assert.False(t, ok)
	})
}

func TestSignal(t *testing.T) {
	phased := func(def *network.Definition) {
		def.Intersections[0].Phases = []network.Phase{
			{Turns: []models.TurnID{10}, Duration: sec(30)},
			{Turns: []models.TurnID{11, 13}, Duration: sec(30)},
		}
		def.Intersections[0].AllRed = sec(2)
	}

	t.Run("Grants only during the turn's phase", func(t *testing.T) {
		_, ctrl := crossing(t, network.ControlSignal, phased)

		granted, err := ctrl.RequestTurn(1, 10, sec(0))
		assert.NoError(t, err)
		assert.True(t, granted)

		granted, err = ctrl.RequestTurn(2, 13, sec(0))
		assert.NoError(t, err)
		assert.False(t, granted)
	})

	t.Run("NextChange reports the phase boundary while requests wait", func(t *testing.T) {
		_, ctrl := crossing(t, network.ControlSignal, phased)

		_, ok := ctrl.NextChange(sec(0))
		assert.False(t, ok) // empty queue, nothing to re-evaluate

		ctrl.RequestTurn(2, 13, sec(0))
		at, ok := ctrl.NextChange(sec(0))
		assert.True(t, ok)
		assert.Equal(t, sec(30), at)
	})

	t.Run("All-red interval grants nothing", func(t *testing.T) {
		_, ctrl := crossing(t, network.ControlSignal, phased)
		ctrl.RequestTurn(2, 13, sec(0))

		grants, err := ctrl.Reevaluate(sec(31))
		assert.NoError(t, err)
		assert.Empty(t, grants)

		grants, err = ctrl.Reevaluate(sec(33))
		assert.NoError(t, err)
		assert.Equal(t, []Grant{{Agent: 2, Turn: 13}}, grants)
	})

	t.Run("Green phase still blocks on a conflicting straggler", func(t *testing.T) {
		_, ctrl := crossing(t, network.ControlSignal, phased)
		granted, _ := ctrl.RequestTurn(1, 10, sec(0))
		assert.True(t, granted)

		// Phase 1 is green for 11, but agent 1 is still clearing the
		// conflicting turn 10.
		ctrl.RequestTurn(2, 11, sec(10))
		grants, err := ctrl.Reevaluate(sec(33))
		assert.NoError(t, err)
		assert.Empty(t, grants)

		grants, err = ctrl.TurnFinished(1, 10, sec(34))
		assert.NoError(t, err)
		assert.Equal(t, []Grant{{Agent: 2, Turn: 11}}, grants)
	})

	t.Run("Signal without phases is rejected at build", func(t *testing.T) {
		def := network.Definition{
			Name: "bad",
			Intersections: []network.Intersection{
				{ID: 1, Control: network.ControlSignal},
			},
		}
		_, err := network.New(def)
		assert.Error(t, err)
	})
}

func TestRoundabout(t *testing.T) {
	circulating := func(def *network.Definition) {
		def.Turns[2].Circulating = true // turn 12 becomes the ring movement
	}

	t.Run("Entry yields to a queued circulating movement", func(t *testing.T) {
		_, ctrl := crossing(t, network.ControlRoundabout, circulating)

		granted, _ := ctrl.RequestTurn(1, 10, sec(0))
		assert.True(t, granted)

		// Ring movement blocked by the entry in progress.
		granted, _ = ctrl.RequestTurn(2, 12, sec(1))
		assert.False(t, granted)

		// A new entry may not jump the waiting ring movement even on a
		// non-conflicting turn.
		granted, _ = ctrl.RequestTurn(3, 13, sec(2))
		assert.False(t, granted)

		grants, err := ctrl.TurnFinished(1, 10, sec(5))
		assert.NoError(t, err)
		assert.Equal(t, []Grant{
			{Agent: 2, Turn: 12},
			{Agent: 3, Turn: 13},
		}, grants)
	})

	t.Run("Entries flow freely with an empty ring", func(t *testing.T) {
		_, ctrl := crossing(t, network.ControlRoundabout, circulating)
		granted, _ := ctrl.RequestTurn(1, 13, sec(0))
		assert.True(t, granted)
	})
}

func TestSnapshotRestore(t *testing.T) {
	_, ctrl := crossing(t, network.ControlStopSign, nil)
	ctrl.RequestTurn(1, 10, sec(0))
	grants, _ := ctrl.Reevaluate(sec(0.5))
	assert.Equal(t, []Grant{{Agent: 1, Turn: 10}}, grants)
	ctrl.RequestTurn(2, 11, sec(1))

	snap := ctrl.Snapshot()
	assert.Len(t, snap.InProgress, 1)
	assert.Len(t, snap.Queue, 1)

	_, restored := crossing(t, network.ControlStopSign, nil)
	restored.Restore(snap)

	// The in-progress turn still blocks, and finishing it releases the
	// queued request exactly as before the snapshot.
	granted, _ := restored.RequestTurn(3, 12, sec(2))
	assert.False(t, granted)

	grants, err := restored.TurnFinished(1, 10, sec(5))
	assert.NoError(t, err)
	assert.Equal(t, []Grant{{Agent: 3, Turn: 12}}, grants)
}
