package routing

import (
	"testing"

	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/network"
	"github.com/stretchr/testify/assert"
)

func TestCarStrategy(t *testing.T) {
	strategy := &CarStrategy{}

	t.Run("Name", func(t *testing.T) {
		assert.Equal(t, "car", strategy.Name())
	})

	t.Run("Driving lane capped at speed limit", func(t *testing.T) {
		lane := &network.Lane{Class: network.ClassDriving, SpeedLimit: 14}
		assert.Equal(t, 14.0, strategy.EffectiveSpeed(lane))
	})

	t.Run("High limit capped at top speed", func(t *testing.T) {
		lane := &network.Lane{Class: network.ClassDriving, SpeedLimit: 50}
		assert.Equal(t, strategy.MaxSpeed(), strategy.EffectiveSpeed(lane))
	})

	t.Run("Sidewalk excluded", func(t *testing.T) {
		lane := &network.Lane{Class: network.ClassSidewalk, SpeedLimit: 14}
		assert.Equal(t, 0.0, strategy.EffectiveSpeed(lane))
	})

	t.Run("Bike lane excluded", func(t *testing.T) {
		lane := &network.Lane{Class: network.ClassBiking, SpeedLimit: 14}
		assert.Equal(t, 0.0, strategy.EffectiveSpeed(lane))
	})
}

func TestBikeStrategy(t *testing.T) {
	strategy := &BikeStrategy{}

	t.Run("Rides driving and bike lanes", func(t *testing.T) {
		assert.Equal(t, 5.5, strategy.EffectiveSpeed(&network.Lane{Class: network.ClassDriving, SpeedLimit: 14}))
		assert.Equal(t, 5.5, strategy.EffectiveSpeed(&network.Lane{Class: network.ClassBiking, SpeedLimit: 14}))
	})

	t.Run("Slow lane caps below top speed", func(t *testing.T) {
		lane := &network.Lane{Class: network.ClassDriving, SpeedLimit: 3}
		assert.Equal(t, 3.0, strategy.EffectiveSpeed(lane))
	})

	t.Run("Sidewalk excluded", func(t *testing.T) {
		assert.Equal(t, 0.0, strategy.EffectiveSpeed(&network.Lane{Class: network.ClassSidewalk, SpeedLimit: 14}))
	})
}

func TestPedestrianStrategy(t *testing.T) {
	strategy := &PedestrianStrategy{}

	t.Run("Walks sidewalks at fixed speed regardless of limit", func(t *testing.T) {
		lane := &network.Lane{Class: network.ClassSidewalk, SpeedLimit: 14}
		assert.Equal(t, 1.4, strategy.EffectiveSpeed(lane))
	})

	t.Run("Driving lanes excluded", func(t *testing.T) {
		assert.Equal(t, 0.0, strategy.EffectiveSpeed(&network.Lane{Class: network.ClassDriving, SpeedLimit: 14}))
	})
}

func TestGetStrategy(t *testing.T) {
	assert.Equal(t, "car", GetStrategy(models.ModeCar).Name())
	assert.Equal(t, "bike", GetStrategy(models.ModeBike).Name())
	assert.Equal(t, "pedestrian", GetStrategy(models.ModePedestrian).Name())

	// Transit riders route their walking legs on foot.
	assert.Equal(t, "pedestrian", GetStrategy(models.ModeTransit).Name())

	assert.Equal(t, "transit_vehicle", GetVehicleStrategy().Name())
}
