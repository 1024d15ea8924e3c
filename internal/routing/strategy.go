package routing

import (
	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/network"
)

// Strategy defines how a mode experiences the network: which lanes it may
// use and how fast it traverses them. One strategy per mode, a fixed,
// closed set.
type Strategy interface {
	// Name returns the strategy identifier
	Name() string

	// EffectiveSpeed returns the free-flow speed on a lane in m/s, or 0
	// when the mode may not use the lane at all.
	EffectiveSpeed(lane *network.Lane) float64

	// MaxSpeed returns the mode's top speed in m/s, used as the routing
	// heuristic divisor.
	MaxSpeed() float64
}

// CarStrategy routes over driving lanes at the lane speed limit.
type CarStrategy struct{}

func (s *CarStrategy) Name() string { return "car" }

func (s *CarStrategy) MaxSpeed() float64 { return 31.0 } // ~112 km/h

func (s *CarStrategy) EffectiveSpeed(lane *network.Lane) float64 {
	if lane.Class != network.ClassDriving {
		return 0
	}
	return min(lane.SpeedLimit, s.MaxSpeed())
}

// BikeStrategy routes over biking and driving lanes, capped at cycling speed.
type BikeStrategy struct{}

func (s *BikeStrategy) Name() string { return "bike" }

func (s *BikeStrategy) MaxSpeed() float64 { return 5.5 } // ~20 km/h

func (s *BikeStrategy) EffectiveSpeed(lane *network.Lane) float64 {
	if lane.Class == network.ClassSidewalk {
		return 0
	}
	return min(lane.SpeedLimit, s.MaxSpeed())
}

// PedestrianStrategy routes over sidewalks and biking lanes at walking speed.
type PedestrianStrategy struct{}

func (s *PedestrianStrategy) Name() string { return "pedestrian" }

func (s *PedestrianStrategy) MaxSpeed() float64 { return 1.4 }

func (s *PedestrianStrategy) EffectiveSpeed(lane *network.Lane) float64 {
	if lane.Class == network.ClassDriving {
		return 0
	}
	return s.MaxSpeed()
}

// TransitVehicleStrategy routes transit vehicles like cars; their riders
// are routed with the pedestrian strategy around the ride leg.
type TransitVehicleStrategy struct{}

func (s *TransitVehicleStrategy) Name() string { return "transit_vehicle" }

func (s *TransitVehicleStrategy) MaxSpeed() float64 { return 22.0 }

func (s *TransitVehicleStrategy) EffectiveSpeed(lane *network.Lane) float64 {
	if lane.Class != network.ClassDriving {
		return 0
	}
	return min(lane.SpeedLimit, s.MaxSpeed())
}

// GetStrategy returns the routing strategy for a mode. Transit here means
// the rider's walking legs; vehicles use GetVehicleStrategy.
func GetStrategy(mode models.Mode) Strategy {
	switch mode {
	case models.ModeCar:
		return &CarStrategy{}
	case models.ModeBike:
		return &BikeStrategy{}
	case models.ModePedestrian, models.ModeTransit:
		return &PedestrianStrategy{}
	default:
		return &CarStrategy{}
	}
}

// GetVehicleStrategy returns the strategy for a transit vehicle.
func GetVehicleStrategy() Strategy {
	return &TransitVehicleStrategy{}
}
