package agents

import (
	"fmt"

	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/network"
	"github.com/streetsim/streetsim_core/internal/parking"
	"github.com/streetsim/streetsim_core/internal/routing"
)

const (
	// spawnRetryDelay is how long a blocked spawn waits before trying to
	// squeeze onto its origin lane again.
	spawnRetryDelay = models.SimTime(2e9) // 2s

	// maxParkRetries bounds how many times an exhausted parking search is
	// retried after wake-ups before the trip fails.
	maxParkRetries = 3

	// Transit dwell: base door time plus per-passenger boarding/alighting.
	dwellBase         = models.SimTime(15e9) // 15s
	dwellPerPassenger = models.SimTime(2e9)  // 2s

	// entryRecheck pads the predicted lane-entry wake so the gap has
	// strictly opened by then; rounding in the prediction must never
	// re-arm the same instant.
	entryRecheck = models.SimTime(1e6) // 1ms

	arriveEps = 1e-6
)

// UnroutableTripError reports a path that cannot be traversed: zero steps
// or a first step the agent cannot physically take.
type UnroutableTripError struct {
	Trip models.TripID
}

func (e *UnroutableTripError) Error() string {
	return fmt.Sprintf("agents: trip %d has no traversable path", e.Trip)
}

// effSpeed returns the agent's free-flow speed on a lane.
func effSpeed(a *Agent, lane *network.Lane) float64 {
	var s routing.Strategy
	if a.Kind == KindTransitVehicle {
		s = routing.GetVehicleStrategy()
	} else {
		s = routing.GetStrategy(a.Mode)
	}
	v := s.EffectiveSpeed(lane)
	if v <= 0 {
		// The router admitted this lane, so a zero here is a stale class
		// edit; crawl rather than divide by zero.
		v = 0.1
	}
	return v
}

func topSpeed(a *Agent) float64 {
	if a.Kind == KindTransitVehicle {
		return routing.GetVehicleStrategy().MaxSpeed()
	}
	return routing.GetStrategy(a.Mode).MaxSpeed()
}

// stepTarget returns how far along its current step the agent travels
// before its next transition.
func stepTarget(a *Agent, w World) (float64, error) {
	step, ok := a.CurrentStep()
	if !ok {
		return 0, fmt.Errorf("agents: agent %d has no current step", a.ID)
	}
	switch step.Kind {
	case models.StepTurn:
		turn, ok := w.Net().Turn(step.Turn)
		if !ok {
			return 0, fmt.Errorf("agents: agent %d on unknown turn %d", a.ID, step.Turn)
		}
		return turn.Length, nil
	case models.StepLane:
		lane, ok := w.Net().Lane(step.Lane)
		if !ok {
			return 0, fmt.Errorf("agents: agent %d on unknown lane %d", a.ID, step.Lane)
		}
		// Driving toward a reserved spot on this lane ends at its offset.
		if a.Spot != 0 {
			if spot, ok := w.Net().Spots[a.Spot]; ok && spot.Lane == step.Lane {
				return spot.Offset, nil
			}
		}
		if a.OnFinalStep() {
			return a.Path.End, nil
		}
		return lane.Length, nil
	default:
		return 0, fmt.Errorf("agents: agent %d on step of unknown kind %q", a.ID, step.Kind)
	}
}

// Spawn places a freshly created agent at the start of its path. The
// caller has already validated the path against the router; an empty path
// is an UnroutableTripError.
func Spawn(a *Agent, now models.SimTime, w World) error {
	if a.Path == nil || len(a.Path.Steps) == 0 {
		return &UnroutableTripError{Trip: a.Trip}
	}
	first := a.Path.Steps[0]
	if first.Kind != models.StepLane {
		return &UnroutableTripError{Trip: a.Trip}
	}
	a.Status = models.StatusSpawning
	a.StepIndex = 0
	a.SetKinematics(now, a.Path.Start, 0)
	return trySpawn(a, now, w)
}

// trySpawn attempts the origin-lane insertion; when the lane is too
// crowded the attempt is retried after a short delay rather than
// overlapping anyone.
func trySpawn(a *Agent, now models.SimTime, w World) error {
	step, _ := a.CurrentStep()
	q := w.Queue(step.Lane)
	err := q.Insert(a.ID, a.Footprint(), a.Dist, now, func(id models.AgentID) float64 {
		return w.HeadPos(id, now)
	})
	if err != nil {
		return w.ScheduleUpdate(a, now+spawnRetryDelay)
	}
	a.Status = models.StatusMoving
	// Whoever is now behind the insertion point predicted its arrival
	// against the old leader; that prediction is stale.
	if follower, ok := q.FollowerOf(a.ID); ok {
		w.WakeAgent(follower, now)
	}
	return scheduleMove(a, now, w)
}

// Advance is the shared capability of every movement model: react to this
// agent's scheduled event at time now and decide its next one.
func Advance(a *Agent, now models.SimTime, w World) error {
	a.Pending = nil

	switch a.Status {
	case models.StatusSpawning:
		return trySpawn(a, now, w)
	case models.StatusDone, models.StatusParked:
		return nil // stale wake-up after a terminal transition
	case models.StatusBoarding:
		if a.Kind == KindTransitVehicle {
			return vehicleDepart(a, now, w)
		}
		return nil // riders move again when their vehicle does
	case models.StatusWaitingAtIntersection:
		return advanceWaiting(a, now, w)
	case models.StatusParking:
		if a.Spot == 0 {
			return searchParking(a, now, w)
		}
	}

	return advanceMoving(a, now, w)
}

// advanceMoving settles the agent at its extrapolated position and either
// completes the current step or reschedules the prediction.
func advanceMoving(a *Agent, now models.SimTime, w World) error {
	target, err := stepTarget(a, w)
	if err != nil {
		return err
	}
	pos := a.PosAt(now)
	if pos > target {
		pos = target
	}
	oldSpeed := a.Speed
	a.SetKinematics(now, pos, a.Speed)

	if pos >= target-arriveEps {
		step, _ := a.CurrentStep()
		if step.Kind == models.StepTurn {
			return endOfTurn(a, now, w)
		}
		return endOfLane(a, now, w)
	}

	if err := scheduleMove(a, now, w); err != nil {
		return err
	}
	if a.Speed != oldSpeed {
		wakeFollower(a, now, w)
	}
	return nil
}

// scheduleMove computes, analytically, the earliest time the agent reaches
// its step target given its free-flow speed and its leader, and schedules
// exactly one event for it. A faster follower is capped at the leader's
// rear: it either reaches the target first or catches the leader and
// adopts its speed at the catch point.
func scheduleMove(a *Agent, now models.SimTime, w World) error {
	step, _ := a.CurrentStep()
	target, err := stepTarget(a, w)
	if err != nil {
		return err
	}
	pos := a.PosAt(now)

	var v float64
	if step.Kind == models.StepTurn {
		v = topSpeed(a)
	} else {
		lane, _ := w.Net().Lane(step.Lane)
		v = effSpeed(a, lane)
	}

	if step.Kind == models.StepLane {
		q := w.Queue(step.Lane)
		if leaderID, ok := q.LeaderOf(a.ID); ok {
			leader, found := w.AgentByID(leaderID)
			if found {
				lv := leader.Speed
				lrear := leader.PosAt(now) - q.FootprintOf(leaderID)
				gap := lrear - pos
				if gap <= arriveEps {
					// Bumper to bumper: match the leader.
					a.SetKinematics(now, pos, lv)
					if lv <= 0 {
						return nil // stalled; woken when the leader changes
					}
					return scheduleArrival(a, now, pos, target, lv, w)
				}
				if v > lv {
					tCatch := gap / (v - lv)
					posCatch := pos + v*tCatch
					if posCatch < target {
						// Catches the leader before the step ends:
						// re-evaluate at the catch point.
						a.SetKinematics(now, pos, v)
						a.Pending = nil
						return w.ScheduleUpdate(a, now+models.FromSeconds(tCatch))
					}
				}
			}
		}
	}

	a.SetKinematics(now, pos, v)
	return scheduleArrival(a, now, pos, target, v, w)
}

func scheduleArrival(a *Agent, now models.SimTime, pos, target, v float64, w World) error {
	if v <= 0 {
		return nil
	}
	eta := models.FromSeconds((target - pos) / v)
	return w.ScheduleUpdate(a, now+eta)
}

// wakeFollower re-evaluates the agent directly behind, whose prediction
// assumed this agent's old speed.
func wakeFollower(a *Agent, now models.SimTime, w World) {
	step, ok := a.CurrentStep()
	if !ok || step.Kind != models.StepLane {
		return
	}
	if follower, ok := w.Queue(step.Lane).FollowerOf(a.ID); ok {
		w.WakeAgent(follower, now)
	}
}

// endOfLane handles an agent reaching its target on a lane step: the trip
// end, a reserved parking spot, or the approach to a turn.
func endOfLane(a *Agent, now models.SimTime, w World) error {
	step, _ := a.CurrentStep()

	// Reserved spot reached.
	if a.Spot != 0 {
		if spot, ok := w.Net().Spots[a.Spot]; ok && spot.Lane == step.Lane && a.Dist >= spot.Offset-arriveEps {
			if err := w.OccupySpot(a); err != nil {
				return err
			}
			w.LeaveLane(a, step.Lane, now)
			a.Status = models.StatusParked
			w.TripDone(a, now)
			return nil
		}
	}

	if a.OnFinalStep() {
		return arriveAtPathEnd(a, now, w)
	}

	next := a.Path.Steps[a.StepIndex+1]
	if next.Kind != models.StepTurn {
		return fmt.Errorf("agents: agent %d: lane step %d followed by non-turn step", a.ID, a.StepIndex)
	}

	a.Status = models.StatusWaitingAtIntersection
	a.Granted = false
	a.SetKinematics(now, a.Dist, 0)
	wakeFollower(a, now, w)

	granted, err := w.RequestTurn(a, next.Turn, now)
	if err != nil {
		return err
	}
	if granted {
		a.Granted = true
		return enterTurn(a, now, w)
	}
	return nil
}

// advanceWaiting is the wake path for an agent queued at an intersection:
// it enters its turn once the controller has granted it.
func advanceWaiting(a *Agent, now models.SimTime, w World) error {
	if !a.Granted {
		return nil // still queued; the controller will wake us
	}
	return enterTurn(a, now, w)
}

// enterTurn moves the agent off its lane and onto the granted turn step.
func enterTurn(a *Agent, now models.SimTime, w World) error {
	step, _ := a.CurrentStep()
	w.LeaveLane(a, step.Lane, now)
	a.StepIndex++
	a.Status = models.StatusMoving
	a.Granted = false
	a.SetKinematics(now, 0, topSpeed(a))
	turnStep, _ := a.CurrentStep()
	turn, ok := w.Net().Turn(turnStep.Turn)
	if !ok {
		return fmt.Errorf("agents: agent %d entered unknown turn %d", a.ID, turnStep.Turn)
	}
	return scheduleArrival(a, now, 0, turn.Length, a.Speed, w)
}

// endOfTurn tries to exit the intersection onto the next lane. If the lane
// has no room the agent holds at the turn's end, keeping the turn in
// progress (spillback), and is re-evaluated when space may have opened.
func endOfTurn(a *Agent, now models.SimTime, w World) error {
	step, _ := a.CurrentStep()
	next := a.Path.Steps[a.StepIndex+1]
	if next.Kind != models.StepLane {
		return fmt.Errorf("agents: agent %d: turn step %d followed by non-lane step", a.ID, a.StepIndex)
	}

	q := w.Queue(next.Lane)
	fp := a.Footprint()
	positions := func(id models.AgentID) float64 { return w.HeadPos(id, now) }

	if !q.CanEnter(fp, now, positions) {
		a.SetKinematics(now, a.Dist, 0)
		q.AddEntryWaiter(a.ID)
		// If the tail is rolling, predict when the gap opens instead of
		// waiting for a removal.
		if tailID, ok := q.Tail(); ok {
			if tail, found := w.AgentByID(tailID); found && tail.Speed > 0 {
				need := fp - (tail.PosAt(now) - q.FootprintOf(tailID))
				if need > 0 {
					return w.ScheduleUpdate(a, now+models.FromSeconds(need/tail.Speed)+entryRecheck)
				}
			}
		}
		return nil
	}

	if err := w.FinishTurn(a, step.Turn, now); err != nil {
		return err
	}
	if err := q.Enter(a.ID, fp, fp, now, positions); err != nil {
		return err
	}
	a.StepIndex++
	a.SetKinematics(now, fp, 0)
	if a.ParkSearching {
		a.Status = models.StatusParking
	} else {
		a.Status = models.StatusMoving
	}
	return scheduleMove(a, now, w)
}

// arriveAtPathEnd completes the path: park, finish the trip, join a stop
// queue, or run the transit vehicle's stop procedure depending on who
// arrived.
func arriveAtPathEnd(a *Agent, now models.SimTime, w World) error {
	step, _ := a.CurrentStep()

	if a.Kind == KindTransitVehicle {
		return vehicleAtStop(a, now, w)
	}

	if a.Mode == models.ModeTransit && a.Ride != nil && a.OnVehicle == 0 && !a.RodeVehicle {
		// End of the access walk: wait at the board stop.
		w.LeaveLane(a, step.Lane, now)
		a.Status = models.StatusBoarding
		a.SetKinematics(now, a.Dist, 0)
		w.Registry().Wait(a.Ride.Line, a.Ride.BoardStop, a.ID, now)
		return nil
	}

	if a.Mode == models.ModeCar && !a.ParkSearching && len(w.Net().Spots) > 0 {
		a.ParkSearching = true
		a.Status = models.StatusParking
		a.SetKinematics(now, a.Dist, 0)
		wakeFollower(a, now, w)
		return searchParking(a, now, w)
	}

	w.LeaveLane(a, step.Lane, now)
	a.Status = models.StatusDone
	w.TripDone(a, now)
	return nil
}

// searchParking runs the request loop: assigned spots start an approach,
// widening is immediate, exhaustion waits for a release until the retry
// budget runs out.
func searchParking(a *Agent, now models.SimTime, w World) error {
	step, _ := a.CurrentStep()
	here := models.Position{Lane: step.Lane, Distance: a.Dist}

	for {
		res := w.RequestSpot(a, here, a.SearchRadius)
		switch res.Kind {
		case parking.ResultAssigned:
			a.Spot = res.Spot
			return startParkingApproach(a, now, w, here)
		case parking.ResultSearchFurther:
			a.SearchRadius = res.NextRadius
			continue
		default: // exhausted
			a.ParkRetries++
			if a.ParkRetries > maxParkRetries {
				w.LeaveLane(a, step.Lane, now)
				a.Status = models.StatusDone
				w.TripFailed(a, models.FailParkingExhausted, now)
				return nil
			}
			w.WaitForParking(a)
			return nil
		}
	}
}

// startParkingApproach drives toward the reserved spot. A spot behind the
// agent or on another lane is a modeled backtrack: the router supplies a
// fresh search leg from the current position.
func startParkingApproach(a *Agent, now models.SimTime, w World, here models.Position) error {
	spot, ok := w.Net().Spots[a.Spot]
	if !ok {
		return fmt.Errorf("agents: agent %d reserved unknown spot %d", a.ID, a.Spot)
	}

	if spot.Lane == here.Lane && spot.Offset >= here.Distance-arriveEps {
		// Ahead on this lane: keep driving.
		a.Status = models.StatusParking
		return scheduleMove(a, now, w)
	}

	leg, err := w.Reroute(here, models.Position{Lane: spot.Lane, Distance: spot.Offset}, a.Mode)
	if err != nil {
		// Unreachable from here (one-way restrictions); give the spot
		// back and widen.
		w.ReleaseSpot(a, now)
		if a.SearchRadius < parking.MaxSearchRadius {
			a.SearchRadius++
		}
		return searchParking(a, now, w)
	}
	a.Path = leg
	a.StepIndex = 0
	a.Status = models.StatusParking
	a.SetKinematics(now, leg.Start, 0)
	return scheduleMove(a, now, w)
}

// vehicleAtStop runs the transit stop procedure: alight riders for this
// stop, board waiting riders up to capacity, dwell, then depart.
func vehicleAtStop(a *Agent, now models.SimTime, w World) error {
	arrivedStop := a.LegIndex + 1

	alighted := 0
	remaining := a.Riders[:0]
	for _, riderID := range a.Riders {
		rider, ok := w.AgentByID(riderID)
		if !ok {
			continue
		}
		if rider.Ride != nil && rider.Ride.AlightStop == arrivedStop {
			alighted++
			alightRider(rider, a, now, w)
		} else {
			remaining = append(remaining, riderID)
		}
	}
	a.Riders = remaining

	boarded := 0
	if arrivedStop < len(a.Legs) { // no boarding at the terminus
		space := a.Capacity - len(a.Riders)
		for _, riderID := range w.Registry().Board(a.Line, arrivedStop, space) {
			rider, ok := w.AgentByID(riderID)
			if !ok {
				continue
			}
			rider.OnVehicle = a.ID
			a.Riders = append(a.Riders, riderID)
			boarded++
		}
	}

	a.Status = models.StatusBoarding
	a.SetKinematics(now, a.Dist, 0)
	wakeFollower(a, now, w)
	dwell := dwellBase + dwellPerPassenger*models.SimTime(boarded+alighted)
	return w.ScheduleUpdate(a, now+dwell)
}

// vehicleDepart ends the dwell: either the vehicle moves onto its next leg
// or, at the terminus, force-alights stragglers and retires.
func vehicleDepart(a *Agent, now models.SimTime, w World) error {
	step, _ := a.CurrentStep()
	if a.LegIndex+1 >= len(a.Legs) {
		for _, riderID := range a.Riders {
			if rider, ok := w.AgentByID(riderID); ok {
				alightRider(rider, a, now, w)
			}
		}
		a.Riders = nil
		w.LeaveLane(a, step.Lane, now)
		a.Status = models.StatusDone
		w.TripDone(a, now)
		return nil
	}

	a.LegIndex++
	a.Path = a.Legs[a.LegIndex]
	a.StepIndex = 0
	a.Status = models.StatusMoving
	// Legs are stitched: this leg starts where the previous one ended, so
	// the vehicle keeps its place in the lane queue.
	a.SetKinematics(now, a.Path.Start, 0)
	return scheduleMove(a, now, w)
}

// alightRider puts a rider back on the network at the alight stop and
// starts its egress walk.
func alightRider(rider *Agent, vehicle *Agent, now models.SimTime, w World) {
	rider.OnVehicle = 0
	rider.RodeVehicle = true
	if rider.Ride == nil || rider.Ride.Egress == nil {
		rider.Status = models.StatusDone
		w.TripDone(rider, now)
		return
	}
	rider.Path = rider.Ride.Egress
	rider.StepIndex = 0
	rider.Status = models.StatusSpawning
	rider.SetKinematics(now, rider.Path.Start, 0)
	w.WakeAgent(rider.ID, now)
}
