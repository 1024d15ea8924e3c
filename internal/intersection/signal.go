package intersection

import (
	"fmt"

	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/network"
)

// Signal cycles through an ordered list of phases with fixed durations and
// an all-red clearance interval between them. A request is queued until its
// phase is active, then granted unless a still-finishing turn from a prior
// phase conflicts. The phase timeline is pure arithmetic over SimTime, so
// the controller holds no ticking state of its own; the engine schedules a
// re-evaluation at NextChange when requests are waiting.
type Signal struct {
	admission
	phases   []network.Phase
	allRed   models.SimTime
	cycleLen models.SimTime
	allowed  []map[models.TurnID]bool
}

func newSignal(net *network.Network, ix *network.Intersection) (*Signal, error) {
	s := &Signal{
		admission: newAdmission(net, ix),
		phases:    ix.Phases,
		allRed:    ix.AllRed,
	}
	for i, phase := range ix.Phases {
		if phase.Duration <= 0 {
			return nil, fmt.Errorf("intersection %d: phase %d has non-positive duration", ix.ID, i)
		}
		allow := make(map[models.TurnID]bool, len(phase.Turns))
		for _, tid := range phase.Turns {
			allow[tid] = true
		}
		s.allowed = append(s.allowed, allow)
		s.cycleLen += phase.Duration + s.allRed
	}
	return s, nil
}

// activePhase returns the phase index active at time t, or -1 during an
// all-red clearance interval.
func (s *Signal) activePhase(t models.SimTime) int {
	offset := t % s.cycleLen
	for i, phase := range s.phases {
		if offset < phase.Duration {
			return i
		}
		offset -= phase.Duration
		if offset < s.allRed {
			return -1
		}
		offset -= s.allRed
	}
	return -1
}

// nextBoundary returns the time the current phase segment (green or
// all-red) ends.
func (s *Signal) nextBoundary(t models.SimTime) models.SimTime {
	offset := t % s.cycleLen
	elapsed := models.SimTime(0)
	for _, phase := range s.phases {
		elapsed += phase.Duration
		if offset < elapsed {
			return t + (elapsed - offset)
		}
		elapsed += s.allRed
		if offset < elapsed {
			return t + (elapsed - offset)
		}
	}
	return t + (s.cycleLen - offset)
}

func (s *Signal) permits(turn models.TurnID, now models.SimTime) bool {
	phase := s.activePhase(now)
	return phase >= 0 && s.allowed[phase][turn]
}

func (s *Signal) RequestTurn(agent models.AgentID, turn models.TurnID, now models.SimTime) (bool, error) {
	if s.permits(turn, now) && !s.blocked(turn) {
		if err := s.admit(agent, turn); err != nil {
			return false, err
		}
		return true, nil
	}
	s.enqueue(agent, turn, now)
	return false, nil
}

func (s *Signal) TurnFinished(agent models.AgentID, turn models.TurnID, now models.SimTime) ([]Grant, error) {
	if err := s.retire(agent, turn); err != nil {
		return nil, err
	}
	return s.Reevaluate(now)
}

func (s *Signal) Reevaluate(now models.SimTime) ([]Grant, error) {
	var grants []Grant
	for i := 0; i < len(s.queue); {
		req := s.queue[i]
		if !s.permits(req.Turn, now) || s.blocked(req.Turn) {
			i++
			continue
		}
		if err := s.admit(req.Agent, req.Turn); err != nil {
			return nil, err
		}
		grants = append(grants, Grant{Agent: req.Agent, Turn: req.Turn})
		s.dequeueAt(i)
	}
	return grants, nil
}

// NextChange reports the next phase boundary while requests are queued, so
// the engine can schedule a re-evaluation without polling.
func (s *Signal) NextChange(now models.SimTime) (models.SimTime, bool) {
	if len(s.queue) == 0 {
		return 0, false
	}
	return s.nextBoundary(now), true
}

func (s *Signal) Snapshot() State  { return s.snapshot() }
func (s *Signal) Restore(st State) { s.restore(st) }
