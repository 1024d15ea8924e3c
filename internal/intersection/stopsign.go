package intersection

import (
	"sort"

	"github.com/streetsim/streetsim_core/internal/models"
)

// stopWait is the mandatory halt at the stop line before a request is
// considered for admission. It also separates arrival from evaluation:
// requests landing at the same instant are all queued before any of them
// competes, so road priority decides instead of event processing order.
const stopWait = models.SimTime(500e6) // 500ms

// StopSign serves each approach lane first-come-first-served. When several
// approaches are ready at the same instant, the static per-road priority
// configured at map build time wins; remaining ties go to the lowest agent
// id, an explicit deterministic rule rather than incidental ordering.
type StopSign struct {
	admission
}

// RequestTurn always queues. Admission happens once the mandatory stop
// has elapsed, on the evaluation event the engine arms via NextChange.
func (s *StopSign) RequestTurn(agent models.AgentID, turn models.TurnID, now models.SimTime) (bool, error) {
	s.enqueue(agent, turn, now)
	return false, nil
}

func (s *StopSign) TurnFinished(agent models.AgentID, turn models.TurnID, now models.SimTime) ([]Grant, error) {
	if err := s.retire(agent, turn); err != nil {
		return nil, err
	}
	return s.Reevaluate(now)
}

// Reevaluate grants from the heads of the ready approaches in priority
// order, skipping heads still serving their stop and any whose turn
// conflicts with something in progress.
func (s *StopSign) Reevaluate(now models.SimTime) ([]Grant, error) {
	var grants []Grant
	for {
		heads := s.approachHeads()
		if len(heads) == 0 {
			return grants, nil
		}

		sort.Slice(heads, func(i, j int) bool {
			pi := s.roadPriority(heads[i].req.Turn)
			pj := s.roadPriority(heads[j].req.Turn)
			if pi != pj {
				return pi > pj
			}
			if heads[i].req.Arrived != heads[j].req.Arrived {
				return heads[i].req.Arrived < heads[j].req.Arrived
			}
			return heads[i].req.Agent < heads[j].req.Agent
		})

		granted := false
		for _, h := range heads {
			if now < h.req.Arrived+stopWait {
				continue
			}
			if s.blocked(h.req.Turn) {
				continue
			}
			if err := s.admit(h.req.Agent, h.req.Turn); err != nil {
				return nil, err
			}
			grants = append(grants, Grant{Agent: h.req.Agent, Turn: h.req.Turn})
			s.removeRequest(h.req)
			granted = true
			break
		}
		if !granted {
			return grants, nil
		}
	}
}

type head struct {
	req request
}

// approachHeads returns the oldest queued request per incoming lane.
func (s *StopSign) approachHeads() []head {
	firstByLane := make(map[models.LaneID]request)
	order := make([]models.LaneID, 0)
	for _, req := range s.queue {
		turn, ok := s.net.Turn(req.Turn)
		if !ok {
			continue
		}
		if _, seen := firstByLane[turn.From]; !seen {
			firstByLane[turn.From] = req
			order = append(order, turn.From)
		}
	}
	heads := make([]head, 0, len(order))
	for _, lane := range order {
		heads = append(heads, head{req: firstByLane[lane]})
	}
	return heads
}

func (s *StopSign) roadPriority(turn models.TurnID) int {
	t, ok := s.net.Turn(turn)
	if !ok {
		return 0
	}
	lane, ok := s.net.Lane(t.From)
	if !ok {
		return 0
	}
	return s.ix.RoadPriority[lane.Road]
}

func (s *StopSign) removeRequest(req request) {
	for i, q := range s.queue {
		if q.Agent == req.Agent && q.Turn == req.Turn {
			s.dequeueAt(i)
			return
		}
	}
}

// NextChange reports the earliest future instant a queued request
// finishes its mandatory stop. Requests already past their stop make
// progress through TurnFinished re-evaluation instead.
func (s *StopSign) NextChange(now models.SimTime) (models.SimTime, bool) {
	var at models.SimTime
	found := false
	for _, req := range s.queue {
		ready := req.Arrived + stopWait
		if ready <= now {
			continue
		}
		if !found || ready < at {
			at = ready
			found = true
		}
	}
	return at, found
}

func (s *StopSign) Snapshot() State  { return s.snapshot() }
func (s *StopSign) Restore(st State) { s.restore(st) }
