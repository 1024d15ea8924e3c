package intersection

import "github.com/streetsim/streetsim_core/internal/models"

// Roundabout treats the junction as a ring of yield points: circulating
// movements have unconditional priority over entering ones, enforced by
// evaluating all queued circulating requests before any entry. Entries are
// served FIFO per approach, like a yield line.
type Roundabout struct {
	admission
}

func (r *Roundabout) RequestTurn(agent models.AgentID, turn models.TurnID, now models.SimTime) (bool, error) {
	t, ok := r.net.Turn(turn)
	if !ok {
		r.enqueue(agent, turn, now)
		return false, nil
	}

	if r.blocked(turn) {
		r.enqueue(agent, turn, now)
		return false, nil
	}

	// An entering vehicle also yields to every waiting circulating request:
	// the ring must drain first.
	if !t.Circulating && r.circulatingQueued() {
		r.enqueue(agent, turn, now)
		return false, nil
	}

	if err := r.admit(agent, turn); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Roundabout) TurnFinished(agent models.AgentID, turn models.TurnID, now models.SimTime) ([]Grant, error) {
	if err := r.retire(agent, turn); err != nil {
		return nil, err
	}
	return r.Reevaluate(now)
}

// Reevaluate drains circulating requests first, then entries, each FIFO.
func (r *Roundabout) Reevaluate(now models.SimTime) ([]Grant, error) {
	var grants []Grant

	pass := func(circulating bool) error {
		for i := 0; i < len(r.queue); {
			req := r.queue[i]
			t, ok := r.net.Turn(req.Turn)
			if !ok || t.Circulating != circulating || r.blocked(req.Turn) {
				i++
				continue
			}
			if err := r.admit(req.Agent, req.Turn); err != nil {
				return err
			}
			grants = append(grants, Grant{Agent: req.Agent, Turn: req.Turn})
			r.dequeueAt(i)
		}
		return nil
	}

	if err := pass(true); err != nil {
		return nil, err
	}
	if r.circulatingQueued() {
		// Ring still blocked; entries keep waiting.
		return grants, nil
	}
	if err := pass(false); err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *Roundabout) circulatingQueued() bool {
	for _, req := range r.queue {
		if t, ok := r.net.Turn(req.Turn); ok && t.Circulating {
			return true
		}
	}
	return false
}

func (r *Roundabout) NextChange(now models.SimTime) (models.SimTime, bool) {
	return 0, false
}

func (r *Roundabout) Snapshot() State  { return r.snapshot() }
func (r *Roundabout) Restore(st State) { r.restore(st) }
