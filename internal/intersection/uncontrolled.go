package intersection

import "github.com/streetsim/streetsim_core/internal/models"

// Uncontrolled grants any turn that conflicts with nothing in progress.
// Queued requests are re-evaluated in arrival order when a turn finishes.
type Uncontrolled struct {
	admission
}

func (u *Uncontrolled) RequestTurn(agent models.AgentID, turn models.TurnID, now models.SimTime) (bool, error) {
	if u.blocked(turn) {
		u.enqueue(agent, turn, now)
		return false, nil
	}
	if err := u.admit(agent, turn); err != nil {
		return false, err
	}
	return true, nil
}

func (u *Uncontrolled) TurnFinished(agent models.AgentID, turn models.TurnID, now models.SimTime) ([]Grant, error) {
	if err := u.retire(agent, turn); err != nil {
		return nil, err
	}
	return u.Reevaluate(now)
}

func (u *Uncontrolled) Reevaluate(now models.SimTime) ([]Grant, error) {
	var grants []Grant
	for i := 0; i < len(u.queue); {
		req := u.queue[i]
		if u.blocked(req.Turn) {
			i++
			continue
		}
		if err := u.admit(req.Agent, req.Turn); err != nil {
			return nil, err
		}
		grants = append(grants, Grant{Agent: req.Agent, Turn: req.Turn})
		u.dequeueAt(i)
	}
	return grants, nil
}

func (u *Uncontrolled) NextChange(now models.SimTime) (models.SimTime, bool) {
	return 0, false
}

func (u *Uncontrolled) Snapshot() State  { return u.snapshot() }
func (u *Uncontrolled) Restore(st State) { u.restore(st) }
