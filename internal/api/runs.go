package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streetsim/streetsim_core/internal/engine"
	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/network"
	"github.com/streetsim/streetsim_core/internal/store"
	"github.com/streetsim/streetsim_core/internal/trips"
)

// runState tracks one run owned by this process. Fields other than ID are
// written by the run goroutine and read by handlers, always under the
// registry mutex.
type runState struct {
	ID        uuid.UUID
	Scenario  string
	Network   string
	Seed      int64
	Status    store.RunStatus
	Err       string
	Digest    string
	EndedAt   models.SimTime
	Report    *trips.Report
	Trace     []string
	CreatedAt time.Time
}

// registry holds the in-process runs. The mutex guards only the map and
// the runState fields; each engine runs single-threaded in its own
// goroutine and is never shared.
type registry struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*runState
}

func newRegistry() *registry {
	return &registry{runs: make(map[uuid.UUID]*runState)}
}

func (r *registry) get(id uuid.UUID) (*runState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[id]
	if !ok {
		return nil, false
	}
	cp := *st
	return &cp, true
}

func (r *registry) list() []runState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]runState, 0, len(r.runs))
	for _, st := range r.runs {
		out = append(out, *st)
	}
	return out
}

func (r *registry) put(st *runState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[st.ID] = st
}

func (r *registry) update(id uuid.UUID, fn func(*runState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.runs[id]; ok {
		fn(st)
	}
}

// execute runs one engine to completion and records the result, both in
// the registry and, when a store is configured, in Postgres.
func (s *Server) execute(id uuid.UUID, net *network.Network, sc *models.Scenario, opts engine.Options) {
	ctx := context.Background()

	eng, err := engine.New(net, sc, opts)
	if err != nil {
		s.finishFailed(ctx, id, err)
		return
	}

	s.reg.update(id, func(st *runState) { st.Status = store.RunRunning })
	if s.store != nil {
		if err := s.store.MarkRunning(ctx, id); err != nil {
			s.logf("Failed to mark run %s running: %v", id, err)
		}
	}

	if err := eng.Run(ctx); err != nil {
		s.finishFailed(ctx, id, err)
		return
	}

	report := eng.Report()
	status := store.RunFinished
	if sc.EndTime > 0 && eng.Now() >= sc.EndTime {
		status = store.RunTruncated
	}

	s.reg.update(id, func(st *runState) {
		st.Status = status
		st.Digest = eng.TraceDigest()
		st.EndedAt = eng.Now()
		st.Report = &report
		st.Trace = eng.TraceLines()
	})

	if s.store != nil {
		if err := s.store.FinishRun(ctx, id, status, eng.TraceDigest(), eng.Now(), report); err != nil {
			s.logf("Failed to persist run %s: %v", id, err)
		}
	}
}

func (s *Server) finishFailed(ctx context.Context, id uuid.UUID, runErr error) {
	s.logf("Run %s failed: %v", id, runErr)
	s.reg.update(id, func(st *runState) {
		st.Status = store.RunFailed
		st.Err = runErr.Error()
	})
	if s.store != nil {
		if err := s.store.MarkFailed(ctx, id, runErr); err != nil {
			s.logf("Failed to mark run %s failed: %v", id, err)
		}
	}
}
