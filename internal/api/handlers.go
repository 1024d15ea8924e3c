// Package api exposes the simulation service over HTTP: submit a
// scenario against a network, poll the run, and fetch its report and
// event trace.
package api

import (
	"errors"
	"log"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/streetsim/streetsim_core/internal/engine"
	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/network"
	"github.com/streetsim/streetsim_core/internal/scenario"
	"github.com/streetsim/streetsim_core/internal/store"
)

// Server carries the handlers' shared state. A nil store disables
// persistence; runs then live only in process memory.
type Server struct {
	reg   *registry
	store *store.Store
	logf  func(format string, args ...any)
}

func NewServer(st *store.Store) *Server {
	return &Server{reg: newRegistry(), store: st, logf: log.Printf}
}

// Register mounts the routes on the app.
func (s *Server) Register(app *fiber.App, auth fiber.Handler) {
	app.Get("/health", s.Health)
	app.Post("/v1/runs", auth, s.SubmitRun)
	app.Get("/v1/runs", s.ListRuns)
	app.Get("/v1/runs/:id", s.GetRun)
	app.Get("/v1/runs/:id/trace", s.GetTrace)
}

// Health reports service liveness.
func (s *Server) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// RunRequest is the submit payload: an inline network definition plus the
// scenario to run on it.
type RunRequest struct {
	Network      network.Definition `json:"network"`
	Scenario     models.Scenario    `json:"scenario"`
	UsePathCache bool               `json:"use_path_cache,omitempty"`
	TraceLines   int                `json:"trace_lines,omitempty"`
}

// SubmitRun validates the request, registers the run, and starts it in
// the background. Returns 202 with the run id.
func (s *Server) SubmitRun(c *fiber.Ctx) error {
	var req RunRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error":   "invalid_body",
			"message": err.Error(),
		})
	}

	net, err := network.New(req.Network)
	if err != nil {
		return c.Status(422).JSON(fiber.Map{
			"error":   "invalid_network",
			"message": err.Error(),
		})
	}

	sc := req.Scenario
	if err := scenario.Normalize(&sc); err != nil {
		return c.Status(422).JSON(fiber.Map{
			"error":   "invalid_scenario",
			"message": err.Error(),
		})
	}
	if err := scenario.CheckAgainst(&sc, net); err != nil {
		return c.Status(422).JSON(fiber.Map{
			"error":   "scenario_network_mismatch",
			"message": err.Error(),
		})
	}

	id := uuid.New()
	if s.store != nil {
		dbID, err := s.store.CreateRun(c.Context(), sc.Name, net.Name, sc.Seed)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{
				"error":   "persistence_failed",
				"message": err.Error(),
			})
		}
		id = dbID
	}

	st := &runState{
		ID:        id,
		Scenario:  sc.Name,
		Network:   net.Name,
		Seed:      sc.Seed,
		Status:    store.RunPending,
		CreatedAt: time.Now(),
	}
	s.reg.put(st)

	opts := engine.Options{
		UsePathCache: req.UsePathCache,
		TraceLines:   req.TraceLines,
		Logf:         s.logf,
	}
	go s.execute(id, net, &sc, opts)

	return c.Status(202).JSON(fiber.Map{
		"run_id": id,
		"status": store.RunPending,
	})
}

// ListRuns returns this process's runs, newest first.
func (s *Server) ListRuns(c *fiber.Ctx) error {
	runs := s.reg.list()
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	out := make([]fiber.Map, 0, len(runs))
	for _, r := range runs {
		out = append(out, fiber.Map{
			"run_id":   r.ID,
			"scenario": r.Scenario,
			"network":  r.Network,
			"seed":     r.Seed,
			"status":   r.Status,
		})
	}
	return c.JSON(fiber.Map{"runs": out})
}

// GetRun returns a run's status and, once finished, its report. Falls
// back to the store for runs from earlier processes.
func (s *Server) GetRun(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error":   "invalid_run_id",
			"message": "run id must be a UUID",
		})
	}

	if st, ok := s.reg.get(id); ok {
		resp := fiber.Map{
			"run_id":   st.ID,
			"scenario": st.Scenario,
			"network":  st.Network,
			"seed":     st.Seed,
			"status":   st.Status,
		}
		if st.Err != "" {
			resp["error"] = st.Err
		}
		if st.Report != nil {
			resp["ended_at"] = st.EndedAt
			resp["trace_digest"] = st.Digest
			resp["report"] = st.Report
		}
		return c.JSON(resp)
	}

	if s.store != nil {
		run, report, err := s.store.GetRun(c.Context(), id)
		if err == nil {
			resp := fiber.Map{
				"run_id":   run.ID,
				"scenario": run.Scenario,
				"network":  run.Network,
				"seed":     run.Seed,
				"status":   run.Status,
			}
			if run.Error != "" {
				resp["error"] = run.Error
			}
			if report != nil {
				resp["ended_at"] = run.EndedAt
				resp["trace_digest"] = run.TraceDigest
				resp["report"] = report
			}
			return c.JSON(resp)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return c.Status(500).JSON(fiber.Map{
				"error":   "lookup_failed",
				"message": err.Error(),
			})
		}
	}

	return c.Status(404).JSON(fiber.Map{
		"error": "run not found",
	})
}

// GetTrace returns the retained event trace of an in-process run.
func (s *Server) GetTrace(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error":   "invalid_run_id",
			"message": "run id must be a UUID",
		})
	}

	st, ok := s.reg.get(id)
	if !ok {
		return c.Status(404).JSON(fiber.Map{
			"error": "run not found",
		})
	}
	if st.Report == nil {
		return c.Status(409).JSON(fiber.Map{
			"error":   "run_not_finished",
			"message": "trace is available once the run completes",
		})
	}
	return c.JSON(fiber.Map{
		"run_id":       st.ID,
		"trace_digest": st.Digest,
		"events":       st.Trace,
	})
}
