package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fieldops/dayplan/pkg/contracts"
	"github.com/fieldops/dayplan/pkg/dispatch"
	"github.com/fieldops/dayplan/pkg/planner"
	"github.com/fieldops/dayplan/pkg/store"
)

// Gate is the only surface the presentation layer may call. It is a thin
// façade over the orchestrator: it decodes requests, rejects calls whose
// status preconditions are not met with 412 instead of silently no-op-ing,
// and maps domain errors to problem details.
type Gate struct {
	orchestrator *planner.Orchestrator
	logger       *slog.Logger
}

func NewGate(orchestrator *planner.Orchestrator) *Gate {
	return &Gate{
		orchestrator: orchestrator,
		logger:       slog.Default().With("component", "gate"),
	}
}

// Routes registers the gate's endpoints on mux.
func (g *Gate) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/plans", g.handleStart)
	mux.HandleFunc("GET /v1/plans/{id}", g.handleGet)
	mux.HandleFunc("POST /v1/plans/{id}/confirm-dispatch", g.handleConfirmDispatch)
	mux.HandleFunc("POST /v1/plans/{id}/confirm-route", g.handleConfirmRoute)
	mux.HandleFunc("POST /v1/plans/{id}/approve", g.handleApprove)
	mux.HandleFunc("POST /v1/plans/{id}/modifications", g.handleModifications)
	mux.HandleFunc("POST /v1/plans/{id}/retry", g.handleRetry)
	mux.HandleFunc("POST /v1/plans/{id}/reset", g.handleReset)
}

type startRequest struct {
	UserID string   `json:"user_id"`
	Date   string   `json:"date"`
	JobIDs []string `json:"job_ids"`
}

func (g *Gate) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Date == "" {
		WriteBadRequest(w, "user_id and date are required")
		return
	}

	plan, err := g.orchestrator.Start(r.Context(), req.UserID, req.Date, req.JobIDs)
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	g.writePlan(w, http.StatusCreated, plan)
}

func (g *Gate) handleGet(w http.ResponseWriter, r *http.Request) {
	plan, err := g.orchestrator.GetPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	g.writePlan(w, http.StatusOK, plan)
}

func (g *Gate) handleConfirmDispatch(w http.ResponseWriter, r *http.Request) {
	g.runTransition(w, r, g.orchestrator.ConfirmDispatch)
}

func (g *Gate) handleConfirmRoute(w http.ResponseWriter, r *http.Request) {
	g.runTransition(w, r, g.orchestrator.ConfirmRoute)
}

func (g *Gate) handleApprove(w http.ResponseWriter, r *http.Request) {
	g.runTransition(w, r, g.orchestrator.ApprovePlan)
}

func (g *Gate) handleRetry(w http.ResponseWriter, r *http.Request) {
	g.runTransition(w, r, g.orchestrator.RetryPlanning)
}

func (g *Gate) handleReset(w http.ResponseWriter, r *http.Request) {
	g.runTransition(w, r, g.orchestrator.ResetPlan)
}

func (g *Gate) handleModifications(w http.ResponseWriter, r *http.Request) {
	var patch contracts.UserModifications
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return
	}
	if patch.Empty() {
		WriteBadRequest(w, "no modifications provided")
		return
	}

	plan, err := g.orchestrator.SaveUserModifications(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	g.writePlan(w, http.StatusOK, plan)
}

func (g *Gate) runTransition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, planID string) (*contracts.DailyPlan, error)) {
	plan, err := op(r.Context(), r.PathValue("id"))
	if err != nil {
		// A stage failure still moved the plan to error state; return the
		// snapshot so the client can show what happened.
		if plan != nil && plan.Status == contracts.StatusError {
			g.writePlan(w, http.StatusOK, plan)
			return
		}
		g.writeDomainError(w, err)
		return
	}
	g.writePlan(w, http.StatusOK, plan)
}

func (g *Gate) writePlan(w http.ResponseWriter, status int, plan *contracts.DailyPlan) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(plan)
}

func (g *Gate) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		WriteNotFound(w, err.Error())
	case errors.Is(err, store.ErrConflict):
		WriteConflict(w, err.Error())
	case errors.Is(err, planner.ErrBusy):
		WriteConflict(w, err.Error())
	case errors.Is(err, planner.ErrPrecondition):
		WritePreconditionFailed(w, err.Error())
	case errors.Is(err, dispatch.ErrNoJobs), errors.Is(err, dispatch.ErrBadPreferences):
		WriteBadRequest(w, err.Error())
	case errors.Is(err, planner.ErrCorruptState):
		g.logger.Error("corrupt plan state", "error", err)
		WriteError(w, http.StatusInternalServerError, "Corrupt Plan State",
			fmt.Sprintf("plan state is inconsistent and needs a reset: %v", err))
	default:
		WriteInternal(w, err)
	}
}
