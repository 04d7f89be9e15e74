package http

import (
	"net/http"
	"strings"

	"pocketledger/internal/core"
	"pocketledger/internal/log"
)

type budgetRequest struct {
	CategoryID int64  `json:"category_id"`
	Amount     string `json:"amount"`
	Period     string `json:"period"`
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, r, log.OpCreate, core.Invalid("amount", err))
		return
	}
	created, err := s.deps.Budgets.CreateBudget(r.Context(), core.Budget{
		CategoryID: req.CategoryID,
		Amount:     amount,
		Period:     core.Period(strings.ToLower(strings.TrimSpace(req.Period))),
		OwnerID:    ownerFrom(r.Context()),
	})
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(toBudgetResponse(created)).Write(w)
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := s.deps.Budgets.List(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Body(toBudgetResponses(budgets)).Write(w)
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := s.deps.Budgets.DeleteBudget(r.Context(), ownerFrom(r.Context()), id); err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleBudgetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Budgets.Summary(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(toSummaryResponse(summary)).Write(w)
}

// handleRecomputeBudgets rebuilds every spent figure of the owner from the
// transaction history.
func (s *Server) handleRecomputeBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := s.deps.Budgets.RecomputeAll(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeError(w, r, log.OpRecompute, err)
		return
	}
	NewJSONResponse().Body(toBudgetResponses(budgets)).Write(w)
}
