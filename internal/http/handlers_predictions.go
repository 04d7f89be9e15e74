package http

import (
	"context"
	"net/http"

	"pocketledger/internal/core"
	"pocketledger/internal/log"
)

type generateFunc func(ctx context.Context, ownerID string, budgets []core.Budget, txs []core.Transaction, language string) (core.PredictionSet, error)

func (s *Server) handleGetPredictions(w http.ResponseWriter, r *http.Request) {
	s.servePredictions(w, r, log.OpGenerate, s.deps.Predictions.GetOrGenerate)
}

func (s *Server) handleRefreshPredictions(w http.ResponseWriter, r *http.Request) {
	s.servePredictions(w, r, log.OpRefresh, s.deps.Predictions.Refresh)
}

func (s *Server) servePredictions(w http.ResponseWriter, r *http.Request, op string, generate generateFunc) {
	lang, err := parseLanguage(r.URL.Query().Get("lang"))
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	owner := ownerFrom(r.Context())
	budgets, err := s.deps.Budgets.List(r.Context(), owner)
	if err != nil {
		writeError(w, r, op, err)
		return
	}
	txs, err := s.windowTransactions(r.Context(), owner, budgets)
	if err != nil {
		writeError(w, r, op, err)
		return
	}
	set, err := generate(r.Context(), owner, budgets, txs, lang)
	if err != nil {
		writeError(w, r, op, err)
		return
	}
	NewJSONResponse().Body(set).Write(w)
}

// windowTransactions collects the transactions inside each budget's current
// window, once per transaction.
func (s *Server) windowTransactions(ctx context.Context, owner string, budgets []core.Budget) ([]core.Transaction, error) {
	type scope struct {
		category int64
		period   core.Period
	}
	seenScope := make(map[scope]bool)
	seenTx := make(map[int64]bool)
	var out []core.Transaction
	for _, b := range budgets {
		sc := scope{b.CategoryID, b.Period}
		if seenScope[sc] {
			continue
		}
		seenScope[sc] = true
		txs, err := s.deps.Ledger.ListForCategory(ctx, owner, b.CategoryID, b.Period)
		if err != nil {
			return nil, err
		}
		for _, tx := range txs {
			if !seenTx[tx.ID] {
				seenTx[tx.ID] = true
				out = append(out, tx)
			}
		}
	}
	return out, nil
}
