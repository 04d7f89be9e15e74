package http

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"pocketledger/internal/core"
	"pocketledger/internal/log"
)

type walletRequest struct {
	Name    string `json:"name"`
	Balance string `json:"balance"`
	Type    string `json:"type"`
	Color   string `json:"color"`
	Icon    string `json:"icon"`
}

func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	// Opening balances may be negative (credit lines, overdrafts).
	bal := decimal.Zero
	if v := strings.TrimSpace(req.Balance); v != "" {
		d, err := decimal.NewFromString(strings.ReplaceAll(v, ",", "."))
		if err != nil {
			writeError(w, r, log.OpCreate, core.Invalid("balance", core.ErrInvalidAmount))
			return
		}
		bal = d
	}

	created, err := s.deps.Ledger.CreateWallet(r.Context(), core.Wallet{
		Name:    sanitizeInput(req.Name),
		Balance: bal,
		Type:    core.WalletType(strings.ToLower(strings.TrimSpace(req.Type))),
		Color:   sanitizeInput(req.Color),
		Icon:    sanitizeInput(req.Icon),
		OwnerID: ownerFrom(r.Context()),
	})
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/v1/wallets/"+itoa(created.ID)).
		Body(toWalletResponse(created)).
		Write(w)
}

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.deps.Ledger.ListWallets(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	out := make([]walletResponse, 0, len(wallets))
	for _, wl := range wallets {
		out = append(out, toWalletResponse(wl))
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	wl, err := s.deps.Ledger.GetWallet(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(toWalletResponse(wl)).Write(w)
}

func (s *Server) handleDeleteWallet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := s.deps.Ledger.DeleteWallet(r.Context(), ownerFrom(r.Context()), id); err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

// handleListWalletTransactions serves ?from=&to= bounded history, either
// bound optional.
func (s *Server) handleListWalletTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	q := r.URL.Query()
	from, err := parseTimeParam(q.Get("from"), s.deps.Location)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	to, err := parseTimeParam(q.Get("to"), s.deps.Location)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		BadRequestError("from must be before to").Write(w)
		return
	}

	txs, err := s.deps.Ledger.ListForWallet(r.Context(), ownerFrom(r.Context()), id, from, to)
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Body(toTransactionResponses(txs)).Write(w)
}

// handleReconcileWallet compares the stored balance with the one implied by
// history starting from ?initial= (default 0).
func (s *Server) handleReconcileWallet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	initial := decimal.Zero
	if v := strings.TrimSpace(r.URL.Query().Get("initial")); v != "" {
		if initial, err = decimal.NewFromString(v); err != nil {
			BadRequestError("invalid initial balance").Write(w)
			return
		}
	}
	rec, err := s.deps.Ledger.Reconcile(r.Context(), ownerFrom(r.Context()), id, initial)
	if err != nil {
		writeError(w, r, log.OpReconcile, err)
		return
	}
	NewJSONResponse().Body(toReconciliationResponse(rec)).Write(w)
}
