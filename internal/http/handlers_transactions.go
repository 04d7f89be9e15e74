package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"pocketledger/internal/core"
	"pocketledger/internal/log"
)

type transactionRequest struct {
	Type                string     `json:"type"`
	Amount              string     `json:"amount"`
	Fee                 string     `json:"fee"`
	CategoryID          *int64     `json:"category_id"`
	WalletID            int64      `json:"wallet_id"`
	DestinationWalletID *int64     `json:"destination_wallet_id"`
	Description         string     `json:"description"`
	OccurredAt          *time.Time `json:"occurred_at"`
}

// patchRequest leaves absent fields untouched. The clear flags drop an
// optional reference, which a null value cannot express.
type patchRequest struct {
	Type                *string    `json:"type"`
	Amount              *string    `json:"amount"`
	Fee                 *string    `json:"fee"`
	CategoryID          *int64     `json:"category_id"`
	ClearCategory       bool       `json:"clear_category"`
	WalletID            *int64     `json:"wallet_id"`
	DestinationWalletID *int64     `json:"destination_wallet_id"`
	ClearDestination    bool       `json:"clear_destination"`
	Description         *string    `json:"description"`
	OccurredAt          *time.Time `json:"occurred_at"`
}

func (req transactionRequest) transaction(owner string, now time.Time) (core.Transaction, error) {
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		return core.Transaction{}, core.Invalid("amount", err)
	}
	fee, err := core.ParseFee(req.Fee)
	if err != nil {
		return core.Transaction{}, core.Invalid("fee", err)
	}
	occurred := now
	if req.OccurredAt != nil {
		occurred = *req.OccurredAt
	}
	return core.Transaction{
		Type:                core.TransactionType(strings.ToLower(strings.TrimSpace(req.Type))),
		Amount:              amount,
		Fee:                 fee,
		CategoryID:          req.CategoryID,
		WalletID:            req.WalletID,
		DestinationWalletID: req.DestinationWalletID,
		Description:         sanitizeInput(req.Description),
		OccurredAt:          occurred,
		OwnerID:             owner,
	}, nil
}

func (req patchRequest) patch() (core.TransactionPatch, error) {
	p := core.TransactionPatch{
		CategoryID:          req.CategoryID,
		ClearCategory:       req.ClearCategory,
		WalletID:            req.WalletID,
		DestinationWalletID: req.DestinationWalletID,
		ClearDestination:    req.ClearDestination,
		OccurredAt:          req.OccurredAt,
	}
	if req.Type != nil {
		t := core.TransactionType(strings.ToLower(strings.TrimSpace(*req.Type)))
		p.Type = &t
	}
	if req.Amount != nil {
		a, err := core.ParseAmount(*req.Amount)
		if err != nil {
			return core.TransactionPatch{}, core.Invalid("amount", err)
		}
		p.Amount = &a
	}
	if req.Fee != nil {
		f, err := core.ParseFee(*req.Fee)
		if err != nil {
			return core.TransactionPatch{}, core.Invalid("fee", err)
		}
		p.Fee = &f
	}
	if req.Description != nil {
		d := sanitizeInput(*req.Description)
		p.Description = &d
	}
	return p, nil
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	tx, err := req.transaction(ownerFrom(r.Context()), s.now())
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	created, err := s.deps.Ledger.CreateTransaction(r.Context(), tx)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/v1/transactions/"+itoa(created.ID)).
		Body(toTransactionResponse(created)).
		Write(w)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	tx, err := s.deps.Ledger.GetTransaction(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(toTransactionResponse(tx)).Write(w)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	var req patchRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	patch, err := req.patch()
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	updated, err := s.deps.Ledger.UpdateTransaction(r.Context(), ownerFrom(r.Context()), id, patch)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	NewJSONResponse().Body(toTransactionResponse(updated)).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := s.deps.Ledger.DeleteTransaction(r.Context(), ownerFrom(r.Context()), id); err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

// handleListCategoryTransactions serves ?category_id=&period=. Without a
// period the whole history of the category is returned.
func (s *Server) handleListCategoryTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	categoryID, err := strconv.ParseInt(strings.TrimSpace(q.Get("category_id")), 10, 64)
	if err != nil || categoryID <= 0 {
		BadRequestError("category_id query parameter is required").Write(w)
		return
	}
	period, err := parsePeriod(q.Get("period"))
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	txs, err := s.deps.Ledger.ListForCategory(r.Context(), ownerFrom(r.Context()), categoryID, period)
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Body(toTransactionResponses(txs)).Write(w)
}
