package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/punchamoorthee/neoledger/internal/rail"
	"github.com/punchamoorthee/neoledger/internal/service"
	"github.com/punchamoorthee/neoledger/internal/store"
	"github.com/shopspring/decimal"
)

type createAccountRequest struct {
	Class    domain.AccountClass `json:"account_class"`
	Currency string              `json:"currency"`
}

func (h *Handler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	req := createAccountRequest{Class: domain.ClassChecking}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	if !req.Class.TransferEligible() {
		respondWithError(w, http.StatusBadRequest, "Unsupported account class")
		return
	}

	acct, err := h.svc.Accounts.Open(r.Context(), userID, req.Class, req.Currency)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/accounts/%s", acct.ID))
	respondWithJSON(w, http.StatusCreated, acct)
}

// ownedAccount loads the path account and hides accounts the caller does not own.
func (h *Handler) ownedAccount(w http.ResponseWriter, r *http.Request) (domain.Account, bool) {
	userID, ok := callerID(w, r)
	if !ok {
		return domain.Account{}, false
	}
	id, ok := pathID(w, r)
	if !ok {
		return domain.Account{}, false
	}
	acct, err := h.svc.Accounts.Get(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return domain.Account{}, false
	}
	if acct.UserID != userID {
		respondWithError(w, http.StatusNotFound, "Account not found")
		return domain.Account{}, false
	}
	return acct, true
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, acct)
}

func (h *Handler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}
	bal, err := h.svc.Ledger.GetAccountBalance(r.Context(), acct.ID)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, bal)
}

func (h *Handler) GetAccountEntriesHandler(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}

	var page service.Page
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		page.Limit = n
	}
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			respondWithError(w, http.StatusBadRequest, "after must be a sequence number")
			return
		}
		page.After = n
	}

	entries, err := h.svc.Ledger.ListLedgerEntries(r.Context(), acct.ID, page)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}

type peerTransferRequest struct {
	Recipient   string          `json:"recipient"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

func (h *Handler) CreatePeerTransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	key := r.Header.Get(headerIdempotencyKey)
	if key == "" {
		respondWithError(w, http.StatusBadRequest, "Missing Idempotency-Key header")
		return
	}
	var req peerTransferRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.svc.Executor.InitiatePeerTransfer(r.Context(), service.PeerTransferRequest{
		SenderID:            userID,
		RecipientIdentifier: req.Recipient,
		Amount:              req.Amount,
		Description:         req.Description,
		IdempotencyKey:      key,
	})
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/transactions/%s", res.TransactionID))
	respondWithJSON(w, createdOrReplayed(res.Replayed), res)
}

type externalTransferRequest struct {
	ExternalAccountID uuid.UUID        `json:"external_account_id"`
	Amount            decimal.Decimal  `json:"amount"`
	Direction         domain.Direction `json:"direction"`
	Description       string           `json:"description"`
}

func (h *Handler) CreateExternalTransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	key := r.Header.Get(headerIdempotencyKey)
	if key == "" {
		respondWithError(w, http.StatusBadRequest, "Missing Idempotency-Key header")
		return
	}
	var req externalTransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !req.Direction.Valid() {
		respondWithError(w, http.StatusBadRequest, "direction must be DEPOSIT or WITHDRAWAL")
		return
	}

	res, err := h.svc.Executor.InitiateExternalTransfer(r.Context(), service.ExternalTransferRequest{
		UserID:            userID,
		ExternalAccountID: req.ExternalAccountID,
		Amount:            req.Amount,
		Direction:         req.Direction,
		Description:       req.Description,
		IdempotencyKey:    key,
	})
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/transactions/%s", res.TransactionID))
	respondWithJSON(w, createdOrReplayed(res.Replayed), res)
}

func createdOrReplayed(replayed bool) int {
	if replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

func (h *Handler) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := h.svc.Ledger.GetTransaction(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	if !h.involves(r, d.Transaction, userID) {
		respondWithError(w, http.StatusNotFound, "Transaction not found")
		return
	}
	respondWithJSON(w, http.StatusOK, d)
}

// ListTransactionsHandler pages through the caller's history. Filters:
// type, status, from and to (RFC 3339, inclusive), limit and offset.
func (h *Handler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	var f store.TransactionFilter
	if v := q.Get("type"); v != "" {
		f.Type = domain.TransactionType(strings.ToUpper(v))
		if !f.Type.Valid() {
			respondWithError(w, http.StatusBadRequest, "Unknown transaction type")
			return
		}
	}
	if v := q.Get("status"); v != "" {
		f.Status = domain.TransactionStatus(strings.ToUpper(v))
		if !f.Status.Valid() {
			respondWithError(w, http.StatusBadRequest, "Unknown transaction status")
			return
		}
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, name+" must be an RFC 3339 timestamp")
			return
		}
		*dst = at
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		respondWithError(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	var page service.OffsetPage
	if !queryInt(w, q, "limit", 1, &page.Limit) || !queryInt(w, q, "offset", 0, &page.Offset) {
		return
	}

	res, err := h.svc.Ledger.ListTransactions(r.Context(), userID, f, page)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

// queryInt reads an optional integer parameter no smaller than floor.
func queryInt(w http.ResponseWriter, q url.Values, name string, floor int, dst *int) bool {
	v := q.Get(name)
	if v == "" {
		return true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < floor {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("%s must be an integer of at least %d", name, floor))
		return false
	}
	*dst = n
	return true
}

func (h *Handler) ListExternalTransfersHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var limit int
	if !queryInt(w, r.URL.Query(), "limit", 1, &limit) {
		return
	}
	list, err := h.svc.Ledger.ListExternalTransfers(r.Context(), userID, limit)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"external_transfers": list})
}

func (h *Handler) GetExternalTransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	et, err := h.svc.Ledger.GetExternalTransfer(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	if et.UserID != userID {
		respondWithError(w, http.StatusNotFound, "External transfer not found")
		return
	}
	respondWithJSON(w, http.StatusOK, et)
}

// involves reports whether userID initiated txn or owns its receiving account.
func (h *Handler) involves(r *http.Request, txn domain.Transaction, userID uuid.UUID) bool {
	if txn.UserID == userID {
		return true
	}
	if txn.ToAccountID == nil {
		return false
	}
	acct, err := h.svc.Accounts.Get(r.Context(), *txn.ToAccountID)
	return err == nil && acct.UserID == userID
}

func (h *Handler) ApproveTransferHandler(w http.ResponseWriter, r *http.Request) {
	reviewer, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Executor.ApproveReviewedTransfer(r.Context(), id, reviewer)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelTransferHandler(w http.ResponseWriter, r *http.Request) {
	reviewer, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	res, err := h.svc.Executor.CancelReviewedTransfer(r.Context(), id, reviewer, req.Reason)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

// RecipientsHandler resolves ?q= to a single recipient, or lists recent
// recipients for ?mode=recent.
func (h *Handler) RecipientsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	if q.Get("mode") == "recent" {
		limit := 0
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}
		list, err := h.svc.Directory.RecentRecipients(r.Context(), userID, limit)
		if err != nil {
			h.respondWithServiceError(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]any{"recipients": list})
		return
	}

	identifier := q.Get("q")
	if identifier == "" {
		respondWithError(w, http.StatusBadRequest, "q or mode=recent is required")
		return
	}
	rc, err := h.svc.Directory.Lookup(r.Context(), identifier, userID)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rc)
}

// RailWebhookHandler feeds provider notifications to the reconciler. A 5xx
// tells the provider to redeliver; everything the ledger has decided about,
// including anomalies, is acknowledged.
func (h *Handler) RailWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var hook rail.Webhook
	if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	h.log.Info("rail webhook received", "type", hook.Type, "code", hook.Code, "transfer_id", hook.TransferID)

	if !hook.IsTransfer() {
		if hook.Type == "ITEM" {
			h.log.Warn("item webhook needs attention", "code", hook.Code, "item_id", hook.ItemID)
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"result": "ignored"})
		return
	}
	if hook.TransferID == "" {
		respondWithError(w, http.StatusBadRequest, "Missing transfer_id")
		return
	}

	status, reason := hook.TransferStatus()
	outcome, err := h.svc.Reconciler.Reconcile(r.Context(), service.Notification{
		RailTransferID: hook.TransferID,
		Status:         status,
		FailureReason:  reason,
	})
	if err != nil {
		h.log.Error("webhook not applied", "transfer_id", hook.TransferID, "err", err)
		respondWithError(w, http.StatusInternalServerError, "Webhook processing failed")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"result": string(outcome)})
}
