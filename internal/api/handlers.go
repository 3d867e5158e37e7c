/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's API endpoints. Handlers
 * parse requests, call the application service with the authenticated caller's id, and
 * write JSON responses. Money leaves the API both in cents and as a two-place string.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameters.
 * - internal/app, internal/domain, internal/insights, internal/store: Service logic,
 *   models and the sentinel errors mapped to status codes.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/insights"
	"github.com/transfa/ledger-service/internal/store"
)

const maxBodyBytes = 1 << 20

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service *app.Service
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(service *app.Service) *Handlers {
	return &Handlers{service: service}
}

type errorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

type accountView struct {
	domain.Account
	BalanceFormatted string `json:"balance_formatted"`
}

func newAccountView(a domain.Account) accountView {
	return accountView{Account: a, BalanceFormatted: domain.FormatAmount(a.Balance)}
}

type transactionView struct {
	domain.Transaction
	AmountFormatted       string `json:"amount_formatted"`
	BalanceAfterFormatted string `json:"balance_after_formatted"`
}

type registerResponse struct {
	User     *domain.User  `json:"user"`
	Accounts []accountView `json:"accounts"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type biometricLoginRequest struct {
	Username  string `json:"username"`
	Assertion string `json:"assertion"`
}

// RegisterHandler creates a user and the two opening accounts.
func (h *Handlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, accounts, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, newAccountView(a))
	}
	writeJSON(w, http.StatusCreated, registerResponse{User: user, Accounts: views})
}

// LoginHandler exchanges a username and password for a session token.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// BiometricLoginHandler exchanges a device assertion for a session token.
func (h *Handlers) BiometricLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req biometricLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := h.service.BiometricLogin(r.Context(), req.Username, req.Assertion)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handlers) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	user, err := h.service.GetProfile(r.Context(), callerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handlers) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	var req domain.UpdateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.service.UpdateProfile(r.Context(), callerID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handlers) BiometricStatusHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	available, enrolled, err := h.service.BiometricStatus(r.Context(), callerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": available, "enrolled": enrolled})
}

// EnrollBiometricHandler returns the device key once; it is not retrievable later.
func (h *Handlers) EnrollBiometricHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	key, err := h.service.EnrollBiometric(r.Context(), callerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"device_key": key})
}

// ListAccountsHandler serves the dashboard.
func (h *Handlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	accounts, err := h.service.ListAccounts(r.Context(), callerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	views := make([]accountView, 0, len(accounts))
	var total int64
	for _, a := range accounts {
		views = append(views, newAccountView(a))
		total += a.Balance
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accounts":                views,
		"total_balance":           total,
		"total_balance_formatted": domain.FormatAmount(total),
	})
}

func (h *Handlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	accountID, ok := uuidParam(w, r, "accountID")
	if !ok {
		return
	}
	account, err := h.service.GetAccount(r.Context(), callerID, accountID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(*account))
}

// ListTransactionsHandler supports ?search=, ?type=credit|debit and ?range=today|week|month|all.
func (h *Handlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	accountID, ok := uuidParam(w, r, "accountID")
	if !ok {
		return
	}

	q := r.URL.Query()
	query := app.TransactionQuery{Search: q.Get("search")}
	if typ := q.Get("type"); typ != "" && typ != "all" {
		query.Direction = domain.Direction(typ)
		if !query.Direction.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_filter", "type must be credit, debit or all")
			return
		}
	}
	dateRange, valid := domain.ParseDateRange(q.Get("range"))
	if !valid {
		writeError(w, http.StatusBadRequest, "invalid_filter", "range must be today, week, month or all")
		return
	}
	query.Range = dateRange

	txns, err := h.service.ListTransactions(r.Context(), callerID, accountID, query)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	views := make([]transactionView, 0, len(txns))
	for _, t := range txns {
		views = append(views, transactionView{
			Transaction:           t,
			AmountFormatted:       domain.FormatAmount(t.Amount),
			BalanceAfterFormatted: domain.FormatAmount(t.BalanceAfter),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// InsightsHandler supports ?window=week|month|year.
func (h *Handlers) InsightsHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	accountID, ok := uuidParam(w, r, "accountID")
	if !ok {
		return
	}
	window, valid := insights.ParseWindow(r.URL.Query().Get("window"))
	if !valid {
		writeError(w, http.StatusBadRequest, "invalid_filter", "window must be week, month or year")
		return
	}
	summary, err := h.service.AccountInsights(r.Context(), callerID, accountID, window)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handlers) ListBeneficiariesHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	beneficiaries, err := h.service.ListBeneficiaries(r.Context(), callerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if beneficiaries == nil {
		beneficiaries = []domain.Beneficiary{}
	}
	writeJSON(w, http.StatusOK, beneficiaries)
}

func (h *Handlers) AddBeneficiaryHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	var req domain.CreateBeneficiaryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	beneficiary, err := h.service.AddBeneficiary(r.Context(), callerID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, beneficiary)
}

func callerFromContext(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Could not get user ID from context")
		return uuid.Nil, false
	}
	return userID, true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, domain.ErrMalformedAmount) {
			writeError(w, http.StatusBadRequest, "invalid_amount", "Amount must be a decimal with at most two places")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return false
	}
	return true
}

// writeServiceError maps service and store errors onto status codes and stable codes.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *app.ValidationError
	var rlErr *app.RateLimitError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Validation failed", Code: "validation_failed", Fields: verr.Fields})
	case errors.Is(err, app.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, app.ErrInvalidAmount), errors.Is(err, domain.ErrMalformedAmount):
		writeError(w, http.StatusBadRequest, "invalid_amount", "Amount must be greater than zero")
	case errors.Is(err, app.ErrSameAccount):
		writeError(w, http.StatusBadRequest, "same_account", "Source and destination accounts must differ")
	case errors.Is(err, app.ErrInvalidDestination):
		writeError(w, http.StatusBadRequest, "invalid_destination", "Provide exactly one of destination_account_id or beneficiary_id")
	case errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrBeneficiaryNotFound),
		errors.Is(err, store.ErrTransferNotFound):
		writeError(w, http.StatusNotFound, "not_found", notFoundMessage(err))
	case errors.Is(err, store.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "insufficient_funds", "Insufficient funds")
	case errors.Is(err, store.ErrDuplicateUsername):
		writeError(w, http.StatusConflict, "username_taken", "Username is already taken")
	case errors.Is(err, store.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "email_taken", "Email is already registered")
	case errors.Is(err, store.ErrInvalidTransferState):
		writeError(w, http.StatusConflict, "invalid_transfer_state", "Transfer cannot change state")
	case errors.Is(err, store.ErrIdempotencyKeyReused):
		writeError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", "Idempotency-Key was already used for a different request")
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password")
	case errors.Is(err, app.ErrBiometricRejected):
		writeError(w, http.StatusUnauthorized, "biometric_rejected", "Biometric verification failed")
	case errors.Is(err, app.ErrBiometricUnavailable):
		writeError(w, http.StatusServiceUnavailable, "biometric_unavailable", "Biometric login is unavailable")
	case errors.As(err, &rlErr):
		w.Header().Set("Retry-After", strconv.Itoa(rlErr.RetryAfterSeconds))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many attempts. Please wait and try again.")
	case errors.Is(err, app.ErrPaymentNetwork):
		writeError(w, http.StatusBadGateway, "payment_network_error", "Payment network is unavailable")
	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" method=%s path=%s err=%v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, store.ErrAccountNotFound):
		return "Account not found"
	case errors.Is(err, store.ErrBeneficiaryNotFound):
		return "Beneficiary not found"
	case errors.Is(err, store.ErrTransferNotFound):
		return "Transfer not found"
	}
	return "User not found"
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
