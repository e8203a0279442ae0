package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"arbitrage-platform-go/internal/auth"
	"arbitrage-platform-go/internal/ledger"
	"arbitrage-platform-go/internal/support"
	"gorm.io/gorm"
)

type successBody struct {
	Status  string      `json:"status"`
	Results *int        `json:"results,omitempty"`
	Data    interface{} `json:"data"`
}

type failBody struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(successBody{Status: "success", Data: data})
}

// respondList includes the result count alongside the data.
func respondList(w http.ResponseWriter, status int, key string, n int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(successBody{Status: "success", Results: &n, Data: map[string]interface{}{key: data}})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(failBody{Status: "fail", Code: code, Message: message})
}

// respondLedgerError maps the settlement error taxonomy to a distinct status
// and machine-readable code. Storage detail never reaches the caller.
func respondLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, ledger.ErrAccountNotFound):
		respondError(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "account not found")
	case errors.Is(err, ledger.ErrInsufficientBalance):
		respondError(w, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE", "insufficient balance")
	case errors.Is(err, ledger.ErrConflictExceeded):
		respondError(w, http.StatusConflict, "CONFLICT_EXCEEDED", "account is too contended, try again")
	case errors.Is(err, ledger.ErrTimeout):
		respondError(w, http.StatusGatewayTimeout, "TIMEOUT", "timed out waiting for account lock")
	case errors.Is(err, ledger.ErrStorageFailure):
		respondError(w, http.StatusServiceUnavailable, "STORAGE_FAILURE", "storage temporarily unavailable")
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func respondAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		respondError(w, http.StatusConflict, "EMAIL_TAKEN", "email already registered")
	case errors.Is(err, auth.ErrWeakPassword):
		respondError(w, http.StatusBadRequest, "WEAK_PASSWORD", err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func respondSupportError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, support.ErrTicketNotFound):
		respondError(w, http.StatusNotFound, "TICKET_NOT_FOUND", "no ticket found with that id")
	case errors.Is(err, support.ErrNotTicketOwner):
		respondError(w, http.StatusForbidden, "FORBIDDEN", "you do not have permission to view this ticket")
	case errors.Is(err, support.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, support.ErrTicketClosed):
		respondError(w, http.StatusConflict, "TICKET_CLOSED", "ticket is closed")
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
