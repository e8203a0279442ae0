package api

import (
	"encoding/json"
	"net/http"

	"arbitrage-platform-go/internal/auth"
	"arbitrage-platform-go/internal/ledger"
	"arbitrage-platform-go/internal/models"
	"arbitrage-platform-go/internal/support"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handlers holds dependencies for the API endpoints.
type Handlers struct {
	log     *zap.Logger
	db      *gorm.DB
	engine  *ledger.Engine
	reader  *ledger.Reader
	authSvc *auth.Service
	tickets *support.Service
}

// NewHandlers creates the handler set.
func NewHandlers(log *zap.Logger, db *gorm.DB, engine *ledger.Engine, reader *ledger.Reader, authSvc *auth.Service, tickets *support.Service) *Handlers {
	return &Handlers{log: log, db: db, engine: engine, reader: reader, authSvc: authSvc, tickets: tickets}
}

// HealthHandler reports liveness.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy"}`))
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupHandler registers an account and returns it with an access token.
func (h *Handlers) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	account, token, err := h.authSvc.Signup(r.Context(), req.Email, req.Password)
	if err != nil {
		respondAuthError(w, err)
		return
	}
	respond(w, http.StatusCreated, map[string]interface{}{"account": account, "token": token})
}

// LoginHandler verifies credentials and returns a fresh token.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	account, token, err := h.authSvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondAuthError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"account": account, "token": token})
}

type createTradeRequest struct {
	FromAsset         string          `json:"from_asset"`
	ToAsset           string          `json:"to_asset"`
	Amount            decimal.Decimal `json:"amount"`
	ExpectedProfitPct decimal.Decimal `json:"expected_profit_pct"`
}

// CreateTradeHandler settles a trade for the authenticated account.
func (h *Handlers) CreateTradeHandler(w http.ResponseWriter, r *http.Request) {
	acct, _ := auth.AccountFrom(r.Context())

	var req createTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	trade, err := h.engine.Settle(r.Context(), ledger.SettleRequest{
		AccountID:         acct.ID,
		FromAsset:         req.FromAsset,
		ToAsset:           req.ToAsset,
		Amount:            req.Amount,
		ExpectedProfitPct: req.ExpectedProfitPct,
	})
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respond(w, http.StatusCreated, map[string]interface{}{"trade": trade})
}

// MyTradesHandler returns the authenticated account's trades.
func (h *Handlers) MyTradesHandler(w http.ResponseWriter, r *http.Request) {
	acct, _ := auth.AccountFrom(r.Context())

	trades, err := h.engine.TradesForAccount(r.Context(), acct.ID)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondList(w, http.StatusOK, "trades", len(trades), trades)
}

// GetTradeHandler returns one trade. Non-owners see 404, the same as an
// absent trade, so trade ids cannot be probed.
func (h *Handlers) GetTradeHandler(w http.ResponseWriter, r *http.Request) {
	acct, _ := auth.AccountFrom(r.Context())

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid trade id")
		return
	}

	trade, err := h.engine.GetTrade(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			respondError(w, http.StatusNotFound, "TRADE_NOT_FOUND", "no trade found with that id")
			return
		}
		respondLedgerError(w, err)
		return
	}
	if trade.AccountID != acct.ID && acct.Role != models.RoleAdmin {
		respondError(w, http.StatusNotFound, "TRADE_NOT_FOUND", "no trade found with that id")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"trade": trade})
}

// StatsHandler returns the platform aggregate snapshot. Admin only.
func (h *Handlers) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reader.Stats(r.Context())
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respond(w, http.StatusOK, stats)
}

// ListUsersHandler returns all accounts. Admin only.
func (h *Handlers) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	var accounts []models.Account
	if err := h.db.WithContext(r.Context()).Order("created_at desc").Find(&accounts).Error; err != nil {
		h.log.Error("Failed to list accounts", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "STORAGE_FAILURE", "storage temporarily unavailable")
		return
	}
	respondList(w, http.StatusOK, "users", len(accounts), accounts)
}

// GetUserHandler returns one account. Admin only.
func (h *Handlers) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid user id")
		return
	}

	var account models.Account
	if err := h.db.WithContext(r.Context()).First(&account, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			respondError(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "no user found with that id")
			return
		}
		respondError(w, http.StatusServiceUnavailable, "STORAGE_FAILURE", "storage temporarily unavailable")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"user": account})
}

type patchUserRequest struct {
	Role         *string          `json:"role"`
	BalanceDelta *decimal.Decimal `json:"balance_delta"`
}

// PatchUserHandler updates an account's role and/or applies a balance
// adjustment. The adjustment goes through the balance guard like any other
// mutation; the balance field itself is not directly writable. Admin only.
func (h *Handlers) PatchUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid user id")
		return
	}

	var req patchUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	if req.Role != nil {
		if *req.Role != models.RoleUser && *req.Role != models.RoleAdmin {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown role")
			return
		}
		res := h.db.WithContext(r.Context()).Model(&models.Account{}).Where("id = ?", id).Update("role", *req.Role)
		if res.Error != nil {
			respondError(w, http.StatusServiceUnavailable, "STORAGE_FAILURE", "storage temporarily unavailable")
			return
		}
		if res.RowsAffected == 0 {
			respondError(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "no user found with that id")
			return
		}
	}

	if req.BalanceDelta != nil {
		if _, err := h.engine.AdjustBalance(r.Context(), id, *req.BalanceDelta); err != nil {
			respondLedgerError(w, err)
			return
		}
	}

	var account models.Account
	if err := h.db.WithContext(r.Context()).First(&account, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			respondError(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "no user found with that id")
			return
		}
		respondError(w, http.StatusServiceUnavailable, "STORAGE_FAILURE", "storage temporarily unavailable")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"user": account})
}

// DeleteUserHandler removes an account. Its trades are kept: they are the
// audit trail. Admin only.
func (h *Handlers) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid user id")
		return
	}

	res := h.db.WithContext(r.Context()).Delete(&models.Account{}, "id = ?", id)
	if res.Error != nil {
		respondError(w, http.StatusServiceUnavailable, "STORAGE_FAILURE", "storage temporarily unavailable")
		return
	}
	if res.RowsAffected == 0 {
		respondError(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "no user found with that id")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTradesHandler returns every trade on the platform. Admin only.
func (h *Handlers) ListTradesHandler(w http.ResponseWriter, r *http.Request) {
	trades, err := h.engine.AllTrades(r.Context())
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondList(w, http.StatusOK, "trades", len(trades), trades)
}

type openTicketRequest struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// OpenTicketHandler opens a support ticket for the authenticated account.
func (h *Handlers) OpenTicketHandler(w http.ResponseWriter, r *http.Request) {
	acct, _ := auth.AccountFrom(r.Context())

	var req openTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	ticket, err := h.tickets.Open(r.Context(), acct.ID, req.Subject, req.Message)
	if err != nil {
		respondSupportError(w, err)
		return
	}
	respond(w, http.StatusCreated, map[string]interface{}{"ticket": ticket})
}

// MyTicketsHandler returns the authenticated account's tickets.
func (h *Handlers) MyTicketsHandler(w http.ResponseWriter, r *http.Request) {
	acct, _ := auth.AccountFrom(r.Context())

	tickets, err := h.tickets.ForAccount(r.Context(), acct.ID)
	if err != nil {
		respondSupportError(w, err)
		return
	}
	respondList(w, http.StatusOK, "tickets", len(tickets), tickets)
}

// GetTicketHandler returns one ticket for its owner or an admin.
func (h *Handlers) GetTicketHandler(w http.ResponseWriter, r *http.Request) {
	acct, _ := auth.AccountFrom(r.Context())

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid ticket id")
		return
	}

	ticket, err := h.tickets.Get(r.Context(), id, acct)
	if err != nil {
		respondSupportError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

type replyRequest struct {
	Message string `json:"message"`
}

// ReplyTicketHandler appends a reply to a ticket thread.
func (h *Handlers) ReplyTicketHandler(w http.ResponseWriter, r *http.Request) {
	acct, _ := auth.AccountFrom(r.Context())

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid ticket id")
		return
	}

	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	ticket, err := h.tickets.Reply(r.Context(), id, acct, req.Message)
	if err != nil {
		respondSupportError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

// CloseTicketHandler closes a ticket.
func (h *Handlers) CloseTicketHandler(w http.ResponseWriter, r *http.Request) {
	acct, _ := auth.AccountFrom(r.Context())

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid ticket id")
		return
	}

	ticket, err := h.tickets.Close(r.Context(), id, acct)
	if err != nil {
		respondSupportError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}
