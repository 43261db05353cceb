package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/xtrntr/kdex/internal/auth"
	"github.com/xtrntr/kdex/internal/events"
	"github.com/xtrntr/kdex/internal/exchange"
	"github.com/xtrntr/kdex/internal/models"
	"github.com/xtrntr/kdex/internal/token"
)

// Journal answers history queries. It is nil when no database is
// configured.
type Journal interface {
	GetUserTrades(ctx context.Context, user common.Address) ([]models.Trade, error)
	GetLedgerEvents(ctx context.Context, user common.Address, limit int) ([]models.Event, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Exchange    *exchange.Exchange
	Tokens      *token.Registry
	AuthService *auth.AuthService
	Journal     Journal
	Hub         *Hub
	logger      *zap.Logger
}

// NewHandler creates a new handler. journal and hub may be nil.
func NewHandler(ex *exchange.Exchange, tokens *token.Registry, authService *auth.AuthService, journal Journal, hub *Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Exchange:    ex,
		Tokens:      tokens,
		AuthService: authService,
		Journal:     journal,
		Hub:         hub,
		logger:      logger,
	}
}

// fail writes err with the status it maps to. Unexpected errors are
// logged and hidden from the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", RequestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, status, "Internal error")
		return
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func orderID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order ID")
		return 0, false
	}
	return id, true
}

// resolveToken accepts a token address or a registered symbol
func (h *Handler) resolveToken(s string) (*token.Ledger, error) {
	if common.IsHexAddress(s) {
		return h.Tokens.Ledger(common.HexToAddress(s))
	}
	return h.Tokens.BySymbol(s)
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Address  string `json:"address"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password required")
		return
	}
	address, err := parseAddress("address", req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password, address)
	if err != nil {
		switch statusFor(err) {
		case http.StatusConflict:
			writeError(w, http.StatusConflict, "Username or address already registered")
		case http.StatusForbidden:
			writeError(w, http.StatusForbidden, "Address is reserved by the exchange")
		default:
			writeError(w, http.StatusBadRequest, "Failed to register user: "+err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
		"address":  user.Address,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}

	tokenString, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tokenString})
}

// GetExchange reports the exchange configuration
func (h *Handler) GetExchange(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":       h.Exchange.Address(),
		"fee_account":   h.Exchange.FeeAccount(),
		"fee_percent":   h.Exchange.FeePercent(),
		"partial_fills": h.Exchange.PartialFillsEnabled(),
		"total_orders":  h.Exchange.TotalOrders(),
	})
}

// GetBalance returns a user's escrow balance of a token
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress("user", chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l, err := h.resolveToken(chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	asset := l.Info().Address
	writeJSON(w, http.StatusOK, balanceView{
		User:    user,
		Token:   asset,
		Balance: h.Exchange.BalanceOf(user, asset).Dec(),
	})
}

type transferRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

func (h *Handler) parseTransfer(w http.ResponseWriter, r *http.Request) (common.Address, *uint256.Int, bool) {
	var req transferRequest
	if !decode(w, r, &req) {
		return common.Address{}, nil, false
	}
	l, err := h.resolveToken(req.Token)
	if err != nil {
		h.fail(w, r, err)
		return common.Address{}, nil, false
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, nil, false
	}
	return l.Info().Address, amount, true
}

// Deposit pulls approved tokens from the caller's wallet into escrow
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	asset, amount, ok := h.parseTransfer(w, r)
	if !ok {
		return
	}
	balance, err := h.Exchange.Deposit(r.Context(), claims.Address, asset, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceView{User: claims.Address, Token: asset, Balance: balance.Dec()})
}

// Withdraw returns escrowed tokens to the caller's wallet
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	asset, amount, ok := h.parseTransfer(w, r)
	if !ok {
		return
	}
	balance, err := h.Exchange.Withdraw(r.Context(), claims.Address, asset, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceView{User: claims.Address, Token: asset, Balance: balance.Dec()})
}

// PlaceOrder creates an order owned by the caller
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	var req struct {
		TokenGet   string `json:"token_get"`
		AmountGet  string `json:"amount_get"`
		TokenGive  string `json:"token_give"`
		AmountGive string `json:"amount_give"`
	}
	if !decode(w, r, &req) {
		return
	}

	getL, err := h.resolveToken(req.TokenGet)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	giveL, err := h.resolveToken(req.TokenGive)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amountGet, err := parseAmount("amount_get", req.AmountGet)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amountGive, err := parseAmount("amount_give", req.AmountGive)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.Exchange.MakeOrder(claims.Address, getL.Info().Address, amountGet, giveL.Info().Address, amountGive)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, events.NewOrderView(o))
}

// CancelOrder cancels one of the caller's open orders
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	o, err := h.Exchange.CancelOrder(claims.Address, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events.NewOrderView(o))
}

// FillOrder settles an order against the caller. An empty body or amount
// fills the whole remainder.
func (h *Handler) FillOrder(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	var amount *uint256.Int
	if req.Amount != "" {
		var err error
		if amount, err = parseAmount("amount", req.Amount); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	t, err := h.Exchange.FillOrder(claims.Address, id, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events.NewTradeView(t))
}

// GetOrder returns one order by id
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	o, err := h.Exchange.Order(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events.NewOrderView(o))
}

func orderViews(orders []models.Order) []events.OrderView {
	out := make([]events.OrderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, events.NewOrderView(o))
	}
	return out
}

// GetOpenOrders returns every open order, oldest first
func (h *Handler) GetOpenOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, orderViews(h.Exchange.OpenOrders()))
}

// GetUserOrders retrieves the caller's orders in every status
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	writeJSON(w, http.StatusOK, orderViews(h.Exchange.OrdersBy(claims.Address)))
}

// GetUserTrades retrieves the caller's trade history from the journal
func (h *Handler) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	if h.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, "Trade history requires a database")
		return
	}
	trades, err := h.Journal.GetUserTrades(r.Context(), claims.Address)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]events.TradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, events.NewTradeView(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetUserEvents retrieves the caller's ledger events, newest first
func (h *Handler) GetUserEvents(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	if h.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, "Event history requires a database")
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	evs, err := h.Journal.GetLedgerEvents(r.Context(), claims.Address, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]json.RawMessage, 0, len(evs))
	for _, ev := range evs {
		data, err := events.Encode(ev)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out = append(out, data)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetAudit compares escrow with custody for every asset
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Exchange.Audit(r.Context())
	if err != nil && !errors.Is(err, exchange.ErrInsolvent) {
		h.fail(w, r, err)
		return
	}
	out := make([]auditView, 0, len(entries))
	for _, a := range entries {
		out = append(out, auditView{
			Token:   a.Token,
			Escrow:  a.Escrow.Dec(),
			Custody: a.Custody.Dec(),
			Solvent: a.Solvent(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"solvent": err == nil,
		"assets":  out,
	})
}
