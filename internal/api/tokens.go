package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ListTokens describes every listed token and how much of it is escrowed
func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	ledgers := h.Tokens.Ledgers()
	out := make([]tokenView, 0, len(ledgers))
	for _, l := range ledgers {
		info := l.Info()
		out = append(out, tokenView{
			Address:     info.Address,
			Name:        info.Name,
			Symbol:      info.Symbol,
			Decimals:    info.Decimals,
			TotalSupply: l.TotalSupply().Dec(),
			Escrow:      h.Exchange.Supply(info.Address).Dec(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Approve sets an allowance over the caller's wallet. The spender
// defaults to the exchange.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	l, err := h.resolveToken(chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		Spender string `json:"spender"`
		Amount  string `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	spender := h.Exchange.Address()
	if req.Spender != "" {
		if spender, err = parseAddress("spender", req.Spender); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := l.Approve(claims.Address, spender, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":     l.Info().Address,
		"owner":     claims.Address,
		"spender":   spender,
		"allowance": amount.Dec(),
	})
}

// Transfer moves tokens from the caller's wallet to another address
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	l, err := h.resolveToken(chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := l.Transfer(r.Context(), claims.Address, to, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	balance, err := l.BalanceOf(r.Context(), claims.Address)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceView{User: claims.Address, Token: l.Info().Address, Balance: balance.Dec()})
}

// WalletBalance reports the caller's balance on the token itself and the
// allowance granted to the exchange
func (h *Handler) WalletBalance(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	l, err := h.resolveToken(chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	balance, err := l.BalanceOf(r.Context(), claims.Address)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	allowance, err := l.Allowance(r.Context(), claims.Address, h.Exchange.Address())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":     l.Info().Address,
		"owner":     claims.Address,
		"balance":   balance.Dec(),
		"allowance": allowance.Dec(),
		"escrow":    h.Exchange.BalanceOf(claims.Address, l.Info().Address).Dec(),
	})
}
