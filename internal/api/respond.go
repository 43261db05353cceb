package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/xtrntr/kdex/internal/auth"
	"github.com/xtrntr/kdex/internal/db"
	"github.com/xtrntr/kdex/internal/exchange"
	"github.com/xtrntr/kdex/internal/models"
	"github.com/xtrntr/kdex/internal/token"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, exchange.ErrInsufficientBalance),
		errors.Is(err, exchange.ErrInsufficientAllowance),
		errors.Is(err, exchange.ErrInsufficientExternalBalance),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, exchange.ErrInvalidAmount),
		errors.Is(err, exchange.ErrInvalidAsset),
		errors.Is(err, exchange.ErrUnknownAsset),
		errors.Is(err, exchange.ErrSelfTrade),
		errors.Is(err, token.ErrZeroAddress):
		return http.StatusBadRequest
	case errors.Is(err, exchange.ErrNotOrderOwner),
		errors.Is(err, auth.ErrReservedAddress):
		return http.StatusForbidden
	case errors.Is(err, exchange.ErrOrderNotFound),
		errors.Is(err, token.ErrUnknownToken):
		return http.StatusNotFound
	case errors.Is(err, exchange.ErrOrderAlreadyCancelled),
		errors.Is(err, exchange.ErrOrderAlreadyFilled),
		errors.Is(err, db.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s must be a 0x-prefixed 20-byte hex address", field)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(field, s string) (*uint256.Int, error) {
	v, err := models.ParseAmount(s)
	if err != nil {
		return nil, fmt.Errorf("%s must be a base-unit integer string", field)
	}
	return v, nil
}

type balanceView struct {
	User    common.Address `json:"user"`
	Token   common.Address `json:"token"`
	Balance string         `json:"balance"`
}

type tokenView struct {
	Address     common.Address `json:"address"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	Decimals    int32          `json:"decimals"`
	TotalSupply string         `json:"total_supply"`
	Escrow      string         `json:"escrow"`
}

type auditView struct {
	Token   common.Address `json:"token"`
	Escrow  string         `json:"escrow"`
	Custody string         `json:"custody"`
	Solvent bool           `json:"solvent"`
}
