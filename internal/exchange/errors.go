package exchange

import "errors"

var (
	ErrInvalidAmount               = errors.New("invalid amount")
	ErrInsufficientBalance         = errors.New("insufficient balance")
	ErrInsufficientAllowance       = errors.New("insufficient allowance")
	ErrInsufficientExternalBalance = errors.New("insufficient external balance")
	ErrOrderNotFound               = errors.New("order not found")
	ErrNotOrderOwner               = errors.New("not order owner")
	ErrOrderAlreadyCancelled       = errors.New("order already cancelled")
	ErrOrderAlreadyFilled          = errors.New("order already filled")

	ErrUnknownAsset   = errors.New("unknown asset")
	ErrInvalidAsset   = errors.New("invalid asset pair")
	ErrSelfTrade      = errors.New("cannot fill own order")
	ErrTransferFailed = errors.New("asset transfer failed")
	ErrReentrantCall  = errors.New("reentrant call")
	ErrStateNotEmpty  = errors.New("exchange state not empty")

	// ErrInsolvent is returned by Audit when escrow balances of an asset
	// add up to more than the exchange holds on the token
	ErrInsolvent = errors.New("escrow exceeds custodial holdings")
)
