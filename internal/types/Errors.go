package types

import "errors"

// Error taxonomy for the ledger. Every validation error is returned
// before any state mutation; callers match with errors.Is.
var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrPoolNotFound        = errors.New("pool not found")
	ErrDuplicatePool       = errors.New("duplicated pool asset")
	ErrInvalidFee          = errors.New("deposit fee above maximum")
	ErrInsufficientBalance = errors.New("insufficient staked balance")
	ErrInsufficientShares  = errors.New("insufficient shares")
	ErrNotOwner            = errors.New("caller does not own token")
	ErrNotStaked           = errors.New("token not staked by caller")
	ErrTransferFailed      = errors.New("asset transfer failed")
	ErrSwapFailed          = errors.New("swap failed")
	ErrReentrantCall       = errors.New("reentrant call")
)
