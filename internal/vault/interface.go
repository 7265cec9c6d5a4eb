package vault

import (
	sdkmath "cosmossdk.io/math"

	"github.com/dragonfarm/farmd/internal/types"
)

// Strategy is the capability contract between the vault registry and a
// yield position. The closed variant set {single-asset, liquidity-pair}
// dispatches through this one interface; a new strategy kind adds a
// variant, not a registry rewrite.
type Strategy interface {
	// Want is the asset the strategy accepts and holds.
	Want() types.AssetID

	// Account is the strategy's working account. The registry moves the
	// want asset in and out of it.
	Account() types.Account

	// TotalUnderlying is the current size of the wrapped position. It
	// counts only the staked position, never un-compounded buffer, so a
	// failed harvest cannot move share value.
	TotalUnderlying() sdkmath.Int

	// Deposit stakes funds already sitting in the strategy account.
	Deposit(amount sdkmath.Int) error

	// Withdraw unstakes amount back into the strategy account.
	Withdraw(amount sdkmath.Int) error

	// Harvest claims accrued reward, converts it into the want asset and
	// restakes it. A failed harvest must leave the position unchanged.
	Harvest() error

	// Bind is claimed exactly once by the registry that drives the
	// strategy; a second bind fails.
	Bind() error
}
