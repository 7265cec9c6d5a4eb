/*

External capabilities consumed by the ledger: fungible asset transfers,
NFT custody, and swap-path execution. The engine only ever sees these
interfaces; token mechanics live outside the core.

*/

package token

import (
	"errors"

	sdkmath "cosmossdk.io/math"

	"github.com/dragonfarm/farmd/internal/types"
)

var (
	ErrUnknownToken = errors.New("unknown token id")
	ErrUnknownAsset = errors.New("unknown asset")
)

// AssetLedger moves fungible assets between accounts.
type AssetLedger interface {
	// Transfer moves amount of asset from one account to another. Fails
	// with types.ErrTransferFailed when the sender balance is short.
	Transfer(asset types.AssetID, from, to types.Account, amount sdkmath.Int) error

	// Mint credits freshly issued units of asset to an account. Only the
	// reward engine uses this, for emission.
	Mint(asset types.AssetID, to types.Account, amount sdkmath.Int) error

	// BalanceOf reports an account's balance; unknown assets read as zero.
	BalanceOf(asset types.AssetID, account types.Account) sdkmath.Int
}

// Collection is custody over a set of non-fungible tokens.
type Collection interface {
	// OwnerOf reports the current holder of a token.
	OwnerOf(id types.TokenID) (types.Account, error)

	// Transfer moves custody of a token. Fails with types.ErrNotOwner when
	// from does not hold the token.
	Transfer(id types.TokenID, from, to types.Account) error
}

// SwapRouter executes swaps along a configured asset path and pairs two
// legs into an LP position. Both operations are atomic: on error no
// balance has moved.
type SwapRouter interface {
	// SwapExactTokensForTokens swaps amountIn of path[0] into path[len-1]
	// for the given account. Fails with types.ErrSwapFailed on missing
	// routes or insufficient liquidity.
	SwapExactTokensForTokens(amountIn sdkmath.Int, path []types.AssetID, account types.Account) (sdkmath.Int, error)

	// AddLiquidity supplies both legs of a pair and returns the LP asset
	// and the amount of LP tokens minted to the account.
	AddLiquidity(assetA, assetB types.AssetID, amountA, amountB sdkmath.Int, account types.Account) (types.AssetID, sdkmath.Int, error)
}
