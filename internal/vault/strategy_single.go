/*

Single-asset auto-compounding strategy: stakes one asset in a reward
engine pool and harvests accrued reward back into the same position,
swapping through the configured path when the reward is not the want
asset itself.

*/

package vault

import (
	"fmt"
	"sync/atomic"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/dragonfarm/farmd/internal/chef"
	"github.com/dragonfarm/farmd/internal/logger"
	"github.com/dragonfarm/farmd/internal/token"
	"github.com/dragonfarm/farmd/internal/types"
)

type SingleStrategy struct {
	log   zerolog.Logger
	bound atomic.Bool

	engine  *chef.Chef
	assets  token.AssetLedger
	router  token.SwapRouter
	poolID  types.PoolID
	account types.Account
	want    types.AssetID
	reward  types.AssetID
	path    []types.AssetID // reward -> want; ignored when reward == want
}

// NewSingleStrategy wraps one engine pool. The path converts the claimed
// reward into the want asset; pass nil when the pool stakes the reward
// asset itself.
func NewSingleStrategy(engine *chef.Chef, assets token.AssetLedger, router token.SwapRouter,
	poolID types.PoolID, account types.Account, want types.AssetID, path []types.AssetID) (*SingleStrategy, error) {
	if engine == nil || assets == nil {
		return nil, fmt.Errorf("engine and asset ledger cannot be nil")
	}
	if account == "" || want == "" {
		return nil, fmt.Errorf("account and want asset cannot be empty")
	}
	reward := engine.RewardAsset()
	if reward != want && (router == nil || len(path) < 2) {
		return nil, fmt.Errorf("a swap path is required when reward differs from want")
	}
	return &SingleStrategy{
		log:     logger.GetForComponent("strategy_single"),
		engine:  engine,
		assets:  assets,
		router:  router,
		poolID:  poolID,
		account: account,
		want:    want,
		reward:  reward,
		path:    path,
	}, nil
}

func (s *SingleStrategy) Bind() error {
	if !s.bound.CompareAndSwap(false, true) {
		return fmt.Errorf("strategy already bound to a vault pool")
	}
	return nil
}

func (s *SingleStrategy) Want() types.AssetID    { return s.want }
func (s *SingleStrategy) Account() types.Account { return s.account }

// TotalUnderlying counts only the staked position; buffered reward from
// an interrupted harvest is excluded until it compounds.
func (s *SingleStrategy) TotalUnderlying() sdkmath.Int {
	stake, err := s.engine.StakeOf(s.poolID, s.account)
	if err != nil {
		return sdkmath.ZeroInt()
	}
	return stake.Amount
}

// Deposit stakes the strategy account's whole want balance, so dust left
// by an earlier harvest rides along.
func (s *SingleStrategy) Deposit(amount sdkmath.Int) error {
	balance := s.assets.BalanceOf(s.want, s.account)
	if !balance.IsPositive() {
		return fmt.Errorf("%w: nothing to stake", types.ErrInvalidAmount)
	}
	return s.engine.Deposit(s.poolID, s.account, balance)
}

func (s *SingleStrategy) Withdraw(amount sdkmath.Int) error {
	return s.engine.Withdraw(s.poolID, s.account, amount)
}

// Harvest claims pending reward, swaps it into the want asset and
// restakes it. When the swap fails the claimed reward stays in the
// strategy account for the next attempt and the position is unchanged.
func (s *SingleStrategy) Harvest() error {
	pending, err := s.engine.PendingReward(s.poolID, s.account)
	if err != nil {
		return err
	}
	if pending.IsPositive() {
		if err := s.engine.Withdraw(s.poolID, s.account, sdkmath.ZeroInt()); err != nil {
			return err
		}
	}

	if s.reward != s.want {
		buffer := s.assets.BalanceOf(s.reward, s.account)
		if buffer.IsPositive() {
			if _, err := s.router.SwapExactTokensForTokens(buffer, s.path, s.account); err != nil {
				return fmt.Errorf("harvest swap: %w", err)
			}
		}
	}

	balance := s.assets.BalanceOf(s.want, s.account)
	if !balance.IsPositive() {
		return nil
	}
	if err := s.engine.Deposit(s.poolID, s.account, balance); err != nil {
		return err
	}
	s.log.Debug().Uint64("pool", uint64(s.poolID)).Str("compounded", balance.String()).Msg("Harvest compounded")
	return nil
}
