/*

Liquidity-pair auto-compounding strategy: stakes an LP token in a reward
engine pool, harvests the reward into both pair legs, supplies the legs
back to the pair and restakes the minted LP.

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

type PairStrategy struct {
	log   zerolog.Logger
	bound atomic.Bool

	engine  *chef.Chef
	assets  token.AssetLedger
	router  token.SwapRouter
	poolID  types.PoolID
	account types.Account
	want    types.AssetID // the LP token
	reward  types.AssetID
	token0  types.AssetID
	token1  types.AssetID
	path0   []types.AssetID // reward -> token0; ignored when token0 == reward
	path1   []types.AssetID // reward -> token1; ignored when token1 == reward
}

// NewPairStrategy wraps one engine pool staking the LP token of the
// token0/token1 pair.
func NewPairStrategy(engine *chef.Chef, assets token.AssetLedger, router token.SwapRouter,
	poolID types.PoolID, account types.Account, want, token0, token1 types.AssetID,
	path0, path1 []types.AssetID) (*PairStrategy, error) {
	if engine == nil || assets == nil || router == nil {
		return nil, fmt.Errorf("engine, asset ledger and router cannot be nil")
	}
	if account == "" || want == "" || token0 == "" || token1 == "" {
		return nil, fmt.Errorf("account, want and pair legs cannot be empty")
	}
	reward := engine.RewardAsset()
	if token0 != reward && len(path0) < 2 {
		return nil, fmt.Errorf("a swap path to %s is required", token0)
	}
	if token1 != reward && len(path1) < 2 {
		return nil, fmt.Errorf("a swap path to %s is required", token1)
	}
	return &PairStrategy{
		log:     logger.GetForComponent("strategy_pair"),
		engine:  engine,
		assets:  assets,
		router:  router,
		poolID:  poolID,
		account: account,
		want:    want,
		reward:  reward,
		token0:  token0,
		token1:  token1,
		path0:   path0,
		path1:   path1,
	}, nil
}

func (s *PairStrategy) Bind() error {
	if !s.bound.CompareAndSwap(false, true) {
		return fmt.Errorf("strategy already bound to a vault pool")
	}
	return nil
}

func (s *PairStrategy) Want() types.AssetID    { return s.want }
func (s *PairStrategy) Account() types.Account { return s.account }

func (s *PairStrategy) TotalUnderlying() sdkmath.Int {
	stake, err := s.engine.StakeOf(s.poolID, s.account)
	if err != nil {
		return sdkmath.ZeroInt()
	}
	return stake.Amount
}

func (s *PairStrategy) Deposit(amount sdkmath.Int) error {
	balance := s.assets.BalanceOf(s.want, s.account)
	if !balance.IsPositive() {
		return fmt.Errorf("%w: nothing to stake", types.ErrInvalidAmount)
	}
	return s.engine.Deposit(s.poolID, s.account, balance)
}

func (s *PairStrategy) Withdraw(amount sdkmath.Int) error {
	return s.engine.Withdraw(s.poolID, s.account, amount)
}

// Harvest claims pending reward, splits it across both legs, pairs the
// legs into LP and restakes. Any swap or pairing failure leaves the
// claimed reward and part-swapped legs buffered in the strategy account;
// the staked position and share value never move on failure.
func (s *PairStrategy) Harvest() error {
	pending, err := s.engine.PendingReward(s.poolID, s.account)
	if err != nil {
		return err
	}
	if pending.IsPositive() {
		if err := s.engine.Withdraw(s.poolID, s.account, sdkmath.ZeroInt()); err != nil {
			return err
		}
	}

	buffer := s.assets.BalanceOf(s.reward, s.account)
	if buffer.IsPositive() {
		half := buffer.Quo(sdkmath.NewInt(2))
		rest := buffer.Sub(half)
		if s.token0 != s.reward && half.IsPositive() {
			if _, err := s.router.SwapExactTokensForTokens(half, s.path0, s.account); err != nil {
				return fmt.Errorf("harvest swap leg0: %w", err)
			}
		}
		if s.token1 != s.reward && rest.IsPositive() {
			if _, err := s.router.SwapExactTokensForTokens(rest, s.path1, s.account); err != nil {
				return fmt.Errorf("harvest swap leg1: %w", err)
			}
		}
	}

	bal0 := s.assets.BalanceOf(s.token0, s.account)
	bal1 := s.assets.BalanceOf(s.token1, s.account)
	if bal0.IsPositive() && bal1.IsPositive() {
		if _, _, err := s.router.AddLiquidity(s.token0, s.token1, bal0, bal1, s.account); err != nil {
			return fmt.Errorf("harvest pairing: %w", err)
		}
	}

	lpBalance := s.assets.BalanceOf(s.want, s.account)
	if !lpBalance.IsPositive() {
		return nil
	}
	if err := s.engine.Deposit(s.poolID, s.account, lpBalance); err != nil {
		return err
	}
	s.log.Debug().Uint64("pool", uint64(s.poolID)).Str("compounded", lpBalance.String()).Msg("Harvest compounded")
	return nil
}
