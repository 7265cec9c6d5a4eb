/*

Reward accrual engine. Owns the pool registry, per-user stake records and
the reward-per-share accumulators. Deposit fees are routed to a FeeSink;
reward emission is minted against the configured asset ledger.

*/

package chef

import (
	"fmt"
	"sync"
	"sync/atomic"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/dragonfarm/farmd/internal/logger"
	"github.com/dragonfarm/farmd/internal/token"
	"github.com/dragonfarm/farmd/internal/types"
)

// FeeSink receives deposit fees captured by the engine. Implemented by
// the nest ledger.
type FeeSink interface {
	// Account is the escrow account fees are transferred into.
	Account() types.Account
	// RegisterPool tells the sink a new pool exists.
	RegisterPool(id types.PoolID, asset types.AssetID)
	// CreditFee records an already-transferred fee as pending for a pool.
	CreditFee(id types.PoolID, amount sdkmath.Int)
}

// Config wires a Chef's dependencies and emission parameters.
type Config struct {
	RewardAsset      types.AssetID
	EmissionRate     sdkmath.Int // reward minted per reward period
	RewardPeriod     uint64      // counter units per reward period
	StartAt          uint64      // counter value at which accrual begins
	DevFeeBps        uint32      // emission cut routed to the dev account
	MaxDepositFeeBps uint32

	Account    types.Account // escrow holding staked assets and unclaimed reward
	DevAccount types.Account

	Clock  types.Clock
	Assets token.AssetLedger
	Fees   FeeSink         // optional; nil drops fee routing
	Events types.EventSink // optional
}

// Chef is the reward accrual engine aggregate. All mutating operations
// run under a busy-flag reentrancy guard; the ledger executes in a
// single-writer environment, so the guard rejects nested calls rather
// than serializing concurrent ones.
type Chef struct {
	mu   sync.RWMutex
	busy atomic.Bool
	log  zerolog.Logger

	cfg Config

	pools      []*types.Pool
	assetIndex map[types.AssetID]types.PoolID
	stakes     map[types.PoolID]map[types.Account]*types.UserStake

	totalAllocWeight uint64
}

// New validates the configuration and creates an engine with no pools.
func New(cfg Config) (*Chef, error) {
	if cfg.Assets == nil {
		return nil, fmt.Errorf("asset ledger cannot be nil")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}
	if cfg.RewardAsset == "" {
		return nil, fmt.Errorf("reward asset cannot be empty")
	}
	if cfg.EmissionRate.IsNil() || cfg.EmissionRate.IsNegative() {
		return nil, fmt.Errorf("emission rate must be non-negative")
	}
	if cfg.RewardPeriod == 0 {
		return nil, fmt.Errorf("reward period must be positive")
	}
	if cfg.DevFeeBps > 10000 || cfg.MaxDepositFeeBps > 10000 {
		return nil, fmt.Errorf("basis point values must not exceed 10000")
	}
	if cfg.Account == "" || cfg.DevAccount == "" {
		return nil, fmt.Errorf("escrow and dev accounts cannot be empty")
	}
	if cfg.Events == nil {
		cfg.Events = types.NopSink{}
	}

	return &Chef{
		log:        logger.GetForComponent("chef"),
		cfg:        cfg,
		assetIndex: make(map[types.AssetID]types.PoolID),
		stakes:     make(map[types.PoolID]map[types.Account]*types.UserStake),
	}, nil
}

func (c *Chef) enter() error {
	if !c.busy.CompareAndSwap(false, true) {
		return types.ErrReentrantCall
	}
	c.mu.Lock()
	return nil
}

func (c *Chef) leave() {
	c.mu.Unlock()
	c.busy.Store(false)
}

// AddPool registers a new pool for an asset. Each asset can back at most
// one pool. When withUpdate is set, all existing pools are settled first
// so the weight change cannot reach back into already-elapsed periods.
func (c *Chef) AddPool(weight uint64, asset types.AssetID, feeBps uint32, withUpdate bool) (types.PoolID, error) {
	if err := c.enter(); err != nil {
		return 0, err
	}
	defer c.leave()

	if _, dup := c.assetIndex[asset]; dup {
		return 0, fmt.Errorf("%w: %s", types.ErrDuplicatePool, asset)
	}
	if feeBps > c.cfg.MaxDepositFeeBps {
		return 0, fmt.Errorf("%w: %d bps (max %d)", types.ErrInvalidFee, feeBps, c.cfg.MaxDepositFeeBps)
	}
	if withUpdate {
		c.settleAll()
	}

	now := c.cfg.Clock.Now()
	if now < c.cfg.StartAt {
		now = c.cfg.StartAt
	}
	id := types.PoolID(len(c.pools))
	pool := &types.Pool{
		ID:                id,
		Asset:             asset,
		AllocWeight:       weight,
		DepositFeeBps:     feeBps,
		LastAccrual:       now,
		AccRewardPerShare: sdkmath.ZeroInt(),
		TotalStaked:       sdkmath.ZeroInt(),
	}
	c.pools = append(c.pools, pool)
	c.assetIndex[asset] = id
	c.stakes[id] = make(map[types.Account]*types.UserStake)
	c.totalAllocWeight += weight

	if c.cfg.Fees != nil {
		c.cfg.Fees.RegisterPool(id, asset)
	}

	ev := types.NewEvent(types.EventPoolAdded, c.cfg.Clock.Now())
	ev.Pool = id
	ev.Asset = asset
	ev.Weight = weight
	ev.FeeBps = feeBps
	c.cfg.Events.Record(ev)

	c.log.Info().Uint64("pool", uint64(id)).Str("asset", string(asset)).
		Uint64("weight", weight).Uint32("feeBps", feeBps).Msg("Pool added")
	return id, nil
}

// SetPool changes a pool's allocation weight and deposit fee in place.
func (c *Chef) SetPool(id types.PoolID, weight uint64, feeBps uint32, withUpdate bool) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()

	pool, err := c.pool(id)
	if err != nil {
		return err
	}
	if feeBps > c.cfg.MaxDepositFeeBps {
		return fmt.Errorf("%w: %d bps (max %d)", types.ErrInvalidFee, feeBps, c.cfg.MaxDepositFeeBps)
	}
	if withUpdate {
		c.settleAll()
	}

	c.totalAllocWeight = c.totalAllocWeight - pool.AllocWeight + weight
	pool.AllocWeight = weight
	pool.DepositFeeBps = feeBps

	ev := types.NewEvent(types.EventPoolUpdated, c.cfg.Clock.Now())
	ev.Pool = id
	ev.Asset = pool.Asset
	ev.Weight = weight
	ev.FeeBps = feeBps
	c.cfg.Events.Record(ev)

	c.log.Info().Uint64("pool", uint64(id)).Uint64("weight", weight).
		Uint32("feeBps", feeBps).Msg("Pool updated")
	return nil
}

// SetEmissionRate changes the per-period emission. All pools are settled
// first so the new rate only applies going forward.
func (c *Chef) SetEmissionRate(rate sdkmath.Int) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()

	if rate.IsNil() || rate.IsNegative() {
		return fmt.Errorf("%w: emission rate must be non-negative", types.ErrInvalidAmount)
	}
	c.settleAll()
	c.cfg.EmissionRate = rate

	ev := types.NewEvent(types.EventEmissionRateChanged, c.cfg.Clock.Now())
	ev.Amount = rate.String()
	c.cfg.Events.Record(ev)
	return nil
}

// UpdatePool settles one pool up to the current counter value. Idempotent
// and never fails; settling twice at the same counter is a no-op.
func (c *Chef) UpdatePool(id types.PoolID) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()

	pool, err := c.pool(id)
	if err != nil {
		return err
	}
	c.settlePool(pool)
	return nil
}

// MassUpdatePools settles every registered pool.
func (c *Chef) MassUpdatePools() error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	c.settleAll()
	return nil
}

// Deposit stakes amount of the pool's asset for the caller. The pool's
// deposit fee is deducted from the gross amount and routed to the fee
// sink; any reward pending from an earlier stake is paid out first.
func (c *Chef) Deposit(id types.PoolID, caller types.Account, amount sdkmath.Int) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()

	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: deposit of zero", types.ErrInvalidAmount)
	}
	pool, err := c.pool(id)
	if err != nil {
		return err
	}

	c.settlePool(pool)

	// Pull the gross amount before touching any stake state so a failed
	// transfer leaves the operation unapplied.
	if err := c.cfg.Assets.Transfer(pool.Asset, caller, c.cfg.Account, amount); err != nil {
		return err
	}

	fee := FeePortion(amount, pool.DepositFeeBps)
	if fee.IsPositive() && c.cfg.Fees != nil {
		if err := c.cfg.Assets.Transfer(pool.Asset, c.cfg.Account, c.cfg.Fees.Account(), fee); err != nil {
			// Return the pulled funds; the escrow was just credited.
			_ = c.cfg.Assets.Transfer(pool.Asset, c.cfg.Account, caller, amount)
			return err
		}
		c.cfg.Fees.CreditFee(id, fee)
	}

	stake := c.stakeRecord(id, caller)
	pending := PendingAmount(stake.Amount, pool.AccRewardPerShare, stake.RewardDebt)
	if pending.IsPositive() {
		c.payReward(id, caller, pending)
	}

	net := amount.Sub(fee)
	stake.Amount = stake.Amount.Add(net)
	stake.RewardDebt = stake.Amount.Mul(pool.AccRewardPerShare).Quo(types.Precision)
	pool.TotalStaked = pool.TotalStaked.Add(net)

	ev := types.NewEvent(types.EventDeposit, c.cfg.Clock.Now())
	ev.Pool = id
	ev.Account = caller
	ev.Asset = pool.Asset
	ev.Amount = amount.String()
	c.cfg.Events.Record(ev)

	c.log.Debug().Uint64("pool", uint64(id)).Str("account", string(caller)).
		Str("gross", amount.String()).Str("fee", fee.String()).Msg("Deposit")
	return nil
}

// Withdraw unstakes amount for the caller and pays out pending reward.
// A zero amount is a harvest-only call.
func (c *Chef) Withdraw(id types.PoolID, caller types.Account, amount sdkmath.Int) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()

	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: negative withdrawal", types.ErrInvalidAmount)
	}
	pool, err := c.pool(id)
	if err != nil {
		return err
	}
	stake := c.stakeRecord(id, caller)
	if stake.Amount.LT(amount) {
		return fmt.Errorf("%w: staked %s, requested %s", types.ErrInsufficientBalance, stake.Amount, amount)
	}

	c.settlePool(pool)

	pending := PendingAmount(stake.Amount, pool.AccRewardPerShare, stake.RewardDebt)
	if pending.IsPositive() {
		c.payReward(id, caller, pending)
	}

	// Stake state shrinks before the principal leaves the escrow.
	stake.Amount = stake.Amount.Sub(amount)
	stake.RewardDebt = stake.Amount.Mul(pool.AccRewardPerShare).Quo(types.Precision)
	pool.TotalStaked = pool.TotalStaked.Sub(amount)

	if amount.IsPositive() {
		if err := c.cfg.Assets.Transfer(pool.Asset, c.cfg.Account, caller, amount); err != nil {
			return fmt.Errorf("%w: principal return: %v", types.ErrTransferFailed, err)
		}
	}

	ev := types.NewEvent(types.EventWithdraw, c.cfg.Clock.Now())
	ev.Pool = id
	ev.Account = caller
	ev.Asset = pool.Asset
	ev.Amount = amount.String()
	c.cfg.Events.Record(ev)
	return nil
}

// EmergencyWithdraw returns the caller's full stake without settling the
// pool; any pending reward is forfeited.
func (c *Chef) EmergencyWithdraw(id types.PoolID, caller types.Account) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()

	pool, err := c.pool(id)
	if err != nil {
		return err
	}
	stake := c.stakeRecord(id, caller)
	amount := stake.Amount

	stake.Amount = sdkmath.ZeroInt()
	stake.RewardDebt = sdkmath.ZeroInt()
	pool.TotalStaked = pool.TotalStaked.Sub(amount)

	if amount.IsPositive() {
		if err := c.cfg.Assets.Transfer(pool.Asset, c.cfg.Account, caller, amount); err != nil {
			return fmt.Errorf("%w: principal return: %v", types.ErrTransferFailed, err)
		}
	}

	ev := types.NewEvent(types.EventEmergencyWithdraw, c.cfg.Clock.Now())
	ev.Pool = id
	ev.Account = caller
	ev.Asset = pool.Asset
	ev.Amount = amount.String()
	c.cfg.Events.Record(ev)

	c.log.Warn().Uint64("pool", uint64(id)).Str("account", string(caller)).
		Str("amount", amount.String()).Msg("Emergency withdrawal, pending reward forfeited")
	return nil
}

// PendingReward reports what the caller could harvest right now, under
// the accumulator value a settlement at the current counter would produce.
func (c *Chef) PendingReward(id types.PoolID, account types.Account) (sdkmath.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pool, err := c.pool(id)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	stake, ok := c.stakes[id][account]
	if !ok {
		return sdkmath.ZeroInt(), nil
	}

	acc := pool.AccRewardPerShare
	if pool.TotalStaked.IsPositive() && c.totalAllocWeight > 0 {
		units := ElapsedUnits(pool.LastAccrual, c.cfg.Clock.Now(), c.cfg.RewardPeriod)
		reward := PoolReward(c.cfg.EmissionRate, units, pool.AllocWeight, c.totalAllocWeight)
		_, userReward := SplitDevCut(reward, c.cfg.DevFeeBps)
		if userReward.IsPositive() {
			acc = acc.Add(PerShareDelta(userReward, pool.TotalStaked))
		}
	}
	return PendingAmount(stake.Amount, acc, stake.RewardDebt), nil
}

// PoolLength reports the number of registered pools.
func (c *Chef) PoolLength() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pools)
}

// PoolInfo returns a copy of a pool's state.
func (c *Chef) PoolInfo(id types.PoolID) (types.Pool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pool, err := c.pool(id)
	if err != nil {
		return types.Pool{}, err
	}
	return *pool, nil
}

// Pools returns a copy of every pool's state, in registry order.
func (c *Chef) Pools() []types.Pool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Pool, len(c.pools))
	for i, p := range c.pools {
		out[i] = *p
	}
	return out
}

// StakeOf returns a copy of an account's stake record for a pool.
func (c *Chef) StakeOf(id types.PoolID, account types.Account) (types.UserStake, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, err := c.pool(id); err != nil {
		return types.UserStake{}, err
	}
	if stake, ok := c.stakes[id][account]; ok {
		return *stake, nil
	}
	return types.UserStake{Amount: sdkmath.ZeroInt(), RewardDebt: sdkmath.ZeroInt()}, nil
}

// TotalStaked reports a pool's recorded total stake.
func (c *Chef) TotalStaked(id types.PoolID) (sdkmath.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pool, err := c.pool(id)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return pool.TotalStaked, nil
}

// EmissionRate reports the current per-period emission.
func (c *Chef) EmissionRate() sdkmath.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.EmissionRate
}

// RewardAsset reports the emitted asset.
func (c *Chef) RewardAsset() types.AssetID { return c.cfg.RewardAsset }

// Account reports the engine's escrow account.
func (c *Chef) Account() types.Account { return c.cfg.Account }

// pool resolves a pool id; callers hold the lock.
func (c *Chef) pool(id types.PoolID) (*types.Pool, error) {
	if int(id) >= len(c.pools) {
		return nil, fmt.Errorf("%w: %d", types.ErrPoolNotFound, id)
	}
	return c.pools[id], nil
}

// stakeRecord fetches or creates a stake record; callers hold the lock.
func (c *Chef) stakeRecord(id types.PoolID, account types.Account) *types.UserStake {
	book := c.stakes[id]
	stake, ok := book[account]
	if !ok {
		stake = &types.UserStake{Amount: sdkmath.ZeroInt(), RewardDebt: sdkmath.ZeroInt()}
		book[account] = stake
	}
	return stake
}

// settleAll settles every pool; callers hold the lock.
func (c *Chef) settleAll() {
	for _, pool := range c.pools {
		c.settlePool(pool)
	}
}

// settlePool advances one pool's accumulator to the current counter.
// With nothing staked the reward is not attributed to anyone and the
// accrual point simply jumps forward. A partial reward period stays
// behind the accrual point and counts in the next settlement.
func (c *Chef) settlePool(pool *types.Pool) {
	now := c.cfg.Clock.Now()
	if now <= pool.LastAccrual {
		return
	}
	if pool.TotalStaked.IsZero() || pool.AllocWeight == 0 || c.totalAllocWeight == 0 {
		pool.LastAccrual = now
		return
	}

	units := ElapsedUnits(pool.LastAccrual, now, c.cfg.RewardPeriod)
	if units == 0 {
		return
	}
	reward := PoolReward(c.cfg.EmissionRate, units, pool.AllocWeight, c.totalAllocWeight)
	devCut, userReward := SplitDevCut(reward, c.cfg.DevFeeBps)

	if devCut.IsPositive() {
		if err := c.cfg.Assets.Mint(c.cfg.RewardAsset, c.cfg.DevAccount, devCut); err != nil {
			c.log.Error().Err(err).Uint64("pool", uint64(pool.ID)).Msg("Dev cut mint failed")
		}
	}
	if userReward.IsPositive() {
		if err := c.cfg.Assets.Mint(c.cfg.RewardAsset, c.cfg.Account, userReward); err != nil {
			c.log.Error().Err(err).Uint64("pool", uint64(pool.ID)).Msg("Reward mint failed")
		}
		pool.AccRewardPerShare = pool.AccRewardPerShare.Add(PerShareDelta(userReward, pool.TotalStaked))
	}
	pool.LastAccrual += units * c.cfg.RewardPeriod
}

// payReward transfers pending reward out of the escrow, capped at the
// escrow balance so rounding drift can never block a withdrawal.
func (c *Chef) payReward(id types.PoolID, to types.Account, pending sdkmath.Int) {
	available := c.cfg.Assets.BalanceOf(c.cfg.RewardAsset, c.cfg.Account)
	pay := MinInt(pending, available)
	if !pay.IsPositive() {
		return
	}
	if err := c.cfg.Assets.Transfer(c.cfg.RewardAsset, c.cfg.Account, to, pay); err != nil {
		c.log.Error().Err(err).Str("account", string(to)).Msg("Reward payout failed")
		return
	}

	ev := types.NewEvent(types.EventRewardPaid, c.cfg.Clock.Now())
	ev.Pool = id
	ev.Account = to
	ev.Asset = c.cfg.RewardAsset
	ev.Amount = pay.String()
	c.cfg.Events.Record(ev)
}
