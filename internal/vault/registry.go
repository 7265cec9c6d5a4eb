/*

Vault registry. Tracks per-vault-pool share totals and per-user share
balances, delegating custody and yield generation to the bound strategy.
Share value only rises: compounding grows the underlying position without
minting shares.

*/

package vault

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

// Config wires a Registry's dependencies.
type Config struct {
	Clock  types.Clock
	Assets token.AssetLedger
	Events types.EventSink // optional
}

// Pool is one vault pool's registry state.
type Pool struct {
	Strategy    Strategy
	TotalShares sdkmath.Int
}

// PoolView is the queryable snapshot of a vault pool.
type PoolView struct {
	ID              types.PoolID  `json:"id"`
	Want            types.AssetID `json:"want"`
	TotalShares     sdkmath.Int   `json:"total_shares"`
	TotalUnderlying sdkmath.Int   `json:"total_underlying"`
}

// Registry is the vault aggregate.
type Registry struct {
	mu   sync.RWMutex
	busy atomic.Bool
	log  zerolog.Logger

	cfg    Config
	pools  []*Pool
	shares map[types.PoolID]map[types.Account]sdkmath.Int
}

// New validates the configuration and creates an empty registry.
func New(cfg Config) (*Registry, error) {
	if cfg.Assets == nil {
		return nil, fmt.Errorf("asset ledger cannot be nil")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}
	if cfg.Events == nil {
		cfg.Events = types.NopSink{}
	}
	return &Registry{
		log:    logger.GetForComponent("vault"),
		cfg:    cfg,
		shares: make(map[types.PoolID]map[types.Account]sdkmath.Int),
	}, nil
}

func (r *Registry) enter() error {
	if !r.busy.CompareAndSwap(false, true) {
		return types.ErrReentrantCall
	}
	r.mu.Lock()
	return nil
}

func (r *Registry) leave() {
	r.mu.Unlock()
	r.busy.Store(false)
}

// AddPool registers a vault pool bound 1:1 to a strategy. Strategies are
// pool-specific by construction, so no duplicate check is needed beyond
// the strategy refusing a second bind.
func (r *Registry) AddPool(strat Strategy) (types.PoolID, error) {
	if err := r.enter(); err != nil {
		return 0, err
	}
	defer r.leave()

	if strat == nil {
		return 0, fmt.Errorf("strategy cannot be nil")
	}
	if err := strat.Bind(); err != nil {
		return 0, err
	}

	id := types.PoolID(len(r.pools))
	r.pools = append(r.pools, &Pool{Strategy: strat, TotalShares: sdkmath.ZeroInt()})
	r.shares[id] = make(map[types.Account]sdkmath.Int)

	ev := types.NewEvent(types.EventVaultPoolAdded, r.cfg.Clock.Now())
	ev.Pool = id
	ev.Asset = strat.Want()
	r.cfg.Events.Record(ev)

	r.log.Info().Uint64("pool", uint64(id)).Str("want", string(strat.Want())).Msg("Vault pool added")
	return id, nil
}

// Deposit moves amount of the want asset from the caller into the
// strategy and mints shares priced at the pre-deposit underlying value,
// so compounding that already happened belongs to existing holders.
func (r *Registry) Deposit(id types.PoolID, caller types.Account, amount sdkmath.Int) (sdkmath.Int, error) {
	if err := r.enter(); err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer r.leave()

	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: deposit of zero", types.ErrInvalidAmount)
	}
	pool, err := r.pool(id)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	strat := pool.Strategy

	before := strat.TotalUnderlying()
	if err := r.cfg.Assets.Transfer(strat.Want(), caller, strat.Account(), amount); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := strat.Deposit(amount); err != nil {
		// The strategy staked nothing; hand the funds back.
		_ = r.cfg.Assets.Transfer(strat.Want(), strat.Account(), caller, amount)
		return sdkmath.ZeroInt(), err
	}

	var minted sdkmath.Int
	if pool.TotalShares.IsZero() || before.IsZero() {
		minted = amount
	} else {
		minted = amount.Mul(pool.TotalShares).Quo(before)
	}

	book := r.shares[id]
	if bal, ok := book[caller]; ok {
		book[caller] = bal.Add(minted)
	} else {
		book[caller] = minted
	}
	pool.TotalShares = pool.TotalShares.Add(minted)

	ev := types.NewEvent(types.EventVaultDeposit, r.cfg.Clock.Now())
	ev.Pool = id
	ev.Account = caller
	ev.Asset = strat.Want()
	ev.Amount = amount.String()
	ev.Shares = minted.String()
	r.cfg.Events.Record(ev)

	return minted, nil
}

// Withdraw burns shares and returns the proportional slice of the
// underlying position to the caller.
func (r *Registry) Withdraw(id types.PoolID, caller types.Account, shares sdkmath.Int) (sdkmath.Int, error) {
	if err := r.enter(); err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer r.leave()
	return r.withdraw(id, caller, shares)
}

// WithdrawAll burns the caller's entire share balance.
func (r *Registry) WithdrawAll(id types.PoolID, caller types.Account) (sdkmath.Int, error) {
	if err := r.enter(); err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer r.leave()

	if _, err := r.pool(id); err != nil {
		return sdkmath.ZeroInt(), err
	}
	bal, ok := r.shares[id][caller]
	if !ok || !bal.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: no shares", types.ErrInsufficientShares)
	}
	return r.withdraw(id, caller, bal)
}

// withdraw does the share burn and payout; callers hold the guard.
func (r *Registry) withdraw(id types.PoolID, caller types.Account, shares sdkmath.Int) (sdkmath.Int, error) {
	if shares.IsNil() || !shares.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: withdrawal of zero shares", types.ErrInvalidAmount)
	}
	pool, err := r.pool(id)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	book := r.shares[id]
	bal, ok := book[caller]
	if !ok || bal.LT(shares) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: have %s, requested %s", types.ErrInsufficientShares, balOrZero(bal, ok), shares)
	}
	strat := pool.Strategy

	amount := shares.Mul(strat.TotalUnderlying()).Quo(pool.TotalShares)

	// Burn before any external call.
	book[caller] = bal.Sub(shares)
	pool.TotalShares = pool.TotalShares.Sub(shares)

	if err := strat.Withdraw(amount); err != nil {
		book[caller] = book[caller].Add(shares)
		pool.TotalShares = pool.TotalShares.Add(shares)
		return sdkmath.ZeroInt(), err
	}
	if err := r.cfg.Assets.Transfer(strat.Want(), strat.Account(), caller, amount); err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: vault payout: %v", types.ErrTransferFailed, err)
	}

	ev := types.NewEvent(types.EventVaultWithdraw, r.cfg.Clock.Now())
	ev.Pool = id
	ev.Account = caller
	ev.Asset = strat.Want()
	ev.Amount = amount.String()
	ev.Shares = shares.String()
	r.cfg.Events.Record(ev)

	return amount, nil
}

// Harvest compounds one vault pool. A failed harvest is a logged no-op;
// share state is untouched either way.
func (r *Registry) Harvest(id types.PoolID) error {
	if err := r.enter(); err != nil {
		return err
	}
	defer r.leave()

	pool, err := r.pool(id)
	if err != nil {
		return err
	}
	if err := pool.Strategy.Harvest(); err != nil {
		r.log.Warn().Err(err).Uint64("pool", uint64(id)).Msg("Harvest failed, position unchanged")
		return err
	}

	ev := types.NewEvent(types.EventHarvest, r.cfg.Clock.Now())
	ev.Pool = id
	ev.Asset = pool.Strategy.Want()
	ev.Amount = pool.Strategy.TotalUnderlying().String()
	r.cfg.Events.Record(ev)
	return nil
}

// HarvestAll compounds every vault pool, skipping failures.
func (r *Registry) HarvestAll() {
	for i := 0; i < r.PoolLength(); i++ {
		if err := r.Harvest(types.PoolID(i)); err != nil {
			continue
		}
	}
}

// PoolLength reports the number of vault pools.
func (r *Registry) PoolLength() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}

// UserShares reports an account's share balance in a vault pool.
func (r *Registry) UserShares(id types.PoolID, account types.Account) (sdkmath.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, err := r.pool(id); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if bal, ok := r.shares[id][account]; ok {
		return bal, nil
	}
	return sdkmath.ZeroInt(), nil
}

// TotalShares reports a vault pool's outstanding shares.
func (r *Registry) TotalShares(id types.PoolID) (sdkmath.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pool, err := r.pool(id)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return pool.TotalShares, nil
}

// StakedWantTokens reports the underlying value of an account's shares.
func (r *Registry) StakedWantTokens(id types.PoolID, account types.Account) (sdkmath.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pool, err := r.pool(id)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	bal, ok := r.shares[id][account]
	if !ok || pool.TotalShares.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	return bal.Mul(pool.Strategy.TotalUnderlying()).Quo(pool.TotalShares), nil
}

// Pools returns a snapshot of every vault pool.
func (r *Registry) Pools() []PoolView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PoolView, len(r.pools))
	for i, p := range r.pools {
		out[i] = PoolView{
			ID:              types.PoolID(i),
			Want:            p.Strategy.Want(),
			TotalShares:     p.TotalShares,
			TotalUnderlying: p.Strategy.TotalUnderlying(),
		}
	}
	return out
}

func (r *Registry) pool(id types.PoolID) (*Pool, error) {
	if int(id) >= len(r.pools) {
		return nil, fmt.Errorf("%w: vault pool %d", types.ErrPoolNotFound, id)
	}
	return r.pools[id], nil
}

func balOrZero(bal sdkmath.Int, ok bool) sdkmath.Int {
	if !ok {
		return sdkmath.ZeroInt()
	}
	return bal
}
