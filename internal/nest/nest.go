/*

Fee distribution ledger and utility stake registry. Deposit fees captured
by the reward engine accrue here per pool; holders of staked utility NFTs
are paid their share, denominated in each pool's staked asset, when the
NFT is withdrawn. The nest holds custody of staked NFTs; entitlement is
recorded by token id, never by address, so a staked token cannot change
hands mid-stake.

*/

package nest

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

// Config wires a Nest's dependencies.
type Config struct {
	Account types.Account // escrow holding captured fees and staked NFTs
	Clock   types.Clock
	Assets  token.AssetLedger
	NFTs    token.Collection
	Events  types.EventSink // optional
}

// Payout is one pool's settled entitlement for a withdrawn stake.
type Payout struct {
	Pool   types.PoolID  `json:"pool"`
	Asset  types.AssetID `json:"asset"`
	Amount sdkmath.Int   `json:"amount"`
}

// Nest owns per-pool fee accumulators and the custody state of staked
// utility NFTs.
type Nest struct {
	mu   sync.RWMutex
	busy atomic.Bool
	log  zerolog.Logger

	cfg Config

	order      []types.PoolID
	ledgers    map[types.PoolID]*types.PoolFeeLedger
	poolAssets map[types.PoolID]types.AssetID

	stakes      map[types.TokenID]*types.UtilityStake
	totalWeight sdkmath.Int
}

// New validates the configuration and creates an empty nest.
func New(cfg Config) (*Nest, error) {
	if cfg.Assets == nil {
		return nil, fmt.Errorf("asset ledger cannot be nil")
	}
	if cfg.NFTs == nil {
		return nil, fmt.Errorf("NFT collection cannot be nil")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}
	if cfg.Account == "" {
		return nil, fmt.Errorf("escrow account cannot be empty")
	}
	if cfg.Events == nil {
		cfg.Events = types.NopSink{}
	}
	return &Nest{
		log:         logger.GetForComponent("nest"),
		cfg:         cfg,
		ledgers:     make(map[types.PoolID]*types.PoolFeeLedger),
		poolAssets:  make(map[types.PoolID]types.AssetID),
		stakes:      make(map[types.TokenID]*types.UtilityStake),
		totalWeight: sdkmath.ZeroInt(),
	}, nil
}

func (n *Nest) enter() error {
	if !n.busy.CompareAndSwap(false, true) {
		return types.ErrReentrantCall
	}
	n.mu.Lock()
	return nil
}

func (n *Nest) leave() {
	n.mu.Unlock()
	n.busy.Store(false)
}

// Account implements chef.FeeSink.
func (n *Nest) Account() types.Account { return n.cfg.Account }

// RegisterPool implements chef.FeeSink. A pool registered while NFTs are
// already staked starts with their combined weight, and their missing
// baselines read as zero, which credits them the pool's whole history.
func (n *Nest) RegisterPool(id types.PoolID, asset types.AssetID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.ledgers[id]; exists {
		return
	}
	n.order = append(n.order, id)
	n.ledgers[id] = &types.PoolFeeLedger{
		AccFeePerShare: sdkmath.ZeroInt(),
		PendingFee:     sdkmath.ZeroInt(),
		UtilityWeight:  n.totalWeight,
	}
	n.poolAssets[id] = asset
	n.log.Info().Uint64("pool", uint64(id)).Str("asset", string(asset)).Msg("Fee ledger registered")
}

// CreditFee implements chef.FeeSink. The fee amount has already been
// transferred into the nest escrow by the engine; this only records it.
func (n *Nest) CreditFee(id types.PoolID, amount sdkmath.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ledger, ok := n.ledgers[id]
	if !ok {
		n.log.Error().Uint64("pool", uint64(id)).Msg("Fee credited for unregistered pool, dropping")
		return
	}
	ledger.PendingFee = ledger.PendingFee.Add(amount)

	ev := types.NewEvent(types.EventFeeCredited, n.cfg.Clock.Now())
	ev.Pool = id
	ev.Asset = n.poolAssets[id]
	ev.Amount = amount.String()
	n.cfg.Events.Record(ev)
}

// SettleFees folds a pool's pending fees into its accumulator. With no
// utility weight registered the fees stay pending, never divided by zero
// and never lost.
func (n *Nest) SettleFees(id types.PoolID) error {
	if err := n.enter(); err != nil {
		return err
	}
	defer n.leave()

	ledger, ok := n.ledgers[id]
	if !ok {
		return fmt.Errorf("%w: %d", types.ErrPoolNotFound, id)
	}
	n.settle(id, ledger)
	return nil
}

// MassSettleFees settles every pool's pending fees.
func (n *Nest) MassSettleFees() error {
	if err := n.enter(); err != nil {
		return err
	}
	defer n.leave()
	for _, id := range n.order {
		n.settle(id, n.ledgers[id])
	}
	return nil
}

// Stake takes custody of the caller's NFT and snapshots every pool's fee
// accumulator as the token's baseline.
func (n *Nest) Stake(id types.TokenID, caller types.Account) error {
	if err := n.enter(); err != nil {
		return err
	}
	defer n.leave()

	owner, err := n.cfg.NFTs.OwnerOf(id)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrNotOwner, err)
	}
	if owner != caller {
		return fmt.Errorf("%w: token %d held by %s", types.ErrNotOwner, id, owner)
	}

	if err := n.cfg.NFTs.Transfer(id, caller, n.cfg.Account); err != nil {
		return err
	}

	weight := sdkmath.OneInt()
	stake := &types.UtilityStake{
		Owner:     caller,
		StakedAt:  n.cfg.Clock.Now(),
		Weight:    weight,
		Baselines: make(map[types.PoolID]sdkmath.Int, len(n.order)),
	}
	for _, poolID := range n.order {
		ledger := n.ledgers[poolID]
		stake.Baselines[poolID] = ledger.AccFeePerShare
		ledger.UtilityWeight = ledger.UtilityWeight.Add(weight)
	}
	n.stakes[id] = stake
	n.totalWeight = n.totalWeight.Add(weight)

	ev := types.NewEvent(types.EventUtilityStaked, n.cfg.Clock.Now())
	ev.Token = id
	ev.Account = caller
	n.cfg.Events.Record(ev)

	n.log.Info().Uint64("token", uint64(id)).Str("account", string(caller)).Msg("Utility token staked")
	return nil
}

// Withdraw settles every pool, pays the token's entitlement per pool in
// that pool's staked asset, and returns NFT custody to the caller.
func (n *Nest) Withdraw(id types.TokenID, caller types.Account) ([]Payout, error) {
	if err := n.enter(); err != nil {
		return nil, err
	}
	defer n.leave()

	stake, ok := n.stakes[id]
	if !ok || stake.Owner != caller {
		return nil, fmt.Errorf("%w: token %d", types.ErrNotStaked, id)
	}

	// All bookkeeping shrinks before any value leaves the escrow.
	payouts := make([]Payout, 0, len(n.order))
	for _, poolID := range n.order {
		ledger := n.ledgers[poolID]
		n.settle(poolID, ledger)
		entitlement := entitlementFor(ledger.AccFeePerShare, stake, poolID)
		ledger.UtilityWeight = ledger.UtilityWeight.Sub(stake.Weight)
		if entitlement.IsPositive() {
			payouts = append(payouts, Payout{Pool: poolID, Asset: n.poolAssets[poolID], Amount: entitlement})
		}
	}
	n.totalWeight = n.totalWeight.Sub(stake.Weight)
	delete(n.stakes, id)

	// Bookkeeping above is already committed; the transfers below must not
	// be able to fail halfway. Capping every payout at the escrowed balance
	// guarantees that: accumulator rounding drift can short the final unit
	// but never produce a transfer the escrow cannot cover.
	for i := range payouts {
		p := &payouts[i]
		pay := sdkmath.MinInt(p.Amount, n.cfg.Assets.BalanceOf(p.Asset, n.cfg.Account))
		if !pay.IsPositive() {
			p.Amount = sdkmath.ZeroInt()
			continue
		}
		p.Amount = pay
		if err := n.cfg.Assets.Transfer(p.Asset, n.cfg.Account, caller, pay); err != nil {
			return nil, fmt.Errorf("fee payout for pool %d: %w", p.Pool, err)
		}
		ev := types.NewEvent(types.EventFeePaid, n.cfg.Clock.Now())
		ev.Pool = p.Pool
		ev.Token = id
		ev.Account = caller
		ev.Asset = p.Asset
		ev.Amount = pay.String()
		n.cfg.Events.Record(ev)
	}

	if err := n.cfg.NFTs.Transfer(id, n.cfg.Account, caller); err != nil {
		return nil, err
	}

	ev := types.NewEvent(types.EventUtilityWithdrawn, n.cfg.Clock.Now())
	ev.Token = id
	ev.Account = caller
	n.cfg.Events.Record(ev)

	n.log.Info().Uint64("token", uint64(id)).Str("account", string(caller)).
		Int("payouts", len(payouts)).Msg("Utility token withdrawn")
	return payouts, nil
}

// Entitlement reports what a staked token would be paid per pool if it
// were withdrawn now, including fees still pending settlement.
func (n *Nest) Entitlement(id types.TokenID) (map[types.PoolID]sdkmath.Int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	stake, ok := n.stakes[id]
	if !ok {
		return nil, fmt.Errorf("%w: token %d", types.ErrNotStaked, id)
	}
	out := make(map[types.PoolID]sdkmath.Int, len(n.order))
	for _, poolID := range n.order {
		ledger := n.ledgers[poolID]
		acc := ledger.AccFeePerShare
		if ledger.PendingFee.IsPositive() && ledger.UtilityWeight.IsPositive() {
			acc = acc.Add(ledger.PendingFee.Mul(types.Precision).Quo(ledger.UtilityWeight))
		}
		out[poolID] = entitlementFor(acc, stake, poolID)
	}
	return out, nil
}

// FeeLedger returns a copy of one pool's fee ledger.
func (n *Nest) FeeLedger(id types.PoolID) (types.PoolFeeLedger, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ledger, ok := n.ledgers[id]
	if !ok {
		return types.PoolFeeLedger{}, fmt.Errorf("%w: %d", types.ErrPoolNotFound, id)
	}
	return *ledger, nil
}

// StakeInfo returns a copy of a staked token's record.
func (n *Nest) StakeInfo(id types.TokenID) (types.UtilityStake, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	stake, ok := n.stakes[id]
	if !ok {
		return types.UtilityStake{}, fmt.Errorf("%w: token %d", types.ErrNotStaked, id)
	}
	copied := *stake
	copied.Baselines = make(map[types.PoolID]sdkmath.Int, len(stake.Baselines))
	for k, v := range stake.Baselines {
		copied.Baselines[k] = v
	}
	return copied, nil
}

// TotalWeight reports the combined weight of all staked tokens.
func (n *Nest) TotalWeight() sdkmath.Int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.totalWeight
}

// settle folds pending fees into the accumulator; callers hold the lock.
// The floor-division remainder stays pending so no fee is ever lost.
func (n *Nest) settle(id types.PoolID, ledger *types.PoolFeeLedger) {
	if !ledger.PendingFee.IsPositive() || !ledger.UtilityWeight.IsPositive() {
		return
	}
	delta := ledger.PendingFee.Mul(types.Precision).Quo(ledger.UtilityWeight)
	if !delta.IsPositive() {
		return
	}
	distributed := delta.Mul(ledger.UtilityWeight).Quo(types.Precision)
	if !distributed.IsPositive() {
		// The remainder is too small to split at this weight. Leave the
		// ledger untouched so settling again at the same state stays a
		// no-op; the remainder distributes once the weight allows it.
		return
	}
	ledger.AccFeePerShare = ledger.AccFeePerShare.Add(delta)
	ledger.PendingFee = ledger.PendingFee.Sub(distributed)

	ev := types.NewEvent(types.EventFeesSettled, n.cfg.Clock.Now())
	ev.Pool = id
	ev.Asset = n.poolAssets[id]
	ev.Amount = distributed.String()
	n.cfg.Events.Record(ev)
}

// entitlementFor computes a stake's claim against an accumulator value.
// A baseline missing for the pool reads as zero.
func entitlementFor(acc sdkmath.Int, stake *types.UtilityStake, poolID types.PoolID) sdkmath.Int {
	baseline, ok := stake.Baselines[poolID]
	if !ok {
		baseline = sdkmath.ZeroInt()
	}
	return acc.Sub(baseline).Mul(stake.Weight).Quo(types.Precision)
}
