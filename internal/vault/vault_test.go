package vault_test

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/dragonfarm/farmd/internal/chef"
	"github.com/dragonfarm/farmd/internal/token"
	"github.com/dragonfarm/farmd/internal/types"
	"github.com/dragonfarm/farmd/internal/vault"
)

const (
	rewardAsset = types.AssetID("DGN")
	lpAsset     = types.AssetID("LP-A")
	chefEscrow  = types.Account("chef:escrow")
	devAccount  = types.Account("dev")
	stratAcct   = types.Account("strat:0")
	dexReserve  = types.Account("dex:reserve")
	alice       = types.Account("alice")
	bob         = types.Account("bob")
)

type fixture struct {
	clock  *types.ManualClock
	assets *token.MemLedger
	router *token.MemRouter
	engine *chef.Chef
	vaults *vault.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:  &types.ManualClock{At: 0},
		assets: token.NewMemLedger(),
	}
	f.router = token.NewMemRouter(f.assets, dexReserve)

	engine, err := chef.New(chef.Config{
		RewardAsset:      rewardAsset,
		EmissionRate:     sdkmath.NewInt(1000),
		RewardPeriod:     1,
		DevFeeBps:        250,
		MaxDepositFeeBps: 1000,
		Account:          chefEscrow,
		DevAccount:       devAccount,
		Clock:            f.clock,
		Assets:           f.assets,
		Events:           types.NopSink{},
	})
	require.NoError(t, err)
	f.engine = engine

	vaults, err := vault.New(vault.Config{
		Clock:  f.clock,
		Assets: f.assets,
		Events: types.NopSink{},
	})
	require.NoError(t, err)
	f.vaults = vaults
	return f
}

// addNativeVault wraps an engine pool that stakes the reward asset itself,
// so harvests need no swap.
func (f *fixture) addNativeVault(t *testing.T) types.PoolID {
	t.Helper()
	chefPool, err := f.engine.AddPool(5000, rewardAsset, 0, true)
	require.NoError(t, err)
	strat, err := vault.NewSingleStrategy(f.engine, f.assets, nil, chefPool, stratAcct, rewardAsset, nil)
	require.NoError(t, err)
	id, err := f.vaults.AddPool(strat)
	require.NoError(t, err)
	return id
}

func (f *fixture) fund(t *testing.T, account types.Account, asset types.AssetID, amount int64) {
	t.Helper()
	require.NoError(t, f.assets.Mint(asset, account, sdkmath.NewInt(amount)))
}

func TestBootstrapSharePricing(t *testing.T) {
	f := newFixture(t)
	id := f.addNativeVault(t)
	f.fund(t, alice, rewardAsset, 10_000)

	minted, err := f.vaults.Deposit(id, alice, sdkmath.NewInt(10_000))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(10_000), minted, "first deposit mints one share per unit")

	shares, err := f.vaults.UserShares(id, alice)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(10_000), shares)

	total, err := f.vaults.TotalShares(id)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(10_000), total)

	_, err = f.vaults.Deposit(id, alice, sdkmath.ZeroInt())
	require.ErrorIs(t, err, types.ErrInvalidAmount)
	_, err = f.vaults.Deposit(types.PoolID(5), alice, sdkmath.OneInt())
	require.ErrorIs(t, err, types.ErrPoolNotFound)
}

func TestRoundTripWithoutYield(t *testing.T) {
	f := newFixture(t)
	id := f.addNativeVault(t)
	f.fund(t, alice, rewardAsset, 10_000)

	_, err := f.vaults.Deposit(id, alice, sdkmath.NewInt(10_000))
	require.NoError(t, err)

	returned, err := f.vaults.WithdrawAll(id, alice)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(10_000), returned, "no yield, exact principal back")
	require.Equal(t, sdkmath.NewInt(10_000), f.assets.BalanceOf(rewardAsset, alice))

	total, err := f.vaults.TotalShares(id)
	require.NoError(t, err)
	require.True(t, total.IsZero())
}

func TestWithdrawInsufficientShares(t *testing.T) {
	f := newFixture(t)
	id := f.addNativeVault(t)
	f.fund(t, alice, rewardAsset, 1_000)

	_, err := f.vaults.Deposit(id, alice, sdkmath.NewInt(1_000))
	require.NoError(t, err)

	_, err = f.vaults.Withdraw(id, alice, sdkmath.NewInt(1_001))
	require.ErrorIs(t, err, types.ErrInsufficientShares)

	_, err = f.vaults.WithdrawAll(id, bob)
	require.ErrorIs(t, err, types.ErrInsufficientShares)
}

func TestHarvestCompoundsWithoutMintingShares(t *testing.T) {
	f := newFixture(t)
	id := f.addNativeVault(t)
	f.fund(t, alice, rewardAsset, 1_000_000)

	_, err := f.vaults.Deposit(id, alice, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	f.clock.Advance(10)
	require.NoError(t, f.vaults.Harvest(id))

	total, err := f.vaults.TotalShares(id)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_000_000), total, "compounding mints no shares")

	staked, err := f.vaults.StakedWantTokens(id, alice)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_009_750), staked, "ten periods of reward restaked")

	returned, err := f.vaults.WithdrawAll(id, alice)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_009_750), returned)
}

func TestSecondDepositorPaysCurrentPrice(t *testing.T) {
	f := newFixture(t)
	id := f.addNativeVault(t)
	f.fund(t, alice, rewardAsset, 1_000_000)
	f.fund(t, bob, rewardAsset, 100_000)

	_, err := f.vaults.Deposit(id, alice, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	f.clock.Advance(10)
	require.NoError(t, f.vaults.Harvest(id))

	// 100_000 x 1_000_000 / 1_009_750 shares, floored.
	minted, err := f.vaults.Deposit(id, bob, sdkmath.NewInt(100_000))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(99_034), minted)
	require.True(t, minted.LT(sdkmath.NewInt(100_000)), "later entry buys shares above par")

	// The earlier holder's value does not dilute.
	staked, err := f.vaults.StakedWantTokens(id, alice)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_009_750), staked)
}

func TestFailedHarvestIsShareNoOp(t *testing.T) {
	f := newFixture(t)
	chefPool, err := f.engine.AddPool(5000, lpAsset, 0, true)
	require.NoError(t, err)
	strat, err := vault.NewSingleStrategy(f.engine, f.assets, f.router, chefPool, stratAcct,
		lpAsset, []types.AssetID{rewardAsset, lpAsset})
	require.NoError(t, err)
	id, err := f.vaults.AddPool(strat)
	require.NoError(t, err)

	f.fund(t, alice, lpAsset, 1_000_000)
	_, err = f.vaults.Deposit(id, alice, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	f.clock.Advance(4)

	// No route configured yet: the swap fails after the claim.
	err = f.vaults.Harvest(id)
	require.ErrorIs(t, err, types.ErrSwapFailed)

	total, err := f.vaults.TotalShares(id)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_000_000), total)
	staked, err := f.vaults.StakedWantTokens(id, alice)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_000_000), staked, "claimed reward is buffered, not priced in")
	require.Equal(t, sdkmath.NewInt(3_900), f.assets.BalanceOf(rewardAsset, stratAcct),
		"claimed reward waits in the strategy account")

	// Once the route exists the buffered reward compounds on retry.
	f.router.SetRate(rewardAsset, lpAsset, 1, 1)
	f.fund(t, dexReserve, lpAsset, 1_000_000)
	require.NoError(t, f.vaults.Harvest(id))

	staked, err = f.vaults.StakedWantTokens(id, alice)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_003_900), staked)
	require.True(t, f.assets.BalanceOf(rewardAsset, stratAcct).IsZero())
}

func TestPairStrategyHarvest(t *testing.T) {
	f := newFixture(t)
	t0 := types.AssetID("TOKEN-0")
	t1 := types.AssetID("TOKEN-1")
	lp := types.AssetID("LP-T0T1")

	f.router.SetRate(rewardAsset, t0, 1, 1)
	f.router.SetRate(rewardAsset, t1, 1, 1)
	f.router.SetPair(t0, t1, lp)
	f.fund(t, dexReserve, t0, 1_000_000)
	f.fund(t, dexReserve, t1, 1_000_000)

	chefPool, err := f.engine.AddPool(5000, lp, 0, true)
	require.NoError(t, err)
	strat, err := vault.NewPairStrategy(f.engine, f.assets, f.router, chefPool, stratAcct,
		lp, t0, t1, []types.AssetID{rewardAsset, t0}, []types.AssetID{rewardAsset, t1})
	require.NoError(t, err)
	id, err := f.vaults.AddPool(strat)
	require.NoError(t, err)

	f.fund(t, alice, lp, 1_000_000)
	_, err = f.vaults.Deposit(id, alice, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	f.clock.Advance(2)
	require.NoError(t, f.vaults.Harvest(id))

	// 1950 reward splits into both legs at 1:1 and pairs back into LP.
	staked, err := f.vaults.StakedWantTokens(id, alice)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_001_950), staked)
}

func TestStrategyBindsOnce(t *testing.T) {
	f := newFixture(t)
	chefPool, err := f.engine.AddPool(5000, rewardAsset, 0, true)
	require.NoError(t, err)
	strat, err := vault.NewSingleStrategy(f.engine, f.assets, nil, chefPool, stratAcct, rewardAsset, nil)
	require.NoError(t, err)

	_, err = f.vaults.AddPool(strat)
	require.NoError(t, err)
	_, err = f.vaults.AddPool(strat)
	require.Error(t, err, "a strategy serves exactly one vault pool")
	require.Equal(t, 1, f.vaults.PoolLength())
}

func TestVaultViews(t *testing.T) {
	f := newFixture(t)
	id := f.addNativeVault(t)
	f.fund(t, alice, rewardAsset, 5_000)
	_, err := f.vaults.Deposit(id, alice, sdkmath.NewInt(5_000))
	require.NoError(t, err)

	views := f.vaults.Pools()
	require.Len(t, views, 1)
	require.Equal(t, rewardAsset, views[0].Want)
	require.Equal(t, sdkmath.NewInt(5_000), views[0].TotalShares)
	require.Equal(t, sdkmath.NewInt(5_000), views[0].TotalUnderlying)

	staked, err := f.vaults.StakedWantTokens(id, bob)
	require.NoError(t, err)
	require.True(t, staked.IsZero())

	_, err = f.vaults.UserShares(types.PoolID(3), alice)
	require.ErrorIs(t, err, types.ErrPoolNotFound)
}
