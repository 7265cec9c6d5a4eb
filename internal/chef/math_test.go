package chef_test

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/dragonfarm/farmd/internal/chef"
	"github.com/dragonfarm/farmd/internal/types"
)

func TestElapsedUnits(t *testing.T) {
	require.Equal(t, uint64(0), chef.ElapsedUnits(100, 100, 15), "no time elapsed")
	require.Equal(t, uint64(0), chef.ElapsedUnits(100, 114, 15), "partial period yields zero")
	require.Equal(t, uint64(1), chef.ElapsedUnits(100, 115, 15))
	require.Equal(t, uint64(2), chef.ElapsedUnits(100, 131, 15), "remainder floors")
	require.Equal(t, uint64(0), chef.ElapsedUnits(200, 100, 15), "counter behind accrual point")
	require.Equal(t, uint64(7), chef.ElapsedUnits(0, 7, 1), "period of one counts raw units")
}

func TestPoolReward(t *testing.T) {
	emission := sdkmath.NewInt(1000)

	require.True(t, chef.PoolReward(emission, 0, 50, 100).IsZero())
	require.True(t, chef.PoolReward(emission, 3, 0, 100).IsZero(), "zero weight accrues nothing")
	require.True(t, chef.PoolReward(emission, 3, 50, 0).IsZero(), "empty registry accrues nothing")

	// 1000 * 4 * 25 / 100
	require.Equal(t, sdkmath.NewInt(1000), chef.PoolReward(emission, 4, 25, 100))
	// floor division: 1000 * 1 * 1 / 3
	require.Equal(t, sdkmath.NewInt(333), chef.PoolReward(emission, 1, 1, 3))
}

func TestSplitDevCut(t *testing.T) {
	dev, user := chef.SplitDevCut(sdkmath.NewInt(10_000), 250)
	require.Equal(t, sdkmath.NewInt(250), dev)
	require.Equal(t, sdkmath.NewInt(9_750), user)

	// The two halves always reassemble the whole, whatever the flooring.
	dev, user = chef.SplitDevCut(sdkmath.NewInt(999), 250)
	require.Equal(t, sdkmath.NewInt(999), dev.Add(user))

	dev, user = chef.SplitDevCut(sdkmath.NewInt(777), 0)
	require.True(t, dev.IsZero())
	require.Equal(t, sdkmath.NewInt(777), user)
}

func TestPerShareRoundTrip(t *testing.T) {
	staked := sdkmath.NewInt(1_000_000)
	reward := sdkmath.NewInt(975)

	delta := chef.PerShareDelta(reward, staked)
	pending := chef.PendingAmount(staked, delta, sdkmath.ZeroInt())
	require.Equal(t, reward, pending, "a full-pool holder recovers the exact reward")

	// A holder of half the stake gets exactly half, floored.
	half := staked.Quo(sdkmath.NewInt(2))
	require.Equal(t, sdkmath.NewInt(487), chef.PendingAmount(half, delta, sdkmath.ZeroInt()))
}

func TestPendingAmountAfterDebtReset(t *testing.T) {
	amount := sdkmath.NewInt(500)
	acc := sdkmath.NewInt(123_456_789)
	debt := amount.Mul(acc).Quo(types.Precision)
	require.True(t, chef.PendingAmount(amount, acc, debt).IsZero())
}

func TestFeePortion(t *testing.T) {
	require.True(t, chef.FeePortion(sdkmath.NewInt(10_000), 0).IsZero())
	require.Equal(t, sdkmath.NewInt(100), chef.FeePortion(sdkmath.NewInt(10_000), 100))
	require.Equal(t, sdkmath.NewInt(1_000), chef.FeePortion(sdkmath.NewInt(10_000), 1000))
	// floors on odd amounts
	require.Equal(t, sdkmath.NewInt(9), chef.FeePortion(sdkmath.NewInt(999), 100))
}
