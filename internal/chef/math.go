/*

Pure accumulator math for the reward engine. Everything here is integer
arithmetic over sdkmath.Int with floor division; no state, no side effects.

*/

package chef

import (
	sdkmath "cosmossdk.io/math"

	"github.com/dragonfarm/farmd/internal/types"
)

// ElapsedUnits returns the number of whole reward periods between two
// counter values. A partial period yields zero until enough units elapse.
func ElapsedUnits(last, now, period uint64) uint64 {
	if now <= last || period == 0 {
		return 0
	}
	return (now - last) / period
}

// PoolReward is the emission attributed to one pool over the elapsed
// units: emission * units * weight / totalWeight, floor divided.
func PoolReward(emission sdkmath.Int, units, weight, totalWeight uint64) sdkmath.Int {
	if units == 0 || weight == 0 || totalWeight == 0 {
		return sdkmath.ZeroInt()
	}
	return emission.
		Mul(sdkmath.NewIntFromUint64(units)).
		Mul(sdkmath.NewIntFromUint64(weight)).
		Quo(sdkmath.NewIntFromUint64(totalWeight))
}

// SplitDevCut splits a settlement reward into the dev cut and the share
// that drives the accumulator.
func SplitDevCut(reward sdkmath.Int, devBps uint32) (devCut, userReward sdkmath.Int) {
	devCut = reward.Mul(sdkmath.NewInt(int64(devBps))).Quo(types.BpsDenominator)
	return devCut, reward.Sub(devCut)
}

// PerShareDelta converts a reward into an accumulator increment, scaled
// by Precision. Callers must not pass a zero totalStaked.
func PerShareDelta(reward, totalStaked sdkmath.Int) sdkmath.Int {
	return reward.Mul(types.Precision).Quo(totalStaked)
}

// PendingAmount is a user's unpaid entitlement under the given
// accumulator: amount * accPerShare / Precision - rewardDebt.
func PendingAmount(amount, accPerShare, rewardDebt sdkmath.Int) sdkmath.Int {
	return amount.Mul(accPerShare).Quo(types.Precision).Sub(rewardDebt)
}

// FeePortion is the deposit fee taken from a gross amount at the given
// basis-point rate.
func FeePortion(amount sdkmath.Int, feeBps uint32) sdkmath.Int {
	if feeBps == 0 {
		return sdkmath.ZeroInt()
	}
	return amount.Mul(sdkmath.NewInt(int64(feeBps))).Quo(types.BpsDenominator)
}

// MinInt returns the smaller of two Ints.
func MinInt(a, b sdkmath.Int) sdkmath.Int {
	if a.LT(b) {
		return a
	}
	return b
}
