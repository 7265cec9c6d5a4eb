/*

Core ledger records for the farm engine: reward pools, per-user stakes,
and the deposit-fee ledger kept per pool.

*/

package types

import (
	"cosmossdk.io/math"
)

type PoolID uint64

// TokenID identifies a utility NFT.
type TokenID uint64

// Account is an opaque ledger account identifier.
type Account string

// AssetID identifies a fungible asset (a staked token, the reward token,
// or an LP token).
type AssetID string

// Precision is the fixed-point scale applied to every per-share
// accumulator so integer division does not leak fractional reward.
var Precision = math.NewInt(1_000_000_000_000)

// BpsDenominator is the basis-point denominator used for fee math.
var BpsDenominator = math.NewInt(10_000)

// Pool is a registered stake target. Pools are append-only: a pool is
// never deleted, it is frozen by setting its weight to zero.
type Pool struct {
	ID                PoolID   `json:"id"`
	Asset             AssetID  `json:"asset"`
	AllocWeight       uint64   `json:"alloc_weight"`
	DepositFeeBps     uint32   `json:"deposit_fee_bps"`
	LastAccrual       uint64   `json:"last_accrual"`         // raw counter value at last settlement
	AccRewardPerShare math.Int `json:"acc_reward_per_share"` // scaled by Precision
	TotalStaked       math.Int `json:"total_staked"`
}

// UserStake is a single account's position in one pool. RewardDebt is the
// accumulator snapshot at last settlement, scaled to the staked amount.
type UserStake struct {
	Amount     math.Int `json:"amount"`
	RewardDebt math.Int `json:"reward_debt"`
}

// PoolFeeLedger tracks deposit fees captured for one pool. Pending fees
// only enter the accumulator through an explicit settlement.
type PoolFeeLedger struct {
	AccFeePerShare math.Int `json:"acc_fee_per_share"` // scaled by Precision, per unit of utility weight
	PendingFee     math.Int `json:"pending_fee"`
	UtilityWeight  math.Int `json:"utility_weight"`
}

// UtilityStake records custody of one staked utility NFT. Baselines hold
// the fee accumulator value per pool at stake time; a pool missing from
// the map reads as zero, which credits the full accumulator history of
// pools added after the stake began.
type UtilityStake struct {
	Owner     Account             `json:"owner"`
	StakedAt  uint64              `json:"staked_at"`
	Weight    math.Int            `json:"weight"`
	Baselines map[PoolID]math.Int `json:"baselines"`
}
