/*

Structured events emitted by every mutating ledger operation, for external
observability and indexing. Sinks decide where events go (log, memory ring,
Postgres journal).

*/

package types

import (
	"github.com/google/uuid"
)

type EventKind string

const (
	EventPoolAdded           EventKind = "POOL_ADDED"
	EventPoolUpdated         EventKind = "POOL_UPDATED"
	EventEmissionRateChanged EventKind = "EMISSION_RATE_CHANGED"
	EventDeposit             EventKind = "DEPOSIT"
	EventWithdraw            EventKind = "WITHDRAW"
	EventEmergencyWithdraw   EventKind = "EMERGENCY_WITHDRAW"
	EventRewardPaid          EventKind = "REWARD_PAID"
	EventFeeCredited         EventKind = "FEE_CREDITED"
	EventFeesSettled         EventKind = "FEES_SETTLED"
	EventFeePaid             EventKind = "FEE_PAID"
	EventUtilityStaked       EventKind = "UTILITY_STAKED"
	EventUtilityWithdrawn    EventKind = "UTILITY_WITHDRAWN"
	EventVaultPoolAdded      EventKind = "VAULT_POOL_ADDED"
	EventVaultDeposit        EventKind = "VAULT_DEPOSIT"
	EventVaultWithdraw       EventKind = "VAULT_WITHDRAW"
	EventHarvest             EventKind = "HARVEST"
)

// Event records one observable side effect. Amounts are decimal strings so
// the record survives any transport without precision loss.
type Event struct {
	ID      string    `json:"id"`
	Kind    EventKind `json:"kind"`
	At      uint64    `json:"at"` // counter value when emitted
	Pool    PoolID    `json:"pool"`
	Token   TokenID   `json:"token"`
	Account Account   `json:"account,omitempty"`
	Asset   AssetID   `json:"asset,omitempty"`
	Amount  string    `json:"amount,omitempty"`
	Shares  string    `json:"shares,omitempty"`
	Weight  uint64    `json:"weight,omitempty"`
	FeeBps  uint32    `json:"fee_bps,omitempty"`
}

// NewEvent allocates an event with a fresh trace ID.
func NewEvent(kind EventKind, at uint64) Event {
	return Event{ID: uuid.New().String(), Kind: kind, At: at}
}

// EventSink receives emitted events. Implementations must not call back
// into the ledger.
type EventSink interface {
	Record(Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Record(Event) {}
