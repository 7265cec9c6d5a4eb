package types

import "time"

// Clock is the ledger's monotonically non-decreasing counter source. The
// counter may be a block height or a unix timestamp; the engine only floor
// divides it by its configured reward period.
type Clock interface {
	Now() uint64
}

// SystemClock reads the wall clock in unix seconds.
type SystemClock struct{}

func (SystemClock) Now() uint64 { return uint64(time.Now().Unix()) }

// ManualClock is a hand-advanced counter for tests and simulations.
type ManualClock struct {
	At uint64
}

func (c *ManualClock) Now() uint64 { return c.At }

// Advance moves the counter forward by d units.
func (c *ManualClock) Advance(d uint64) { c.At += d }
