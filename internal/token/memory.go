package token

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/dragonfarm/farmd/internal/types"
)

// MemLedger is an in-memory AssetLedger for tests and the dev daemon.
type MemLedger struct {
	mu       sync.RWMutex
	balances map[types.AssetID]map[types.Account]sdkmath.Int
}

func NewMemLedger() *MemLedger {
	return &MemLedger{balances: make(map[types.AssetID]map[types.Account]sdkmath.Int)}
}

func (l *MemLedger) Transfer(asset types.AssetID, from, to types.Account, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: bad transfer amount", types.ErrTransferFailed)
	}
	if amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	book := l.balances[asset]
	bal, ok := book[from]
	if !ok || bal.LT(amount) {
		return fmt.Errorf("%w: %s has %s %s, needs %s", types.ErrTransferFailed, from, balString(bal, ok), asset, amount)
	}
	book[from] = bal.Sub(amount)
	l.credit(asset, to, amount)
	return nil
}

func (l *MemLedger) Mint(asset types.AssetID, to types.Account, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: bad mint amount", types.ErrTransferFailed)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(asset, to, amount)
	return nil
}

func (l *MemLedger) BalanceOf(asset types.AssetID, account types.Account) sdkmath.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[asset][account]; ok {
		return bal
	}
	return sdkmath.ZeroInt()
}

// credit assumes the lock is held.
func (l *MemLedger) credit(asset types.AssetID, to types.Account, amount sdkmath.Int) {
	book, ok := l.balances[asset]
	if !ok {
		book = make(map[types.Account]sdkmath.Int)
		l.balances[asset] = book
	}
	if bal, ok := book[to]; ok {
		book[to] = bal.Add(amount)
	} else {
		book[to] = amount
	}
}

func balString(bal sdkmath.Int, ok bool) string {
	if !ok {
		return "0"
	}
	return bal.String()
}

// MemCollection is an in-memory NFT Collection.
type MemCollection struct {
	mu     sync.RWMutex
	owners map[types.TokenID]types.Account
}

func NewMemCollection() *MemCollection {
	return &MemCollection{owners: make(map[types.TokenID]types.Account)}
}

// Mint issues a new token to an owner.
func (c *MemCollection) Mint(id types.TokenID, owner types.Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[id] = owner
}

func (c *MemCollection) OwnerOf(id types.TokenID) (types.Account, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	owner, ok := c.owners[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownToken, id)
	}
	return owner, nil
}

func (c *MemCollection) Transfer(id types.TokenID, from, to types.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownToken, id)
	}
	if owner != from {
		return fmt.Errorf("%w: token %d held by %s", types.ErrNotOwner, id, owner)
	}
	c.owners[id] = to
	return nil
}

type route struct {
	in, out types.AssetID
}

type rate struct {
	num, den sdkmath.Int
}

// MemRouter is an in-memory SwapRouter with fixed exchange rates. Output
// liquidity comes from a reserve account, so an unfunded route fails the
// same way a drained DEX pool would.
type MemRouter struct {
	mu      sync.Mutex
	ledger  *MemLedger
	reserve types.Account
	rates   map[route]rate
	pairs   map[route]types.AssetID
}

func NewMemRouter(ledger *MemLedger, reserve types.Account) *MemRouter {
	return &MemRouter{
		ledger:  ledger,
		reserve: reserve,
		rates:   make(map[route]rate),
		pairs:   make(map[route]types.AssetID),
	}
}

// SetRate fixes the exchange rate for one hop: out = in * num / den.
func (r *MemRouter) SetRate(in, out types.AssetID, num, den int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates[route{in, out}] = rate{sdkmath.NewInt(num), sdkmath.NewInt(den)}
}

// SetPair registers the LP asset minted for a two-leg pair.
func (r *MemRouter) SetPair(assetA, assetB types.AssetID, lp types.AssetID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs[route{assetA, assetB}] = lp
	r.pairs[route{assetB, assetA}] = lp
}

func (r *MemRouter) SwapExactTokensForTokens(amountIn sdkmath.Int, path []types.AssetID, account types.Account) (sdkmath.Int, error) {
	if len(path) < 2 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: path too short", types.ErrSwapFailed)
	}
	if amountIn.IsNil() || !amountIn.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: non-positive input", types.ErrSwapFailed)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Dry-run the whole path first so a failed hop moves nothing.
	amountOut := amountIn
	for i := 0; i+1 < len(path); i++ {
		rt, ok := r.rates[route{path[i], path[i+1]}]
		if !ok {
			return sdkmath.ZeroInt(), fmt.Errorf("%w: no route %s -> %s", types.ErrSwapFailed, path[i], path[i+1])
		}
		amountOut = amountOut.Mul(rt.num).Quo(rt.den)
	}
	if r.ledger.BalanceOf(path[len(path)-1], r.reserve).LT(amountOut) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: insufficient reserve liquidity for %s", types.ErrSwapFailed, path[len(path)-1])
	}

	if err := r.ledger.Transfer(path[0], account, r.reserve, amountIn); err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %v", types.ErrSwapFailed, err)
	}
	if err := r.ledger.Transfer(path[len(path)-1], r.reserve, account, amountOut); err != nil {
		// Undo the input leg; the reserve check above makes this unreachable.
		_ = r.ledger.Transfer(path[0], r.reserve, account, amountIn)
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %v", types.ErrSwapFailed, err)
	}
	return amountOut, nil
}

func (r *MemRouter) AddLiquidity(assetA, assetB types.AssetID, amountA, amountB sdkmath.Int, account types.Account) (types.AssetID, sdkmath.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lp, ok := r.pairs[route{assetA, assetB}]
	if !ok {
		return "", sdkmath.ZeroInt(), fmt.Errorf("%w: no pair %s/%s", types.ErrSwapFailed, assetA, assetB)
	}
	if err := r.ledger.Transfer(assetA, account, r.reserve, amountA); err != nil {
		return "", sdkmath.ZeroInt(), fmt.Errorf("%w: %v", types.ErrSwapFailed, err)
	}
	if err := r.ledger.Transfer(assetB, account, r.reserve, amountB); err != nil {
		_ = r.ledger.Transfer(assetA, r.reserve, account, amountA)
		return "", sdkmath.ZeroInt(), fmt.Errorf("%w: %v", types.ErrSwapFailed, err)
	}

	minted := amountA.Add(amountB)
	if err := r.ledger.Mint(lp, account, minted); err != nil {
		return "", sdkmath.ZeroInt(), fmt.Errorf("%w: %v", types.ErrSwapFailed, err)
	}
	return lp, minted, nil
}
