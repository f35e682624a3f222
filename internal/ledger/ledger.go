// Package ledger owns the canonical economic state of the Campton Coin
// market: one shared price, one account per user, and the deadline for the
// next scheduled conversion. All mutation happens under a single lock so
// cross-account invariants (transfer atomicity, bulk conversion) hold
// without finer-grained coordination.
package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// CoinName is the single tradeable asset.
	CoinName = "campton"

	// BalancePrecision and QuantityPrecision are fractional digits kept on
	// cash and coin values. Values are truncated, never rounded up, so an
	// account can never be credited a fraction it did not earn.
	BalancePrecision  = 3
	QuantityPrecision = 3

	// CashInputPrecision is the most fractional digits accepted on a cash
	// amount supplied by a caller.
	CashInputPrecision = 2

	// PricePrecision is the fractional digits kept on the market price.
	PricePrecision = 2

	// DefaultConversionInterval is how far the conversion deadline advances
	// each time holdings are liquidated.
	DefaultConversionInterval = 7 * 24 * time.Hour
)

var (
	InitialPrice = decimal.New(100, -2)     // 1.00
	MinPrice     = decimal.New(1, -2)       // 0.01
	MaxPrice     = decimal.New(1000000, -2) // 10000.00
	DustQuantity = decimal.New(1, -4)       // 0.0001
)

// Account is one user's slice of the ledger. Holding at zero means the user
// owns no coins; the snapshot codec drops zero holdings from the wire form.
type Account struct {
	Balance       decimal.Decimal
	Holding       decimal.Decimal
	OnBuyCooldown bool
	Verification  map[string]string
}

func newAccount() *Account {
	return &Account{
		Balance: decimal.Zero,
		Holding: decimal.Zero,
	}
}

func (a *Account) clone() *Account {
	cp := *a
	if a.Verification != nil {
		cp.Verification = make(map[string]string, len(a.Verification))
		for k, v := range a.Verification {
			cp.Verification[k] = v
		}
	}
	return &cp
}

// Snapshot is the full serializable ledger state. The Store owns exactly one
// live instance; persistence works on deep copies taken under the lock.
type Snapshot struct {
	Price                  decimal.Decimal
	NextConversionDeadline time.Time
	Accounts               map[string]*Account
}

// NewSnapshot returns a fresh cold-start state: initial price, no accounts,
// first conversion one full interval away.
func NewSnapshot(now time.Time) *Snapshot {
	return &Snapshot{
		Price:                  InitialPrice,
		NextConversionDeadline: now.Add(DefaultConversionInterval).UTC(),
		Accounts:               make(map[string]*Account),
	}
}

// Account returns the account for userID, creating a zeroed one on first
// access. Callers must hold the store lock.
func (s *Snapshot) Account(userID string) *Account {
	acct, ok := s.Accounts[userID]
	if !ok {
		acct = newAccount()
		s.Accounts[userID] = acct
	}
	return acct
}

func (s *Snapshot) clone() *Snapshot {
	cp := &Snapshot{
		Price:                  s.Price,
		NextConversionDeadline: s.NextConversionDeadline,
		Accounts:               make(map[string]*Account, len(s.Accounts)),
	}
	for id, acct := range s.Accounts {
		cp.Accounts[id] = acct.clone()
	}
	return cp
}

// Normalize repairs state that survived a round-trip through an older or
// damaged backup: out-of-bounds price resets to the initial price, a missing
// deadline is re-anchored one interval from now, and truncation is
// re-applied so precision rules hold even for hand-edited files.
func (s *Snapshot) Normalize(now time.Time) {
	if s.Accounts == nil {
		s.Accounts = make(map[string]*Account)
	}
	if s.Price.LessThan(MinPrice) || s.Price.GreaterThan(MaxPrice) {
		s.Price = InitialPrice
	}
	s.Price = s.Price.Round(PricePrecision)
	if s.NextConversionDeadline.IsZero() {
		s.NextConversionDeadline = now.Add(DefaultConversionInterval).UTC()
	}
	for _, acct := range s.Accounts {
		acct.Balance = acct.Balance.Truncate(BalancePrecision)
		acct.Holding = acct.Holding.Truncate(QuantityPrecision)
		if acct.Holding.LessThanOrEqual(DustQuantity) {
			acct.Holding = decimal.Zero
		}
	}
}

// Store wraps the single live Snapshot behind a mutex. Every engine
// operation runs inside WithLock; reads outside the lock get copies.
type Store struct {
	mu   sync.Mutex
	snap *Snapshot
}

// NewStore takes ownership of snap. The snapshot is normalized first so the
// store never starts in an invalid state.
func NewStore(snap *Snapshot, now time.Time) *Store {
	snap.Normalize(now)
	return &Store{snap: snap}
}

// WithLock runs fn with exclusive access to the whole snapshot. No other
// read or mutation observes intermediate state while fn runs.
func (st *Store) WithLock(fn func(*Snapshot)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(st.snap)
}

// GetAccount returns a copy of the account for userID, creating a zeroed
// account on first access. It never fails.
func (st *Store) GetAccount(userID string) Account {
	st.mu.Lock()
	defer st.mu.Unlock()
	return *st.snap.Account(userID).clone()
}

// MarketPrice returns the current coin price.
func (st *Store) MarketPrice() decimal.Decimal {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snap.Price
}

// ConversionDeadline returns the absolute time of the next scheduled
// conversion.
func (st *Store) ConversionDeadline() time.Time {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snap.NextConversionDeadline
}

// CloneSnapshot deep-copies the full state under the lock. The copy is what
// the persistence gateway serializes, so a slow save never blocks trading.
func (st *Store) CloneSnapshot() *Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snap.clone()
}
