package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrCorruptSnapshot marks a backup that failed to parse or carried values
// no valid ledger could produce. The gateway treats it as "try the next
// source", never as fatal.
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// Wire shape kept compatible with earlier backups: a coins map even though
// only one asset exists, and per-user portfolio maps that omit zero
// holdings. Missing optional fields default on load.
type wireSnapshot struct {
	Coins                  map[string]wireCoin `json:"coins"`
	Users                  map[string]wireUser `json:"users"`
	NextConversionDeadline string              `json:"nextConversionDeadline,omitempty"`
}

type wireCoin struct {
	Price decimal.Decimal `json:"price"`
}

type wireUser struct {
	Balance       decimal.Decimal            `json:"balance"`
	Portfolio     map[string]decimal.Decimal `json:"portfolio,omitempty"`
	Verification  map[string]string          `json:"verification,omitempty"`
	OnBuyCooldown bool                       `json:"onBuyCooldown,omitempty"`
}

// EncodeSnapshot serializes snap into the persisted wire form.
func EncodeSnapshot(snap *Snapshot) ([]byte, error) {
	out := wireSnapshot{
		Coins: map[string]wireCoin{
			CoinName: {Price: snap.Price},
		},
		Users:                  make(map[string]wireUser, len(snap.Accounts)),
		NextConversionDeadline: snap.NextConversionDeadline.UTC().Format(time.RFC3339),
	}
	for id, acct := range snap.Accounts {
		u := wireUser{
			Balance:       acct.Balance,
			Verification:  acct.Verification,
			OnBuyCooldown: acct.OnBuyCooldown,
		}
		if acct.Holding.IsPositive() {
			u.Portfolio = map[string]decimal.Decimal{CoinName: acct.Holding}
		}
		out.Users[id] = u
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return raw, nil
}

// DecodeSnapshot parses a persisted snapshot. Parse failures and impossible
// values (negative money) return ErrCorruptSnapshot; a price outside bounds
// is left to Normalize, which resets it to the initial price.
func DecodeSnapshot(raw []byte) (*Snapshot, error) {
	var in wireSnapshot
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	snap := &Snapshot{
		Price:    InitialPrice,
		Accounts: make(map[string]*Account, len(in.Users)),
	}
	if coin, ok := in.Coins[CoinName]; ok {
		snap.Price = coin.Price
	}
	if in.NextConversionDeadline != "" {
		deadline, err := time.Parse(time.RFC3339, in.NextConversionDeadline)
		if err != nil {
			return nil, fmt.Errorf("%w: bad deadline %q", ErrCorruptSnapshot, in.NextConversionDeadline)
		}
		snap.NextConversionDeadline = deadline.UTC()
	}
	for id, u := range in.Users {
		if u.Balance.IsNegative() {
			return nil, fmt.Errorf("%w: negative balance for user %s", ErrCorruptSnapshot, id)
		}
		acct := &Account{
			Balance:       u.Balance,
			Holding:       decimal.Zero,
			OnBuyCooldown: u.OnBuyCooldown,
			Verification:  u.Verification,
		}
		if qty, ok := u.Portfolio[CoinName]; ok {
			if qty.IsNegative() {
				return nil, fmt.Errorf("%w: negative holding for user %s", ErrCorruptSnapshot, id)
			}
			acct.Holding = qty
		}
		snap.Accounts[id] = acct
	}
	return snap, nil
}
