// Package market holds the pure state transitions of the Campton Coin
// economy. Every operation runs under the ledger store lock and either
// applies fully or returns an error without touching state.
package market

import (
	"log/slog"
	mathrand "math/rand"
	"time"

	"campton/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// volatilityLevels is the discrete set a price update draws from. The drawn
// level bounds the uniform percentage move applied to the price.
var volatilityLevels = []float64{0.10, 0.25, 0.50, 0.75, 1.00, 1.25, 1.50}

// Saver receives a copied snapshot after every successful mutation. The
// engine never waits on it; durable writes happen on the gateway's side of
// the fence.
type Saver interface {
	Request(*ledger.Snapshot)
}

// TransferKind selects which side of an account a transfer moves.
type TransferKind string

const (
	TransferCash TransferKind = "cash"
	TransferCoin TransferKind = "coin"
)

type Engine struct {
	store              *ledger.Store
	log                *slog.Logger
	saver              Saver
	conversionInterval time.Duration
	rand               *mathrand.Rand
}

// NewEngine wires the engine to its store. saver may be nil, in which case
// mutations are not persisted (tests). conversionInterval <= 0 falls back to
// the ledger default.
func NewEngine(store *ledger.Store, logger *slog.Logger, saver Saver, conversionInterval time.Duration) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if conversionInterval <= 0 {
		conversionInterval = ledger.DefaultConversionInterval
	}
	return &Engine{
		store:              store,
		log:                logger,
		saver:              saver,
		conversionInterval: conversionInterval,
		rand:               mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
}

// Store exposes the read-only query surface for adapters.
func (e *Engine) Store() *ledger.Store {
	return e.store
}

type PriceUpdate struct {
	TxID       string
	OldPrice   decimal.Decimal
	NewPrice   decimal.Decimal
	Volatility float64
	ChangePct  float64
}

// UpdatePrice draws a volatility level, applies a uniform percentage move in
// [-volatility, +volatility] multiplicatively, clamps to the price bounds,
// and rounds to cents. It is the only operation that clears buy cooldowns.
func (e *Engine) UpdatePrice() PriceUpdate {
	var out PriceUpdate
	out.TxID = uuid.NewString()
	e.store.WithLock(func(snap *ledger.Snapshot) {
		out.OldPrice = snap.Price
		out.Volatility = volatilityLevels[e.rand.Intn(len(volatilityLevels))]
		out.ChangePct = (e.rand.Float64()*2 - 1) * out.Volatility

		next := snap.Price.Mul(decimal.NewFromFloat(1 + out.ChangePct)).Round(ledger.PricePrecision)
		snap.Price = clampPrice(next)
		out.NewPrice = snap.Price

		for _, acct := range snap.Accounts {
			acct.OnBuyCooldown = false
		}
	})
	e.log.Info("price updated",
		"tx_id", out.TxID,
		"old_price", out.OldPrice.String(),
		"new_price", out.NewPrice.String(),
		"volatility", out.Volatility)
	e.requestSave()
	return out
}

// SetPrice is the operator override. It clamps and rounds like UpdatePrice
// but does not touch cooldowns; only the scheduled update resets the gate.
func (e *Engine) SetPrice(price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	applied := clampPrice(price.Round(ledger.PricePrecision))
	e.store.WithLock(func(snap *ledger.Snapshot) {
		snap.Price = applied
	})
	e.log.Info("price set", "price", applied.String())
	e.requestSave()
	return applied, nil
}

type TradeReceipt struct {
	TxID     string
	UserID   string
	Price    decimal.Decimal
	Cash     decimal.Decimal // cash spent (buy) or credited (sell)
	Quantity decimal.Decimal
	Balance  decimal.Decimal // balance after
	Holding  decimal.Decimal // holding after
}

// Buy spends cashAmount at the current price. Quantity is floored to three
// decimals so a user can never buy fractionally more than they pay for.
func (e *Engine) Buy(userID string, cashAmount decimal.Decimal) (TradeReceipt, error) {
	var out TradeReceipt
	var opErr error
	e.store.WithLock(func(snap *ledger.Snapshot) {
		acct := snap.Account(userID)
		if acct.OnBuyCooldown {
			opErr = ErrOnCooldown
			return
		}
		if !validAmount(cashAmount, ledger.CashInputPrecision) {
			opErr = ErrInvalidAmount
			return
		}
		qty := cashAmount.Div(snap.Price).Truncate(ledger.QuantityPrecision)
		if !qty.IsPositive() {
			// Amount too small to buy even a thousandth of a coin.
			opErr = ErrInvalidAmount
			return
		}
		if acct.Balance.LessThan(cashAmount) {
			opErr = ErrInsufficientFunds
			return
		}
		acct.Balance = acct.Balance.Sub(cashAmount).Truncate(ledger.BalancePrecision)
		acct.Holding = acct.Holding.Add(qty)
		out = TradeReceipt{
			TxID:     uuid.NewString(),
			UserID:   userID,
			Price:    snap.Price,
			Cash:     cashAmount,
			Quantity: qty,
			Balance:  acct.Balance,
			Holding:  acct.Holding,
		}
	})
	if opErr != nil {
		return TradeReceipt{}, opErr
	}
	e.log.Info("buy", "tx_id", out.TxID, "user", userID, "cash", out.Cash.String(), "qty", out.Quantity.String())
	e.requestSave()
	return out, nil
}

// Sell liquidates quantity coins at the current price. Residue at or below
// the dust threshold is dropped so holdings never carry floating remainders.
func (e *Engine) Sell(userID string, quantity decimal.Decimal) (TradeReceipt, error) {
	var out TradeReceipt
	var opErr error
	e.store.WithLock(func(snap *ledger.Snapshot) {
		acct := snap.Account(userID)
		if !validAmount(quantity, ledger.QuantityPrecision) {
			opErr = ErrInvalidAmount
			return
		}
		if acct.Holding.LessThan(quantity) {
			opErr = ErrInsufficientHoldings
			return
		}
		proceeds := quantity.Mul(snap.Price).Truncate(ledger.BalancePrecision)
		acct.Balance = acct.Balance.Add(proceeds)
		acct.Holding = acct.Holding.Sub(quantity)
		if acct.Holding.LessThanOrEqual(ledger.DustQuantity) {
			acct.Holding = decimal.Zero
		}
		out = TradeReceipt{
			TxID:     uuid.NewString(),
			UserID:   userID,
			Price:    snap.Price,
			Cash:     proceeds,
			Quantity: quantity,
			Balance:  acct.Balance,
			Holding:  acct.Holding,
		}
	})
	if opErr != nil {
		return TradeReceipt{}, opErr
	}
	e.log.Info("sell", "tx_id", out.TxID, "user", userID, "qty", out.Quantity.String(), "proceeds", out.Cash.String())
	e.requestSave()
	return out, nil
}

type TransferReceipt struct {
	TxID   string
	FromID string
	ToID   string
	Kind   TransferKind
	Amount decimal.Decimal
}

// Transfer moves cash or coins between two accounts. Both mutations happen
// under one lock hold; either side failing leaves both untouched.
func (e *Engine) Transfer(fromID, toID string, amount decimal.Decimal, kind TransferKind) (TransferReceipt, error) {
	if fromID == toID {
		return TransferReceipt{}, ErrSelfTransfer
	}
	var out TransferReceipt
	var opErr error
	e.store.WithLock(func(snap *ledger.Snapshot) {
		from := snap.Account(fromID)
		to := snap.Account(toID)
		switch kind {
		case TransferCash:
			if !validAmount(amount, ledger.CashInputPrecision) {
				opErr = ErrInvalidAmount
				return
			}
			if from.Balance.LessThan(amount) {
				opErr = ErrInsufficientFunds
				return
			}
			from.Balance = from.Balance.Sub(amount)
			to.Balance = to.Balance.Add(amount)
		case TransferCoin:
			if !validAmount(amount, ledger.QuantityPrecision) {
				opErr = ErrInvalidAmount
				return
			}
			if from.Holding.LessThan(amount) {
				opErr = ErrInsufficientHoldings
				return
			}
			from.Holding = from.Holding.Sub(amount)
			if from.Holding.LessThanOrEqual(ledger.DustQuantity) {
				from.Holding = decimal.Zero
			}
			to.Holding = to.Holding.Add(amount)
		default:
			opErr = ErrInvalidAmount
			return
		}
		out = TransferReceipt{
			TxID:   uuid.NewString(),
			FromID: fromID,
			ToID:   toID,
			Kind:   kind,
			Amount: amount,
		}
	})
	if opErr != nil {
		return TransferReceipt{}, opErr
	}
	e.log.Info("transfer", "tx_id", out.TxID, "from", fromID, "to", toID, "kind", string(kind), "amount", amount.String())
	e.requestSave()
	return out, nil
}

// AdjustBalance is the privileged operator credit. No cooldown or
// sufficiency checks apply, but the delta must still be positive.
func (e *Engine) AdjustBalance(userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if !delta.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	var balance decimal.Decimal
	e.store.WithLock(func(snap *ledger.Snapshot) {
		acct := snap.Account(userID)
		acct.Balance = acct.Balance.Add(delta.Truncate(ledger.BalancePrecision))
		balance = acct.Balance
	})
	e.log.Info("balance adjusted", "user", userID, "delta", delta.String())
	e.requestSave()
	return balance, nil
}

// AdjustHolding is the coin counterpart of AdjustBalance.
func (e *Engine) AdjustHolding(userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if !delta.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	var holding decimal.Decimal
	e.store.WithLock(func(snap *ledger.Snapshot) {
		acct := snap.Account(userID)
		acct.Holding = acct.Holding.Add(delta.Truncate(ledger.QuantityPrecision))
		holding = acct.Holding
	})
	e.log.Info("holding adjusted", "user", userID, "delta", delta.String())
	e.requestSave()
	return holding, nil
}

type ConversionResult struct {
	TxID         string
	Converted    int
	Payouts      map[string]decimal.Decimal
	Price        decimal.Decimal
	NextDeadline time.Time
}

// ConvertAllHoldings liquidates every non-zero holding to cash at the
// current price, puts the converted accounts on buy cooldown, and re-anchors
// the conversion deadline one interval from now. Running with no eligible
// accounts still advances the deadline; that is not an error.
func (e *Engine) ConvertAllHoldings() ConversionResult {
	out := ConversionResult{
		TxID:    uuid.NewString(),
		Payouts: make(map[string]decimal.Decimal),
	}
	e.store.WithLock(func(snap *ledger.Snapshot) {
		for id, acct := range snap.Accounts {
			if !acct.Holding.IsPositive() {
				continue
			}
			cash := acct.Holding.Mul(snap.Price).Truncate(ledger.BalancePrecision)
			acct.Balance = acct.Balance.Add(cash)
			acct.Holding = decimal.Zero
			acct.OnBuyCooldown = true
			out.Payouts[id] = cash
			out.Converted++
		}
		snap.NextConversionDeadline = time.Now().Add(e.conversionInterval).UTC()
		out.Price = snap.Price
		out.NextDeadline = snap.NextConversionDeadline
	})
	e.log.Info("holdings converted",
		"tx_id", out.TxID,
		"accounts", out.Converted,
		"next_deadline", out.NextDeadline.Format(time.RFC3339))
	e.requestSave()
	return out
}

func (e *Engine) requestSave() {
	if e.saver == nil {
		return
	}
	e.saver.Request(e.store.CloneSnapshot())
}

func clampPrice(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(ledger.MinPrice) {
		return ledger.MinPrice
	}
	if p.GreaterThan(ledger.MaxPrice) {
		return ledger.MaxPrice
	}
	return p
}

// validAmount reports whether v is positive and carries no more than the
// given number of fractional digits. One truncation rule everywhere.
func validAmount(v decimal.Decimal, precision int32) bool {
	return v.IsPositive() && v.Equal(v.Truncate(precision))
}
