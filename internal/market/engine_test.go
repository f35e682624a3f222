package market

import (
	"errors"
	"sync"
	"testing"
	"time"

	"campton/internal/ledger"

	"github.com/shopspring/decimal"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store := ledger.NewStore(ledger.NewSnapshot(time.Now()), time.Now())
	return NewEngine(store, nil, nil, 0)
}

func fund(t *testing.T, e *Engine, userID string, cash string) {
	t.Helper()
	if _, err := e.AdjustBalance(userID, decimal.RequireFromString(cash)); err != nil {
		t.Fatalf("fund %s: %v", userID, err)
	}
}

func setPrice(t *testing.T, e *Engine, price string) {
	t.Helper()
	if _, err := e.SetPrice(decimal.RequireFromString(price)); err != nil {
		t.Fatalf("set price: %v", err)
	}
}

func TestBuyFloorsQuantity(t *testing.T) {
	e := newTestEngine(t)
	setPrice(t, e, "120.00")
	fund(t, e, "alice", "100.00")

	receipt, err := e.Buy("alice", decimal.RequireFromString("50.00"))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !receipt.Quantity.Equal(decimal.RequireFromString("0.416")) {
		t.Fatalf("quantity = %s, want 0.416", receipt.Quantity)
	}
	if !receipt.Balance.Equal(decimal.RequireFromString("50.00")) {
		t.Fatalf("balance = %s, want 50.00", receipt.Balance)
	}
	if receipt.TxID == "" {
		t.Fatalf("expected a transaction id")
	}
}

func TestBuyRejections(t *testing.T) {
	e := newTestEngine(t)
	setPrice(t, e, "120.00")
	fund(t, e, "alice", "10.00")

	if _, err := e.Buy("alice", decimal.RequireFromString("50.00")); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if _, err := e.Buy("alice", decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount err = %v, want ErrInvalidAmount", err)
	}
	if _, err := e.Buy("alice", decimal.RequireFromString("-4")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative err = %v, want ErrInvalidAmount", err)
	}
	if _, err := e.Buy("alice", decimal.RequireFromString("1.005")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("sub-cent err = %v, want ErrInvalidAmount", err)
	}
	// Cash too small to buy a thousandth of a coin at this price.
	if _, err := e.Buy("alice", decimal.RequireFromString("0.01")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("tiny cash err = %v, want ErrInvalidAmount", err)
	}

	// None of the rejected buys may have touched the balance.
	if got := e.Store().GetAccount("alice").Balance; !got.Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("balance changed by failed buy: %s", got)
	}
}

func TestSellTruncatesProceedsAndDropsDust(t *testing.T) {
	e := newTestEngine(t)
	setPrice(t, e, "120.00")
	fund(t, e, "alice", "100.00")
	if _, err := e.Buy("alice", decimal.RequireFromString("50.00")); err != nil {
		t.Fatalf("buy: %v", err)
	}

	receipt, err := e.Sell("alice", decimal.RequireFromString("0.416"))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !receipt.Cash.Equal(decimal.RequireFromString("49.92")) {
		t.Fatalf("proceeds = %s, want 49.92", receipt.Cash)
	}
	if !receipt.Holding.IsZero() {
		t.Fatalf("holding = %s, want 0 after full sale", receipt.Holding)
	}

	if _, err := e.Sell("alice", decimal.RequireFromString("0.001")); !errors.Is(err, ErrInsufficientHoldings) {
		t.Fatalf("err = %v, want ErrInsufficientHoldings", err)
	}
}

func TestTransferCashAtomicity(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, "alice", "100.00")

	if _, err := e.Transfer("alice", "bob", decimal.RequireFromString("40.00"), TransferCash); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := e.Store().GetAccount("alice").Balance; !got.Equal(decimal.RequireFromString("60.00")) {
		t.Fatalf("sender balance = %s, want 60.00", got)
	}
	if got := e.Store().GetAccount("bob").Balance; !got.Equal(decimal.RequireFromString("40.00")) {
		t.Fatalf("recipient balance = %s, want 40.00", got)
	}

	// A failing transfer leaves both sides untouched.
	if _, err := e.Transfer("alice", "bob", decimal.RequireFromString("500.00"), TransferCash); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if got := e.Store().GetAccount("bob").Balance; !got.Equal(decimal.RequireFromString("40.00")) {
		t.Fatalf("recipient changed by failed transfer: %s", got)
	}
}

func TestTransferRejectsSelfAndBadKind(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, "alice", "100.00")

	if _, err := e.Transfer("alice", "alice", decimal.NewFromInt(1), TransferCash); !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("err = %v, want ErrSelfTransfer", err)
	}
	if _, err := e.Transfer("alice", "bob", decimal.NewFromInt(1), TransferKind("gold")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestConcurrentTransfersConserveTotal(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, "alice", "1000.00")
	fund(t, e, "bob", "1000.00")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = e.Transfer("alice", "bob", decimal.NewFromInt(1), TransferCash)
		}()
		go func() {
			defer wg.Done()
			_, _ = e.Transfer("bob", "alice", decimal.NewFromInt(1), TransferCash)
		}()
	}
	wg.Wait()

	total := e.Store().GetAccount("alice").Balance.Add(e.Store().GetAccount("bob").Balance)
	if !total.Equal(decimal.RequireFromString("2000.00")) {
		t.Fatalf("total = %s, want 2000.00", total)
	}
}

func TestConvertAllHoldings(t *testing.T) {
	e := newTestEngine(t)
	setPrice(t, e, "120.00")
	fund(t, e, "alice", "100.00")
	fund(t, e, "bob", "5.00")
	if _, err := e.Buy("alice", decimal.RequireFromString("50.00")); err != nil {
		t.Fatalf("buy: %v", err)
	}

	before := time.Now()
	result := e.ConvertAllHoldings()
	if result.Converted != 1 {
		t.Fatalf("converted = %d, want 1", result.Converted)
	}
	if !result.Payouts["alice"].Equal(decimal.RequireFromString("49.92")) {
		t.Fatalf("payout = %s, want 49.92", result.Payouts["alice"])
	}

	alice := e.Store().GetAccount("alice")
	if !alice.Holding.IsZero() {
		t.Fatalf("holding = %s, want 0", alice.Holding)
	}
	if !alice.Balance.Equal(decimal.RequireFromString("99.92")) {
		t.Fatalf("balance = %s, want 99.92", alice.Balance)
	}
	if !alice.OnBuyCooldown {
		t.Fatalf("converted account not on cooldown")
	}
	// Untouched accounts stay off cooldown.
	if e.Store().GetAccount("bob").OnBuyCooldown {
		t.Fatalf("unconverted account put on cooldown")
	}
	if result.NextDeadline.Before(before.Add(ledger.DefaultConversionInterval - time.Minute)) {
		t.Fatalf("deadline %s not re-anchored one interval out", result.NextDeadline)
	}

	// Second run finds nothing to convert but still advances the deadline.
	again := e.ConvertAllHoldings()
	if again.Converted != 0 {
		t.Fatalf("second run converted = %d, want 0", again.Converted)
	}
}

func TestCooldownBlocksBuyUntilPriceUpdate(t *testing.T) {
	e := newTestEngine(t)
	setPrice(t, e, "10.00")
	fund(t, e, "alice", "100.00")
	if _, err := e.Buy("alice", decimal.RequireFromString("10.00")); err != nil {
		t.Fatalf("buy: %v", err)
	}

	e.ConvertAllHoldings()
	if _, err := e.Buy("alice", decimal.RequireFromString("10.00")); !errors.Is(err, ErrOnCooldown) {
		t.Fatalf("err = %v, want ErrOnCooldown", err)
	}
	// Selling and transfers stay open during the cooldown.
	if _, err := e.Transfer("alice", "bob", decimal.RequireFromString("5.00"), TransferCash); err != nil {
		t.Fatalf("transfer during cooldown: %v", err)
	}

	// The operator override must not release the gate.
	setPrice(t, e, "11.00")
	if _, err := e.Buy("alice", decimal.RequireFromString("10.00")); !errors.Is(err, ErrOnCooldown) {
		t.Fatalf("setprice cleared cooldown: err = %v", err)
	}

	e.UpdatePrice()
	if _, err := e.Buy("alice", decimal.RequireFromString("10.00")); err != nil {
		t.Fatalf("buy after price update: %v", err)
	}
}

func TestUpdatePriceStaysInBounds(t *testing.T) {
	e := newTestEngine(t)
	for i := 0; i < 200; i++ {
		update := e.UpdatePrice()
		if update.NewPrice.LessThan(ledger.MinPrice) || update.NewPrice.GreaterThan(ledger.MaxPrice) {
			t.Fatalf("price %s out of bounds", update.NewPrice)
		}
		if !update.NewPrice.Equal(update.NewPrice.Round(ledger.PricePrecision)) {
			t.Fatalf("price %s not rounded to cents", update.NewPrice)
		}
	}
}

func TestSetPriceClamps(t *testing.T) {
	e := newTestEngine(t)
	applied, err := e.SetPrice(decimal.NewFromInt(999999))
	if err != nil {
		t.Fatalf("set price: %v", err)
	}
	if !applied.Equal(ledger.MaxPrice) {
		t.Fatalf("applied = %s, want clamp to %s", applied, ledger.MaxPrice)
	}
	if _, err := e.SetPrice(decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestAdjustRequiresPositiveDelta(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.AdjustBalance("alice", decimal.NewFromInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("balance err = %v, want ErrInvalidAmount", err)
	}
	if _, err := e.AdjustHolding("alice", decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("holding err = %v, want ErrInvalidAmount", err)
	}
}
