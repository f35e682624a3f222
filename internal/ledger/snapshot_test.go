package ledger

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSnapshotRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	snap := NewSnapshot(now)
	snap.Price = decimal.RequireFromString("120.00")
	snap.Accounts["alice"] = &Account{
		Balance:       decimal.RequireFromString("50.25"),
		Holding:       decimal.RequireFromString("0.416"),
		OnBuyCooldown: true,
	}
	snap.Accounts["bob"] = &Account{
		Balance: decimal.RequireFromString("12.5"),
		Holding: decimal.Zero,
	}

	raw, err := EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeSnapshot(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !got.Price.Equal(snap.Price) {
		t.Fatalf("price = %s, want %s", got.Price, snap.Price)
	}
	if !got.NextConversionDeadline.Equal(snap.NextConversionDeadline) {
		t.Fatalf("deadline = %s, want %s", got.NextConversionDeadline, snap.NextConversionDeadline)
	}
	alice := got.Accounts["alice"]
	if alice == nil || !alice.Balance.Equal(snap.Accounts["alice"].Balance) ||
		!alice.Holding.Equal(snap.Accounts["alice"].Holding) || !alice.OnBuyCooldown {
		t.Fatalf("alice did not round-trip: %+v", alice)
	}
	bob := got.Accounts["bob"]
	if bob == nil || !bob.Holding.IsZero() || bob.OnBuyCooldown {
		t.Fatalf("bob did not round-trip: %+v", bob)
	}
}

func TestEncodeOmitsZeroHoldings(t *testing.T) {
	snap := NewSnapshot(time.Now())
	snap.Accounts["bob"] = &Account{Balance: decimal.NewFromInt(10), Holding: decimal.Zero}
	raw, err := EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if strings.Contains(string(raw), "portfolio") {
		t.Fatalf("zero holding serialized: %s", raw)
	}
}

func TestDecodeMissingCoinDefaultsPrice(t *testing.T) {
	snap, err := DecodeSnapshot([]byte(`{"coins":{},"users":{}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !snap.Price.Equal(InitialPrice) {
		t.Fatalf("price = %s, want %s", snap.Price, InitialPrice)
	}
}

func TestDecodeCorruptInputs(t *testing.T) {
	cases := map[string]string{
		"not json":         `{{{`,
		"negative balance": `{"coins":{"campton":{"price":"1.00"}},"users":{"u":{"balance":"-5"}}}`,
		"negative holding": `{"coins":{"campton":{"price":"1.00"}},"users":{"u":{"balance":"1","portfolio":{"campton":"-0.5"}}}}`,
		"bad deadline":     `{"coins":{},"users":{},"nextConversionDeadline":"yesterday"}`,
	}
	for name, raw := range cases {
		if _, err := DecodeSnapshot([]byte(raw)); !errors.Is(err, ErrCorruptSnapshot) {
			t.Fatalf("%s: err = %v, want ErrCorruptSnapshot", name, err)
		}
	}
}

func TestDecodeOutOfBoundsPriceIsNotCorrupt(t *testing.T) {
	snap, err := DecodeSnapshot([]byte(`{"coins":{"campton":{"price":"-3.00"}},"users":{}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	snap.Normalize(time.Now())
	if !snap.Price.Equal(InitialPrice) {
		t.Fatalf("price = %s, want %s after normalize", snap.Price, InitialPrice)
	}
}
