package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"campton/internal/ledger"
	"campton/internal/market"

	"github.com/shopspring/decimal"
)

type recordingNotifier struct {
	mu          sync.Mutex
	prices      []market.PriceUpdate
	conversions []market.ConversionResult
	countdowns  []time.Duration
}

func (r *recordingNotifier) AnnouncePrice(u market.PriceUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices = append(r.prices, u)
}

func (r *recordingNotifier) AnnounceConversion(res market.ConversionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversions = append(r.conversions, res)
}

func (r *recordingNotifier) AnnounceCountdown(remaining time.Duration, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.countdowns = append(r.countdowns, remaining)
}

func (r *recordingNotifier) conversionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conversions)
}

func newTestScheduler(t *testing.T, notifier Notifier) (*Scheduler, *market.Engine) {
	t.Helper()
	store := ledger.NewStore(ledger.NewSnapshot(time.Now()), time.Now())
	engine := market.NewEngine(store, nil, nil, 0)
	cfg := Config{
		PriceUpdateEvery:     time.Hour,
		ConversionCheckEvery: time.Hour,
		CountdownEvery:       time.Hour,
	}
	return New(cfg, engine, nil, notifier, nil), engine
}

func TestRunConversionSkipsBeforeDeadline(t *testing.T) {
	notifier := &recordingNotifier{}
	s, engine := newTestScheduler(t, notifier)

	// Fresh ledger: the deadline is a full interval away.
	s.runConversion(context.Background(), false)
	if got := notifier.conversionCount(); got != 0 {
		t.Fatalf("conversions = %d, want 0 before the deadline", got)
	}
	if engine.Store().GetAccount("alice").OnBuyCooldown {
		t.Fatalf("skipped check must not touch accounts")
	}
}

func TestRunConversionForcedRunsImmediately(t *testing.T) {
	notifier := &recordingNotifier{}
	s, engine := newTestScheduler(t, notifier)
	if _, err := engine.AdjustHolding("alice", decimal.NewFromInt(2)); err != nil {
		t.Fatalf("seed holding: %v", err)
	}

	s.runConversion(context.Background(), true)
	if got := notifier.conversionCount(); got != 1 {
		t.Fatalf("conversions = %d, want 1 when forced", got)
	}
	acct := engine.Store().GetAccount("alice")
	if !acct.Holding.IsZero() || !acct.OnBuyCooldown {
		t.Fatalf("forced conversion did not liquidate: %+v", acct)
	}
}

func TestRunConversionFiresWhenDeadlineReached(t *testing.T) {
	notifier := &recordingNotifier{}
	s, engine := newTestScheduler(t, notifier)
	engine.Store().WithLock(func(snap *ledger.Snapshot) {
		snap.NextConversionDeadline = time.Now().Add(-time.Minute)
	})

	s.runConversion(context.Background(), false)
	if got := notifier.conversionCount(); got != 1 {
		t.Fatalf("conversions = %d, want 1 past the deadline", got)
	}
	// The deadline re-anchored, so an immediate re-check is a no-op.
	s.runConversion(context.Background(), false)
	if got := notifier.conversionCount(); got != 1 {
		t.Fatalf("conversions = %d, want still 1 after re-anchor", got)
	}
}

func TestTriggerConversionCoalesces(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	s.TriggerConversion()
	s.TriggerConversion()
	s.TriggerConversion()

	if len(s.convertNow) != 1 {
		t.Fatalf("queued triggers = %d, want 1", len(s.convertNow))
	}
}

func TestRunWaitsForReadiness(t *testing.T) {
	notifier := &recordingNotifier{}
	store := ledger.NewStore(ledger.NewSnapshot(time.Now()), time.Now())
	engine := market.NewEngine(store, nil, nil, 0)
	cfg := Config{
		PriceUpdateEvery:     10 * time.Millisecond,
		ConversionCheckEvery: time.Hour,
		CountdownEvery:       time.Hour,
	}
	s := New(cfg, engine, nil, notifier, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Without the readiness signal no tick may fire.
	time.Sleep(50 * time.Millisecond)
	notifier.mu.Lock()
	early := len(notifier.prices)
	notifier.mu.Unlock()
	if early != 0 {
		t.Fatalf("price ticks before readiness: %d", early)
	}

	s.SignalReady()
	deadline := time.After(2 * time.Second)
	for {
		notifier.mu.Lock()
		n := len(notifier.prices)
		notifier.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("no price tick after readiness")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
