// Package sched drives the three periodic processes of the market: price
// updates, cooldown-gated conversions, and countdown notices. Each process
// is a single goroutine on a fixed ticker, so a tick can never overlap the
// next run of the same process, and missed ticks are skipped rather than
// burst-fired after downtime.
package sched

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"campton/internal/market"
	"campton/internal/persist"
)

// Notifier receives the outcomes worth telling users about. Implementations
// must not block for long; they run on the scheduler goroutines after the
// ledger lock has been released.
type Notifier interface {
	AnnouncePrice(update market.PriceUpdate)
	AnnounceConversion(result market.ConversionResult)
	AnnounceCountdown(remaining time.Duration, deadline time.Time)
}

// NopNotifier is used when no announcement channel is configured.
type NopNotifier struct{}

func (NopNotifier) AnnouncePrice(market.PriceUpdate)           {}
func (NopNotifier) AnnounceConversion(market.ConversionResult) {}
func (NopNotifier) AnnounceCountdown(time.Duration, time.Time) {}

type Config struct {
	PriceUpdateEvery     time.Duration
	ConversionCheckEvery time.Duration
	CountdownEvery       time.Duration
}

type Scheduler struct {
	cfg      Config
	engine   *market.Engine
	gateway  *persist.Gateway
	notifier Notifier
	log      *slog.Logger

	ready      chan struct{}
	readyOnce  sync.Once
	convertNow chan struct{}
}

func New(cfg Config, engine *market.Engine, gateway *persist.Gateway, notifier Notifier, logger *slog.Logger) *Scheduler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:        cfg,
		engine:     engine,
		gateway:    gateway,
		notifier:   notifier,
		log:        logger,
		ready:      make(chan struct{}),
		convertNow: make(chan struct{}, 1),
	}
}

// SetNotifier replaces the notifier. It must be called before SignalReady;
// the loops read the field without further synchronization once running.
func (s *Scheduler) SetNotifier(n Notifier) {
	if n != nil {
		s.notifier = n
	}
}

// SignalReady opens the readiness gate. The periodic processes do not start
// ticking until the ledger has been reconstructed and the adapters are up.
func (s *Scheduler) SignalReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// TriggerConversion forces the conversion process to run its check now,
// without waiting for the timer. Duplicate triggers coalesce.
func (s *Scheduler) TriggerConversion() {
	select {
	case s.convertNow <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled, driving all three processes.
func (s *Scheduler) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-s.ready:
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.priceLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.conversionLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.countdownLoop(ctx)
	}()
	wg.Wait()
}

func (s *Scheduler) priceLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PriceUpdateEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update := s.engine.UpdatePrice()
			s.persist(ctx)
			s.notifier.AnnouncePrice(update)
		}
	}
}

func (s *Scheduler) conversionLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ConversionCheckEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runConversion(ctx, false)
		case <-s.convertNow:
			s.runConversion(ctx, true)
		}
	}
}

// runConversion is the Waiting -> Converting -> Waiting transition. The
// deadline advances inside the converting step, so a second check right
// after sees Waiting again.
func (s *Scheduler) runConversion(ctx context.Context, forced bool) {
	deadline := s.engine.Store().ConversionDeadline()
	if !forced && time.Now().Before(deadline) {
		return
	}
	result := s.engine.ConvertAllHoldings()
	s.persist(ctx)
	s.notifier.AnnounceConversion(result)
	s.log.Info("conversion completed", "forced", forced, "accounts", result.Converted)
}

func (s *Scheduler) countdownLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CountdownEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := s.engine.Store().ConversionDeadline()
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			s.notifier.AnnounceCountdown(remaining, deadline)
		}
	}
}

func (s *Scheduler) persist(ctx context.Context) {
	if s.gateway == nil {
		return
	}
	if err := s.gateway.Save(ctx, s.engine.Store().CloneSnapshot()); err != nil {
		s.log.Error("scheduled save failed", "err", err)
	}
}
