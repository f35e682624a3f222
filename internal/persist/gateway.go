package persist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"campton/internal/ledger"
)

// Gateway fans one snapshot out to every backend and reconstructs state
// from the most authoritative readable one. Saves are serialized by a
// gateway-level mutex independent of the ledger lock, so a slow remote
// write can delay the next save but never a trade.
type Gateway struct {
	log           *slog.Logger
	local         Backend
	remotes       []Backend // authority order: remotes[0] wins on load
	remoteTimeout time.Duration

	saveMu sync.Mutex

	mu      sync.Mutex
	pending *ledger.Snapshot
	wake    chan struct{}
}

func NewGateway(logger *slog.Logger, local Backend, remotes []Backend, remoteTimeout time.Duration) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if remoteTimeout <= 0 {
		remoteTimeout = 15 * time.Second
	}
	return &Gateway{
		log:           logger,
		local:         local,
		remotes:       remotes,
		remoteTimeout: remoteTimeout,
		wake:          make(chan struct{}, 1),
	}
}

// Save writes snap everywhere, one backend at a time. The local file is the
// minimum durability guarantee: its failure fails the save. Remote failures
// are logged and swallowed.
func (g *Gateway) Save(ctx context.Context, snap *ledger.Snapshot) error {
	raw, err := ledger.EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	g.saveMu.Lock()
	defer g.saveMu.Unlock()

	if err := g.local.Save(ctx, raw); err != nil {
		return err
	}
	for _, b := range g.remotes {
		remoteCtx, cancel := context.WithTimeout(ctx, g.remoteTimeout)
		err := b.Save(remoteCtx, raw)
		cancel()
		if err != nil {
			g.log.Warn("remote backup unavailable", "backend", b.Name(), "err", err)
		}
	}
	return nil
}

// Request schedules snap to be saved by the Run loop. Latest wins: if a
// newer snapshot arrives before the previous request was written, only the
// newer one is persisted.
func (g *Gateway) Request(snap *ledger.Snapshot) {
	g.mu.Lock()
	g.pending = snap
	g.mu.Unlock()
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// Run drains save requests until ctx is cancelled, then flushes any pending
// snapshot so a clean shutdown never loses the last mutation.
func (g *Gateway) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			g.flush(context.Background())
			return
		case <-g.wake:
			g.flush(ctx)
		}
	}
}

func (g *Gateway) flush(ctx context.Context) {
	g.mu.Lock()
	snap := g.pending
	g.pending = nil
	g.mu.Unlock()
	if snap == nil {
		return
	}
	if err := g.Save(ctx, snap); err != nil {
		g.log.Error("snapshot save failed", "err", err)
	}
}

// Load walks remotes then the local file and returns the first backup that
// parses. Corrupt records are skipped, not fatal. A nil result with nil
// error means every source was empty: cold start.
func (g *Gateway) Load(ctx context.Context) (*ledger.Snapshot, error) {
	sources := make([]Backend, 0, len(g.remotes)+1)
	sources = append(sources, g.remotes...)
	sources = append(sources, g.local)

	for _, b := range sources {
		loadCtx, cancel := context.WithTimeout(ctx, g.remoteTimeout)
		raw, err := b.Load(loadCtx)
		cancel()
		if err != nil {
			if !errors.Is(err, ErrNoSnapshot) {
				g.log.Warn("backup source unreadable", "backend", b.Name(), "err", err)
			}
			continue
		}
		snap, err := ledger.DecodeSnapshot(raw)
		if err != nil {
			g.log.Warn("backup source corrupt", "backend", b.Name(), "err", err)
			continue
		}
		g.log.Info("ledger restored", "backend", b.Name(), "accounts", len(snap.Accounts))
		return snap, nil
	}
	return nil, nil
}
