package service

import (
	"context"
	"log/slog"
	"time"
)

type expiredPruner interface {
	PruneExpired(ctx context.Context) (int64, error)
}

// LedgerPruner removes expired ledger records and reuse markers. Expired
// records are already treated as absent, so pruning only reclaims space.
type LedgerPruner struct {
	ledger expiredPruner
}

func NewLedgerPruner(ledger expiredPruner) *LedgerPruner {
	return &LedgerPruner{ledger: ledger}
}

func (p *LedgerPruner) PruneOnce(ctx context.Context) (int64, error) {
	removed, err := p.ledger.PruneExpired(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "ledger prune failed", "error", err)
		return 0, err
	}
	if removed > 0 {
		slog.InfoContext(ctx, "ledger pruned", "removed", removed)
	}
	return removed, nil
}

// StartPruneTicker runs PruneOnce on a regular interval until ctx is cancelled.
func (p *LedgerPruner) StartPruneTicker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run once on startup to clear rows left by a previous run.
	_, _ = p.PruneOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = p.PruneOnce(ctx)
		}
	}
}
