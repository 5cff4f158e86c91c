package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically deletes refresh records past the retention window.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// NewSweeper returns a Sweeper using svc's configured interval.
func NewSweeper(svc *Service, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		svc:      svc,
		interval: svc.cfg.SweepInterval,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
// A zero interval disables the sweeper. Run always returns nil; sweep errors
// are logged and retried on the next tick.
func (w *Sweeper) Run(ctx context.Context) error {
	if w.interval <= 0 {
		w.log.Info("session.sweep.disabled")
		return nil
	}

	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		w.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (w *Sweeper) sweepOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	n, err := w.svc.SweepExpired(ctx, w.now())
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn("session.sweep.fail", "err", err)
		}
		return
	}
	w.log.Info("session.sweep.ok", "deleted", n, "took", time.Since(start).String())
}
