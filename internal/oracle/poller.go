// internal/oracle/poller.go
package oracle

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Refresher is the part of Oracle the poller drives.
type Refresher interface {
	Refresh(ctx context.Context) (Snapshot, error)
}

// Poller refreshes an oracle on a fixed interval until its context ends.
type Poller struct {
	target   Refresher
	interval time.Duration
	maxTries uint
	logger   *zap.Logger
}

func NewPoller(target Refresher, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		target:   target,
		interval: interval,
		maxTries: 3,
		logger:   logger.Named("price-poller"),
	}
}

// Run refreshes once immediately and then on every tick. Failed ticks are
// logged and leave the last snapshot in place.
func (p *Poller) Run(ctx context.Context) error {
	p.tick(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	notify := func(err error, d time.Duration) {
		p.logger.Debug("Retrying price refresh", zap.Error(err), zap.Duration("backoff", d))
	}

	_, err := backoff.Retry(ctx, func() (Snapshot, error) {
		return p.target.Refresh(ctx)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(p.maxTries),
		backoff.WithMaxElapsedTime(p.interval/2),
		backoff.WithNotify(notify))
	if err != nil && ctx.Err() == nil {
		p.logger.Warn("Price refresh tick failed", zap.Error(err))
	}
}
