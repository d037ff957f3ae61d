package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/locafleet/locafleet/pkg/observability"
)

// Purger runs the scheduled retention purge.
type Purger struct {
	store  *Store
	policy RetentionPolicy
	logger *observability.Logger
	cron   *cron.Cron
}

// NewPurger creates a purger with the given policy.
func NewPurger(store *Store, policy RetentionPolicy, logger *observability.Logger) *Purger {
	return &Purger{
		store:  store,
		policy: policy,
		logger: logger,
		cron:   cron.New(),
	}
}

// Start schedules the purge job and starts the cron runner.
func (p *Purger) Start() error {
	_, err := p.cron.AddFunc(p.policy.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		p.RunOnce(ctx)
	})
	if err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

// RunOnce purges immediately. Exposed for tests and manual runs.
func (p *Purger) RunOnce(ctx context.Context) {
	retention := time.Duration(p.policy.RetentionDays) * 24 * time.Hour
	removed, err := p.store.PurgeOlderThan(ctx, retention)
	if err != nil {
		p.logger.WithError(err).Error("audit retention purge failed")
		return
	}
	if removed > 0 {
		p.logger.WithField("removed", removed).Info("audit retention purge complete")
	}
}

// Stop halts the cron runner, waiting for a running job to finish.
func (p *Purger) Stop(ctx context.Context) error {
	stopCtx := p.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
