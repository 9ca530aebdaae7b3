package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"areacast/pkg/logx"
)

// Pruner deletes audit records older than the retention window on a cron
// schedule. It is a no-op when the store, retention, or schedule is unset.
type Pruner struct {
	store     Store
	retention time.Duration
	schedule  string
	log       logx.Logger

	c *cron.Cron
}

func NewPruner(store Store, retention time.Duration, schedule string, log logx.Logger) *Pruner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pruner{store: store, retention: retention, schedule: schedule, log: log}
}

func (p *Pruner) Start() error {
	if p.store == nil || p.retention <= 0 || p.schedule == "" {
		return nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))
	_, err := c.AddFunc(p.schedule, p.runOnce)
	if err != nil {
		return err
	}
	p.c = c
	c.Start()
	p.log.Info("audit pruner started", logx.String("schedule", p.schedule), logx.Duration("retention", p.retention))
	return nil
}

func (p *Pruner) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cutoff := time.Now().Add(-p.retention)
	n, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		p.log.Warn("audit prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		p.log.Info("audit records pruned", logx.Int("removed", n), logx.Time("cutoff", cutoff))
	}
}

func (p *Pruner) Stop() {
	if p.c == nil {
		return
	}
	<-p.c.Stop().Done()
	p.c = nil
}
