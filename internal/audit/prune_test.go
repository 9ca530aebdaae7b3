package audit

import (
	"context"
	"testing"
	"time"

	"areacast/pkg/logx"
)

type countingStore struct {
	Store
	pruned chan time.Time
}

func (c *countingStore) Prune(_ context.Context, olderThan time.Time) (int, error) {
	c.pruned <- olderThan
	return 1, nil
}

func TestPrunerDisabled(t *testing.T) {
	t.Parallel()

	cases := []*Pruner{
		NewPruner(nil, time.Hour, "@hourly", logx.Nop()),
		NewPruner(&countingStore{}, 0, "@hourly", logx.Nop()),
		NewPruner(&countingStore{}, time.Hour, "", logx.Nop()),
	}
	for i, p := range cases {
		if err := p.Start(); err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		p.Stop()
	}
}

func TestPrunerBadSchedule(t *testing.T) {
	t.Parallel()

	p := NewPruner(&countingStore{}, time.Hour, "every blue moon", logx.Nop())
	if err := p.Start(); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestPrunerRuns(t *testing.T) {
	t.Parallel()

	cs := &countingStore{pruned: make(chan time.Time, 4)}
	p := NewPruner(cs, 24*time.Hour, "@every 50ms", logx.Nop())
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	select {
	case cutoff := <-cs.pruned:
		if age := time.Since(cutoff); age < 23*time.Hour || age > 25*time.Hour {
			t.Fatalf("cutoff %v not ~24h old", cutoff)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("prune never fired")
	}
}
