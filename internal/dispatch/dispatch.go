// Package dispatch fans one message out to many recipients through a
// bounded worker pool and reconciles the scattered per-recipient results
// into a complete report.
//
// Contract:
//   - every submitted recipient yields exactly one Result, in completion
//     order, regardless of individual failures
//   - Sent + Failed always equals len(recipients)
//   - a failed recipient never affects delivery to the others
//   - no retries: a failed send is terminal within a dispatch cycle
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"areacast/internal/provider"
	"areacast/pkg/logx"
)

const defaultWorkers = 8

type Config struct {
	// Workers bounds in-flight sends.
	Workers int

	// Pace is the minimum spacing between completed sends across the whole
	// pool. Zero disables pacing.
	Pace time.Duration
}

type Report struct {
	Results []provider.Result
	Sent    int
	Failed  int
}

type Coordinator struct {
	workers int
	pace    time.Duration
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Coordinator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{workers: workers, pace: cfg.Pace, log: log}
}

// Dispatch sends message to every recipient and blocks until all results
// are in. Partial completion is not a terminal state: the collection loop
// performs exactly len(recipients) receives from a channel sized to hold
// them all, so no worker can block and no result can be dropped.
//
// Cancellation mid-batch is deliberately not supported; ctx only bounds
// the individual provider calls.
func (c *Coordinator) Dispatch(ctx context.Context, recipients []string, message string, s provider.Sender) Report {
	n := len(recipients)
	rep := Report{Results: make([]provider.Result, 0, n)}
	if n == 0 {
		return rep
	}

	start := time.Now()
	c.log.Info("dispatch started",
		logx.String("backend", s.Name()),
		logx.Int("recipients", n),
		logx.Int("workers", c.workers),
	)

	var lim *rate.Limiter
	if c.pace > 0 {
		lim = rate.NewLimiter(rate.Every(c.pace), 1)
	}

	jobs := make(chan string)
	results := make(chan provider.Result, n)

	workers := c.workers
	if workers > n {
		workers = n
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for to := range jobs {
				results <- c.sendOne(ctx, s, to, message)
				if lim != nil {
					_ = lim.Wait(ctx)
				}
			}
		}()
	}

	go func() {
		for _, to := range recipients {
			jobs <- to
		}
		close(jobs)
		wg.Wait()
	}()

	for i := 0; i < n; i++ {
		r := <-results
		if r.OK {
			rep.Sent++
		} else {
			rep.Failed++
		}
		rep.Results = append(rep.Results, r)
	}

	fields := []logx.Field{
		logx.String("backend", s.Name()),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Duration("dur", time.Since(start)),
	}
	if rep.Failed > 0 {
		c.log.Warn("dispatch finished with failures", fields...)
	} else {
		c.log.Info("dispatch finished", fields...)
	}
	return rep
}

// sendOne guards the adapter boundary. Adapters must not panic, but a
// recipient that somehow did would otherwise break the exactly-N contract.
func (c *Coordinator) sendOne(ctx context.Context, s provider.Sender, to, message string) (res provider.Result) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic in send", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			res = provider.Result{To: to, OK: false, Info: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return s.Send(ctx, to, message)
}
