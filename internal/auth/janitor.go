// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often the janitor sweeps when no interval is given.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper removes expired records.
type Sweeper interface {
	Sweep(ctx context.Context) (SweepResult, error)
}

// Janitor periodically runs a Sweeper in the background.
// Call Close to stop it.
type Janitor struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJanitor starts a janitor that sweeps every interval.
func NewJanitor(sweeper Sweeper, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := &Janitor{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	j.wg.Add(1)
	go j.loop()

	return j
}

func (j *Janitor) loop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.runOnce()
		}
	}
}

func (j *Janitor) runOnce() {
	// Close cancels an in-flight sweep through j.ctx.
	ctx, cancel := context.WithTimeout(j.ctx, j.interval)
	defer cancel()

	result, err := j.sweeper.Sweep(ctx)
	if err != nil {
		// Sweeper logs its own failures.
		return
	}
	if result.Tokens+result.Sessions+result.Throttle > 0 {
		j.logger.InfoContext(ctx, "swept expired records",
			"tokens", result.Tokens,
			"sessions", result.Sessions,
			"throttle", result.Throttle,
		)
	}
}

// Close stops the background goroutine and waits for it to exit.
// It is safe to call more than once.
func (j *Janitor) Close() {
	j.cancel()
	j.wg.Wait()
}
