// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gfsbak/gfsbak/pkg/adapters"
	"github.com/gfsbak/gfsbak/pkg/discovery"
)

// sourcePool fans per-source backup runs out to a bounded worker set. One
// source failing never stops the other workers.
type sourcePool struct {
	workers int
	tasks   chan discovery.Source
	results chan SourceReport
	wg      sync.WaitGroup
	logger  adapters.Logger

	processed atomic.Int64
	failed    atomic.Int64
}

func newSourcePool(workers, queueSize int, logger adapters.Logger) *sourcePool {
	return &sourcePool{
		workers: workers,
		tasks:   make(chan discovery.Source, queueSize),
		results: make(chan SourceReport, queueSize),
		logger:  logger,
	}
}

func (p *sourcePool) start(ctx context.Context, process func(context.Context, discovery.Source) SourceReport) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i, process)
	}
}

func (p *sourcePool) worker(ctx context.Context, id int, process func(context.Context, discovery.Source) SourceReport) {
	defer p.wg.Done()

	p.logger.Debug(ctx, "source worker started",
		adapters.Field{Key: "worker_id", Value: id})

	for src := range p.tasks {
		result := process(ctx, src)

		p.processed.Add(1)
		if result.Status == SourceFailed {
			p.failed.Add(1)
		}

		select {
		case p.results <- result:
		case <-ctx.Done():
			return
		}
	}
}

func (p *sourcePool) submit(src discovery.Source) {
	p.tasks <- src
}

// finish signals no more work and waits for the workers to drain.
func (p *sourcePool) finish(ctx context.Context) {
	close(p.tasks)
	p.wg.Wait()
	close(p.results)

	p.logger.Debug(ctx, "source pool drained",
		adapters.Field{Key: "processed", Value: p.processed.Load()},
		adapters.Field{Key: "failed", Value: p.failed.Load()})
}
