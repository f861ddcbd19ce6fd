// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package batchcopy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/gfsbak/gfsbak/pkg/adapters"
	"github.com/gfsbak/gfsbak/pkg/common"
	"github.com/gfsbak/gfsbak/pkg/manifest"
)

// SourceResolver maps a manifest entry's bucket to a readable backend.
type SourceResolver func(bucket string) (common.Storage, error)

// StorageCopier is a reference BatchCopier that executes the copy itself:
// it reads the manifest from the central store and copies every entry from
// its source backend into the destination prefix. It exercises the pipeline
// end-to-end against local and in-memory backends.
type StorageCopier struct {
	central  common.Storage
	resolve  SourceResolver
	logger   adapters.Logger
	parallel int

	mu   sync.Mutex
	jobs map[string]*JobReport
}

// NewStorageCopier creates a copier writing into the central store.
func NewStorageCopier(central common.Storage, resolve SourceResolver, parallel int, logger adapters.Logger) (*StorageCopier, error) {
	if central == nil {
		return nil, common.ErrStorageRequired
	}
	if resolve == nil {
		return nil, fmt.Errorf("source resolver required")
	}
	if parallel <= 0 {
		parallel = 4
	}
	if logger == nil {
		logger = adapters.NewNoOpLogger()
	}
	return &StorageCopier{
		central:  central,
		resolve:  resolve,
		logger:   logger,
		parallel: parallel,
		jobs:     make(map[string]*JobReport),
	}, nil
}

// Submit copies the manifest's entries synchronously with bounded
// concurrency and records the outcome under a fresh job id.
func (c *StorageCopier) Submit(ctx context.Context, manifestRef, destinationPrefix, sourceRole string) (string, error) {
	rc, err := c.central.GetWithContext(ctx, manifestRef)
	if err != nil {
		return "", fmt.Errorf("failed to read manifest %s: %w", manifestRef, err)
	}
	entries, err := manifest.DecodeEntries(rc)
	_ = rc.Close()
	if err != nil {
		return "", fmt.Errorf("failed to decode manifest %s: %w", manifestRef, err)
	}

	jobID := uuid.NewString()
	report := &JobReport{Status: StatusActive, Total: int64(len(entries))}
	c.mu.Lock()
	c.jobs[jobID] = report
	c.mu.Unlock()

	var wg sync.WaitGroup
	sem := make(chan struct{}, c.parallel)
	var succeeded, failed int64
	var countMu sync.Mutex

	for _, entry := range entries {
		wg.Add(1)
		sem <- struct{}{}
		go func(e manifest.Entry) {
			defer wg.Done()
			defer func() { <-sem }()

			err := c.copyEntry(ctx, e, destinationPrefix)
			countMu.Lock()
			if err != nil {
				failed++
				c.logger.Warn(ctx, "entry copy failed",
					adapters.Field{Key: "bucket", Value: e.Bucket},
					adapters.Field{Key: "key", Value: e.Key},
					adapters.Field{Key: "error", Value: err.Error()})
			} else {
				succeeded++
			}
			countMu.Unlock()
		}(entry)
	}
	wg.Wait()

	c.mu.Lock()
	report.Succeeded = succeeded
	report.Failed = failed
	if failed > 0 {
		report.Status = StatusFailed
	} else {
		report.Status = StatusComplete
	}
	c.mu.Unlock()

	c.logger.Info(ctx, "copy job finished",
		adapters.Field{Key: "job_id", Value: jobID},
		adapters.Field{Key: "manifest", Value: manifestRef},
		adapters.Field{Key: "succeeded", Value: succeeded},
		adapters.Field{Key: "failed", Value: failed})
	return jobID, nil
}

func (c *StorageCopier) copyEntry(ctx context.Context, e manifest.Entry, destinationPrefix string) error {
	source, err := c.resolve(e.Bucket)
	if err != nil {
		return err
	}

	rc, err := source.GetWithContext(ctx, e.Key)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	dest := destinationPrefix + e.Bucket + "/" + e.Key
	return c.central.PutWithContext(ctx, dest, rc)
}

// Describe returns a submitted job's report.
func (c *StorageCopier) Describe(ctx context.Context, jobID string) (*JobReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	report, exists := c.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	reportCopy := *report
	return &reportCopy, nil
}
