// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package differ produces manifests for sources backed by scheduled sweeps
// instead of change events. It diffs the provider-generated full inventory
// against the last checkpoint, or falls back to a live listing bounded by
// object-count and wall-clock caps when no inventory exists yet.
package differ

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/gfsbak/gfsbak/pkg/adapters"
	"github.com/gfsbak/gfsbak/pkg/audit"
	"github.com/gfsbak/gfsbak/pkg/checkpoint"
	"github.com/gfsbak/gfsbak/pkg/common"
	"github.com/gfsbak/gfsbak/pkg/manifest"
)

const (
	// DefaultFallbackMaxObjects caps the fallback live listing.
	DefaultFallbackMaxObjects = 10000

	// DefaultFallbackMaxDuration caps the fallback listing's wall-clock time,
	// leaving headroom inside the invocation budget for the manifest write.
	DefaultFallbackMaxDuration = 5 * time.Minute

	// DefaultMaxRetries bounds listing retry attempts.
	DefaultMaxRetries = 3

	listPageSize = 1000
)

// Config configures a Differ for one source.
type Config struct {
	// SourceName is the container identity stamped on manifest entries.
	SourceName string

	// Source is the live listing backend for the fallback path.
	Source common.Storage

	// Inventory is the store holding provider-generated inventories, rooted
	// at InventoryPrefix. Nil disables the inventory path.
	Inventory       common.Storage
	InventoryPrefix string

	Builder     *manifest.Builder
	Checkpoints checkpoint.Store
	Logger      adapters.Logger

	// AllowedPrefixes restricts which keys are considered. Empty means all.
	AllowedPrefixes []string

	// ForceFullOnFirstRun makes the first incremental run unfiltered so a
	// baseline exists. Default off: the first run may be empty.
	ForceFullOnFirstRun bool

	FallbackMaxObjects  int
	FallbackMaxDuration time.Duration

	// FallbackRate limits listing calls per second. Zero means unlimited.
	FallbackRate float64

	MaxRetries int
}

// RunResult summarizes one differ run.
type RunResult struct {
	ManifestPath string
	Entries      int
	Partial      bool
	Marker       string
}

// Differ computes scheduled-backup manifests for one source.
type Differ struct {
	cfg     Config
	limiter *rate.Limiter
	logger  adapters.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New creates a Differ.
func New(cfg Config) (*Differ, error) {
	if cfg.SourceName == "" {
		return nil, fmt.Errorf("source name required")
	}
	if cfg.Source == nil {
		return nil, common.ErrStorageRequired
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("manifest builder required")
	}
	if cfg.Checkpoints == nil {
		return nil, fmt.Errorf("checkpoint store required")
	}
	if cfg.Logger == nil {
		cfg.Logger = adapters.NewNoOpLogger()
	}
	if cfg.FallbackMaxObjects <= 0 {
		cfg.FallbackMaxObjects = DefaultFallbackMaxObjects
	}
	if cfg.FallbackMaxDuration <= 0 {
		cfg.FallbackMaxDuration = DefaultFallbackMaxDuration
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.FallbackRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.FallbackRate), 1)
	}

	return &Differ{
		cfg:     cfg,
		limiter: limiter,
		logger:  cfg.Logger,
		now:     time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}, nil
}

// Run produces one manifest for the trigger's backup type and generation.
// An empty result is a success: the manifest is persisted and the checkpoint
// advances, distinguishing "nothing to do" from "failed to run".
func (d *Differ) Run(ctx context.Context, in *common.TriggerInput) (*RunResult, error) {
	marker := ""
	cp, err := d.cfg.Checkpoints.Load(ctx, d.cfg.SourceName, in.BackupType)
	if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
		return nil, err
	}
	if cp != nil {
		marker = cp.Marker
	}

	if d.cfg.Inventory != nil {
		inv, err := latestInventory(ctx, d.cfg.Inventory, d.cfg.InventoryPrefix)
		if err == nil {
			return d.runFromInventory(ctx, in, inv, marker)
		}
		if !errors.Is(err, ErrNoInventory) {
			return nil, err
		}
		d.logger.Info(ctx, "no inventory yet, using bounded fallback listing",
			adapters.Field{Key: "source", Value: d.cfg.SourceName})
	}

	return d.runFallback(ctx, in, marker)
}

// runFromInventory filters the inventory rows and advances the checkpoint to
// the inventory's creation marker.
func (d *Differ) runFromInventory(ctx context.Context, in *common.TriggerInput, inv *inventory, marker string) (*RunResult, error) {
	var since time.Time
	incremental := in.BackupType == common.BackupTypeIncremental
	firstRun := marker == ""
	if incremental && !firstRun {
		ts, err := time.Parse(time.RFC3339, marker)
		if err != nil {
			return nil, fmt.Errorf("unreadable checkpoint marker %q: %w", marker, err)
		}
		since = ts
	}
	// full runs and forced first runs take every row; an unforced first
	// incremental run has no baseline to diff against and starts empty
	unfiltered := !incremental || (firstRun && d.cfg.ForceFullOnFirstRun)
	include := func(rec inventoryRecord) bool {
		if unfiltered {
			return true
		}
		if firstRun {
			return false
		}
		return rec.LastModified.After(since)
	}

	var entries []manifest.Entry
	err := inv.records(ctx, d.cfg.Inventory, func(rec inventoryRecord) error {
		if !d.allowed(rec.Key) || !include(rec) {
			return nil
		}
		bucket := rec.Bucket
		if bucket == "" {
			bucket = d.cfg.SourceName
		}
		entries = append(entries, manifest.Entry{Bucket: bucket, Key: rec.Key, Version: rec.Version})
		return nil
	})
	if err != nil {
		return nil, err
	}

	newMarker := inv.createdAt.Format(time.RFC3339)
	return d.finish(ctx, in, entries, inv.createdAt.Format("20060102T1504Z"), false, marker, newMarker)
}

// runFallback performs the bounded live listing with retry and backoff.
// Hitting either cap truncates the listing and flags the manifest partial;
// a partial listing does not advance the checkpoint so the next run
// re-baselines from the same point.
func (d *Differ) runFallback(ctx context.Context, in *common.TriggerInput, marker string) (*RunResult, error) {
	start := d.now()
	deadline := start.Add(d.cfg.FallbackMaxDuration)

	var entries []manifest.Entry
	partial := false
	token := ""

listing:
	for {
		if d.now().After(deadline) {
			partial = true
			break
		}

		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		page, err := d.listPage(ctx, token)
		if err != nil {
			return nil, err
		}

		for _, obj := range page.Objects {
			if !d.allowed(obj.Key) {
				continue
			}
			if len(entries) >= d.cfg.FallbackMaxObjects {
				partial = true
				break listing
			}
			version := ""
			if obj.Metadata != nil {
				version = obj.Metadata.VersionID
			}
			entries = append(entries, manifest.Entry{Bucket: d.cfg.SourceName, Key: obj.Key, Version: version})
		}

		if !page.Truncated {
			break
		}
		token = page.NextToken
	}

	newMarker := marker
	if !partial {
		newMarker = start.UTC().Format(time.RFC3339)
	}
	return d.finish(ctx, in, entries, start.UTC().Format("20060102T1504Z"), partial, marker, newMarker)
}

// listPage retries a single listing call with exponential backoff.
func (d *Differ) listPage(ctx context.Context, token string) (*common.ListResult, error) {
	prefix := ""
	if len(d.cfg.AllowedPrefixes) == 1 {
		prefix = d.cfg.AllowedPrefixes[0]
	}

	var lastErr error
	backoff := 250 * time.Millisecond
	for attempt := 0; attempt < d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}

		page, err := d.cfg.Source.ListWithOptions(ctx, &common.ListOptions{
			Prefix:       prefix,
			MaxResults:   listPageSize,
			ContinueFrom: token,
		})
		if err == nil {
			return page, nil
		}
		lastErr = err
		d.logger.Warn(ctx, "listing attempt failed",
			adapters.Field{Key: "source", Value: d.cfg.SourceName},
			adapters.Field{Key: "attempt", Value: attempt + 1},
			adapters.Field{Key: "error", Value: err.Error()})
	}
	return nil, fmt.Errorf("listing failed after %d attempts: %w", d.cfg.MaxRetries, lastErr)
}

// finish persists the manifest and then advances the checkpoint, in that
// order. The checkpoint is untouched when the marker did not move.
func (d *Differ) finish(ctx context.Context, in *common.TriggerInput, entries []manifest.Entry, windowID string, partial bool, oldMarker, newMarker string) (*RunResult, error) {
	m := &manifest.Manifest{
		Criticality:     in.Criticality,
		BackupType:      in.BackupType,
		Generation:      in.Generation,
		SourceContainer: d.cfg.SourceName,
		WindowID:        windowID,
		Entries:         entries,
		Partial:         partial,
	}

	path, err := d.cfg.Builder.Build(ctx, m)
	if err != nil {
		return nil, err
	}
	_ = audit.FromContext(ctx).LogManifest(ctx, "", d.cfg.SourceName, path, len(m.Entries), audit.ResultSuccess, nil)

	if newMarker != oldMarker {
		err := d.cfg.Checkpoints.CompareAndSwap(ctx, d.cfg.SourceName, in.BackupType, oldMarker, newMarker)
		if err != nil && !errors.Is(err, checkpoint.ErrStaleMarker) {
			return nil, err
		}
		if errors.Is(err, checkpoint.ErrStaleMarker) {
			d.logger.Warn(ctx, "checkpoint advanced by a concurrent run",
				adapters.Field{Key: "source", Value: d.cfg.SourceName},
				adapters.Field{Key: "backup_type", Value: string(in.BackupType)})
		} else {
			_ = audit.FromContext(ctx).LogCheckpoint(ctx, d.cfg.SourceName, string(in.BackupType), oldMarker, newMarker)
		}
	}

	return &RunResult{
		ManifestPath: path,
		Entries:      len(m.Entries),
		Partial:      partial,
		Marker:       newMarker,
	}, nil
}

func (d *Differ) allowed(key string) bool {
	if len(d.cfg.AllowedPrefixes) == 0 {
		return true
	}
	for _, p := range d.cfg.AllowedPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}
