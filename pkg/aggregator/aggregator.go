// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package aggregator turns the at-least-once, possibly-reordered stream of
// object-change events into deterministic per-window manifests. Events are
// bucketed by floor(event_time / frequency), deduplicated last-write-wins per
// (container, key) within a window, and filtered through the exclusion rules
// before admission. The manifest is persisted before the checkpoint advances,
// and messages are acknowledged only after both succeed.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gfsbak/gfsbak/pkg/adapters"
	"github.com/gfsbak/gfsbak/pkg/audit"
	"github.com/gfsbak/gfsbak/pkg/checkpoint"
	"github.com/gfsbak/gfsbak/pkg/common"
	"github.com/gfsbak/gfsbak/pkg/manifest"
	"github.com/gfsbak/gfsbak/pkg/queue"
	"github.com/gfsbak/gfsbak/pkg/retention"
)

// ErrTransportRequired is returned when building an aggregator without a transport.
var ErrTransportRequired = errors.New("transport required")

// ResolveCriticality maps a source container to its criticality tier.
// A nil resolver applies common.DefaultCriticality to every source.
type ResolveCriticality func(ctx context.Context, container string) (common.Criticality, error)

// Config configures an Aggregator.
type Config struct {
	Builder     *manifest.Builder
	Checkpoints checkpoint.Store
	Transport   queue.Transport
	Table       retention.Table
	Resolver    ResolveCriticality
	Logger      adapters.Logger

	// DisableDeletePropagation stops delete events from producing manifest
	// entries. Default off: deletions are mirrored forward.
	DisableDeletePropagation bool

	// LateArrivalTolerance injects events for already-checkpointed windows
	// into a catch-up window instead of dropping them.
	LateArrivalTolerance bool

	// MaxPoisonAttempts is the delivery attempt bound after which an
	// undecodable message is dead-lettered. Below the bound the message is
	// left unacknowledged so the transport redelivers it. Zero uses
	// queue.DefaultMaxAttempts.
	MaxPoisonAttempts int
}

// BatchResult summarizes one ProcessBatch invocation.
type BatchResult struct {
	Received      int
	Admitted      int
	DroppedLate   int
	DroppedTier   int
	Poison        int
	ManifestPaths []string
}

// Aggregator is the object change aggregator.
type Aggregator struct {
	builder     *manifest.Builder
	checkpoints checkpoint.Store
	transport   queue.Transport
	table       retention.Table
	resolver    ResolveCriticality
	logger      adapters.Logger
	leases      *windowLeases

	disableDeletes    bool
	lateTolerance     bool
	maxPoisonAttempts int

	now func() time.Time
}

// New creates an Aggregator.
func New(cfg Config) (*Aggregator, error) {
	if cfg.Builder == nil {
		return nil, fmt.Errorf("manifest builder required")
	}
	if cfg.Checkpoints == nil {
		return nil, fmt.Errorf("checkpoint store required")
	}
	if cfg.Transport == nil {
		return nil, ErrTransportRequired
	}
	if cfg.Table == nil {
		cfg.Table = retention.DefaultTable()
	}
	if err := cfg.Table.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = adapters.NewNoOpLogger()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = func(ctx context.Context, container string) (common.Criticality, error) {
			return common.DefaultCriticality, nil
		}
	}

	if cfg.MaxPoisonAttempts <= 0 {
		cfg.MaxPoisonAttempts = queue.DefaultMaxAttempts
	}

	return &Aggregator{
		builder:           cfg.Builder,
		checkpoints:       cfg.Checkpoints,
		transport:         cfg.Transport,
		table:             cfg.Table,
		resolver:          cfg.Resolver,
		logger:            cfg.Logger,
		leases:            newWindowLeases(),
		disableDeletes:    cfg.DisableDeletePropagation,
		lateTolerance:     cfg.LateArrivalTolerance,
		maxPoisonAttempts: cfg.MaxPoisonAttempts,
		now:               time.Now,
	}, nil
}

// ProcessBatch receives up to max messages, flushes the windows they touch,
// and acknowledges each message whose windows all persisted. Messages whose
// window flush failed stay unacknowledged so the transport redelivers them.
// Poison messages below the attempt bound stay unacknowledged for redelivery;
// at the bound they are dead-lettered and never block the batch.
func (a *Aggregator) ProcessBatch(ctx context.Context, max int) (*BatchResult, error) {
	messages, err := a.transport.Receive(ctx, max)
	if err != nil {
		return nil, fmt.Errorf("failed to receive batch: %w", err)
	}

	result := &BatchResult{Received: len(messages)}
	windows := make(map[windowKey]*window)
	// message index -> windows it contributed to
	contributions := make(map[int][]windowKey)

	for i, msg := range messages {
		if msg.Err != nil {
			if msg.Attempts < a.maxPoisonAttempts {
				a.logger.Warn(ctx, "undecodable message, leaving for redelivery",
					adapters.Field{Key: "message_id", Value: msg.ID},
					adapters.Field{Key: "attempts", Value: msg.Attempts},
					adapters.Field{Key: "error", Value: msg.Err.Error()})
				continue
			}
			result.Poison++
			if dlErr := a.transport.DeadLetter(ctx, msg, msg.Err.Error()); dlErr != nil {
				a.logger.Error(ctx, "failed to dead-letter poison message",
					adapters.Field{Key: "message_id", Value: msg.ID},
					adapters.Field{Key: "error", Value: dlErr.Error()})
				continue
			}
			_ = audit.FromContext(ctx).LogEvent(ctx, &audit.Event{
				EventType:    audit.EventDeadLettered,
				Action:       "dead_letter_message",
				Result:       audit.ResultSuccess,
				Key:          msg.ID,
				ErrorMessage: msg.Err.Error(),
				Metadata:     map[string]any{"attempts": msg.Attempts},
			})
			continue
		}

		for _, event := range msg.Events {
			key, err := a.admit(ctx, windows, event, result)
			if err != nil {
				return nil, err
			}
			// dropped events (late, tier, delete-disabled) contribute nothing
			// but still leave the message ack-eligible
			if key != (windowKey{}) {
				contributions[i] = append(contributions[i], key)
			}
		}
	}

	flushed := make(map[windowKey]bool, len(windows))
	for key, w := range windows {
		path, err := a.flush(ctx, key, w)
		if err != nil {
			a.logger.Error(ctx, "window flush failed, events will be redelivered",
				adapters.Field{Key: "container", Value: key.container},
				adapters.Field{Key: "window", Value: key.label},
				adapters.Field{Key: "error", Value: err.Error()})
			continue
		}
		flushed[key] = true
		result.ManifestPaths = append(result.ManifestPaths, path)
	}

	for i, msg := range messages {
		if msg.Err != nil {
			continue
		}
		ok := true
		for _, key := range contributions[i] {
			if !flushed[key] {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		if err := a.transport.Ack(ctx, msg); err != nil {
			a.logger.Error(ctx, "failed to ack message",
				adapters.Field{Key: "message_id", Value: msg.ID},
				adapters.Field{Key: "error", Value: err.Error()})
		}
	}

	return result, nil
}

// admit routes one event into its window, applying tier resolution, the
// late-arrival policy, and delete propagation. Exclusion filtering happens in
// the manifest builder on flush.
func (a *Aggregator) admit(ctx context.Context, windows map[windowKey]*window, event *common.ChangeEvent, result *BatchResult) (windowKey, error) {
	var none windowKey

	criticality, err := a.resolver(ctx, event.SourceContainer)
	if err != nil {
		return none, fmt.Errorf("failed to resolve criticality for %s: %w", event.SourceContainer, err)
	}
	if !criticality.Valid() {
		criticality = common.DefaultCriticality
	}

	freq, err := a.table.IncrementalFrequency(criticality)
	if errors.Is(err, retention.ErrIncrementalsDisabled) {
		result.DroppedTier++
		a.logger.Debug(ctx, "event dropped, tier takes full backups only",
			adapters.Field{Key: "container", Value: event.SourceContainer},
			adapters.Field{Key: "key", Value: event.ObjectKey})
		_ = audit.FromContext(ctx).LogDrop(ctx, event.SourceContainer, event.ObjectKey, "tier_full_only")
		return none, nil
	}
	if err != nil {
		return none, err
	}

	if a.disableDeletes && event.EventType == common.EventRemoved {
		return none, nil
	}

	bucket := freq.Bucket(event.EventTime)
	label := freq.WindowLabel(bucket)

	// An event for a window older than the checkpoint is late.
	cp, err := a.checkpoints.Load(ctx, event.SourceContainer, common.BackupTypeIncremental)
	if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
		return none, err
	}
	if cp != nil && label < cp.Marker {
		if !a.lateTolerance {
			result.DroppedLate++
			a.logger.Warn(ctx, "late event dropped",
				adapters.Field{Key: "container", Value: event.SourceContainer},
				adapters.Field{Key: "key", Value: event.ObjectKey},
				adapters.Field{Key: "window", Value: label})
			_ = audit.FromContext(ctx).LogDrop(ctx, event.SourceContainer, event.ObjectKey, "late_arrival")
			return none, nil
		}
		// catch-up window: re-bucket at the current time
		bucket = freq.Bucket(a.now())
		label = freq.WindowLabel(bucket)
	}

	key := windowKey{container: event.SourceContainer, label: label}
	w, exists := windows[key]
	if !exists {
		w = newWindow(criticality, freq, bucket)
		windows[key] = w
	}
	w.add(event)
	result.Admitted++
	return key, nil
}

// flush persists one window's manifest and then advances the checkpoint.
// Order is fixed: manifest first, checkpoint second, so a crash between the
// two re-produces the manifest on redelivery instead of losing it.
func (a *Aggregator) flush(ctx context.Context, key windowKey, w *window) (string, error) {
	unlock := a.leases.acquire(key)
	defer unlock()

	m := &manifest.Manifest{
		Criticality:     w.criticality,
		BackupType:      common.BackupTypeIncremental,
		Generation:      common.GenerationSon,
		SourceContainer: key.container,
		WindowID:        key.label,
	}

	// Merge with a previously flushed manifest for the same window so
	// multiple batches within one window accumulate instead of clobbering.
	existing, err := a.builder.Load(ctx, m.Path())
	if err != nil && !errors.Is(err, common.ErrKeyNotFound) {
		return "", err
	}
	m.Entries = w.merge(existing)

	path, err := a.builder.Build(ctx, m)
	if err != nil {
		return "", err
	}
	_ = audit.FromContext(ctx).LogManifest(ctx, "", key.container, path, len(m.Entries), audit.ResultSuccess, nil)

	if err := a.advanceCheckpoint(ctx, key.container, key.label); err != nil {
		return "", err
	}
	return path, nil
}

func (a *Aggregator) advanceCheckpoint(ctx context.Context, container, label string) error {
	cp, err := a.checkpoints.Load(ctx, container, common.BackupTypeIncremental)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		casErr := a.checkpoints.CompareAndSwap(ctx, container, common.BackupTypeIncremental, "", label)
		if errors.Is(casErr, checkpoint.ErrStaleMarker) {
			return nil // concurrent run created it first
		}
		if casErr == nil {
			_ = audit.FromContext(ctx).LogCheckpoint(ctx, container, string(common.BackupTypeIncremental), "", label)
		}
		return casErr
	case err != nil:
		return err
	}

	// Window labels order lexicographically; never regress the marker.
	if label <= cp.Marker {
		return nil
	}
	casErr := a.checkpoints.CompareAndSwap(ctx, container, common.BackupTypeIncremental, cp.Marker, label)
	if errors.Is(casErr, checkpoint.ErrStaleMarker) {
		return nil
	}
	if casErr == nil {
		_ = audit.FromContext(ctx).LogCheckpoint(ctx, container, string(common.BackupTypeIncremental), cp.Marker, label)
	}
	return casErr
}
