// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/gfsbak/gfsbak/pkg/adapters"
	"github.com/gfsbak/gfsbak/pkg/aggregator"
	"github.com/gfsbak/gfsbak/pkg/audit"
	"github.com/gfsbak/gfsbak/pkg/batchcopy"
	"github.com/gfsbak/gfsbak/pkg/checkpoint"
	"github.com/gfsbak/gfsbak/pkg/common"
	"github.com/gfsbak/gfsbak/pkg/differ"
	"github.com/gfsbak/gfsbak/pkg/discovery"
	"github.com/gfsbak/gfsbak/pkg/factory"
	"github.com/gfsbak/gfsbak/pkg/manifest"
	"github.com/gfsbak/gfsbak/pkg/orchestrator"
	"github.com/gfsbak/gfsbak/pkg/queue"
	"github.com/gfsbak/gfsbak/pkg/restore"
	"github.com/gfsbak/gfsbak/pkg/transition"
)

// CommandContext wires the pipeline components for one command invocation.
type CommandContext struct {
	Config      *Config
	Logger      adapters.Logger
	Central     common.Storage
	Checkpoints checkpoint.Store
	Builder     *manifest.Builder
	Registry    discovery.Registry

	sources  map[string]common.Storage
	resolver aggregator.ResolveCriticality
	copier   batchcopy.BatchCopier
	orch     *orchestrator.Orchestrator
	audit    audit.Logger
}

// NewCommandContext builds the component graph from the configuration.
func NewCommandContext(ctx context.Context, cfg *Config, logger adapters.Logger) (*CommandContext, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = adapters.NewDefaultLogger()
	}

	central, err := factory.NewStorage(cfg.CentralBackend, cfg.CentralSettings)
	if err != nil {
		return nil, fmt.Errorf("failed to create central backend: %w", err)
	}

	// The checkpoint store needs conditional writes, so it sits on the raw
	// backend. Backends without compare-and-swap fall back to process-local
	// checkpoints.
	var checkpoints checkpoint.Store
	if conditional, ok := central.(interface {
		common.Storage
		common.ConditionalPutter
	}); ok {
		checkpoints, err = checkpoint.NewObjectStore(conditional)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn(ctx, "central backend lacks conditional writes, using in-process checkpoints",
			adapters.Field{Key: "backend", Value: cfg.CentralBackend})
		checkpoints = checkpoint.NewMemoryStore()
	}

	auditLogger := audit.Logger(audit.NewNoOpLogger())
	if cfg.AuditEnabled {
		auditLogger = audit.NewLogger(audit.DefaultConfig())
		central = audit.NewAuditedStorage(central, auditLogger)
	}

	builder, err := manifest.NewBuilder(central, manifest.DefaultExclusions(), logger)
	if err != nil {
		return nil, err
	}

	sources := make(map[string]common.Storage, len(cfg.Sources))
	registrySources := make([]discovery.Source, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		backend := s.Backend
		if backend == "" {
			backend = cfg.CentralBackend
		}
		store, err := factory.NewStorage(backend, s.Settings)
		if err != nil {
			return nil, fmt.Errorf("failed to create backend for source %s: %w", s.ID, err)
		}
		sources[s.ID] = store

		// The per-source destination falls back to the account-wide copy role.
		destination := s.Destination
		if destination == "" {
			destination = cfg.CopyRole
		}
		registrySources = append(registrySources, discovery.Source{
			ID:          s.ID,
			Criticality: common.Criticality(s.Criticality),
			Destination: destination,
		})
	}

	staticRegistry, err := discovery.NewStaticRegistry(registrySources)
	if err != nil {
		return nil, err
	}

	var registry discovery.Registry = staticRegistry
	resolver := staticRegistry.Criticality
	if cfg.DiscoveryMode == DiscoveryModeTags {
		readers := make(map[string]discovery.TagReader, len(sources))
		for id, store := range sources {
			reader, ok := store.(discovery.TagReader)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrTagDiscoveryUnsupported, id)
			}
			readers[id] = reader
		}
		registry = discovery.NewTagRegistry(readers, cfg.CopyRole, logger)
	}

	c := &CommandContext{
		Config:      cfg,
		Logger:      logger,
		Central:     central,
		Checkpoints: checkpoints,
		Builder:     builder,
		Registry:    registry,
		sources:     sources,
		resolver:    resolver,
		audit:       auditLogger,
	}

	c.copier, err = c.newCopier(ctx)
	if err != nil {
		return nil, err
	}

	c.orch, err = orchestrator.New(orchestrator.Config{
		Registry: registry,
		Runners:  c.newRunner,
		Copier:   c.copier,
		Table:    cfg.Retention,
		Reports:  central,
		Logger:   logger,
		Workers:  cfg.Workers,
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}

func (c *CommandContext) newCopier(ctx context.Context) (batchcopy.BatchCopier, error) {
	if c.Config.AccountID != "" {
		return batchcopy.NewS3BatchCopier(ctx, batchcopy.S3BatchConfig{
			AccountID:     c.Config.AccountID,
			CentralBucket: c.Config.CentralBucket,
			Region:        c.Config.Region,
			Central:       c.Central,
			Logger:        c.Logger,
		})
	}
	return batchcopy.NewStorageCopier(c.Central, func(bucket string) (common.Storage, error) {
		store, exists := c.sources[bucket]
		if !exists {
			return nil, fmt.Errorf("unknown source container %q", bucket)
		}
		return store, nil
	}, orchestrator.DefaultWorkers, c.Logger)
}

func (c *CommandContext) newRunner(src discovery.Source) (orchestrator.ManifestRunner, error) {
	store, exists := c.sources[src.ID]
	if !exists {
		return nil, fmt.Errorf("no backend for source %q", src.ID)
	}

	var inventoryPrefix string
	for _, s := range c.Config.Sources {
		if s.ID == src.ID {
			inventoryPrefix = s.InventoryPrefix
			break
		}
	}

	cfg := differ.Config{
		SourceName:  src.ID,
		Source:      store,
		Builder:     c.Builder,
		Checkpoints: c.Checkpoints,
		Logger:      c.Logger,
	}
	if inventoryPrefix != "" {
		cfg.Inventory = store
		cfg.InventoryPrefix = inventoryPrefix
	}
	return differ.New(cfg)
}

// SourceBackend returns the storage backend wired for a configured source.
func (c *CommandContext) SourceBackend(id string) (common.Storage, bool) {
	store, exists := c.sources[id]
	return store, exists
}

// RunBackup executes one orchestration run for the given trigger.
func (c *CommandContext) RunBackup(ctx context.Context, in *common.TriggerInput) (*orchestrator.RunReport, error) {
	return c.orch.Run(audit.WithLogger(ctx, c.audit), in)
}

// AggregateResult summarizes an aggregation session.
type AggregateResult struct {
	Batches   int `json:"batches"`
	Received  int `json:"received"`
	Admitted  int `json:"admitted"`
	Dropped   int `json:"dropped"`
	Poison    int `json:"poison"`
	Manifests int `json:"manifests"`
}

// Aggregate consumes change notifications from the configured queue and
// flushes them into window manifests. With once set, a single batch is
// processed; otherwise batches are polled until the context is cancelled.
func (c *CommandContext) Aggregate(ctx context.Context, batchSize int, once bool) (*AggregateResult, error) {
	if c.Config.QueueURL == "" {
		return nil, ErrQueueURLRequired
	}
	transport, err := queue.NewSQSQueue(ctx, queue.SQSConfig{
		QueueURL:      c.Config.QueueURL,
		DeadLetterURL: c.Config.QueueDeadLetterURL,
		Region:        c.Config.QueueRegion,
		WaitTime:      c.Config.QueueWaitTime,
		Logger:        c.Logger,
	})
	if err != nil {
		return nil, err
	}
	return c.aggregate(ctx, transport, batchSize, once)
}

func (c *CommandContext) aggregate(ctx context.Context, transport queue.Transport, batchSize int, once bool) (*AggregateResult, error) {
	ctx = audit.WithLogger(ctx, c.audit)

	resolver := c.resolver
	if c.Config.DiscoveryMode == DiscoveryModeTags {
		// One tag sweep per session; events resolve tiers off the snapshot.
		discovered, err := c.Registry.ListSources(ctx)
		if err != nil {
			return nil, err
		}
		snapshot, err := discovery.NewStaticRegistry(discovered)
		if err != nil {
			return nil, err
		}
		resolver = snapshot.Criticality
	}

	agg, err := aggregator.New(aggregator.Config{
		Builder:                  c.Builder,
		Checkpoints:              c.Checkpoints,
		Transport:                transport,
		Table:                    c.Config.Retention,
		Resolver:                 resolver,
		Logger:                   c.Logger,
		DisableDeletePropagation: c.Config.DisableDeletePropagation,
		LateArrivalTolerance:     c.Config.LateArrivalTolerance,
	})
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = 10
	}

	result := &AggregateResult{}
	for {
		batch, err := agg.ProcessBatch(ctx, batchSize)
		if err != nil {
			return result, err
		}
		result.Batches++
		result.Received += batch.Received
		result.Admitted += batch.Admitted
		result.Dropped += batch.DroppedLate + batch.DroppedTier
		result.Poison += batch.Poison
		result.Manifests += len(batch.ManifestPaths)

		if once {
			return result, nil
		}
		if batch.Received == 0 {
			select {
			case <-ctx.Done():
				return result, nil
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return result, nil
		}
	}
}

// Watch follows filesystem changes under root for one source, feeding them
// through an in-process queue into window manifests. It blocks until the
// context is cancelled.
func (c *CommandContext) Watch(ctx context.Context, source, root string, batchSize int) (*AggregateResult, error) {
	if _, exists := c.sources[source]; !exists {
		return nil, fmt.Errorf("unknown source container %q", source)
	}

	q := queue.NewMemoryQueue(0, 0)
	watcher, err := queue.NewWatcher(queue.WatcherConfig{
		Source:   source,
		Root:     root,
		Producer: q,
		Logger:   c.Logger,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = watcher.Stop() }()

	return c.aggregate(ctx, q, batchSize, false)
}

// ShowCheckpoint loads the checkpoint for a source and backup type.
func (c *CommandContext) ShowCheckpoint(ctx context.Context, source, backupType string) (*checkpoint.Checkpoint, error) {
	if _, err := common.ParseBackupType(backupType); err != nil {
		return nil, err
	}
	return c.Checkpoints.Load(ctx, source, common.BackupType(backupType))
}

// DescribeJob polls a submitted copy job.
func (c *CommandContext) DescribeJob(ctx context.Context, jobID string) (*batchcopy.JobReport, error) {
	return c.copier.Describe(ctx, jobID)
}

// Transition archives aged backup data for one tier into the archive classes
// the retention table names, via archivers built from the archive
// configuration.
func (c *CommandContext) Transition(ctx context.Context, criticality string) (*transition.Report, error) {
	tier, err := common.ParseCriticality(criticality)
	if err != nil {
		return nil, err
	}
	rule, err := c.Config.Retention.Rule(tier)
	if err != nil {
		return nil, err
	}

	archivers := make(map[string]common.Archiver)
	for _, class := range []string{rule.FatherArchiveClass, rule.GrandfatherArchiveClass} {
		if class == "" {
			continue
		}
		if _, built := archivers[class]; built {
			continue
		}
		settings, ok := c.Config.ArchiveClasses[class]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrArchiveClassNotConfigured, class)
		}
		archiver, err := factory.NewArchiver(c.Config.ArchiveBackend, settings)
		if err != nil {
			return nil, fmt.Errorf("failed to create archiver for class %s: %w", class, err)
		}
		archivers[class] = archiver
	}

	tr, err := transition.New(transition.Config{
		Central:   c.Central,
		Table:     c.Config.Retention,
		Archivers: archivers,
		Logger:    c.Logger,
	})
	if err != nil {
		return nil, err
	}
	return tr.Run(audit.WithLogger(ctx, c.audit), tier)
}

// Restore copies one source's backup data from the central store back into
// the source backend.
func (c *CommandContext) Restore(ctx context.Context, in *common.TriggerInput, source, keyPrefix string) (*restore.Report, error) {
	r, err := restore.New(restore.Config{
		Central: c.Central,
		Targets: func(id string) (common.Storage, error) {
			store, exists := c.sources[id]
			if !exists {
				return nil, fmt.Errorf("unknown source container %q", id)
			}
			return store, nil
		},
		Logger:   c.Logger,
		Parallel: orchestrator.DefaultWorkers,
	})
	if err != nil {
		return nil, err
	}
	return r.Run(audit.WithLogger(ctx, c.audit), restore.Request{
		Source:      source,
		Criticality: in.Criticality,
		BackupType:  in.BackupType,
		Generation:  in.Generation,
		KeyPrefix:   keyPrefix,
	})
}
