// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package manifest

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gfsbak/gfsbak/pkg/adapters"
	"github.com/gfsbak/gfsbak/pkg/common"
)

// Builder canonicalizes aggregator and differ output and persists it to the
// manifest store. It has no side effects beyond the durable write; submitting
// the copy job belongs to the orchestrator.
type Builder struct {
	store      common.Storage
	exclusions Exclusions
	logger     adapters.Logger
}

// NewBuilder creates a Builder writing to the given store.
func NewBuilder(store common.Storage, exclusions Exclusions, logger adapters.Logger) (*Builder, error) {
	if store == nil {
		return nil, common.ErrStorageRequired
	}
	if logger == nil {
		logger = adapters.NewNoOpLogger()
	}
	return &Builder{store: store, exclusions: exclusions, logger: logger}, nil
}

// Build filters the entries through the exclusion rules, stamps the manifest,
// and persists it at its deterministic path. Returns the storage path.
// An empty entry list is a valid manifest and is still persisted.
func (b *Builder) Build(ctx context.Context, m *Manifest) (string, error) {
	if err := m.Validate(); err != nil {
		return "", fmt.Errorf("invalid manifest: %w", err)
	}

	filtered := make([]Entry, 0, len(m.Entries))
	for _, e := range m.Entries {
		if b.exclusions.Excluded(e.Key) {
			continue
		}
		filtered = append(filtered, e)
	}
	m.Entries = filtered
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	body, err := m.EncodeBytes()
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}

	path := m.Path()
	meta := &common.Metadata{
		ContentType: "text/csv",
		Custom: map[string]string{
			"created_at": m.CreatedAt.Format(time.RFC3339),
			"entries":    strconv.Itoa(len(m.Entries)),
			"partial":    strconv.FormatBool(m.Partial),
			"source":     m.SourceContainer,
		},
	}
	if err := b.store.PutWithMetadata(ctx, path, bytes.NewReader(body), meta); err != nil {
		return "", fmt.Errorf("failed to persist manifest: %w", err)
	}

	b.logger.Info(ctx, "manifest persisted",
		adapters.Field{Key: "path", Value: path},
		adapters.Field{Key: "entries", Value: len(m.Entries)},
		adapters.Field{Key: "partial", Value: m.Partial},
	)
	return path, nil
}

// Load reads a persisted manifest body back from the store.
func (b *Builder) Load(ctx context.Context, path string) ([]Entry, error) {
	rc, err := b.store.GetWithContext(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return DecodeEntries(rc)
}
