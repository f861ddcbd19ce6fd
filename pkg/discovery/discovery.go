// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package discovery enumerates the registered source containers and their
// criticality tiers. Sources come either from static configuration or from
// bucket tags on the provider side.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gfsbak/gfsbak/pkg/adapters"
	"github.com/gfsbak/gfsbak/pkg/common"
)

const (
	// TagBackupEnabled opts a bucket into the backup pipeline.
	TagBackupEnabled = "BackupEnabled"

	// TagBackupCriticality carries the bucket's tier. Absent or unknown
	// values fall back to common.DefaultCriticality, never to a drop.
	TagBackupCriticality = "BackupCriticality"
)

// ErrDuplicateSource is returned when registering the same source id twice.
var ErrDuplicateSource = errors.New("duplicate source id")

// Source is one registered backup source.
type Source struct {
	ID          string
	Criticality common.Criticality

	// Destination is the copy-role or destination hint handed to the batch
	// copy service for this source.
	Destination string
}

// Registry lists the registered sources.
type Registry interface {
	ListSources(ctx context.Context) ([]Source, error)
}

// StaticRegistry serves a fixed source list from configuration.
type StaticRegistry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewStaticRegistry builds a registry from configured sources. Sources with
// no criticality get the default tier.
func NewStaticRegistry(sources []Source) (*StaticRegistry, error) {
	r := &StaticRegistry{sources: make(map[string]Source, len(sources))}
	for _, s := range sources {
		if err := r.Add(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers one source.
func (r *StaticRegistry) Add(s Source) error {
	if s.ID == "" {
		return &common.ValidationError{Field: "id", Message: "cannot be empty"}
	}
	if s.Criticality == "" {
		s.Criticality = common.DefaultCriticality
	}
	if _, err := common.ParseCriticality(string(s.Criticality)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[s.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, s.ID)
	}
	r.sources[s.ID] = s
	return nil
}

// ListSources returns the registered sources in stable id order.
func (r *StaticRegistry) ListSources(ctx context.Context) ([]Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Criticality resolves one source's tier, defaulting rather than failing for
// unknown sources.
func (r *StaticRegistry) Criticality(ctx context.Context, id string) (common.Criticality, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, exists := r.sources[id]; exists {
		return s.Criticality, nil
	}
	return common.DefaultCriticality, nil
}

// TagReader exposes a bucket's tag set. The S3 backend implements this.
type TagReader interface {
	BucketTags(ctx context.Context) (map[string]string, error)
}

// TagRegistry discovers sources by inspecting bucket tags. Buckets tagged
// BackupEnabled=true participate; their tier comes from BackupCriticality.
type TagRegistry struct {
	readers     map[string]TagReader
	destination string
	logger      adapters.Logger
}

// NewTagRegistry builds a registry over named tag readers. destination is
// the copy destination hint applied to every discovered source.
func NewTagRegistry(readers map[string]TagReader, destination string, logger adapters.Logger) *TagRegistry {
	if logger == nil {
		logger = adapters.NewNoOpLogger()
	}
	return &TagRegistry{readers: readers, destination: destination, logger: logger}
}

// ListSources inspects every bucket's tags and returns the opted-in ones in
// stable id order.
func (r *TagRegistry) ListSources(ctx context.Context) ([]Source, error) {
	ids := make([]string, 0, len(r.readers))
	for id := range r.readers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Source
	for _, id := range ids {
		tags, err := r.readers[id].BucketTags(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read tags for %s: %w", id, err)
		}
		if tags[TagBackupEnabled] != "true" {
			continue
		}

		criticality, err := common.ParseCriticality(tags[TagBackupCriticality])
		if err != nil {
			r.logger.Warn(ctx, "unknown criticality tag, using default",
				adapters.Field{Key: "source", Value: id},
				adapters.Field{Key: "tag", Value: tags[TagBackupCriticality]})
			criticality = common.DefaultCriticality
		}

		out = append(out, Source{ID: id, Criticality: criticality, Destination: r.destination})
	}
	return out, nil
}
