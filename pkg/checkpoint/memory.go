// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gfsbak/gfsbak/pkg/common"
)

// MemoryStore is an in-process checkpoint store for tests and development.
type MemoryStore struct {
	mu      sync.Mutex
	markers map[string]*Checkpoint
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{markers: make(map[string]*Checkpoint)}
}

// Load returns the current checkpoint for a pair.
func (s *MemoryStore) Load(ctx context.Context, source string, backupType common.BackupType) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp, exists := s.markers[PathFor(source, backupType)]
	if !exists {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, source, backupType)
	}
	cpCopy := *cp
	return &cpCopy, nil
}

// CompareAndSwap advances the marker if the stored value still matches.
func (s *MemoryStore) CompareAndSwap(ctx context.Context, source string, backupType common.BackupType, expectedOld, newMarker string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := PathFor(source, backupType)
	current, exists := s.markers[key]

	switch {
	case expectedOld == "" && exists:
		return fmt.Errorf("%w: checkpoint for %s/%s already exists", ErrStaleMarker, source, backupType)
	case expectedOld != "" && !exists:
		return fmt.Errorf("%w: checkpoint for %s/%s does not exist", ErrStaleMarker, source, backupType)
	case expectedOld != "" && current.Marker != expectedOld:
		return fmt.Errorf("%w: expected %q, found %q", ErrStaleMarker, expectedOld, current.Marker)
	}

	s.markers[key] = &Checkpoint{
		SourceContainer: source,
		BackupType:      backupType,
		Marker:          newMarker,
		UpdatedAt:       time.Now().UTC(),
	}
	return nil
}
