// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package checkpoint tracks the last successfully processed marker per
// (source, backup type) pair. All mutation goes through compare-and-swap;
// blind overwrites are not offered.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gfsbak/gfsbak/pkg/common"
)

var (
	// ErrNotFound is returned when no checkpoint exists yet for a pair.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStaleMarker is returned when a compare-and-swap loses to a
	// concurrent writer. The caller must re-read and decide whether its
	// update is still meaningful.
	ErrStaleMarker = errors.New("stale checkpoint marker")
)

// Checkpoint is the durable marker of the last successfully processed point
// for a (source, backup_type) pair.
type Checkpoint struct {
	SourceContainer string
	BackupType      common.BackupType
	Marker          string
	UpdatedAt       time.Time
}

// Store is the abstract checkpoint store. Load always reads the latest
// durable value; implementations must not cache across invocations.
type Store interface {
	// Load returns the current checkpoint, or ErrNotFound.
	Load(ctx context.Context, source string, backupType common.BackupType) (*Checkpoint, error)

	// CompareAndSwap advances the marker only if the stored marker still
	// equals expectedOld. An empty expectedOld asserts that no checkpoint
	// exists yet. Returns ErrStaleMarker on any mismatch.
	CompareAndSwap(ctx context.Context, source string, backupType common.BackupType, expectedOld, newMarker string) error
}

// PathFor returns the storage key for a pair's checkpoint object.
func PathFor(source string, backupType common.BackupType) string {
	return fmt.Sprintf("checkpoints/%s/%s.txt", source, backupType)
}
