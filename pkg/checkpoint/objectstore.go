// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package checkpoint

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gfsbak/gfsbak/pkg/common"
)

// conditionalStorage is the backend contract: ordinary reads plus
// etag-conditional writes.
type conditionalStorage interface {
	common.Storage
	common.ConditionalPutter
}

// ObjectStore persists checkpoints as small text objects at
// checkpoints/<source>/<backup_type>.txt, using etag-conditional writes to
// reject stale updates. The first line is the marker, the second the update
// timestamp in RFC 3339.
type ObjectStore struct {
	store conditionalStorage
}

// NewObjectStore creates a checkpoint store over a conditional-write backend.
func NewObjectStore(store conditionalStorage) (*ObjectStore, error) {
	if store == nil {
		return nil, common.ErrStorageRequired
	}
	return &ObjectStore{store: store}, nil
}

// Load reads the latest checkpoint object. No caching: correctness of
// compare-and-swap depends on seeing the newest value.
func (s *ObjectStore) Load(ctx context.Context, source string, backupType common.BackupType) (*Checkpoint, error) {
	cp, _, err := s.load(ctx, source, backupType)
	return cp, err
}

func (s *ObjectStore) load(ctx context.Context, source string, backupType common.BackupType) (*Checkpoint, string, error) {
	path := PathFor(source, backupType)

	rc, err := s.store.GetWithContext(ctx, path)
	if err != nil {
		if errors.Is(err, common.ErrKeyNotFound) {
			return nil, "", fmt.Errorf("%w: %s/%s", ErrNotFound, source, backupType)
		}
		return nil, "", err
	}
	defer func() { _ = rc.Close() }()

	cp := &Checkpoint{SourceContainer: source, BackupType: backupType}
	scanner := bufio.NewScanner(rc)
	if scanner.Scan() {
		cp.Marker = strings.TrimSpace(scanner.Text())
	}
	if scanner.Scan() {
		if ts, parseErr := time.Parse(time.RFC3339, strings.TrimSpace(scanner.Text())); parseErr == nil {
			cp.UpdatedAt = ts
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, "", fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}

	meta, err := s.store.GetMetadata(ctx, path)
	if err != nil {
		return nil, "", err
	}
	return cp, meta.ETag, nil
}

// CompareAndSwap writes the new marker conditioned on the backend etag
// observed while verifying expectedOld. A concurrent writer changes the etag
// and the conditional write is rejected.
func (s *ObjectStore) CompareAndSwap(ctx context.Context, source string, backupType common.BackupType, expectedOld, newMarker string) error {
	var etag string

	current, currentETag, err := s.load(ctx, source, backupType)
	switch {
	case errors.Is(err, ErrNotFound):
		if expectedOld != "" {
			return fmt.Errorf("%w: checkpoint for %s/%s does not exist", ErrStaleMarker, source, backupType)
		}
	case err != nil:
		return err
	default:
		if expectedOld == "" {
			return fmt.Errorf("%w: checkpoint for %s/%s already exists", ErrStaleMarker, source, backupType)
		}
		if current.Marker != expectedOld {
			return fmt.Errorf("%w: expected %q, found %q", ErrStaleMarker, expectedOld, current.Marker)
		}
		etag = currentETag
	}

	body := newMarker + "\n" + time.Now().UTC().Format(time.RFC3339) + "\n"
	if _, err := s.store.PutIfMatch(ctx, PathFor(source, backupType), strings.NewReader(body), etag); err != nil {
		if errors.Is(err, common.ErrPreconditionFailed) {
			return fmt.Errorf("%w: lost conditional write for %s/%s", ErrStaleMarker, source, backupType)
		}
		return err
	}
	return nil
}
