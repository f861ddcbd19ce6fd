// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package local provides a filesystem implementation of the storage
// interface. Useful for development and for sources backed by a local mount.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gfsbak/gfsbak/pkg/common"
)

const metadataSuffix = ".metadata.json"

// Local is a storage backend that stores objects on the local filesystem.
// Each object is a file under the configured root; metadata lives in a
// sidecar JSON file next to it.
type Local struct {
	path string
}

// New creates a new Local storage backend.
func New() *Local {
	return &Local{}
}

// Configure sets up the backend. Required settings:
//   - path: root directory for object storage
func (l *Local) Configure(settings map[string]string) error {
	l.path = settings["path"]
	if l.path == "" {
		return common.ErrPathNotSet
	}
	return os.MkdirAll(l.path, 0750)
}

func (l *Local) objectPath(key string) string {
	return filepath.Join(l.path, filepath.FromSlash(key))
}

// Put stores an object in the backend.
func (l *Local) Put(key string, data io.Reader) error {
	return l.PutWithContext(context.Background(), key, data)
}

// PutWithContext stores an object in the backend with context support.
func (l *Local) PutWithContext(ctx context.Context, key string, data io.Reader) error {
	return l.PutWithMetadata(ctx, key, data, nil)
}

// PutWithMetadata stores an object with associated metadata.
// The write is atomic: data goes to a temp file first, then renamed.
func (l *Local) PutWithMetadata(ctx context.Context, key string, data io.Reader, metadata *common.Metadata) error {
	if l.path == "" {
		return common.ErrNotConfigured
	}
	if err := common.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := l.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	size, err := io.Copy(tmp, data)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write object data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to finalize object: %w", err)
	}

	if metadata == nil {
		metadata = &common.Metadata{}
	}
	metadata.Size = size
	metadata.LastModified = time.Now()
	metadata.ETag = fmt.Sprintf("%d-%d", metadata.LastModified.UnixNano(), size)

	return l.saveMetadata(key, metadata)
}

func (l *Local) saveMetadata(key string, metadata *common.Metadata) error {
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return os.WriteFile(l.objectPath(key)+metadataSuffix, data, 0600)
}

// Get retrieves an object from the backend.
func (l *Local) Get(key string) (io.ReadCloser, error) {
	return l.GetWithContext(context.Background(), key)
}

// GetWithContext retrieves an object from the backend with context support.
func (l *Local) GetWithContext(ctx context.Context, key string) (io.ReadCloser, error) {
	if l.path == "" {
		return nil, common.ErrNotConfigured
	}
	if err := common.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(l.objectPath(key)) // #nosec G304 -- key validated above
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", common.ErrKeyNotFound, key)
		}
		return nil, err
	}
	return file, nil
}

// GetMetadata retrieves only the metadata for an object.
func (l *Local) GetMetadata(ctx context.Context, key string) (*common.Metadata, error) {
	if l.path == "" {
		return nil, common.ErrNotConfigured
	}
	if err := common.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := l.objectPath(key)
	data, err := os.ReadFile(path + metadataSuffix) // #nosec G304 -- key validated above
	if err == nil {
		var metadata common.Metadata
		if err := json.Unmarshal(data, &metadata); err == nil {
			return &metadata, nil
		}
	}

	// Sidecar missing or unreadable: synthesize from file stat
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", common.ErrMetadataNotFound, key)
		}
		return nil, err
	}
	return &common.Metadata{
		Size:         info.Size(),
		LastModified: info.ModTime(),
		ETag:         fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size()),
	}, nil
}

// Delete removes an object from the backend.
func (l *Local) Delete(key string) error {
	return l.DeleteWithContext(context.Background(), key)
}

// DeleteWithContext removes an object from the backend with context support.
func (l *Local) DeleteWithContext(ctx context.Context, key string) error {
	if l.path == "" {
		return common.ErrNotConfigured
	}
	if err := common.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := l.objectPath(key)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", common.ErrKeyNotFound, key)
		}
		return err
	}
	_ = os.Remove(path + metadataSuffix) // sidecar may not exist
	return nil
}

// Exists checks if an object exists in the backend.
func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	if l.path == "" {
		return false, common.ErrNotConfigured
	}
	if err := common.ValidateKey(key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(l.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns a list of keys that start with the given prefix.
func (l *Local) List(prefix string) ([]string, error) {
	return l.ListWithContext(context.Background(), prefix)
}

// ListWithContext returns a list of keys with context support.
func (l *Local) ListWithContext(ctx context.Context, prefix string) ([]string, error) {
	keys, err := l.walkKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *Local) walkKeys(ctx context.Context, prefix string) ([]string, error) {
	if l.path == "" {
		return nil, common.ErrNotConfigured
	}

	var keys []string
	err := filepath.WalkDir(l.path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasSuffix(path, metadataSuffix) {
			return nil
		}
		if strings.HasPrefix(filepath.Base(path), ".put-") {
			return nil // in-flight temp file
		}

		rel, relErr := filepath.Rel(l.path, path)
		if relErr != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// ListWithOptions returns a paginated list of objects with full metadata.
func (l *Local) ListWithOptions(ctx context.Context, opts *common.ListOptions) (*common.ListResult, error) {
	if opts == nil {
		opts = &common.ListOptions{}
	}

	keys, err := l.walkKeys(ctx, opts.Prefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	startIdx := 0
	if opts.ContinueFrom != "" {
		for i, key := range keys {
			if key == opts.ContinueFrom {
				startIdx = i + 1
				break
			}
		}
	}

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 1000
	}
	endIdx := startIdx + maxResults
	if endIdx > len(keys) {
		endIdx = len(keys)
	}

	result := &common.ListResult{Objects: make([]*common.ObjectInfo, 0, endIdx-startIdx)}
	for _, key := range keys[startIdx:endIdx] {
		metadata, metaErr := l.GetMetadata(ctx, key)
		if metaErr != nil {
			continue // deleted between walk and stat
		}
		result.Objects = append(result.Objects, &common.ObjectInfo{Key: key, Metadata: metadata})
	}

	if endIdx < len(keys) {
		result.Truncated = true
		result.NextToken = keys[endIdx-1]
	}
	return result, nil
}

// Archive copies an object to another backend for archival.
func (l *Local) Archive(key string, destination common.Archiver) error {
	if destination == nil {
		return common.ErrArchiveDestinationNil
	}

	reader, err := l.Get(key)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	return destination.Put(key, reader)
}
