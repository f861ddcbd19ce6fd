// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package memory provides an in-memory implementation of the storage
// interface. It is the universal test double for the pipeline and also
// supports conditional writes for checkpoint compare-and-swap tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gfsbak/gfsbak/pkg/common"
)

// object represents a stored object with its data and metadata.
type object struct {
	data     []byte
	metadata *common.Metadata
}

// Memory is a storage backend that stores objects in memory.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]*object
	tags    map[string]string
	etagSeq int64
}

// New creates a new Memory storage backend.
func New() *Memory {
	return &Memory{objects: make(map[string]*object)}
}

// Configure sets up the backend. The memory backend has no required settings.
// Settings prefixed "tag." become bucket tags, mirroring the tag sets the S3
// backend reads for tag-based source discovery.
func (m *Memory) Configure(settings map[string]string) error {
	for k, v := range settings {
		if name, ok := strings.CutPrefix(k, "tag."); ok {
			m.mu.Lock()
			if m.tags == nil {
				m.tags = make(map[string]string)
			}
			m.tags[name] = v
			m.mu.Unlock()
		}
	}
	return nil
}

// SetBucketTags replaces the backend's bucket tag set.
func (m *Memory) SetBucketTags(tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags = make(map[string]string, len(tags))
	for k, v := range tags {
		m.tags[k] = v
	}
}

// BucketTags returns the bucket's tag set.
func (m *Memory) BucketTags(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	tags := make(map[string]string, len(m.tags))
	for k, v := range m.tags {
		tags[k] = v
	}
	return tags, nil
}

// Put stores an object in the backend.
func (m *Memory) Put(key string, data io.Reader) error {
	return m.PutWithContext(context.Background(), key, data)
}

// PutWithContext stores an object in the backend with context support.
func (m *Memory) PutWithContext(ctx context.Context, key string, data io.Reader) error {
	return m.PutWithMetadata(ctx, key, data, nil)
}

// PutWithMetadata stores an object with associated metadata.
func (m *Memory) PutWithMetadata(ctx context.Context, key string, data io.Reader, metadata *common.Metadata) error {
	if err := common.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := io.ReadAll(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.store(key, dataBytes, metadata)
	m.mu.Unlock()
	return nil
}

// store writes an object under the lock and stamps size/time/etag.
func (m *Memory) store(key string, data []byte, metadata *common.Metadata) *common.Metadata {
	if metadata == nil {
		metadata = &common.Metadata{}
	}
	m.etagSeq++
	metadata.Size = int64(len(data))
	metadata.LastModified = time.Now()
	metadata.ETag = fmt.Sprintf("%d-%d", m.etagSeq, metadata.Size)
	m.objects[key] = &object{data: data, metadata: metadata}
	return metadata
}

// PutIfMatch writes the object only if its current ETag equals etag.
// An empty etag means the object must not exist yet.
func (m *Memory) PutIfMatch(ctx context.Context, key string, data io.Reader, etag string) (*common.Metadata, error) {
	if err := common.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dataBytes, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.objects[key]
	switch {
	case etag == "" && exists:
		return nil, fmt.Errorf("%w: %s already exists", common.ErrPreconditionFailed, key)
	case etag != "" && !exists:
		return nil, fmt.Errorf("%w: %s does not exist", common.ErrPreconditionFailed, key)
	case etag != "" && existing.metadata.ETag != etag:
		return nil, fmt.Errorf("%w: etag mismatch for %s", common.ErrPreconditionFailed, key)
	}

	meta := m.store(key, dataBytes, nil)
	metaCopy := *meta
	return &metaCopy, nil
}

// Get retrieves an object from the backend.
func (m *Memory) Get(key string) (io.ReadCloser, error) {
	return m.GetWithContext(context.Background(), key)
}

// GetWithContext retrieves an object from the backend with context support.
func (m *Memory) GetWithContext(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := common.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	obj, exists := m.objects[key]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", common.ErrKeyNotFound, key)
	}

	// Copy so callers cannot mutate stored data
	dataCopy := make([]byte, len(obj.data))
	copy(dataCopy, obj.data)
	return io.NopCloser(bytes.NewReader(dataCopy)), nil
}

// GetMetadata retrieves only the metadata for an object.
func (m *Memory) GetMetadata(ctx context.Context, key string) (*common.Metadata, error) {
	if err := common.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	obj, exists := m.objects[key]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", common.ErrMetadataNotFound, key)
	}

	metadataCopy := *obj.metadata
	if obj.metadata.Custom != nil {
		metadataCopy.Custom = make(map[string]string, len(obj.metadata.Custom))
		for k, v := range obj.metadata.Custom {
			metadataCopy.Custom[k] = v
		}
	}
	return &metadataCopy, nil
}

// Delete removes an object from the backend.
func (m *Memory) Delete(key string) error {
	return m.DeleteWithContext(context.Background(), key)
}

// DeleteWithContext removes an object from the backend with context support.
func (m *Memory) DeleteWithContext(ctx context.Context, key string) error {
	if err := common.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.objects[key]; !exists {
		return fmt.Errorf("%w: %s", common.ErrKeyNotFound, key)
	}
	delete(m.objects, key)
	return nil
}

// Exists checks if an object exists in the backend.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := common.ValidateKey(key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.RLock()
	_, exists := m.objects[key]
	m.mu.RUnlock()
	return exists, nil
}

// List returns a list of keys that start with the given prefix.
func (m *Memory) List(prefix string) ([]string, error) {
	return m.ListWithContext(context.Background(), prefix)
}

// ListWithContext returns a list of keys with context support.
func (m *Memory) ListWithContext(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// ListWithOptions returns a paginated list of objects with full metadata.
func (m *Memory) ListWithOptions(ctx context.Context, opts *common.ListOptions) (*common.ListResult, error) {
	if opts == nil {
		opts = &common.ListOptions{}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matchingKeys []string
	for key := range m.objects {
		if strings.HasPrefix(key, opts.Prefix) {
			matchingKeys = append(matchingKeys, key)
		}
	}
	sort.Strings(matchingKeys)

	startIdx := 0
	if opts.ContinueFrom != "" {
		for i, key := range matchingKeys {
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
	if endIdx > len(matchingKeys) {
		endIdx = len(matchingKeys)
	}

	result := &common.ListResult{Objects: make([]*common.ObjectInfo, 0, endIdx-startIdx)}
	for _, key := range matchingKeys[startIdx:endIdx] {
		obj := m.objects[key]
		metadataCopy := *obj.metadata
		result.Objects = append(result.Objects, &common.ObjectInfo{
			Key:      key,
			Metadata: &metadataCopy,
		})
	}

	if endIdx < len(matchingKeys) {
		result.Truncated = true
		result.NextToken = matchingKeys[endIdx-1]
	}

	return result, nil
}

// Archive copies an object to another backend for archival.
func (m *Memory) Archive(key string, destination common.Archiver) error {
	if destination == nil {
		return common.ErrArchiveDestinationNil
	}

	reader, err := m.Get(key)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	return destination.Put(key, reader)
}

// Clear removes all objects from the storage. This is useful for testing.
func (m *Memory) Clear() {
	m.mu.Lock()
	m.objects = make(map[string]*object)
	m.mu.Unlock()
}

// Count returns the number of objects in storage. This is useful for testing.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
