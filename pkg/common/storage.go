// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package common

import (
	"context"
	"io"
)

// Storage is the common interface for all storage backends. Both source
// containers and the central backup store are accessed through it.
type Storage interface {
	// Configure sets up the backend with the necessary credentials and settings.
	Configure(settings map[string]string) error

	// Put stores an object in the backend.
	Put(key string, data io.Reader) error

	// PutWithContext stores an object in the backend with context support.
	PutWithContext(ctx context.Context, key string, data io.Reader) error

	// PutWithMetadata stores an object with associated metadata.
	PutWithMetadata(ctx context.Context, key string, data io.Reader, metadata *Metadata) error

	// Get retrieves an object from the backend.
	Get(key string) (io.ReadCloser, error)

	// GetWithContext retrieves an object from the backend with context support.
	GetWithContext(ctx context.Context, key string) (io.ReadCloser, error)

	// GetMetadata retrieves only the metadata for an object.
	GetMetadata(ctx context.Context, key string) (*Metadata, error)

	// Delete removes an object from the backend.
	Delete(key string) error

	// DeleteWithContext removes an object from the backend with context support.
	DeleteWithContext(ctx context.Context, key string) error

	// Exists checks if an object exists in the backend.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns a list of keys that start with the given prefix.
	List(prefix string) ([]string, error)

	// ListWithContext returns a list of keys with context support.
	ListWithContext(ctx context.Context, prefix string) ([]string, error)

	// ListWithOptions returns a paginated list of objects with full metadata.
	ListWithOptions(ctx context.Context, opts *ListOptions) (*ListResult, error)

	// Archive copies an object to another backend for archival.
	Archive(key string, destination Archiver) error
}

// Archiver is the write-only interface archive destinations implement.
type Archiver interface {
	// Put stores an object in the archive.
	Put(key string, data io.Reader) error
}

// ArchiveOnlyStorage is a backend that can only receive archives (e.g.
// Glacier-class cold storage). It cannot serve reads or listings.
type ArchiveOnlyStorage interface {
	Archiver

	// Configure sets up the backend with the necessary credentials and settings.
	Configure(settings map[string]string) error
}

// ConditionalPutter is implemented by backends that support compare-and-swap
// writes keyed on the object's previous ETag. The checkpoint store requires
// it to reject stale markers.
type ConditionalPutter interface {
	// PutIfMatch writes the object only if its current ETag equals etag.
	// An empty etag means "only if the object does not exist yet".
	// Returns ErrPreconditionFailed when the condition does not hold.
	PutIfMatch(ctx context.Context, key string, data io.Reader, etag string) (*Metadata, error)
}
