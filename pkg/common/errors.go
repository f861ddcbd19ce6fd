// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package common

import "errors"

var (
	// Configuration errors

	// ErrNotConfigured is returned when a storage backend is not properly configured.
	ErrNotConfigured = errors.New("not configured")

	// ErrPathNotSet is returned when the required path is not set.
	ErrPathNotSet = errors.New("path not set")

	// ErrBucketNotSet is returned when the required bucket is not set.
	ErrBucketNotSet = errors.New("bucket not set")

	// ErrVaultNotSet is returned when the required vault name is not set.
	ErrVaultNotSet = errors.New("vaultName not set")

	// ErrRegionNotSet is returned when the required region is not set.
	ErrRegionNotSet = errors.New("region not set")

	// Domain errors

	// ErrUnknownCriticality is returned for a criticality outside the three tiers.
	ErrUnknownCriticality = errors.New("unknown criticality")

	// ErrUnknownBackupType is returned for a backup type other than incremental or full.
	ErrUnknownBackupType = errors.New("unknown backup type")

	// ErrUnknownGeneration is returned for a generation outside son/father/grandfather.
	ErrUnknownGeneration = errors.New("unknown generation")

	// Storage operation errors

	// ErrStorageRequired is returned when a storage backend is required but not provided.
	ErrStorageRequired = errors.New("storage backend is required")

	// ErrArchiveDestinationNil is returned when the archive destination is nil.
	ErrArchiveDestinationNil = errors.New("archive destination cannot be nil")

	// ErrKeyNotFound is returned when a key is not found in storage.
	ErrKeyNotFound = errors.New("key not found")

	// ErrMetadataNotFound is returned when metadata is not found for a key.
	ErrMetadataNotFound = errors.New("metadata not found")

	// ErrPreconditionFailed is returned by conditional writes when the
	// expected ETag no longer matches the stored object.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrConditionalPutUnsupported is returned when a backend does not
	// implement compare-and-swap writes.
	ErrConditionalPutUnsupported = errors.New("backend does not support conditional writes")
)
