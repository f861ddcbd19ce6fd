// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package cli

import "errors"

var (
	// Configuration errors

	// ErrCentralBackendRequired is returned when no central backend is configured.
	ErrCentralBackendRequired = errors.New("central.backend is required")

	// ErrNoSourcesConfigured is returned when the source list is empty.
	ErrNoSourcesConfigured = errors.New("at least one source must be configured")

	// ErrQueueURLRequired is returned when the aggregate command runs without
	// a configured queue.
	ErrQueueURLRequired = errors.New("queue.url is required for aggregation")

	// ErrUnsupportedOutputFormat is returned when an unsupported output format is specified.
	ErrUnsupportedOutputFormat = errors.New("unsupported output format")

	// ErrUnsupportedDiscoveryMode is returned when discovery.mode is neither
	// static nor tags.
	ErrUnsupportedDiscoveryMode = errors.New("unsupported discovery mode")

	// ErrArchiveClassNotConfigured is returned when the retention table names
	// an archive class with no archive.classes settings for it.
	ErrArchiveClassNotConfigured = errors.New("archive class not configured")

	// ErrTagDiscoveryUnsupported is returned when a source backend cannot
	// expose bucket tags in tags discovery mode.
	ErrTagDiscoveryUnsupported = errors.New("source backend does not expose bucket tags")
)
