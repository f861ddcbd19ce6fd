// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package factory

import "errors"

var (
	// ErrArchiveOnlyBackend is returned when attempting to use an archive-only backend as a primary storage.
	ErrArchiveOnlyBackend = errors.New("archive-only backend")

	// ErrUnknownBackend is returned when an unknown backend type is specified.
	ErrUnknownBackend = errors.New("unknown backend type")

	// ErrUnknownArchiver is returned when an unknown archiver type is specified.
	ErrUnknownArchiver = errors.New("unknown archiver type")
)
