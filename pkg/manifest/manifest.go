// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package manifest defines the backup manifest model, its canonical CSV
// encoding, and the deterministic storage paths manifests are written to.
package manifest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gfsbak/gfsbak/pkg/common"
)

var (
	// ErrNoWindowID is returned when building a manifest without a window identifier.
	ErrNoWindowID = errors.New("manifest window id not set")

	// ErrNoSourceContainer is returned when building a manifest without a source container.
	ErrNoSourceContainer = errors.New("manifest source container not set")

	// ErrMalformedRow is returned when decoding a manifest row with the wrong column count.
	ErrMalformedRow = errors.New("malformed manifest row")
)

// Entry is one object a bulk-copy job must copy.
type Entry struct {
	Bucket  string
	Key     string
	Version string
}

// Manifest is an immutable list of entries for one (source, window) pair.
// Its storage path is fully determined by its classification fields, so
// regenerating the same window overwrites rather than duplicates.
type Manifest struct {
	Criticality     common.Criticality
	BackupType      common.BackupType
	Generation      common.Generation
	SourceContainer string
	WindowID        string
	Entries         []Entry
	CreatedAt       time.Time

	// Partial marks a truncated fallback listing. A partial full backup
	// never satisfies a first-full-backup precondition.
	Partial bool
}

// Validate checks the classification fields and identifiers.
func (m *Manifest) Validate() error {
	if _, err := common.ParseCriticality(string(m.Criticality)); err != nil {
		return err
	}
	if _, err := common.ParseBackupType(string(m.BackupType)); err != nil {
		return err
	}
	if _, err := common.ParseGeneration(string(m.Generation)); err != nil {
		return err
	}
	if m.SourceContainer == "" {
		return ErrNoSourceContainer
	}
	if m.WindowID == "" {
		return ErrNoWindowID
	}
	return nil
}

// Path returns the deterministic storage key for this manifest. The id
// component derives from the window label, so one window maps to one path.
func (m *Manifest) Path() string {
	return fmt.Sprintf("manifests/criticality=%s/backup_type=%s/generation=%s/bucket=%s/window=%s/manifest.%s.csv",
		m.Criticality, m.BackupType, m.Generation, m.SourceContainer, m.WindowID, m.WindowID)
}

// DataPrefix returns the destination prefix under the central store where the
// objects named by this manifest are copied.
func (m *Manifest) DataPrefix() string {
	return fmt.Sprintf("backup/criticality=%s/backup_type=%s/generation=%s/",
		m.Criticality, m.BackupType, m.Generation)
}

// Encode writes the manifest body as CSV, one row per entry in insertion
// order. The encoding carries no timestamps so identical input produces
// byte-identical output.
func (m *Manifest) Encode(w io.Writer) error {
	cw := csv.NewWriter(w)
	for _, e := range m.Entries {
		if err := cw.Write([]string{e.Bucket, e.Key, e.Version}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// EncodeBytes returns the canonical CSV body.
func (m *Manifest) EncodeBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeEntries parses a canonical CSV manifest body.
func DecodeEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var entries []Entry
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		if len(record) != 3 {
			return nil, fmt.Errorf("%w: expected 3 columns, got %d", ErrMalformedRow, len(record))
		}
		entries = append(entries, Entry{Bucket: record[0], Key: record[1], Version: record[2]})
	}
}

// Exclusions holds the technical prefix/suffix exclusion rules applied before
// a key is admitted into any manifest (temp markers, folder markers,
// in-progress markers).
type Exclusions struct {
	Prefixes []string
	Suffixes []string
}

// DefaultExclusions excludes folder markers and common in-progress artifacts.
func DefaultExclusions() Exclusions {
	return Exclusions{
		Suffixes: []string{"/", ".tmp", ".inprogress"},
	}
}

// Excluded reports whether a key matches any exclusion rule.
func (x Exclusions) Excluded(key string) bool {
	for _, p := range x.Prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	for _, s := range x.Suffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}
