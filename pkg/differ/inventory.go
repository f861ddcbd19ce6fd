// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package differ

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gfsbak/gfsbak/pkg/common"
)

var (
	// ErrNoInventory is returned when no inventory manifest exists under the
	// inventory prefix. Callers fall back to a bounded live listing.
	ErrNoInventory = errors.New("no inventory manifest found")

	// ErrInventorySchema is returned when an inventory manifest lacks the
	// required columns.
	ErrInventorySchema = errors.New("unsupported inventory schema")
)

// inventoryManifest is the provider-generated descriptor of one full
// inventory: a creation timestamp, a column schema, and the gzip'd CSV data
// files holding the listing.
type inventoryManifest struct {
	SourceBucket      string `json:"sourceBucket"`
	Version           string `json:"version"`
	CreationTimestamp string `json:"creationTimestamp"` // epoch milliseconds
	FileFormat        string `json:"fileFormat"`
	FileSchema        string `json:"fileSchema"`
	Files             []struct {
		Key  string `json:"key"`
		Size int64  `json:"size"`
	} `json:"files"`
}

// inventoryRecord is one object row from an inventory data file.
type inventoryRecord struct {
	Bucket       string
	Key          string
	Version      string
	LastModified time.Time
}

// inventory is a parsed, loadable point-in-time listing.
type inventory struct {
	manifestKey string
	createdAt   time.Time
	columns     map[string]int
	manifest    *inventoryManifest
}

// latestInventory finds the most recent inventory manifest under prefix,
// selecting by the manifest's creation timestamp.
func latestInventory(ctx context.Context, store common.Storage, prefix string) (*inventory, error) {
	keys, err := store.ListWithContext(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory prefix %s: %w", prefix, err)
	}

	var latest *inventory
	for _, key := range keys {
		if !strings.HasSuffix(key, "manifest.json") {
			continue
		}
		inv, err := loadInventoryManifest(ctx, store, key)
		if err != nil {
			return nil, err
		}
		if latest == nil || inv.createdAt.After(latest.createdAt) {
			latest = inv
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoInventory, prefix)
	}
	return latest, nil
}

func loadInventoryManifest(ctx context.Context, store common.Storage, key string) (*inventory, error) {
	rc, err := store.GetWithContext(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory manifest %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()

	var m inventoryManifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode inventory manifest %s: %w", key, err)
	}

	columns := make(map[string]int)
	for i, col := range strings.Split(m.FileSchema, ",") {
		columns[strings.TrimSpace(col)] = i
	}
	for _, required := range []string{"Bucket", "Key", "LastModifiedDate"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: missing column %s in %s", ErrInventorySchema, required, key)
		}
	}

	ms, err := strconv.ParseInt(m.CreationTimestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid creation timestamp in %s: %w", key, err)
	}

	return &inventory{
		manifestKey: key,
		createdAt:   time.UnixMilli(ms).UTC(),
		columns:     columns,
		manifest:    &m,
	}, nil
}

// records streams every row of the inventory's data files.
func (inv *inventory) records(ctx context.Context, store common.Storage, fn func(inventoryRecord) error) error {
	for _, file := range inv.manifest.Files {
		if err := inv.readDataFile(ctx, store, file.Key, fn); err != nil {
			return err
		}
	}
	return nil
}

func (inv *inventory) readDataFile(ctx context.Context, store common.Storage, key string, fn func(inventoryRecord) error) error {
	rc, err := store.GetWithContext(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read inventory data file %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()

	gz, err := gzip.NewReader(rc)
	if err != nil {
		return fmt.Errorf("failed to decompress inventory data file %s: %w", key, err)
	}
	defer func() { _ = gz.Close() }()

	return inv.parseRows(gz, key, fn)
}

func (inv *inventory) parseRows(r io.Reader, key string, fn func(inventoryRecord) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to parse inventory data file %s: %w", key, err)
		}

		rec, err := inv.toRecord(fields)
		if err != nil {
			return fmt.Errorf("bad row in inventory data file %s: %w", key, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func (inv *inventory) toRecord(fields []string) (inventoryRecord, error) {
	get := func(col string) string {
		i, ok := inv.columns[col]
		if !ok || i >= len(fields) {
			return ""
		}
		return fields[i]
	}

	lastModified, err := time.Parse(time.RFC3339, get("LastModifiedDate"))
	if err != nil {
		return inventoryRecord{}, fmt.Errorf("invalid LastModifiedDate %q: %w", get("LastModifiedDate"), err)
	}

	return inventoryRecord{
		Bucket:       get("Bucket"),
		Key:          get("Key"),
		Version:      get("VersionId"),
		LastModified: lastModified,
	}, nil
}
