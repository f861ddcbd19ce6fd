// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package batchcopy

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gfsbak/gfsbak/pkg/adapters"
	"github.com/gfsbak/gfsbak/pkg/common"
	"github.com/gfsbak/gfsbak/pkg/manifest"
	"github.com/gfsbak/gfsbak/pkg/memory"
)

func TestStorageCopierCopiesManifestEntries(t *testing.T) {
	ctx := context.Background()
	central := memory.New()
	source := memory.New()

	require.NoError(t, source.Put("a/1.jpg", strings.NewReader("one")))
	require.NoError(t, source.Put("a/2.jpg", strings.NewReader("two")))

	m := &manifest.Manifest{
		Criticality:     common.CriticalityCritico,
		BackupType:      common.BackupTypeIncremental,
		Generation:      common.GenerationSon,
		SourceContainer: "photos",
		WindowID:        "20250310T0000Z",
		Entries: []manifest.Entry{
			{Bucket: "photos", Key: "a/1.jpg", Version: "v1"},
			{Bucket: "photos", Key: "a/2.jpg", Version: "v1"},
		},
	}
	builder, err := manifest.NewBuilder(central, manifest.DefaultExclusions(), adapters.NewNoOpLogger())
	require.NoError(t, err)
	path, err := builder.Build(ctx, m)
	require.NoError(t, err)

	copier, err := NewStorageCopier(central, func(bucket string) (common.Storage, error) {
		return source, nil
	}, 2, nil)
	require.NoError(t, err)

	jobID, err := copier.Submit(ctx, path, m.DataPrefix(), "")
	require.NoError(t, err)

	report, err := copier.Describe(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, report.Status)
	assert.Equal(t, int64(2), report.Total)
	assert.Equal(t, int64(2), report.Succeeded)

	rc, err := central.Get(m.DataPrefix() + "photos/a/1.jpg")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
}

func TestStorageCopierReportsFailures(t *testing.T) {
	ctx := context.Background()
	central := memory.New()
	source := memory.New()
	require.NoError(t, source.Put("exists.txt", strings.NewReader("x")))

	require.NoError(t, central.Put("manifests/m.csv", strings.NewReader("photos,exists.txt,v1\nphotos,missing.txt,v1\n")))

	copier, err := NewStorageCopier(central, func(bucket string) (common.Storage, error) {
		return source, nil
	}, 1, nil)
	require.NoError(t, err)

	jobID, err := copier.Submit(ctx, "manifests/m.csv", "backup/", "")
	require.NoError(t, err)

	report, err := copier.Describe(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, report.Status)
	assert.Equal(t, int64(1), report.Succeeded)
	assert.Equal(t, int64(1), report.Failed)
}

func TestStorageCopierUnknownJob(t *testing.T) {
	copier, err := NewStorageCopier(memory.New(), func(string) (common.Storage, error) {
		return memory.New(), nil
	}, 1, nil)
	require.NoError(t, err)

	_, err = copier.Describe(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStorageCopierMissingManifest(t *testing.T) {
	copier, err := NewStorageCopier(memory.New(), func(string) (common.Storage, error) {
		return memory.New(), nil
	}, 1, nil)
	require.NoError(t, err)

	_, err = copier.Submit(context.Background(), "manifests/none.csv", "backup/", "")
	assert.ErrorIs(t, err, common.ErrKeyNotFound)
}
