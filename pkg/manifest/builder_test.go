// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package manifest

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gfsbak/gfsbak/pkg/adapters"
	"github.com/gfsbak/gfsbak/pkg/common"
	"github.com/gfsbak/gfsbak/pkg/memory"
)

func newBuilder(t *testing.T, store common.Storage) *Builder {
	t.Helper()
	b, err := NewBuilder(store, DefaultExclusions(), adapters.NewNoOpLogger())
	require.NoError(t, err)
	return b
}

func TestBuildPersistsAtDeterministicPath(t *testing.T) {
	store := memory.New()
	b := newBuilder(t, store)
	m := sampleManifest()

	path, err := b.Build(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, m.Path(), path)

	entries, err := b.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, m.Entries, entries)

	meta, err := store.GetMetadata(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "2", meta.Custom["entries"])
	assert.Equal(t, "false", meta.Custom["partial"])
}

func TestBuildIsIdempotent(t *testing.T) {
	store := memory.New()
	b := newBuilder(t, store)

	path1, err := b.Build(context.Background(), sampleManifest())
	require.NoError(t, err)
	rc, err := store.Get(path1)
	require.NoError(t, err)
	first, err := io.ReadAll(rc)
	require.NoError(t, err)

	path2, err := b.Build(context.Background(), sampleManifest())
	require.NoError(t, err)
	assert.Equal(t, path1, path2, "re-run overwrites, never duplicates")

	rc, err = store.Get(path2)
	require.NoError(t, err)
	second, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, first, second, "byte-identical content on re-run")

	keys, err := store.List("manifests/")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestBuildAppliesExclusions(t *testing.T) {
	store := memory.New()
	b := newBuilder(t, store)

	m := sampleManifest()
	m.Entries = append(m.Entries,
		Entry{Bucket: "photos", Key: "folder/marker/", Version: ""},
		Entry{Bucket: "photos", Key: "upload.tmp", Version: "v1"},
	)

	path, err := b.Build(context.Background(), m)
	require.NoError(t, err)

	entries, err := b.Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.NotEqual(t, "folder/marker/", e.Key)
		assert.NotEqual(t, "upload.tmp", e.Key)
	}
}

func TestBuildEmptyManifestIsValid(t *testing.T) {
	store := memory.New()
	b := newBuilder(t, store)

	m := sampleManifest()
	m.Entries = nil

	path, err := b.Build(context.Background(), m)
	require.NoError(t, err)

	exists, err := store.Exists(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, exists, "zero-entry manifest is still persisted")

	meta, err := store.GetMetadata(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "0", meta.Custom["entries"])
}

func TestBuildRejectsInvalidManifest(t *testing.T) {
	b := newBuilder(t, memory.New())

	m := sampleManifest()
	m.WindowID = ""
	_, err := b.Build(context.Background(), m)
	assert.ErrorIs(t, err, ErrNoWindowID)
}

func TestNewBuilderRequiresStore(t *testing.T) {
	_, err := NewBuilder(nil, DefaultExclusions(), nil)
	assert.ErrorIs(t, err, common.ErrStorageRequired)
}
