// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gfsbak/gfsbak/pkg/common"
)

func TestStaticRegistryListSorted(t *testing.T) {
	r, err := NewStaticRegistry([]Source{
		{ID: "zeta", Criticality: common.CriticalityCritico},
		{ID: "alpha"},
	})
	require.NoError(t, err)

	sources, err := r.ListSources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "alpha", sources[0].ID)
	assert.Equal(t, common.DefaultCriticality, sources[0].Criticality)
	assert.Equal(t, "zeta", sources[1].ID)
	assert.Equal(t, common.CriticalityCritico, sources[1].Criticality)
}

func TestStaticRegistryRejectsDuplicates(t *testing.T) {
	r, err := NewStaticRegistry([]Source{{ID: "photos"}})
	require.NoError(t, err)

	err = r.Add(Source{ID: "photos"})
	assert.ErrorIs(t, err, ErrDuplicateSource)
}

func TestStaticRegistryRejectsInvalid(t *testing.T) {
	_, err := NewStaticRegistry([]Source{{ID: ""}})
	assert.Error(t, err)

	_, err = NewStaticRegistry([]Source{{ID: "photos", Criticality: "Urgent"}})
	assert.Error(t, err)
}

func TestStaticRegistryCriticalityDefaultsForUnknown(t *testing.T) {
	r, err := NewStaticRegistry([]Source{{ID: "photos", Criticality: common.CriticalityCritico}})
	require.NoError(t, err)

	c, err := r.Criticality(context.Background(), "photos")
	require.NoError(t, err)
	assert.Equal(t, common.CriticalityCritico, c)

	c, err = r.Criticality(context.Background(), "never-registered")
	require.NoError(t, err)
	assert.Equal(t, common.DefaultCriticality, c)
}

type fakeTagReader struct {
	tags map[string]string
	err  error
}

func (f *fakeTagReader) BucketTags(ctx context.Context) (map[string]string, error) {
	return f.tags, f.err
}

func TestTagRegistryDiscoversOptedInBuckets(t *testing.T) {
	r := NewTagRegistry(map[string]TagReader{
		"photos": &fakeTagReader{tags: map[string]string{
			TagBackupEnabled:     "true",
			TagBackupCriticality: "Critico",
		}},
		"scratch": &fakeTagReader{tags: map[string]string{
			TagBackupEnabled: "false",
		}},
		"docs": &fakeTagReader{tags: map[string]string{
			TagBackupEnabled: "true",
		}},
	}, "arn:aws:iam::123456789012:role/copy", nil)

	sources, err := r.ListSources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 2)

	assert.Equal(t, "docs", sources[0].ID)
	assert.Equal(t, common.DefaultCriticality, sources[0].Criticality)
	assert.Equal(t, "photos", sources[1].ID)
	assert.Equal(t, common.CriticalityCritico, sources[1].Criticality)
	assert.Equal(t, "arn:aws:iam::123456789012:role/copy", sources[1].Destination)
}

func TestTagRegistryUnknownTierDefaults(t *testing.T) {
	r := NewTagRegistry(map[string]TagReader{
		"photos": &fakeTagReader{tags: map[string]string{
			TagBackupEnabled:     "true",
			TagBackupCriticality: "SuperCritical",
		}},
	}, "", nil)

	sources, err := r.ListSources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, common.DefaultCriticality, sources[0].Criticality)
}

func TestTagRegistryPropagatesReadErrors(t *testing.T) {
	boom := errors.New("tags unavailable")
	r := NewTagRegistry(map[string]TagReader{
		"photos": &fakeTagReader{err: boom},
	}, "", nil)

	_, err := r.ListSources(context.Background())
	assert.ErrorIs(t, err, boom)
}
