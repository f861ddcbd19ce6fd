// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package transition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gfsbak/gfsbak/pkg/audit"
	"github.com/gfsbak/gfsbak/pkg/common"
	"github.com/gfsbak/gfsbak/pkg/memory"
)

const (
	hotKey      = "backup/criticality=Critico/backup_type=full/generation=father/photos/a/1.jpg"
	manifestKey = "manifests/criticality=Critico/backup_type=full/generation=father/bucket=photos/window=20250310T0000Z/manifest.20250310T0000Z.csv"
)

// failingArchiver rejects every write to simulate an archive outage.
type failingArchiver struct{}

func (f *failingArchiver) Put(key string, data io.Reader) error {
	return errors.New("vault unavailable")
}

func newTransitioner(t *testing.T, central common.Storage, archivers map[string]common.Archiver, age time.Duration) *Transitioner {
	t.Helper()
	tr, err := New(Config{Central: central, Archivers: archivers})
	require.NoError(t, err)
	// Aging the clock forward instead of back-dating the stored objects.
	tr.now = func() time.Time { return time.Now().Add(age) }
	return tr
}

func TestRunArchivesPastGrandfatherOffset(t *testing.T) {
	central := memory.New()
	require.NoError(t, central.Put(hotKey, strings.NewReader("one")))
	require.NoError(t, central.Put(manifestKey, strings.NewReader("photos,a/1.jpg,v1")))

	glacier := memory.New()
	deep := memory.New()
	tr := newTransitioner(t, central, map[string]common.Archiver{
		"GLACIER":      glacier,
		"DEEP_ARCHIVE": deep,
	}, 200*24*time.Hour)

	report, err := tr.Run(context.Background(), common.CriticalityCritico)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Examined)
	assert.Equal(t, 1, report.Archived)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, map[string]int{"DEEP_ARCHIVE": 1}, report.ByClass, "deepest eligible class wins")

	assert.Equal(t, 1, deep.Count())
	assert.Equal(t, 0, glacier.Count())

	exists, err := central.Exists(context.Background(), hotKey)
	require.NoError(t, err)
	assert.False(t, exists, "hot copy removed after the archive write")

	exists, err = central.Exists(context.Background(), manifestKey)
	require.NoError(t, err)
	assert.True(t, exists, "manifests stay outside the transition scan")
}

func TestRunArchivesPastFatherOffsetOnly(t *testing.T) {
	central := memory.New()
	require.NoError(t, central.Put(hotKey, strings.NewReader("one")))

	glacier := memory.New()
	deep := memory.New()
	tr := newTransitioner(t, central, map[string]common.Archiver{
		"GLACIER":      glacier,
		"DEEP_ARCHIVE": deep,
	}, 120*24*time.Hour)

	report, err := tr.Run(context.Background(), common.CriticalityCritico)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"GLACIER": 1}, report.ByClass)
	assert.Equal(t, 1, glacier.Count())
	assert.Equal(t, 0, deep.Count())
}

func TestRunLeavesFreshData(t *testing.T) {
	central := memory.New()
	require.NoError(t, central.Put(hotKey, strings.NewReader("one")))

	tr := newTransitioner(t, central, map[string]common.Archiver{
		"GLACIER":      memory.New(),
		"DEEP_ARCHIVE": memory.New(),
	}, 0)

	report, err := tr.Run(context.Background(), common.CriticalityCritico)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Examined)
	assert.Equal(t, 0, report.Archived)

	exists, err := central.Exists(context.Background(), hotKey)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRunTierWithoutTransitions(t *testing.T) {
	tr, err := New(Config{Central: memory.New()})
	require.NoError(t, err)

	report, err := tr.Run(context.Background(), common.CriticalityNoCritico)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Examined)
	assert.Equal(t, 0, report.Archived)
}

func TestRunRequiresArchiverPerClass(t *testing.T) {
	central := memory.New()
	tr := newTransitioner(t, central, map[string]common.Archiver{
		"GLACIER": memory.New(),
	}, 200*24*time.Hour)

	_, err := tr.Run(context.Background(), common.CriticalityCritico)
	assert.ErrorIs(t, err, ErrArchiverNotConfigured)
}

func TestRunFailedArchiveKeepsHotCopy(t *testing.T) {
	central := memory.New()
	require.NoError(t, central.Put(hotKey, strings.NewReader("one")))

	tr := newTransitioner(t, central, map[string]common.Archiver{
		"GLACIER":      &failingArchiver{},
		"DEEP_ARCHIVE": &failingArchiver{},
	}, 200*24*time.Hour)

	report, err := tr.Run(context.Background(), common.CriticalityCritico)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Archived)

	exists, err := central.Exists(context.Background(), hotKey)
	require.NoError(t, err)
	assert.True(t, exists, "hot copy survives a failed archive write")
}

func TestRunEmitsArchiveAuditEvents(t *testing.T) {
	central := memory.New()
	require.NoError(t, central.Put(hotKey, strings.NewReader("one")))

	tr := newTransitioner(t, central, map[string]common.Archiver{
		"GLACIER":      memory.New(),
		"DEEP_ARCHIVE": memory.New(),
	}, 200*24*time.Hour)

	var buf bytes.Buffer
	ctx := audit.WithLogger(context.Background(),
		audit.NewLogger(&audit.Config{Enabled: true, Output: &buf, IncludeMetadata: true}))

	_, err := tr.Run(ctx, common.CriticalityCritico)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "OBJECT_ARCHIVED", entry["event_type"])
	assert.Equal(t, hotKey, entry["key"])
	assert.Contains(t, entry["metadata"], "DEEP_ARCHIVE")
}
