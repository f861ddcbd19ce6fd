// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package audit

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gfsbak/gfsbak/pkg/memory"
)

func TestAuditedStorageRecordsMutations(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Enabled: true, Output: &buf})
	store := NewAuditedStorage(memory.New(), logger)

	require.NoError(t, store.Put("a.txt", strings.NewReader("one")))
	require.NoError(t, store.PutWithContext(context.Background(), "b.txt", strings.NewReader("two")))
	require.NoError(t, store.Delete("a.txt"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "OBJECT_WRITTEN", lines[0]["event_type"])
	assert.Equal(t, "a.txt", lines[0]["key"])
	assert.Equal(t, "OBJECT_WRITTEN", lines[1]["event_type"])
	assert.Equal(t, "OBJECT_DELETED", lines[2]["event_type"])
	assert.Equal(t, "SUCCESS", lines[2]["result"])
}

func TestAuditedStorageRecordsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Enabled: true, Output: &buf})
	store := NewAuditedStorage(memory.New(), logger)

	assert.Error(t, store.Delete("never-existed.txt"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "FAILURE", lines[0]["result"])
	assert.NotEmpty(t, lines[0]["error"])
}

func TestAuditedStorageReadsPassThrough(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Enabled: true, Output: &buf})
	store := NewAuditedStorage(memory.New(), logger)

	require.NoError(t, store.Put("a.txt", strings.NewReader("one")))
	buf.Reset()

	rc, err := store.Get("a.txt")
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Empty(t, buf.String())
}

func TestFromContextDefaultsToNoOp(t *testing.T) {
	logger := FromContext(context.Background())
	assert.IsType(t, &NoOpLogger{}, logger)

	ctx := WithLogger(context.Background(), NewLogger(DefaultConfig()))
	assert.IsType(t, &SlogLogger{}, FromContext(ctx))
}
