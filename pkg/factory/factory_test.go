// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package factory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gfsbak/gfsbak/pkg/common"
)

func TestNewStorageMemory(t *testing.T) {
	storage, err := NewStorage("memory", nil)
	require.NoError(t, err)
	require.NoError(t, storage.Put("k", strings.NewReader("v")))
}

func TestNewStorageLocal(t *testing.T) {
	storage, err := NewStorage("local", map[string]string{"path": t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, storage.Put("k", strings.NewReader("v")))
}

func TestNewStorageUnknown(t *testing.T) {
	_, err := NewStorage("tape", nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestNewStorageRejectsArchiveOnly(t *testing.T) {
	_, err := NewStorage("glacier", map[string]string{"vaultName": "v"})
	assert.ErrorIs(t, err, ErrArchiveOnlyBackend)
}

func TestNewArchiverUnknown(t *testing.T) {
	_, err := NewArchiver("memory", nil)
	assert.ErrorIs(t, err, ErrUnknownArchiver)
}

func TestNewArchiverGlacierRequiresVault(t *testing.T) {
	_, err := NewArchiver("glacier", map[string]string{})
	assert.ErrorIs(t, err, common.ErrVaultNotSet)
}

func TestNewStorageConfigureFailure(t *testing.T) {
	_, err := NewStorage("local", map[string]string{})
	assert.ErrorIs(t, err, common.ErrPathNotSet)
}
