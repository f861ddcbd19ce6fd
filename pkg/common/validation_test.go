// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"simple key", "file.txt", false},
		{"nested key", "backup/criticality=Critico/manifest.csv", false},
		{"hive partition key", "backup/year=2026/month=01/data.parquet", false},
		{"empty", "", true},
		{"absolute path", "/etc/passwd", true},
		{"windows drive", `C:\data`, true},
		{"traversal", "a/../b", true},
		{"leading traversal", "../secrets", true},
		{"null byte", "a\x00b", true},
		{"newline", "a\nb", true},
		{"backslash", `a\b`, true},
		{"too long", strings.Repeat("k", MaxKeyLength+1), true},
		{"dot segment ok", "a/.hidden/b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
