// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package retention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gfsbak/gfsbak/pkg/common"
)

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "twelve hours", input: "12h", want: 12 * time.Hour},
		{name: "one day", input: "24h", want: 24 * time.Hour},
		{name: "sub hour rejected", input: "30m", wantErr: true},
		{name: "garbage rejected", input: "twelve", wantErr: true},
		{name: "negative rejected", input: "-12h", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFrequency(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Duration())
		})
	}
}

func TestWindowBucketing(t *testing.T) {
	f := Frequency(12 * time.Hour)

	morning := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	afternoon := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

	b1 := f.Bucket(morning)
	b2 := f.Bucket(afternoon)
	assert.NotEqual(t, b1, b2, "09:00 and 15:00 fall in different 12h windows")
	assert.Equal(t, b1+1, b2)

	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), f.WindowStart(b1))
	assert.Equal(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC), f.WindowEnd(b1))
	assert.Equal(t, "20250310T0000Z", f.WindowLabel(b1))
	assert.Equal(t, "20250310T1200Z", f.WindowLabel(b2))
}

func TestWindowBoundaryIsExclusive(t *testing.T) {
	f := Frequency(12 * time.Hour)
	boundary := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, f.Bucket(boundary), f.Bucket(boundary.Add(time.Hour)))
	assert.NotEqual(t, f.Bucket(boundary), f.Bucket(boundary.Add(-time.Second)))
}

func TestDefaultTableValidates(t *testing.T) {
	table := DefaultTable()
	require.NoError(t, table.Validate())

	f, err := table.IncrementalFrequency(common.CriticalityCritico)
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, f.Duration())

	f, err = table.IncrementalFrequency(common.CriticalityMenosCritico)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, f.Duration())

	_, err = table.IncrementalFrequency(common.CriticalityNoCritico)
	assert.ErrorIs(t, err, ErrIncrementalsDisabled)
}

func TestRuleValidation(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{
			name: "offset below provider minimum",
			rule: Rule{Enabled: true, FatherTransitionOffsetDays: 30},

			wantErr: true,
		},
		{
			name: "zero offset disables transition",
			rule: Rule{Enabled: true, FatherTransitionOffsetDays: 0},
		},
		{
			name: "grandfather before father",
			rule: Rule{
				Enabled:                         true,
				FatherTransitionOffsetDays:      180,
				GrandfatherTransitionOffsetDays: 90,
			},
			wantErr: true,
		},
		{
			name: "disabled rule skips validation",
			rule: Rule{Enabled: false, FatherTransitionOffsetDays: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr {
				var verr *common.ValidationError
				assert.ErrorAs(t, err, &verr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTableMissingCriticality(t *testing.T) {
	table := DefaultTable()
	delete(table, common.CriticalityNoCritico)
	assert.ErrorIs(t, table.Validate(), ErrRuleNotFound)

	_, err := table.Rule(common.CriticalityNoCritico)
	assert.ErrorIs(t, err, ErrRuleNotFound)
}
