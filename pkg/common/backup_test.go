// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCriticality(t *testing.T) {
	tests := []struct {
		input   string
		want    Criticality
		wantErr bool
	}{
		{"Critico", CriticalityCritico, false},
		{"MenosCritico", CriticalityMenosCritico, false},
		{"NoCritico", CriticalityNoCritico, false},
		{"critico", "", true},
		{"", "", true},
		{"High", "", true},
	}

	for _, tt := range tests {
		got, err := ParseCriticality(tt.input)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownCriticality, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseBackupTypeAndGeneration(t *testing.T) {
	bt, err := ParseBackupType("incremental")
	require.NoError(t, err)
	assert.Equal(t, BackupTypeIncremental, bt)

	_, err = ParseBackupType("differential")
	assert.ErrorIs(t, err, ErrUnknownBackupType)

	gen, err := ParseGeneration("grandfather")
	require.NoError(t, err)
	assert.Equal(t, GenerationGrandfather, gen)

	_, err = ParseGeneration("uncle")
	assert.ErrorIs(t, err, ErrUnknownGeneration)
}

func TestDefaultGeneration(t *testing.T) {
	assert.Equal(t, GenerationSon, DefaultGeneration(BackupTypeIncremental))
	assert.Equal(t, GenerationFather, DefaultGeneration(BackupTypeFull))
}

func TestChangeEventValidate(t *testing.T) {
	valid := ChangeEvent{
		SourceContainer: "datalake-raw",
		ObjectKey:       "tables/orders/part-0001.parquet",
		ObjectVersion:   "v1",
		EventTime:       time.Now(),
		EventType:       EventCreated,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*ChangeEvent)
	}{
		{"missing container", func(e *ChangeEvent) { e.SourceContainer = "" }},
		{"empty key", func(e *ChangeEvent) { e.ObjectKey = "" }},
		{"traversal key", func(e *ChangeEvent) { e.ObjectKey = "a/../../etc/passwd" }},
		{"zero time", func(e *ChangeEvent) { e.EventTime = time.Time{} }},
		{"bad event type", func(e *ChangeEvent) { e.EventType = "renamed" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			assert.Error(t, e.Validate())
		})
	}
}

func TestParseTriggerInput(t *testing.T) {
	in, err := ParseTriggerInput([]byte(`{"backup_type":"full","criticality":"Critico"}`))
	require.NoError(t, err)
	assert.Equal(t, BackupTypeFull, in.BackupType)
	assert.Equal(t, CriticalityCritico, in.Criticality)
	assert.Equal(t, GenerationFather, in.Generation, "full defaults to father")

	in, err = ParseTriggerInput([]byte(`{"backup_type":"incremental","criticality":"NoCritico","generation":"son"}`))
	require.NoError(t, err)
	assert.Equal(t, GenerationSon, in.Generation)

	_, err = ParseTriggerInput([]byte(`{"backup_type":"weekly","criticality":"Critico"}`))
	assert.ErrorIs(t, err, ErrUnknownBackupType)

	_, err = ParseTriggerInput([]byte(`{"backup_type":"full","criticality":"Medium"}`))
	assert.ErrorIs(t, err, ErrUnknownCriticality)

	_, err = ParseTriggerInput([]byte(`not-json`))
	assert.Error(t, err)
}
