// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package retention holds the per-criticality GFS retention rules and the
// backup frequency schedule. The table is static configuration, validated
// once at load time.
package retention

import (
	"errors"
	"fmt"
	"time"

	"github.com/gfsbak/gfsbak/pkg/common"
)

// MinArchiveOffsetDays is the provider-mandated minimum number of days an
// object must spend in its initial storage class before transitioning to an
// archive class.
const MinArchiveOffsetDays = 90

var (
	// ErrIncrementalsDisabled is returned when asking for an incremental
	// frequency on a criticality tier that only takes full backups.
	ErrIncrementalsDisabled = errors.New("incremental backups disabled for criticality")

	// ErrRuleNotFound is returned when the table has no rule for a criticality.
	ErrRuleNotFound = errors.New("no retention rule for criticality")
)

// Frequency is a backup window size. Zero means incrementals are disabled.
type Frequency time.Duration

// ParseFrequency parses a duration string such as "12h" into a Frequency.
// Sub-hour and negative frequencies are rejected.
func ParseFrequency(s string) (Frequency, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q: %w", s, err)
	}
	if d < time.Hour {
		return 0, fmt.Errorf("invalid frequency %q: must be at least one hour", s)
	}
	return Frequency(d), nil
}

// Duration returns the frequency as a time.Duration.
func (f Frequency) Duration() time.Duration {
	return time.Duration(f)
}

// Bucket returns the window bucket index a timestamp falls into, computed as
// floor(unix_time / frequency).
func (f Frequency) Bucket(t time.Time) int64 {
	return t.Unix() / int64(time.Duration(f).Seconds())
}

// WindowStart returns the start of the window for the given bucket index.
func (f Frequency) WindowStart(bucket int64) time.Time {
	return time.Unix(bucket*int64(time.Duration(f).Seconds()), 0).UTC()
}

// WindowEnd returns the exclusive end of the window for the given bucket index.
func (f Frequency) WindowEnd(bucket int64) time.Time {
	return f.WindowStart(bucket + 1)
}

// WindowLabel returns the stable label for the window containing t, derived
// from the window start. The label is used in manifest paths and identifiers.
func (f Frequency) WindowLabel(bucket int64) string {
	return f.WindowStart(bucket).Format("20060102T1504Z")
}

// Rule is the GFS retention policy for one criticality tier.
type Rule struct {
	Enabled                         bool
	InitialStorageClass             string
	SonRetentionDays                int
	FatherTransitionOffsetDays      int
	FatherRetentionDays             int
	FatherArchiveClass              string
	GrandfatherTransitionOffsetDays int
	GrandfatherRetentionDays        int
	GrandfatherArchiveClass         string

	// IncrementalFrequency is zero when the tier takes full backups only.
	IncrementalFrequency Frequency
}

// Validate checks the rule's internal consistency. Archive transition offsets
// must be either 0 (transition disabled) or at least MinArchiveOffsetDays.
func (r Rule) Validate() error {
	if !r.Enabled {
		return nil
	}
	if err := validateOffset("father", r.FatherTransitionOffsetDays); err != nil {
		return err
	}
	if err := validateOffset("grandfather", r.GrandfatherTransitionOffsetDays); err != nil {
		return err
	}
	if r.FatherTransitionOffsetDays > 0 && r.GrandfatherTransitionOffsetDays > 0 &&
		r.GrandfatherTransitionOffsetDays < r.FatherTransitionOffsetDays {
		return &common.ValidationError{
			Field:   "grandfather_transition_offset_days",
			Message: "grandfather transition cannot precede father transition",
		}
	}
	return nil
}

func validateOffset(tier string, days int) error {
	if days == 0 {
		return nil
	}
	if days < MinArchiveOffsetDays {
		return &common.ValidationError{
			Field:   tier + "_transition_offset_days",
			Message: fmt.Sprintf("must be 0 or at least %d days", MinArchiveOffsetDays),
		}
	}
	return nil
}

// Table maps each criticality tier to its retention rule.
type Table map[common.Criticality]Rule

// DefaultTable returns the standard three-tier policy: Critico takes 12h
// incrementals with long archival retention, MenosCritico takes daily
// incrementals, NoCritico takes full backups only.
func DefaultTable() Table {
	return Table{
		common.CriticalityCritico: {
			Enabled:                         true,
			InitialStorageClass:             "STANDARD",
			SonRetentionDays:                30,
			FatherTransitionOffsetDays:      90,
			FatherRetentionDays:             365,
			FatherArchiveClass:              "GLACIER",
			GrandfatherTransitionOffsetDays: 180,
			GrandfatherRetentionDays:        2555,
			GrandfatherArchiveClass:         "DEEP_ARCHIVE",
			IncrementalFrequency:            Frequency(12 * time.Hour),
		},
		common.CriticalityMenosCritico: {
			Enabled:                         true,
			InitialStorageClass:             "STANDARD",
			SonRetentionDays:                15,
			FatherTransitionOffsetDays:      90,
			FatherRetentionDays:             180,
			FatherArchiveClass:              "GLACIER",
			GrandfatherTransitionOffsetDays: 0,
			GrandfatherRetentionDays:        0,
			GrandfatherArchiveClass:         "",
			IncrementalFrequency:            Frequency(24 * time.Hour),
		},
		common.CriticalityNoCritico: {
			Enabled:             true,
			InitialStorageClass: "STANDARD",
			SonRetentionDays:    7,
		},
	}
}

// Validate checks every rule in the table, failing fast on the first invalid
// entry. A table missing any known criticality is rejected.
func (t Table) Validate() error {
	for _, c := range []common.Criticality{
		common.CriticalityCritico,
		common.CriticalityMenosCritico,
		common.CriticalityNoCritico,
	} {
		rule, ok := t[c]
		if !ok {
			return fmt.Errorf("%w: %s", ErrRuleNotFound, c)
		}
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("retention rule for %s: %w", c, err)
		}
	}
	return nil
}

// Rule returns the retention rule for a criticality.
func (t Table) Rule(c common.Criticality) (Rule, error) {
	rule, ok := t[c]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, c)
	}
	return rule, nil
}

// IncrementalFrequency returns the window size for incremental backups of a
// criticality tier, or ErrIncrementalsDisabled when the tier is full-only.
func (t Table) IncrementalFrequency(c common.Criticality) (Frequency, error) {
	rule, err := t.Rule(c)
	if err != nil {
		return 0, err
	}
	if rule.IncrementalFrequency == 0 {
		return 0, fmt.Errorf("%w: %s", ErrIncrementalsDisabled, c)
	}
	return rule.IncrementalFrequency, nil
}
