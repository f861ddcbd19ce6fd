// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package transition ages backed-up data out of the central store's hot tier
// into the archive classes named by the retention table. Objects past the
// grandfather transition offset go to the grandfather archive class, objects
// past the father offset to the father class; the hot copy is removed once
// the archive write succeeds.
package transition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gfsbak/gfsbak/pkg/adapters"
	"github.com/gfsbak/gfsbak/pkg/audit"
	"github.com/gfsbak/gfsbak/pkg/common"
	"github.com/gfsbak/gfsbak/pkg/retention"
)

// ErrArchiverNotConfigured is returned when the retention table names an
// archive class with no archiver wired for it.
var ErrArchiverNotConfigured = errors.New("no archiver configured for archive class")

const listPageSize = 1000

// Config configures a Transitioner.
type Config struct {
	// Central is the backup store holding the hot-tier data.
	Central common.Storage

	// Table supplies the per-tier transition offsets and archive classes.
	// Nil uses the default table.
	Table retention.Table

	// Archivers maps archive class names (e.g. GLACIER, DEEP_ARCHIVE) to
	// their destinations.
	Archivers map[string]common.Archiver

	Logger adapters.Logger
}

// Report summarizes one transition pass.
type Report struct {
	Criticality common.Criticality `json:"criticality"`
	Examined    int                `json:"examined"`
	Archived    int                `json:"archived"`
	Failed      int                `json:"failed"`
	ByClass     map[string]int     `json:"by_class,omitempty"`
}

// Transitioner executes archival transitions for one criticality tier.
type Transitioner struct {
	central   common.Storage
	table     retention.Table
	archivers map[string]common.Archiver
	logger    adapters.Logger

	now func() time.Time
}

// New creates a Transitioner.
func New(cfg Config) (*Transitioner, error) {
	if cfg.Central == nil {
		return nil, common.ErrStorageRequired
	}
	if cfg.Table == nil {
		cfg.Table = retention.DefaultTable()
	}
	if err := cfg.Table.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = adapters.NewNoOpLogger()
	}
	return &Transitioner{
		central:   cfg.Central,
		table:     cfg.Table,
		archivers: cfg.Archivers,
		logger:    cfg.Logger,
		now:       time.Now,
	}, nil
}

// stage is one enabled transition boundary, oldest first.
type stage struct {
	class  string
	cutoff time.Time
}

// Run scans the tier's backup data and archives every object past a
// transition boundary. Per-object failures are counted and logged; the pass
// continues so one bad object cannot block the tier.
func (t *Transitioner) Run(ctx context.Context, criticality common.Criticality) (*Report, error) {
	rule, err := t.table.Rule(criticality)
	if err != nil {
		return nil, err
	}

	now := t.now()
	var stages []stage
	if rule.GrandfatherTransitionOffsetDays > 0 && rule.GrandfatherArchiveClass != "" {
		stages = append(stages, stage{
			class:  rule.GrandfatherArchiveClass,
			cutoff: now.AddDate(0, 0, -rule.GrandfatherTransitionOffsetDays),
		})
	}
	if rule.FatherTransitionOffsetDays > 0 && rule.FatherArchiveClass != "" {
		stages = append(stages, stage{
			class:  rule.FatherArchiveClass,
			cutoff: now.AddDate(0, 0, -rule.FatherTransitionOffsetDays),
		})
	}

	report := &Report{Criticality: criticality, ByClass: make(map[string]int)}
	if len(stages) == 0 {
		return report, nil
	}
	for _, s := range stages {
		if _, ok := t.archivers[s.class]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrArchiverNotConfigured, s.class)
		}
	}

	prefix := fmt.Sprintf("backup/criticality=%s/", criticality)
	token := ""
	for {
		page, err := t.central.ListWithOptions(ctx, &common.ListOptions{
			Prefix:       prefix,
			MaxResults:   listPageSize,
			ContinueFrom: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list backup data: %w", err)
		}

		for _, obj := range page.Objects {
			report.Examined++
			if obj.Metadata == nil {
				continue
			}
			for _, s := range stages {
				if !obj.Metadata.LastModified.Before(s.cutoff) {
					continue
				}
				if err := t.archive(ctx, obj.Key, s.class); err != nil {
					report.Failed++
					t.logger.Warn(ctx, "archive transition failed",
						adapters.Field{Key: "key", Value: obj.Key},
						adapters.Field{Key: "class", Value: s.class},
						adapters.Field{Key: "error", Value: err.Error()})
				} else {
					report.Archived++
					report.ByClass[s.class]++
				}
				break
			}
		}

		if !page.Truncated {
			break
		}
		token = page.NextToken
	}

	t.logger.Info(ctx, "transition pass finished",
		adapters.Field{Key: "criticality", Value: string(criticality)},
		adapters.Field{Key: "examined", Value: report.Examined},
		adapters.Field{Key: "archived", Value: report.Archived},
		adapters.Field{Key: "failed", Value: report.Failed})
	return report, nil
}

// archive copies the object into its archive class and removes the hot copy.
// The hot copy survives when the archive write fails, so a re-run retries.
func (t *Transitioner) archive(ctx context.Context, key, class string) error {
	if err := t.central.Archive(key, t.archivers[class]); err != nil {
		return err
	}
	if err := t.central.DeleteWithContext(ctx, key); err != nil {
		return err
	}
	_ = audit.FromContext(ctx).LogEvent(ctx, &audit.Event{
		EventType: audit.EventObjectArchived,
		Action:    "archive_object",
		Result:    audit.ResultSuccess,
		Key:       key,
		Metadata:  map[string]any{"class": class},
	})
	return nil
}
