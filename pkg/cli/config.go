// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gfsbak/gfsbak/pkg/common"
	"github.com/gfsbak/gfsbak/pkg/retention"
)

// Discovery modes.
const (
	DiscoveryModeStatic = "static"
	DiscoveryModeTags   = "tags"
)

// SourceConfig describes one registered backup source.
type SourceConfig struct {
	ID          string            `mapstructure:"id"`
	Criticality string            `mapstructure:"criticality"`
	Backend     string            `mapstructure:"backend"`
	Settings    map[string]string `mapstructure:"settings"`

	// Destination is the copy-role hint handed to the bulk copy engine.
	Destination string `mapstructure:"destination"`

	// InventoryPrefix roots provider-generated inventories for this source.
	// Empty disables the inventory path, falling back to live listing.
	InventoryPrefix string `mapstructure:"inventory_prefix"`
}

// RetentionRuleConfig overrides parts of one tier's default retention rule.
// Zero values keep the default.
type RetentionRuleConfig struct {
	IncrementalFrequency            string `mapstructure:"incremental_frequency"`
	SonRetentionDays                int    `mapstructure:"son_retention_days"`
	FatherTransitionOffsetDays      int    `mapstructure:"father_transition_offset_days"`
	FatherRetentionDays             int    `mapstructure:"father_retention_days"`
	FatherArchiveClass              string `mapstructure:"father_archive_class"`
	GrandfatherTransitionOffsetDays int    `mapstructure:"grandfather_transition_offset_days"`
	GrandfatherRetentionDays        int    `mapstructure:"grandfather_retention_days"`
	GrandfatherArchiveClass         string `mapstructure:"grandfather_archive_class"`
}

// Config holds the full pipeline configuration.
type Config struct {
	CentralBackend  string
	CentralSettings map[string]string

	QueueURL           string
	QueueDeadLetterURL string
	QueueRegion        string
	QueueWaitTime      time.Duration

	// S3 Batch Operations settings. Empty AccountID selects the built-in
	// storage copier instead.
	AccountID     string
	CentralBucket string
	Region        string
	CopyRole      string

	Workers      int
	OutputFormat string

	// DiscoveryMode selects static (configured sources) or tags (bucket-tag
	// opt-in) source discovery.
	DiscoveryMode string

	// ArchiveBackend names the archiver type transitions write to.
	// ArchiveClasses maps archive class names to that backend's settings.
	ArchiveBackend string
	ArchiveClasses map[string]map[string]string

	LateArrivalTolerance     bool
	DisableDeletePropagation bool
	AuditEnabled             bool

	Sources   []SourceConfig
	Retention retention.Table
}

// InitConfig initializes the configuration using Viper.
// Configuration priority: flags > env vars > config file > defaults.
func InitConfig(cfgFile string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("central.backend", "local")
	v.SetDefault("central.settings.path", "./backups")
	v.SetDefault("orchestrator.workers", 5)
	v.SetDefault("queue.wait_time", "20s")
	v.SetDefault("output_format", "text")
	v.SetDefault("audit.enabled", false)
	v.SetDefault("discovery.mode", DiscoveryModeStatic)
	v.SetDefault("archive.backend", "glacier")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".gfsbak")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("GFSBAK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return v, nil
}

// GetConfig extracts the configuration from Viper into a Config struct. The
// retention table is assembled and validated here so a bad rule fails the
// process at startup, not mid-run.
func GetConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		CentralBackend:           v.GetString("central.backend"),
		CentralSettings:          v.GetStringMapString("central.settings"),
		QueueURL:                 v.GetString("queue.url"),
		QueueDeadLetterURL:       v.GetString("queue.dead_letter_url"),
		QueueRegion:              v.GetString("queue.region"),
		QueueWaitTime:            v.GetDuration("queue.wait_time"),
		AccountID:                v.GetString("copy.account_id"),
		CentralBucket:            v.GetString("copy.central_bucket"),
		Region:                   v.GetString("copy.region"),
		CopyRole:                 v.GetString("copy.role_arn"),
		Workers:                  v.GetInt("orchestrator.workers"),
		OutputFormat:             v.GetString("output_format"),
		DiscoveryMode:            v.GetString("discovery.mode"),
		ArchiveBackend:           v.GetString("archive.backend"),
		LateArrivalTolerance:     v.GetBool("aggregator.late_arrival_tolerance"),
		DisableDeletePropagation: v.GetBool("aggregator.disable_delete_propagation"),
		AuditEnabled:             v.GetBool("audit.enabled"),
	}

	if err := v.UnmarshalKey("sources", &cfg.Sources); err != nil {
		return nil, fmt.Errorf("invalid sources configuration: %w", err)
	}
	var classes map[string]map[string]string
	if err := v.UnmarshalKey("archive.classes", &classes); err != nil {
		return nil, fmt.Errorf("invalid archive configuration: %w", err)
	}
	if len(classes) > 0 {
		// Viper lowercases map keys; archive class names are canonically
		// upper case (GLACIER, DEEP_ARCHIVE) in the retention table.
		cfg.ArchiveClasses = make(map[string]map[string]string, len(classes))
		for class, settings := range classes {
			cfg.ArchiveClasses[strings.ToUpper(class)] = settings
		}
	}

	table, err := loadRetention(v)
	if err != nil {
		return nil, err
	}
	cfg.Retention = table

	return cfg, nil
}

// loadRetention builds the retention table from the defaults plus configured
// overrides and validates the result.
func loadRetention(v *viper.Viper) (retention.Table, error) {
	table := retention.DefaultTable()

	var overrides map[string]RetentionRuleConfig
	if err := v.UnmarshalKey("retention", &overrides); err != nil {
		return nil, fmt.Errorf("invalid retention configuration: %w", err)
	}

	for tier, o := range overrides {
		criticality, err := common.ParseCriticality(tier)
		if err != nil {
			return nil, fmt.Errorf("retention configuration: %w", err)
		}
		rule := table[criticality]

		if o.IncrementalFrequency != "" {
			if o.IncrementalFrequency == "none" {
				rule.IncrementalFrequency = 0
			} else {
				freq, err := retention.ParseFrequency(o.IncrementalFrequency)
				if err != nil {
					return nil, fmt.Errorf("retention configuration for %s: %w", tier, err)
				}
				rule.IncrementalFrequency = freq
			}
		}
		if o.SonRetentionDays > 0 {
			rule.SonRetentionDays = o.SonRetentionDays
		}
		if o.FatherTransitionOffsetDays > 0 {
			rule.FatherTransitionOffsetDays = o.FatherTransitionOffsetDays
		}
		if o.FatherRetentionDays > 0 {
			rule.FatherRetentionDays = o.FatherRetentionDays
		}
		if o.FatherArchiveClass != "" {
			rule.FatherArchiveClass = o.FatherArchiveClass
		}
		if o.GrandfatherTransitionOffsetDays > 0 {
			rule.GrandfatherTransitionOffsetDays = o.GrandfatherTransitionOffsetDays
		}
		if o.GrandfatherRetentionDays > 0 {
			rule.GrandfatherRetentionDays = o.GrandfatherRetentionDays
		}
		if o.GrandfatherArchiveClass != "" {
			rule.GrandfatherArchiveClass = o.GrandfatherArchiveClass
		}

		table[criticality] = rule
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// ValidateConfig validates the configuration before any component is built.
func ValidateConfig(cfg *Config) error {
	if cfg.CentralBackend == "" {
		return ErrCentralBackendRequired
	}
	if len(cfg.Sources) == 0 {
		return ErrNoSourcesConfigured
	}
	for _, s := range cfg.Sources {
		if s.ID == "" {
			return &common.ValidationError{Field: "sources", Message: "source id cannot be empty"}
		}
		if s.Criticality != "" {
			if _, err := common.ParseCriticality(s.Criticality); err != nil {
				return err
			}
		}
	}

	switch cfg.OutputFormat {
	case "text", "json":
	default:
		return ErrUnsupportedOutputFormat
	}

	switch cfg.DiscoveryMode {
	case "", DiscoveryModeStatic, DiscoveryModeTags:
	default:
		return ErrUnsupportedDiscoveryMode
	}
	return nil
}
