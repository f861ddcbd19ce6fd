// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gfsbak/gfsbak/pkg/adapters"
	"github.com/gfsbak/gfsbak/pkg/cli"
	"github.com/gfsbak/gfsbak/pkg/common"
	"github.com/gfsbak/gfsbak/pkg/version"
)

var (
	cfgFile      string
	viperConfig  *viper.Viper
	globalConfig *cli.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gfsbak",
	Short: "Tiered GFS backup orchestration for object storage",
	Long: `gfsbak orchestrates grandfather-father-son backups of object storage
containers into a central backup store.

Each source container carries a criticality tier that controls its backup
frequency and retention:
  - Critico       : 12h incremental windows, long archival retention
  - MenosCritico  : 24h incremental windows (the default tier)
  - NoCritico     : scheduled full backups only

Configuration can be provided via:
  - Command-line flags (highest priority)
  - Environment variables (GFSBAK_*)
  - Configuration file (~/.gfsbak.yaml or ./.gfsbak.yaml)
  - Default values (lowest priority)`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		viperConfig, err = cli.InitConfig(cfgFile)
		if err != nil {
			return err
		}

		if err := viperConfig.BindPFlags(cmd.Flags()); err != nil {
			return fmt.Errorf("failed to bind flags: %w", err)
		}

		globalConfig, err = cli.GetConfig(viperConfig)
		return err
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one backup run for a criticality tier",
	Long: `Discover the sources of the given criticality tier, generate a manifest
per source and submit bulk copy jobs for the manifests that have entries.
Sources whose manifest is empty are skipped without submitting a job.`,
	Example: `  gfsbak run --type incremental --criticality Critico
  gfsbak run --type full --criticality NoCritico
  gfsbak run --type full --criticality Critico --generation grandfather`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backupType, _ := cmd.Flags().GetString("type")          //nolint:errcheck // flags are validated by cobra
		criticality, _ := cmd.Flags().GetString("criticality")  //nolint:errcheck // flags are validated by cobra
		generation, _ := cmd.Flags().GetString("generation")    //nolint:errcheck // flags are validated by cobra

		in, err := common.ParseTriggerInput([]byte(fmt.Sprintf(
			`{"backup_type":%q,"criticality":%q,"generation":%q}`,
			backupType, criticality, generation)))
		if err != nil {
			return failWith(err)
		}

		c, err := newContext(cmd)
		if err != nil {
			return failWith(err)
		}

		report, err := c.RunBackup(cmd.Context(), in)
		if err != nil {
			return failWith(err)
		}
		fmt.Print(cli.FormatRunReport(report, outputFormat()))
		if report.Failed > 0 {
			return fmt.Errorf("%d source(s) failed", report.Failed)
		}
		return nil
	},
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Consume change notifications into window manifests",
	Long: `Poll the change notification queue, bucket the events into backup windows
by source criticality and persist a manifest per window. Runs until
interrupted unless --once is set.`,
	Example: `  gfsbak aggregate
  gfsbak aggregate --once --batch-size 10`,
	RunE: func(cmd *cobra.Command, args []string) error {
		batchSize, _ := cmd.Flags().GetInt("batch-size") //nolint:errcheck // flags are validated by cobra
		once, _ := cmd.Flags().GetBool("once")           //nolint:errcheck // flags are validated by cobra

		c, err := newContext(cmd)
		if err != nil {
			return failWith(err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := c.Aggregate(ctx, batchSize, once)
		if result != nil {
			fmt.Print(cli.FormatAggregateResult(result, outputFormat()))
		}
		if err != nil {
			return failWith(err)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <source> <directory>",
	Short: "Watch a local directory and aggregate its changes",
	Long: `Follow filesystem changes under a directory for the named source and
bucket them into window manifests, without an external queue. Useful for
local mounts participating in the incremental pipeline.`,
	Example: `  gfsbak watch photos /mnt/photos`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		batchSize, _ := cmd.Flags().GetInt("batch-size") //nolint:errcheck // flags are validated by cobra

		c, err := newContext(cmd)
		if err != nil {
			return failWith(err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := c.Watch(ctx, args[0], args[1], batchSize)
		if result != nil {
			fmt.Print(cli.FormatAggregateResult(result, outputFormat()))
		}
		if err != nil {
			return failWith(err)
		}
		return nil
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint <source>",
	Short: "Show the checkpoint marker for a source",
	Example: `  gfsbak checkpoint photos
  gfsbak checkpoint photos --type full`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backupType, _ := cmd.Flags().GetString("type") //nolint:errcheck // flags are validated by cobra

		c, err := newContext(cmd)
		if err != nil {
			return failWith(err)
		}

		cp, err := c.ShowCheckpoint(cmd.Context(), args[0], backupType)
		if err != nil {
			return failWith(err)
		}
		fmt.Print(cli.FormatCheckpoint(args[0], cp, outputFormat()))
		return nil
	},
}

var jobCmd = &cobra.Command{
	Use:     "job <job-id>",
	Short:   "Show the status of a submitted copy job",
	Example: `  gfsbak job 0196a7e1-2f4b-7c8d-9e0f-112233445566`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newContext(cmd)
		if err != nil {
			return failWith(err)
		}

		report, err := c.DescribeJob(cmd.Context(), args[0])
		if err != nil {
			return failWith(err)
		}
		fmt.Printf("Status: %s  Total: %d  Succeeded: %d  Failed: %d\n",
			report.Status, report.Total, report.Succeeded, report.Failed)
		return nil
	},
}

var transitionCmd = &cobra.Command{
	Use:   "transition",
	Short: "Archive aged backup data per the tier's retention rules",
	Long: `Scan one tier's backup data in the central store and move objects past
their father or grandfather transition offset into the archive class the
retention table names for that boundary. The hot copy is removed once the
archive write succeeds.`,
	Example: `  gfsbak transition --criticality Critico`,
	RunE: func(cmd *cobra.Command, args []string) error {
		criticality, _ := cmd.Flags().GetString("criticality") //nolint:errcheck // flags are validated by cobra

		c, err := newContext(cmd)
		if err != nil {
			return failWith(err)
		}

		report, err := c.Transition(cmd.Context(), criticality)
		if err != nil {
			return failWith(err)
		}
		fmt.Print(cli.FormatTransitionReport(report, outputFormat()))
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <source>",
	Short: "Copy a source's backup data back into the source",
	Long: `Enumerate the backup data held in the central store for one source,
persist a restore manifest naming every object and copy the objects back
into the source backend.`,
	Example: `  gfsbak restore photos --criticality Critico
  gfsbak restore photos --criticality Critico --prefix albums/2024/`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backupType, _ := cmd.Flags().GetString("type")         //nolint:errcheck // flags are validated by cobra
		criticality, _ := cmd.Flags().GetString("criticality") //nolint:errcheck // flags are validated by cobra
		generation, _ := cmd.Flags().GetString("generation")   //nolint:errcheck // flags are validated by cobra
		keyPrefix, _ := cmd.Flags().GetString("prefix")        //nolint:errcheck // flags are validated by cobra

		in, err := common.ParseTriggerInput([]byte(fmt.Sprintf(
			`{"backup_type":%q,"criticality":%q,"generation":%q}`,
			backupType, criticality, generation)))
		if err != nil {
			return failWith(err)
		}

		c, err := newContext(cmd)
		if err != nil {
			return failWith(err)
		}

		report, err := c.Restore(cmd.Context(), in, args[0], keyPrefix)
		if err != nil {
			return failWith(err)
		}
		fmt.Print(cli.FormatRestoreReport(report, outputFormat()))
		if report.Failed > 0 {
			return fmt.Errorf("%d object(s) failed to restore", report.Failed)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gfsbak version %s\n", version.Get())
	},
}

func newContext(cmd *cobra.Command) (*cli.CommandContext, error) {
	return cli.NewCommandContext(cmd.Context(), globalConfig, adapters.NewDefaultLogger())
}

func outputFormat() cli.OutputFormat {
	return cli.OutputFormat(globalConfig.OutputFormat)
}

func failWith(err error) error {
	fmt.Fprintln(os.Stderr, cli.FormatError(err, outputFormat()))
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.gfsbak.yaml)")
	rootCmd.PersistentFlags().StringP("output_format", "o", "text", "output format: text or json")

	runCmd.Flags().String("type", "incremental", "backup type: incremental or full")
	runCmd.Flags().String("criticality", string(common.DefaultCriticality), "criticality tier to back up")
	runCmd.Flags().String("generation", "", "GFS generation (defaults per backup type)")

	aggregateCmd.Flags().Int("batch-size", 10, "messages per batch")
	aggregateCmd.Flags().Bool("once", false, "process a single batch and exit")

	checkpointCmd.Flags().String("type", "incremental", "backup type: incremental or full")

	watchCmd.Flags().Int("batch-size", 10, "messages per batch")

	transitionCmd.Flags().String("criticality", string(common.DefaultCriticality), "criticality tier to transition")

	restoreCmd.Flags().String("type", "full", "backup type: incremental or full")
	restoreCmd.Flags().String("criticality", string(common.DefaultCriticality), "criticality tier of the backup data")
	restoreCmd.Flags().String("generation", "", "GFS generation (defaults per backup type)")
	restoreCmd.Flags().String("prefix", "", "restore only keys under this prefix")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(transitionCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(versionCmd)
}
