package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/gofrs/flock"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/devicelabs/entrasync/internal/config"
	"github.com/devicelabs/entrasync/internal/directory"
	"github.com/devicelabs/entrasync/internal/platform"
	"github.com/devicelabs/entrasync/internal/secrets"
	"github.com/devicelabs/entrasync/internal/sync"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync batch job",
	Long: `Run one sync pass over every configured (tenant, organization) pair.

Jobs run strictly sequentially. The run is dry-run by default: patches are
computed and reported but nothing is written until --dry-run=false is
passed. The exit status is non-zero when any job fails or, in apply mode,
when any patch application fails.`,
	RunE: runSync,
}

func init() {
	runCmd.Flags().Bool("dry-run", true, "Compute and report patches without writing")
	runCmd.Flags().Int("max-patches-per-job", 50, "Per-job cap on patches processed")
	runCmd.Flags().Int("max-total-patches", 200, "Cross-job cap on patches applied")
	runCmd.Flags().Bool("stop-on-job-error", false, "Abort remaining jobs after a job failure")
	runCmd.Flags().Bool("stop-on-patch-error", false, "Abort a job's remaining patches after one failure")
	runCmd.Flags().Int("endpoint-page-size", 50, "Page size requested from the platform")
	runCmd.Flags().Bool("cache-entra-devices", true, "Reuse directory fetches across jobs sharing a credential")
	runCmd.Flags().String("output", "table", "Summary output format (table or json)")
}

// lockPath is where the run lock lives; overlapping scheduled runs must
// not double-apply patches.
func lockPath() string {
	return filepath.Join(xdg.StateHome, "entrasync", "run.lock")
}

func runSync(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath()))
	if err != nil {
		return err
	}

	opts := sync.DefaultOptions()
	opts.ApplyConfig(cfg.Sync)
	applyFlagOverrides(cmd.Flags(), &opts)

	if err := os.MkdirAll(filepath.Dir(lockPath()), 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	lock := flock.New(lockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another sync run is already in progress (lock: %s)", lockPath())
	}
	defer func() {
		_ = lock.Unlock()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := secrets.NewKeyringStore()
	reader := directory.NewGraphReader(logger)
	repository := platform.NewClient(&cfg.Platform, logger)

	orchestrator := sync.NewOrchestrator(reader, repository, store, logger)
	summary, err := orchestrator.Run(ctx, cfg, opts)
	if err != nil {
		return err
	}

	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	if output == "json" {
		encoded, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode summary: %w", err)
		}
		fmt.Println(string(encoded))
	} else {
		renderSummary(summary)
	}

	if !summary.Clean() {
		logger.Warn("Run finished with failures",
			zap.Int("jobFailures", summary.JobFailures()),
			zap.Int("patchFailures", summary.PatchFailures()))
		// Silence cobra's usage print; the summary is the error report.
		cmd.SilenceUsage = true
		return fmt.Errorf("sync finished with %d job failure(s) and %d patch failure(s)",
			summary.JobFailures(), summary.PatchFailures())
	}

	return nil
}

// applyFlagOverrides layers explicitly set run flags onto the options
func applyFlagOverrides(flags *pflag.FlagSet, opts *sync.Options) {
	if flags.Changed("dry-run") {
		opts.DryRun, _ = flags.GetBool("dry-run")
	}
	if flags.Changed("max-patches-per-job") {
		opts.MaxPatchesPerJob, _ = flags.GetInt("max-patches-per-job")
	}
	if flags.Changed("max-total-patches") {
		opts.MaxTotalPatches, _ = flags.GetInt("max-total-patches")
	}
	if flags.Changed("stop-on-job-error") {
		opts.StopOnJobError, _ = flags.GetBool("stop-on-job-error")
	}
	if flags.Changed("stop-on-patch-error") {
		opts.StopOnPatchError, _ = flags.GetBool("stop-on-patch-error")
	}
	if flags.Changed("endpoint-page-size") {
		opts.EndpointPageSize, _ = flags.GetInt("endpoint-page-size")
	}
	if flags.Changed("cache-entra-devices") {
		opts.CacheEntraDevices, _ = flags.GetBool("cache-entra-devices")
	}
}

// renderSummary prints the per-job result table and run totals
func renderSummary(summary *sync.RunSummary) {
	mode := "APPLY"
	if summary.DryRun {
		mode = "DRY-RUN"
	}
	fmt.Printf("Run %s (%s): %d job(s), %d planned, %d applied\n",
		summary.RunID, mode, summary.JobCount,
		summary.TotalPatchesPlanned, summary.TotalPatchesApplied)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Tenant", "Organization", "Devices", "Endpoints", "Matched", "Planned", "Applied", "Limited By", "Errors")
	for _, job := range summary.Jobs {
		errText := ""
		if job.Error != "" {
			errText = job.Error
		} else if len(job.PatchErrors) > 0 {
			errText = strconv.Itoa(len(job.PatchErrors)) + " patch error(s)"
		}
		_ = table.Append(
			job.TenantName,
			job.OrganizationID,
			strconv.Itoa(job.DeviceCount),
			strconv.Itoa(job.EndpointCount),
			strconv.Itoa(job.MatchedCount),
			strconv.Itoa(job.PatchesPlanned),
			strconv.Itoa(job.PatchesApplied),
			job.LimitedBy,
			errText,
		)
	}
	_ = table.Render()
}
