package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devicelabs/entrasync/internal/config"
	"github.com/devicelabs/entrasync/internal/directory"
	"github.com/devicelabs/entrasync/internal/platform"
	"github.com/devicelabs/entrasync/internal/secrets"
)

// Limit names recorded in JobResult.LimitedBy
const (
	limitPerJob = "maxPatchesPerJob"
	limitTotal  = "maxTotalPatches"
)

// sampleSize bounds the planned-patch sample kept per job result
const sampleSize = 5

// Options controls run behavior. The zero value is not usable; start from
// DefaultOptions.
type Options struct {
	// DryRun computes and counts patches without sending any write
	DryRun bool

	// MaxPatchesPerJob truncates a single job's ordered patch list
	MaxPatchesPerJob int

	// MaxTotalPatches caps the cross-job total of dispatched patches
	MaxTotalPatches int

	// StopOnJobError aborts remaining jobs after a job-level failure
	StopOnJobError bool

	// StopOnPatchError aborts a job's remaining patches after one failure
	StopOnPatchError bool

	// EndpointPageSize is the page size requested from the platform
	EndpointPageSize int

	// CacheEntraDevices reuses directory fetches across jobs sharing one
	// tenant credential within a run
	CacheEntraDevices bool

	// CacheKeyIncludesTenantLabel folds the tenant display name into the
	// device cache key. Off by default; exists so fixtures can force cache
	// misses between same-credential tenants.
	CacheKeyIncludesTenantLabel bool
}

// DefaultOptions returns the documented option defaults. Dry-run is the
// default mode: writes only happen when explicitly requested.
func DefaultOptions() Options {
	return Options{
		DryRun:            true,
		MaxPatchesPerJob:  50,
		MaxTotalPatches:   200,
		StopOnJobError:    false,
		StopOnPatchError:  false,
		EndpointPageSize:  50,
		CacheEntraDevices: true,
	}
}

// ApplyConfig layers file-level sync settings onto the defaults. Flag
// overrides are applied by the caller afterwards.
func (o *Options) ApplyConfig(sc *config.SyncConfig) {
	if sc == nil {
		return
	}
	if sc.DryRun != nil {
		o.DryRun = *sc.DryRun
	}
	if sc.MaxPatchesPerJob != nil {
		o.MaxPatchesPerJob = *sc.MaxPatchesPerJob
	}
	if sc.MaxTotalPatches != nil {
		o.MaxTotalPatches = *sc.MaxTotalPatches
	}
	if sc.StopOnJobError != nil {
		o.StopOnJobError = *sc.StopOnJobError
	}
	if sc.StopOnPatchError != nil {
		o.StopOnPatchError = *sc.StopOnPatchError
	}
	if sc.EndpointPageSize != nil {
		o.EndpointPageSize = *sc.EndpointPageSize
	}
	if sc.CacheEntraDevices != nil {
		o.CacheEntraDevices = *sc.CacheEntraDevices
	}
	if sc.CacheKeyTenantName != nil {
		o.CacheKeyIncludesTenantLabel = *sc.CacheKeyTenantName
	}
}

// Orchestrator drives one sync run: it derives the job list, acquires the
// shared platform credential, iterates jobs strictly sequentially, and
// aggregates the run summary.
type Orchestrator struct {
	reader     directory.Reader
	repository platform.Repository
	store      secrets.Store
	logger     *zap.Logger
}

// NewOrchestrator creates an Orchestrator with injected collaborators.
func NewOrchestrator(
	reader directory.Reader,
	repository platform.Repository,
	store secrets.Store,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		reader:     reader,
		repository: repository,
		store:      store,
		logger:     logger,
	}
}

// runState is the accumulator threaded through sequential job iterations.
// It is owned by one Run call; nothing is shared across runs.
type runState struct {
	token        string
	appliedTotal int
	deviceCache  map[string][]directory.DeviceRecord
}

// Run executes the full sync. Job-level failures are captured into the
// summary, never raised; only configuration and shared platform token
// failures abort the run before any job executes.
func (o *Orchestrator) Run(ctx context.Context, cfg *config.Config, opts Options) (*RunSummary, error) {
	jobs := config.GetSyncJobs(cfg)

	summary := &RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		DryRun:    opts.DryRun,
		JobCount:  len(jobs),
	}

	o.logger.Info("Starting sync run",
		zap.String("runId", summary.RunID),
		zap.Int("jobCount", len(jobs)),
		zap.Bool("dryRun", opts.DryRun))

	platformSecret, err := o.store.Get(cfg.Platform.SecretRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve platform secret: %w", err)
	}

	// The one failure allowed to reject the whole run: the shared platform
	// credential is acquired once, before the job loop.
	token, err := o.repository.AcquireToken(ctx, platformSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire platform token: %w", err)
	}

	state := &runState{
		token:       token,
		deviceCache: make(map[string][]directory.DeviceRecord),
	}

	for _, job := range jobs {
		result := o.runJob(ctx, &job, state, opts)
		summary.Jobs = append(summary.Jobs, result)

		if result.Error != "" && opts.StopOnJobError {
			o.logger.Warn("Stopping run after job failure",
				zap.String("tenant", result.TenantName),
				zap.String("organizationId", result.OrganizationID))
			break
		}
	}

	for _, job := range summary.Jobs {
		summary.TotalPatchesPlanned += job.PatchesPlanned
		summary.TotalPatchesApplied += job.PatchesApplied
	}
	summary.Duration = time.Since(summary.StartedAt)

	o.logger.Info("Sync run finished",
		zap.String("runId", summary.RunID),
		zap.Int("totalPlanned", summary.TotalPatchesPlanned),
		zap.Int("totalApplied", summary.TotalPatchesApplied),
		zap.Int("jobFailures", summary.JobFailures()),
		zap.Int("patchFailures", summary.PatchFailures()))

	return summary, nil
}

// runJob executes one job and always returns a JobResult. Fetch and auth
// failures produce a minimal result carrying only the job identity and the
// error message.
func (o *Orchestrator) runJob(ctx context.Context, job *config.SyncJob, state *runState, opts Options) JobResult {
	result := JobResult{
		TenantName:     job.Tenant.Name,
		OrganizationID: job.OrganizationID,
		DryRun:         opts.DryRun,
	}

	logger := o.logger.With(
		zap.String("tenant", job.Tenant.Name),
		zap.String("organizationId", job.OrganizationID))

	devices, err := o.resolveDevices(ctx, job, state, opts)
	if err != nil {
		logger.Error("Failed to fetch directory devices", zap.Error(err))
		result.Error = err.Error()
		return result
	}
	result.DeviceCount = len(devices)

	endpoints, err := o.repository.ListEndpoints(ctx, state.token, job.OrganizationID, opts.EndpointPageSize)
	if err != nil {
		logger.Error("Failed to fetch platform endpoints", zap.Error(err))
		result.Error = err.Error()
		return result
	}
	result.EndpointCount = len(endpoints)

	matches := MatchDevices(devices, endpoints)
	result.MatchedCount = len(matches.Matched)
	result.UnmatchedCount = len(matches.UnmatchedEntra)
	result.AmbiguousCount = len(matches.Ambiguous)

	for _, ambiguous := range matches.Ambiguous {
		logger.Warn("Skipping ambiguous device",
			zap.String("device", ambiguous.Device.DisplayName),
			zap.String("reason", ambiguous.Reason))
	}

	planned := o.buildPlannedPatches(matches.Matched, job.Mappings)
	result.PatchesPlanned = len(planned)
	result.SamplePatches = samplePatches(planned)

	processed := o.enforceLimits(planned, state, opts, &result)
	result.PatchesProcessed = len(processed)

	logger.Debug("Job patch plan",
		zap.Int("planned", result.PatchesPlanned),
		zap.Int("processed", result.PatchesProcessed),
		zap.String("limitedBy", result.LimitedBy))

	if opts.DryRun {
		logger.Info("Dry run, skipping patch application",
			zap.Int("patchesPlanned", result.PatchesPlanned))
		return result
	}

	o.applyPatches(ctx, job, processed, state, opts, &result, logger)
	return result
}

// resolveDevices returns the job's device list, reusing a prior fetch for
// the same tenant credential when caching is enabled.
func (o *Orchestrator) resolveDevices(
	ctx context.Context, job *config.SyncJob, state *runState, opts Options,
) ([]directory.DeviceRecord, error) {
	cacheKey := job.Tenant.TenantID + "|" + job.Tenant.ClientID
	if opts.CacheKeyIncludesTenantLabel {
		cacheKey += "|" + job.Tenant.Name
	}

	if opts.CacheEntraDevices {
		if devices, ok := state.deviceCache[cacheKey]; ok {
			o.logger.Debug("Reusing cached directory devices",
				zap.String("tenant", job.Tenant.Name),
				zap.Int("deviceCount", len(devices)))
			return devices, nil
		}
	}

	secret, err := o.store.Get(job.Tenant.SecretRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenant secret: %w", err)
	}

	devices, err := o.reader.ListDevicesWithGroups(ctx, job.Tenant, secret)
	if err != nil {
		return nil, err
	}

	if opts.CacheEntraDevices {
		state.deviceCache[cacheKey] = devices
	}
	return devices, nil
}

// buildPlannedPatches runs the patch builder over every matched pair,
// keeping match order. Pairs yielding no usable patch are dropped.
func (*Orchestrator) buildPlannedPatches(matched []MatchedPair, mappings []config.PropertyMapping) []PlannedPatch {
	var planned []PlannedPatch
	for i := range matched {
		pair := &matched[i]
		fields := BuildPatch(&pair.Device, mappings)
		if fields == nil {
			continue
		}
		planned = append(planned, PlannedPatch{
			EndpointID: pair.Endpoint.ID,
			DeviceName: pair.Device.DisplayName,
			MatchType:  pair.MatchType,
			Fields:     fields,
		})
	}
	return planned
}

// enforceLimits applies the per-job cap, then the remaining global budget.
// The global counter reflects only patches actually dispatched, so in
// dry-run mode the budget never shrinks across jobs.
func (*Orchestrator) enforceLimits(planned []PlannedPatch, state *runState, opts Options, result *JobResult) []PlannedPatch {
	processed := planned

	if opts.MaxPatchesPerJob >= 0 && len(processed) > opts.MaxPatchesPerJob {
		processed = processed[:opts.MaxPatchesPerJob]
		result.LimitedBy = fmt.Sprintf("%s=%d", limitPerJob, opts.MaxPatchesPerJob)
	}

	if opts.MaxTotalPatches >= 0 {
		remaining := opts.MaxTotalPatches - state.appliedTotal
		if remaining < 0 {
			remaining = 0
		}
		if len(processed) > remaining {
			processed = processed[:remaining]
			limit := fmt.Sprintf("%s=%d", limitTotal, opts.MaxTotalPatches)
			if result.LimitedBy != "" {
				result.LimitedBy += "," + limit
			} else {
				result.LimitedBy = limit
			}
		}
	}

	return processed
}

// applyPatches dispatches the processed patch list one at a time, in order.
// Per-patch failures are recorded and do not abort the job unless
// StopOnPatchError is set. Already-applied patches are never rolled back.
func (o *Orchestrator) applyPatches(
	ctx context.Context,
	job *config.SyncJob,
	processed []PlannedPatch,
	state *runState,
	opts Options,
	result *JobResult,
	logger *zap.Logger,
) {
	for i := range processed {
		patch := &processed[i]

		// An empty patch body means nothing to write; skip silently. A
		// missing target is a malformed item and is recorded as an error.
		if len(patch.Fields) == 0 {
			continue
		}
		if patch.EndpointID == "" {
			result.PatchErrors = append(result.PatchErrors, PatchError{
				Error: fmt.Sprintf("patch for device %q has no target endpoint", patch.DeviceName),
			})
			if opts.StopOnPatchError {
				return
			}
			continue
		}

		_, err := o.repository.ApplyPatch(ctx, state.token, job.OrganizationID, patch.EndpointID, patch.Fields)
		if err != nil {
			logger.Error("Failed to apply patch",
				zap.String("endpointId", patch.EndpointID),
				zap.Error(err))
			result.PatchErrors = append(result.PatchErrors, PatchError{
				EndpointID: patch.EndpointID,
				Error:      err.Error(),
			})
			if opts.StopOnPatchError {
				logger.Warn("Stopping job after patch failure")
				return
			}
			continue
		}

		result.PatchesApplied++
		state.appliedTotal++
	}
}

// samplePatches returns the first few planned patches for the job result
func samplePatches(planned []PlannedPatch) []PlannedPatch {
	if len(planned) == 0 {
		return nil
	}
	n := len(planned)
	if n > sampleSize {
		n = sampleSize
	}
	sample := make([]PlannedPatch, n)
	copy(sample, planned)
	return sample
}
