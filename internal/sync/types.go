package sync

import (
	"time"

	"github.com/devicelabs/entrasync/internal/directory"
	"github.com/devicelabs/entrasync/internal/platform"
)

// Match types
const (
	// MatchTypeFull indicates a match on the full normalized device name
	MatchTypeFull = "full"

	// MatchTypeShort indicates a match on the FQDN-stripped short name
	MatchTypeShort = "short"
)

// Ambiguity reasons
const (
	// ReasonDuplicateFull means multiple endpoints share the device's full name
	ReasonDuplicateFull = "duplicate_full"

	// ReasonDuplicateShort means multiple endpoints share the device's short name
	ReasonDuplicateShort = "duplicate_short"
)

// MatchedPair is one device/endpoint pairing produced by the matcher
type MatchedPair struct {
	Device    directory.DeviceRecord
	Endpoint  platform.Endpoint
	MatchType string
}

// AmbiguousDevice is a device whose candidate endpoint set has more than
// one member. The sync never guesses among equally-named endpoints.
type AmbiguousDevice struct {
	Device directory.DeviceRecord
	Reason string
}

// MatchResult partitions the device list into three disjoint buckets.
// Every input device lands in exactly one.
type MatchResult struct {
	Matched        []MatchedPair
	UnmatchedEntra []directory.DeviceRecord
	Ambiguous      []AmbiguousDevice
}

// PlannedPatch is one computed attribute write, ready to dispatch
type PlannedPatch struct {
	EndpointID string            `json:"endpointId"`
	DeviceName string            `json:"deviceName"`
	MatchType  string            `json:"matchType"`
	Fields     map[string]string `json:"fields"`
}

// PatchError records one failed patch application
type PatchError struct {
	EndpointID string `json:"endpointId"`
	Error      string `json:"error"`
}

// JobResult is the per-job record in the run summary
type JobResult struct {
	TenantName     string `json:"tenantName"`
	OrganizationID string `json:"organizationId"`
	DryRun         bool   `json:"dryRun"`

	// Error carries the job-level failure, if the job failed before its
	// patch phase. When set, the remaining fields are zero.
	Error string `json:"error,omitempty"`

	DeviceCount   int `json:"deviceCount"`
	EndpointCount int `json:"endpointCount"`

	MatchedCount   int `json:"matchedCount"`
	UnmatchedCount int `json:"unmatchedCount"`
	AmbiguousCount int `json:"ambiguousCount"`

	// PatchesPlanned counts patches computed before limit enforcement
	PatchesPlanned int `json:"patchesPlanned"`

	// PatchesProcessed counts patches that survived limit enforcement
	PatchesProcessed int `json:"patchesProcessed"`

	// PatchesApplied counts patches actually dispatched to the platform.
	// Always zero in dry-run mode.
	PatchesApplied int `json:"patchesApplied"`

	// LimitedBy names the limit(s) that truncated this job, empty when
	// nothing was held back
	LimitedBy string `json:"limitedBy,omitempty"`

	PatchErrors []PatchError `json:"patchErrors,omitempty"`

	// SamplePatches holds the first few planned patches for auditing
	SamplePatches []PlannedPatch `json:"samplePatches,omitempty"`
}

// RunSummary is the terminal artifact of one sync run
type RunSummary struct {
	RunID     string        `json:"runId"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`

	DryRun   bool `json:"dryRun"`
	JobCount int  `json:"jobCount"`

	TotalPatchesPlanned int `json:"totalPatchesPlanned"`
	TotalPatchesApplied int `json:"totalPatchesApplied"`

	Jobs []JobResult `json:"jobs"`
}

// JobFailures counts jobs that failed outright
func (s *RunSummary) JobFailures() int {
	count := 0
	for _, job := range s.Jobs {
		if job.Error != "" {
			count++
		}
	}
	return count
}

// PatchFailures counts individual patch application failures across jobs
func (s *RunSummary) PatchFailures() int {
	count := 0
	for _, job := range s.Jobs {
		count += len(job.PatchErrors)
	}
	return count
}

// Clean reports whether the run finished with no job or patch failures
func (s *RunSummary) Clean() bool {
	return s.JobFailures() == 0 && s.PatchFailures() == 0
}
