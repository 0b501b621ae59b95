// Package sync implements the sync orchestration engine: for each
// configured (tenant, organization) pair it fetches directory devices and
// managed endpoints, matches them by name, computes custom-field patches,
// enforces the per-job and global safety limits, and applies or simulates
// the resulting writes.
//
// Jobs run strictly sequentially. Both upstream APIs are rate limited and
// the tool favors a predictable, serializable audit trail over throughput.
// Job-level and patch-level failures are captured into the run summary;
// the run itself only fails when configuration or the one shared platform
// credential cannot be resolved before the job loop starts.
package sync
