package config

// SyncJob is the unit of work the orchestrator iterates over: one
// (tenant, organization, mappings) triple. Jobs are stateless values
// recomputed fresh each run.
type SyncJob struct {
	Tenant         *TenantConfig
	OrganizationID string
	Mappings       []PropertyMapping
}

// GetSyncJobs flattens every target scope's organization list against its
// parent tenant and mapping set, preserving configuration order. Pure
// function over validated configuration; performs no I/O.
func GetSyncJobs(cfg *Config) []SyncJob {
	var jobs []SyncJob
	for i := range cfg.Tenants {
		tenant := &cfg.Tenants[i]
		for _, scope := range tenant.Targets {
			for _, orgID := range scope.OrganizationIDs {
				jobs = append(jobs, SyncJob{
					Tenant:         tenant,
					OrganizationID: orgID,
					Mappings:       scope.Mappings,
				})
			}
		}
	}
	return jobs
}
