package sync_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/devicelabs/entrasync/internal/config"
	"github.com/devicelabs/entrasync/internal/directory"
	directorymocks "github.com/devicelabs/entrasync/internal/directory/mocks"
	"github.com/devicelabs/entrasync/internal/platform"
	platformmocks "github.com/devicelabs/entrasync/internal/platform/mocks"
	"github.com/devicelabs/entrasync/internal/secrets"
	secretsmocks "github.com/devicelabs/entrasync/internal/secrets/mocks"
	"github.com/devicelabs/entrasync/internal/sync"
)

const testToken = "platform-token"

// fleet builds n device/endpoint pairs that match by full name and carry a
// usable attribute, so each pair yields exactly one planned patch.
func fleet(n int) ([]directory.DeviceRecord, []platform.Endpoint) {
	devices := make([]directory.DeviceRecord, 0, n)
	endpoints := make([]platform.Endpoint, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("host%03d", i)
		devices = append(devices, directory.DeviceRecord{
			ID:          "dev-" + name,
			DisplayName: name,
			Ownership:   "company",
		})
		endpoints = append(endpoints, platform.Endpoint{
			ID:   "ep-" + name,
			Name: name,
		})
	}
	return devices, endpoints
}

func testConfig(orgIDs ...string) *config.Config {
	return &config.Config{
		Platform: config.PlatformConfig{
			BaseURL:   "https://platform.example.com",
			ClientID:  "platform-client",
			SecretRef: "platform-secret",
		},
		Tenants: []config.TenantConfig{
			{
				Name:      "contoso",
				TenantID:  "tenant-1",
				ClientID:  "app-1",
				SecretRef: "contoso-secret",
				Targets: []config.TargetScope{
					{
						OrganizationIDs: orgIDs,
						Mappings: []config.PropertyMapping{
							{EntraProperty: "deviceOwnership", CustomField: "ownership"},
						},
					},
				},
			},
		},
	}
}

func testStore() secrets.Store {
	store := secrets.NewMemoryStore()
	_ = store.Set("platform-secret", "ps")
	_ = store.Set("contoso-secret", "cs")
	_ = store.Set("fabrikam-secret", "fs")
	return store
}

func TestRunPerJobLimit(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	devices, endpoints := fleet(70)
	reader := directorymocks.NewMockReader(ctrl)
	reader.EXPECT().ListDevicesWithGroups(gomock.Any(), gomock.Any(), "cs").Return(devices, nil)

	repo := platformmocks.NewMockRepository(ctrl)
	repo.EXPECT().AcquireToken(gomock.Any(), "ps").Return(testToken, nil)
	repo.EXPECT().ListEndpoints(gomock.Any(), testToken, "org-1", 50).Return(endpoints, nil)
	repo.EXPECT().ApplyPatch(gomock.Any(), testToken, "org-1", gomock.Any(), gomock.Any()).
		Return(&platform.Endpoint{}, nil).Times(50)

	opts := sync.DefaultOptions()
	opts.DryRun = false

	orch := sync.NewOrchestrator(reader, repo, testStore(), zap.NewNop())
	summary, err := orch.Run(context.Background(), testConfig("org-1"), opts)
	require.NoError(t, err)

	require.Len(t, summary.Jobs, 1)
	job := summary.Jobs[0]
	assert.Equal(t, 70, job.PatchesPlanned)
	assert.Equal(t, 50, job.PatchesProcessed)
	assert.Equal(t, 50, job.PatchesApplied)
	assert.Contains(t, job.LimitedBy, "maxPatchesPerJob=50")
	assert.Equal(t, 70, summary.TotalPatchesPlanned)
	assert.Equal(t, 50, summary.TotalPatchesApplied)
}

func TestRunGlobalLimitSpansJobs(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	devices, endpoints := fleet(150)
	reader := directorymocks.NewMockReader(ctrl)
	reader.EXPECT().ListDevicesWithGroups(gomock.Any(), gomock.Any(), "cs").Return(devices, nil)

	repo := platformmocks.NewMockRepository(ctrl)
	repo.EXPECT().AcquireToken(gomock.Any(), "ps").Return(testToken, nil)
	repo.EXPECT().ListEndpoints(gomock.Any(), testToken, "org-1", 50).Return(endpoints, nil)
	repo.EXPECT().ListEndpoints(gomock.Any(), testToken, "org-2", 50).Return(endpoints, nil)
	repo.EXPECT().ApplyPatch(gomock.Any(), testToken, "org-1", gomock.Any(), gomock.Any()).
		Return(&platform.Endpoint{}, nil).Times(150)
	repo.EXPECT().ApplyPatch(gomock.Any(), testToken, "org-2", gomock.Any(), gomock.Any()).
		Return(&platform.Endpoint{}, nil).Times(50)

	opts := sync.DefaultOptions()
	opts.DryRun = false
	opts.MaxPatchesPerJob = 500 // per-job cap out of the way
	opts.MaxTotalPatches = 200

	orch := sync.NewOrchestrator(reader, repo, testStore(), zap.NewNop())
	summary, err := orch.Run(context.Background(), testConfig("org-1", "org-2"), opts)
	require.NoError(t, err)

	require.Len(t, summary.Jobs, 2)
	assert.Equal(t, 150, summary.Jobs[0].PatchesApplied)
	assert.Empty(t, summary.Jobs[0].LimitedBy)
	assert.Equal(t, 50, summary.Jobs[1].PatchesApplied)
	assert.Contains(t, summary.Jobs[1].LimitedBy, "maxTotalPatches")
	assert.Equal(t, 200, summary.TotalPatchesApplied)
}

func TestRunGlobalLimitExhaustedYieldsEmptyJob(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	devices, endpoints := fleet(10)
	reader := directorymocks.NewMockReader(ctrl)
	reader.EXPECT().ListDevicesWithGroups(gomock.Any(), gomock.Any(), "cs").Return(devices, nil)

	repo := platformmocks.NewMockRepository(ctrl)
	repo.EXPECT().AcquireToken(gomock.Any(), "ps").Return(testToken, nil)
	repo.EXPECT().ListEndpoints(gomock.Any(), testToken, "org-1", 50).Return(endpoints, nil)
	repo.EXPECT().ListEndpoints(gomock.Any(), testToken, "org-2", 50).Return(endpoints, nil)
	repo.EXPECT().ApplyPatch(gomock.Any(), testToken, "org-1", gomock.Any(), gomock.Any()).
		Return(&platform.Endpoint{}, nil).Times(10)

	opts := sync.DefaultOptions()
	opts.DryRun = false
	opts.MaxTotalPatches = 10

	orch := sync.NewOrchestrator(reader, repo, testStore(), zap.NewNop())
	summary, err := orch.Run(context.Background(), testConfig("org-1", "org-2"), opts)
	require.NoError(t, err)

	require.Len(t, summary.Jobs, 2)
	assert.Equal(t, 10, summary.Jobs[0].PatchesApplied)
	assert.Equal(t, 0, summary.Jobs[1].PatchesProcessed)
	assert.Equal(t, 0, summary.Jobs[1].PatchesApplied)
	assert.Contains(t, summary.Jobs[1].LimitedBy, "maxTotalPatches")
}

func TestRunDryRunNeverApplies(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	devices, endpoints := fleet(300)
	reader := directorymocks.NewMockReader(ctrl)
	reader.EXPECT().ListDevicesWithGroups(gomock.Any(), gomock.Any(), "cs").Return(devices, nil)

	repo := platformmocks.NewMockRepository(ctrl)
	repo.EXPECT().AcquireToken(gomock.Any(), "ps").Return(testToken, nil)
	repo.EXPECT().ListEndpoints(gomock.Any(), testToken, "org-1", 50).Return(endpoints, nil)
	repo.EXPECT().ListEndpoints(gomock.Any(), testToken, "org-2", 50).Return(endpoints, nil)
	// No ApplyPatch expectation: any call fails the test.

	opts := sync.DefaultOptions() // dry run is the default

	orch := sync.NewOrchestrator(reader, repo, testStore(), zap.NewNop())
	summary, err := orch.Run(context.Background(), testConfig("org-1", "org-2"), opts)
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	for _, job := range summary.Jobs {
		assert.Equal(t, 0, job.PatchesApplied)
		assert.Equal(t, 300, job.PatchesPlanned)
	}
	assert.Equal(t, 0, summary.TotalPatchesApplied)
	// Dry-run dispatches nothing, so the global budget never shrinks and
	// both jobs get the same per-job truncation.
	assert.Equal(t, summary.Jobs[0].LimitedBy, summary.Jobs[1].LimitedBy)
}

func TestRunDeviceCacheReuse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cache      bool
		wantCalls  int
		totalCalls int
	}{
		{name: "cache enabled fetches once", cache: true, wantCalls: 1},
		{name: "cache disabled fetches per job", cache: false, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)

			devices, endpoints := fleet(3)
			reader := directorymocks.NewMockReader(ctrl)
			reader.EXPECT().ListDevicesWithGroups(gomock.Any(), gomock.Any(), "cs").
				Return(devices, nil).Times(tt.wantCalls)

			repo := platformmocks.NewMockRepository(ctrl)
			repo.EXPECT().AcquireToken(gomock.Any(), "ps").Return(testToken, nil)
			repo.EXPECT().ListEndpoints(gomock.Any(), testToken, gomock.Any(), 50).
				Return(endpoints, nil).Times(2)

			opts := sync.DefaultOptions()
			opts.CacheEntraDevices = tt.cache

			orch := sync.NewOrchestrator(reader, repo, testStore(), zap.NewNop())
			_, err := orch.Run(context.Background(), testConfig("org-1", "org-2"), opts)
			require.NoError(t, err)
		})
	}
}

func TestRunCacheKeyTenantLabelForcesMiss(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	// Two tenant entries sharing one credential pair but with different
	// labels; the label-aware cache key keeps their fetches separate.
	cfg := testConfig("org-1")
	second := cfg.Tenants[0]
	second.Name = "contoso-emea"
	second.SecretRef = "fabrikam-secret"
	second.Targets = []config.TargetScope{{
		OrganizationIDs: []string{"org-2"},
		Mappings:        cfg.Tenants[0].Targets[0].Mappings,
	}}
	cfg.Tenants = append(cfg.Tenants, second)

	devices, endpoints := fleet(2)
	reader := directorymocks.NewMockReader(ctrl)
	reader.EXPECT().ListDevicesWithGroups(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(devices, nil).Times(2)

	repo := platformmocks.NewMockRepository(ctrl)
	repo.EXPECT().AcquireToken(gomock.Any(), "ps").Return(testToken, nil)
	repo.EXPECT().ListEndpoints(gomock.Any(), testToken, gomock.Any(), 50).
		Return(endpoints, nil).Times(2)

	opts := sync.DefaultOptions()
	opts.CacheKeyIncludesTenantLabel = true

	orch := sync.NewOrchestrator(reader, repo, testStore(), zap.NewNop())
	_, err := orch.Run(context.Background(), cfg, opts)
	require.NoError(t, err)
}

func TestRunJobErrorIsolation(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	devices, endpoints := fleet(2)
	reader := directorymocks.NewMockReader(ctrl)
	reader.EXPECT().ListDevicesWithGroups(gomock.Any(), gomock.Any(), "cs").
		Return(devices, nil).AnyTimes()

	repo := platformmocks.NewMockRepository(ctrl)
	repo.EXPECT().AcquireToken(gomock.Any(), "ps").Return(testToken, nil)
	repo.EXPECT().ListEndpoints(gomock.Any(), testToken, "org-1", 50).
		Return(nil, fmt.Errorf("HTTP 503 for URL /endpoints: Service Unavailable"))
	repo.EXPECT().ListEndpoints(gomock.Any(), testToken, "org-2", 50).Return(endpoints, nil)

	opts := sync.DefaultOptions()

	orch := sync.NewOrchestrator(reader, repo, testStore(), zap.NewNop())
	summary, err := orch.Run(context.Background(), testConfig("org-1", "org-2"), opts)
	require.NoError(t, err)

	require.Len(t, summary.Jobs, 2)

	failed := summary.Jobs[0]
	assert.Equal(t, "contoso", failed.TenantName)
	assert.Equal(t, "org-1", failed.OrganizationID)
	assert.Contains(t, failed.Error, "503")
	assert.True(t, failed.DryRun)
	assert.Zero(t, failed.PatchesPlanned)

	assert.Empty(t, summary.Jobs[1].Error)
	assert.Equal(t, 2, summary.Jobs[1].PatchesPlanned)
	assert.Equal(t, 1, summary.JobFailures())
}

func TestRunStopOnJobError(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	reader := directorymocks.NewMockReader(ctrl)
	reader.EXPECT().ListDevicesWithGroups(gomock.Any(), gomock.Any(), "cs").
		Return(nil, &directory.AuthError{Tenant: "contoso", Err: fmt.Errorf("invalid client secret")})

	repo := platformmocks.NewMockRepository(ctrl)
	repo.EXPECT().AcquireToken(gomock.Any(), "ps").Return(testToken, nil)
	// org-2 must never be listed once the run stops.

	opts := sync.DefaultOptions()
	opts.StopOnJobError = true

	orch := sync.NewOrchestrator(reader, repo, testStore(), zap.NewNop())
	summary, err := orch.Run(context.Background(), testConfig("org-1", "org-2"), opts)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.JobCount)
	require.Len(t, summary.Jobs, 1)
	assert.Contains(t, summary.Jobs[0].Error, "invalid client secret")
}

func TestRunPatchErrorHandling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		stopOnPatchError bool
		wantApplied      int
		wantErrors       int
	}{
		{name: "failures recorded, job continues", stopOnPatchError: false, wantApplied: 2, wantErrors: 1},
		{name: "stopOnPatchError halts the job", stopOnPatchError: true, wantApplied: 1, wantErrors: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)

			devices, endpoints := fleet(3)
			reader := directorymocks.NewMockReader(ctrl)
			reader.EXPECT().ListDevicesWithGroups(gomock.Any(), gomock.Any(), "cs").Return(devices, nil)

			repo := platformmocks.NewMockRepository(ctrl)
			repo.EXPECT().AcquireToken(gomock.Any(), "ps").Return(testToken, nil)
			repo.EXPECT().ListEndpoints(gomock.Any(), testToken, "org-1", 50).Return(endpoints, nil)

			applyCalls := 0
			expectedCalls := 2
			if !tt.stopOnPatchError {
				expectedCalls = 3
			}
			repo.EXPECT().ApplyPatch(gomock.Any(), testToken, "org-1", gomock.Any(), gomock.Any()).
				DoAndReturn(func(context.Context, string, string, string, map[string]string) (*platform.Endpoint, error) {
					applyCalls++
					if applyCalls == 2 {
						return nil, fmt.Errorf("HTTP 422 for URL /custom-fields: Unprocessable Entity")
					}
					return &platform.Endpoint{}, nil
				}).Times(expectedCalls)

			opts := sync.DefaultOptions()
			opts.DryRun = false
			opts.StopOnPatchError = tt.stopOnPatchError

			orch := sync.NewOrchestrator(reader, repo, testStore(), zap.NewNop())
			summary, err := orch.Run(context.Background(), testConfig("org-1"), opts)
			require.NoError(t, err)

			job := summary.Jobs[0]
			assert.Equal(t, tt.wantApplied, job.PatchesApplied)
			require.Len(t, job.PatchErrors, tt.wantErrors)
			assert.NotEmpty(t, job.PatchErrors[0].EndpointID)
			assert.Contains(t, job.PatchErrors[0].Error, "422")
		})
	}
}

func TestRunPlatformTokenFailureAbortsRun(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	reader := directorymocks.NewMockReader(ctrl)
	repo := platformmocks.NewMockRepository(ctrl)
	repo.EXPECT().AcquireToken(gomock.Any(), "ps").
		Return("", &platform.AuthError{Err: fmt.Errorf("invalid_client")})

	orch := sync.NewOrchestrator(reader, repo, testStore(), zap.NewNop())
	summary, err := orch.Run(context.Background(), testConfig("org-1"), sync.DefaultOptions())

	require.Error(t, err)
	assert.Nil(t, summary)
	assert.Contains(t, err.Error(), "platform token")
}

func TestRunMissingPlatformSecretAbortsRun(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	orch := sync.NewOrchestrator(
		directorymocks.NewMockReader(ctrl),
		platformmocks.NewMockRepository(ctrl),
		secrets.NewMemoryStore(),
		zap.NewNop(),
	)

	_, err := orch.Run(context.Background(), testConfig("org-1"), sync.DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, secrets.ErrNotFound)
}

func TestRunSecretStoreFailureAbortsRun(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	// Backend failures (locked keychain, dead dbus session) are not the
	// same as a missing slot and must surface as-is.
	store := secretsmocks.NewMockStore(ctrl)
	store.EXPECT().Get("platform-secret").Return("", fmt.Errorf("keyring backend unavailable"))

	orch := sync.NewOrchestrator(
		directorymocks.NewMockReader(ctrl),
		platformmocks.NewMockRepository(ctrl),
		store,
		zap.NewNop(),
	)

	_, err := orch.Run(context.Background(), testConfig("org-1"), sync.DefaultOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keyring backend unavailable")
}

func TestRunMissingTenantSecretFailsJobOnly(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	store := secrets.NewMemoryStore()
	_ = store.Set("platform-secret", "ps")

	repo := platformmocks.NewMockRepository(ctrl)
	repo.EXPECT().AcquireToken(gomock.Any(), "ps").Return(testToken, nil)

	orch := sync.NewOrchestrator(
		directorymocks.NewMockReader(ctrl), repo, store, zap.NewNop())

	summary, err := orch.Run(context.Background(), testConfig("org-1"), sync.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, summary.Jobs, 1)
	assert.Contains(t, summary.Jobs[0].Error, "tenant secret")
}

func TestRunSamplePatchesBounded(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	devices, endpoints := fleet(20)
	reader := directorymocks.NewMockReader(ctrl)
	reader.EXPECT().ListDevicesWithGroups(gomock.Any(), gomock.Any(), "cs").Return(devices, nil)

	repo := platformmocks.NewMockRepository(ctrl)
	repo.EXPECT().AcquireToken(gomock.Any(), "ps").Return(testToken, nil)
	repo.EXPECT().ListEndpoints(gomock.Any(), testToken, "org-1", 50).Return(endpoints, nil)

	orch := sync.NewOrchestrator(reader, repo, testStore(), zap.NewNop())
	summary, err := orch.Run(context.Background(), testConfig("org-1"), sync.DefaultOptions())
	require.NoError(t, err)

	job := summary.Jobs[0]
	assert.Len(t, job.SamplePatches, 5)
	assert.Equal(t, "ep-host000", job.SamplePatches[0].EndpointID)
	assert.Equal(t, sync.MatchTypeFull, job.SamplePatches[0].MatchType)
	assert.Equal(t, map[string]string{"custom:ownership": "company"}, job.SamplePatches[0].Fields)
}
