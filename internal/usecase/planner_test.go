package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
	"github.com/eliteGoblin/focusd/svcgate/internal/policy"
)

func testConfig() *domain.Configuration {
	return &domain.Configuration{
		Prefix: "Su_",
		Core:   domain.NewServiceSet("Su_Auth", "Su_Gateway"),
		Profiles: map[string]domain.ServiceSet{
			"Web":      domain.NewServiceSet("Su_Web", "Su_Cache", "Su_Auth"),
			"DBOracle": domain.NewServiceSet("Su_Oracle"),
		},
		Exceptions: domain.NewServiceSet("X"),
		Paging: domain.PagingSpec{
			ServiceName:  "Su_Loader",
			SettingsPath: "/tmp/settings.json",
			SettingsKey:  "Query",
			PageSize:     1000000,
		},
	}
}

func TestPlanner_CoreOnly(t *testing.T) {
	mgr := newMockServiceManager(
		snap("Su_Auth", domain.StateStopped, domain.StartupManual),
		snap("Su_Gateway", domain.StateRunning, domain.StartupAutomatic),
		snap("X", domain.StateStopped, domain.StartupAutomatic),
	)
	p := NewPlanner(mgr, zap.NewNop())

	plan, err := p.Build(context.Background(), testConfig(), domain.Operation{Kind: domain.OperationCoreOnly, Action: domain.ActionStart})
	require.NoError(t, err)

	assert.Equal(t, []string{"Su_Auth", "Su_Gateway", "X"}, names(plan.Items))
	for _, it := range plan.Items {
		assert.Equal(t, domain.PhaseCoreTarget, it.Phase.Kind)
		assert.Equal(t, domain.ActionStart, it.IntendedAction)
	}
	assert.Equal(t, policy.ReasonManual, plan.Items[0].Decision.Reason)
	assert.Equal(t, policy.ReasonAutomatic, plan.Items[1].Decision.Reason)
	assert.True(t, plan.Items[2].IsException)
	assert.Equal(t, policy.ReasonExceptionAutomatic, plan.Items[2].Decision.Reason)
	assert.True(t, plan.NeedsConfirmation())
}

func TestPlanner_ProfileOrderingAndPhases(t *testing.T) {
	mgr := newMockServiceManager(
		snap("Su_Auth", domain.StateRunning, domain.StartupManual),
		snap("Su_Gateway", domain.StateRunning, domain.StartupManual),
		snap("Su_Web", domain.StateStopped, domain.StartupManual),
		snap("Su_Cache", domain.StateStopped, domain.StartupManual),
		snap("Su_Oracle", domain.StateRunning, domain.StartupManual),
		snap("Su_Zeta", domain.StateRunning, domain.StartupManual),
		snap("Su_Loader", domain.StateRunning, domain.StartupManual),
		snap("Other", domain.StateRunning, domain.StartupManual),
	)
	p := NewPlanner(mgr, zap.NewNop())

	plan, err := p.Build(context.Background(), testConfig(), domain.Operation{
		Kind: domain.OperationProfile, Profile: "Web", Action: domain.ActionStart, PagingRestart: true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Su_Loader", "Su_Oracle", "Su_Zeta", // StopOthers
		"Su_Cache", "Su_Web", // targets
		"Su_Loader", // paging restart
	}, names(plan.Items))
	assert.Equal(t, 3, plan.Count(domain.PhaseStopOthers))
	assert.Equal(t, 2, plan.Count(domain.PhaseProfileTarget))
	assert.Equal(t, 1, plan.Count(domain.PhasePagingRestart))

	assert.Equal(t, domain.ActionStop, plan.Items[0].IntendedAction)
	assert.Equal(t, domain.ActionStart, plan.Items[3].IntendedAction)
	assert.Equal(t, "ProfileTarget(Web)", plan.Items[3].Phase.String())
	last := plan.Items[len(plan.Items)-1]
	assert.Equal(t, domain.ActionRestart, last.IntendedAction)
	assert.Equal(t, domain.PhasePagingRestart, last.Phase.Kind)

	// One batched fetch over the deduplicated union.
	require.Len(t, mgr.fetchCalls, 1)
	assert.Equal(t, []string{"Su_Cache", "Su_Loader", "Su_Oracle", "Su_Web", "Su_Zeta"}, mgr.fetchCalls[0])
}

func TestPlanner_CoreWinsOverProfile(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	mgr := newMockServiceManager(snap("Su_Web", domain.StateStopped, domain.StartupManual))
	p := NewPlanner(mgr, zap.New(core))

	plan, err := p.Build(context.Background(), testConfig(), domain.Operation{Kind: domain.OperationProfile, Profile: "Web", Action: domain.ActionStart})
	require.NoError(t, err)

	assert.NotContains(t, names(plan.Items), "Su_Auth")
	entries := logs.FilterField(zap.String("reason", ReasonAlsoInCore)).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Su_Auth", entries[0].ContextMap()["service"])
}

func TestPlanner_UnknownProfile(t *testing.T) {
	p := NewPlanner(newMockServiceManager(), zap.NewNop())

	_, err := p.Build(context.Background(), testConfig(), domain.Operation{Kind: domain.OperationProfile, Profile: "Nope", Action: domain.ActionStart})
	require.ErrorIs(t, err, domain.ErrUnknownProfile)

	var pe *domain.ProfileError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, []string{"DBOracle", "Web"}, pe.Available)
}

func TestPlanner_UnseenNamesAreNotFound(t *testing.T) {
	p := NewPlanner(newMockServiceManager(), zap.NewNop())

	plan, err := p.Build(context.Background(), testConfig(), domain.Operation{Kind: domain.OperationCoreOnly, Action: domain.ActionStop})
	require.NoError(t, err)
	for _, it := range plan.Items {
		assert.Equal(t, domain.StateNotFound, it.Snapshot.CurrentState)
		assert.Equal(t, domain.StartupUnknown, it.Snapshot.StartupMode)
	}
	assert.Equal(t, policy.ReasonUnknownMode, plan.Items[0].Decision.Reason)
	assert.Equal(t, policy.ReasonException, plan.Items[2].Decision.Reason)
}

func TestPlanner_PagingOnly(t *testing.T) {
	mgr := newMockServiceManager(snap("Su_Loader", domain.StateRunning, domain.StartupManual))
	p := NewPlanner(mgr, zap.NewNop())

	plan, err := p.Build(context.Background(), testConfig(), domain.Operation{Kind: domain.OperationPaging, Action: domain.ActionRestart, PagingRestart: true})
	require.NoError(t, err)
	require.Len(t, plan.Items, 1)
	assert.Equal(t, "Su_Loader", plan.Items[0].ServiceName)
	assert.True(t, plan.Items[0].Decision.Eligible)
}

func TestPlanner_NoPagingServiceNoRestartItem(t *testing.T) {
	cfg := testConfig()
	cfg.Paging.ServiceName = ""
	p := NewPlanner(newMockServiceManager(), zap.NewNop())

	plan, err := p.Build(context.Background(), cfg, domain.Operation{Kind: domain.OperationCoreOnly, Action: domain.ActionStart, PagingRestart: true})
	require.NoError(t, err)
	assert.Zero(t, plan.Count(domain.PhasePagingRestart))
}

func TestPlanner_RepeatableWithoutMutation(t *testing.T) {
	mgr := newMockServiceManager(snap("Su_Auth", domain.StateStopped, domain.StartupManual))
	p := NewPlanner(mgr, zap.NewNop())
	op := domain.Operation{Kind: domain.OperationCoreOnly, Action: domain.ActionStart}

	first, err := p.Build(context.Background(), testConfig(), op)
	require.NoError(t, err)
	second, err := p.Build(context.Background(), testConfig(), op)
	require.NoError(t, err)

	assert.Equal(t, first.Items, second.Items)
	assert.Empty(t, mgr.calls)
}
