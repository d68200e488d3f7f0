package feature

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roosthq/roost/pkg/faults"
	"github.com/roosthq/roost/pkg/guest"
	"github.com/roosthq/roost/pkg/types"
)

// stubModule is a scriptable feature module for applier tests
type stubModule struct {
	name       string
	requires   []string
	bestEffort bool
	satisfied  bool
	probeErr   error
	applyErr   error
	probes     int
	applies    int
}

func (m *stubModule) Name() string       { return m.name }
func (m *stubModule) Requires() []string { return m.requires }
func (m *stubModule) BestEffort() bool   { return m.bestEffort }

func (m *stubModule) Probe(ctx context.Context, g *types.GuestSpec, mgr guest.Manager) (bool, error) {
	m.probes++
	return m.satisfied, m.probeErr
}

func (m *stubModule) Apply(ctx context.Context, g *types.GuestSpec, mgr guest.Manager) error {
	m.applies++
	return m.applyErr
}

func guestWith(features ...string) *types.GuestSpec {
	return &types.GuestSpec{ID: 910, Name: "db", Kind: types.GuestKindContainer, Features: features}
}

func newApplier(t *testing.T, warnings *faults.Warnings, mods ...Module) *Applier {
	t.Helper()
	reg := NewRegistry()
	for _, m := range mods {
		require.NoError(t, reg.Register(m))
	}
	return NewApplier(reg, guest.NewMemManager(), warnings)
}

func TestApplySkipsSatisfiedFeature(t *testing.T) {
	mod := &stubModule{name: "docker", satisfied: true}
	var w faults.Warnings
	a := newApplier(t, &w, mod)

	results, err := a.Apply(context.Background(), guestWith("docker"))
	require.NoError(t, err)
	assert.Equal(t, ResultSatisfied, results["docker"])
	assert.Equal(t, 1, mod.probes)
	assert.Zero(t, mod.applies, "apply must never run when probe reports satisfied")
}

func TestApplyRunsUnsatisfiedFeaturesInOrder(t *testing.T) {
	var order []string
	first := &orderedModule{stubModule: stubModule{name: "base"}, order: &order}
	second := &orderedModule{stubModule: stubModule{name: "docker"}, order: &order}
	var w faults.Warnings
	a := newApplier(t, &w, first, second)

	results, err := a.Apply(context.Background(), guestWith("base", "docker"))
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "docker"}, order)
	assert.Equal(t, ResultApplied, results["base"])
	assert.Equal(t, ResultApplied, results["docker"])
}

type orderedModule struct {
	stubModule
	order *[]string
}

func (m *orderedModule) Apply(ctx context.Context, g *types.GuestSpec, mgr guest.Manager) error {
	*m.order = append(*m.order, m.name)
	return m.stubModule.Apply(ctx, g, mgr)
}

func TestApplyFatalFailureShortCircuits(t *testing.T) {
	failing := &stubModule{name: "docker", applyErr: errors.New("apt broke")}
	never := &stubModule{name: "portainer", requires: []string{"docker"}}
	var w faults.Warnings
	a := newApplier(t, &w, failing, never)

	results, err := a.Apply(context.Background(), guestWith("docker", "portainer"))
	require.Error(t, err)
	assert.Equal(t, faults.KindFatalOperation, faults.KindOf(err))
	assert.Equal(t, ResultFailed, results["docker"])
	assert.Zero(t, never.probes, "features after a fatal failure must not run")
	assert.True(t, w.Empty())
}

func TestApplyBestEffortFailureContinues(t *testing.T) {
	flaky := &stubModule{name: "monitoring-agent", bestEffort: true, applyErr: errors.New("mirror down")}
	next := &stubModule{name: "docker"}
	var w faults.Warnings
	a := newApplier(t, &w, flaky, next)

	results, err := a.Apply(context.Background(), guestWith("monitoring-agent", "docker"))
	require.NoError(t, err)
	assert.Equal(t, ResultFailed, results["monitoring-agent"])
	assert.Equal(t, ResultApplied, results["docker"])
	require.False(t, w.Empty())
	assert.Contains(t, w.Strings()[0], "monitoring-agent")
}

func TestApplyUnknownFeatureIsFatalConfig(t *testing.T) {
	var w faults.Warnings
	a := newApplier(t, &w)

	_, err := a.Apply(context.Background(), guestWith("no-such-feature"))
	require.Error(t, err)
	assert.Equal(t, faults.KindFatalConfig, faults.KindOf(err))
}

func TestApplyProbeErrorIsFatal(t *testing.T) {
	mod := &stubModule{name: "docker", probeErr: errors.New("exec transport broken")}
	var w faults.Warnings
	a := newApplier(t, &w, mod)

	_, err := a.Apply(context.Background(), guestWith("docker"))
	require.Error(t, err)
	assert.Equal(t, faults.KindFatalOperation, faults.KindOf(err))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubModule{name: "docker"}))
	assert.Error(t, reg.Register(&stubModule{name: "docker"}))
}

func TestExecModuleProbeAndApply(t *testing.T) {
	mgr := guest.NewMemManager()
	mgr.Seed(&types.GuestSpec{ID: 910, Name: "db", Kind: types.GuestKindContainer})

	probeExit := 1
	mgr.ExecFn = func(id int, command ...string) (string, int, error) {
		if command[0] == "which" {
			return "", probeExit, nil
		}
		return "ok", 0, nil
	}

	mod := &ExecModule{
		FeatureName:  "docker",
		ProbeCommand: []string{"which", "docker"},
		ScriptPath:   "/srv/features/docker.sh",
	}

	g := guestWith("docker")
	satisfied, err := mod.Probe(context.Background(), g, mgr)
	require.NoError(t, err)
	assert.False(t, satisfied)

	require.NoError(t, mod.Apply(context.Background(), g, mgr))
	assert.Contains(t, mgr.Calls, "push(910,/srv/features/docker.sh,/tmp/docker.sh)")

	probeExit = 0
	satisfied, err = mod.Probe(context.Background(), g, mgr)
	require.NoError(t, err)
	assert.True(t, satisfied)
}

func TestExecModuleApplyFailureIncludesOutput(t *testing.T) {
	mgr := guest.NewMemManager()
	mgr.Seed(&types.GuestSpec{ID: 910, Name: "db", Kind: types.GuestKindContainer})
	mgr.ExecFn = func(id int, command ...string) (string, int, error) {
		return "E: unable to locate package", 100, nil
	}

	mod := &ExecModule{FeatureName: "docker", ScriptPath: "/srv/features/docker.sh"}
	err := mod.Apply(context.Background(), guestWith("docker"), mgr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit 100")
	assert.Contains(t, err.Error(), "unable to locate package")
}
