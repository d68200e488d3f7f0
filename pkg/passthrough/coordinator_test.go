package passthrough

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roosthq/roost/pkg/faults"
	"github.com/roosthq/roost/pkg/guest"
	"github.com/roosthq/roost/pkg/retry"
	"github.com/roosthq/roost/pkg/storage"
	"github.com/roosthq/roost/pkg/types"
)

func gpuGuest() *types.GuestSpec {
	return &types.GuestSpec{
		ID: 950, Name: "llm", Kind: types.GuestKindContainer,
		Accelerator: []int{0, 1},
	}
}

func fastPoll() retry.Policy {
	return retry.Policy{Interval: time.Millisecond, MaxAttempts: 3}
}

// deviceExec simulates in-guest device probes: visible controls
// whether test -e on the device node succeeds
type deviceExec struct {
	visible bool
}

func (d *deviceExec) fn(id int, command ...string) (string, int, error) {
	if command[0] == "test" {
		if d.visible {
			return "", 0, nil
		}
		return "", 1, nil
	}
	if command[0] == "ls" {
		return "crw-rw-rw- 1 root root 195, 255 nvidiactl", 0, nil
	}
	return "", 0, nil
}

func setup(t *testing.T, policy Policy) (*Coordinator, *guest.MemManager, *deviceExec, *storage.MemStore, *faults.Warnings) {
	t.Helper()
	mgr := guest.NewMemManager()
	dev := &deviceExec{}
	mgr.ExecFn = dev.fn
	state := storage.NewMemStore()
	var w faults.Warnings
	c := NewCoordinator(guest.NewLifecycle(mgr), state, policy, fastPoll(), &w)
	return c, mgr, dev, state, &w
}

func countRestarts(calls []string) int {
	n := 0
	for _, c := range calls {
		if strings.HasPrefix(c, "stop(") {
			n++
		}
	}
	return n
}

func TestConfigEntriesCoverAssignedAndControlDevices(t *testing.T) {
	entries := ConfigEntries(gpuGuest())
	joined := strings.Join(entries, "\n")
	assert.Contains(t, joined, "/dev/nvidia0")
	assert.Contains(t, joined, "/dev/nvidia1")
	assert.Contains(t, joined, "/dev/nvidiactl")
	assert.Contains(t, joined, "/dev/nvidia-uvm")
	assert.Contains(t, joined, "cgroup2.devices.allow")
}

func TestEnsureFreshGuestMutatesRestartsOncePolls(t *testing.T) {
	c, mgr, dev, state, _ := setup(t, PolicyStrict)
	g := gpuGuest()
	mgr.SeedRunning(g)
	dev.visible = true

	require.NoError(t, c.Ensure(context.Background(), g))

	assert.Equal(t, 1, countRestarts(mgr.Calls), "exactly one restart expected")
	st, _ := state.PassthroughState(g.ID)
	assert.Equal(t, types.PassthroughReady, st)
	assert.NotEmpty(t, mgr.ConfigEntries(g.ID))
}

func TestEnsureNoNewEntriesSkipsRestart(t *testing.T) {
	c, mgr, dev, state, _ := setup(t, PolicyStrict)
	g := gpuGuest()
	mgr.SeedRunning(g)
	dev.visible = true

	// pre-seed every entry the coordinator would add
	for _, e := range ConfigEntries(g) {
		_, err := mgr.SetConfigEntry(context.Background(), g.ID, e)
		require.NoError(t, err)
	}
	mgr.Calls = nil

	require.NoError(t, c.Ensure(context.Background(), g))

	assert.Zero(t, countRestarts(mgr.Calls), "no restart when nothing changed")
	st, _ := state.PassthroughState(g.ID)
	assert.Equal(t, types.PassthroughReady, st)
}

func TestEnsureReadyGuestIsNoOp(t *testing.T) {
	c, mgr, dev, state, _ := setup(t, PolicyStrict)
	g := gpuGuest()
	mgr.SeedRunning(g)
	dev.visible = true
	require.NoError(t, state.SetPassthroughState(g.ID, types.PassthroughReady))
	mgr.Calls = nil

	require.NoError(t, c.Ensure(context.Background(), g))
	assert.Zero(t, countRestarts(mgr.Calls))
}

func TestEnsureResumesFromPersistedState(t *testing.T) {
	// an interrupted run left the guest Mutated; a new coordinator
	// instance must resume with the restart, not re-mutate
	mgr := guest.NewMemManager()
	dev := &deviceExec{visible: true}
	mgr.ExecFn = dev.fn
	state := storage.NewMemStore()
	g := gpuGuest()
	mgr.SeedRunning(g)
	require.NoError(t, state.SetPassthroughState(g.ID, types.PassthroughMutated))

	var w faults.Warnings
	c := NewCoordinator(guest.NewLifecycle(mgr), state, PolicyStrict, fastPoll(), &w)
	require.NoError(t, c.Ensure(context.Background(), g))

	for _, call := range mgr.Calls {
		assert.False(t, strings.HasPrefix(call, "set-config("),
			"mutated state must not re-mutate config, got %s", call)
	}
	assert.Equal(t, 1, countRestarts(mgr.Calls))
	st, _ := state.PassthroughState(g.ID)
	assert.Equal(t, types.PassthroughReady, st)
}

func TestEnsureTimeoutStrictIsFatal(t *testing.T) {
	c, mgr, dev, state, w := setup(t, PolicyStrict)
	g := gpuGuest()
	mgr.SeedRunning(g)
	dev.visible = false

	err := c.Ensure(context.Background(), g)
	require.Error(t, err)
	assert.Equal(t, faults.KindFatalOperation, faults.KindOf(err))
	assert.True(t, w.Empty())

	// state is preserved for the next run to resume polling
	st, _ := state.PassthroughState(g.ID)
	assert.Equal(t, types.PassthroughAwaitingDevice, st)
}

func TestEnsureTimeoutLenientDegradesToWarning(t *testing.T) {
	c, mgr, dev, state, w := setup(t, PolicyLenient)
	g := gpuGuest()
	mgr.SeedRunning(g)
	dev.visible = false

	require.NoError(t, c.Ensure(context.Background(), g))
	require.False(t, w.Empty())
	assert.Contains(t, w.Strings()[0], "device-wait")

	st, _ := state.PassthroughState(g.ID)
	assert.Equal(t, types.PassthroughReady, st)
}

func TestEnsureWithoutAcceleratorIsNoOp(t *testing.T) {
	c, mgr, _, _, _ := setup(t, PolicyStrict)
	g := &types.GuestSpec{ID: 910, Name: "db", Kind: types.GuestKindContainer}
	mgr.SeedRunning(g)
	mgr.Calls = nil

	require.NoError(t, c.Ensure(context.Background(), g))
	assert.Empty(t, mgr.Calls)
}

func TestFeatureProbe(t *testing.T) {
	c, mgr, dev, state, _ := setup(t, PolicyStrict)
	g := gpuGuest()
	mgr.SeedRunning(g)
	f := &Feature{Coordinator: c}

	satisfied, err := f.Probe(context.Background(), g, mgr)
	require.NoError(t, err)
	assert.False(t, satisfied, "unconfigured guest is not satisfied")

	require.NoError(t, state.SetPassthroughState(g.ID, types.PassthroughReady))
	dev.visible = true
	satisfied, err = f.Probe(context.Background(), g, mgr)
	require.NoError(t, err)
	assert.True(t, satisfied)
}
