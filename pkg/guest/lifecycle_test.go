package guest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roosthq/roost/pkg/faults"
	"github.com/roosthq/roost/pkg/types"
)

func spec(id int, name string) *types.GuestSpec {
	return &types.GuestSpec{ID: id, Name: name, Kind: types.GuestKindContainer}
}

func TestEnsureCreatesMissingGuest(t *testing.T) {
	mgr := NewMemManager()
	lc := NewLifecycle(mgr)

	created, err := lc.Ensure(context.Background(), spec(910, "db"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"create(910)", "start(910)"}, mgr.Calls)
}

func TestEnsureSkipsExistingRunningGuest(t *testing.T) {
	mgr := NewMemManager()
	g := spec(910, "db")
	mgr.SeedRunning(g)
	lc := NewLifecycle(mgr)

	created, err := lc.Ensure(context.Background(), g)
	require.NoError(t, err)
	assert.False(t, created)
	// probes only, no lifecycle mutation
	assert.Empty(t, mgr.Calls)
}

func TestEnsureStartsExistingStoppedGuest(t *testing.T) {
	mgr := NewMemManager()
	g := spec(910, "db")
	mgr.Seed(g)
	lc := NewLifecycle(mgr)

	created, err := lc.Ensure(context.Background(), g)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []string{"start(910)"}, mgr.Calls)
}

func TestEnsureLeavesTemplateStopped(t *testing.T) {
	mgr := NewMemManager()
	g := spec(900, "tmpl")
	g.Template = true
	lc := NewLifecycle(mgr)

	created, err := lc.Ensure(context.Background(), g)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"create(900)"}, mgr.Calls)
}

func TestEnsureCreateFailureIsFatalOperation(t *testing.T) {
	mgr := NewMemManager()
	mgr.FailOps["create"] = errors.New("storage pool full")
	lc := NewLifecycle(mgr)

	_, err := lc.Ensure(context.Background(), spec(910, "db"))
	require.Error(t, err)
	assert.Equal(t, faults.KindFatalOperation, faults.KindOf(err))

	var f *faults.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "910", f.Target)
	assert.Equal(t, "create", f.Step)
	assert.NotEmpty(t, f.Command)
}

func TestStopIsNoOpWhenAlreadyStopped(t *testing.T) {
	mgr := NewMemManager()
	g := spec(910, "db")
	mgr.Seed(g)
	lc := NewLifecycle(mgr)

	require.NoError(t, lc.Stop(context.Background(), 910))
	assert.Empty(t, mgr.Calls)
}

func TestRestartCyclesGuest(t *testing.T) {
	mgr := NewMemManager()
	g := spec(910, "db")
	mgr.SeedRunning(g)
	lc := NewLifecycle(mgr)

	require.NoError(t, lc.Restart(context.Background(), 910))
	assert.Equal(t, []string{"stop(910)", "start(910)"}, mgr.Calls)
}

func TestDeleteAbsentGuestIsNoOp(t *testing.T) {
	mgr := NewMemManager()
	lc := NewLifecycle(mgr)

	require.NoError(t, lc.Delete(context.Background(), 999))
	assert.Empty(t, mgr.Calls)
}

func TestDeleteStopsThenDestroys(t *testing.T) {
	mgr := NewMemManager()
	g := spec(910, "db")
	mgr.SeedRunning(g)
	lc := NewLifecycle(mgr)

	require.NoError(t, lc.Delete(context.Background(), 910))
	assert.Equal(t, []string{"stop(910)", "delete(910)"}, mgr.Calls)
}
