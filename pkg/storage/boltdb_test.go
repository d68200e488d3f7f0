package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roosthq/roost/pkg/types"
)

func TestBoltStorePassthroughRoundTrip(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	state, err := store.PassthroughState(910)
	require.NoError(t, err)
	assert.Equal(t, types.PassthroughUnconfigured, state)

	require.NoError(t, store.SetPassthroughState(910, types.PassthroughAwaitingDevice))

	state, err = store.PassthroughState(910)
	require.NoError(t, err)
	assert.Equal(t, types.PassthroughAwaitingDevice, state)
}

func TestBoltStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.SetPassthroughState(910, types.PassthroughReady))
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	state, err := reopened.PassthroughState(910)
	require.NoError(t, err)
	assert.Equal(t, types.PassthroughReady, state)
}

func TestBoltStoreCertificates(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	missing, err := store.Certificate("db.internal")
	require.NoError(t, err)
	assert.Nil(t, missing)

	status := &types.CertificateStatus{
		Subject:   "db.internal",
		Serial:    "02",
		NotAfter:  time.Now().Add(365 * 24 * time.Hour).UTC(),
		AltNames:  []string{"db.internal", "db"},
		RenewedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SetCertificate(status))

	got, err := store.Certificate("db.internal")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, status.Serial, got.Serial)
	assert.Equal(t, status.AltNames, got.AltNames)
}

func TestBoltStoreLastRun(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	report := &types.RunReport{
		RunID: "run-1",
		Mode:  "converge",
		Targets: []types.TargetResult{
			{GuestID: 910, Name: "db", Outcome: types.OutcomeConverged},
		},
		Warnings: []string{"910/device-wait: timeout"},
	}
	require.NoError(t, store.SetLastRun(report))

	got, err := store.LastRun()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "run-1", got.RunID)
	require.Len(t, got.Targets, 1)
	assert.Equal(t, types.OutcomeConverged, got.Targets[0].Outcome)
}
