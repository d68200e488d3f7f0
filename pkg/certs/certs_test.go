package certs

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roosthq/roost/pkg/config"
	"github.com/roosthq/roost/pkg/faults"
	"github.com/roosthq/roost/pkg/storage"
	"github.com/roosthq/roost/pkg/types"
)

func testAuthority(t *testing.T) *Authority {
	t.Helper()
	dir := t.TempDir()
	ca, err := LoadOrCreateAuthority(filepath.Join(dir, "ca.pem"), filepath.Join(dir, "ca-key.pem"))
	require.NoError(t, err)
	return ca
}

func certStore(t *testing.T, entries ...*types.CertificateEntry) config.Store {
	t.Helper()
	store, err := config.New(
		config.GuestsDoc{Guests: []*types.GuestSpec{
			{ID: 910, Name: "db", Kind: types.GuestKindContainer},
		}},
		config.StacksDoc{},
		config.CertsDoc{Certificates: entries},
	)
	require.NoError(t, err)
	return store
}

type recordedCall struct {
	name string
	args []string
}

// fakeRunner records host commands and optionally fails named ones.
type fakeRunner struct {
	calls []recordedCall
	fail  map[string]error
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, recordedCall{name: name, args: args})
	if err, ok := f.fail[name]; ok {
		return "hook output", err
	}
	return "", nil
}

func (f *fakeRunner) count(name string) int {
	n := 0
	for _, c := range f.calls {
		if c.name == name {
			n++
		}
	}
	return n
}

func readCert(t *testing.T, path string) *x509.Certificate {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	block, _ := pem.Decode(data)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return cert
}

func TestAuthorityRoundTrip(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "ca.pem")
	keyPath := filepath.Join(dir, "ca-key.pem")

	ca1, err := LoadOrCreateAuthority(certPath, keyPath)
	require.NoError(t, err)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Second load reuses the persisted keypair
	ca2, err := LoadOrCreateAuthority(certPath, keyPath)
	require.NoError(t, err)
	assert.Equal(t, ca1.cert.SerialNumber, ca2.cert.SerialNumber)
}

func TestIssueChainsToAuthority(t *testing.T) {
	ca := testAuthority(t)
	der, _, err := ca.Issue("db.internal", []string{"db.alt.internal"}, 24*time.Hour)
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"db.internal", "db.alt.internal"}, leaf.DNSNames)

	pool := x509.NewCertPool()
	pool.AddCert(ca.cert)
	_, err = leaf.Verify(x509.VerifyOptions{Roots: pool})
	assert.NoError(t, err)
}

func TestSyncIssuesAbsentCertificate(t *testing.T) {
	dir := t.TempDir()
	entry := &types.CertificateEntry{
		Subject:    "db.internal",
		CertPath:   filepath.Join(dir, "db.pem"),
		KeyPath:    filepath.Join(dir, "db-key.pem"),
		AltNames:   []string{"db.alt.internal"},
		ReloadHook: "systemctl reload postgresql",
	}
	runner := &fakeRunner{}
	state := storage.NewMemStore()
	var warnings faults.Warnings
	rec := NewReconciler(certStore(t, entry), state, testAuthority(t),
		config.CASettings{RenewalThreshold: 30 * 24 * time.Hour, Validity: 365 * 24 * time.Hour},
		runner.run, &warnings)

	require.NoError(t, rec.Sync(context.Background()))

	cert := readCert(t, entry.CertPath)
	assert.Equal(t, "db.internal", cert.Subject.CommonName)

	keyInfo, err := os.Stat(entry.KeyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), keyInfo.Mode().Perm())

	assert.Equal(t, 1, runner.count("systemctl"), "hook runs once per renewal")

	status, err := state.Certificate("db.internal")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, cert.SerialNumber.Text(16), status.Serial)
	assert.True(t, status.NotAfter.Equal(cert.NotAfter))
	assert.True(t, warnings.Empty())
}

func TestSyncSkipsCurrentCertificate(t *testing.T) {
	dir := t.TempDir()
	entry := &types.CertificateEntry{
		Subject:    "db.internal",
		CertPath:   filepath.Join(dir, "db.pem"),
		KeyPath:    filepath.Join(dir, "db-key.pem"),
		ReloadHook: "systemctl reload postgresql",
	}
	runner := &fakeRunner{}
	state := storage.NewMemStore()
	var warnings faults.Warnings
	rec := NewReconciler(certStore(t, entry), state, testAuthority(t),
		config.CASettings{RenewalThreshold: 30 * 24 * time.Hour, Validity: 365 * 24 * time.Hour},
		runner.run, &warnings)

	require.NoError(t, rec.Sync(context.Background()))
	first := readCert(t, entry.CertPath)

	// No drift, no expiry: second pass issues nothing and skips the hook
	require.NoError(t, rec.Sync(context.Background()))
	second := readCert(t, entry.CertPath)
	assert.Equal(t, first.SerialNumber, second.SerialNumber)
	assert.Equal(t, 1, runner.count("systemctl"))
}

func TestSyncRenewsOnExpiryWindow(t *testing.T) {
	dir := t.TempDir()
	entry := &types.CertificateEntry{
		Subject:  "db.internal",
		CertPath: filepath.Join(dir, "db.pem"),
		KeyPath:  filepath.Join(dir, "db-key.pem"),
	}
	runner := &fakeRunner{}
	state := storage.NewMemStore()
	var warnings faults.Warnings

	// First pass issues a short-lived certificate inside the window
	short := NewReconciler(certStore(t, entry), state, testAuthority(t),
		config.CASettings{RenewalThreshold: 30 * 24 * time.Hour, Validity: time.Hour},
		runner.run, &warnings)
	require.NoError(t, short.Sync(context.Background()))
	first := readCert(t, entry.CertPath)

	long := NewReconciler(certStore(t, entry), state, testAuthority(t),
		config.CASettings{RenewalThreshold: 30 * 24 * time.Hour, Validity: 365 * 24 * time.Hour},
		runner.run, &warnings)
	require.NoError(t, long.Sync(context.Background()))
	second := readCert(t, entry.CertPath)
	assert.NotEqual(t, first.SerialNumber, second.SerialNumber)
}

func TestSyncRenewsOnSANDrift(t *testing.T) {
	dir := t.TempDir()
	entry := &types.CertificateEntry{
		Subject:  "db.internal",
		CertPath: filepath.Join(dir, "db.pem"),
		KeyPath:  filepath.Join(dir, "db-key.pem"),
	}
	runner := &fakeRunner{}
	state := storage.NewMemStore()
	var warnings faults.Warnings
	settings := config.CASettings{RenewalThreshold: 30 * 24 * time.Hour, Validity: 365 * 24 * time.Hour}
	ca := testAuthority(t)

	rec := NewReconciler(certStore(t, entry), state, ca, settings, runner.run, &warnings)
	require.NoError(t, rec.Sync(context.Background()))
	first := readCert(t, entry.CertPath)

	// Declaration grows an alt name the issued certificate lacks
	drifted := &types.CertificateEntry{
		Subject:  entry.Subject,
		CertPath: entry.CertPath,
		KeyPath:  entry.KeyPath,
		AltNames: []string{"db.alt.internal"},
	}
	rec = NewReconciler(certStore(t, drifted), state, ca, settings, runner.run, &warnings)
	require.NoError(t, rec.Sync(context.Background()))
	second := readCert(t, entry.CertPath)
	assert.NotEqual(t, first.SerialNumber, second.SerialNumber)
	assert.Contains(t, second.DNSNames, "db.alt.internal")
}

func TestSyncHookFailureDegrades(t *testing.T) {
	dir := t.TempDir()
	entry := &types.CertificateEntry{
		Subject:    "db.internal",
		CertPath:   filepath.Join(dir, "db.pem"),
		KeyPath:    filepath.Join(dir, "db-key.pem"),
		ReloadHook: "systemctl reload postgresql",
	}
	runner := &fakeRunner{fail: map[string]error{"systemctl": errors.New("unit not found")}}
	state := storage.NewMemStore()
	var warnings faults.Warnings
	rec := NewReconciler(certStore(t, entry), state, testAuthority(t),
		config.CASettings{RenewalThreshold: 30 * 24 * time.Hour, Validity: 365 * 24 * time.Hour},
		runner.run, &warnings)

	require.NoError(t, rec.Sync(context.Background()), "hook failure must not abort the run")
	assert.False(t, warnings.Empty())

	// Renewal itself still completed and was recorded
	status, err := state.Certificate("db.internal")
	require.NoError(t, err)
	require.NotNil(t, status)
}

func TestSyncChownsDeclaredOwner(t *testing.T) {
	dir := t.TempDir()
	entry := &types.CertificateEntry{
		Subject:  "db.internal",
		CertPath: filepath.Join(dir, "db.pem"),
		KeyPath:  filepath.Join(dir, "db-key.pem"),
		Owner:    "postgres:postgres",
	}
	runner := &fakeRunner{}
	state := storage.NewMemStore()
	var warnings faults.Warnings
	rec := NewReconciler(certStore(t, entry), state, testAuthority(t),
		config.CASettings{RenewalThreshold: 30 * 24 * time.Hour, Validity: 365 * 24 * time.Hour},
		runner.run, &warnings)

	require.NoError(t, rec.Sync(context.Background()))
	require.Equal(t, 2, runner.count("chown"))
	assert.Equal(t, []string{"postgres:postgres", entry.KeyPath}, runner.calls[0].args)
}
