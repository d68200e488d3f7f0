package certs

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/roosthq/roost/pkg/config"
	"github.com/roosthq/roost/pkg/faults"
	"github.com/roosthq/roost/pkg/log"
	"github.com/roosthq/roost/pkg/metrics"
	"github.com/roosthq/roost/pkg/storage"
	"github.com/roosthq/roost/pkg/types"
)

// CommandRunner executes a host command for reload hooks and ownership
// changes. Injectable so tests never touch the host.
type CommandRunner func(ctx context.Context, name string, args ...string) (output string, err error)

// Reconciler walks the certificate manifest and renews every entry
// whose on-disk certificate is absent, expiring, or whose SAN set no
// longer matches the declaration. The reload hook runs once per
// successful renewal, never for entries left untouched.
type Reconciler struct {
	store    config.Store
	state    storage.Store
	ca       *Authority
	validity time.Duration
	window   time.Duration
	runner   CommandRunner
	warnings *faults.Warnings
	logger   zerolog.Logger
}

// NewReconciler builds a reconciler over the manifest and the signing
// CA. A nil runner executes commands on the host.
func NewReconciler(store config.Store, state storage.Store, ca *Authority, settings config.CASettings, runner CommandRunner, warnings *faults.Warnings) *Reconciler {
	if runner == nil {
		runner = execRunner
	}
	return &Reconciler{
		store:    store,
		state:    state,
		ca:       ca,
		validity: settings.Validity,
		window:   settings.RenewalThreshold,
		runner:   runner,
		warnings: warnings,
		logger:   log.WithComponent("certs"),
	}
}

// Sync reconciles every manifest entry. Issuance or write failures are
// fatal; a failed reload hook degrades to a warning because the renewed
// certificate is already valid on disk.
func (r *Reconciler) Sync(ctx context.Context) error {
	for _, entry := range r.store.Certificates() {
		if err := ctx.Err(); err != nil {
			return err
		}
		reason := r.needsRenewal(entry)
		if reason == "" {
			r.logger.Debug().Str("subject", entry.Subject).Msg("certificate current, skipping")
			continue
		}
		r.logger.Info().Str("subject", entry.Subject).Str("reason", reason).Msg("renewing certificate")
		if err := r.renew(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// needsRenewal returns a human-readable reason, or "" when the on-disk
// certificate still satisfies the declaration.
func (r *Reconciler) needsRenewal(entry *types.CertificateEntry) string {
	data, err := os.ReadFile(entry.CertPath)
	if err != nil {
		return "certificate absent"
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return "certificate unreadable"
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "certificate unreadable"
	}
	if _, err := os.Stat(entry.KeyPath); err != nil {
		return "key absent"
	}
	if time.Until(cert.NotAfter) < r.window {
		return fmt.Sprintf("expires %s", cert.NotAfter.UTC().Format(time.RFC3339))
	}
	if sanDrift(cert.DNSNames, entry) {
		return "SAN set drifted"
	}
	return ""
}

// sanDrift reports whether the certificate's DNS names differ from the
// declared subject plus alt names.
func sanDrift(actual []string, entry *types.CertificateEntry) bool {
	want := append([]string{entry.Subject}, entry.AltNames...)
	if len(actual) != len(want) {
		return true
	}
	a := append([]string(nil), actual...)
	w := append([]string(nil), want...)
	sort.Strings(a)
	sort.Strings(w)
	for i := range a {
		if a[i] != w[i] {
			return true
		}
	}
	return false
}

func (r *Reconciler) renew(ctx context.Context, entry *types.CertificateEntry) error {
	der, key, err := r.ca.Issue(entry.Subject, entry.AltNames, r.validity)
	if err != nil {
		return faults.Operation(entry.Subject, "cert-issue", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return faults.Operation(entry.Subject, "cert-issue", err)
	}

	if err := writePEM(entry.KeyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0o600); err != nil {
		return faults.Operation(entry.Subject, "cert-write", err)
	}
	if err := writePEM(entry.CertPath, "CERTIFICATE", der, 0o644); err != nil {
		return faults.Operation(entry.Subject, "cert-write", err)
	}

	if entry.Owner != "" {
		for _, path := range []string{entry.KeyPath, entry.CertPath} {
			if out, err := r.runner(ctx, "chown", entry.Owner, path); err != nil {
				return faults.Operation(entry.Subject, "cert-chown", err).
					WithCommand("chown "+entry.Owner+" "+path, out)
			}
		}
	}

	if entry.ReloadHook != "" {
		parts := strings.Fields(entry.ReloadHook)
		if out, err := r.runner(ctx, parts[0], parts[1:]...); err != nil {
			r.warnings.AddFault(faults.Degraded(entry.Subject, "cert-reload",
				fmt.Errorf("reload hook failed: %w", err)).WithCommand(entry.ReloadHook, out))
			r.logger.Warn().Str("subject", entry.Subject).Err(err).Msg("reload hook failed, certificate still renewed")
		}
	}

	status := &types.CertificateStatus{
		Subject:   entry.Subject,
		Serial:    cert.SerialNumber.Text(16),
		NotAfter:  cert.NotAfter,
		AltNames:  append([]string(nil), entry.AltNames...),
		RenewedAt: time.Now().UTC(),
	}
	if err := r.state.SetCertificate(status); err != nil {
		return faults.Operation(entry.Subject, "cert-record", err)
	}
	metrics.CertificatesRenewed.Inc()
	r.logger.Info().
		Str("subject", entry.Subject).
		Str("serial", status.Serial).
		Time("not_after", status.NotAfter).
		Msg("certificate renewed")
	return nil
}
