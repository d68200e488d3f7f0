package netrec

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/roosthq/roost/pkg/config"
	"github.com/roosthq/roost/pkg/faults"
	"github.com/roosthq/roost/pkg/log"
	"github.com/roosthq/roost/pkg/metrics"
	"github.com/roosthq/roost/pkg/types"
)

// CommandRunner executes a host command for service reloads.
// Injectable so tests never touch systemctl.
type CommandRunner func(ctx context.Context, name string, args ...string) (output string, err error)

// ExecRunner is the production CommandRunner
func ExecRunner(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// Reconciler regenerates host-level derived artifacts (name records,
// firewall rules, reverse-proxy routes) from the declarative
// documents. It is the sole writer of these files; every pass
// regenerates wholesale and atomically replaces.
type Reconciler struct {
	store  config.Store
	dns    config.ArtifactSettings
	fw     config.ArtifactSettings
	routes config.ArtifactSettings
	runner CommandRunner
	logger zerolog.Logger
}

// New creates a reconciler over the config store and artifact settings
func New(store config.Store, settings *config.Settings, runner CommandRunner) *Reconciler {
	if runner == nil {
		runner = ExecRunner
	}
	return &Reconciler{
		store:  store,
		dns:    settings.DNS,
		fw:     settings.Firewall,
		routes: settings.Routes,
		runner: runner,
		logger: log.WithComponent("netrec"),
	}
}

// guestAddr strips the CIDR suffix from a guest's declared address
func guestAddr(g *types.GuestSpec) string {
	if g.Network.Address == "" {
		return ""
	}
	if ip, _, err := net.ParseCIDR(g.Network.Address); err == nil {
		return ip.String()
	}
	return g.Network.Address
}

// Records gathers every name declaration in priority order and merges
// them. Order of concatenation is the precedence contract:
// static, then guest self-records, then service routes pointing at
// the shared ingress, then explicit direct overrides.
func (r *Reconciler) Records() []types.DerivedRecord {
	var all []types.DerivedRecord

	for _, rec := range r.store.StaticRecords() {
		all = append(all, types.DerivedRecord{
			Key: rec.Hostname, Value: rec.Address, Source: types.SourceStatic,
		})
	}

	for _, g := range r.store.Guests() {
		if addr := guestAddr(g); addr != "" && !g.Template {
			all = append(all, types.DerivedRecord{
				Key: g.Name, Value: addr, Source: types.SourceGuest,
			})
		}
	}

	ingress := r.store.IngressAddress()
	for _, g := range r.store.Guests() {
		for _, svc := range g.Services {
			all = append(all, types.DerivedRecord{
				Key: svc.Hostname, Value: ingress, Source: types.SourceService,
			})
		}
	}

	// overrides evaluated after services so a direct agent address is
	// never shadowed by a generic ingress rule
	for _, g := range r.store.Guests() {
		for _, ov := range g.Overrides {
			all = append(all, types.DerivedRecord{
				Key: ov.Hostname, Value: ov.Address, Source: types.SourceOverride,
			})
		}
	}

	return Merge(all)
}

// FirewallRules aggregates global rules then per-guest rules with the
// same last-wins merge keyed on rule identity
func (r *Reconciler) FirewallRules() []types.FirewallRule {
	var all []types.DerivedRecord
	rules := make(map[string]types.FirewallRule)

	add := func(rule types.FirewallRule, src types.RecordSource) {
		key := rule.Key()
		rules[key] = rule
		all = append(all, types.DerivedRecord{Key: key, Value: rule.Action, Source: src})
	}

	for _, rule := range r.store.GlobalFirewall() {
		add(rule, types.SourceStatic)
	}
	for _, g := range r.store.Guests() {
		for _, rule := range g.Firewall {
			if rule.Dest == "" {
				rule.Dest = guestAddr(g)
			}
			add(rule, types.SourceGuest)
		}
	}

	merged := Merge(all)
	out := make([]types.FirewallRule, 0, len(merged))
	for _, rec := range merged {
		out = append(out, rules[rec.Key])
	}
	return out
}

// SyncAll regenerates every artifact: DNS, firewall, proxy routes
func (r *Reconciler) SyncAll(ctx context.Context) error {
	if err := r.SyncDNS(ctx); err != nil {
		return err
	}
	if err := r.SyncFirewall(ctx); err != nil {
		return err
	}
	return r.SyncRoutes(ctx)
}

// writeAndReload validates, atomically replaces, then reloads the
// consuming service. Reload failure is fatal and the new artifact is
// kept: it is valid by construction while the old one reflects stale
// declarations.
func (r *Reconciler) writeAndReload(ctx context.Context, step string, art config.ArtifactSettings, content string) error {
	defer metrics.Timed(metrics.ReconcileDuration.WithLabelValues(step))()
	if err := writeFileAtomic(art.Path, []byte(content), 0644); err != nil {
		return faults.Operation(art.Path, step, err)
	}
	r.logger.Info().Str("artifact", art.Path).Msg("artifact regenerated")

	if len(art.ReloadCommand) == 0 {
		return nil
	}
	out, err := r.runner(ctx, art.ReloadCommand[0], art.ReloadCommand[1:]...)
	if err != nil {
		return faults.Operation(art.Path, step+"-reload", err).
			WithCommand(strings.Join(art.ReloadCommand, " "), out)
	}
	r.logger.Debug().Str("artifact", art.Path).Msg("consumer reloaded")
	return nil
}

// writeFileAtomic writes via a temp file in the target directory and
// renames into place, so a concurrently reloading consumer never sees
// a partially written artifact
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func fmtHeader(what string) string {
	return fmt.Sprintf("# %s\n# generated by roost, do not edit manually\n\n", what)
}
