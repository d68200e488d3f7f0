package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roosthq/roost/pkg/config"
	"github.com/roosthq/roost/pkg/faults"
	"github.com/roosthq/roost/pkg/feature"
	"github.com/roosthq/roost/pkg/guest"
	"github.com/roosthq/roost/pkg/log"
	"github.com/roosthq/roost/pkg/metrics"
	"github.com/roosthq/roost/pkg/resolver"
	"github.com/roosthq/roost/pkg/types"
)

// Syncer reconciles one external surface after guest convergence.
// pkg/netrec, pkg/certs and pkg/stacks all satisfy it.
type Syncer interface {
	Sync(ctx context.Context) error
}

// netSyncer is the artifact reconciler surface the engine drives
// category by category
type netSyncer interface {
	SyncAll(ctx context.Context) error
	SyncDNS(ctx context.Context) error
	SyncFirewall(ctx context.Context) error
	SyncRoutes(ctx context.Context) error
}

// Deps carries the wired collaborators. Net is required; Certs and
// Stacks may be nil when the host declares no certificates or stacks.
type Deps struct {
	Store    config.Store
	Manager  guest.Manager
	Registry *feature.Registry
	State    stateStore
	Net      netSyncer
	Certs    Syncer
	Stacks   Syncer
	Warnings *faults.Warnings
}

// stateStore is the slice of pkg/storage the engine needs
type stateStore interface {
	SetLastRun(report *types.RunReport) error
	LastRun() (*types.RunReport, error)
}

// Orchestrator drives the full convergence pass: resolve order, ensure
// guests, apply features, then reconcile network artifacts,
// certificates, and stacks. Single control thread; cancellation is
// checked between targets.
type Orchestrator struct {
	store     config.Store
	lifecycle *guest.Lifecycle
	resolver  *resolver.Resolver
	applier   *feature.Applier
	net       netSyncer
	certs     Syncer
	stacks    Syncer
	state     stateStore
	warnings  *faults.Warnings
	logger    zerolog.Logger
}

// New wires an engine from its collaborators
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		store:     deps.Store,
		lifecycle: guest.NewLifecycle(deps.Manager),
		resolver:  resolver.New(deps.Store),
		applier:   feature.NewApplier(deps.Registry, deps.Manager, deps.Warnings),
		net:       deps.Net,
		certs:     deps.Certs,
		stacks:    deps.Stacks,
		state:     deps.State,
		warnings:  deps.Warnings,
		logger:    log.WithComponent("orchestrator"),
	}
}

// Warnings exposes the run's accumulated degraded warnings
func (o *Orchestrator) Warnings() *faults.Warnings {
	return o.warnings
}

// allIDs returns every declared guest id in document order
func (o *Orchestrator) allIDs() []int {
	guests := o.store.Guests()
	ids := make([]int, len(guests))
	for i, g := range guests {
		ids[i] = g.ID
	}
	return ids
}

func (o *Orchestrator) exists(ctx context.Context, id int) (bool, error) {
	return o.lifecycle.Manager().Exists(ctx, id)
}

// Create converges the requested targets plus any of their
// dependencies that do not exist yet. Empty targets means every
// declared guest.
func (o *Orchestrator) Create(ctx context.Context, targets []int) (*types.RunReport, error) {
	return o.run(ctx, targets, resolver.ModeCreate)
}

// Converge reprocesses the requested targets and their full dependency
// closure regardless of current state. Empty targets means every
// declared guest.
func (o *Orchestrator) Converge(ctx context.Context, targets []int) (*types.RunReport, error) {
	return o.run(ctx, targets, resolver.ModeConverge)
}

func (o *Orchestrator) run(ctx context.Context, targets []int, mode resolver.Mode) (*types.RunReport, error) {
	if len(targets) == 0 {
		targets = o.allIDs()
	}
	report := &types.RunReport{
		RunID:     uuid.NewString(),
		Mode:      mode.String(),
		StartedAt: time.Now().UTC(),
	}
	runLogger := o.logger.With().Str("run_id", report.RunID).Str("mode", report.Mode).Logger()
	defer metrics.Timed(metrics.RunDuration.WithLabelValues(report.Mode))()

	err := o.runInner(ctx, targets, mode, report, runLogger)

	report.FinishedAt = time.Now().UTC()
	report.Warnings = o.warnings.Strings()
	if saveErr := o.state.SetLastRun(report); saveErr != nil {
		runLogger.Error().Err(saveErr).Msg("failed to persist run report")
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	} else if !o.warnings.Empty() {
		outcome = "degraded"
	}
	metrics.RunsTotal.WithLabelValues(report.Mode, outcome).Inc()
	metrics.WarningsTotal.Add(float64(len(report.Warnings)))
	return report, err
}

func (o *Orchestrator) runInner(ctx context.Context, targets []int, mode resolver.Mode, report *types.RunReport, runLogger zerolog.Logger) error {
	// Resolution happens before any guest operation so a cycle aborts
	// with the host untouched
	order, err := o.resolver.Resolve(ctx, targets, mode, o.exists)
	if err != nil {
		return err
	}
	runLogger.Info().Int("targets", len(order)).Msg("resolved execution order")

	for _, spec := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := o.processTarget(ctx, spec, mode)
		report.Targets = append(report.Targets, result)
		metrics.GuestsProcessed.WithLabelValues(string(result.Outcome)).Inc()
		if err != nil {
			return err
		}
	}

	if err := o.net.SyncAll(ctx); err != nil {
		return err
	}
	if o.certs != nil {
		if err := o.certs.Sync(ctx); err != nil {
			return err
		}
	}
	if o.stacks != nil {
		if err := o.stacks.Sync(ctx); err != nil {
			return err
		}
	}
	return nil
}

// processTarget takes one guest through existence, features, and its
// launch script
func (o *Orchestrator) processTarget(ctx context.Context, spec *types.GuestSpec, mode resolver.Mode) (types.TargetResult, error) {
	start := time.Now()
	result := types.TargetResult{GuestID: spec.ID, Name: spec.Name}
	fail := func(err error) (types.TargetResult, error) {
		result.Outcome = types.OutcomeFailed
		result.Duration = time.Since(start)
		return result, err
	}

	if err := resolver.CheckFeatureOrder(spec, o.applier.Registry().Requires); err != nil {
		return fail(err)
	}

	created, err := o.lifecycle.Ensure(ctx, spec)
	if err != nil {
		return fail(err)
	}

	applied := false
	// Templates stay stopped; in-guest feature work needs a running guest
	if !spec.Template {
		results, err := o.applier.Apply(ctx, spec)
		if err != nil {
			return fail(err)
		}
		for name, r := range results {
			metrics.FeatureResults.WithLabelValues(name, string(r)).Inc()
			if r == feature.ResultApplied {
				applied = true
			}
		}
		if created && spec.LaunchScript != "" {
			if err := o.runLaunchScript(ctx, spec); err != nil {
				return fail(err)
			}
		}
	}

	switch {
	case created:
		result.Outcome = types.OutcomeCreated
	case applied:
		result.Outcome = types.OutcomeConverged
	case mode == resolver.ModeConverge:
		result.Outcome = types.OutcomeConverged
	default:
		result.Outcome = types.OutcomeSkipped
	}
	result.Duration = time.Since(start)
	guestLog := log.WithGuestID(spec.ID)
	guestLog.Info().
		Str("outcome", string(result.Outcome)).
		Dur("duration", result.Duration).
		Msg("target processed")
	return result, nil
}

// runLaunchScript pushes the guest's application launch script and
// runs it once after creation
func (o *Orchestrator) runLaunchScript(ctx context.Context, spec *types.GuestSpec) error {
	mgr := o.lifecycle.Manager()
	remote := "/tmp/" + filepath.Base(spec.LaunchScript)
	if err := mgr.PushFile(ctx, spec.ID, spec.LaunchScript, remote); err != nil {
		return faults.Operation(fmt.Sprint(spec.ID), "launch-script", err)
	}
	out, code, err := mgr.Exec(ctx, spec.ID, "bash", remote)
	if err != nil {
		return faults.Operation(fmt.Sprint(spec.ID), "launch-script", err)
	}
	if code != 0 {
		cmd, _ := mgr.LastCommand()
		return faults.Operation(fmt.Sprint(spec.ID), "launch-script",
			fmt.Errorf("launch script exited %d", code)).WithCommand(cmd, out)
	}
	return nil
}

// Start brings the requested targets and their dependencies up in
// dependency order. Empty targets means every declared guest.
func (o *Orchestrator) Start(ctx context.Context, targets []int) error {
	if len(targets) == 0 {
		targets = o.allIDs()
	}
	order, err := o.resolver.Resolve(ctx, targets, resolver.ModeConverge, nil)
	if err != nil {
		return err
	}
	for _, spec := range order {
		if spec.Template {
			continue
		}
		if err := o.lifecycle.Start(ctx, spec.ID); err != nil {
			return err
		}
	}
	return nil
}

// Stop brings the requested targets down in reverse dependency order,
// dependents before their dependencies. Empty targets means every
// declared guest.
func (o *Orchestrator) Stop(ctx context.Context, targets []int) error {
	if len(targets) == 0 {
		targets = o.allIDs()
	}
	order, err := o.resolver.Resolve(ctx, targets, resolver.ModeConverge, nil)
	if err != nil {
		return err
	}
	requested := make(map[int]bool, len(targets))
	for _, id := range targets {
		requested[id] = true
	}
	// Only the requested guests stop; their dependencies stay up
	for i := len(order) - 1; i >= 0; i-- {
		if !requested[order[i].ID] {
			continue
		}
		if err := o.lifecycle.Stop(ctx, order[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// Delete destroys exactly the requested guests, dependents first.
// Dependencies are never deleted implicitly.
func (o *Orchestrator) Delete(ctx context.Context, targets []int) error {
	order, err := o.resolver.Resolve(ctx, targets, resolver.ModeConverge, nil)
	if err != nil {
		return err
	}
	requested := make(map[int]bool, len(targets))
	for _, id := range targets {
		requested[id] = true
	}
	for i := len(order) - 1; i >= 0; i-- {
		if !requested[order[i].ID] {
			continue
		}
		if err := o.lifecycle.Delete(ctx, order[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// Sync reconciles a single external surface, or all of them
func (o *Orchestrator) Sync(ctx context.Context, category string) error {
	switch category {
	case "dns":
		return o.net.SyncDNS(ctx)
	case "firewall":
		return o.net.SyncFirewall(ctx)
	case "routes":
		return o.net.SyncRoutes(ctx)
	case "certs":
		if o.certs == nil {
			return faults.Config("sync", fmt.Errorf("no certificate manifest configured"))
		}
		return o.certs.Sync(ctx)
	case "stacks":
		if o.stacks == nil {
			return faults.Config("sync", fmt.Errorf("no control plane configured"))
		}
		return o.stacks.Sync(ctx)
	case "all":
		if err := o.net.SyncAll(ctx); err != nil {
			return err
		}
		if o.certs != nil {
			if err := o.certs.Sync(ctx); err != nil {
				return err
			}
		}
		if o.stacks != nil {
			if err := o.stacks.Sync(ctx); err != nil {
				return err
			}
		}
		return nil
	default:
		return faults.Config("sync", fmt.Errorf("unknown sync category %q", category))
	}
}

// GuestStatus is one row of the status report
type GuestStatus struct {
	ID      int
	Name    string
	Exists  bool
	Running bool
}

// Status probes every declared guest. LastRun returns the persisted
// report of the most recent convergence.
func (o *Orchestrator) Status(ctx context.Context) ([]GuestStatus, error) {
	mgr := o.lifecycle.Manager()
	var out []GuestStatus
	for _, g := range o.store.Guests() {
		st := GuestStatus{ID: g.ID, Name: g.Name}
		exists, err := mgr.Exists(ctx, g.ID)
		if err != nil {
			return nil, faults.Operation(fmt.Sprint(g.ID), "status-probe", err)
		}
		st.Exists = exists
		if exists {
			running, err := mgr.Running(ctx, g.ID)
			if err != nil {
				return nil, faults.Operation(fmt.Sprint(g.ID), "status-probe", err)
			}
			st.Running = running
		}
		out = append(out, st)
	}
	return out, nil
}

// LastRun returns the most recent persisted run report, nil when the
// host has never converged
func (o *Orchestrator) LastRun() (*types.RunReport, error) {
	return o.state.LastRun()
}

// FormatReport renders a run report for operator output
func FormatReport(report *types.RunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s (%s) %s\n", report.RunID, report.Mode,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	for _, t := range report.Targets {
		fmt.Fprintf(&b, "  %-6d %-20s %-10s %s\n", t.GuestID, t.Name, t.Outcome,
			t.Duration.Round(time.Millisecond))
	}
	for _, w := range report.Warnings {
		fmt.Fprintf(&b, "  warning: %s\n", w)
	}
	return b.String()
}
