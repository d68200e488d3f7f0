package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/roosthq/roost/pkg/certs"
	"github.com/roosthq/roost/pkg/config"
	"github.com/roosthq/roost/pkg/faults"
	"github.com/roosthq/roost/pkg/feature"
	"github.com/roosthq/roost/pkg/guest"
	"github.com/roosthq/roost/pkg/lock"
	"github.com/roosthq/roost/pkg/log"
	"github.com/roosthq/roost/pkg/metrics"
	"github.com/roosthq/roost/pkg/netrec"
	"github.com/roosthq/roost/pkg/orchestrator"
	"github.com/roosthq/roost/pkg/passthrough"
	"github.com/roosthq/roost/pkg/retry"
	"github.com/roosthq/roost/pkg/stacks"
	"github.com/roosthq/roost/pkg/storage"
)

// runtime holds everything a command needs, assembled once per
// invocation and torn down by close()
type runtime struct {
	settings *config.Settings
	store    config.Store
	state    *storage.BoltStore
	runLock  *lock.Lock
	warnings *faults.Warnings
	orch     *orchestrator.Orchestrator
}

func (r *runtime) close() {
	if r.state != nil {
		r.state.Close()
	}
	if r.runLock != nil {
		r.runLock.Release()
	}
}

// buildRuntime loads settings and documents, takes the run lock, and
// wires the orchestrator
func buildRuntime() (*runtime, error) {
	settings, err := config.LoadSettings(flagConfig)
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{Level: log.Level(flagLogLevel), JSONOutput: flagJSONLog})

	store, err := config.Load(settings.ConfigDir)
	if err != nil {
		return nil, err
	}

	runLock, err := lock.Acquire(settings.LockFile)
	if err != nil {
		return nil, faults.Config("lock", err)
	}

	state, err := storage.NewBoltStore(settings.StateDir)
	if err != nil {
		runLock.Release()
		return nil, err
	}

	r := &runtime{
		settings: settings,
		store:    store,
		state:    state,
		runLock:  runLock,
		warnings: &faults.Warnings{},
	}

	mgr := guest.NewCLIManager(settings.Hypervisor, store.Guests())
	registry := buildRegistry(r, mgr)

	deps := orchestrator.Deps{
		Store:    store,
		Manager:  mgr,
		Registry: registry,
		State:    state,
		Net:      netrec.New(store, settings, nil),
		Warnings: r.warnings,
	}

	if len(store.Certificates()) > 0 {
		ca, err := certs.LoadOrCreateAuthority(settings.CA.CertPath, settings.CA.KeyPath)
		if err != nil {
			r.close()
			return nil, faults.Config("ca", err)
		}
		deps.Certs = certs.NewReconciler(store, state, ca, settings.CA, nil, r.warnings)
	}

	if settings.ControlPlane.URL != "" {
		client, err := stacks.NewClient(settings.ControlPlane)
		if err != nil {
			r.close()
			return nil, faults.Config("control-plane", err)
		}
		deps.Stacks = stacks.NewEngine(store, client, settings.ControlPlane)
	}

	r.orch = orchestrator.New(deps)

	if flagMetricsAddr != "" {
		go serveMetrics(flagMetricsAddr)
	}
	return r, nil
}

// buildRegistry registers the passthrough module plus a script-backed
// module for every other feature the documents declare. Feature
// scripts live under <config_dir>/features/<name>.sh and record their
// completion marker under /opt/roost.
func buildRegistry(r *runtime, mgr guest.Manager) *feature.Registry {
	registry := feature.NewRegistry()

	policy := passthrough.PolicyStrict
	if r.settings.DeviceWait.Policy == "lenient" {
		policy = passthrough.PolicyLenient
	}
	poll := retry.Policy{
		Interval: r.settings.DeviceWait.Interval,
		Timeout:  r.settings.DeviceWait.Timeout,
	}
	coord := passthrough.NewCoordinator(guest.NewLifecycle(mgr), r.state, policy, poll, r.warnings)
	registry.MustRegister(&passthrough.Feature{Coordinator: coord})

	for _, g := range r.store.Guests() {
		for _, name := range g.Features {
			if _, ok := registry.Get(name); ok {
				continue
			}
			registry.MustRegister(&feature.ExecModule{
				FeatureName:  name,
				Prereqs:      featurePrereqs(name),
				ProbeCommand: []string{"test", "-f", "/opt/roost/.feature-" + name},
				ScriptPath:   filepath.Join(r.settings.ConfigDir, "features", name+".sh"),
			})
		}
	}
	return registry
}

// featurePrereqs is the fixed partial order over feature names
func featurePrereqs(name string) []string {
	switch {
	case name == "gpu-driver":
		return []string{passthrough.FeatureName}
	case strings.HasPrefix(name, "docker-"):
		return []string{"docker"}
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		metricsLog := log.WithComponent("metrics")
		metricsLog.Error().Err(err).Msg("metrics listener failed")
	}
}

// signalContext cancels on SIGINT/SIGTERM so a run stops between
// targets rather than mid-operation
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// parseTargets resolves command arguments to guest ids; both numeric
// ids and declared names are accepted
func parseTargets(store config.Store, args []string) ([]int, error) {
	var ids []int
	for _, arg := range args {
		if id, err := strconv.Atoi(arg); err == nil {
			if _, ok := store.Guest(id); !ok {
				return nil, faults.Config("targets", fmt.Errorf("unknown guest id %d", id))
			}
			ids = append(ids, id)
			continue
		}
		g, ok := store.GuestByName(arg)
		if !ok {
			return nil, faults.Config("targets", fmt.Errorf("unknown guest %q", arg))
		}
		ids = append(ids, g.ID)
	}
	return ids, nil
}
