package feature

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/roosthq/roost/pkg/faults"
	"github.com/roosthq/roost/pkg/guest"
	"github.com/roosthq/roost/pkg/log"
	"github.com/roosthq/roost/pkg/types"
)

// Applier drives a guest through its declared feature list in order,
// probing before every apply and short-circuiting on fatal failure
type Applier struct {
	registry *Registry
	mgr      guest.Manager
	warnings *faults.Warnings
	logger   zerolog.Logger
}

// NewApplier creates an applier over a registry and guest manager
func NewApplier(registry *Registry, mgr guest.Manager, warnings *faults.Warnings) *Applier {
	return &Applier{
		registry: registry,
		mgr:      mgr,
		warnings: warnings,
		logger:   log.WithComponent("feature.applier"),
	}
}

// Registry exposes the underlying module registry
func (a *Applier) Registry() *Registry {
	return a.registry
}

// Apply runs every feature declared by the guest, in declared order.
// The returned map records the tri-state result per feature for the
// run report; it covers only the features reached before any fatal
// failure.
func (a *Applier) Apply(ctx context.Context, g *types.GuestSpec) (map[string]Result, error) {
	results := make(map[string]Result, len(g.Features))
	target := strconv.Itoa(g.ID)

	for _, name := range g.Features {
		mod, ok := a.registry.Get(name)
		if !ok {
			return results, faults.Config("feature-lookup",
				fmt.Errorf("guest %d declares unknown feature %q", g.ID, name))
		}

		satisfied, err := mod.Probe(ctx, g, a.mgr)
		if err != nil {
			cmd, out := a.mgr.LastCommand()
			return results, faults.Operation(target, "probe:"+name, err).WithCommand(cmd, out)
		}
		if satisfied {
			// idempotent skip, kept quiet to keep steady-state runs clean
			a.logger.Debug().Int("guest_id", g.ID).Str("feature", name).Msg("feature already satisfied")
			results[name] = ResultSatisfied
			continue
		}

		a.logger.Info().Int("guest_id", g.ID).Str("feature", name).Msg("applying feature")
		if err := mod.Apply(ctx, g, a.mgr); err != nil {
			results[name] = ResultFailed
			if mod.BestEffort() {
				a.logger.Warn().Int("guest_id", g.ID).Str("feature", name).Err(err).
					Msg("best-effort feature failed")
				a.warnings.Add(target, "feature:"+name, err.Error())
				continue
			}
			cmd, out := a.mgr.LastCommand()
			return results, faults.Operation(target, "feature:"+name, err).WithCommand(cmd, out)
		}
		results[name] = ResultApplied
	}
	return results, nil
}
