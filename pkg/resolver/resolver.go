package resolver

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/roosthq/roost/pkg/config"
	"github.com/roosthq/roost/pkg/faults"
	"github.com/roosthq/roost/pkg/types"
)

// Mode selects how much of the resolved order is processed
type Mode int

const (
	// ModeCreate processes requested targets and missing dependencies;
	// a dependency that already exists is skipped entirely
	ModeCreate Mode = iota

	// ModeConverge unconditionally reprocesses every node in order
	ModeConverge
)

func (m Mode) String() string {
	if m == ModeConverge {
		return "converge"
	}
	return "create"
}

// ExistsFunc probes whether a guest already exists on the host
type ExistsFunc func(ctx context.Context, id int) (bool, error)

// Resolver builds the guest dependency graph and produces execution
// orders. Edges come from clone lineage and explicit dependency lists;
// intra-guest feature ordering is validated separately via
// CheckFeatureOrder.
type Resolver struct {
	store config.Store
}

// New creates a resolver over the given config store
func New(store config.Store) *Resolver {
	return &Resolver{store: store}
}

// deps returns the direct prerequisites of a guest: its clone source
// first, then explicit dependencies, preserving declaration order
func (r *Resolver) deps(g *types.GuestSpec) []int {
	var out []int
	if g.CloneFrom != nil {
		out = append(out, *g.CloneFrom)
	}
	out = append(out, g.DependsOn...)
	return out
}

// closure collects the transitive dependency closure of the targets,
// detecting cycles along the way. Returns the set of reachable ids.
func (r *Resolver) closure(targets []int) (map[int]bool, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[int]int)
	reach := make(map[int]bool)

	var visit func(id int, chain []int) error
	visit = func(id int, chain []int) error {
		g, ok := r.store.Guest(id)
		if !ok {
			return faults.Config("resolve", fmt.Errorf("unknown guest id %d", id))
		}
		switch state[id] {
		case done:
			return nil
		case visiting:
			return faults.Config("resolve",
				fmt.Errorf("dependency cycle: %s", formatChain(append(chain, id))))
		}
		state[id] = visiting
		for _, dep := range r.deps(g) {
			if err := visit(dep, append(chain, id)); err != nil {
				return err
			}
		}
		state[id] = done
		reach[id] = true
		return nil
	}

	for _, id := range targets {
		if err := visit(id, nil); err != nil {
			return nil, err
		}
	}
	return reach, nil
}

// order topologically sorts the given id set. Kahn's algorithm with
// the ready set kept sorted by document declaration order, so the
// output is stable across runs.
func (r *Resolver) order(ids map[int]bool) []*types.GuestSpec {
	indegree := make(map[int]int, len(ids))
	dependents := make(map[int][]int, len(ids))
	for id := range ids {
		g, _ := r.store.Guest(id)
		for _, dep := range r.deps(g) {
			if ids[dep] {
				indegree[id]++
				dependents[dep] = append(dependents[dep], id)
			}
		}
	}

	var ready []int
	for id := range ids {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	byDecl := func(list []int) {
		sort.Slice(list, func(i, j int) bool {
			return r.store.DeclarationIndex(list[i]) < r.store.DeclarationIndex(list[j])
		})
	}
	byDecl(ready)

	var out []*types.GuestSpec
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		g, _ := r.store.Guest(id)
		out = append(out, g)

		var unlocked []int
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				unlocked = append(unlocked, dep)
			}
		}
		byDecl(unlocked)
		ready = append(ready, unlocked...)
		byDecl(ready)
	}
	return out
}

// Resolve returns the linear execution order for the requested targets
// under the given mode. In create mode, dependencies that already
// exist on the host are dropped from the order; explicitly requested
// targets are always kept so a re-create of an existing target remains
// an explicit operator decision.
func (r *Resolver) Resolve(ctx context.Context, targets []int, mode Mode, exists ExistsFunc) ([]*types.GuestSpec, error) {
	reach, err := r.closure(targets)
	if err != nil {
		return nil, err
	}
	ordered := r.order(reach)

	if mode == ModeConverge {
		return ordered, nil
	}

	requested := make(map[int]bool, len(targets))
	for _, id := range targets {
		requested[id] = true
	}

	var out []*types.GuestSpec
	for _, g := range ordered {
		if requested[g.ID] {
			out = append(out, g)
			continue
		}
		ok, err := exists(ctx, g.ID)
		if err != nil {
			return nil, faults.Operation(strconv.Itoa(g.ID), "exists-probe", err)
		}
		if !ok {
			out = append(out, g)
		}
	}
	return out, nil
}

// CheckFeatureOrder validates the fixed partial order over a guest's
// feature list: every prerequisite named by requires() must appear
// earlier in the same list
func CheckFeatureOrder(g *types.GuestSpec, requires func(name string) []string) error {
	seen := make(map[string]bool, len(g.Features))
	for _, f := range g.Features {
		for _, req := range requires(f) {
			if !seen[req] {
				return faults.Config("feature-order",
					fmt.Errorf("guest %d: feature %q requires %q earlier in the feature list", g.ID, f, req))
			}
		}
		seen[f] = true
	}
	return nil
}

func formatChain(chain []int) string {
	parts := make([]string, len(chain))
	for i, id := range chain {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, " -> ")
}
