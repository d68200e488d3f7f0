package feature

import (
	"context"
	"fmt"

	"github.com/roosthq/roost/pkg/guest"
	"github.com/roosthq/roost/pkg/types"
)

// Result is the tri-state outcome of a feature module invocation
type Result string

const (
	ResultSatisfied Result = "satisfied" // probe reported already done
	ResultApplied   Result = "applied"
	ResultFailed    Result = "failed"
)

// Module is an independently idempotent unit of guest configuration.
// Probe must be side-effect-free; Apply must be safe to invoke when
// the probe already reports satisfied.
type Module interface {
	Name() string

	// Requires names features that must appear earlier in the same
	// guest's feature list
	Requires() []string

	// BestEffort marks a module whose failure degrades to a warning
	// instead of aborting the pipeline
	BestEffort() bool

	Probe(ctx context.Context, g *types.GuestSpec, mgr guest.Manager) (satisfied bool, err error)
	Apply(ctx context.Context, g *types.GuestSpec, mgr guest.Manager) error
}

// Registry indexes feature modules by name
type Registry struct {
	modules map[string]Module
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds a module; re-registering a name is a programming error
func (r *Registry) Register(m Module) error {
	if _, dup := r.modules[m.Name()]; dup {
		return fmt.Errorf("feature %q registered twice", m.Name())
	}
	r.modules[m.Name()] = m
	return nil
}

// MustRegister registers or panics, for static wiring at startup
func (r *Registry) MustRegister(m Module) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Get looks up a module by name
func (r *Registry) Get(name string) (Module, bool) {
	m, ok := r.modules[name]
	return m, ok
}

// Requires returns the ordering prerequisites for a feature name.
// Unknown names return nil; the applier rejects them separately.
func (r *Registry) Requires(name string) []string {
	if m, ok := r.modules[name]; ok {
		return m.Requires()
	}
	return nil
}
