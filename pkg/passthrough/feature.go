package passthrough

import (
	"context"

	"github.com/roosthq/roost/pkg/guest"
	"github.com/roosthq/roost/pkg/types"
)

// FeatureName is the feature list entry that triggers coordination
const FeatureName = "gpu-passthrough"

// Feature adapts the coordinator to the feature module contract so a
// guest opts in by listing gpu-passthrough; accelerator-dependent
// modules declare it as a prerequisite.
type Feature struct {
	Coordinator *Coordinator
}

func (f *Feature) Name() string       { return FeatureName }
func (f *Feature) Requires() []string { return nil }
func (f *Feature) BestEffort() bool   { return false }

// Probe reports satisfied when the state machine is Ready and the
// primary device is visible inside the guest
func (f *Feature) Probe(ctx context.Context, g *types.GuestSpec, mgr guest.Manager) (bool, error) {
	if !g.HasAccelerator() {
		// declared the feature without an assignment; nothing to do
		return true, nil
	}
	state, err := f.Coordinator.state.PassthroughState(g.ID)
	if err != nil {
		return false, err
	}
	if state != types.PassthroughReady {
		return false, nil
	}
	return f.Coordinator.deviceVisible(ctx, g)
}

// Apply drives the state machine to Ready
func (f *Feature) Apply(ctx context.Context, g *types.GuestSpec, mgr guest.Manager) error {
	return f.Coordinator.Ensure(ctx, g)
}
