package feature

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/roosthq/roost/pkg/guest"
	"github.com/roosthq/roost/pkg/types"
)

// ExecModule is a feature module backed by a setup script on the host.
// Probe runs a command inside the guest and treats exit 0 as
// satisfied; Apply pushes the script into the guest and executes it.
// Most feature modules (package installs, runtime setup, driver
// compilation) are instances of this.
type ExecModule struct {
	FeatureName string
	Prereqs     []string
	Lenient     bool

	// ProbeCommand runs inside the guest; exit 0 means satisfied
	ProbeCommand []string

	// ScriptPath is the host-side setup script pushed and executed
	ScriptPath string

	// ScriptArgs are appended to the in-guest script invocation
	ScriptArgs []string
}

func (m *ExecModule) Name() string       { return m.FeatureName }
func (m *ExecModule) Requires() []string { return m.Prereqs }
func (m *ExecModule) BestEffort() bool   { return m.Lenient }

func (m *ExecModule) Probe(ctx context.Context, g *types.GuestSpec, mgr guest.Manager) (bool, error) {
	if len(m.ProbeCommand) == 0 {
		return false, nil
	}
	_, code, err := mgr.Exec(ctx, g.ID, m.ProbeCommand...)
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", m.FeatureName, err)
	}
	return code == 0, nil
}

func (m *ExecModule) Apply(ctx context.Context, g *types.GuestSpec, mgr guest.Manager) error {
	remote := path.Join("/tmp", path.Base(m.ScriptPath))
	if err := mgr.PushFile(ctx, g.ID, m.ScriptPath, remote); err != nil {
		return fmt.Errorf("push %s: %w", m.FeatureName, err)
	}

	cmd := append([]string{"bash", remote}, m.ScriptArgs...)
	out, code, err := mgr.Exec(ctx, g.ID, cmd...)
	if err != nil {
		return fmt.Errorf("apply %s: %w", m.FeatureName, err)
	}
	if code != 0 {
		return fmt.Errorf("apply %s: exit %d: %s", m.FeatureName, code, strings.TrimSpace(out))
	}
	return nil
}
