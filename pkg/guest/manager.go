package guest

import (
	"context"

	"github.com/roosthq/roost/pkg/types"
)

// Manager is the narrow guest-management contract the orchestrator
// depends on. Implementations wrap a specific hypervisor's tooling;
// the orchestrator never assumes a particular product behind it.
type Manager interface {
	// Exists probes whether the guest is known to the hypervisor
	Exists(ctx context.Context, id int) (bool, error)

	// Running probes whether the guest currently reports a running state
	Running(ctx context.Context, id int) (bool, error)

	// Create provisions the guest from its spec, cloning from the
	// declared template when one is set. The guest is left
	// base-configured but not started.
	Create(ctx context.Context, spec *types.GuestSpec) error

	Start(ctx context.Context, id int) error
	Stop(ctx context.Context, id int) error
	Delete(ctx context.Context, id int) error

	// SetConfigEntry adds one typed directive line to the guest's
	// host-side configuration. Returns false when the exact entry is
	// already present, which keeps repeated mutation idempotent.
	SetConfigEntry(ctx context.Context, id int, entry string) (added bool, err error)

	// Exec runs a command inside the guest and returns combined
	// output and exit code
	Exec(ctx context.Context, id int, command ...string) (output string, exitCode int, err error)

	// PushFile copies a host file into the guest
	PushFile(ctx context.Context, id int, localPath, remotePath string) error

	// LastCommand reports the most recent external command attempted
	// and its output, for fatal-error reporting
	LastCommand() (command string, output string)
}
