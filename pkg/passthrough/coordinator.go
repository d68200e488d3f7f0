package passthrough

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/roosthq/roost/pkg/faults"
	"github.com/roosthq/roost/pkg/guest"
	"github.com/roosthq/roost/pkg/log"
	"github.com/roosthq/roost/pkg/metrics"
	"github.com/roosthq/roost/pkg/retry"
	"github.com/roosthq/roost/pkg/storage"
	"github.com/roosthq/roost/pkg/types"
)

// Policy decides what a device-wait timeout means
type Policy string

const (
	// PolicyStrict treats a device-wait timeout as fatal
	PolicyStrict Policy = "strict"

	// PolicyLenient degrades a timeout to a warning with a device
	// directory dump, letting the downstream driver installation fail
	// definitively if the device is truly absent
	PolicyLenient Policy = "lenient"
)

// Control device nodes exposed alongside every assigned accelerator
var controlDevices = []string{
	"/dev/nvidiactl",
	"/dev/nvidia-uvm",
	"/dev/nvidia-uvm-tools",
}

// accelerator device major number for cgroup allow rules
const deviceMajor = 195

// Coordinator drives the per-guest hardware passthrough state
// machine. State is persisted after every transition so an
// interrupted run resumes where it left off instead of restarting
// guests needlessly.
type Coordinator struct {
	lifecycle *guest.Lifecycle
	state     storage.Store
	policy    Policy
	poll      retry.Policy
	warnings  *faults.Warnings
	logger    zerolog.Logger
}

// NewCoordinator creates a coordinator with the given timeout policy
// and device poll settings
func NewCoordinator(lc *guest.Lifecycle, state storage.Store, policy Policy, poll retry.Policy, warnings *faults.Warnings) *Coordinator {
	return &Coordinator{
		lifecycle: lc,
		state:     state,
		policy:    policy,
		poll:      poll,
		warnings:  warnings,
		logger:    log.WithComponent("passthrough"),
	}
}

// ConfigEntries returns the host-side configuration directives that
// expose the assigned devices inside the guest: one cgroup allow rule
// plus a bind mount per device node.
func ConfigEntries(spec *types.GuestSpec) []string {
	entries := []string{
		fmt.Sprintf("lxc.cgroup2.devices.allow: c %d:* rwm", deviceMajor),
		"lxc.cgroup2.devices.allow: c 509:* rwm",
	}

	var nodes []string
	for _, idx := range spec.Accelerator {
		nodes = append(nodes, fmt.Sprintf("/dev/nvidia%d", idx))
	}
	nodes = append(nodes, controlDevices...)

	for _, node := range nodes {
		entries = append(entries, fmt.Sprintf(
			"lxc.mount.entry: %s %s none bind,optional,create=file", node, node[1:]))
	}
	return entries
}

// PrimaryDevice returns the device node polled for visibility
func PrimaryDevice(spec *types.GuestSpec) string {
	return fmt.Sprintf("/dev/nvidia%d", spec.Accelerator[0])
}

// Ensure drives the guest's passthrough state machine to Ready. Safe
// to call repeatedly; a guest already Ready with a visible device is
// a no-op.
func (c *Coordinator) Ensure(ctx context.Context, spec *types.GuestSpec) error {
	if !spec.HasAccelerator() {
		return nil
	}
	target := strconv.Itoa(spec.ID)

	state, err := c.state.PassthroughState(spec.ID)
	if err != nil {
		return faults.Operation(target, "passthrough-state", err)
	}

	if state == types.PassthroughReady {
		visible, err := c.deviceVisible(ctx, spec)
		if err != nil {
			return faults.Operation(target, "device-probe", err)
		}
		if visible {
			c.logger.Debug().Int("guest_id", spec.ID).Msg("passthrough already ready")
			return nil
		}
		// the device vanished (host reboot, driver reload); the
		// entries are already in place, so a restart cycle is enough
		c.logger.Warn().Int("guest_id", spec.ID).Msg("ready guest lost device visibility, cycling")
		if err := c.transition(spec.ID, types.PassthroughMutated); err != nil {
			return err
		}
		state = types.PassthroughMutated
	}

	if state == types.PassthroughUnconfigured {
		added, err := c.mutateConfig(ctx, spec)
		if err != nil {
			return err
		}
		if added == 0 {
			// nothing actually changed; no restart needed
			c.logger.Debug().Int("guest_id", spec.ID).Msg("device entries already present")
			return c.transition(spec.ID, types.PassthroughReady)
		}
		c.logger.Info().Int("guest_id", spec.ID).Int("entries", added).Msg("device entries added")
		if err := c.transition(spec.ID, types.PassthroughMutated); err != nil {
			return err
		}
		state = types.PassthroughMutated
	}

	if state == types.PassthroughMutated {
		// a set alone is not enough; passthrough needs a fresh start
		if err := c.lifecycle.Restart(ctx, spec.ID); err != nil {
			return err
		}
		if err := c.transition(spec.ID, types.PassthroughAwaitingDevice); err != nil {
			return err
		}
		state = types.PassthroughAwaitingDevice
	}

	if state == types.PassthroughAwaitingDevice {
		if err := c.awaitDevice(ctx, spec); err != nil {
			return err
		}
		return c.transition(spec.ID, types.PassthroughReady)
	}

	return nil
}

func (c *Coordinator) transition(guestID int, state types.PassthroughState) error {
	if err := c.state.SetPassthroughState(guestID, state); err != nil {
		return faults.Operation(strconv.Itoa(guestID), "passthrough-state", err)
	}
	metrics.PassthroughTransitions.WithLabelValues(string(state)).Inc()
	c.logger.Debug().Int("guest_id", guestID).Str("state", string(state)).Msg("passthrough transition")
	return nil
}

// mutateConfig adds the device-exposure entries, returning how many
// were actually new
func (c *Coordinator) mutateConfig(ctx context.Context, spec *types.GuestSpec) (int, error) {
	mgr := c.lifecycle.Manager()
	added := 0
	for _, entry := range ConfigEntries(spec) {
		wasNew, err := mgr.SetConfigEntry(ctx, spec.ID, entry)
		if err != nil {
			cmd, out := mgr.LastCommand()
			return added, faults.Operation(strconv.Itoa(spec.ID), "config-mutate", err).WithCommand(cmd, out)
		}
		if wasNew {
			added++
		}
	}
	return added, nil
}

func (c *Coordinator) deviceVisible(ctx context.Context, spec *types.GuestSpec) (bool, error) {
	_, code, err := c.lifecycle.Manager().Exec(ctx, spec.ID, "test", "-e", PrimaryDevice(spec))
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

// awaitDevice polls for the primary device node inside the guest with
// a bounded timeout, then applies the configured timeout policy
func (c *Coordinator) awaitDevice(ctx context.Context, spec *types.GuestSpec) error {
	target := strconv.Itoa(spec.ID)
	device := PrimaryDevice(spec)

	err := c.poll.Do(ctx, func(ctx context.Context) (bool, error) {
		return c.deviceVisible(ctx, spec)
	})
	if err == nil {
		c.logger.Info().Int("guest_id", spec.ID).Str("device", device).Msg("device visible in guest")
		return nil
	}
	if ctx.Err() != nil {
		return faults.Operation(target, "device-wait", err)
	}

	if c.policy == PolicyStrict {
		cmd, out := c.lifecycle.Manager().LastCommand()
		return faults.Operation(target, "device-wait",
			fmt.Errorf("device %s not visible: %w", device, err)).WithCommand(cmd, out)
	}

	// lenient: dump the device directory for diagnostics and move on
	dump, _, _ := c.lifecycle.Manager().Exec(ctx, spec.ID, "ls", "-la", "/dev")
	c.logger.Warn().Int("guest_id", spec.ID).Str("device", device).Str("dev_listing", dump).
		Msg("device wait timed out, continuing under lenient policy")
	c.warnings.Add(target, "device-wait",
		fmt.Sprintf("device %s not visible: %v", device, err))
	return nil
}
