package guest

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/roosthq/roost/pkg/faults"
	"github.com/roosthq/roost/pkg/log"
	"github.com/roosthq/roost/pkg/types"
)

// Lifecycle issues idempotent lifecycle operations through a Manager.
// Every operation is probed before being issued, so steady-state runs
// stay quiet and re-runs are safe.
type Lifecycle struct {
	mgr    Manager
	logger zerolog.Logger
}

// NewLifecycle wraps a Manager with probing and fault classification
func NewLifecycle(mgr Manager) *Lifecycle {
	return &Lifecycle{
		mgr:    mgr,
		logger: log.WithComponent("guest.lifecycle"),
	}
}

// Manager exposes the underlying guest-management contract
func (l *Lifecycle) Manager() Manager {
	return l.mgr
}

// fault wraps err as a fatal operation carrying the last external
// command and its output
func (l *Lifecycle) fault(id int, step string, err error) error {
	cmd, out := l.mgr.LastCommand()
	return faults.Operation(strconv.Itoa(id), step, err).WithCommand(cmd, out)
}

// Ensure drives a guest to existing-and-running. Returns true when
// the guest had to be created. Create failure is fatal: a missing
// template or resource conflict cannot be silently skipped.
func (l *Lifecycle) Ensure(ctx context.Context, spec *types.GuestSpec) (created bool, err error) {
	exists, err := l.mgr.Exists(ctx, spec.ID)
	if err != nil {
		return false, l.fault(spec.ID, "exists-probe", err)
	}

	if !exists {
		l.logger.Info().Int("guest_id", spec.ID).Str("name", spec.Name).Msg("creating guest")
		if err := l.mgr.Create(ctx, spec); err != nil {
			return false, l.fault(spec.ID, "create", err)
		}
		created = true
	} else {
		l.logger.Debug().Int("guest_id", spec.ID).Msg("guest already exists")
	}

	// templates stay stopped; they only serve as clone sources
	if spec.Template {
		return created, nil
	}

	if err := l.Start(ctx, spec.ID); err != nil {
		return created, err
	}
	return created, nil
}

// Start starts the guest unless it already reports running
func (l *Lifecycle) Start(ctx context.Context, id int) error {
	running, err := l.mgr.Running(ctx, id)
	if err != nil {
		return l.fault(id, "running-probe", err)
	}
	if running {
		l.logger.Debug().Int("guest_id", id).Msg("guest already running")
		return nil
	}
	l.logger.Info().Int("guest_id", id).Msg("starting guest")
	if err := l.mgr.Start(ctx, id); err != nil {
		return l.fault(id, "start", err)
	}
	return nil
}

// Stop stops the guest unless it is already stopped
func (l *Lifecycle) Stop(ctx context.Context, id int) error {
	running, err := l.mgr.Running(ctx, id)
	if err != nil {
		return l.fault(id, "running-probe", err)
	}
	if !running {
		l.logger.Debug().Int("guest_id", id).Msg("guest already stopped")
		return nil
	}
	l.logger.Info().Int("guest_id", id).Msg("stopping guest")
	if err := l.mgr.Stop(ctx, id); err != nil {
		return l.fault(id, "stop", err)
	}
	return nil
}

// Restart performs a full stop/start cycle. A configuration-only set
// is not enough for changes like device passthrough; those need a
// fresh start.
func (l *Lifecycle) Restart(ctx context.Context, id int) error {
	if err := l.Stop(ctx, id); err != nil {
		return err
	}
	return l.Start(ctx, id)
}

// Delete removes the guest, stopping it first if needed. Destructive;
// only invoked on an explicit operator request.
func (l *Lifecycle) Delete(ctx context.Context, id int) error {
	exists, err := l.mgr.Exists(ctx, id)
	if err != nil {
		return l.fault(id, "exists-probe", err)
	}
	if !exists {
		l.logger.Debug().Int("guest_id", id).Msg("guest already absent")
		return nil
	}
	if err := l.Stop(ctx, id); err != nil {
		return err
	}
	l.logger.Info().Int("guest_id", id).Msg("deleting guest")
	if err := l.mgr.Delete(ctx, id); err != nil {
		return l.fault(id, "delete", err)
	}
	return nil
}
