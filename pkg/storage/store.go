package storage

import (
	"github.com/roosthq/roost/pkg/types"
)

// Store persists orchestrator state that must survive host and
// orchestrator restarts: the passthrough state machine position per
// guest, certificate issuance bookkeeping, and the last run report.
type Store interface {
	// PassthroughState returns the persisted state for a guest, or
	// types.PassthroughUnconfigured when none was recorded
	PassthroughState(guestID int) (types.PassthroughState, error)
	SetPassthroughState(guestID int, state types.PassthroughState) error

	Certificate(subject string) (*types.CertificateStatus, error)
	SetCertificate(status *types.CertificateStatus) error

	LastRun() (*types.RunReport, error)
	SetLastRun(report *types.RunReport) error

	Close() error
}
