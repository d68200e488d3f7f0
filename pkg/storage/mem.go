package storage

import (
	"github.com/roosthq/roost/pkg/types"
)

// MemStore implements Store in memory, for tests
type MemStore struct {
	passthrough map[int]types.PassthroughState
	certs       map[string]*types.CertificateStatus
	lastRun     *types.RunReport
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{
		passthrough: make(map[int]types.PassthroughState),
		certs:       make(map[string]*types.CertificateStatus),
	}
}

func (s *MemStore) PassthroughState(guestID int) (types.PassthroughState, error) {
	if st, ok := s.passthrough[guestID]; ok {
		return st, nil
	}
	return types.PassthroughUnconfigured, nil
}

func (s *MemStore) SetPassthroughState(guestID int, state types.PassthroughState) error {
	s.passthrough[guestID] = state
	return nil
}

func (s *MemStore) Certificate(subject string) (*types.CertificateStatus, error) {
	return s.certs[subject], nil
}

func (s *MemStore) SetCertificate(status *types.CertificateStatus) error {
	s.certs[status.Subject] = status
	return nil
}

func (s *MemStore) LastRun() (*types.RunReport, error) {
	return s.lastRun, nil
}

func (s *MemStore) SetLastRun(report *types.RunReport) error {
	s.lastRun = report
	return nil
}

func (s *MemStore) Close() error { return nil }
