package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	bolt "go.etcd.io/bbolt"

	"github.com/roosthq/roost/pkg/types"
)

var (
	// Bucket names
	bucketPassthrough  = []byte("passthrough")
	bucketCertificates = []byte("certificates")
	bucketRuns         = []byte("runs")
)

var keyLastRun = []byte("last")

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the orchestrator state database
// under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "roost.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketPassthrough,
			bucketCertificates,
			bucketRuns,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) PassthroughState(guestID int) (types.PassthroughState, error) {
	state := types.PassthroughUnconfigured
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPassthrough)
		if data := b.Get([]byte(strconv.Itoa(guestID))); data != nil {
			state = types.PassthroughState(data)
		}
		return nil
	})
	return state, err
}

func (s *BoltStore) SetPassthroughState(guestID int, state types.PassthroughState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPassthrough)
		return b.Put([]byte(strconv.Itoa(guestID)), []byte(state))
	})
}

func (s *BoltStore) Certificate(subject string) (*types.CertificateStatus, error) {
	var status *types.CertificateStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCertificates)
		data := b.Get([]byte(subject))
		if data == nil {
			return nil
		}
		status = &types.CertificateStatus{}
		return json.Unmarshal(data, status)
	})
	return status, err
}

func (s *BoltStore) SetCertificate(status *types.CertificateStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCertificates)
		data, err := json.Marshal(status)
		if err != nil {
			return err
		}
		return b.Put([]byte(status.Subject), data)
	})
}

func (s *BoltStore) LastRun() (*types.RunReport, error) {
	var report *types.RunReport
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data := b.Get(keyLastRun)
		if data == nil {
			return nil
		}
		report = &types.RunReport{}
		return json.Unmarshal(data, report)
	})
	return report, err
}

func (s *BoltStore) SetLastRun(report *types.RunReport) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data, err := json.Marshal(report)
		if err != nil {
			return err
		}
		return b.Put(keyLastRun, data)
	})
}
