package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"

	"github.com/roosthq/roost/pkg/faults"
	"github.com/roosthq/roost/pkg/types"
)

// Document filenames expected in the config directory
const (
	GuestsDocument       = "guests.json"
	StacksDocument       = "stacks.json"
	CertificatesDocument = "certificates.json"
)

// Store exposes read-only lookups over the validated declarative
// documents. All components read through this interface rather than
// touching files directly.
type Store interface {
	// Guests returns all guest specs in document declaration order
	Guests() []*types.GuestSpec
	Guest(id int) (*types.GuestSpec, bool)
	GuestByName(name string) (*types.GuestSpec, bool)
	GuestsByRole(role string) []*types.GuestSpec

	// DeclarationIndex returns the position of a guest in the source
	// document, used as the resolver's stable tie-break
	DeclarationIndex(id int) int

	Stacks() []*types.StackSpec
	Stack(name string) (*types.StackSpec, bool)

	Certificates() []*types.CertificateEntry

	// IngressAddress is the shared ingress address service hostnames
	// resolve to
	IngressAddress() string

	// StaticRecords are the well-known fixed name records
	StaticRecords() []types.HostRecord

	// GlobalFirewall returns host-wide packet-filter rules, merged
	// before any per-guest rule
	GlobalFirewall() []types.FirewallRule
}

// GuestsDoc is the top-level shape of the guest specification document
type GuestsDoc struct {
	IngressAddress string               `json:"ingress_address" validate:"omitempty,ip"`
	StaticRecords  []types.HostRecord   `json:"static_records,omitempty" validate:"dive"`
	Firewall       []types.FirewallRule `json:"firewall,omitempty" validate:"dive"`
	Guests         []*types.GuestSpec   `json:"guests" validate:"required,min=1,dive"`
}

// StacksDoc is the top-level shape of the stack specification document
type StacksDoc struct {
	Stacks []*types.StackSpec `json:"stacks" validate:"dive"`
}

// CertsDoc is the top-level shape of the certificate manifest
type CertsDoc struct {
	Certificates []*types.CertificateEntry `json:"certificates" validate:"dive"`
}

type memStore struct {
	guests  GuestsDoc
	stacks  StacksDoc
	certs   CertsDoc
	byID    map[int]*types.GuestSpec
	byName  map[string]*types.GuestSpec
	byStack map[string]*types.StackSpec
	declIdx map[int]int
}

// New builds a Store from already-decoded documents, validating schema
// and cross-references. Used directly by tests; Load is the file path.
func New(guests GuestsDoc, stacks StacksDoc, certs CertsDoc) (Store, error) {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(guests); err != nil {
		return nil, faults.Config("validate-guests", err)
	}
	if err := v.Struct(stacks); err != nil {
		return nil, faults.Config("validate-stacks", err)
	}
	if err := v.Struct(certs); err != nil {
		return nil, faults.Config("validate-certificates", err)
	}

	s := &memStore{
		guests:  guests,
		stacks:  stacks,
		certs:   certs,
		byID:    make(map[int]*types.GuestSpec),
		byName:  make(map[string]*types.GuestSpec),
		byStack: make(map[string]*types.StackSpec),
		declIdx: make(map[int]int),
	}

	for i, g := range guests.Guests {
		if _, dup := s.byID[g.ID]; dup {
			return nil, faults.Config("index-guests", fmt.Errorf("duplicate guest id %d", g.ID))
		}
		if _, dup := s.byName[g.Name]; dup {
			return nil, faults.Config("index-guests", fmt.Errorf("duplicate guest name %q", g.Name))
		}
		s.byID[g.ID] = g
		s.byName[g.Name] = g
		s.declIdx[g.ID] = i
	}

	for _, st := range stacks.Stacks {
		if _, dup := s.byStack[st.Name]; dup {
			return nil, faults.Config("index-stacks", fmt.Errorf("duplicate stack name %q", st.Name))
		}
		s.byStack[st.Name] = st
	}

	if err := s.checkReferences(); err != nil {
		return nil, err
	}
	return s, nil
}

// checkReferences rejects dangling clone sources, dependency ids, and
// stack bindings before any side effect
func (s *memStore) checkReferences() error {
	for _, g := range s.guests.Guests {
		if g.CloneFrom != nil {
			src, ok := s.byID[*g.CloneFrom]
			if !ok {
				return faults.Config("check-references",
					fmt.Errorf("guest %d clones unknown guest %d", g.ID, *g.CloneFrom))
			}
			if !src.Template {
				return faults.Config("check-references",
					fmt.Errorf("guest %d clones guest %d which is not a template", g.ID, *g.CloneFrom))
			}
		}
		for _, dep := range g.DependsOn {
			if _, ok := s.byID[dep]; !ok {
				return faults.Config("check-references",
					fmt.Errorf("guest %d depends on unknown guest %d", g.ID, dep))
			}
		}
		for _, ref := range g.Stacks {
			st, ok := s.byStack[ref.Stack]
			if !ok {
				return faults.Config("check-references",
					fmt.Errorf("guest %d references unknown stack %q", g.ID, ref.Stack))
			}
			if _, ok := st.Environments[ref.Environment]; !ok {
				return faults.Config("check-references",
					fmt.Errorf("guest %d references unknown environment %q of stack %q",
						g.ID, ref.Environment, ref.Stack))
			}
		}
	}
	return nil
}

// Load reads and validates the three documents from dir. Missing
// stacks.json or certificates.json are treated as empty; guests.json
// is required.
func Load(dir string) (Store, error) {
	var guests GuestsDoc
	if err := decodeFile(filepath.Join(dir, GuestsDocument), &guests); err != nil {
		return nil, faults.Config("load-guests", err)
	}

	var stacks StacksDoc
	if err := decodeFile(filepath.Join(dir, StacksDocument), &stacks); err != nil {
		if !os.IsNotExist(err) {
			return nil, faults.Config("load-stacks", err)
		}
	}

	var certs CertsDoc
	if err := decodeFile(filepath.Join(dir, CertificatesDocument), &certs); err != nil {
		if !os.IsNotExist(err) {
			return nil, faults.Config("load-certificates", err)
		}
	}

	return New(guests, stacks, certs)
}

func decodeFile(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *memStore) Guests() []*types.GuestSpec { return s.guests.Guests }

func (s *memStore) Guest(id int) (*types.GuestSpec, bool) {
	g, ok := s.byID[id]
	return g, ok
}

func (s *memStore) GuestByName(name string) (*types.GuestSpec, bool) {
	g, ok := s.byName[name]
	return g, ok
}

func (s *memStore) GuestsByRole(role string) []*types.GuestSpec {
	var out []*types.GuestSpec
	for _, g := range s.guests.Guests {
		for _, r := range g.Roles {
			if r == role {
				out = append(out, g)
				break
			}
		}
	}
	return out
}

func (s *memStore) DeclarationIndex(id int) int {
	if i, ok := s.declIdx[id]; ok {
		return i
	}
	return -1
}

func (s *memStore) Stacks() []*types.StackSpec { return s.stacks.Stacks }

func (s *memStore) Stack(name string) (*types.StackSpec, bool) {
	st, ok := s.byStack[name]
	return st, ok
}

func (s *memStore) Certificates() []*types.CertificateEntry { return s.certs.Certificates }

func (s *memStore) IngressAddress() string { return s.guests.IngressAddress }

func (s *memStore) StaticRecords() []types.HostRecord { return s.guests.StaticRecords }

func (s *memStore) GlobalFirewall() []types.FirewallRule { return s.guests.Firewall }
