package guest

import (
	"context"
	"fmt"
	"strings"

	"github.com/roosthq/roost/pkg/types"
)

// MemManager is an in-memory Manager used by tests and dry runs. It
// records every call so tests can assert exactly which lifecycle
// operations were issued.
type MemManager struct {
	guests  map[int]*memGuest
	Calls   []string
	ExecFn  func(id int, command ...string) (string, int, error)
	FailOps map[string]error
	lastCmd string
	lastOut string
}

type memGuest struct {
	spec    *types.GuestSpec
	running bool
	entries []string
	files   map[string]string
}

// NewMemManager creates an empty in-memory manager
func NewMemManager() *MemManager {
	return &MemManager{
		guests:  make(map[int]*memGuest),
		FailOps: make(map[string]error),
	}
}

// Seed registers a guest as already existing (stopped)
func (m *MemManager) Seed(spec *types.GuestSpec) {
	m.guests[spec.ID] = &memGuest{spec: spec, files: make(map[string]string)}
}

// SeedRunning registers a guest as already existing and running
func (m *MemManager) SeedRunning(spec *types.GuestSpec) {
	m.guests[spec.ID] = &memGuest{spec: spec, running: true, files: make(map[string]string)}
}

// ConfigEntries returns the recorded config entries for a guest
func (m *MemManager) ConfigEntries(id int) []string {
	if g, ok := m.guests[id]; ok {
		return g.entries
	}
	return nil
}

// CallsFor returns the recorded calls touching a guest id, in order
func (m *MemManager) CallsFor(id int) []string {
	var out []string
	needle := fmt.Sprintf("(%d", id)
	for _, c := range m.Calls {
		if strings.Contains(c, needle) {
			out = append(out, c)
		}
	}
	return out
}

func (m *MemManager) record(op string, id int, extra ...string) string {
	call := fmt.Sprintf("%s(%d", op, id)
	if len(extra) > 0 {
		call += "," + strings.Join(extra, ",")
	}
	call += ")"
	m.Calls = append(m.Calls, call)
	m.lastCmd = call
	return call
}

func (m *MemManager) fail(op string) error {
	if err, ok := m.FailOps[op]; ok {
		return err
	}
	return nil
}

func (m *MemManager) LastCommand() (string, string) { return m.lastCmd, m.lastOut }

func (m *MemManager) Exists(ctx context.Context, id int) (bool, error) {
	if err := m.fail("exists"); err != nil {
		return false, err
	}
	_, ok := m.guests[id]
	return ok, nil
}

func (m *MemManager) Running(ctx context.Context, id int) (bool, error) {
	if err := m.fail("running"); err != nil {
		return false, err
	}
	g, ok := m.guests[id]
	return ok && g.running, nil
}

func (m *MemManager) Create(ctx context.Context, spec *types.GuestSpec) error {
	m.record("create", spec.ID)
	if err := m.fail("create"); err != nil {
		return err
	}
	if _, ok := m.guests[spec.ID]; ok {
		return fmt.Errorf("guest %d already exists", spec.ID)
	}
	if spec.CloneFrom != nil {
		if _, ok := m.guests[*spec.CloneFrom]; !ok {
			return fmt.Errorf("clone source %d missing", *spec.CloneFrom)
		}
	}
	m.guests[spec.ID] = &memGuest{spec: spec, files: make(map[string]string)}
	return nil
}

func (m *MemManager) Start(ctx context.Context, id int) error {
	m.record("start", id)
	if err := m.fail("start"); err != nil {
		return err
	}
	g, ok := m.guests[id]
	if !ok {
		return fmt.Errorf("guest %d does not exist", id)
	}
	g.running = true
	return nil
}

func (m *MemManager) Stop(ctx context.Context, id int) error {
	m.record("stop", id)
	if err := m.fail("stop"); err != nil {
		return err
	}
	g, ok := m.guests[id]
	if !ok {
		return fmt.Errorf("guest %d does not exist", id)
	}
	g.running = false
	return nil
}

func (m *MemManager) Delete(ctx context.Context, id int) error {
	m.record("delete", id)
	if err := m.fail("delete"); err != nil {
		return err
	}
	if _, ok := m.guests[id]; !ok {
		return fmt.Errorf("guest %d does not exist", id)
	}
	delete(m.guests, id)
	return nil
}

func (m *MemManager) SetConfigEntry(ctx context.Context, id int, entry string) (bool, error) {
	m.record("set-config", id, entry)
	if err := m.fail("set-config"); err != nil {
		return false, err
	}
	g, ok := m.guests[id]
	if !ok {
		return false, fmt.Errorf("guest %d does not exist", id)
	}
	for _, e := range g.entries {
		if e == entry {
			return false, nil
		}
	}
	g.entries = append(g.entries, entry)
	return true, nil
}

func (m *MemManager) Exec(ctx context.Context, id int, command ...string) (string, int, error) {
	m.record("exec", id, strings.Join(command, " "))
	if err := m.fail("exec"); err != nil {
		return "", -1, err
	}
	if _, ok := m.guests[id]; !ok {
		return "", -1, fmt.Errorf("guest %d does not exist", id)
	}
	if m.ExecFn != nil {
		out, code, err := m.ExecFn(id, command...)
		m.lastOut = out
		return out, code, err
	}
	return "", 0, nil
}

func (m *MemManager) PushFile(ctx context.Context, id int, localPath, remotePath string) error {
	m.record("push", id, localPath, remotePath)
	if err := m.fail("push"); err != nil {
		return err
	}
	g, ok := m.guests[id]
	if !ok {
		return fmt.Errorf("guest %d does not exist", id)
	}
	g.files[remotePath] = localPath
	return nil
}
