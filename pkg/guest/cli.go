package guest

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/roosthq/roost/pkg/config"
	"github.com/roosthq/roost/pkg/log"
	"github.com/roosthq/roost/pkg/types"
)

// CLIManager drives guests through the hypervisor's command-line
// tools: one binary for containers, one for virtual machines. Guest
// configuration mutation appends directive lines to the per-guest
// config file under the hypervisor config directory.
type CLIManager struct {
	settings config.HypervisorSettings
	kinds    map[int]types.GuestKind
	lastCmd  string
	lastOut  string
	logger   zerolog.Logger
}

// NewCLIManager creates a manager over the configured hypervisor
// binaries. The guest specs establish the id -> kind mapping used to
// pick the right binary per operation.
func NewCLIManager(settings config.HypervisorSettings, guests []*types.GuestSpec) *CLIManager {
	kinds := make(map[int]types.GuestKind, len(guests))
	for _, g := range guests {
		kinds[g.ID] = g.Kind
	}
	return &CLIManager{
		settings: settings,
		kinds:    kinds,
		logger:   log.WithComponent("guest.cli"),
	}
}

func (m *CLIManager) bin(id int) string {
	if m.kinds[id] == types.GuestKindVM {
		return m.settings.VMCLI
	}
	return m.settings.ContainerCLI
}

// run executes a hypervisor command, recording it for fatal reports
func (m *CLIManager) run(ctx context.Context, name string, args ...string) (string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()

	m.lastCmd = name + " " + strings.Join(args, " ")
	m.lastOut = string(out)

	m.logger.Debug().Str("command", m.lastCmd).Msg("external command")

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			// a non-zero exit is a command result, not an exec failure
			return string(out), exitCode, nil
		}
		return string(out), -1, fmt.Errorf("%s: %w", name, err)
	}
	return string(out), exitCode, nil
}

// LastCommand reports the most recent command attempted and its output
func (m *CLIManager) LastCommand() (string, string) {
	return m.lastCmd, m.lastOut
}

// Exists probes the hypervisor for the guest
func (m *CLIManager) Exists(ctx context.Context, id int) (bool, error) {
	_, code, err := m.run(ctx, m.bin(id), "status", strconv.Itoa(id))
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

// Running reports whether the guest's status is running
func (m *CLIManager) Running(ctx context.Context, id int) (bool, error) {
	out, code, err := m.run(ctx, m.bin(id), "status", strconv.Itoa(id))
	if err != nil {
		return false, err
	}
	if code != 0 {
		return false, nil
	}
	return strings.Contains(out, "running"), nil
}

// Create provisions a guest, either cloning its template or creating
// it from scratch, then applies base network and mount configuration
func (m *CLIManager) Create(ctx context.Context, spec *types.GuestSpec) error {
	id := strconv.Itoa(spec.ID)

	var args []string
	if spec.CloneFrom != nil {
		args = []string{"clone", strconv.Itoa(*spec.CloneFrom), id,
			"--hostname", spec.Name, "--full"}
	} else {
		args = []string{"create", id, "--hostname", spec.Name}
	}

	out, code, err := m.run(ctx, m.bin(spec.ID), args...)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("create guest %d: exit %d: %s", spec.ID, code, strings.TrimSpace(out))
	}

	return m.baseConfigure(ctx, spec)
}

// baseConfigure applies network and mount settings after creation
func (m *CLIManager) baseConfigure(ctx context.Context, spec *types.GuestSpec) error {
	if spec.Network.Address != "" {
		net := fmt.Sprintf("name=eth0,ip=%s", spec.Network.Address)
		if spec.Network.Gateway != "" {
			net += ",gw=" + spec.Network.Gateway
		}
		out, code, err := m.run(ctx, m.bin(spec.ID), "set", strconv.Itoa(spec.ID), "--net0", net)
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("configure network for guest %d: exit %d: %s",
				spec.ID, code, strings.TrimSpace(out))
		}
	}

	for i, mnt := range spec.Mounts {
		opt := fmt.Sprintf("%s,mp=%s", mnt.Source, mnt.Target)
		if mnt.ReadOnly {
			opt += ",ro=1"
		}
		out, code, err := m.run(ctx, m.bin(spec.ID), "set", strconv.Itoa(spec.ID),
			fmt.Sprintf("--mp%d", i), opt)
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("configure mount %d for guest %d: exit %d: %s",
				i, spec.ID, code, strings.TrimSpace(out))
		}
	}
	return nil
}

// Start starts the guest
func (m *CLIManager) Start(ctx context.Context, id int) error {
	out, code, err := m.run(ctx, m.bin(id), "start", strconv.Itoa(id))
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("start guest %d: exit %d: %s", id, code, strings.TrimSpace(out))
	}
	return nil
}

// Stop stops the guest
func (m *CLIManager) Stop(ctx context.Context, id int) error {
	out, code, err := m.run(ctx, m.bin(id), "stop", strconv.Itoa(id))
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("stop guest %d: exit %d: %s", id, code, strings.TrimSpace(out))
	}
	return nil
}

// Delete destroys the guest
func (m *CLIManager) Delete(ctx context.Context, id int) error {
	out, code, err := m.run(ctx, m.bin(id), "destroy", strconv.Itoa(id))
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("delete guest %d: exit %d: %s", id, code, strings.TrimSpace(out))
	}
	return nil
}

// SetConfigEntry appends a directive to the guest's host-side config
// file unless the exact line is already present
func (m *CLIManager) SetConfigEntry(ctx context.Context, id int, entry string) (bool, error) {
	path := filepath.Join(m.settings.ConfigDir, strconv.Itoa(id)+".conf")

	present, err := fileContainsLine(path, entry)
	if err != nil {
		return false, fmt.Errorf("read guest %d config: %w", id, err)
	}
	if present {
		return false, nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return false, fmt.Errorf("open guest %d config: %w", id, err)
	}
	defer f.Close()

	if _, err := f.WriteString(entry + "\n"); err != nil {
		return false, fmt.Errorf("append guest %d config: %w", id, err)
	}
	return true, nil
}

// Exec runs a command inside the guest
func (m *CLIManager) Exec(ctx context.Context, id int, command ...string) (string, int, error) {
	args := append([]string{"exec", strconv.Itoa(id), "--"}, command...)
	return m.run(ctx, m.bin(id), args...)
}

// PushFile copies a host file into the guest
func (m *CLIManager) PushFile(ctx context.Context, id int, localPath, remotePath string) error {
	out, code, err := m.run(ctx, m.bin(id), "push", strconv.Itoa(id), localPath, remotePath)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("push %s to guest %d: exit %d: %s",
			localPath, id, code, strings.TrimSpace(out))
	}
	return nil
}

func fileContainsLine(path, line string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == strings.TrimSpace(line) {
			return true, nil
		}
	}
	return false, sc.Err()
}
