package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Settings is the orchestrator's own configuration, read from a YAML
// file. It covers host paths, external binaries, policies, and the
// control-plane credentials; the declarative documents stay separate.
type Settings struct {
	ConfigDir string `mapstructure:"config_dir"`
	StateDir  string `mapstructure:"state_dir"`
	LockFile  string `mapstructure:"lock_file"`

	Hypervisor HypervisorSettings `mapstructure:"hypervisor"`
	DeviceWait DeviceWaitSettings `mapstructure:"device_wait"`

	DNS      ArtifactSettings `mapstructure:"dns"`
	Firewall ArtifactSettings `mapstructure:"firewall"`
	Routes   ArtifactSettings `mapstructure:"routes"`

	CA           CASettings           `mapstructure:"ca"`
	ControlPlane ControlPlaneSettings `mapstructure:"control_plane"`
}

// HypervisorSettings names the guest-management binaries
type HypervisorSettings struct {
	ContainerCLI string `mapstructure:"container_cli"`
	VMCLI        string `mapstructure:"vm_cli"`
	ConfigDir    string `mapstructure:"config_dir"`
}

// DeviceWaitSettings controls the passthrough device visibility poll
type DeviceWaitSettings struct {
	// Policy is "strict" (timeout is fatal) or "lenient" (timeout
	// degrades to a warning with a device directory dump)
	Policy   string        `mapstructure:"policy"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ArtifactSettings describes one generated artifact and how to reload
// its consuming service
type ArtifactSettings struct {
	Path          string   `mapstructure:"path"`
	ReloadCommand []string `mapstructure:"reload_command"`
}

// CASettings locates the host-local signing CA
type CASettings struct {
	CertPath         string        `mapstructure:"cert_path"`
	KeyPath          string        `mapstructure:"key_path"`
	RenewalThreshold time.Duration `mapstructure:"renewal_threshold"`
	Validity         time.Duration `mapstructure:"validity"`
}

// ControlPlaneSettings holds the container-orchestration API endpoint
// and credentials
type ControlPlaneSettings struct {
	URL        string `mapstructure:"url"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	CACertPath string `mapstructure:"ca_cert_path"`
	// EndpointURLTemplate renders a guest's container engine socket,
	// %s replaced by the guest address
	EndpointURLTemplate string `mapstructure:"endpoint_url_template"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config_dir", "/etc/roost")
	v.SetDefault("state_dir", "/var/lib/roost")
	v.SetDefault("lock_file", "/run/roost.lock")

	v.SetDefault("hypervisor.container_cli", "pct")
	v.SetDefault("hypervisor.vm_cli", "qm")
	v.SetDefault("hypervisor.config_dir", "/etc/pve/lxc")

	v.SetDefault("device_wait.policy", "strict")
	v.SetDefault("device_wait.interval", 2*time.Second)
	v.SetDefault("device_wait.timeout", 30*time.Second)

	v.SetDefault("dns.path", "/etc/dnsmasq.d/roost-hosts.conf")
	v.SetDefault("dns.reload_command", []string{"systemctl", "reload", "dnsmasq"})
	v.SetDefault("firewall.path", "/etc/nftables.d/roost.nft")
	v.SetDefault("firewall.reload_command", []string{"systemctl", "reload", "nftables"})
	v.SetDefault("routes.path", "/etc/traefik/dynamic/roost-routes.yml")
	v.SetDefault("routes.reload_command", []string{})

	v.SetDefault("ca.cert_path", "/var/lib/roost/ca/ca.crt")
	v.SetDefault("ca.key_path", "/var/lib/roost/ca/ca.key")
	v.SetDefault("ca.renewal_threshold", 30*24*time.Hour)
	v.SetDefault("ca.validity", 365*24*time.Hour)

	v.SetDefault("control_plane.endpoint_url_template", "tcp://%s:2375")
}

// LoadSettings reads the settings file. An empty path falls back to
// roost.yml in the default search paths; all keys have defaults so a
// missing file yields a usable configuration.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ROOST")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("roost")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/roost")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" {
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) validate() error {
	switch s.DeviceWait.Policy {
	case "strict", "lenient":
	default:
		return fmt.Errorf("device_wait.policy must be strict or lenient, got %q", s.DeviceWait.Policy)
	}
	if s.DeviceWait.Timeout <= 0 {
		return fmt.Errorf("device_wait.timeout must be positive")
	}
	return nil
}
