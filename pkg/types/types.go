package types

import (
	"fmt"
	"time"
)

// GuestKind defines the virtualization flavor of a guest
type GuestKind string

const (
	GuestKindContainer GuestKind = "container"
	GuestKindVM        GuestKind = "vm"
)

// GuestSpec is the declared desired state of a single guest
type GuestSpec struct {
	ID           int       `json:"id" validate:"required,gt=0"`
	Name         string    `json:"name" validate:"required,hostname_rfc1123"`
	Kind         GuestKind `json:"kind" validate:"required,oneof=container vm"`
	CloneFrom    *int      `json:"clone_from,omitempty" validate:"omitempty,gt=0"`
	Template     bool      `json:"template,omitempty"`
	Features     []string  `json:"features,omitempty" validate:"dive,required"`
	Accelerator  []int     `json:"accelerator,omitempty" validate:"dive,gte=0"`
	Network      NetworkConfig  `json:"network"`
	Mounts       []Mount        `json:"mounts,omitempty" validate:"dive"`
	DependsOn    []int          `json:"depends_on,omitempty" validate:"dive,gt=0"`
	LaunchScript string         `json:"launch_script,omitempty"`
	Roles        []string       `json:"roles,omitempty"`
	Services     []ServiceRoute `json:"services,omitempty" validate:"dive"`
	Overrides    []HostRecord   `json:"overrides,omitempty" validate:"dive"`
	Firewall     []FirewallRule `json:"firewall,omitempty" validate:"dive"`
	Stacks       []StackRef     `json:"stacks,omitempty" validate:"dive"`
}

// HasAccelerator reports whether the spec declares hardware passthrough
func (g *GuestSpec) HasAccelerator() bool {
	return len(g.Accelerator) > 0
}

// NetworkConfig holds a guest's address assignment
type NetworkConfig struct {
	Address string `json:"address,omitempty" validate:"omitempty,cidr"`
	Gateway string `json:"gateway,omitempty" validate:"omitempty,ip"`
}

// Mount defines a host path exposed inside a guest
type Mount struct {
	Source   string `json:"source" validate:"required"`
	Target   string `json:"target" validate:"required"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

// ServiceRoute declares that a hostname served by this guest should
// resolve to the shared ingress address instead of the guest itself
type ServiceRoute struct {
	Hostname string `json:"hostname" validate:"required,fqdn|hostname_rfc1123"`
	Port     int    `json:"port,omitempty" validate:"omitempty,gt=0,lte=65535"`
}

// HostRecord is a direct hostname-to-address mapping that bypasses
// the shared ingress (e.g. an agent process reached directly)
type HostRecord struct {
	Hostname string `json:"hostname" validate:"required,fqdn|hostname_rfc1123"`
	Address  string `json:"address" validate:"required,ip"`
}

// StackRef binds a guest to a (stack, environment) pair
type StackRef struct {
	Stack       string `json:"stack" validate:"required"`
	Environment string `json:"environment" validate:"required"`
}

// RecordSource is the priority class of a derived record.
// Higher values win on key collision.
type RecordSource int

const (
	SourceStatic   RecordSource = iota // well-known fixed records
	SourceGuest                        // guest hostname -> own address
	SourceService                      // hostname -> shared ingress
	SourceOverride                     // explicit direct override
)

func (s RecordSource) String() string {
	switch s {
	case SourceStatic:
		return "static"
	case SourceGuest:
		return "guest"
	case SourceService:
		return "service"
	case SourceOverride:
		return "override"
	}
	return "unknown"
}

// DerivedRecord is a (key, value, source-priority) triple produced by
// the network reconciler. After merge at most one value exists per key.
type DerivedRecord struct {
	Key    string
	Value  string
	Source RecordSource
}

// FirewallRule is a typed packet-filter directive
type FirewallRule struct {
	Chain    string `json:"chain" validate:"required,oneof=input forward output"`
	Protocol string `json:"protocol" validate:"required,oneof=tcp udp icmp"`
	Port     int    `json:"port,omitempty" validate:"omitempty,gt=0,lte=65535"`
	Source   string `json:"source,omitempty" validate:"omitempty,cidr|ip"`
	Dest     string `json:"dest,omitempty" validate:"omitempty,cidr|ip"`
	Action   string `json:"action" validate:"required,oneof=accept drop reject"`
}

// Key returns the rule's identity for merge deduplication
func (r FirewallRule) Key() string {
	return fmt.Sprintf("%s/%s/%d/%s/%s", r.Chain, r.Protocol, r.Port, r.Source, r.Dest)
}

// CertificateEntry is one subject in the certificate manifest
type CertificateEntry struct {
	Subject    string   `json:"subject" validate:"required,fqdn|hostname_rfc1123"`
	CertPath   string   `json:"cert_path" validate:"required"`
	KeyPath    string   `json:"key_path" validate:"required"`
	Owner      string   `json:"owner,omitempty"`
	AltNames   []string `json:"alt_names,omitempty" validate:"dive,fqdn|hostname_rfc1123"`
	ReloadHook string   `json:"reload_hook,omitempty"`
}

// CertificateStatus is the persisted record of the last issuance
type CertificateStatus struct {
	Subject   string    `json:"subject"`
	Serial    string    `json:"serial"`
	NotAfter  time.Time `json:"not_after"`
	AltNames  []string  `json:"alt_names"`
	RenewedAt time.Time `json:"renewed_at"`
}

// StackSpec is a declared application stack with named environments
type StackSpec struct {
	Name         string                      `json:"name" validate:"required"`
	Environments map[string]StackEnvironment `json:"environments" validate:"required,min=1,dive"`
}

// StackEnvironment is one deployable variant of a stack
type StackEnvironment struct {
	ComposePath string            `json:"compose_path" validate:"required"`
	Env         map[string]string `json:"env,omitempty"`
	ConfigFiles []string          `json:"config_files,omitempty"`
}

// PassthroughState is a phase of the hardware passthrough state machine
type PassthroughState string

const (
	PassthroughUnconfigured   PassthroughState = "unconfigured"
	PassthroughMutated        PassthroughState = "mutated"
	PassthroughAwaitingDevice PassthroughState = "awaiting-device"
	PassthroughReady          PassthroughState = "ready"
)

// TargetOutcome classifies what happened to one guest during a run
type TargetOutcome string

const (
	OutcomeCreated   TargetOutcome = "created"
	OutcomeConverged TargetOutcome = "converged"
	OutcomeSkipped   TargetOutcome = "skipped"
	OutcomeFailed    TargetOutcome = "failed"
)

// TargetResult records the per-guest result of a convergence run
type TargetResult struct {
	GuestID  int           `json:"guest_id"`
	Name     string        `json:"name"`
	Outcome  TargetOutcome `json:"outcome"`
	Duration time.Duration `json:"duration"`
}

// RunReport summarizes one orchestrator run
type RunReport struct {
	RunID      string         `json:"run_id"`
	Mode       string         `json:"mode"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Targets    []TargetResult `json:"targets"`
	Warnings   []string       `json:"warnings,omitempty"`
}
