// Package models defines the data structures shared across the daemon.
// this package has no imports from other internal packages, making it the
// foundation of the dependency graph. every other package imports from here,
// never the other way around.
package models

// WebsiteStatus mirrors the lifecycle states a Website can be in.
// a named string type instead of a plain string means the compiler rejects
// `website.Status = "typo"` at compile time if "typo" is not a declared constant.
type WebsiteStatus string

const (
	StatusStarting WebsiteStatus = "starting"
	StatusRunning  WebsiteStatus = "running"
	StatusStopped  WebsiteStatus = "stopped"
	StatusErrored  WebsiteStatus = "errored"
)

// BackendKind selects whether a Website's backend is a directly spawned
// process or a container. the Service Supervisor uses the same kind for
// a Service of type "container" vs "script".
type BackendKind string

const (
	BackendProcess   BackendKind = "process"
	BackendContainer BackendKind = "container"
)

// ServiceType distinguishes a locally-run script from a containerized app.
type ServiceType string

const (
	ServiceScript    ServiceType = "script"
	ServiceContainer ServiceType = "container"
)

// DKIMDescriptor holds the DKIM signing keys for a domain's outbound mail,
// generated once when the website is created and rotated only by hand.
type DKIMDescriptor struct {
	PrivateKeyPath string `json:"private"`
	PublicKeyPath  string `json:"public"`
	Selector       string `json:"selector"`
}

// CertDescriptor is the certificate record attached to a Website.
// Expiry is stored as epoch-ms, matching spec's wire format, so it survives
// a JSON round trip without timezone ambiguity.
type CertDescriptor struct {
	KeyPath         string          `json:"key_path"`
	CertPath        string          `json:"cert_path"`
	ExpiryEpochMs   int64           `json:"expiry"`
	SubjectAltNames []string        `json:"subject_alt_names,omitempty"`
	DKIM            *DKIMDescriptor `json:"dkim,omitempty"`
}

// Website is the central record for a domain served by the proxy.
// It maps 1:1 to an entry in the "web" Config Store module.
//
// Invariants (enforced by the Website Supervisor, not by this struct):
//   - exactly one backend per domain
//   - Port is unique across every Website and Service in the config
//   - Cert.ExpiryEpochMs only ever increases on a successful renewal
//   - Subdomains contains no duplicate labels
type Website struct {
	// Domain is the primary key: the fully qualified domain name this
	// website is served under, e.g. "example.com".
	Domain string `json:"domain"`

	// DocumentRoot is the on-disk path the backend (or its container bind
	// mount) serves files from.
	DocumentRoot string `json:"document_root"`

	// Port is the backend's listen port on 127.0.0.1. Unique across the
	// entire config (websites and services share one port namespace).
	Port int `json:"port"`

	// BackendPID is set once the backend process is running. nil for a
	// container-backed website, or any website not currently started.
	BackendPID *int `json:"backend_pid,omitempty"`

	// Backend selects whether Start() spawns a process or runs a container.
	Backend BackendKind `json:"backend"`

	// ContainerImage is only meaningful when Backend == BackendContainer.
	ContainerImage string `json:"container_image,omitempty"`

	// Subdomains is an ordered set of additional labels this website answers
	// for (e.g. "www"). Order is preserved for deterministic DNS record
	// installation, but the set semantics (no duplicates) are enforced by
	// the supervisor.
	Subdomains []string `json:"subdomains,omitempty"`

	Cert CertDescriptor `json:"cert"`

	Status WebsiteStatus `json:"status"`

	CreatedAtEpochMs     int64 `json:"created_at"`
	LastUpdatedEpochMs   int64 `json:"last_updated_at"`
}

// Service is a user workload that is not a website: a script or a
// containerized app, identified by an assigned ID plus a unique name.
type Service struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Type ServiceType `json:"type"`

	// SourcePath is the script file path for ServiceScript.
	SourcePath string `json:"source_path,omitempty"`

	// Image is the container image reference for ServiceContainer.
	Image string `json:"image,omitempty"`

	Ports   []PortBinding     `json:"ports,omitempty"`
	Volumes []VolumeBinding   `json:"volumes,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// PID is set for a running script service. nil for containers and
	// stopped services.
	PID *int `json:"pid,omitempty"`

	Status WebsiteStatus `json:"status"`

	// Active records whether the caller has activated the service: a
	// service the caller explicitly stopped stays Active=false until
	// re-activated. The Service Supervisor's check() loop consults its own
	// in-memory copy of this flag, not the stored field.
	Active bool `json:"active"`

	CreatedAtEpochMs   int64 `json:"created_at"`
	LastUpdatedEpochMs int64 `json:"last_updated_at"`
}

// PortBinding maps a host port to a container port, optionally restricted
// to one host IP. HostPort == 0 means "auto", resolved to the next free
// port at or above 30000.
type PortBinding struct {
	HostPort      int    `json:"host"`
	ContainerPort int    `json:"container"`
	HostIP        string `json:"ip,omitempty"`
}

// VolumeBinding is a single bind mount from the host into a container.
type VolumeBinding struct {
	HostPath      string `json:"host"`
	ContainerPath string `json:"container"`
}

// Recipe is the declarative app description fetched from the Hub by name.
// EnvSpec values are either a literal string or a {generate,length}
// instruction the Service Supervisor expands into random hex at install time.
type Recipe struct {
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	Ports   []PortBinding      `json:"ports"`
	Volumes []VolumeBinding    `json:"volumes"`
	Env     map[string]EnvSpec `json:"env"`
}

// EnvSpec is either a literal Value or a Generate instruction. Exactly one
// of Value / Generate should be set; the service package's expandEnv treats Generate
// as taking precedence when both are present (it should never happen).
type EnvSpec struct {
	Value    string `json:"value,omitempty"`
	Generate bool   `json:"generate,omitempty"`
	Length   int    `json:"length,omitempty"`
}

// FirewallPolicy is the persisted configuration for the Firewall component.
type FirewallPolicy struct {
	Enabled     bool             `json:"enabled"`
	Blacklist   map[string]bool  `json:"blacklist,omitempty"`
	Whitelist   map[string]bool  `json:"whitelist,omitempty"`
	RateLimit   RateLimitPolicy  `json:"rate_limit"`
	MaxWsPerIP  int              `json:"max_ws_per_ip,omitempty"`
}

// RateLimitPolicy configures the sliding-window limiter.
type RateLimitPolicy struct {
	WindowMs int  `json:"window_ms"`
	Max      int  `json:"max"`
	Enabled  bool `json:"enabled"`
}

// HubCredential authenticates the daemon to the remote control plane.
// Secret is never logged; it signs every outbound frame with HMAC-SHA256.
type HubCredential struct {
	Token  string `json:"token"`
	Secret string `json:"secret"`
}

// UpdatePhase names a state in the Updater's handover state machine (§4.10).
type UpdatePhase string

const (
	UpdateIdle                  UpdatePhase = "idle"
	UpdateChecking              UpdatePhase = "checking"
	UpdateBuilding              UpdatePhase = "building"
	UpdateSpawning              UpdatePhase = "spawning"
	UpdateHandshakeAwaitingReady UpdatePhase = "handshake-awaiting-ready"
	UpdateAckSent               UpdatePhase = "ack-sent"
	UpdateStabilityWindow       UpdatePhase = "stability-window"
	UpdateHandoverCommitted     UpdatePhase = "handover-committed"
	UpdateSelfDestruct          UpdatePhase = "self-destruct"
	UpdateRollbackReady         UpdatePhase = "rollback-ready"
	UpdateRolledBack            UpdatePhase = "rolled-back"
)

// UpdateSession is the transient record the Updater owns for the duration
// of a single self-update attempt. never persisted to the Config Store;
// it lives only in the updater package's memory.
type UpdateSession struct {
	PreviousInstanceID string      `json:"previous_instance_id"`
	NewInstanceID      string      `json:"new_instance_id"`
	SocketPath         string      `json:"socket_path"`
	Phase              UpdatePhase `json:"phase"`
	StartedAtEpochMs   int64       `json:"started_at"`
}
