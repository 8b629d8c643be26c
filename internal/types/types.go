package types

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AppConfig application config structure, loaded from app.yaml
type AppConfig struct {
	Port              int            `yaml:"port"`
	JWTSecret         string         `yaml:"jwt_secret"`
	JWTExpiryDuration int            `yaml:"jwt_expiry_duration"` // hours
	SecretKey         string         `yaml:"secret_key"`          // key material for endpoint credential encryption
	Mode              string         `yaml:"mode"`                // "dev" | "prod" | "test"
	Database          DatabaseConfig `yaml:"database"`
	SSH               SSHConfig      `yaml:"ssh"`
	Users             []UserConfig   `yaml:"users"`
}

// UserConfig management UI user
type UserConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"` // sha256 hex
	Role     string `yaml:"role"`
}

// DatabaseConfig database config
type DatabaseConfig struct {
	Type             string `yaml:"type"`     // sqlite
	Database         string `yaml:"database"` // database file path
	LogRetentionDays int    `yaml:"log_retention_days"`
}

// SSHConfig global SSH behavior shared by all tasks
type SSHConfig struct {
	HostKeyPolicy  string `yaml:"host_key_policy"` // "reject" | "accept-new" | "accept-any"
	KnownHostsPath string `yaml:"known_hosts_path"`
}

// Claims JWT claim structure
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// EndpointConfig one side of a sync task
type EndpointConfig struct {
	Type       string `json:"type"` // "local" | "ssh"
	Path       string `json:"path"`
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"` // encrypted at rest, plaintext inside the engine
	SSHKeyPath string `json:"sshKeyPath,omitempty"`
}

// TaskConfig full sync task configuration as consumed by the engine.
// Immutable while a run is active; mutation requires stopping the task first.
type TaskConfig struct {
	ID                  uint           `json:"id"`
	Name                string         `json:"name"`
	Mode                string         `json:"mode"` // "one_way" | "two_way"
	A                   EndpointConfig `json:"a"`
	B                   EndpointConfig `json:"b"`
	EOLNormalize        string         `json:"eolNormalize"` // "lf" | "crlf" | "keep"
	ExcludePatterns     []string       `json:"excludePatterns,omitempty"`
	FileExtensions      []string       `json:"fileExtensions,omitempty"` // allow-list, empty means all
	PollIntervalMs      int            `json:"pollIntervalMs,omitempty"`
	Workers             int            `json:"workers,omitempty"`
	TrashRetentionDays  int            `json:"trashRetentionDays"`
	BackupRetentionDays int            `json:"backupRetentionDays"`
	DrainOnStop         bool           `json:"drainOnStop,omitempty"` // finish queued ops on stop instead of dropping them
	Enabled             bool           `json:"enabled"`
	AutoStart           bool           `json:"autoStart"`
}

// TaskRuntimeStatus engine-owned runtime view of a task, read-only to collaborators
type TaskRuntimeStatus struct {
	TaskID       uint      `json:"taskId"`
	Name         string    `json:"name"`
	State        string    `json:"state"`
	Enabled      bool      `json:"enabled"`
	IsRunning    bool      `json:"isRunning"`
	Connected    bool      `json:"connected"`
	LastActivity time.Time `json:"lastActivity"`
	LastError    string    `json:"lastError,omitempty"`
}

// TongbuAppConfig global application config, set by config.LoadAppConfig
var TongbuAppConfig *AppConfig
