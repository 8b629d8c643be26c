package database

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mycoool/tongbu/internal/types"
	"gorm.io/gorm"
)

// BaseModel base model, contains common fields
type BaseModel struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// SyncTask persisted sync task definition
type SyncTask struct {
	BaseModel
	Name                string `json:"name" gorm:"size:200;uniqueIndex"`
	Mode                string `json:"mode" gorm:"size:20"` // one_way | two_way
	AType               string `json:"a_type" gorm:"size:20"`
	APath               string `json:"a_path" gorm:"size:500"`
	AHost               string `json:"a_host" gorm:"size:200"`
	APort               int    `json:"a_port"`
	AUsername           string `json:"a_username" gorm:"size:100"`
	APassword           string `json:"a_password" gorm:"size:500"` // encrypted
	ASSHKeyPath         string `json:"a_ssh_key_path" gorm:"size:500"`
	BType               string `json:"b_type" gorm:"size:20"`
	BPath               string `json:"b_path" gorm:"size:500"`
	BHost               string `json:"b_host" gorm:"size:200"`
	BPort               int    `json:"b_port"`
	BUsername           string `json:"b_username" gorm:"size:100"`
	BPassword           string `json:"b_password" gorm:"size:500"` // encrypted
	BSSHKeyPath         string `json:"b_ssh_key_path" gorm:"size:500"`
	EOLNormalize        string `json:"eol_normalize" gorm:"size:10"`   // lf | crlf | keep
	ExcludePatterns     string `json:"exclude_patterns" gorm:"type:text"` // JSON array
	FileExtensions      string `json:"file_extensions" gorm:"type:text"`  // JSON array
	PollIntervalMs      int    `json:"poll_interval_ms"`
	Workers             int    `json:"workers"`
	TrashRetentionDays  int    `json:"trash_retention_days"`
	BackupRetentionDays int    `json:"backup_retention_days"`
	DrainOnStop         bool   `json:"drain_on_stop"`
	Enabled             bool   `json:"enabled" gorm:"index"`
	AutoStart           bool   `json:"auto_start"`
}

// SyncLog one per-path sync outcome or task event
type SyncLog struct {
	BaseModel
	TaskID    uint   `json:"task_id" gorm:"index"`
	TaskName  string `json:"task_name" gorm:"size:200"`
	EventType string `json:"event_type" gorm:"size:20;index"` // created|modified|deleted|moved|scan|status
	FilePath  string `json:"file_path" gorm:"size:500"`
	DestPath  string `json:"dest_path" gorm:"size:500"`
	Status    string `json:"status" gorm:"size:20;index"` // synced|skipped|conflict|failed
	Message   string `json:"message" gorm:"type:text"`
}

// ToConfig converts a stored task row into the engine configuration.
// Passwords stay encrypted; the caller decrypts right before task start.
func (t *SyncTask) ToConfig() types.TaskConfig {
	return types.TaskConfig{
		ID:   t.ID,
		Name: t.Name,
		Mode: t.Mode,
		A: types.EndpointConfig{
			Type: t.AType, Path: t.APath, Host: t.AHost, Port: t.APort,
			Username: t.AUsername, Password: t.APassword, SSHKeyPath: t.ASSHKeyPath,
		},
		B: types.EndpointConfig{
			Type: t.BType, Path: t.BPath, Host: t.BHost, Port: t.BPort,
			Username: t.BUsername, Password: t.BPassword, SSHKeyPath: t.BSSHKeyPath,
		},
		EOLNormalize:        t.EOLNormalize,
		ExcludePatterns:     decodeStringList(t.ExcludePatterns),
		FileExtensions:      decodeStringList(t.FileExtensions),
		PollIntervalMs:      t.PollIntervalMs,
		Workers:             t.Workers,
		TrashRetentionDays:  t.TrashRetentionDays,
		BackupRetentionDays: t.BackupRetentionDays,
		DrainOnStop:         t.DrainOnStop,
		Enabled:             t.Enabled,
		AutoStart:           t.AutoStart,
	}
}

// ApplyConfig fills the row from an engine configuration.
func (t *SyncTask) ApplyConfig(cfg types.TaskConfig) {
	t.Name = cfg.Name
	t.Mode = cfg.Mode
	t.AType, t.APath, t.AHost, t.APort = cfg.A.Type, cfg.A.Path, cfg.A.Host, cfg.A.Port
	t.AUsername, t.APassword, t.ASSHKeyPath = cfg.A.Username, cfg.A.Password, cfg.A.SSHKeyPath
	t.BType, t.BPath, t.BHost, t.BPort = cfg.B.Type, cfg.B.Path, cfg.B.Host, cfg.B.Port
	t.BUsername, t.BPassword, t.BSSHKeyPath = cfg.B.Username, cfg.B.Password, cfg.B.SSHKeyPath
	t.EOLNormalize = cfg.EOLNormalize
	t.ExcludePatterns = encodeStringList(cfg.ExcludePatterns)
	t.FileExtensions = encodeStringList(cfg.FileExtensions)
	t.PollIntervalMs = cfg.PollIntervalMs
	t.Workers = cfg.Workers
	t.TrashRetentionDays = cfg.TrashRetentionDays
	t.BackupRetentionDays = cfg.BackupRetentionDays
	t.DrainOnStop = cfg.DrainOnStop
	t.Enabled = cfg.Enabled
	t.AutoStart = cfg.AutoStart
}

func decodeStringList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func encodeStringList(list []string) string {
	if len(list) == 0 {
		return ""
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return ""
	}
	return string(raw)
}
