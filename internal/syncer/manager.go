package syncer

import (
	"fmt"
	"log"
	"sync"

	"github.com/mycoool/tongbu/internal/crypto"
	"github.com/mycoool/tongbu/internal/types"
)

// Manager owns the running engines. Task configuration lives in the store;
// the manager only tracks what is currently started.
type Manager struct {
	mu      sync.Mutex
	engines map[uint]*Engine

	sshCfg types.SSHConfig
	secret string // credential encryption key
	logs   LogSink
	status StatusSink
}

// NewManager builds an empty manager.
func NewManager(sshCfg types.SSHConfig, secret string, logs LogSink, status StatusSink) *Manager {
	if logs == nil {
		logs = nopSink{}
	}
	if status == nil {
		status = nopSink{}
	}
	return &Manager{
		engines: make(map[uint]*Engine),
		sshCfg:  sshCfg,
		secret:  secret,
		logs:    logs,
		status:  status,
	}
}

// Start launches an engine for the task. Starting an already running task
// is an error; use Restart for config changes.
func (m *Manager) Start(cfg types.TaskConfig) error {
	if !cfg.Enabled {
		return fmt.Errorf("task %q is disabled", cfg.Name)
	}
	decrypted, err := m.decryptEndpoints(cfg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, running := m.engines[cfg.ID]; running {
		m.mu.Unlock()
		return fmt.Errorf("task %q is already running", cfg.Name)
	}
	engine := NewEngine(decrypted, m.sshCfg, m.logs, m.status)
	m.engines[cfg.ID] = engine
	m.mu.Unlock()

	if err := engine.Start(); err != nil {
		m.mu.Lock()
		delete(m.engines, cfg.ID)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Manager) decryptEndpoints(cfg types.TaskConfig) (types.TaskConfig, error) {
	var err error
	if cfg.A.Password != "" {
		cfg.A.Password, err = crypto.DecryptSecret(cfg.A.Password, m.secret)
		if err != nil {
			return cfg, configErrorf("decrypt side a credentials: %v", err)
		}
	}
	if cfg.B.Password != "" {
		cfg.B.Password, err = crypto.DecryptSecret(cfg.B.Password, m.secret)
		if err != nil {
			return cfg, configErrorf("decrypt side b credentials: %v", err)
		}
	}
	return cfg, nil
}

// Stop stops a running task. Stopping a stopped task is a no-op.
func (m *Manager) Stop(taskID uint) {
	m.mu.Lock()
	engine, ok := m.engines[taskID]
	if ok {
		delete(m.engines, taskID)
	}
	m.mu.Unlock()
	if ok {
		engine.Stop()
	}
}

// Restart stops the task if running and starts it with the given config.
func (m *Manager) Restart(cfg types.TaskConfig) error {
	m.Stop(cfg.ID)
	return m.Start(cfg)
}

// TriggerSync forces a reconciliation pass on a running task.
func (m *Manager) TriggerSync(taskID uint) error {
	m.mu.Lock()
	engine, ok := m.engines[taskID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %d is not running", taskID)
	}
	return engine.TriggerSync()
}

// IsRunning reports whether an engine exists for the task.
func (m *Manager) IsRunning(taskID uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.engines[taskID]
	return ok
}

// Status returns the runtime status of one task, or a stopped placeholder.
func (m *Manager) Status(cfg types.TaskConfig) types.TaskRuntimeStatus {
	m.mu.Lock()
	engine, ok := m.engines[cfg.ID]
	m.mu.Unlock()
	if ok {
		return engine.Status()
	}
	return types.TaskRuntimeStatus{
		TaskID:  cfg.ID,
		Name:    cfg.Name,
		State:   StateStopped,
		Enabled: cfg.Enabled,
	}
}

// StopAll stops every running task; used at shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for id, engine := range m.engines {
		engines = append(engines, engine)
		delete(m.engines, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, engine := range engines {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			e.Stop()
		}(engine)
	}
	wg.Wait()
}

// AutoStart launches every enabled task flagged for start-on-boot.
func (m *Manager) AutoStart(tasks []types.TaskConfig) {
	for _, cfg := range tasks {
		if !cfg.Enabled || !cfg.AutoStart {
			continue
		}
		if err := m.Start(cfg); err != nil {
			log.Printf("syncer: autostart of task %q failed: %v", cfg.Name, err)
		}
	}
}
