package router

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mycoool/tongbu/internal/crypto"
	"github.com/mycoool/tongbu/internal/database"
	"github.com/mycoool/tongbu/internal/handlers/auth"
	"github.com/mycoool/tongbu/internal/syncer"
	"github.com/mycoool/tongbu/internal/types"
)

// TaskRouter sync task management routes
type TaskRouter struct {
	manager *syncer.Manager
	service *database.TaskService
}

// NewTaskRouter create task router instance
func NewTaskRouter(manager *syncer.Manager, service *database.TaskService) *TaskRouter {
	return &TaskRouter{manager: manager, service: service}
}

// RegisterTaskRoutes register task management routes
func (tr *TaskRouter) RegisterTaskRoutes(rg *gin.RouterGroup) {
	taskGroup := rg.Group("/tasks")
	{
		taskGroup.GET("", tr.ListTasks)
		taskGroup.POST("", auth.AdminMiddleware(), tr.CreateTask)
		taskGroup.GET("/:id", tr.GetTask)
		taskGroup.PUT("/:id", auth.AdminMiddleware(), tr.UpdateTask)
		taskGroup.DELETE("/:id", auth.AdminMiddleware(), tr.DeleteTask)
		taskGroup.POST("/:id/start", tr.StartTask)
		taskGroup.POST("/:id/stop", tr.StopTask)
		taskGroup.POST("/:id/restart", tr.RestartTask)
		taskGroup.POST("/:id/sync", tr.SyncTask)
	}
}

func taskID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return 0, false
	}
	return uint(id), true
}

// taskView row config plus runtime state, passwords stripped
type taskView struct {
	types.TaskConfig
	Runtime types.TaskRuntimeStatus `json:"runtime"`
}

func (tr *TaskRouter) view(task *database.SyncTask) taskView {
	cfg := task.ToConfig()
	// never return credentials, not even encrypted
	cfg.A.Password = ""
	cfg.B.Password = ""
	return taskView{TaskConfig: cfg, Runtime: tr.manager.Status(task.ToConfig())}
}

// ListTasks get all tasks with runtime status
func (tr *TaskRouter) ListTasks(c *gin.Context) {
	tasks, err := tr.service.List(false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list tasks failed: " + err.Error()})
		return
	}
	views := make([]taskView, 0, len(tasks))
	for i := range tasks {
		views = append(views, tr.view(&tasks[i]))
	}
	c.JSON(http.StatusOK, views)
}

// GetTask get one task
func (tr *TaskRouter) GetTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	task, err := tr.service.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, tr.view(task))
}

// encryptPasswords encrypts plaintext endpoint passwords before storage
func encryptPasswords(cfg *types.TaskConfig) error {
	secret := types.TongbuAppConfig.SecretKey
	var err error
	if cfg.A.Password != "" && !crypto.IsEncrypted(cfg.A.Password) {
		if cfg.A.Password, err = crypto.EncryptSecret(cfg.A.Password, secret); err != nil {
			return err
		}
	}
	if cfg.B.Password != "" && !crypto.IsEncrypted(cfg.B.Password) {
		if cfg.B.Password, err = crypto.EncryptSecret(cfg.B.Password, secret); err != nil {
			return err
		}
	}
	return nil
}

// CreateTask create a new task
func (tr *TaskRouter) CreateTask(c *gin.Context) {
	var cfg types.TaskConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request data: " + err.Error()})
		return
	}
	if cfg.Name == "" || cfg.A.Path == "" || cfg.B.Path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and both endpoint paths are required"})
		return
	}
	if err := encryptPasswords(&cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encrypt credentials failed"})
		return
	}

	task := &database.SyncTask{}
	task.ApplyConfig(cfg)
	if err := tr.service.Create(task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create task failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, tr.view(task))
}

// UpdateTask update a task; a running task must be stopped first
func (tr *TaskRouter) UpdateTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	if tr.manager.IsRunning(id) {
		c.JSON(http.StatusConflict, gin.H{"error": "task is running, stop it before editing"})
		return
	}
	task, err := tr.service.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var cfg types.TaskConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request data: " + err.Error()})
		return
	}
	// keep stored credentials when the client sends none
	if cfg.A.Password == "" {
		cfg.A.Password = task.APassword
	}
	if cfg.B.Password == "" {
		cfg.B.Password = task.BPassword
	}
	if err := encryptPasswords(&cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encrypt credentials failed"})
		return
	}

	task.ApplyConfig(cfg)
	if err := tr.service.Update(task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update task failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, tr.view(task))
}

// DeleteTask delete a task, stopping it first when running
func (tr *TaskRouter) DeleteTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	tr.manager.Stop(id)
	if err := tr.service.Delete(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete task failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "task deleted"})
}

// StartTask start a task
func (tr *TaskRouter) StartTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	task, err := tr.service.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := tr.manager.Start(task.ToConfig()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "start task failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, tr.view(task))
}

// StopTask stop a task
func (tr *TaskRouter) StopTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	tr.manager.Stop(id)
	c.JSON(http.StatusOK, gin.H{"message": "task stopped"})
}

// RestartTask restart a task with the stored configuration
func (tr *TaskRouter) RestartTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	task, err := tr.service.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := tr.manager.Restart(task.ToConfig()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "restart task failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, tr.view(task))
}

// SyncTask trigger a full reconciliation pass on a running task
func (tr *TaskRouter) SyncTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	if err := tr.manager.TriggerSync(id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "sync triggered"})
}
