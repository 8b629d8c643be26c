package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mycoool/tongbu/internal/database"
	"github.com/mycoool/tongbu/internal/syncer"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemRouter host and service status routes
type SystemRouter struct {
	manager *syncer.Manager
	tasks   *database.TaskService
}

// NewSystemRouter create system router instance
func NewSystemRouter(manager *syncer.Manager, tasks *database.TaskService) *SystemRouter {
	return &SystemRouter{manager: manager, tasks: tasks}
}

// RegisterSystemRoutes register system status routes
func (sr *SystemRouter) RegisterSystemRoutes(rg *gin.RouterGroup) {
	rg.GET("/system", sr.GetSystemStatus)
}

// hostRuntime gopsutil snapshot of the host
type hostRuntime struct {
	Hostname        string    `json:"hostname"`
	UptimeSec       uint64    `json:"uptimeSec"`
	Load1           float64   `json:"load1"`
	CPUPercent      float64   `json:"cpuPercent"`
	MemUsedPercent  float64   `json:"memUsedPercent"`
	DiskUsedPercent float64   `json:"diskUsedPercent"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func collectHostRuntime(ctx context.Context) hostRuntime {
	out := hostRuntime{UpdatedAt: time.Now()}

	if hi, err := host.InfoWithContext(ctx); err == nil && hi != nil {
		out.Hostname = hi.Hostname
		out.UptimeSec = hi.Uptime
	}
	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		out.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		out.MemUsedPercent = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil && du != nil {
		out.DiskUsedPercent = du.UsedPercent
	}
	if perc, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(perc) > 0 {
		out.CPUPercent = perc[0]
	}

	return out
}

// GetSystemStatus host runtime metrics plus running task counters
func (sr *SystemRouter) GetSystemStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	running := 0
	total := 0
	if tasks, err := sr.tasks.List(false); err == nil {
		total = len(tasks)
		for i := range tasks {
			if sr.manager.IsRunning(tasks[i].ID) {
				running++
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"host":         collectHostRuntime(ctx),
		"tasksTotal":   total,
		"tasksRunning": running,
	})
}
