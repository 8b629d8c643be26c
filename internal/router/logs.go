package router

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mycoool/tongbu/internal/database"
)

// LogRouter sync log query routes
type LogRouter struct {
	service *database.LogService
}

// NewLogRouter create log router instance
func NewLogRouter(service *database.LogService) *LogRouter {
	return &LogRouter{service: service}
}

// RegisterLogRoutes register log query routes
func (lr *LogRouter) RegisterLogRoutes(rg *gin.RouterGroup) {
	rg.GET("/logs", lr.ListLogs)
}

// ListLogs query sync logs with optional task/status filters and paging
func (lr *LogRouter) ListLogs(c *gin.Context) {
	var q database.LogQuery
	if raw := c.Query("task_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task_id"})
			return
		}
		q.TaskID = uint(id)
	}
	q.Status = c.Query("status")
	q.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	q.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	logs, total, err := lr.service.List(q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query logs failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"logs":  logs,
		"total": total,
	})
}
