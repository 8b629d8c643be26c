package router

import (
	"fmt"
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/mycoool/tongbu/internal/database"
	"github.com/mycoool/tongbu/internal/handlers/auth"
	"github.com/mycoool/tongbu/internal/stream"
	"github.com/mycoool/tongbu/internal/syncer"
)

// InitRouter builds the gin engine with all API routes registered.
func InitRouter(manager *syncer.Manager, tasks *database.TaskService, logs *database.LogService) *gin.Engine {
	g := gin.New()

	g.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		if param.Keys != nil {
			if noLog, exists := param.Keys["disable_log"]; exists && noLog == true {
				return ""
			}
		}
		return fmt.Sprintf("[Tongbu] %v | %3d | %13v | %15s | %-7s %#v\n%s",
			param.TimeStamp.Format("2006/01/02 - 15:04:05"),
			param.StatusCode,
			param.Latency,
			param.ClientIP,
			param.Method,
			param.Path,
			param.ErrorMessage,
		)
	}))
	g.Use(gin.Recovery())

	// CORS middleware
	g.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Tongbu-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	g.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	// login interface
	g.POST("/api/login", Login)

	// websocket event stream, token via header or query parameter
	g.GET("/ws", auth.WSAuthMiddleware(), stream.HandleWebSocket)

	api := g.Group("/api")
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	api.Use(auth.AuthMiddleware())
	{
		NewTaskRouter(manager, tasks).RegisterTaskRoutes(api)
		NewLogRouter(logs).RegisterLogRoutes(api)
		NewSystemRouter(manager, tasks).RegisterSystemRoutes(api)
	}

	return g
}
