package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mycoool/tongbu/internal/config"
	"github.com/mycoool/tongbu/internal/database"
	"github.com/mycoool/tongbu/internal/pidfile"
	"github.com/mycoool/tongbu/internal/router"
	"github.com/mycoool/tongbu/internal/stream"
	"github.com/mycoool/tongbu/internal/syncer"
	"github.com/mycoool/tongbu/internal/types"
)

var (
	ip                 = flag.String("ip", "0.0.0.0", "ip the service should listen on")
	port               = flag.Int("port", 0, "port the service should listen on (0 = use config file)")
	verbose            = flag.Bool("verbose", true, "show verbose output")
	logPath            = flag.String("logfile", "", "send log output to a file")
	ginDebug           = flag.Bool("gin-debug", false, "show gin debug output")
	pidPath            = flag.String("pidfile", "", "create PID file at the given path")
	justDisplayVersion = flag.Bool("version", false, "display tongbu version and quit")

	pidFile *pidfile.PIDFile
)

// Version build-time version string
var Version = "dev"

func main() {
	flag.Parse()

	if *justDisplayVersion {
		fmt.Println("tongbu version " + Version)
		os.Exit(0)
	}

	if *ginDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log.SetPrefix("[Tongbu] ")
	log.SetFlags(log.Ldate | log.Ltime)

	if *logPath != "" {
		file, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("error opening log file %q: %v", *logPath, err)
		}
		defer file.Close()
		log.SetOutput(file)
	} else if !*verbose {
		log.SetOutput(io.Discard)
	}

	if *pidPath != "" {
		var err error
		pidFile, err = pidfile.New(*pidPath)
		if err != nil {
			log.Fatalf("Error creating pidfile: %v", err)
		}
		defer func() {
			if nerr := pidFile.Remove(); nerr != nil {
				log.Print(nerr)
			}
		}()
	}

	log.Println("version " + Version + " starting")

	if err := config.LoadAppConfig(); err != nil {
		log.Fatalf("Error loading app config: %v", err)
	}
	appCfg := types.TongbuAppConfig

	if err := database.InitDatabase(&appCfg.Database); err != nil {
		log.Fatalf("Error initializing database: %v", err)
	}
	defer func() {
		if err := database.CloseDatabase(); err != nil {
			log.Printf("error closing database: %v", err)
		}
	}()

	taskService := database.NewTaskService()
	logService := database.NewLogService()

	sink := &persistentSink{logs: logService}
	manager := syncer.NewManager(appCfg.SSH, appCfg.SecretKey, sink, stream.Global)

	// start tasks flagged for autostart
	if rows, err := taskService.List(true); err == nil {
		configs := make([]types.TaskConfig, 0, len(rows))
		for i := range rows {
			configs = append(configs, rows[i].ToConfig())
		}
		manager.AutoStart(configs)
	} else {
		log.Printf("autostart skipped, listing tasks failed: %v", err)
	}

	go logCleanupLoop(logService, appCfg.Database.LogRetentionDays)

	g := router.InitRouter(manager, taskService, logService)

	listenPort := appCfg.Port
	if *port != 0 {
		listenPort = *port
	}
	addr := fmt.Sprintf("%s:%d", *ip, listenPort)
	srv := &http.Server{Addr: addr, Handler: g}

	go func() {
		log.Printf("serving on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// wait for shutdown signal
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	log.Printf("caught %s signal, stopping", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	manager.StopAll()
	log.Println("all tasks stopped, exiting")
}

// persistentSink writes sync outcomes to the database and mirrors them to
// the websocket stream.
type persistentSink struct {
	logs *database.LogService
}

func (s *persistentSink) Emit(outcome syncer.Outcome) {
	entry := &database.SyncLog{
		TaskID:    outcome.TaskID,
		TaskName:  outcome.TaskName,
		EventType: string(outcome.Kind),
		FilePath:  outcome.Path,
		DestPath:  outcome.DestPath,
		Status:    outcome.Status,
		Message:   outcome.Reason,
	}
	if err := s.logs.Append(entry); err != nil {
		log.Printf("persist sync log failed: %v", err)
	}
	stream.Global.Emit(outcome)
}

func logCleanupLoop(logs *database.LogService, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		if err := logs.CleanupOldLogs(retentionDays); err != nil {
			log.Printf("log cleanup failed: %v", err)
		}
	}
}
