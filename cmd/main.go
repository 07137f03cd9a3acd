package main

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"arcscan/internal/config"
	"arcscan/internal/core/advanced"
	"arcscan/internal/core/analysis"
	"arcscan/internal/core/export"
	"arcscan/internal/core/history"
	"arcscan/internal/logger"
	"arcscan/internal/platform/backend"
	rds "arcscan/internal/platform/redis"
	tasks "arcscan/internal/platform/tasks"
	"arcscan/internal/server"
	"arcscan/internal/worker"
)

func main() {
	cfg := config.Load()
	log.Printf("[arcscan] starting at %s (env=%s)\n", cfg.HTTPAddr, cfg.AppEnv)

	// Initialize logger
	logr := logger.New("main")

	// Redis client
	redisSvc, err := rds.New(rds.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer redisSvc.Close()

	// Analysis backend client
	backendClient := backend.NewClient(backend.Options{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.BackendTimeout,
	})

	// Asynq client and server
	taskClient := tasks.New(redisSvc)
	asynqServer := asynq.NewServer(redisSvc.AsynqRedisOpt(), asynq.Config{
		Concurrency: 10,
		Queues:      map[string]int{"default": 1},
	})

	// Core services
	historyStore := history.NewStore(redisSvc)
	analysisSvc := analysis.NewService(cfg, backendClient, redisSvc, historyStore)
	advancedSvc := advanced.NewService(cfg, backendClient, taskClient, historyStore)
	exportSvc, err := export.New(cfg, historyStore)
	if err != nil {
		log.Fatal(err)
	}

	// Worker mux
	mux := worker.NewMux()
	mux.HandleFunc(tasks.TaskTypeAdvancedPoll, advancedSvc.HandlePollTask)

	// Start worker
	go func() {
		if err := asynqServer.Start(mux.Mux()); err != nil {
			log.Printf("[worker] stopped: %v\n", err)
		}
	}()

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName: "Arcscan Engine",
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})
	// Serve exported reports from DATA_DIR under /files
	app.Static("/files", cfg.DataDir)

	// Register routes with health handler
	deps := server.Dependencies{
		Analysis: analysisSvc,
		Advanced: advancedSvc,
		History:  historyStore,
		Export:   exportSvc,
		Backend:  backendClient,
		Redis:    redisSvc,
	}
	healthHandler := server.RegisterRoutes(app, deps)

	// Mark application as ready after all services are initialized
	go func() {
		time.Sleep(5 * time.Second) // Allow services to fully initialize
		healthHandler.SetReady()
	}()

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logr.LogInfo("Shutting down...")
		asynqServer.Shutdown()
		analysisSvc.Shutdown()
		_ = taskClient.Close()
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		log.Fatalf("server listen: %v", err)
	}
}
