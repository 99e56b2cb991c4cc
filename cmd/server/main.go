// Package main is the entry point for the Databench server.
//
// Databench executes untrusted, LLM-generated JavaScript transformations
// against tabular datasets inside a capability-restricted runtime. Submitted
// code passes a static policy scan before it runs, executes with hard CPU
// time, memory and output ceilings, and can never reach the filesystem,
// network or process environment.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main

import (
	"context"
	"runtime/debug"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/datasmith/databench/config"
	"github.com/datasmith/databench/gateway"
	"github.com/datasmith/databench/httpserver"
	"github.com/datasmith/databench/logger"
	"github.com/datasmith/databench/mcpserver"
	"github.com/datasmith/databench/scanner"
	"github.com/datasmith/databench/workbench"
	"github.com/datasmith/databench/workshop"
)

func newWorkbench(cfg *config.Config, log *zap.Logger, registry *workshop.Registry) *workbench.Workbench {
	return workbench.New(log, registry, workbench.Limits{
		Timeout:         cfg.GetTimeout(),
		MemoryMB:        cfg.Runner.MemoryMB,
		MaxOutputBytes:  cfg.Runner.MaxOutputMB << 20,
		MaxDatasetCells: cfg.Runner.MaxDatasetCells,
		MaxCallStack:    cfg.Runner.MaxCallStack,
	})
}

func newGateway(cfg *config.Config, log *zap.Logger, sc *scanner.Scanner, bench *workbench.Workbench) *gateway.Gateway {
	return gateway.New(log, sc, bench, gateway.Config{
		Workers:         int64(cfg.Runner.Workers),
		QueueWait:       cfg.GetQueueWait(),
		MaxCodeBytes:    cfg.Runner.MaxCodeKB << 10,
		MaxDatasetCells: cfg.Runner.MaxDatasetCells,
	})
}

func newHTTPServer(cfg *config.Config, log *zap.Logger, gw *gateway.Gateway) *httpserver.Server {
	return httpserver.New(log, gw, httpserver.Config{
		Port:           cfg.Server.HTTPPort,
		RateLimitRPS:   float64(cfg.Server.RateLimitRPS),
		RateLimitBurst: cfg.Server.RateLimitBurst,
		MaxBodyBytes:   int64(cfg.Server.MaxBodyKB) << 10,
	})
}

// setRuntimeMemoryLimit installs a process-wide soft memory limit as a
// backstop behind the per-execution watchdog. Headroom above the per-worker
// budget covers the runtime itself and in-flight datasets.
func setRuntimeMemoryLimit(cfg *config.Config, log *zap.Logger) {
	limit := int64(cfg.Runner.MemoryMB*cfg.Runner.Workers+256) << 20
	debug.SetMemoryLimit(limit)
	log.Info("process memory limit set", zap.Int64("bytes", limit))
}

func serve(cfg *config.Config, log *zap.Logger, httpSrv *httpserver.Server, mcpSrv *mcpserver.MCPServer) {
	setRuntimeMemoryLimit(cfg, log)

	switch cfg.Server.Transport {
	case "http":
		go func() {
			if err := httpSrv.Start(context.Background()); err != nil {
				log.Fatal("http server failed", zap.Error(err))
			}
		}()
	case "mcp-stdio":
		go func() {
			if err := mcpSrv.ServeStdio(); err != nil {
				log.Fatal("mcp stdio server failed", zap.Error(err))
			}
		}()
	case "mcp-http":
		go func() {
			if err := mcpSrv.ServeHTTP(); err != nil {
				log.Fatal("mcp http server failed", zap.Error(err))
			}
		}()
	default:
		log.Fatal("unsupported transport", zap.String("transport", cfg.Server.Transport))
	}
}

func main() {
	app := fx.New(
		fx.Provide(
			config.New,
			logger.NewFromConfig,
			workshop.Default,
			scanner.New,
			newWorkbench,
			newGateway,
			newHTTPServer,
			mcpserver.New,
		),

		fx.Invoke(serve),

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	app.Run()
}
