package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/codelens/internal/hooks"
	"github.com/dshills/codelens/internal/logging"
	"github.com/dshills/codelens/internal/monitor"
	"github.com/dshills/codelens/internal/server"
	"github.com/dshills/codelens/internal/tenant"
	"github.com/dshills/codelens/internal/tool"
)

func newStartServerCmd() *cobra.Command {
	var (
		projectPath  string
		transport    string
		contextName  string
		debug        bool
		persistCache bool
		watchFiles   bool
	)

	cmd := &cobra.Command{
		Use:   "start-server",
		Short: "Serve the tool protocol for one project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if transport != "stdio" {
				return &configError{err: fmt.Errorf("unsupported transport %q (valid: stdio)", transport)}
			}
			absRoot, err := filepath.Abs(projectPath)
			if err != nil {
				return &configError{err: err}
			}
			if info, err := os.Stat(absRoot); err != nil || !info.IsDir() {
				return &configError{err: fmt.Errorf("project root %s is not a directory", absRoot)}
			}
			return serve(absRoot, contextName, serveOptions{
				debug:        debug,
				persistCache: persistCache,
				watchFiles:   watchFiles,
			})
		},
	}

	cmd.Flags().StringVar(&projectPath, "project", ".", "project root to serve")
	cmd.Flags().StringVar(&transport, "transport", "stdio", "agent transport (stdio)")
	cmd.Flags().StringVar(&contextName, "context", "", "context name recorded in the tenant registry")
	cmd.Flags().BoolVar(&debug, "debug", false, "console debug logging")
	cmd.Flags().BoolVar(&persistCache, "persist-cache", true, "enable the on-disk symbol cache")
	cmd.Flags().BoolVar(&watchFiles, "watch", true, "invalidate cached symbols on external file changes")
	return cmd
}

type serveOptions struct {
	debug        bool
	persistCache bool
	watchFiles   bool
}

func serve(root, contextName string, opts serveOptions) error {
	started := time.Now()

	tenantID := uuid.NewString()[:8]
	log := logging.ForTenant(logging.New(opts.debug), tenantID)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tenant registration first: even a failed startup is visible to
	// the operator.
	registry := tenant.NewRegistry(filepath.Join(logging.Home(), "tenants.json"), log)
	serverName := contextName
	if serverName == "" {
		serverName = filepath.Base(root)
	}
	record := tenant.Record{
		TenantID:    tenantID,
		ServerName:  serverName,
		ProjectRoot: root,
		PID:         os.Getpid(),
		Status:      tenant.StatusStarting,
	}
	if err := registry.Register(record); err != nil {
		log.Warn("tenant registration failed", zap.Error(err))
	}
	defer func() {
		if err := registry.UpdateStatus(tenantID, tenant.StatusStopped); err != nil {
			log.Debug("final status update failed", zap.Error(err))
		}
	}()

	// Hook registry: activity marking rides on every executed tool.
	hookReg := hooks.NewRegistry(log)
	hookReg.Register("tenant-activity", hooks.EventToolDidExecute, 100, func(hctx hooks.Context) hooks.Context {
		if err := registry.MarkActivity(tenantID); err != nil {
			log.Debug("activity mark failed", zap.Error(err))
		}
		return hctx
	})

	// Tool surface.
	box := tool.NewToolbox(root, hookReg, log, logging.LogDir())
	box.PersistCache = opts.persistCache
	box.WatchFiles = opts.watchFiles
	defer box.Shutdown(context.Background())

	toolReg := tool.NewRegistry(hookReg)
	executor := tool.NewExecutor(toolReg, hookReg, tool.ExecutorConfig{}, log)
	if err := box.RegisterAll(toolReg, func() *tool.Executor { return executor }); err != nil {
		return err
	}

	// Background monitors.
	resources := monitor.New(monitor.Config{
		OnWarning: func(s monitor.Snapshot) {
			log.Warn("broker resource warning",
				zap.Float64("rss_mb", s.RSSMB), zap.Float64("cpu_pct", s.CPUPercent))
		},
		OnCritical: func(s monitor.Snapshot) {
			log.Error("broker resource critical",
				zap.Float64("rss_mb", s.RSSMB), zap.Float64("cpu_pct", s.CPUPercent))
		},
	}, log)
	resources.Start()
	defer resources.Stop()

	health := tenant.NewHealthMonitor(registry, nil, tenant.HealthConfig{}, log)
	health.Start()
	defer health.Stop()

	record.Status = tenant.StatusRunning
	record.StartupSeconds = time.Since(started).Seconds()
	if err := registry.Register(record); err != nil {
		log.Debug("tenant status update failed", zap.Error(err))
	}

	broker := server.New(toolReg, executor, log)
	err := broker.ServeStdio(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
