package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/dshills/codelens/internal/logging"
	"github.com/dshills/codelens/internal/tenant"
)

func tenantRegistry() *tenant.Registry {
	return tenant.NewRegistry(filepath.Join(logging.Home(), "tenants.json"), logging.New(false))
}

func newTenantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Inspect and manage running broker instances",
	}
	cmd.AddCommand(newTenantsListCmd())
	cmd.AddCommand(newTenantsStatusCmd())
	cmd.AddCommand(newTenantsRestartCmd())
	cmd.AddCommand(newTenantsStopCmd())
	return cmd
}

func newTenantsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := tenantRegistry()
			if _, err := registry.CleanupStale(); err != nil {
				return err
			}
			records, err := registry.ListAll()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TENANT\tNAME\tSTATUS\tPID\tRSS(MB)\tCPU%\tPROJECT")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.0f\t%.1f\t%s\n",
					rec.TenantID, rec.ServerName, rec.Status, rec.PID,
					rec.MemoryMB, rec.CPUPercent, rec.ProjectRoot)
			}
			return w.Flush()
		},
	}
}

func newTenantsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <tenant-id>",
		Short: "Show one tenant's record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := tenantRegistry().Get(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tenant:       %s\n", rec.TenantID)
			fmt.Fprintf(out, "name:         %s\n", rec.ServerName)
			fmt.Fprintf(out, "project:      %s\n", rec.ProjectRoot)
			fmt.Fprintf(out, "status:       %s\n", rec.Status)
			fmt.Fprintf(out, "pid:          %d\n", rec.PID)
			fmt.Fprintf(out, "memory_mb:    %.1f\n", rec.MemoryMB)
			fmt.Fprintf(out, "cpu_percent:  %.1f\n", rec.CPUPercent)
			fmt.Fprintf(out, "registered:   %s\n", rec.RegisteredAt.Format(time.RFC3339))
			if rec.LastHealthCheck != nil {
				fmt.Fprintf(out, "last_health:  %s\n", rec.LastHealthCheck.Format(time.RFC3339))
			}
			if rec.LastActivity != nil {
				fmt.Fprintf(out, "last_active:  %s\n", rec.LastActivity.Format(time.RFC3339))
			}
			return nil
		},
	}
}

// cliRestarter relaunches tenants by respawning start-server detached.
type cliRestarter struct {
	registry *tenant.Registry
}

// Restart implements tenant.Restarter.
func (r *cliRestarter) Restart(ctx context.Context, tenantID string) error {
	rec, err := r.registry.Get(tenantID)
	if err != nil {
		return err
	}

	if rec.PID != 0 {
		_ = unix.Kill(rec.PID, unix.SIGTERM)
		// Give the old instance a moment to shut down cleanly.
		time.Sleep(2 * time.Second)
	}
	// The record may already be gone (e.g. reaped as stale).
	if err := r.registry.Unregister(tenantID); err != nil && !errors.Is(err, tenant.ErrNotRegistered) {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe, "start-server",
		"--project", rec.ProjectRoot, "--context", rec.ServerName)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("respawn tenant %s: %w", tenantID, err)
	}
	return cmd.Process.Release()
}

func newTenantsRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <tenant-id>",
		Short: "Restart a tenant's broker process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := tenantRegistry()
			restarter := &cliRestarter{registry: registry}
			return restarter.Restart(cmd.Context(), args[0])
		},
	}
}

func newTenantsStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <tenant-id>",
		Short: "Stop a tenant's broker process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := tenantRegistry()
			rec, err := registry.Get(args[0])
			if err != nil {
				return err
			}
			if rec.PID != 0 {
				if err := unix.Kill(rec.PID, unix.SIGTERM); err != nil {
					return fmt.Errorf("signal pid %d: %w", rec.PID, err)
				}
			}
			return registry.UpdateStatus(args[0], tenant.StatusStopped)
		},
	}
}
