package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kenes-ai/kenes/internal/runtime"
	"github.com/kenes-ai/kenes/internal/trace"
)

func buildTraceCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect persisted run traces",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.AddCommand(buildTraceGetCmd(&configPath), buildTraceListCmd(&configPath))
	return cmd
}

func buildTraceGetCmd(configPath *string) *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "get <trace-id>",
		Short: "Print a single run trace as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := uuid.Parse(tenantID)
			if err != nil {
				return fmt.Errorf("invalid tenant id: %w", err)
			}
			store, cleanup, err := openTraceStore(cmd.Context(), configPathFromFlag(*configPath))
			if err != nil {
				return err
			}
			defer cleanup()

			run, err := store.GetRun(cmd.Context(), tenant, args[0])
			if err != nil {
				return err
			}
			return printJSON(run)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func buildTraceListCmd(configPath *string) *cobra.Command {
	var (
		tenantID string
		source   string
		status   string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent run traces for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := uuid.Parse(tenantID)
			if err != nil {
				return fmt.Errorf("invalid tenant id: %w", err)
			}
			store, cleanup, err := openTraceStore(cmd.Context(), configPathFromFlag(*configPath))
			if err != nil {
				return err
			}
			defer cleanup()

			runs, err := store.ListRuns(cmd.Context(), trace.Query{
				TenantID: tenant,
				Source:   runtime.Source(source),
				Status:   runtime.Status(status),
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			return printJSON(runs)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	cmd.Flags().StringVar(&source, "source", "", "Filter by source channel")
	cmd.Flags().StringVar(&status, "status", "", "Filter by run status")
	cmd.Flags().IntVar(&limit, "limit", trace.DefaultQueryLimit, "Maximum runs to return")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

// openTraceStore opens the persistent trace store named by the config.
// The memory driver has nothing to inspect across processes.
func openTraceStore(ctx context.Context, configPath string) (trace.Store, func(), error) {
	noop := func() {}
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, noop, err
	}
	switch cfg.Storage.Driver {
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.Storage.SQLitePath)
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite: %w", err)
		}
		store, err := trace.NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return store, func() { _ = db.Close() }, nil
	case "postgres":
		db, err := trace.OpenPostgres(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		store, err := trace.NewPostgresStore(db)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return store, func() { _ = db.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("storage driver %q does not persist traces", cfg.Storage.Driver)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
