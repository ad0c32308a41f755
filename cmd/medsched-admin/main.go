// Package main provides medsched-admin, the operator CLI for migrations,
// manual reconciliation, history verification and topic management.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-medsched/internal/config"
	"github.com/drfirst/go-medsched/internal/infrastructure/postgres"
)

var (
	ok   = color.New(color.FgGreen).SprintFunc()
	warn = color.New(color.FgYellow).SprintFunc()
	bad  = color.New(color.FgRed).SprintFunc()
)

// env is what every subcommand needs.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	e := &env{}
	rootCmd := &cobra.Command{
		Use:           "medsched-admin",
		Short:         "Medicine schedule operator tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := cfg.Logger()
			if err != nil {
				return err
			}
			e.cfg, e.logger = cfg, logger
			return nil
		},
	}

	rootCmd.AddCommand(migrateCmd(e))
	rootCmd.AddCommand(reconcileCmd(e))
	rootCmd.AddCommand(verifyCmd(e))
	rootCmd.AddCommand(recordsCmd(e))
	rootCmd.AddCommand(topicsCmd(e))
	rootCmd.AddCommand(outboxCmd(e))
	rootCmd.AddCommand(inboxCmd(e))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, bad("error:"), err)
		os.Exit(1)
	}
}

func (e *env) pool(ctx context.Context) (*pgxpool.Pool, error) {
	if e.cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	return postgres.Connect(ctx, e.cfg.Pool())
}

func migrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := e.pool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := postgres.Migrate(ctx, pool, e.logger)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Println(ok("up to date"))
				return nil
			}
			for _, name := range applied {
				fmt.Printf("  %s %s\n", ok("APPLIED"), name)
			}
			return nil
		},
	}
}
