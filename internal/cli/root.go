// Package cli implements the topup command line interface.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/topup-systems/topup/internal/daemon"
	"github.com/topup-systems/topup/internal/domain"
	"github.com/topup-systems/topup/internal/infra/postgres"
	"github.com/topup-systems/topup/internal/infra/sqlite"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "topup",
	Short: "Credit storefront settlement engine",
	Long: `topup runs the order lifecycle and credit ledger behind a chat-operated
credit storefront: it creates payment orders, reconciles gateway webhooks
and operator decisions into exactly-once settlements, and keeps the
balance ledger consistent.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", daemon.DefaultPath(), "Path to the config file")
}

// Execute runs the CLI. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore opens the configured persistence backend.
func openStore(ctx context.Context, cfg daemon.Config) (domain.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return postgres.Open(ctx, cfg.Store.DSN)
	case "sqlite":
		if err := os.MkdirAll(cfg.Store.Dir, 0700); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		return sqlite.Open(cfg.Store.Dir)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
