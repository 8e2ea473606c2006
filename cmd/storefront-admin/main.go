// Command storefront-admin runs one-off maintenance tasks against the
// storefront database: schema migrations and administrator accounts.
//
// It reads the same environment variables as the server (see internal/config).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/ebook-storefront/internal/config"
	"github.com/sakif/ebook-storefront/internal/database"
	"github.com/sakif/ebook-storefront/internal/repository"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "storefront-admin",
		Short:         "Maintenance commands for the ebook storefront",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(createAdminCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// openStore loads the config and opens its store, migrating it on the way.
func openStore(ctx context.Context) (*config.Config, repository.Store, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.Driver == "memory" {
		return nil, nil, errors.New("DATABASE_DRIVER=memory keeps nothing between runs")
	}
	store, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}
