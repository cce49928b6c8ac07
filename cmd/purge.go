package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/WaRyXx06/astro-relay/internal/config"
	"github.com/WaRyXx06/astro-relay/internal/store"
	storemongo "github.com/WaRyXx06/astro-relay/internal/store/mongo"
)

// purgeLogsCmd removes persisted operator logs, the first remediation when
// the storage quota fills up.
func purgeLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-logs",
		Short: "Delete all persisted operator logs",
		Run: func(cmd *cobra.Command, args []string) {
			withStores(func(ctx context.Context, stores *store.Stores) error {
				n, err := stores.Logs.PurgeLogs(ctx)
				if err != nil {
					return fmt.Errorf("purge logs: %w", err)
				}
				fmt.Printf("purged %d log rows\n", n)
				return nil
			})
		},
	}
}

// emergencyPurgeCmd drops the reconstructible collections: processed
// messages, member census data, logs and role mentions. Channel and role
// mappings survive so the mirror topology stays intact.
func emergencyPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "emergency-purge",
		Short: "Delete reconstructible data to reclaim storage",
		Run: func(cmd *cobra.Command, args []string) {
			withStores(func(ctx context.Context, stores *store.Stores) error {
				msgs, err := stores.Messages.PurgeAll(ctx)
				if err != nil {
					return fmt.Errorf("purge messages: %w", err)
				}
				mems, err := stores.Members.PurgeAll(ctx)
				if err != nil {
					return fmt.Errorf("purge members: %w", err)
				}
				logs, err := stores.Logs.PurgeLogs(ctx)
				if err != nil {
					return fmt.Errorf("purge logs: %w", err)
				}
				mentions, err := stores.Logs.PurgeRoleMentions(ctx)
				if err != nil {
					return fmt.Errorf("purge role mentions: %w", err)
				}
				fmt.Printf("purged %d messages, %d members, %d logs, %d role mentions\n",
					msgs, mems, logs, mentions)
				return nil
			})
		},
	}
}

// withStores opens the database, runs fn and exits non-zero on any error.
func withStores(fn func(ctx context.Context, stores *store.Stores) error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URI == "" {
		slog.Error("MONGODB_URI not set")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := storemongo.Open(ctx, cfg.Database.URI, cfg.Database.Database)
	if err != nil {
		slog.Error("database unreachable", "error", err)
		os.Exit(1)
	}
	defer db.Close(ctx)

	stores, err := storemongo.NewStores(ctx, db)
	if err != nil {
		slog.Error("store initialization failed", "error", err)
		os.Exit(1)
	}
	if err := fn(ctx, stores); err != nil {
		slog.Error("purge failed", "error", err)
		os.Exit(1)
	}
}
