// cmd/seeder/main.go
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unclebandit/newsletter-backend/internal/cache"
	"github.com/unclebandit/newsletter-backend/internal/config"
	"github.com/unclebandit/newsletter-backend/internal/db"
	"github.com/unclebandit/newsletter-backend/internal/logger"
)

var (
	log   *zap.Logger
	sqlDB *sql.DB
	rdb   *redis.Client
	// store is the API's shared cache, nil when Redis is not configured.
	store cache.Store
)

var rootCmd = &cobra.Command{
	Use:           "seeder <command>",
	Short:         "Database migrations and company onboarding",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := config.Load()
		if err != nil {
			return err
		}
		log, err = logger.New(cfg.IsProduction(), cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		sqlDB, err = db.Open(cmd.Context(), cfg.DB.DSN(), log)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.Redis.Addr != "" {
			if rdb, err = cache.Connect(cmd.Context(), cfg.Redis); err != nil {
				return err
			}
			store = cache.NewRedisStore(rdb, log)
		}
		return nil
	},
}

// cleanup runs after every command, including failed ones.
func cleanup() {
	if rdb != nil {
		_ = rdb.Close()
	}
	if sqlDB != nil {
		sqlDB.Close()
	}
	if log != nil {
		_ = log.Sync()
	}
}

func init() {
	rootCmd.AddCommand(migrateCmd, companyCmd, contactsCmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
