// Command migrate applies or rolls back the embedded Postgres schema.
//
//	migrate up
//	migrate down [N]
//	migrate version
//	migrate force V
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	_ "github.com/joho/godotenv/autoload"

	"github.com/kirillkom/ackdesk/internal/config"
	"github.com/kirillkom/ackdesk/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/ackdesk/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("ackdesk-migrate", cfg.LogLevel))

	if err := run(cfg.PostgresDSN, os.Args[1:]); err != nil {
		slog.Error("migrate_failed", "error", err)
		os.Exit(1)
	}
}

func run(dsn string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: migrate up | down [N] | version | force V")
	}

	switch args[0] {
	case "up":
		return postgres.Migrate(dsn)
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("down: step count must be an integer, got %q", args[1])
			}
			steps = n
		}
		if err := postgres.MigrateDown(dsn, steps); err != nil {
			return err
		}
		slog.Info("migrations_rolled_back", "steps", steps)
		return nil
	case "version":
		version, dirty, err := postgres.MigrationVersion(dsn)
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
		return nil
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("force: version is required")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("force: version must be an integer, got %q", args[1])
		}
		if err := postgres.ForceVersion(dsn, v); err != nil {
			return err
		}
		slog.Info("migration_version_forced", "version", v)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
