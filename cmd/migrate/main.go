// Command migrate applies, inspects and rolls back the socialhub schema.
//
//	migrate up              apply pending SQL migrations
//	migrate auto            run GORM AutoMigrate (refused in production)
//	migrate status          list migrations and what DB_SCHEMA_MODE would do
//	migrate down [version]  roll back one migration, the latest by default
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"socialhub/internal/config"
	"socialhub/internal/database"

	"gorm.io/gorm"
)

var errUsage = errors.New("usage: migrate <up|auto|status|down> [version]")

func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "Give up after this long")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errUsage
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := database.ConnectWithOptions(cfg, database.ConnectOptions{ApplySchema: false})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	switch args[0] {
	case "up":
		if err := database.RunMigrations(ctx, db); err != nil {
			return err
		}
		log.Println("✅ SQL migrations up to date")
	case "auto":
		cfg.DBSchemaMode = database.SchemaModeAuto
		if err := database.ApplySchema(ctx, db, cfg); err != nil {
			return err
		}
		log.Println("✅ AutoMigrate finished")
	case "status":
		return printStatus(ctx, db, cfg)
	case "down":
		version := 0
		if len(args) > 1 {
			if version, err = strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("invalid version %q: %w", args[1], err)
			}
		}
		m, err := database.RollbackMigration(ctx, db, version)
		if err != nil {
			return err
		}
		log.Printf("↩️  Rolled back %s", m)
	default:
		return errUsage
	}
	return nil
}

func printStatus(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	status, err := database.GetSchemaStatus(ctx, db, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("mode=%s env=%s sql=%t automigrate=%t pending=%d\n\n",
		status.Mode, status.Environment, status.WillRunSQL, status.WillRunAutoMigrate, len(status.Pending()))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MIGRATION\tAPPLIED\tNOTE")
	for _, m := range status.Migrations {
		applied, note := "pending", ""
		if m.AppliedAt != nil {
			applied = m.AppliedAt.Format(time.RFC3339)
		}
		if m.Drifted {
			note = "script changed since it ran"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.Migration, applied, note)
	}
	return w.Flush()
}
