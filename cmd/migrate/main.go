package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lalith-99/dataroom/internal/config"
	"github.com/lalith-99/dataroom/internal/db"
	"github.com/lalith-99/dataroom/internal/observ"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		databaseURL string
		timeout     time.Duration
		logLevel    string
	)

	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.StringVar(&databaseURL, "database-url", config.GetEnv("DATABASE_URL", ""), "Postgres connection URL (default $DATABASE_URL)")
	flagSet.DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline for the command")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	rest := flagSet.Args()
	if len(rest) != 1 {
		printHelp(flagSet)
		return errors.New("expected exactly one command: up, down or status")
	}
	if databaseURL == "" {
		return errors.New("missing database URL: pass --database-url or set DATABASE_URL")
	}

	logger, err := observ.NewLogger("development", logLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	database, err := db.New(ctx, databaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	sqlDB := db.OpenSQL(database.Pool())
	defer sqlDB.Close()
	m := db.NewMigrator(sqlDB, logger)

	switch rest[0] {
	case "up":
		return m.Up(ctx)
	case "down":
		return m.Down(ctx)
	case "status":
		applied, err := m.Status(ctx)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Println("no migrations applied")
		}
		for _, name := range applied {
			fmt.Println(name)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Apply or roll back the dataroom schema.

Usage:
  migrate [flags] up|down|status

Commands:
  up      apply every pending migration
  down    roll back the most recent migration
  status  list applied migrations, oldest first

Flags:
`)
	flagSet.PrintDefaults()
}
