package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/BaSui01/askflow/config"
	"github.com/BaSui01/askflow/internal/migration"
)

// runMigrate dispatches the migrate subcommands. The SQL backends share
// one migration set; memory, redis and mongo stores have no schema and are
// rejected by the migrator factory.
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}
	sub, subargs := args[0], args[1:]

	switch sub {
	case "help", "-h", "--help":
		printMigrateUsage()
		return
	case "up", "down", "down-all", "steps", "goto", "force", "version", "status", "info":
	default:
		fmt.Fprintf(os.Stderr, "unknown migrate subcommand %q\n\n", sub)
		printMigrateUsage()
		os.Exit(1)
	}

	// goto, force and steps take a positional number before any flags.
	var numArg string
	switch sub {
	case "goto", "force", "steps":
		if len(subargs) < 1 {
			fmt.Fprintf(os.Stderr, "usage: askflow migrate %s <n> [flags]\n", sub)
			os.Exit(1)
		}
		numArg, subargs = subargs[0], subargs[1:]
	}

	fs := flag.NewFlagSet("migrate "+sub, flag.ExitOnError)
	migrator, err := createMigrator(fs, subargs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	ctx := context.Background()

	switch sub {
	case "up":
		err = cli.RunUp(ctx)
	case "down":
		err = cli.RunDown(ctx)
	case "down-all":
		err = cli.RunDownAll(ctx)
	case "steps":
		n, perr := strconv.Atoi(numArg)
		if perr != nil {
			fmt.Fprintf(os.Stderr, "invalid step count %q\n", numArg)
			os.Exit(1)
		}
		err = cli.RunSteps(ctx, n)
	case "goto":
		v, perr := strconv.ParseUint(numArg, 10, 32)
		if perr != nil {
			fmt.Fprintf(os.Stderr, "invalid version %q\n", numArg)
			os.Exit(1)
		}
		err = cli.RunGoto(ctx, uint(v))
	case "force":
		v, perr := strconv.ParseInt(numArg, 10, 32)
		if perr != nil {
			fmt.Fprintf(os.Stderr, "invalid version %q\n", numArg)
			os.Exit(1)
		}
		err = cli.RunForce(ctx, int(v))
	case "version":
		err = cli.RunVersion(ctx)
	case "status":
		err = cli.RunStatus(ctx)
	case "info":
		err = cli.RunInfo(ctx)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s failed: %v\n", sub, err)
		os.Exit(1)
	}
}

// createMigrator builds a migrator from flags: an explicit --db-type plus
// --db-url pair wins, otherwise the store section of the config decides.
func createMigrator(fs *flag.FlagSet, args []string) (*migration.SchemaMigrator, error) {
	configPath := fs.String("config", "", "path to the YAML config file")
	dbType := fs.String("db-type", "", "store type override (sqlite, mysql, postgres)")
	dbURL := fs.String("db-url", "", "store DSN override")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *dbType != "" && *dbURL != "" {
		return migration.NewMigratorFromURL(*dbType, *dbURL)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *dbType != "" {
		cfg.Store.Type = *dbType
	}
	if *dbURL != "" {
		cfg.Store.DSN = *dbURL
	}
	return migration.NewMigratorFromStoreConfig(cfg.Store)
}

func printMigrateUsage() {
	fmt.Print(`Schema migrations for the SQL session stores

Usage:
  askflow migrate <subcommand> [flags]

Subcommands:
  up         Apply all pending migrations
  down       Roll back the last migration
  down-all   Roll back everything
  steps <n>  Apply n migrations (negative rolls back)
  goto <v>   Migrate to version v
  force <v>  Overwrite the recorded version without running migrations
  version    Show the current version
  status     Show per-migration status
  info       Show a summary
  help       Show this help

Flags:
  --config   Path to the YAML config file
  --db-type  Override the store type (sqlite, mysql, postgres)
  --db-url   Override the store DSN

Examples:
  askflow migrate up --config config.yaml
  askflow migrate steps -1 --config config.yaml
  askflow migrate goto 2 --db-type postgres --db-url postgres://localhost/askflow
`)
}
