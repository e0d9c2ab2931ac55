package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/hypatia-sci/hypatia/internal/migration"
)

// runMigrate dispatches the migration subcommands. The action comes first
// so flags can follow it: hypatia migrate up --config cfg.yaml
func runMigrate(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "migrate requires an action: up, down, status, version, force <v>, reset")
		os.Exit(1)
	}

	action := args[0]

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args[1:])

	cfg := loadConfig(*configPath)

	m, err := migration.NewFromDatabaseConfig(cfg.Store.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open migrator: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	ctx := context.Background()

	switch action {
	case "up":
		err = cli.RunUp(ctx)
	case "down":
		err = cli.RunDown(ctx)
	case "status":
		err = cli.RunStatus(ctx)
	case "version":
		err = cli.RunVersion(ctx)
	case "reset":
		err = m.DownAll(ctx)
		if err == nil {
			fmt.Println("All migrations rolled back")
		}
	case "force":
		rest := fs.Args()
		if len(rest) == 0 {
			fmt.Fprintln(os.Stderr, "migrate force requires a version")
			os.Exit(1)
		}
		var version int
		version, err = strconv.Atoi(rest[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid version %q: %v\n", rest[0], err)
			os.Exit(1)
		}
		err = m.Force(ctx, version)
		if err == nil {
			fmt.Printf("Forced schema version to %d\n", version)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate action: %s\n", action)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}
