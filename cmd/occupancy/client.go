package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/banshee-data/occupancy.report/internal/api"
	"github.com/banshee-data/occupancy.report/internal/db"
)

var clientCommands = map[string]string{
	"status":       "print the live occupancy of a running server",
	"reset":        "zero the current count of a running server",
	"set-capacity": "set max_capacity on a running server: set-capacity N",
}

func isClientCommand(name string) bool {
	_, ok := clientCommands[name]
	return ok
}

func runClient(name string, args []string) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	server := fs.String("server", "http://localhost:8080", "Base URL of the occupancy server")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: occupancy %s [flags]\n  %s\n", name, clientCommands[name])
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	c := api.NewClient(*server)

	var (
		out any
		err error
	)
	switch name {
	case "status":
		out, err = c.Stats(ctx)
	case "reset":
		out, err = c.Reset(ctx)
	case "set-capacity":
		if fs.NArg() != 1 {
			fs.Usage()
			return fmt.Errorf("set-capacity needs exactly one argument")
		}
		n, convErr := strconv.Atoi(fs.Arg(0))
		if convErr != nil {
			return fmt.Errorf("invalid capacity %q: %w", fs.Arg(0), convErr)
		}
		if err = c.SetCapacity(ctx, n); err == nil {
			out = map[string]int{"max_capacity": n}
		}
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// runMigrate handles `occupancy migrate [-db-path path] <action>`.
func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	path := fs.String("db-path", "occupancy.db", "Path to the SQLite database")
	fs.Usage = func() { db.PrintMigrateHelp(fs.Output()) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	return db.RunMigrateCommand(fs.Args(), *path, os.Stdout)
}
