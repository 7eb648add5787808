package db

import (
	"fmt"
	"io"
)

// RunMigrateCommand handles the 'migrate' subcommand: up, down or status
// against the database at dbPath.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) != 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("migrate needs exactly one action")
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	switch args[0] {
	case "up":
		if err := database.MigrateUp(); err != nil {
			return err
		}
		fmt.Fprintln(out, "All migrations applied")
	case "down":
		if err := database.MigrateDown(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Rolled back one migration")
	case "status":
		return printMigrateStatus(database, out)
	case "help":
		PrintMigrateHelp(out)
	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action %q", args[0])
	}
	return nil
}

func printMigrateStatus(database *DB, out io.Writer) error {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	latest, err := LatestMigrationVersion()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Current version: %d\n", version)
	fmt.Fprintf(out, "Latest version:  %d\n", latest)
	switch {
	case dirty:
		fmt.Fprintln(out, "Status: DIRTY (a migration failed part way; fix the schema and re-run)")
	case version < latest:
		fmt.Fprintf(out, "Status: %d migration(s) pending\n", latest-version)
	default:
		fmt.Fprintln(out, "Status: up to date")
	}
	return nil
}

// PrintMigrateHelp writes usage for the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `usage: occupancy migrate <action> [-db-path path]

Actions:
  up      apply all pending migrations
  down    roll back the most recent migration
  status  show current and latest schema versions
`)
}
