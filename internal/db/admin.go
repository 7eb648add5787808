package db

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/security"
)

// AttachAdminRoutes mounts the tailsql console and the backup endpoint under
// /debug/ on mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://occupancy.db", db.DB, &tailsql.DBOptions{
		Label: "Occupancy DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("backup", "Create and download a backup of the database now", db.backupHandler(os.TempDir()))
	return nil
}

// backupHandler writes a VACUUM INTO snapshot under dir and streams it to the
// client gzip-encoded. An optional ?name= label is sanitised into the file
// name. The snapshot file is removed afterwards.
func (db *DB) backupHandler(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		backupName := fmt.Sprintf("backup-%d.db", time.Now().UnixNano())
		if label := r.URL.Query().Get("name"); label != "" {
			backupName = fmt.Sprintf("backup-%s-%d.db", security.SanitizeFilename(label), time.Now().UnixNano())
		}
		backupPath := filepath.Join(dir, backupName)
		if err := security.ValidatePathWithinDirectory(backupPath, dir); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := os.Remove(backupPath); err != nil {
				monitoring.Logf("Failed to remove backup file: %v", err)
			}
		}()

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer backupFile.Close()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupName))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			monitoring.Logf("Failed to stream backup: %v", err)
		}
	}
}
