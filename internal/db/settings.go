package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// DefaultMaxCapacity is used when no capacity has been stored.
const DefaultMaxCapacity = 100

// ErrInvalidCapacity is returned for capacities below 1.
var ErrInvalidCapacity = errors.New("max_capacity must be at least 1")

const keyMaxCapacity = "max_capacity"

// MaxCapacity returns the configured parking capacity.
func (db *DB) MaxCapacity() (int, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM site_settings WHERE key = ?`, keyMaxCapacity).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultMaxCapacity, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read max_capacity: %w", err)
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("stored max_capacity %q is not an integer: %w", value, err)
	}
	return n, nil
}

// SetMaxCapacity stores the parking capacity.
func (db *DB) SetMaxCapacity(n int) error {
	if n < 1 {
		return fmt.Errorf("%w, got %d", ErrInvalidCapacity, n)
	}
	_, err := db.Exec(`
		INSERT INTO site_settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		keyMaxCapacity, strconv.Itoa(n), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store max_capacity: %w", err)
	}
	return nil
}
