package repository

import (
	"database/sql"
	"fmt"
	"strconv"
)

// Well-known device_state keys.
const (
	StateKeyDeviceID    = "device_id"
	StateKeySyncedTotal = "synced_total"
)

// StateRepository is a small key-value store for device-level state that has
// no table of its own.
type StateRepository struct {
	db *sql.DB
}

// NewStateRepository creates a new state repository
func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Get returns the value for key, or "" when unset.
func (r *StateRepository) Get(key string) (string, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM device_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read state %s: %w", key, err)
	}
	return value, nil
}

// Set stores the value for key.
func (r *StateRepository) Set(key, value string) error {
	_, err := r.db.Exec("INSERT OR REPLACE INTO device_state (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("failed to write state %s: %w", key, err)
	}
	return nil
}

// GetInt64 reads a numeric state value, treating unset or unparseable values
// as zero.
func (r *StateRepository) GetInt64(key string) (int64, error) {
	value, err := r.Get(key)
	if err != nil {
		return 0, err
	}
	if value == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// SetInt64 stores a numeric state value.
func (r *StateRepository) SetInt64(key string, n int64) error {
	return r.Set(key, strconv.FormatInt(n, 10))
}
