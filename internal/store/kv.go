package store

import (
	"database/sql"
	"fmt"
	"time"
)

// KVStore is a string-keyed durable store backed by the kv table.
type KVStore struct {
	db *sql.DB
}

func NewKVStore(db *sql.DB) *KVStore {
	return &KVStore{db: db}
}

// Get returns the value for key. ok is false when the key has never been set.
func (s *KVStore) Get(key string) (value string, ok bool, err error) {
	err = s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get key %q: %w", key, err)
	}
	return value, true, nil
}

// Set writes a single key.
func (s *KVStore) Set(key, value string) error {
	return s.SetMany(map[string]string{key: value})
}

// SetMany writes every pair in one transaction: either all keys are stored or
// none are.
func (s *KVStore) SetMany(pairs map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
	)
	if err != nil {
		return fmt.Errorf("prepare stmt: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for key, value := range pairs {
		if _, err := stmt.Exec(key, value, now); err != nil {
			return fmt.Errorf("set key %q: %w", key, err)
		}
	}

	return tx.Commit()
}

func (s *KVStore) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete key %q: %w", key, err)
	}
	return nil
}
