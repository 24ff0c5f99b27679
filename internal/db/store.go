// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
)

// AuditEntry maps the audit_log table: one row per recorded action.
type AuditEntry struct {
	bun.BaseModel `bun:"table:audit_log"`
	ID            int64     `bun:"id,pk,autoincrement"`
	Timestamp     time.Time `bun:"timestamp,notnull"`
	Action        string    `bun:"action,notnull"`
	Details       string    `bun:"details"`
}

// KnownHost maps the known_hosts table of pinned host keys.
type KnownHost struct {
	bun.BaseModel `bun:"table:known_hosts"`
	Hostname      string `bun:"hostname,pk"`
	Key           string `bun:"key,notnull"`
}

// Store is the bun-backed operational store.
type Store struct {
	bun *bun.DB
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.bun.Close()
}

// ensureSchema creates the store's tables when missing. The schema is small
// and stable enough that portable CREATE TABLE IF NOT EXISTS beats carrying
// per-dialect migration files.
func (s *Store) ensureSchema() error {
	ctx := context.Background()
	if _, err := s.bun.NewCreateTable().Model((*AuditEntry)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	if _, err := s.bun.NewCreateTable().Model((*KnownHost)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	return nil
}

// LogAction records an audit trail event.
func (s *Store) LogAction(action, details string) error {
	entry := &AuditEntry{Timestamp: time.Now().UTC(), Action: action, Details: details}
	_, err := s.bun.NewInsert().Model(entry).Exec(context.Background())
	if err != nil {
		dbLogf("db: audit insert failed: %v", err)
	}
	return err
}

// Entries retrieves all audit log entries, most recent first.
func (s *Store) Entries() ([]AuditEntry, error) {
	var entries []AuditEntry
	err := s.bun.NewSelect().Model(&entries).Order("id DESC").Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// KnownHostKey retrieves the pinned public key for a hostname. An absent pin
// is a state, not an error, and returns the empty string.
func (s *Store) KnownHostKey(hostname string) (string, error) {
	var kh KnownHost
	err := s.bun.NewSelect().Model(&kh).Where("hostname = ?", hostname).Limit(1).Scan(context.Background())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return kh.Key, nil
}

// PinHostKey stores (or replaces) the trusted key for a hostname. Replace
// semantics allow a host that was legitimately re-provisioned to be
// re-pinned deliberately.
func (s *Store) PinHostKey(hostname, key string) error {
	ctx := context.Background()
	tx, err := s.bun.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NewDelete().Model((*KnownHost)(nil)).Where("hostname = ?", hostname).Exec(ctx); err != nil {
		return err
	}
	if _, err := tx.NewInsert().Model(&KnownHost{Hostname: hostname, Key: key}).Exec(ctx); err != nil {
		return err
	}
	return tx.Commit()
}
