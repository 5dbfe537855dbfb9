// Package sqlite persists device sessions in a local SQLite database.
// The schema is owned by the migrations under migrations/ and applied
// through cmd/migrator.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"devicegate/internal/domain/models"
	"devicegate/internal/storage"

	_ "github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"

	// _txlock=immediate makes every transaction take the write lock at BEGIN,
	// which PutWithinLimit relies on to serialize the count-then-insert.
	db, err := sql.Open("sqlite3", storagePath+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for the migrator and tests.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Put inserts or updates the session for (accountID, deviceID) and bumps
// last_active_at. created_at is written only on first insert.
func (s *Storage) Put(ctx context.Context, accountID, deviceID, deviceName, descriptor string) error {
	const op = "storage.sqlite.Put"

	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_sessions (account_id, device_id, device_name, descriptor, last_active_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, device_id) DO UPDATE SET
			device_name = excluded.device_name,
			descriptor = excluded.descriptor,
			last_active_at = excluded.last_active_at
	`, accountID, deviceID, deviceName, descriptor, now, now)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
	}

	return nil
}

// PutWithinLimit performs the check-and-insert for registration inside a
// single write transaction. An already-registered device is always accepted
// as an upsert; a new device is inserted only while the account holds fewer
// than maxDevices sessions, otherwise storage.ErrDeviceLimitReached.
//
// The connection opens transactions with BEGIN IMMEDIATE, so two concurrent
// registrations serialize here and the cap can never be exceeded by a lost
// update between the count and the insert.
func (s *Storage) PutWithinLimit(ctx context.Context, accountID, deviceID, deviceName, descriptor string, maxDevices int) error {
	const op = "storage.sqlite.PutWithinLimit"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var exists int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM device_sessions WHERE account_id = ? AND device_id = ?",
		accountID, deviceID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
	}

	if exists == 0 {
		var count int
		err = tx.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM device_sessions WHERE account_id = ?",
			accountID,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
		}

		if count >= maxDevices {
			return fmt.Errorf("%s: %w", op, storage.ErrDeviceLimitReached)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO device_sessions (account_id, device_id, device_name, descriptor, last_active_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, device_id) DO UPDATE SET
			device_name = excluded.device_name,
			descriptor = excluded.descriptor,
			last_active_at = excluded.last_active_at
	`, accountID, deviceID, deviceName, descriptor, now, now)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
	}

	return nil
}

// Delete removes the session if present and reports whether a row was
// actually removed. Deleting an absent row is not an error.
func (s *Storage) Delete(ctx context.Context, accountID, deviceID string) (bool, error) {
	const op = "storage.sqlite.Delete"

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM device_sessions WHERE account_id = ? AND device_id = ?",
		accountID, deviceID,
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
	}

	return affected > 0, nil
}

func (s *Storage) Get(ctx context.Context, accountID, deviceID string) (models.DeviceSession, error) {
	const op = "storage.sqlite.Get"

	var session models.DeviceSession
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, device_id, device_name, descriptor, last_active_at, created_at
		FROM device_sessions WHERE account_id = ? AND device_id = ?
	`, accountID, deviceID).Scan(
		&session.AccountID, &session.DeviceID, &session.DeviceName,
		&session.Descriptor, &session.LastActiveAt, &session.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DeviceSession{}, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
		}
		return models.DeviceSession{}, fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
	}

	return session, nil
}

// TouchLastActive bumps last_active_at for an existing session. Returns
// storage.ErrSessionNotFound when the session does not exist, which is how
// an evicted device learns it has been signed out.
func (s *Storage) TouchLastActive(ctx context.Context, accountID, deviceID string) error {
	const op = "storage.sqlite.TouchLastActive"

	res, err := s.db.ExecContext(ctx,
		"UPDATE device_sessions SET last_active_at = ? WHERE account_id = ? AND device_id = ?",
		time.Now().UTC(), accountID, deviceID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
	}

	return nil
}

// ListOthers returns the account's sessions excluding deviceID, most recently
// active first. Ties break by device_id ascending so the ordering offered for
// eviction is deterministic.
func (s *Storage) ListOthers(ctx context.Context, accountID, excludingDeviceID string, limit int) ([]models.DeviceSession, error) {
	const op = "storage.sqlite.ListOthers"

	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, device_id, device_name, descriptor, last_active_at, created_at
		FROM device_sessions
		WHERE account_id = ? AND device_id != ?
		ORDER BY last_active_at DESC, device_id ASC
		LIMIT ?
	`, accountID, excludingDeviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	return scanSessions(op, rows)
}

// List returns all of the account's sessions, most recently active first.
func (s *Storage) List(ctx context.Context, accountID string) ([]models.DeviceSession, error) {
	const op = "storage.sqlite.List"

	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, device_id, device_name, descriptor, last_active_at, created_at
		FROM device_sessions
		WHERE account_id = ?
		ORDER BY last_active_at DESC, device_id ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	return scanSessions(op, rows)
}

func (s *Storage) Count(ctx context.Context, accountID string) (int, error) {
	const op = "storage.sqlite.Count"

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM device_sessions WHERE account_id = ?",
		accountID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
	}

	return count, nil
}

func scanSessions(op string, rows *sql.Rows) ([]models.DeviceSession, error) {
	var sessions []models.DeviceSession
	for rows.Next() {
		var session models.DeviceSession
		err := rows.Scan(
			&session.AccountID, &session.DeviceID, &session.DeviceName,
			&session.Descriptor, &session.LastActiveAt, &session.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
	}

	return sessions, nil
}
