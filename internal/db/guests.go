package db

import (
	"database/sql"

	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/session"
)

// InsertGuestSession stores a guest token hash for one session.
func InsertGuestSession(db *sql.DB, g *session.GuestSession) error {
	query := `
		INSERT INTO guest_sessions (session_id, token_hash, created_at, migrated_at)
		VALUES (?, ?, ?, NULL)
	`

	_, err := db.Exec(query, g.SessionID, g.TokenHash, g.CreatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}

	return nil
}

// CountGuestSessions counts every guest session ever created, migrated
// included. The trial cap compares against this number, so migrating a
// session to an account does not free up a slot.
func CountGuestSessions(db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM guest_sessions`).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// GetGuestBySessionID returns the guest row for a session.
func GetGuestBySessionID(db *sql.DB, sessionID string) (*session.GuestSession, error) {
	query := `
		SELECT session_id, token_hash, created_at, migrated_at
		FROM guest_sessions
		WHERE session_id = ?
	`

	row := db.QueryRow(query, sessionID)
	g, err := scanGuestSession(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("guest session", sessionID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	return g, nil
}

// GetGuestByTokenHash looks up the guest row a presented bearer token maps
// to. The caller hashes the token first; raw secrets never reach the store.
func GetGuestByTokenHash(db *sql.DB, tokenHash string) (*session.GuestSession, error) {
	query := `
		SELECT session_id, token_hash, created_at, migrated_at
		FROM guest_sessions
		WHERE token_hash = ?
	`

	row := db.QueryRow(query, tokenHash)
	g, err := scanGuestSession(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewUnauthorized("unknown access token")
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	return g, nil
}

// MarkGuestMigrated tombstones a guest row after its session moves to a
// real owner. Returns false when the row was already migrated, so repeat
// migration calls can report the id as skipped.
func MarkGuestMigrated(db *sql.DB, sessionID string, now int64) (bool, error) {
	query := `
		UPDATE guest_sessions
		SET migrated_at = ?
		WHERE session_id = ? AND migrated_at IS NULL
	`

	result, err := db.Exec(query, now, sessionID)
	if err != nil {
		return false, errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}

	return rowsAffected > 0, nil
}

// scanGuestSession scans a single row into a GuestSession struct.
func scanGuestSession(row rowScanner) (*session.GuestSession, error) {
	var (
		g          session.GuestSession
		migratedAt sql.NullInt64
	)

	err := row.Scan(&g.SessionID, &g.TokenHash, &g.CreatedAt, &migratedAt)
	if err != nil {
		return nil, err
	}

	if migratedAt.Valid {
		g.MigratedAt = &migratedAt.Int64
	}

	return &g, nil
}
