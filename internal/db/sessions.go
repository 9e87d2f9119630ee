package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/input"
	"github.com/penciled/penciled/internal/session"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.PenciledError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

// InsertSession stores a new session row.
func InsertSession(db *sql.DB, s *session.Session) error {
	errMsg := toNullString(s.ErrorMessage)

	query := `
		INSERT INTO sessions (
			id, owner, input_kind, input_ref, input_hint, status,
			error_message, event_count, listable, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		s.ID, s.Owner, string(s.InputKind), s.InputRef, s.InputHint, string(s.Status),
		errMsg, s.EventCount, s.Listable, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}

	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetSessionByID retrieves a session together with its ordered live event ids.
func GetSessionByID(db *sql.DB, id string) (*session.Session, error) {
	query := `
		SELECT id, owner, input_kind, input_ref, input_hint, status,
			error_message, event_count, listable, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`

	row := db.QueryRow(query, id)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("session", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	ids, err := ListSessionEventIDs(db, id)
	if err != nil {
		return nil, err
	}
	s.EventIDs = ids

	return s, nil
}

// ListSessions returns an owner's listable sessions, most recently updated
// first, plus the total count for pagination. EventIDs are not hydrated in
// listings; GetSessionByID loads them.
func ListSessions(db *sql.DB, owner string, limit, offset int) ([]session.Session, int, error) {
	countQuery := `SELECT COUNT(*) FROM sessions WHERE owner = ? AND listable = 1`

	var total int
	if err := db.QueryRow(countQuery, owner).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `
		SELECT id, owner, input_kind, input_ref, input_hint, status,
			error_message, event_count, listable, created_at, updated_at
		FROM sessions
		WHERE owner = ? AND listable = 1
		ORDER BY updated_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := db.Query(query, owner, limit, offset)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	return sessions, total, nil
}

// UpdateSessionStatus advances a session from one lifecycle status to the
// next. The WHERE clause makes the transition a compare-and-set: if the row
// is no longer in the expected status, nothing changes and the current
// status is reported back as a validation error. A processed or error
// session therefore never regresses.
func UpdateSessionStatus(db *sql.DB, id string, from, to session.Status) error {
	now := time.Now().Unix()

	query := `
		UPDATE sessions
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := db.Exec(query, string(to), now, id, string(from))
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		var current string
		err := db.QueryRow(`SELECT status FROM sessions WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return errors.NewNotFound("session", id)
		}
		if err != nil {
			return errors.NewInternal(err)
		}
		return errors.NewValidation(fmt.Sprintf("session %s is %s; cannot move to %s", id, current, to))
	}

	return nil
}

// SetSessionError marks a session failed with a user-facing message.
// Sessions already in a terminal status are left untouched, so a late
// failure signal cannot overwrite a completed outcome.
func SetSessionError(db *sql.DB, id, message string) error {
	now := time.Now().Unix()

	query := `
		UPDATE sessions
		SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`

	result, err := db.Exec(query,
		string(session.StatusError), message, now, id,
		string(session.StatusPending), string(session.StatusProcessing),
	)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		var current string
		err := db.QueryRow(`SELECT status FROM sessions WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return errors.NewNotFound("session", id)
		}
		if err != nil {
			return errors.NewInternal(err)
		}
		return errors.NewValidation(fmt.Sprintf("session %s is already %s", id, current))
	}

	return nil
}

// MarkSessionListable flips the durable flag once the first event persists.
// Idempotent.
func MarkSessionListable(db *sql.DB, id string) error {
	now := time.Now().Unix()

	result, err := db.Exec(`UPDATE sessions SET listable = 1, updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("session", id)
	}

	return nil
}

// RefreshSessionEventCount recomputes event_count from live event rows.
// Called after any insert or delete of the session's events.
func RefreshSessionEventCount(db *sql.DB, id string) error {
	now := time.Now().Unix()

	query := `
		UPDATE sessions
		SET event_count = (
			SELECT COUNT(*) FROM events
			WHERE session_id = sessions.id AND deleted_at IS NULL
		), updated_at = ?
		WHERE id = ?
	`

	result, err := db.Exec(query, now, id)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("session", id)
	}

	return nil
}

// UpdateSessionOwner reassigns a session to a new owner.
func UpdateSessionOwner(db *sql.DB, id, owner string) error {
	now := time.Now().Unix()

	result, err := db.Exec(`UPDATE sessions SET owner = ?, updated_at = ? WHERE id = ?`, owner, now, id)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("session", id)
	}

	return nil
}

// ReapTransientSessions deletes non-listable terminal sessions whose last
// update is older than cutoff, along with their stage records. Guest rows
// are kept so the trial counter is unaffected. Returns the ids removed.
func ReapTransientSessions(db *sql.DB, cutoff int64) ([]string, error) {
	query := `
		SELECT id FROM sessions
		WHERE listable = 0 AND status IN (?, ?) AND updated_at < ?
	`

	rows, err := db.Query(query, string(session.StatusProcessed), string(session.StatusError), cutoff)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewInternal(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	for _, id := range ids {
		if _, err := db.Exec(`DELETE FROM stage_records WHERE session_id = ?`, id); err != nil {
			return nil, errors.NewInternal(err)
		}
		if _, err := db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
			return nil, errors.NewInternal(err)
		}
	}

	return ids, nil
}

// SweepStuckSessions fails sessions that have sat in pending or processing
// since before cutoff, e.g. after a crash mid-pipeline. Returns the ids
// swept.
func SweepStuckSessions(db *sql.DB, cutoff int64) ([]string, error) {
	query := `
		SELECT id FROM sessions
		WHERE status IN (?, ?) AND updated_at < ?
	`

	rows, err := db.Query(query, string(session.StatusPending), string(session.StatusProcessing), cutoff)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewInternal(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	now := time.Now().Unix()
	for _, id := range ids {
		_, err := db.Exec(
			`UPDATE sessions SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
			string(session.StatusError), "processing interrupted; resubmit to try again", now, id,
		)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
	}

	return ids, nil
}

// CountSessionsByStatus returns listable-session counts keyed by status.
func CountSessionsByStatus(db *sql.DB) (map[session.Status]int, error) {
	query := `
		SELECT status, COUNT(*) FROM sessions
		WHERE listable = 1
		GROUP BY status
	`

	rows, err := db.Query(query)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	counts := make(map[session.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.NewInternal(err)
		}
		counts[session.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	return counts, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession scans a single row into a Session struct.
// EventIDs are left nil; callers that need them load them separately.
func scanSession(row rowScanner) (*session.Session, error) {
	var (
		s        session.Session
		kind     string
		status   string
		errMsg   sql.NullString
		listable int
	)

	err := row.Scan(
		&s.ID, &s.Owner, &kind, &s.InputRef, &s.InputHint, &status,
		&errMsg, &s.EventCount, &listable, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.InputKind = input.Kind(kind)
	s.Status = session.Status(status)
	s.ErrorMessage = fromNullString(errMsg)
	s.Listable = listable == 1

	return &s, nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
