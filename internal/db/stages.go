package db

import (
	"database/sql"

	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/session"
)

// InsertStageRecord appends one entry to a session's stage audit trail.
func InsertStageRecord(db *sql.DB, r *session.StageRecord) error {
	errMsg := toNullString(r.ErrorMessage)

	query := `
		INSERT INTO stage_records (
			id, session_id, stage, input_snapshot, output_snapshot,
			ok, duration_ms, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		r.ID, r.SessionID, r.Stage, r.InputSnapshot, r.OutputSnapshot,
		r.OK, r.DurationMS, errMsg, r.CreatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}

	return nil
}

// ListStageRecords returns a session's stage trail in insertion order.
// rowid disambiguates records that land within the same second.
func ListStageRecords(db *sql.DB, sessionID string) ([]session.StageRecord, error) {
	query := `
		SELECT id, session_id, stage, input_snapshot, output_snapshot,
			ok, duration_ms, error_message, created_at
		FROM stage_records
		WHERE session_id = ?
		ORDER BY created_at, rowid
	`

	rows, err := db.Query(query, sessionID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var records []session.StageRecord
	for rows.Next() {
		var (
			r      session.StageRecord
			output sql.NullString
			errMsg sql.NullString
			ok     int
		)
		err := rows.Scan(
			&r.ID, &r.SessionID, &r.Stage, &r.InputSnapshot, &output,
			&ok, &r.DurationMS, &errMsg, &r.CreatedAt,
		)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		r.OutputSnapshot = output.String
		r.ErrorMessage = fromNullString(errMsg)
		r.OK = ok == 1
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	return records, nil
}
