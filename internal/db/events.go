package db

import (
	"database/sql"
	"time"

	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/event"
)

// InsertEvent stores a newly formatted event row.
func InsertEvent(db *sql.DB, e *event.Event) error {
	location := toNullString(e.Location)
	description := toNullString(e.Description)
	recurrence := toNullString(e.Recurrence)
	calendarID := toNullString(e.CalendarID)

	query := `
		INSERT INTO events (
			id, session_id, position, summary,
			start_date, start_time, start_tz, end_date, end_time, end_tz,
			all_day, location, description, recurrence, calendar_id,
			version, created_at, updated_at, deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`

	_, err := db.Exec(query,
		e.ID, e.SessionID, e.Position, e.Summary,
		e.Start.Date, e.Start.Time, e.Start.TimeZone,
		e.End.Date, e.End.Time, e.End.TimeZone,
		e.AllDay, location, description, recurrence, calendarID,
		e.Version, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}

	return nil
}

// GetEventByID retrieves a live event with its provider sync rows.
func GetEventByID(db *sql.DB, id string) (*event.Event, error) {
	query := `
		SELECT id, session_id, position, summary,
			start_date, start_time, start_tz, end_date, end_time, end_tz,
			all_day, location, description, recurrence, calendar_id,
			version, created_at, updated_at, deleted_at
		FROM events
		WHERE id = ? AND deleted_at IS NULL
	`

	row := db.QueryRow(query, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("event", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	syncs, err := ListSyncsForEvent(db, id)
	if err != nil {
		return nil, err
	}
	e.Syncs = syncs

	return e, nil
}

// ListSessionEvents returns a session's live events ordered by slot
// position, with provider sync rows attached.
func ListSessionEvents(db *sql.DB, sessionID string) ([]event.Event, error) {
	query := `
		SELECT id, session_id, position, summary,
			start_date, start_time, start_tz, end_date, end_time, end_tz,
			all_day, location, description, recurrence, calendar_id,
			version, created_at, updated_at, deleted_at
		FROM events
		WHERE session_id = ? AND deleted_at IS NULL
		ORDER BY position
	`

	rows, err := db.Query(query, sessionID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	syncs, err := ListSyncsForSession(db, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Syncs = syncs[events[i].ID]
	}

	return events, nil
}

// ListSessionEventIDs returns the ordered live event ids for a session.
func ListSessionEventIDs(db *sql.DB, sessionID string) ([]string, error) {
	query := `
		SELECT id FROM events
		WHERE session_id = ? AND deleted_at IS NULL
		ORDER BY position
	`

	rows, err := db.Query(query, sessionID)
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

	return ids, nil
}

// UpdateEventByID persists an edited event. The version bump happens in the
// same statement as the field write, so concurrent editors each observe a
// distinct accepted version. The stored version is read back into e via
// RETURNING.
// Does NOT change: id, session_id, position.
func UpdateEventByID(db *sql.DB, e *event.Event) error {
	location := toNullString(e.Location)
	description := toNullString(e.Description)
	recurrence := toNullString(e.Recurrence)
	calendarID := toNullString(e.CalendarID)

	now := time.Now().Unix()

	query := `
		UPDATE events
		SET summary = ?, start_date = ?, start_time = ?, start_tz = ?,
			end_date = ?, end_time = ?, end_tz = ?, all_day = ?,
			location = ?, description = ?, recurrence = ?, calendar_id = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
		RETURNING version
	`

	var version int64
	err := db.QueryRow(query,
		e.Summary, e.Start.Date, e.Start.Time, e.Start.TimeZone,
		e.End.Date, e.End.Time, e.End.TimeZone, e.AllDay,
		location, description, recurrence, calendarID,
		now, e.ID,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return errors.NewNotFound("event", e.ID)
	}
	if err != nil {
		return errors.NewInternal(err)
	}

	e.Version = version
	e.UpdatedAt = now

	return nil
}

// SoftDeleteEvent marks an event as deleted by setting deleted_at.
// Provider sync rows are kept; the provider-side copy still exists.
func SoftDeleteEvent(db *sql.DB, id string) error {
	now := time.Now().Unix()

	query := `
		UPDATE events
		SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
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
		return errors.NewNotFound("event", id)
	}

	return nil
}

// CountLiveEvents returns the number of live event rows.
func CountLiveEvents(db *sql.DB) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM events WHERE deleted_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// scanEvent scans a single row into an Event struct.
// Syncs are left nil; callers that need them load them separately.
func scanEvent(row rowScanner) (*event.Event, error) {
	var (
		e          event.Event
		startTime  sql.NullString
		startTZ    sql.NullString
		endDate    sql.NullString
		endTime    sql.NullString
		endTZ      sql.NullString
		location   sql.NullString
		descr      sql.NullString
		recurrence sql.NullString
		calendarID sql.NullString
		deletedAt  sql.NullInt64
	)

	err := row.Scan(
		&e.ID, &e.SessionID, &e.Position, &e.Summary,
		&e.Start.Date, &startTime, &startTZ, &endDate, &endTime, &endTZ,
		&e.AllDay, &location, &descr, &recurrence, &calendarID,
		&e.Version, &e.CreatedAt, &e.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Start.Time = startTime.String
	e.Start.TimeZone = startTZ.String
	e.End.Date = endDate.String
	e.End.Time = endTime.String
	e.End.TimeZone = endTZ.String
	e.Location = fromNullString(location)
	e.Description = fromNullString(descr)
	e.Recurrence = fromNullString(recurrence)
	e.CalendarID = fromNullString(calendarID)
	if deletedAt.Valid {
		e.DeletedAt = &deletedAt.Int64
	}

	return &e, nil
}
