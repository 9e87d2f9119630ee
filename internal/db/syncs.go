package db

import (
	"database/sql"

	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/event"
)

// UpsertProviderSync records a successful push, replacing any previous sync
// row for the same event and provider.
func UpsertProviderSync(db *sql.DB, eventID string, ps *event.ProviderSync) error {
	query := `
		INSERT INTO provider_syncs (
			event_id, provider, provider_event_id, calendar_id, synced_version, synced_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id, provider) DO UPDATE SET
			provider_event_id = excluded.provider_event_id,
			calendar_id = excluded.calendar_id,
			synced_version = excluded.synced_version,
			synced_at = excluded.synced_at
	`

	_, err := db.Exec(query,
		eventID, ps.Provider, ps.ProviderEventID, ps.CalendarID,
		ps.SyncedVersion, ps.SyncedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}

	return nil
}

// ListSyncsForEvent returns an event's sync rows ordered by provider name.
func ListSyncsForEvent(db *sql.DB, eventID string) ([]event.ProviderSync, error) {
	query := `
		SELECT provider, provider_event_id, calendar_id, synced_version, synced_at
		FROM provider_syncs
		WHERE event_id = ?
		ORDER BY provider
	`

	rows, err := db.Query(query, eventID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var syncs []event.ProviderSync
	for rows.Next() {
		var ps event.ProviderSync
		err := rows.Scan(&ps.Provider, &ps.ProviderEventID, &ps.CalendarID, &ps.SyncedVersion, &ps.SyncedAt)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		syncs = append(syncs, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	return syncs, nil
}

// ListSyncsForSession returns sync rows for all live events in a session,
// keyed by event id.
func ListSyncsForSession(db *sql.DB, sessionID string) (map[string][]event.ProviderSync, error) {
	query := `
		SELECT ps.event_id, ps.provider, ps.provider_event_id, ps.calendar_id,
			ps.synced_version, ps.synced_at
		FROM provider_syncs ps
		JOIN events e ON e.id = ps.event_id
		WHERE e.session_id = ? AND e.deleted_at IS NULL
		ORDER BY ps.provider
	`

	rows, err := db.Query(query, sessionID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	syncs := make(map[string][]event.ProviderSync)
	for rows.Next() {
		var eventID string
		var ps event.ProviderSync
		err := rows.Scan(&eventID, &ps.Provider, &ps.ProviderEventID, &ps.CalendarID, &ps.SyncedVersion, &ps.SyncedAt)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		syncs[eventID] = append(syncs[eventID], ps)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	return syncs, nil
}

// CountSyncedEvents returns how many live events have at least one sync row.
func CountSyncedEvents(db *sql.DB) (int, error) {
	query := `
		SELECT COUNT(DISTINCT ps.event_id)
		FROM provider_syncs ps
		JOIN events e ON e.id = ps.event_id
		WHERE e.deleted_at IS NULL
	`

	var n int
	if err := db.QueryRow(query).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}
