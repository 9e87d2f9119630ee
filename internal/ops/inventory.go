package ops

import (
	"github.com/penciled/penciled/internal/db"
	"github.com/penciled/penciled/internal/session"
)

// InventoryOutput contains the result of the Inventory operation.
type InventoryOutput struct {
	SessionsByStatus map[session.Status]int `json:"sessions_by_status"`
	LiveEvents       int                    `json:"live_events"`
	SyncedEvents     int                    `json:"synced_events"`
	GuestSessions    int                    `json:"guest_sessions"`
	GuestLimit       int                    `json:"guest_limit"`
	Calendars        []string               `json:"calendars"`
}

// Inventory summarizes the store for status displays: listable sessions
// by status, event totals, guest cap usage, and the registered calendars.
func Inventory(d Deps) (*InventoryOutput, error) {
	byStatus, err := db.CountSessionsByStatus(d.DB)
	if err != nil {
		return nil, err
	}
	events, err := db.CountLiveEvents(d.DB)
	if err != nil {
		return nil, err
	}
	synced, err := db.CountSyncedEvents(d.DB)
	if err != nil {
		return nil, err
	}
	guests, err := db.CountGuestSessions(d.DB)
	if err != nil {
		return nil, err
	}

	calendars := d.Registry.Names()
	if calendars == nil {
		calendars = []string{}
	}
	return &InventoryOutput{
		SessionsByStatus: byStatus,
		LiveEvents:       events,
		SyncedEvents:     synced,
		GuestSessions:    guests,
		GuestLimit:       d.Config.GuestSessionLimit,
		Calendars:        calendars,
	}, nil
}
