package edit

import (
	"context"
	"sync"
	"time"

	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/event"
	"github.com/penciled/penciled/internal/stage"
)

// Persister is the server side of an edit: persist one mutation and hand
// back the authoritative entity.
type Persister interface {
	UpdateEvent(ctx context.Context, sessionID, eventID string, patch event.Patch) (*event.Event, error)
	DeleteEvent(ctx context.Context, sessionID, eventID string) error
}

// Controller coordinates speculative edits for the session the client is
// looking at. Changes apply locally first through the reducer; persists
// run in the background and reconcile by issue order, so a stale response
// never clobbers a newer edit.
type Controller struct {
	persister Persister
	planner   stage.EditPlanner
	repo      *Repo

	// OnChange, when set before the first edit, observes every state
	// transition.
	OnChange func(State)

	mu       sync.Mutex
	observed string
	state    State
	issues   map[string]uint64
	wg       sync.WaitGroup
}

// NewController wires the reducer to a persister and an edit planner.
// The planner may be nil when AI batch edits are not offered.
func NewController(p Persister, planner stage.EditPlanner, repo *Repo) *Controller {
	if repo == nil {
		repo = NewRepo(DefaultRepoCap)
	}
	return &Controller{
		persister: p,
		planner:   planner,
		repo:      repo,
		issues:    make(map[string]uint64),
	}
}

// Observe switches the controller to a session. A non-nil events slice
// loads fresh server data; nil restores the parked snapshot, if any.
// From here on, persist results for any other session are discarded.
func (c *Controller) Observe(sessionID string, events []event.Event) {
	c.mu.Lock()
	if c.observed != "" && c.observed != sessionID {
		c.repo.Put(c.state)
	}
	c.observed = sessionID
	if events != nil {
		c.state = Apply(State{SessionID: sessionID}, Change{Op: OpLoad, Events: events})
	} else if snap, ok := c.repo.Get(sessionID); ok {
		c.state = snap
	} else {
		c.state = Apply(State{SessionID: sessionID}, Change{Op: OpLoad})
	}
	c.unlockAndNotify()
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Edit applies the patch speculatively and persists it in the
// background.
func (c *Controller) Edit(ctx context.Context, eventID string, patch event.Patch) {
	c.mu.Lock()
	sessionID := c.observed
	c.state = Apply(c.state, Change{
		Op:      OpPatch,
		EventID: eventID,
		Patch:   &patch,
		At:      time.Now().Unix(),
	})
	seq := c.nextIssueLocked(eventID)
	c.unlockAndNotify()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		updated, err := c.persister.UpdateEvent(ctx, sessionID, eventID, patch)
		c.resolve(sessionID, eventID, seq, updated, err)
	}()
}

// Delete removes the event speculatively and persists the deletion in
// the background.
func (c *Controller) Delete(ctx context.Context, eventID string) {
	c.mu.Lock()
	sessionID := c.observed
	c.state = Apply(c.state, Change{Op: OpDelete, EventID: eventID})
	seq := c.nextIssueLocked(eventID)
	c.unlockAndNotify()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.persister.DeleteEvent(ctx, sessionID, eventID)
		c.resolve(sessionID, eventID, seq, nil, err)
	}()
}

// BatchEdit turns one natural-language instruction into per-index
// actions and runs each through the normal speculative path. Identity
// and sync fields ride along untouched because patches cannot name them;
// an AI pass can never reset an event's id, version, or provider syncs.
func (c *Controller) BatchEdit(ctx context.Context, instruction string) error {
	if c.planner == nil {
		return errors.NewValidation("AI edits are not configured")
	}
	c.mu.Lock()
	originals := cloneEvents(c.state.Events)
	c.mu.Unlock()

	actions, err := c.planner.PlanEdits(ctx, instruction, originals)
	if err != nil {
		return err
	}

	for _, a := range actions {
		if a.Index < 0 || a.Index >= len(originals) {
			continue
		}
		target := originals[a.Index]
		switch a.Action {
		case stage.ActionDelete:
			c.Delete(ctx, target.ID)
		case stage.ActionEdit:
			if a.Patch == nil || a.Patch.IsZero() {
				continue
			}
			c.Edit(ctx, target.ID, *a.Patch)
		}
	}
	return nil
}

// Wait blocks until every issued persist has resolved.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// resolve applies one persist response if it is still relevant: the
// session must still be observed and the response must answer the latest
// issue for its event.
func (c *Controller) resolve(sessionID, eventID string, seq uint64, e *event.Event, err error) {
	c.mu.Lock()
	if sessionID != c.observed || c.issues[eventID] != seq {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.state = Apply(c.state, Change{
			Op:      OpFail,
			EventID: eventID,
			Message: errors.From(err).Message,
		})
	} else {
		c.state = Apply(c.state, Change{Op: OpConfirm, EventID: eventID, Event: e})
	}
	c.unlockAndNotify()
}

func (c *Controller) nextIssueLocked(eventID string) uint64 {
	c.issues[eventID]++
	return c.issues[eventID]
}

// unlockAndNotify releases the lock, then reports the new state.
func (c *Controller) unlockAndNotify() {
	snap := c.state
	cb := c.OnChange
	c.mu.Unlock()
	if cb != nil {
		cb(snap)
	}
}
