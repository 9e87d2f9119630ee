package ops

import (
	"time"

	"github.com/penciled/penciled/internal/db"
)

// ReapInput contains parameters for the Reap operation.
type ReapInput struct {
	// Now overrides the wall clock, for tests and backfills.
	Now time.Time
}

// ReapOutput contains the result of the Reap operation.
type ReapOutput struct {
	Reaped []string `json:"reaped"`
	Swept  []string `json:"swept"`
}

// Reap applies the retention policy: transient terminal sessions past
// their TTL are deleted along with their progress logs, and sessions
// stuck mid-processing well past the pipeline deadline are failed. The
// janitor schedule and the admin CLI both land here.
func Reap(d Deps, in ReapInput) (*ReapOutput, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	reaped, err := db.ReapTransientSessions(d.DB, now.Add(-d.Config.TransientTTL()).Unix())
	if err != nil {
		return nil, err
	}
	for _, id := range reaped {
		d.Broker.Release(id)
	}

	// Twice the pipeline deadline: anything still processing then was
	// interrupted, not slow.
	swept, err := db.SweepStuckSessions(d.DB, now.Add(-2*d.Config.PipelineTimeout()).Unix())
	if err != nil {
		return nil, err
	}

	out := &ReapOutput{Reaped: reaped, Swept: swept}
	// Ensure we return empty arrays rather than nil
	if out.Reaped == nil {
		out.Reaped = []string{}
	}
	if out.Swept == nil {
		out.Swept = []string{}
	}
	return out, nil
}
