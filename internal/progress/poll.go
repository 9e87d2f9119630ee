package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/penciled/penciled/internal/errors"
)

// Poll defaults, used when the caller passes zero values.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollMaxWait  = 5 * time.Minute
)

// Poll calls fetch immediately and then once per interval until fetch
// reports done. Exceeding maxWait returns a TIMEOUT error; the session
// itself keeps processing and can still be fetched later. A fetch error
// ends the poll as-is.
func Poll(ctx context.Context, interval, maxWait time.Duration, fetch func(context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxWait <= 0 {
		maxWait = DefaultPollMaxWait
	}

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := fetch(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errors.NewTimeout(fmt.Sprintf("waiting %s for processing", maxWait))
		case <-ticker.C:
		}
	}
}
