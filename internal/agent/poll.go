package agent

import (
	"context"
	"time"
)

// Default polling budget while waiting for capabilities: 20 × 500ms.
const (
	DefaultPollAttempts = 20
	DefaultPollInterval = 500 * time.Millisecond
)

// Poller repeatedly runs a check on a fixed interval.
type Poller struct {
	Attempts int
	Interval time.Duration
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller with the given budget; zero values use the defaults.
func NewPoller(attempts int, interval time.Duration) Poller {
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return Poller{Attempts: attempts, Interval: interval}
}

// Poll waits one interval before each check. It returns nil as soon as check
// reports done, check's error if it fails, or ErrCapabilitiesTimeout after
// Attempts checks.
func (p Poller) Poll(ctx context.Context, check func() (bool, error)) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := sleep(ctx, p.Interval); err != nil {
			return err
		}
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return ErrCapabilitiesTimeout
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
