package clock

import (
	"context"
	"time"
)

// Clock abstracts time for components that measure elapsed time or wait.
// Injecting it keeps poll loops and rate-limit waits testable without
// real delays.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Sleep blocks for d or until the context is cancelled, whichever comes first.
func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// System returns a Clock backed by the real time package.
func System() Clock { return systemClock{} }
