// File: internal/concurrency/poll.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded, timer-driven polling used by every wait in the system: arena
// handshakes, dequeue, queue setup and finish-all reclaim.

package concurrency

import (
	"context"
	"time"
)

// Poll evaluates cond, then every interval, until it reports done, returns
// an error, ctx ends, or timeout has elapsed since the first evaluation.
// On timeout Poll returns timeoutErr. The condition is always evaluated at
// least once, so a zero timeout is a single non-blocking check.
func Poll(ctx context.Context, interval, timeout time.Duration, timeoutErr error, cond func() (bool, error)) error {
	if interval <= 0 {
		interval = time.Millisecond
	}
	start := time.Now()
	var timer *time.Timer
	for {
		done, err := cond()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Since(start) >= timeout {
			return timeoutErr
		}
		if timer == nil {
			timer = time.NewTimer(interval)
			defer timer.Stop()
		} else {
			timer.Reset(interval)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
