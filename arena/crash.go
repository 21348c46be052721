// File: arena/crash.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Crash notices reported by managers whose peer died holding the lock.

package arena

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/protocol"
)

// CrashList is a mutex-guarded last-in-first-out list of namespaces.
type CrashList struct {
	mu sync.Mutex
	q  *queue.Queue
}

// NewCrashList returns an empty list.
func NewCrashList() *CrashList {
	return &CrashList{q: queue.New()}
}

// Push records ns as the most recent crash. A namespace already present is
// moved to the top.
func (c *CrashList) Push(ns string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(ns)
	c.q.Add(ns)
}

// Contains reports whether ns has an outstanding crash notice.
func (c *CrashList) Contains(ns string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < c.q.Length(); i++ {
		if c.q.Get(i).(string) == ns {
			return true
		}
	}
	return false
}

// Remove drops the notice for ns and reports whether one existed.
func (c *CrashList) Remove(ns string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(ns)
}

func (c *CrashList) removeLocked(ns string) bool {
	n := c.q.Length()
	found := false
	for i := 0; i < n; i++ {
		v := c.q.Remove().(string)
		if v == ns {
			found = true
			continue
		}
		c.q.Add(v)
	}
	return found
}

// Latest returns the most recently pushed namespace.
func (c *CrashList) Latest() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.q.Length() == 0 {
		return "", false
	}
	return c.q.Get(-1).(string), true
}

// Len returns the number of outstanding notices.
func (c *CrashList) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.q.Length()
}

// Snapshot returns the namespaces newest first.
func (c *CrashList) Snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.q.Length()
	out := make([]string, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, c.q.Get(i).(string))
	}
	return out
}

// NotifyCrash reports ns on the crash channel at addr and waits for the
// acknowledgement.
func NotifyCrash(ctx context.Context, addr, ns string, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial crash channel: %w", api.ErrTransport, err)
	}
	defer conn.Close()
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	if err := protocol.WriteCrashNotice(conn, ns); err != nil {
		return err
	}
	st, err := protocol.ReadStatus(conn)
	if err != nil {
		return err
	}
	if st != protocol.StatusOK {
		return fmt.Errorf("%w: crash notice for %q rejected with %s", api.ErrTransport, ns, st)
	}
	return nil
}
