// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with dynamic update and hot-reload propagation.

package control

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigStore is a dynamic key/value map with atomic snapshot and listener support.
// Nested YAML sections are flattened into dotted keys ("dma.dequeue_timeout").
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config:    make(map[string]any),
		listeners: make([]func(), 0),
	}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// SetConfig merges new values and dispatches reload listeners asynchronously.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.merge(newCfg)
	for _, fn := range cs.snapshotListeners() {
		go fn()
	}
}

// SetConfigSync merges new values and runs reload listeners before returning.
func (cs *ConfigStore) SetConfigSync(newCfg map[string]any) {
	cs.merge(newCfg)
	for _, fn := range cs.snapshotListeners() {
		fn()
	}
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// LoadFile reads a YAML document and merges it synchronously.
func (cs *ConfigStore) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	doc := make(map[string]any)
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	flat := make(map[string]any)
	flatten("", doc, flat)
	cs.SetConfigSync(flat)
	return nil
}

func (cs *ConfigStore) merge(newCfg map[string]any) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
}

func (cs *ConfigStore) snapshotListeners() []func() {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return append([]func(){}, cs.listeners...)
}

func (cs *ConfigStore) get(key string) (any, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.config[key]
	return v, ok
}

// String returns the value under key, or def when absent.
func (cs *ConfigStore) String(key, def string) string {
	v, ok := cs.get(key)
	if !ok {
		return def
	}
	return fmt.Sprint(v)
}

// Bool returns the boolean under key, or def when absent or malformed.
func (cs *ConfigStore) Bool(key string, def bool) bool {
	v, ok := cs.get(key)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return def
}

// Int returns the integer under key, or def when absent or malformed.
func (cs *ConfigStore) Int(key string, def int) int {
	v, ok := cs.get(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint32:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

// Duration accepts time.Duration values, Go duration strings ("50ms") and
// bare integers interpreted as milliseconds.
func (cs *ConfigStore) Duration(key string, def time.Duration) time.Duration {
	v, ok := cs.get(key)
	if !ok {
		return def
	}
	switch d := v.(type) {
	case time.Duration:
		return d
	case int:
		return time.Duration(d) * time.Millisecond
	case int64:
		return time.Duration(d) * time.Millisecond
	case float64:
		return time.Duration(d * float64(time.Millisecond))
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
	}
	return def
}

// Uint32s returns a list of page counts such as "2,2" or [2, 2].
func (cs *ConfigStore) Uint32s(key string, def []uint32) []uint32 {
	v, ok := cs.get(key)
	if !ok {
		return def
	}
	var parts []string
	switch l := v.(type) {
	case []uint32:
		return l
	case string:
		parts = strings.Split(l, ",")
	case []any:
		for _, e := range l {
			parts = append(parts, fmt.Sprint(e))
		}
	default:
		return def
	}
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return def
		}
		out = append(out, uint32(n))
	}
	return out
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flatten(key, sub, out)
			continue
		}
		out[key] = v
	}
}
