// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with dynamic update and reload propagation.

package control

import (
	"reflect"
	"sync"
	"time"
)

// Well-known keys understood by the transport.
const (
	KeyWorkersCore   = "workers.core"
	KeyIdleTimeout   = "idle.timeout"
	KeyReadChunkSize = "read.chunk"
)

// ReloadFunc receives the keys changed by one SetConfig call.
type ReloadFunc func(changed map[string]any)

// ConfigStore is a dynamic key/value map with snapshot and listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []ReloadFunc
	sync      bool
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config: make(map[string]any),
	}
}

// NewSyncConfigStore returns a store whose listeners run on the goroutine
// calling SetConfig.
func NewSyncConfigStore() *ConfigStore {
	cs := NewConfigStore()
	cs.sync = true
	return cs
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	cp := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		cp[k] = v
	}
	return cp
}

// Get returns the raw value of key.
func (cs *ConfigStore) Get(key string) (any, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.config[key]
	return v, ok
}

// GetInt returns key as an int, accepting any integer or float value.
func (cs *ConfigStore) GetInt(key string) (int, bool) {
	v, ok := cs.Get(key)
	if !ok {
		return 0, false
	}
	return toInt(v)
}

// GetDuration returns key as a duration. Integers are read as milliseconds.
func (cs *ConfigStore) GetDuration(key string) (time.Duration, bool) {
	v, ok := cs.Get(key)
	if !ok {
		return 0, false
	}
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case string:
		pd, err := time.ParseDuration(d)
		return pd, err == nil
	}
	ms, ok := toInt(v)
	return time.Duration(ms) * time.Millisecond, ok
}

// SetConfig merges new values and dispatches reload listeners with the
// keys whose value actually changed.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	changed := make(map[string]any)
	for k, v := range newCfg {
		if old, ok := cs.config[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		cs.config[k] = v
		changed[k] = v
	}
	listeners := append([]ReloadFunc(nil), cs.listeners...)
	cs.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	for _, fn := range listeners {
		if cs.sync {
			fn(changed)
		} else {
			go fn(changed)
		}
	}
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn ReloadFunc) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint32:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
