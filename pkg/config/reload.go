package config

import (
	"context"
	"sync"
	"time"
)

// Applier receives validated settings. Returning an error rejects them and
// the reloader keeps the previous settings.
type Applier interface {
	ApplySettings(Settings) error
}

// ReloadResult describes one reload attempt.
type ReloadResult struct {
	Path     string
	Settings Settings
	Changed  bool
	Err      error
}

// ReloadManager re-reads the settings file on demand and hands new settings
// to an Applier. Invalid files leave the running settings untouched.
type ReloadManager struct {
	mu sync.Mutex

	path    string
	current Settings
	target  Applier
	load    func(string) (Settings, error)

	debounceTime time.Duration
	lastReload   time.Time

	onReloadStart    func()
	onReloadComplete func(ReloadResult)
}

// NewReloadManager creates a reload manager for path, starting from the
// settings already applied.
func NewReloadManager(path string, current Settings, target Applier) *ReloadManager {
	return &ReloadManager{
		path:         path,
		current:      current,
		target:       target,
		load:         LoadSettings,
		debounceTime: 100 * time.Millisecond,
	}
}

// SetDebounceTime sets the minimum spacing between two reloads.
func (rm *ReloadManager) SetDebounceTime(d time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.debounceTime = d
}

// SetCallbacks sets callback functions for reload events.
func (rm *ReloadManager) SetCallbacks(onStart func(), onComplete func(ReloadResult)) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.onReloadStart = onStart
	rm.onReloadComplete = onComplete
}

// Current returns the settings in effect.
func (rm *ReloadManager) Current() Settings {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.current
}

// Reload reads the file and applies it. A call inside the debounce window
// is skipped and returns a zero result.
func (rm *ReloadManager) Reload() ReloadResult {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.lastReload.IsZero() && time.Since(rm.lastReload) < rm.debounceTime {
		return ReloadResult{Path: rm.path, Settings: rm.current}
	}
	rm.lastReload = time.Now()

	if rm.onReloadStart != nil {
		rm.onReloadStart()
	}
	res := rm.reloadLocked()
	if rm.onReloadComplete != nil {
		rm.onReloadComplete(res)
	}
	return res
}

func (rm *ReloadManager) reloadLocked() ReloadResult {
	res := ReloadResult{Path: rm.path, Settings: rm.current}

	next, err := rm.load(rm.path)
	if err != nil {
		res.Err = err
		return res
	}
	if next == rm.current {
		return res
	}
	if rm.target != nil {
		if err := rm.target.ApplySettings(next); err != nil {
			res.Err = err
			return res
		}
	}
	rm.current = next
	res.Settings = next
	res.Changed = true
	return res
}

// Run reloads each time trigger fires until ctx is done. Typically trigger
// is fed by SIGHUP.
func (rm *ReloadManager) Run(ctx context.Context, trigger <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-trigger:
			if !ok {
				return
			}
			rm.Reload()
		}
	}
}
