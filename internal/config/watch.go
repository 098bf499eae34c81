package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ChamsBouzaiene/kea/internal/engine"
)

// PolicyWatcher keeps an in-memory policy in sync with the policy file.
// Edits take effect on the next gate decision without restarting. The
// parent directory is watched rather than the file itself, so editors
// that replace the file atomically still trigger a reload.
type PolicyWatcher struct {
	path         string
	watcher      *fsnotify.Watcher
	debounceTime time.Duration

	mu      sync.RWMutex
	current engine.PolicyLists
	dirty   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPolicyWatcher loads the policy at path and starts watching for
// changes.
func NewPolicyWatcher(path string) (*PolicyWatcher, error) {
	policy, err := LoadPolicy(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch policy dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pw := &PolicyWatcher{
		path:         path,
		watcher:      watcher,
		debounceTime: 500 * time.Millisecond,
		current:      policy.Lists(),
		ctx:          ctx,
		cancel:       cancel,
	}

	pw.wg.Add(2)
	go pw.eventLoop()
	go pw.debounceLoop()

	return pw, nil
}

// Lists returns the current policy. Safe for concurrent use; this is the
// function handed to the approval gate.
func (pw *PolicyWatcher) Lists() engine.PolicyLists {
	pw.mu.RLock()
	defer pw.mu.RUnlock()
	return pw.current
}

// Stop stops watching.
func (pw *PolicyWatcher) Stop() error {
	pw.cancel()
	pw.wg.Wait()
	return pw.watcher.Close()
}

func (pw *PolicyWatcher) eventLoop() {
	defer pw.wg.Done()

	for {
		select {
		case <-pw.ctx.Done():
			return
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(pw.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pw.mu.Lock()
				pw.dirty = true
				pw.mu.Unlock()
			}
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("policy watcher error: %v", err)
		}
	}
}

func (pw *PolicyWatcher) debounceLoop() {
	defer pw.wg.Done()

	ticker := time.NewTicker(pw.debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-pw.ctx.Done():
			return
		case <-ticker.C:
			pw.mu.Lock()
			dirty := pw.dirty
			pw.dirty = false
			pw.mu.Unlock()
			if !dirty {
				continue
			}

			policy, err := LoadPolicy(pw.path)
			if err != nil {
				log.Printf("policy reload failed, keeping previous policy: %v", err)
				continue
			}
			pw.mu.Lock()
			pw.current = policy.Lists()
			pw.mu.Unlock()
			log.Printf("policy reloaded: %d allowed, %d denied", len(policy.Allow), len(policy.Deny))
		}
	}
}
