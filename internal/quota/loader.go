package quota

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.yaml.in/yaml/v3"
)

// LoadPolicy reads an ExecutionPolicy document from a YAML file.
// Fields not present in the file keep the default preset's values, so a
// policy file only has to name what it changes.
func LoadPolicy(path string) (ExecutionPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ExecutionPolicy{}, fmt.Errorf("read policy file: %w", err)
	}

	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return ExecutionPolicy{}, fmt.Errorf("parse policy file: %w", err)
	}
	return policy, nil
}

// Watcher hot-reloads a policy file and hands the result to subscribers.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu       sync.RWMutex
	current  ExecutionPolicy
	onReload func(ExecutionPolicy)
}

// NewWatcher loads the policy file and starts watching it for changes.
// onReload is called with the new policy after every successful reload;
// a file that fails to parse keeps the previous policy and logs a warning.
func NewWatcher(path string, onReload func(ExecutionPolicy)) (*Watcher, error) {
	policy, err := LoadPolicy(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory: editors replace files rather than writing in
	// place, which drops the watch on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch policy dir: %w", err)
	}

	w := &Watcher{
		path:     path,
		watcher:  fsw,
		done:     make(chan struct{}),
		current:  policy,
		onReload: onReload,
	}
	go w.loop()
	return w, nil
}

// Current returns the most recently loaded policy.
func (w *Watcher) Current() ExecutionPolicy {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			policy, err := LoadPolicy(w.path)
			if err != nil {
				log.Printf("[quota] policy reload failed, keeping previous: %v", err)
				continue
			}
			w.mu.Lock()
			w.current = policy
			cb := w.onReload
			w.mu.Unlock()
			if cb != nil {
				cb(policy)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[quota] watcher error: %v", err)
		}
	}
}
