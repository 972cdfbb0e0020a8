package security

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/doeshing/cmdrelay/internal/pkg/logger"
	"github.com/doeshing/cmdrelay/internal/ports"
)

const reloadDebounce = 200 * time.Millisecond

// RuleWatcher reloads a Guardrail whenever its rules file changes on disk.
type RuleWatcher struct {
	guardrail *Guardrail
	watcher   *fsnotify.Watcher
	logger    ports.Logger
	debounce  time.Duration
	// reloaded receives a value after every reload attempt; tests hook into it.
	reloaded chan error
}

// NewRuleWatcher watches the directory holding g's rules file. Editors often
// replace files instead of writing in place, so the directory is watched and
// events are filtered by name.
func NewRuleWatcher(g *Guardrail, log ports.Logger) (*RuleWatcher, error) {
	if g.Path() == "" {
		return nil, errors.New("guardrail has no rules file to watch")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(g.Path())); err != nil {
		_ = w.Close()
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RuleWatcher{
		guardrail: g,
		watcher:   w,
		logger:    log,
		debounce:  reloadDebounce,
	}, nil
}

// Run processes file events until ctx is cancelled, then closes the watcher.
func (rw *RuleWatcher) Run(ctx context.Context) {
	defer rw.watcher.Close()

	var pending <-chan time.Time
	target := filepath.Clean(rw.guardrail.Path())

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(rw.debounce)
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			rw.logger.Error("guardrail watcher error", err, nil)
		case <-pending:
			pending = nil
			err := rw.guardrail.Reload()
			if err != nil {
				rw.logger.Error("guardrail reload failed, keeping previous rules", err, map[string]interface{}{"path": target})
			} else {
				rw.logger.Info("guardrail rules reloaded", map[string]interface{}{
					"path":  target,
					"rules": rw.guardrail.RuleCount(),
				})
			}
			if rw.reloaded != nil {
				select {
				case rw.reloaded <- err:
				default:
				}
			}
		}
	}
}
