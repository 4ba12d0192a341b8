package vault

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceWindow = 2 * time.Second

// Watcher fires a callback when notes change on disk, debounced so a
// burst of editor writes triggers one sync instead of dozens.
type Watcher struct {
	vault    *Vault
	onChange func()
	logger   *slog.Logger
}

// NewWatcher creates a Watcher that invokes onChange after vault
// activity settles.
func NewWatcher(v *Vault, onChange func(), logger *slog.Logger) *Watcher {
	return &Watcher{vault: v, onChange: onChange, logger: logger}
}

// Run watches until the context is cancelled. Subdirectories are added
// as they appear; fsnotify does not recurse on its own.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addRecursive(fw, w.vault.Dir()); err != nil {
		return err
	}
	w.logger.Info("watching vault", "dir", w.vault.Dir())

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(fw, event.Name); err != nil {
						w.logger.Warn("watching new dir", "dir", event.Name, "error", err)
					}
					continue
				}
			}
			if !relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(debounceWindow)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.logger.Debug("vault activity settled, triggering sync")
			w.onChange()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("vault watcher error", "error", err)
		}
	}
}

func (w *Watcher) addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

func relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	name := filepath.Base(event.Name)
	// Editors write through temp files; the rename to .md is the event
	// that matters.
	return strings.HasSuffix(name, ".md") && !strings.HasPrefix(name, ".")
}
