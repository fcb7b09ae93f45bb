// Package watcher marks observations stale as soon as the files they
// reference change on disk, instead of waiting for the next maintenance
// pass.
package watcher

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiro-memory/internal/db/sqlite"
)

// debounceWindow coalesces bursts of writes to the same file into one
// stale pass. Editors commonly fire several events per save.
const debounceWindow = 2 * time.Second

// Watcher listens for filesystem writes under registered directories and
// flags observations whose files_modified list names the changed path.
type Watcher struct {
	fs           *fsnotify.Watcher
	observations *sqlite.ObservationStore
	log          zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a watcher. Call Add for each directory of interest, then
// Start.
func New(observations *sqlite.ObservationStore) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fs:           fs,
		observations: observations,
		log:          log.With().Str("component", "watcher").Logger(),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}, nil
}

// Add registers a directory for change events.
func (w *Watcher) Add(dir string) error {
	return w.fs.Add(dir)
}

// Start launches the event loop.
func (w *Watcher) Start() {
	go w.run()
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	_ = w.fs.Close()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	pending := make(map[string]struct{})
	var flush <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			pending[event.Name] = struct{}{}
			if flush == nil {
				flush = time.After(debounceWindow)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("filesystem watch error")

		case <-flush:
			w.markStale(pending)
			pending = make(map[string]struct{})
			flush = nil
		}
	}
}

// markStale resolves the changed paths to observation ids and flags them.
func (w *Watcher) markStale(paths map[string]struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var ids []int64
	for path := range paths {
		found, err := w.observations.FindIDsByModifiedFile(ctx, path, sqlite.MaxBatchIDs)
		if err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("stale lookup failed")
			continue
		}
		ids = append(ids, found...)
	}
	if len(ids) == 0 {
		return
	}

	if err := w.observations.MarkStale(ctx, ids, true); err != nil {
		w.log.Warn().Err(err).Msg("failed to mark observations stale")
		return
	}
	w.log.Debug().Int("count", len(ids)).Msg("marked observations stale from file changes")
}
