package catalog

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher observes a catalog directory for definition document changes.
// The registry itself stays immutable for the process lifetime; the
// watcher only signals that a reload (process restart or explicit
// re-exec) is warranted, so long-running deployments never race a
// half-written catalog.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
	changes chan string
}

// NewWatcher creates a watcher on the given catalog directory.
func NewWatcher(dir string, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, err
	}

	return &Watcher{
		watcher: fw,
		logger:  logger.With().Str("component", "catalog-watcher").Logger(),
		changes: make(chan string, 16),
	}, nil
}

// Changes returns the channel of changed document paths.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Run processes filesystem events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.changes)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Warn().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Catalog document changed on disk; restart to pick up the new catalog")

			select {
			case w.changes <- event.Name:
			default:
				// Drop when nobody is draining; the log line is the signal.
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Catalog watcher error")
		}
	}
}

// Close releases the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
