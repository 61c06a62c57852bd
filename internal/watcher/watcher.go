// Package watcher reports settled changes to a schema file on disk.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/dyncomp/internal/log"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 300 * time.Millisecond

// Change is delivered once a burst of writes to the file has gone quiet.
type Change struct {
	Path string
	// Events is how many filesystem events the burst contained.
	Events int
}

type settings struct {
	debounce time.Duration
}

// Option tunes Watch.
type Option func(*settings)

// WithDebounce sets how long the file must stay quiet before a Change is
// sent. Non-positive values keep the default.
func WithDebounce(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// Watch follows path until ctx ends, then closes the returned channel. The
// parent directory is watched rather than the file so that editors which
// save by renaming a temp file over the original are still seen. At most one
// Change is pending; a slow reader sees one Change for several bursts.
func Watch(ctx context.Context, path string, opts ...Option) (<-chan Change, error) {
	s := settings{debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(&s)
	}
	path = filepath.Clean(path)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	log.Debug(log.CatWatcher, "watching schema", "path", path, "debounce", s.debounce)

	out := make(chan Change, 1)
	go run(ctx, fsw, path, s.debounce, out)
	return out, nil
}

func run(ctx context.Context, fsw *fsnotify.Watcher, path string, debounce time.Duration, out chan Change) {
	defer close(out)
	defer func() { _ = fsw.Close() }()

	quiet := time.NewTimer(debounce)
	quiet.Stop()
	defer quiet.Stop()
	burst := 0

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !touches(ev, path) {
				continue
			}
			burst++
			quiet.Reset(debounce)

		case <-quiet.C:
			select {
			case out <- Change{Path: path, Events: burst}:
			default:
				log.Debug(log.CatWatcher, "change already pending", "path", path)
			}
			burst = 0

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "watch error", err, "path", path)
		}
	}
}

func touches(ev fsnotify.Event, path string) bool {
	const ops = fsnotify.Write | fsnotify.Create | fsnotify.Rename
	return ev.Op&ops != 0 && filepath.Clean(ev.Name) == path
}
