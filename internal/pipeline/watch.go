package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AnyUserName/webpconv/internal/manifest"
)

// Watch converts the images already under InputDir and then every image
// created or rewritten there, until ctx is done. A file is converted once it
// has stopped changing for Settle. onEntry is called from worker goroutines.
func (p *Pipeline) Watch(ctx context.Context, onEntry func(rel string, e manifest.Entry)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	d := newDebouncer(p.cfg.Settle)
	defer d.stop()

	if err := p.watchTree(watcher, d, p.cfg.InputDir); err != nil {
		return err
	}
	p.log.Info().Str("dir", p.cfg.InputDir).Msg("watching for images")

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case path := <-d.ready:
					p.convertPath(ctx, path, onEntry)
				}
			}
		}()
	}
	defer wg.Wait()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if hiddenName(event.Name) {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if event.Has(fsnotify.Create) {
					if err := p.watchTree(watcher, d, event.Name); err != nil {
						p.log.Warn().Err(err).Str("dir", event.Name).Msg("cannot watch directory")
					}
				}
				continue
			}
			if info.Mode().IsRegular() && IsImage(event.Name) {
				d.schedule(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.log.Error().Err(err).Msg("watcher error")
		}
	}
}

// watchTree adds root and its visible subdirectories to the watcher and
// schedules the images already present. Files created before the watch
// was in place would otherwise be missed.
func (p *Pipeline) watchTree(w *fsnotify.Watcher, d *debouncer, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path != root && hiddenName(path) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			if err := w.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		}
		if info.Mode().IsRegular() && IsImage(path) {
			d.schedule(path)
		}
		return nil
	})
}

func (p *Pipeline) convertPath(ctx context.Context, path string, onEntry func(string, manifest.Entry)) {
	info, err := os.Stat(path)
	if err != nil {
		return // removed while settling
	}
	src, ok, err := sourceFor(p.cfg.InputDir, path, info)
	if err != nil || !ok {
		return
	}
	e := p.processImage(ctx, src)
	p.logEntry(src, e)
	if onEntry != nil {
		onEntry(src.RelPath, e)
	}
}

func hiddenName(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// debouncer emits a path on ready once no event for it has arrived for
// settle.
type debouncer struct {
	settle time.Duration
	ready  chan string
	done   chan struct{}

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func newDebouncer(settle time.Duration) *debouncer {
	return &debouncer{
		settle: settle,
		ready:  make(chan string, 64),
		done:   make(chan struct{}),
		timers: make(map[string]*time.Timer),
	}
}

func (d *debouncer) schedule(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if t, ok := d.timers[path]; ok {
		t.Reset(d.settle)
		return
	}
	d.timers[path] = time.AfterFunc(d.settle, func() {
		d.mu.Lock()
		delete(d.timers, path)
		d.mu.Unlock()
		select {
		case d.ready <- path:
		case <-d.done:
		}
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	close(d.done)
	for path, t := range d.timers {
		t.Stop()
		delete(d.timers, path)
	}
}
