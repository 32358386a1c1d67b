package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/robertkrimen/otto"

	"github.com/wtsi-hgi/cookiemonster/internal/logging"
	"github.com/wtsi-hgi/cookiemonster/internal/store"
)

// Watcher watches dir for plug-in files matching suffix and keeps registry
// in sync with their contents (§4.4). One Watcher instance is scoped to a
// single registrable type, sharing its type-scoped load lock with every
// file in dir so at most one load runs at a time for that type.
type Watcher[T Registrable] struct {
	dir      string
	suffix   string
	registry *Registry[T]
	sandbox  *Sandbox
	locks    *store.LockPool
	lockKey  string
	logger   *logging.Logger

	build        func(loaded *Loaded, obj *otto.Object, source, generation string) T
	taggedSource func(T) string

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRuleWatcher watches dir for files matching suffix and loads each as a
// Rule plug-in.
func NewRuleWatcher(dir, suffix string, registry *Registry[RuleEntry], logger *logging.Logger) *Watcher[RuleEntry] {
	return newWatcher(dir, suffix, "rule", registry, buildRule, ruleSource, logger)
}

// NewEnrichmentLoaderWatcher watches dir for files matching suffix and loads
// each as an EnrichmentLoader plug-in.
func NewEnrichmentLoaderWatcher(dir, suffix string, registry *Registry[EnrichmentLoaderEntry], logger *logging.Logger) *Watcher[EnrichmentLoaderEntry] {
	return newWatcher(dir, suffix, "enrichment", registry, buildEnrichmentLoader, enrichmentLoaderSource, logger)
}

// NewNotificationReceiverWatcher watches dir for files matching suffix and
// loads each as a NotificationReceiver plug-in.
func NewNotificationReceiverWatcher(dir, suffix string, registry *Registry[NotificationReceiverEntry], logger *logging.Logger) *Watcher[NotificationReceiverEntry] {
	return newWatcher(dir, suffix, "receiver", registry, buildNotificationReceiver, notificationReceiverSource, logger)
}

func newWatcher[T Registrable](
	dir, suffix, lockKey string,
	registry *Registry[T],
	build func(loaded *Loaded, obj *otto.Object, source, generation string) T,
	taggedSource func(T) string,
	logger *logging.Logger,
) *Watcher[T] {
	return &Watcher[T]{
		dir:          dir,
		suffix:       suffix,
		registry:     registry,
		sandbox:      NewSandbox(),
		locks:        store.NewLockPool(),
		lockKey:      lockKey,
		build:        build,
		taggedSource: taggedSource,
		logger:       logger,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start performs an initial load of every matching file in dir, then begins
// watching for create/write/remove events. Returns an error only if the
// directory cannot be watched at all; individual file load failures are
// logged and skipped (§4.4 point 4).
func (w *Watcher[T]) Start(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), w.suffix) {
				continue
			}
			w.reload(ctx, filepath.Join(w.dir, entry.Name()))
		}
	} else if w.logger != nil {
		w.logger.Errorf("registry: read plug-in dir %q: %v", w.dir, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw

	go w.loop(ctx)
	return nil
}

// Stop halts the fsnotify event loop.
func (w *Watcher[T]) Stop() {
	close(w.stopCh)
	if w.watcher != nil {
		w.watcher.Close()
	}
	<-w.doneCh
}

func (w *Watcher[T]) loop(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, w.suffix) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				w.reload(ctx, event.Name)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.unload(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Errorf("registry: watcher error on %q: %v", w.dir, err)
			}
		}
	}
}

// reload acquires the type-scoped load lock, reads and sandboxes path, and
// replaces every previously registered entry tagged with path with the
// freshly built set. A load failure leaves the previous generation's
// entries untouched (§4.4 point 4).
func (w *Watcher[T]) reload(ctx context.Context, path string) {
	_ = store.WithLock(ctx, w.locks, w.lockKey, 10*time.Second, func() {
		src, err := os.ReadFile(path)
		if err != nil {
			if w.logger != nil {
				w.logger.Errorf("registry: read %q: %v", path, err)
			}
			return
		}

		loaded, err := w.sandbox.Load(string(src))
		if err != nil {
			if w.logger != nil {
				w.logger.Errorf("registry: load %q: %v", path, err)
			}
			return
		}

		generation := uuid.NewString()
		fresh := make([]T, 0, len(loaded.Objects))
		for _, obj := range loaded.Objects {
			fresh = append(fresh, w.build(loaded, obj, path, generation))
		}

		ReplaceSource(w.registry, path, w.taggedSource, fresh)
		if w.logger != nil {
			w.logger.Infof("registry: loaded %d entries from %q", len(fresh), path)
		}
	})
}

// unload removes every entry tagged with path, with nothing to replace it.
func (w *Watcher[T]) unload(path string) {
	ReplaceSource(w.registry, path, w.taggedSource, nil)
	if w.logger != nil {
		w.logger.Infof("registry: removed plug-in %q", path)
	}
}
