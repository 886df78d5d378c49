package config

import (
	"bytes"
	"context"
	"path/filepath"
	"time"

	"github.com/a8m/envsubst"
	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/multierr"

	"go.viam.com/edukit/logging"
	"go.viam.com/edukit/utils"
)

// A Watcher is responsible for watching for changes to a config from some source and delivering
// those changes to some destination.
type Watcher interface {
	Config() <-chan *Config
	Close() error
}

// settleTime is how long the file must stay quiet before it is read again. Editors often write a
// file in several steps.
const settleTime = 100 * time.Millisecond

type fsConfigWatcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	logger    logging.Logger
	configCh  chan *Config
	workers   utils.StoppableWorkers
	lastRead  []byte

	debounced func(f func())
	settled   chan struct{}
}

// NewWatcher returns a watcher delivering every new, valid version of the file at path. Configs
// that fail to read or validate are logged and skipped.
func NewWatcher(ctx context.Context, path string, logger logging.Logger) (Watcher, error) {
	path = filepath.Clean(path)
	lastRead, err := envsubst.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory so a file replaced by an editor's rename is still seen.
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		return nil, multierr.Combine(err, fsWatcher.Close())
	}

	w := &fsConfigWatcher{
		fsWatcher: fsWatcher,
		path:      path,
		logger:    logger,
		configCh:  make(chan *Config),
		lastRead:  lastRead,
		debounced: debounce.New(settleTime),
		settled:   make(chan struct{}, 1),
	}
	w.workers = utils.NewStoppableWorkersWithContext(ctx, w.watch)
	return w, nil
}

func (w *fsConfigWatcher) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorw("error watching config", "path", w.path, "error", err)
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			w.debounced(w.settle)
		case <-w.settled:
			cfg := w.reload(ctx)
			if cfg == nil {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case w.configCh <- cfg:
			}
		}
	}
}

// settle runs on the debounce timer once the file has stopped changing.
func (w *fsConfigWatcher) settle() {
	select {
	case w.settled <- struct{}{}:
	default:
	}
}

// reload returns nil when the file is unchanged or invalid.
func (w *fsConfigWatcher) reload(ctx context.Context) *Config {
	buf, err := envsubst.ReadFile(w.path)
	if err != nil {
		w.logger.Errorw("cannot read changed config", "path", w.path, "error", err)
		return nil
	}
	if bytes.Equal(buf, w.lastRead) {
		return nil
	}
	cfg, err := FromReader(ctx, w.path, bytes.NewReader(buf), w.logger)
	if err != nil {
		w.logger.Errorw("ignoring invalid config", "path", w.path, "error", err)
		return nil
	}
	w.lastRead = buf
	return cfg
}

func (w *fsConfigWatcher) Config() <-chan *Config {
	return w.configCh
}

func (w *fsConfigWatcher) Close() error {
	w.workers.Stop()
	return w.fsWatcher.Close()
}
