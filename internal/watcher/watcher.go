package watcher

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/daimoniac/vigil/internal/errors"
	"github.com/daimoniac/vigil/internal/observability"
	v1 "github.com/google/go-containerregistry/pkg/v1"
)

// Trigger requests an out-of-band evaluation run
type Trigger interface {
	Trigger() bool
}

// Watcher monitors the catalog document and requests a run when it changes
type Watcher interface {
	// Start begins the polling loop
	Start(ctx context.Context) error

	// Check compares the current catalog digest with the last one seen
	Check(ctx context.Context) (changed bool, err error)
}

// Config contains configuration for the watcher
type Config struct {
	PollInterval time.Duration
}

// catalogWatcher implements the Watcher interface
type catalogWatcher struct {
	path         string
	trigger      Trigger
	pollInterval time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	digest v1.Hash
}

// NewWatcher creates a watcher for the catalog at path
func NewWatcher(path string, trigger Trigger, config Config, logger *slog.Logger) Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &catalogWatcher{
		path:         path,
		trigger:      trigger,
		pollInterval: config.PollInterval,
		logger:       logger,
	}
}

// Start records the initial digest and then polls until ctx is done.
// The first observation never triggers a run.
func (w *catalogWatcher) Start(ctx context.Context) error {
	w.logger.Info("starting catalog watcher",
		"path", w.path,
		"poll_interval", w.pollInterval.String())

	if _, err := w.Check(ctx); err != nil {
		w.logger.Error("initial catalog check failed",
			"error", err.Error())
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("catalog watcher shutting down")
			return ctx.Err()
		case <-time.After(w.pollInterval):
			if _, err := w.Check(ctx); err != nil {
				w.logger.Error("catalog check failed",
					"error", err.Error())
			}
		}
	}
}

// Check hashes the catalog and triggers a run if the digest differs from
// the previously observed one
func (w *catalogWatcher) Check(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errors.NewTransientf("catalog check cancelled: %w", err)
	}

	current, err := digestFile(w.path)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	previous := w.digest
	w.digest = current
	w.mu.Unlock()

	if previous == (v1.Hash{}) {
		w.logger.Debug("catalog digest recorded",
			"path", w.path,
			"digest", current.String())
		return false, nil
	}
	if previous == current {
		return false, nil
	}

	observability.GetMetrics().CatalogChanges.Inc()

	queued := w.trigger != nil && w.trigger.Trigger()
	w.logger.Info("catalog changed",
		"path", w.path,
		"old_digest", previous.String(),
		"new_digest", current.String(),
		"run_queued", queued)

	return true, nil
}

func digestFile(path string) (v1.Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return v1.Hash{}, errors.NewTransientf("catalog not found: %s", path)
		}
		return v1.Hash{}, errors.NewPermanentf("failed to open catalog %s: %w", path, err)
	}
	defer f.Close()

	digest, _, err := v1.SHA256(f)
	if err != nil {
		return v1.Hash{}, errors.NewTransientf("failed to hash catalog %s: %w", path, err)
	}
	return digest, nil
}
