// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

package guard

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// A waiter puts a blocked caller to sleep until the marker it waits on may
// have gone away. Each sleep returns after at most one backoff interval;
// callers re-check the marker and sleep again.
type waiter struct {
	marker   *Marker
	strategy WaitStrategy
	logger   *slog.Logger

	interval, maxInterval time.Duration

	// interruptible reports whether a blocked kernel lock honors ctx.
	interruptible bool

	watcher *fsnotify.Watcher
}

func newWaiter(m *Marker, opts *options, logger *slog.Logger) *waiter {
	return &waiter{
		marker:        m,
		strategy:      opts.wait,
		logger:        logger,
		interval:      opts.pollInterval,
		maxInterval:   opts.maxPollInterval,
		interruptible: interruptibleLocks,
	}
}

func (w *waiter) close() {
	if w.watcher != nil {
		w.watcher.Close()
		w.watcher = nil
	}
}

func (w *waiter) sleep(ctx context.Context) error {
	if w.strategy == WaitKernel {
		changed, err := w.sleepKernel(ctx)
		if err != nil || changed {
			return err
		}
		// Nobody holds the marker's kernel lock; fall through and watch it.
	}
	if w.strategy != WaitPoll {
		ok, err := w.sleepNotify(ctx)
		if err != nil || ok {
			return err
		}
	}
	return w.sleepPoll(ctx)
}

// sleepKernel blocks on a shared kernel lock of the marker until its owner
// releases it. It reports whether the marker changed while sleeping; false
// means the marker is present but not kernel-locked by anyone, or that the
// lock cannot be waited on without outliving ctx.
func (w *waiter) sleepKernel(ctx context.Context) (bool, error) {
	f, err := openShared(w.marker.path, os.O_RDONLY, 0)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	if !w.interruptible && ctx.Done() != nil {
		// Leave the waiting to the watch, which honors ctx.
		if err := TryRLock(f); err != nil {
			return false, nil
		}
		return deleted(f)
	}

	w.logger.Debug("guard: waiting on marker lock", "marker", w.marker.path)
	if err := RLock(ctx, f); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		w.logger.Debug("guard: kernel wait unavailable", "marker", w.marker.path, "error", err)
		return false, nil
	}

	return deleted(f)
}

// sleepNotify waits for the marker to be removed or for one backoff
// interval, whichever comes first. It returns false if the directory cannot
// be watched.
func (w *waiter) sleepNotify(ctx context.Context) (bool, error) {
	if w.watcher == nil {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			w.logger.Debug("guard: cannot watch marker directory", "marker", w.marker.path, "error", err)
			return false, nil
		}
		if err := watcher.Add(filepath.Dir(w.marker.path)); err != nil {
			watcher.Close()
			w.logger.Debug("guard: cannot watch marker directory", "marker", w.marker.path, "error", err)
			return false, nil
		}
		w.watcher = watcher
	}

	// The watch is in place before this check, so a removal happening in
	// between is not lost.
	if ok, err := w.marker.Exists(); err != nil || !ok {
		return true, err
	}

	timer := time.NewTimer(w.next())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return true, nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return true, nil
			}
			if ev.Name == w.marker.path && ev.Has(fsnotify.Remove|fsnotify.Rename) {
				return true, nil
			}
		case err, ok := <-w.watcher.Errors:
			if ok {
				w.logger.Debug("guard: marker watch error", "marker", w.marker.path, "error", err)
			}
			return true, nil
		}
	}
}

func (w *waiter) sleepPoll(ctx context.Context) error {
	timer := time.NewTimer(w.next())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// next returns the current backoff interval with jitter, and doubles it for
// the following call.
func (w *waiter) next() time.Duration {
	d := w.interval
	w.interval = min(2*w.interval, w.maxInterval)
	if half := int64(d / 2); half > 0 {
		d = d/2 + time.Duration(rand.Int63n(half+1))
	}
	return d
}
