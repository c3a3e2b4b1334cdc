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
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// A File is an open file guarded by a marker. The file may be read and
// written freely by its owner; other Files on the same path, in this process
// or another, are kept out for as long as the marker is held.
//
// Opening a File does not lock it. A File must not be used from several
// goroutines at once; open one File per goroutine instead.
type File struct {
	f      *os.File
	marker *Marker
	holder string

	// held is the open marker while this File owns it.
	held *os.File
	// released records that this File owned the marker at some point.
	released bool

	opts   options
	logger *slog.Logger
}

// Open opens the named file with the specified flag and perm, as
// os.OpenFile does, and prepares it for guarding. The file is not locked.
//
// Open returns an error matching ErrIsDirectory if path names a directory.
func Open(path string, flag int, perm os.FileMode, opts ...Option) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(abs, flag, perm)
	if errors.Is(err, syscall.EISDIR) {
		return nil, wrapPathError("open", abs, ErrIsDirectory)
	}
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.IsDir() {
		f.Close()
		return nil, wrapPathError("open", abs, ErrIsDirectory)
	}

	g := &File{
		f:      f,
		marker: markerForAbs(abs),
		holder: uuid.NewString(),
		opts:   defaultOptions(),
	}
	for _, opt := range opts {
		opt(&g.opts)
	}
	g.logger = g.opts.logger
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g, nil
}

// Name returns the absolute path of the guarded file, or "" once closed.
func (g *File) Name() string {
	if g.f == nil {
		return ""
	}
	return g.f.Name()
}

// Marker returns the marker guarding the file, or nil once closed.
func (g *File) Marker() *Marker {
	return g.marker
}

// Lock acquires the marker and returns the underlying file.
//
// If the resource is held by someone else and wait is false, Lock returns
// (nil, nil) immediately. If wait is true, Lock blocks until the resource is
// free and then acquires it; it only gives up if ctx is done. Waiters are
// not served in any particular order.
//
// Handles in this process for the same resource share a gate, which a
// waiting handle keeps while it sleeps between attempts. So Lock(ctx, false)
// may return (nil, nil) even though the marker itself is free.
//
// Calling Lock on a File that already owns the marker is a no-op.
func (g *File) Lock(ctx context.Context, wait bool) (*os.File, error) {
	if g.f == nil {
		return nil, os.ErrClosed
	}
	if g.held != nil {
		return g.f, nil
	}

	start := time.Now()
	waited := false

	entered, err := enterGate(ctx, g.marker.id, wait)
	if err != nil {
		return nil, err
	}
	if !entered {
		ContendedCounter.Inc()
		return nil, nil
	}
	defer func() {
		if g.held == nil {
			leaveGate(g.marker.id)
		}
	}()

	w := newWaiter(g.marker, &g.opts, g.logger)
	defer w.close()

	for {
		held, err := g.tryAcquire()
		if err != nil {
			return nil, err
		}
		if held != nil {
			g.held = held
			g.released = false
			AcquiredCounter.Inc()
			if waited {
				WaitHistogram.Observe(time.Since(start).Seconds())
			}
			return g.f, nil
		}

		ContendedCounter.Inc()
		if !wait {
			return nil, nil
		}
		waited = true
		if err := w.sleep(ctx); err != nil {
			return nil, err
		}
	}
}

// tryAcquire makes one attempt at creating the marker, reclaiming it first
// if it is stale and reclamation is enabled. It returns (nil, nil) if the
// resource is held.
func (g *File) tryAcquire() (*os.File, error) {
	held, err := g.marker.create(g.info())
	if err == nil {
		return held, nil
	}
	if !errors.Is(err, ErrWouldBlock) {
		return nil, err
	}
	if !g.opts.reclaimStale {
		return nil, nil
	}

	reclaimed, err := g.marker.reclaim()
	if err != nil || !reclaimed {
		return nil, err
	}
	ReclaimedCounter.Inc()
	g.logger.Warn("guard: reclaimed stale lock marker", "marker", g.marker.path, "file", g.f.Name())

	held, err = g.marker.create(g.info())
	if errors.Is(err, ErrWouldBlock) {
		return nil, nil
	}
	return held, err
}

func (g *File) info() *MarkerInfo {
	hostname, _ := os.Hostname()
	return &MarkerInfo{
		Holder:   g.holder,
		PID:      os.Getpid(),
		Hostname: hostname,
		Acquired: time.Now().UTC(),
	}
}

// Unlock releases the marker held by this File.
//
// Unlock is a no-op if the File is closed, if the resource is free, or if
// this File held the marker before and already released it. If the marker is
// held by someone else and this File never owned it, Unlock returns an error
// matching ErrOwnership and leaves the marker alone.
func (g *File) Unlock() error {
	if g.f == nil {
		return nil
	}
	if g.held != nil {
		err := g.marker.remove(g.held)
		g.held = nil
		g.released = true
		leaveGate(g.marker.id)
		return wrapPathError("unlock", g.marker.path, err)
	}

	locked, err := g.marker.Exists()
	if err != nil {
		return err
	}
	if !locked || g.released {
		return nil
	}
	return wrapPathError("unlock", g.marker.path, ErrOwnership)
}

// IsLocked reports whether anyone, this File included, holds the resource.
func (g *File) IsLocked() (bool, error) {
	if g.f == nil {
		return false, nil
	}
	return g.marker.Exists()
}

// IsLockedBySelf reports whether this File holds the resource. It does not
// touch the filesystem.
func (g *File) IsLockedBySelf() bool {
	return g.held != nil
}

// File returns the underlying file if this File owns the marker or if the
// resource is free, without acquiring it.
//
// If the resource is held by someone else, File returns (nil, nil) unless
// wait is true, in which case it blocks until the resource is free or ctx is
// done.
func (g *File) File(ctx context.Context, wait bool) (*os.File, error) {
	if g.f == nil {
		return nil, os.ErrClosed
	}
	if g.held != nil {
		return g.f, nil
	}

	w := newWaiter(g.marker, &g.opts, g.logger)
	defer w.close()

	for {
		locked, err := g.marker.Exists()
		if err != nil {
			return nil, err
		}
		if !locked {
			return g.f, nil
		}
		if !wait {
			return nil, nil
		}
		if err := w.sleep(ctx); err != nil {
			return nil, err
		}
	}
}

// Close releases the marker if this File owns it, then closes the underlying
// file. Calling Close more than once is safe.
func (g *File) Close() error {
	if g.f == nil {
		return nil
	}

	var errs []error
	if g.held != nil {
		errs = append(errs, g.Unlock())
	}
	errs = append(errs, g.f.Close())

	g.f = nil
	g.marker = nil
	g.released = false
	return errors.Join(errs...)
}

// Do locks the File, waiting for as long as it takes, and calls fn with the
// underlying file. The File is closed when Do returns, whether fn returned
// an error, panicked, or the lock could not be acquired.
func (g *File) Do(ctx context.Context, fn func(f *os.File) error) (err error) {
	defer func() {
		err = errors.Join(err, g.Close())
	}()

	f, err := g.Lock(ctx, true)
	if err != nil {
		return err
	}
	return fn(f)
}

// With opens path as Open does and runs fn with the file exclusively held,
// as Do does.
func With(ctx context.Context, path string, flag int, perm os.FileMode, fn func(f *os.File) error, opts ...Option) error {
	g, err := Open(path, flag, perm, opts...)
	if err != nil {
		return err
	}
	return g.Do(ctx, fn)
}
