// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

package guard

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerInfo is the metadata an owner writes into its marker. It is purely
// informational: the marker's existence is the lock, and markers written by
// other tools may carry no metadata at all.
type MarkerInfo struct {
	Holder   string    `json:"holder"`
	PID      int       `json:"pid"`
	Hostname string    `json:"hostname,omitempty"`
	Acquired time.Time `json:"acquired"`
}

// A Marker is the lock file guarding one resource. It lives in the same
// directory as the resource and is named after the resource's Identity.
type Marker struct {
	id   Identity
	path string
}

// MarkerFor returns the marker guarding the resource at path.
func MarkerFor(path string) (*Marker, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return markerForAbs(abs), nil
}

func markerForAbs(abs string) *Marker {
	id := identityOfAbs(abs)
	return &Marker{
		id:   id,
		path: filepath.Join(filepath.Dir(abs), id.MarkerName()),
	}
}

// Identity returns the identity of the guarded resource.
func (m *Marker) Identity() Identity {
	return m.id
}

// Path returns the path of the marker file.
func (m *Marker) Path() string {
	return m.path
}

// Exists reports whether the marker is present, i.e. whether the resource
// is held by anyone.
func (m *Marker) Exists() (bool, error) {
	_, err := os.Lstat(m.path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Info reads the metadata of the current holder.
func (m *Marker) Info() (*MarkerInfo, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	var info MarkerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, &os.PathError{Op: "decode marker", Path: m.path, Err: err}
	}
	return &info, nil
}

// create atomically creates the marker. On success, the returned file is the
// open marker, with an exclusive kernel lock held on it; the lock lives as
// long as the file stays open.
//
// If the marker already exists, create returns an error wrapping
// ErrWouldBlock.
func (m *Marker) create(info *MarkerInfo) (*os.File, error) {
	// The marker is prepared and locked under a private name first, then
	// linked into place. link(2) fails if the target exists, and waiters
	// never observe a marker whose owner does not hold its lock yet.
	tmp := fmt.Sprintf("%s.%s.tmp", m.path, info.Holder)

	f, err := openShared(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp)

	if err := prepare(f, info); err != nil {
		f.Close()
		return nil, err
	}

	err = os.Link(tmp, m.path)
	switch {
	case err == nil:
		return f, nil
	case errors.Is(err, os.ErrExist):
		f.Close()
		return nil, wrapPathError("create marker", m.path, ErrWouldBlock)
	case errors.Is(err, errors.ErrUnsupported), errors.Is(err, os.ErrPermission):
		// Hard links are not available on this filesystem.
		f.Close()
		return m.createExclusive(info)
	default:
		f.Close()
		return nil, err
	}
}

// createExclusive creates the marker in place with O_EXCL. Exclusivity still
// holds, but the marker is briefly visible before its owner locks it.
func (m *Marker) createExclusive(info *MarkerInfo) (*os.File, error) {
	f, err := openShared(m.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) {
		return nil, wrapPathError("create marker", m.path, ErrWouldBlock)
	}
	if err != nil {
		return nil, err
	}
	if err := claim(f, info); err != nil {
		f.Close()
		os.Remove(m.path)
		return nil, err
	}
	return f, nil
}

const (
	claimAttempts = 100
	claimInterval = time.Millisecond
)

// claim prepares a marker that waiters may already see. Those waiters hold a
// shared lock on it for as long as it takes them to find it still in place,
// so the owner's exclusive lock is retried for a while before giving up.
func claim(f *os.File, info *MarkerInfo) error {
	err := prepare(f, info)
	for attempt := 1; attempt < claimAttempts && errors.Is(err, ErrWouldBlock); attempt++ {
		time.Sleep(claimInterval)
		err = prepare(f, info)
	}
	return err
}

func prepare(f *os.File, info *MarkerInfo) error {
	if err := TryLock(f); err != nil && !errors.Is(err, errors.ErrUnsupported) {
		return err
	}
	return json.NewEncoder(f).Encode(info)
}

// remove deletes the marker owned through f, then closes f. The path goes
// first so that waiters woken by the lock release find the marker gone.
//
// remove returns an error matching os.ErrNotExist if the marker was already
// gone.
func (m *Marker) remove(f *os.File) error {
	err := os.Remove(m.path)
	return errors.Join(err, f.Close())
}

// reclaim removes the marker if no live owner holds its kernel lock, which
// happens when the owner crashed without releasing it, or when the marker
// was created by a tool that does not lock it. It reports whether the marker
// was removed.
func (m *Marker) reclaim() (bool, error) {
	f, err := openShared(m.path, os.O_RDONLY, 0)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	if err := TryLock(f); err != nil {
		if errors.Is(err, ErrWouldBlock) || errors.Is(err, errors.ErrUnsupported) {
			return false, nil
		}
		return false, err
	}

	// The path may have been released and recreated since we opened it; in
	// that case our lock is on an orphaned inode and the new marker is live.
	gone, err := deleted(f)
	if err != nil || gone {
		return false, err
	}
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	return true, nil
}
