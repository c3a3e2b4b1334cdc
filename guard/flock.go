// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

package guard

import (
	"context"
)

// OSFile is an interface representing a file from which a file handle
// may be obtained. *os.File implements it.
type OSFile interface {
	Name() string
	Fd() uintptr
}

type lockFlag int

const (
	lockExcl lockFlag = 1 << iota
	lockBlock
)

// Lock acquires (or promotes an already acquired lock to) an exclusive kernel
// lock on the specified file, blocking until it is granted or ctx is done.
//
// Lock is not re-entrant. Calling Lock on an exclusive lock is a no-op.
func Lock(ctx context.Context, f OSFile) error {
	return wrapPathError("exclusive lock", f.Name(), lock(ctx, f, lockExcl|lockBlock))
}

// RLock acquires (or demotes an already acquired lock to) a shared kernel
// lock on the specified file, blocking until it is granted or ctx is done.
//
// Marker waiters use RLock: any number of them may sleep on the same marker
// while its owner holds the exclusive lock.
func RLock(ctx context.Context, f OSFile) error {
	return wrapPathError("shared lock", f.Name(), lock(ctx, f, lockBlock))
}

// TryLock attempts to acquire (or promote an already acquired lock to) an
// exclusive kernel lock on the specified file.
//
// If the attempt would block, TryLock returns an error wrapping ErrWouldBlock.
func TryLock(f OSFile) error {
	return wrapPathError("exclusive lock (non-blocking)", f.Name(), lock(context.Background(), f, lockExcl))
}

// TryRLock attempts to acquire (or demote an already acquired lock to) a
// shared kernel lock on the specified file.
//
// If the attempt would block, TryRLock returns an error wrapping ErrWouldBlock.
func TryRLock(f OSFile) error {
	return wrapPathError("shared lock (non-blocking)", f.Name(), lock(context.Background(), f, 0))
}

// Unlock releases the kernel lock on the specified file.
//
// Closing the file releases the lock as well, and is what marker owners do.
func Unlock(f OSFile) error {
	return wrapPathError("unlock", f.Name(), unlock(f))
}
