// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

// The guard package provides a cross-process mutual exclusion primitive for
// files that live on a shared filesystem.
//
// A resource is guarded by a marker file sitting next to it, named after a
// hash of the resource's absolute path (see Identity). The marker existing
// means the resource is held; its absence means the resource is free. Any
// process or goroutine that agrees on that convention is excluded, which is
// what makes the guard usable across unrelated processes.
//
// Markers are created atomically, so exactly one contender wins when a
// resource becomes free. The winner also holds a kernel advisory lock
// (flock(2) or LockFileEx) on the marker for as long as it owns it; waiters
// sleep on that lock instead of spinning, and the lock doubles as a liveness
// signal when stale marker reclamation is enabled.
//
// Basic usage is:
//
//	err := guard.With(ctx, "/path/to/state.json", os.O_RDWR|os.O_CREATE, 0666, func(f *os.File) error {
//	    // f is exclusively held until the function returns
//	    return nil
//	})
//
// The flock primitives used internally (Lock, RLock, TryLock, TryRLock and
// Unlock) are exported as well; they are interruptible through their context
// on platforms that allow it.
package guard
