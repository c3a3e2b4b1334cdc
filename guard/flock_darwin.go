// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

//go:build darwin

package guard

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by TryLock and TryRLock when the lock is held
// elsewhere. It also matches unix.EWOULDBLOCK.
var ErrWouldBlock error = &likeError{Err: errWouldBlock, Like: unix.EWOULDBLOCK}

// Darwin doesn't seem to provide a way to interrupt a lock properly; even if
// were to send a Mach exception to the current Mach thread, this ends up not
// playing well with the Go runtime, which isn't expecting this.
const interruptibleLocks = false

const (
	lockPollInterval    = time.Millisecond
	lockMaxPollInterval = 50 * time.Millisecond
)

func lock(ctx context.Context, f OSFile, flags lockFlag) error {
	var sysFlags int
	if (flags & lockExcl) != 0 {
		sysFlags |= unix.LOCK_EX
	} else {
		sysFlags |= unix.LOCK_SH
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	switch {
	case (flags & lockBlock) == 0:
		return flock(f, sysFlags|unix.LOCK_NB)
	case ctx.Done() == nil:
		// Nothing can cancel the call, so it may as well block.
		return flock(f, sysFlags)
	}

	// A blocked flock(2) would outlive ctx; poll instead.
	interval := lockPollInterval
	for {
		err := flock(f, sysFlags|unix.LOCK_NB)
		if !errors.Is(err, ErrWouldBlock) {
			return err
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		interval = min(2*interval, lockMaxPollInterval)
	}
}

func flock(f OSFile, sysFlags int) error {
	for {
		err := unix.Flock(int(f.Fd()), sysFlags)
		switch {
		case err == nil:
			return nil
		case err == unix.EINTR:
			continue
		case err == unix.EWOULDBLOCK:
			return wrapSyscallError("flock", ErrWouldBlock)
		case err == unix.ENOLCK, err == unix.ENOTSUP, err == unix.EOPNOTSUPP:
			return wrapSyscallError("flock", &likeError{Err: errors.ErrUnsupported, Like: err})
		default:
			return wrapSyscallError("flock", err)
		}
	}
}

func unlock(f OSFile) error {
	return wrapSyscallError("flock", unix.Flock(int(f.Fd()), unix.LOCK_UN))
}
