// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

//go:build linux

package guard

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by TryLock and TryRLock when the lock is held
// elsewhere. It also matches unix.EWOULDBLOCK.
var ErrWouldBlock error = &likeError{Err: errWouldBlock, Like: unix.EWOULDBLOCK}

// A blocked flock(2) is interrupted with signo once its context is done.
const interruptibleLocks = true

const (
	// Picked to match Go's goroutine preemption signal, for the same reasons:
	// it is passed through by debuggers, libc does not use it internally, it
	// may happen spuriously without consequences, and it exists on platforms
	// without real-time signals. See
	// https://cs.opensource.google/go/proposal/+/master:design/24543-non-cooperative-preemption.md
	signo = unix.SIGURG
)

func init() {
	// Go installs its signal handler with SA_RESTART, which means a blocked
	// flock(2) would never see EINTR; disable this for our signal, forever.
	//
	// Further readings:
	// * https://github.com/golang/go/issues/20400
	// * https://github.com/golang/go/issues/44761

	var act sigactiont
	if err := sigaction(signo, nil, &act); err != nil {
		panic(err)
	}
	act.Flags &= ^_SA_RESTART
	if err := sigaction(signo, &act, nil); err != nil {
		panic(err)
	}
}

// interruptOnDone arranges for the calling OS thread to receive signo once
// ctx is done, which makes a blocked system call on that thread fail with
// EINTR. The returned function must be called, on the same goroutine, once
// the blocking call returned.
func interruptOnDone(ctx context.Context) (stop func()) {
	// Closed once the blocking call returned.
	done := make(chan struct{})

	// Closed when the kill goroutine is done.
	killdone := make(chan struct{})

	// The goroutine must start before LockOSThread, otherwise it would run
	// on the locked thread and signal itself.
	killchan := make(chan func() error, 1)
	go func() {
		killfn := <-killchan
		defer close(killdone)

		select {
		case <-done:
		case <-ctx.Done():
			// The blocking call may have returned in the meantime; the thread
			// could then be running something else entirely.
			select {
			case <-done:
				return
			default:
			}
			if err := killfn(); err != nil {
				panic(fmt.Errorf("could not interrupt blocked flock call: tgkill: %w", err))
			}
		}
	}()

	// The thread executing the system call must be the one we signal.
	runtime.LockOSThread()

	pid := unix.Getpid()
	tid := gettid()
	killchan <- func() error { return tgkill(pid, tid, signo) }

	return func() {
		close(done)
		<-killdone
		runtime.UnlockOSThread()
	}
}

func lock(ctx context.Context, f OSFile, flags lockFlag) error {
	var sysFlags int
	if (flags & lockExcl) != 0 {
		sysFlags |= unix.LOCK_EX
	} else {
		sysFlags |= unix.LOCK_SH
	}
	if (flags & lockBlock) == 0 {
		sysFlags |= unix.LOCK_NB
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if (flags & lockBlock) != 0 {
		stop := interruptOnDone(ctx)

		// Deferred so that it runs during a panic as well.
		defer stop()
	}

	for {
		err := unix.Flock(int(f.Fd()), sysFlags)
		switch {
		case err == nil:
			return nil
		case err == unix.EWOULDBLOCK:
			return wrapSyscallError("flock", ErrWouldBlock)
		case err == unix.EINTR:
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				// Spurious wakeup, most likely a preemption signal. Retry.
			}
		case err == unix.ENOLCK:
			return wrapSyscallError("flock", &likeError{Err: errors.ErrUnsupported, Like: err})
		default:
			return wrapSyscallError("flock", err)
		}
	}
}

func unlock(f OSFile) error {
	return wrapSyscallError("flock", unix.Flock(int(f.Fd()), unix.LOCK_UN))
}
