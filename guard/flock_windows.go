// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

//go:build windows

package guard

import (
	"context"
	"runtime"
	"syscall"

	"golang.org/x/sys/windows"
)

var ErrWouldBlock = errWouldBlock

// A blocked LockFileEx is cancelled with CancelSynchronousIo once its context
// is done.
const interruptibleLocks = true

var procCancelSynchronousIo = windows.MustLoadDLL("kernel32.dll").MustFindProc("CancelSynchronousIo")

func cancelSynchronousIo(h windows.Handle) error {
	r1, _, e1 := syscall.SyscallN(procCancelSynchronousIo.Addr(), uintptr(h))
	if r1 == 0 {
		return wrapSyscallError("CancelSynchronousIo", e1)
	}
	return nil
}

func currentThread() (windows.Handle, error) {
	var thread windows.Handle
	err := windows.DuplicateHandle(
		windows.CurrentProcess(),
		windows.CurrentThread(),
		windows.CurrentProcess(),
		&thread,
		0, false, windows.DUPLICATE_SAME_ACCESS)
	if err != nil {
		return 0, wrapSyscallError("DuplicateHandle", err)
	}
	return thread, nil
}

func lock(ctx context.Context, f OSFile, flags lockFlag) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// A handle may hold both a shared and an exclusive lock on the same
	// range, and would then need to be unlocked twice. Since the lock state
	// cannot be queried, always start from an unlocked handle.
	//
	// NOTE: this means that on windows, TryLock releases a shared lock even
	// when it fails.
	_ = unlock(f)

	var sysFlags uint32
	if (flags & lockExcl) != 0 {
		sysFlags |= windows.LOCKFILE_EXCLUSIVE_LOCK
	}
	if (flags & lockBlock) == 0 {
		sysFlags |= windows.LOCKFILE_FAIL_IMMEDIATELY
	}

	if (flags & lockBlock) != 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		thread, err := currentThread()
		if err != nil {
			return err
		}
		defer windows.CloseHandle(thread)

		done := make(chan struct{})
		killdone := make(chan struct{})
		go func() {
			defer close(killdone)
			select {
			case <-done:
			case <-ctx.Done():
				_ = cancelSynchronousIo(thread)
			}
		}()
		defer func() {
			close(done)
			<-killdone
		}()
	}

	var overlapped windows.Overlapped
	err := windows.LockFileEx(windows.Handle(f.Fd()), sysFlags, 0, ^uint32(0), ^uint32(0), &overlapped)
	switch {
	case err == nil:
		return nil
	case err == windows.ERROR_OPERATION_ABORTED:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return wrapSyscallError("LockFileEx", err)
	case err == windows.ERROR_LOCK_VIOLATION && (flags&lockBlock) == 0:
		return wrapSyscallError("LockFileEx", ErrWouldBlock)
	default:
		return wrapSyscallError("LockFileEx", err)
	}
}

func unlock(f OSFile) error {
	var overlapped windows.Overlapped
	return wrapSyscallError("UnlockFileEx", windows.UnlockFileEx(windows.Handle(f.Fd()), 0, ^uint32(0), ^uint32(0), &overlapped))
}
