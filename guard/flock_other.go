// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

//go:build !linux && !darwin && !windows

package guard

import (
	"context"
	"errors"
)

var ErrWouldBlock = errWouldBlock

// lock never blocks here.
const interruptibleLocks = true

// Kernel locks are not wired on this platform; markers are still exclusive,
// but waiters fall back to polling and stale markers cannot be detected.

func lock(ctx context.Context, f OSFile, flags lockFlag) error {
	return wrapSyscallError("flock", errors.ErrUnsupported)
}

func unlock(f OSFile) error {
	return wrapSyscallError("flock", errors.ErrUnsupported)
}
