// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

package guard

import (
	"errors"
	"os"
)

var (
	// ErrIsDirectory is returned by Open when the path names a directory.
	ErrIsDirectory = errors.New("guarded path is a directory")

	// ErrOwnership is returned by Unlock when the marker is held by someone
	// other than the handle trying to release it.
	ErrOwnership = errors.New("lock is not held by this handle")

	errWouldBlock = errors.New("acquiring the lock would block")
)

// likeError is an error that matches both its own sentinel and a
// platform-specific error it stands for, e.g. ErrWouldBlock and EWOULDBLOCK.
type likeError struct {
	Err, Like error
}

func (e *likeError) Error() string {
	return e.Err.Error()
}

func (e *likeError) Unwrap() []error {
	return []error{e.Err, e.Like}
}

func wrapSyscallError(op string, err error) error {
	if err != nil {
		return &os.SyscallError{Syscall: op, Err: err}
	}
	return nil
}

func wrapPathError(op, path string, err error) error {
	if err != nil {
		return &os.PathError{Op: op, Path: path, Err: err}
	}
	return nil
}
