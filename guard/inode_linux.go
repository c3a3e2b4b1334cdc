// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

//go:build linux

package guard

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// deleted reports whether the path f was opened from no longer names the
// inode f refers to, either because it was removed or replaced.
func deleted(f *os.File) (bool, error) {
	var fstat, pathstat unix.Statx_t

	if err := unix.Statx(int(f.Fd()), "", unix.AT_EMPTY_PATH|unix.AT_SYMLINK_NOFOLLOW, unix.STATX_INO, &fstat); err != nil {
		return true, &os.PathError{Op: "statx", Path: "fd:" + f.Name(), Err: err}
	}
	err := unix.Statx(unix.AT_FDCWD, f.Name(), unix.AT_SYMLINK_NOFOLLOW, unix.STATX_INO, &pathstat)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return true, nil
	case err != nil:
		return true, &os.PathError{Op: "statx", Path: f.Name(), Err: err}
	}
	return fstat.Ino != pathstat.Ino, nil
}
