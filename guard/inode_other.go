// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

//go:build !linux

package guard

import (
	"errors"
	"os"
)

// deleted reports whether the path f was opened from no longer names the
// file f refers to, either because it was removed or replaced.
func deleted(f *os.File) (bool, error) {
	fstat, err := f.Stat()
	if err != nil {
		return true, err
	}
	pathstat, err := os.Lstat(f.Name())
	switch {
	case errors.Is(err, os.ErrNotExist):
		return true, nil
	case err != nil:
		return true, err
	}
	return !os.SameFile(fstat, pathstat), nil
}
