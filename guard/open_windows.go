// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

//go:build windows

package guard

import (
	"os"

	"golang.org/x/sys/windows"
)

// openShared opens path so that it may be removed or linked while open.
//
// os.OpenFile is insufficient because Go opens files with
// FILE_SHARE_READ|FILE_SHARE_WRITE but not FILE_SHARE_DELETE, which would
// prevent an owner from removing its marker while holding it.
func openShared(path string, flag int, _ os.FileMode) (*os.File, error) {
	u16path, err := windows.UTF16FromString(path)
	if err != nil {
		return nil, &os.PathError{Op: "UTF16FromString", Path: path, Err: err}
	}

	var (
		mode       uint32
		createmode uint32
	)
	switch flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_RDWR:
		mode = windows.GENERIC_READ | windows.GENERIC_WRITE
	case os.O_RDONLY:
		mode = windows.GENERIC_READ
	case os.O_WRONLY:
		mode = windows.GENERIC_WRITE
	}
	mode |= windows.DELETE
	switch {
	case flag&(os.O_CREATE|os.O_EXCL) == (os.O_CREATE | os.O_EXCL):
		createmode = windows.CREATE_NEW
	case flag&(os.O_CREATE|os.O_TRUNC) == (os.O_CREATE | os.O_TRUNC):
		createmode = windows.CREATE_ALWAYS
	case flag&os.O_CREATE == os.O_CREATE:
		createmode = windows.OPEN_ALWAYS
	case flag&os.O_TRUNC == os.O_TRUNC:
		createmode = windows.TRUNCATE_EXISTING
	default:
		createmode = windows.OPEN_EXISTING
	}

	handle, err := windows.CreateFile(&u16path[0],
		mode,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		createmode,
		windows.FILE_ATTRIBUTE_NORMAL,
		windows.Handle(0),
	)
	if err != nil {
		if err == windows.ERROR_FILE_EXISTS {
			err = os.ErrExist
		} else if err == windows.ERROR_FILE_NOT_FOUND {
			err = os.ErrNotExist
		}
		return nil, &os.PathError{Op: "CreateFile", Path: path, Err: err}
	}

	return os.NewFile(uintptr(handle), path), nil
}
