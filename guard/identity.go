// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

package guard

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
)

const (
	markerPrefix = "."
	markerSuffix = ".lock"
)

// Identity names a guarded resource independently of the handle, goroutine
// or process that computed it: it is the hex MD5 digest of the resource's
// absolute path.
type Identity string

// IdentityOf returns the identity of the resource at path. Relative paths
// are resolved against the working directory first.
func IdentityOf(path string) (Identity, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return identityOfAbs(abs), nil
}

func identityOfAbs(abs string) Identity {
	sum := md5.Sum([]byte(abs))
	return Identity(hex.EncodeToString(sum[:]))
}

// MarkerName returns the base name of the marker file guarding the resource.
func (id Identity) MarkerName() string {
	return markerPrefix + string(id) + markerSuffix
}
