// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

package varstore

import (
	"io"
	"log/slog"
	"os"

	"barney.ci/go-varstore/guard"
)

// An Option configures a Store.
type Option func(*Store)

// WithRegistry sets the registry used to tag and reconstruct structured
// values. Without one, every value is stored untagged.
func WithRegistry(r *Registry) Option {
	return func(s *Store) {
		s.registry = r
	}
}

// WithLogger sets the logger used for missing variable warnings. It is also
// handed to the guard unless WithGuardOptions overrides it.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithPerm sets the permissions the document is created with.
func WithPerm(perm os.FileMode) Option {
	return func(s *Store) {
		s.perm = perm
	}
}

// WithIndent makes the document human-readable, indenting nested values
// with indent.
func WithIndent(indent string) Option {
	return func(s *Store) {
		s.indent = indent
	}
}

// WithGuardOptions passes options to every guard.File the store opens.
func WithGuardOptions(opts ...guard.Option) Option {
	return func(s *Store) {
		s.guardOpts = append(s.guardOpts, opts...)
	}
}

// WithDecodeCache keeps up to maxCost bytes worth of decoded documents in
// memory, so that reading an unchanged document skips decoding it.
func WithDecodeCache(maxCost int64) Option {
	return func(s *Store) {
		s.cacheCost = maxCost
	}
}

// withCloser registers a resource to release when the store is closed.
func withCloser(c io.Closer) Option {
	return func(s *Store) {
		s.closers = append(s.closers, c)
	}
}
