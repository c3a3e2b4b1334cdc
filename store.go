// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

package varstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"reflect"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"barney.ci/go-varstore/guard"
)

var tracer = otel.Tracer("barney.ci/go-varstore")

// Document is the decoded form of the store's file: variable names mapped
// to their JSON-encoded values.
type Document map[string]json.RawMessage

// A Store holds named variables in a JSON document on disk.
//
// A Store is safe for concurrent use, and any number of Stores, in this
// process or others, may share the same document.
type Store struct {
	path      string
	perm      os.FileMode
	indent    string
	registry  *Registry
	logger    *slog.Logger
	guardOpts []guard.Option
	cacheCost int64

	cache   *docCache
	closers []io.Closer
}

// Open returns a store backed by the document at path. The document and its
// parent directories are created if needed.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	st := &Store{
		path: abs,
		perm: 0666,
	}
	for _, opt := range opts {
		opt(st)
	}
	if st.logger == nil {
		st.logger = slog.Default()
	}
	st.guardOpts = append([]guard.Option{guard.WithLogger(st.logger)}, st.guardOpts...)

	if st.cacheCost > 0 {
		if st.cache, err = newDocCache(st.cacheCost); err != nil {
			st.Close()
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0777); err != nil {
		st.Close()
		return nil, err
	}

	err = st.guarded(ctx, "init", os.O_RDWR|os.O_CREATE, func(f *os.File) error {
		fi, err := f.Stat()
		if err != nil || fi.Size() > 0 {
			return err
		}
		return st.write(f, Document{})
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// Path returns the absolute path of the document.
func (st *Store) Path() string {
	return st.path
}

// Close releases the resources held by the store. The document itself is
// left untouched.
func (st *Store) Close() error {
	st.cache.close()
	st.cache = nil

	var errs []error
	for _, c := range st.closers {
		errs = append(errs, c.Close())
	}
	st.closers = nil
	return errors.Join(errs...)
}

// Get returns the value of the named variable, decoded into the generic
// form encoding/json produces. Tagged values are returned as stored,
// envelope included; use GetAs to reconstruct them.
//
// If the variable does not exist, Get logs a warning and returns false.
func (st *Store) Get(ctx context.Context, name string) (any, bool, error) {
	var v any
	ok, err := st.GetAs(ctx, name, &v)
	if err != nil || !ok {
		return nil, ok, err
	}
	return v, true, nil
}

// GetAs decodes the named variable into target, which must be a non-nil
// pointer.
//
// A value stored tagged with a registered type name is unwrapped when target
// points to that same type. Targets of types that are not registered, such as
// *any or *map[string]any, receive the value as stored, envelope included.
// A target of another registered type cannot hold the value, and GetAs
// returns an error matching ErrTypeMismatch.
//
// If the variable does not exist, GetAs logs a warning and returns false.
func (st *Store) GetAs(ctx context.Context, name string, target any) (bool, error) {
	if rv := reflect.ValueOf(target); rv.Kind() != reflect.Pointer || rv.IsNil() {
		return false, fmt.Errorf("varstore: GetAs target must be a non-nil pointer, got %T", target)
	}

	var raw json.RawMessage
	err := st.view(ctx, "get", func(doc Document) error {
		raw = doc[name]
		return nil
	})
	if err != nil {
		return false, err
	}
	if raw == nil {
		st.missing("get", name)
		return false, nil
	}

	if env, ok := st.registry.unwrap(raw); ok {
		want, registered := st.registry.NameOf(target)
		switch {
		case want == env.Type:
			raw = env.Value
		case registered:
			return false, fmt.Errorf("varstore: variable %q is a %q, not %T: %w", name, env.Type, target, ErrTypeMismatch)
		}
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false, fmt.Errorf("varstore: decode variable %q: %w", name, err)
	}
	return true, nil
}

// Lookup returns the named variable decoded as a T, as GetAs does.
func Lookup[T any](ctx context.Context, st *Store, name string) (T, bool, error) {
	var v T
	ok, err := st.GetAs(ctx, name, &v)
	return v, ok, err
}

// Update sets the named variable to value, creating it if needed. Values of
// registered types are stored tagged with their type name.
func (st *Store) Update(ctx context.Context, name string, value any) error {
	raw, err := st.registry.encode(value)
	if err != nil {
		return fmt.Errorf("varstore: encode variable %q: %w", name, err)
	}
	return st.modify(ctx, "update", func(doc Document) (bool, error) {
		doc[name] = raw
		return true, nil
	})
}

// Delete removes the named variable. If it does not exist, Delete logs a
// warning and leaves the document untouched.
func (st *Store) Delete(ctx context.Context, name string) error {
	return st.modify(ctx, "delete", func(doc Document) (bool, error) {
		if _, ok := doc[name]; !ok {
			st.missing("delete", name)
			return false, nil
		}
		delete(doc, name)
		return true, nil
	})
}

// Rename moves the value of oldName to newName, overwriting newName if it
// exists. If oldName does not exist, Rename logs a warning and leaves the
// document untouched. Renaming a variable to its own name is a no-op.
func (st *Store) Rename(ctx context.Context, oldName, newName string) error {
	return st.modify(ctx, "rename", func(doc Document) (bool, error) {
		value, ok := doc[oldName]
		if !ok {
			st.missing("rename", oldName)
			return false, nil
		}
		if oldName == newName {
			return false, nil
		}
		doc[newName] = value
		delete(doc, oldName)
		return true, nil
	})
}

// Content returns the raw text of the document.
func (st *Store) Content(ctx context.Context) (string, error) {
	var content []byte
	err := st.guarded(ctx, "content", os.O_RDONLY, func(f *os.File) (err error) {
		content, err = io.ReadAll(f)
		return err
	})
	return string(content), err
}

// Clear removes every variable, leaving an empty document.
func (st *Store) Clear(ctx context.Context) error {
	return st.guarded(ctx, "clear", os.O_RDWR|os.O_CREATE, func(f *os.File) error {
		return st.write(f, Document{})
	})
}

// Snapshot returns a copy of the whole document.
func (st *Store) Snapshot(ctx context.Context) (Document, error) {
	var snapshot Document
	err := st.view(ctx, "snapshot", func(doc Document) error {
		snapshot = maps.Clone(doc)
		return nil
	})
	return snapshot, err
}

// Replace overwrites the whole document with vars. Values are encoded as
// Update encodes them.
func (st *Store) Replace(ctx context.Context, vars map[string]any) error {
	doc := make(Document, len(vars))
	for name, value := range vars {
		raw, err := st.registry.encode(value)
		if err != nil {
			return fmt.Errorf("varstore: encode variable %q: %w", name, err)
		}
		doc[name] = raw
	}
	return st.guarded(ctx, "replace", os.O_RDWR|os.O_CREATE, func(f *os.File) error {
		return st.write(f, doc)
	})
}

// ModifyFunc is the signature of the callback called by Modify. It may
// change doc in place, and reports whether it did.
type ModifyFunc func(ctx context.Context, doc Document) (changed bool, err error)

// Modify calls fn with the current document, and writes the document back
// if fn reports a change, all without releasing the document in between.
// Use it for updates that depend on the current value, which Get followed
// by Update cannot do atomically.
func (st *Store) Modify(ctx context.Context, fn ModifyFunc) error {
	return st.modify(ctx, "modify", func(doc Document) (bool, error) {
		return fn(ctx, doc)
	})
}

func (st *Store) missing(op, name string) {
	MissingCounter.Inc()
	st.logger.Warn("varstore: no such variable", "op", op, "name", name, "path", st.path)
}

// guarded runs fn with the document exclusively held. The guard is released
// on every path out of fn.
func (st *Store) guarded(ctx context.Context, op string, flag int, fn func(f *os.File) error) error {
	ctx, span := tracer.Start(ctx, "varstore."+op, trace.WithAttributes(
		attribute.String("varstore.path", st.path),
	))
	defer span.End()

	OpCounter.WithLabelValues(op).Inc()
	err := guard.With(ctx, st.path, flag, st.perm, fn, st.guardOpts...)
	if err != nil {
		ErrorCounter.WithLabelValues(op).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// view runs fn with the decoded document, without writing it back.
func (st *Store) view(ctx context.Context, op string, fn func(doc Document) error) error {
	return st.guarded(ctx, op, os.O_RDONLY, func(f *os.File) error {
		doc, err := st.read(f)
		if err != nil {
			return err
		}
		return fn(doc)
	})
}

// modify runs fn with the decoded document, and writes the document back if
// fn reports that it changed it.
func (st *Store) modify(ctx context.Context, op string, fn func(doc Document) (bool, error)) error {
	return st.guarded(ctx, op, os.O_RDWR|os.O_CREATE, func(f *os.File) error {
		doc, err := st.read(f)
		if err != nil {
			return err
		}
		changed, err := fn(doc)
		if err != nil || !changed {
			return err
		}
		return st.write(f, doc)
	})
}

func (st *Store) read(f *os.File) (Document, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{}, nil
	}
	if doc, ok := st.cache.get(data); ok {
		return doc, nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &os.PathError{Op: "decode", Path: f.Name(), Err: err}
	}
	if doc == nil {
		doc = Document{}
	}
	st.cache.set(data, doc)
	return doc, nil
}

// write replaces the content of f with doc.
func (st *Store) write(f *os.File, doc Document) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if st.indent != "" {
		enc.SetIndent("", st.indent)
	}
	if err := enc.Encode(doc); err != nil {
		return err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	st.cache.set(buf.Bytes(), doc)
	return nil
}
