// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

package varstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

const (
	tagField   = "@type"
	valueField = "@value"
)

var (
	// ErrDuplicateType is returned when registering a name or a type twice.
	ErrDuplicateType = errors.New("type already registered")

	// ErrTypeMismatch is returned by GetAs when the stored value is tagged
	// with a registered type and the target is of another registered type.
	ErrTypeMismatch = errors.New("stored value has a different type")
)

// envelope is the stored form of a value of a registered type:
//
//	{"@type": "point", "@value": {"X": 3, "Y": 4}}
type envelope struct {
	Type  string          `json:"@type"`
	Value json.RawMessage `json:"@value"`
}

// A Registry maps type names to Go types, so that values of registered types
// are stored tagged and can only be read back as the same type.
//
// A Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
}

// Register associates name with the type of sample. Pointers are
// dereferenced, so registering T or *T is the same.
func (r *Registry) Register(name string, sample any) error {
	if name == "" {
		return errors.New("varstore: empty type name")
	}
	t := baseType(reflect.TypeOf(sample))
	if t == nil {
		return errors.New("varstore: cannot register nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if other, ok := r.byName[name]; ok {
		return fmt.Errorf("varstore: name %q (%v): %w", name, other, ErrDuplicateType)
	}
	if other, ok := r.byType[t]; ok {
		return fmt.Errorf("varstore: type %v (%q): %w", t, other, ErrDuplicateType)
	}
	r.byName[name] = t
	r.byType[t] = name
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, sample any) {
	if err := r.Register(name, sample); err != nil {
		panic(err)
	}
}

// NameOf returns the name v's type was registered under.
func (r *Registry) NameOf(v any) (string, bool) {
	if r == nil {
		return "", false
	}
	t := baseType(reflect.TypeOf(v))
	if t == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byType[t]
	return name, ok
}

func (r *Registry) known(name string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

func baseType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// encode marshals v, wrapping it in an envelope if its type is registered.
func (r *Registry) encode(v any) (json.RawMessage, error) {
	data, err := marshal(v)
	if err != nil {
		return nil, err
	}
	name, ok := r.NameOf(v)
	if !ok {
		return data, nil
	}
	return marshal(envelope{Type: name, Value: data})
}

// marshal is json.Marshal without HTML escaping, so that stored strings read
// the same in the document as they do in Go.
func marshal(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// unwrap returns the envelope held in raw, if raw is exactly an envelope
// naming a registered type. Other objects, including ones that happen to
// carry a "@type" field, are left alone.
func (r *Registry) unwrap(raw json.RawMessage) (*envelope, bool) {
	if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || len(fields) != 2 {
		return nil, false
	}
	tag, ok := fields[tagField]
	if !ok {
		return nil, false
	}
	value, ok := fields[valueField]
	if !ok {
		return nil, false
	}
	var name string
	if err := json.Unmarshal(tag, &name); err != nil || !r.known(name) {
		return nil, false
	}
	return &envelope{Type: name, Value: value}, true
}
