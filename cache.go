// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

package varstore

import (
	"bytes"
	"maps"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"
)

// docCache maps the raw bytes of a document to its decoded form. Entries are
// keyed by content hash and carry the raw bytes, so a hash collision is a
// miss rather than a wrong document.
type docCache struct {
	c *ristretto.Cache
}

type cacheEntry struct {
	raw []byte
	doc Document
}

func newDocCache(maxCost int64) (*docCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &docCache{c: c}, nil
}

// get returns a private copy of the document decoded from raw.
func (dc *docCache) get(raw []byte) (Document, bool) {
	if dc == nil {
		return nil, false
	}
	v, ok := dc.c.Get(xxhash.Sum64(raw))
	if !ok {
		return nil, false
	}
	entry, ok := v.(*cacheEntry)
	if !ok || !bytes.Equal(entry.raw, raw) {
		return nil, false
	}
	CacheHitCounter.Inc()
	return maps.Clone(entry.doc), true
}

func (dc *docCache) set(raw []byte, doc Document) {
	if dc == nil {
		return
	}
	entry := &cacheEntry{
		raw: bytes.Clone(raw),
		doc: maps.Clone(doc),
	}
	dc.c.Set(xxhash.Sum64(raw), entry, int64(2*len(raw)))
}

func (dc *docCache) close() {
	if dc != nil {
		dc.c.Close()
	}
}
