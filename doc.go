// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

// The varstore package provides durable named variables stored in a single
// JSON document, safe to use from concurrent goroutines and processes.
//
// Every operation, reads included, runs as one critical section under a
// guard.File: the document is locked, read in full, modified in memory,
// written back in full, and unlocked, even if the operation fails halfway.
//
// Basic usage is:
//
//	st, err := varstore.Open(ctx, "/path/to/vars.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
//
//	if err := st.Update(ctx, "answer", 42); err != nil {
//	    log.Fatal(err)
//	}
//	answer, ok, err := varstore.Lookup[int](ctx, st, "answer")
//
// Structured values can be stored tagged with their type name by registering
// the type in a Registry; GetAs and Lookup then only decode a tagged value
// into the type it was stored as.
package varstore
