// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

package guard

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

// Handles living in the same process first queue on an in-memory gate per
// identity, so that only one of them at a time contends on the filesystem.
// The marker remains the actual lock.
var gates = xsync.NewMapOf[Identity, chan struct{}]()

func gateFor(id Identity) chan struct{} {
	gate, _ := gates.LoadOrCompute(id, func() chan struct{} {
		return make(chan struct{}, 1)
	})
	return gate
}

// enterGate takes the gate for id. If wait is false and the gate is taken,
// it returns false immediately.
func enterGate(ctx context.Context, id Identity, wait bool) (bool, error) {
	gate := gateFor(id)
	if !wait {
		select {
		case gate <- struct{}{}:
			return true, nil
		default:
			return false, nil
		}
	}
	select {
	case gate <- struct{}{}:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func leaveGate(id Identity) {
	select {
	case <-gateFor(id):
	default:
		panic("guard: leaving a gate that was not entered")
	}
}
