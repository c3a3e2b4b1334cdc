// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

package guard

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// WaitStrategy selects how a blocked Lock sleeps until the marker it waits
// on goes away.
type WaitStrategy int

const (
	// WaitKernel sleeps on the owner's kernel lock, and falls back to
	// WaitNotify for markers nobody holds a kernel lock on.
	WaitKernel WaitStrategy = iota
	// WaitNotify watches the marker's directory for removals, re-checking
	// with exponential backoff in case an event is missed.
	WaitNotify
	// WaitPoll checks for the marker with exponential backoff.
	WaitPoll
)

func (s WaitStrategy) String() string {
	switch s {
	case WaitKernel:
		return "kernel"
	case WaitNotify:
		return "notify"
	case WaitPoll:
		return "poll"
	default:
		return fmt.Sprintf("WaitStrategy(%d)", int(s))
	}
}

// ParseWaitStrategy parses the names returned by WaitStrategy.String.
func ParseWaitStrategy(s string) (WaitStrategy, error) {
	switch strings.ToLower(s) {
	case "kernel", "":
		return WaitKernel, nil
	case "notify":
		return WaitNotify, nil
	case "poll":
		return WaitPoll, nil
	default:
		return 0, fmt.Errorf("invalid wait strategy %q: must be one of kernel, notify, poll", s)
	}
}

const (
	DefaultPollInterval    = 2 * time.Millisecond
	DefaultMaxPollInterval = 100 * time.Millisecond
)

type options struct {
	wait            WaitStrategy
	pollInterval    time.Duration
	maxPollInterval time.Duration
	reclaimStale    bool
	logger          *slog.Logger
}

func defaultOptions() options {
	return options{
		wait:            WaitKernel,
		pollInterval:    DefaultPollInterval,
		maxPollInterval: DefaultMaxPollInterval,
	}
}

// An Option configures a File.
type Option func(*options)

// WithWaitStrategy selects how blocked Lock and File calls wait.
func WithWaitStrategy(s WaitStrategy) Option {
	return func(o *options) {
		o.wait = s
	}
}

// WithPollInterval bounds the backoff used when polling for a marker.
// Non-positive values keep the defaults.
func WithPollInterval(initial, maxInterval time.Duration) Option {
	return func(o *options) {
		if initial > 0 {
			o.pollInterval = initial
		}
		if maxInterval > 0 {
			o.maxPollInterval = maxInterval
		}
		if o.maxPollInterval < o.pollInterval {
			o.maxPollInterval = o.pollInterval
		}
	}
}

// WithReclaimStale lets Lock remove markers that no live process holds a
// kernel lock on, typically left behind by a crashed owner.
//
// It is off by default: a leftover marker then keeps the resource locked
// until it is removed by hand. Only enable it when every process touching
// the resource uses this package, since markers created by other tools are
// never kernel-locked and would be reclaimed from under their owner.
func WithReclaimStale(reclaim bool) Option {
	return func(o *options) {
		o.reclaimStale = reclaim
	}
}

// WithLogger sets the logger used for wait and reclaim events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
