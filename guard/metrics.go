// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

package guard

import "github.com/prometheus/client_golang/prometheus"

var (
	// AcquiredCounter tracks successful marker acquisitions.
	AcquiredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "guard_lock_acquired_total",
		Help: "Total number of guard locks acquired",
	})
	// ContendedCounter tracks acquisition attempts that found the resource held.
	ContendedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "guard_lock_contended_total",
		Help: "Total number of lock attempts that found the resource held",
	})
	// ReclaimedCounter tracks stale markers removed by waiters.
	ReclaimedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "guard_lock_reclaimed_total",
		Help: "Total number of stale lock markers reclaimed",
	})
	// WaitHistogram observes how long blocking Lock calls waited.
	WaitHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "guard_lock_wait_seconds",
		Help:    "Time spent waiting for a guarded resource",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
)

// RegisterMetrics registers the guard metrics on the provided registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AcquiredCounter, ContendedCounter, ReclaimedCounter, WaitHistogram)
}
