// Copyright 2023 Arista Networks, Inc. All rights reserved.
//
// Use of this source code is governed by the MIT license that can be found
// in the LICENSE file.
//

package varstore

import (
	"github.com/prometheus/client_golang/prometheus"

	"barney.ci/go-varstore/guard"
)

var (
	// OpCounter tracks store operations by kind.
	OpCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "varstore_operations_total",
		Help: "Total number of store operations",
	}, []string{"op"})
	// ErrorCounter tracks failed store operations by kind.
	ErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "varstore_operation_errors_total",
		Help: "Total number of failed store operations",
	}, []string{"op"})
	// MissingCounter tracks operations naming a variable that does not exist.
	MissingCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "varstore_missing_variables_total",
		Help: "Total number of operations on missing variables",
	})
	// CacheHitCounter tracks documents served from the decode cache.
	CacheHitCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "varstore_decode_cache_hits_total",
		Help: "Total number of documents served from the decode cache",
	})
)

// RegisterMetrics registers the store and guard metrics on the provided
// registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(OpCounter, ErrorCounter, MissingCounter, CacheHitCounter)
	guard.RegisterMetrics(reg)
}
