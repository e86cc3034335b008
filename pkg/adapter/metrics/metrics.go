// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package metrics collects prometheus metrics from the events of the
// migration use case. A migration is a short-lived command, so the
// metrics are kept in a private registry and may be written into a
// text file for the node exporter textfile collector instead of being
// scraped.
package metrics

import (
	"fmt"

	"github.com/momeni/storemig/pkg/core/usecase/migrationuc"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements the migrationuc.Observer interface and keeps
// the observed operations as prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	MigrationsApplied *prometheus.CounterVec
	LastVersion       *prometheus.GaugeVec
}

// New creates a Collector with its own registry. All metric names are
// prefixed by the ns namespace.
func New(ns string) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "operations_total",
			Help:      "Total number of backend operations",
		}, []string{"backend", "action", "status"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "operation_duration_seconds",
			Help:      "Duration of backend operations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "action"}),
		MigrationsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "migrations_applied_total",
			Help:      "Total number of migrations in committed version-scopes",
		}, []string{"backend"}),
		LastVersion: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "version",
			Help:      "Last version which was read from or written to the version marker",
		}, []string{"backend"}),
	}
	reg.MustRegister(
		c.Operations, c.OperationDuration,
		c.MigrationsApplied, c.LastVersion,
	)
	return c
}

// Registry returns the private registry of c.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Observe implements migrationuc.Observer.
func (c *Collector) Observe(e migrationuc.Event) {
	status := "ok"
	if e.Err != nil {
		status = "error"
	}
	action := string(e.Action)
	c.Operations.WithLabelValues(e.Backend, action, status).Inc()
	c.OperationDuration.WithLabelValues(e.Backend, action).Observe(
		e.Duration.Seconds(),
	)
	if e.Action == migrationuc.ActionCommit && e.Err == nil {
		c.MigrationsApplied.WithLabelValues(e.Backend).Add(float64(e.Applied))
	}
}

// SetVersion records v as the last known version of the b backend.
func (c *Collector) SetVersion(b string, v int) {
	c.LastVersion.WithLabelValues(b).Set(float64(v))
}

// WriteToTextfile writes all metrics of c into the path file with the
// prometheus text format. The file is replaced atomically.
func (c *Collector) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("writing metrics to %q: %w", path, err)
	}
	return nil
}
