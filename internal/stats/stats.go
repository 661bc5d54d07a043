/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package stats records per-instance gauges that the daemon sets from its
// status-change callback and exposes them over a prometheus registry,
// generalizing ptp4u's
// atomic-counter JSONStats (ptp/ptp4u/stats/stats.go) from one daemon's
// single counter set to a named-instance registry, and replacing its
// http-scrape-then-reexport prometheus bridge (ptp/sptp/stats's
// PrometheusExporter) with direct in-process gauge updates.
package stats

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Registry collects per-instance gauges, thread-safe for concurrent
// updates from multiple sync module threads.
type Registry struct {
	reg *prometheus.Registry

	mu     sync.Mutex
	gauges map[string]*prometheus.GaugeVec
}

// NewRegistry creates an empty stats Registry.
func NewRegistry() *Registry {
	return &Registry{
		reg:    prometheus.NewRegistry(),
		gauges: make(map[string]*prometheus.GaugeVec),
	}
}

// SetGauge records value for metric name, labeled by instance. Metrics
// are registered lazily on first use, matching the ptp4u JSON stats'
// "counters are whatever the protocol touched" philosophy.
func (r *Registry) SetGauge(name, instance string, value float64) {
	r.mu.Lock()
	gv, ok := r.gauges[name]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: name,
		}, []string{"instance"})
		if err := r.reg.Register(gv); err != nil {
			log.WithError(err).WithField("metric", name).Warn("stats: failed to register gauge")
			r.mu.Unlock()
			return
		}
		r.gauges[name] = gv
	}
	r.mu.Unlock()
	gv.WithLabelValues(instance).Set(value)
}

// Handler returns the http.Handler serving /metrics for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve starts an http server exposing Handler on port; it blocks, so
// callers run it in its own goroutine the way ptp4u's PrometheusExporter
// does.
func (r *Registry) Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	addr := fmt.Sprintf(":%d", port)
	log.Infof("stats: serving prometheus metrics on %s", addr)
	return http.ListenAndServe(addr, mux)
}
