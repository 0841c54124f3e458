// Copyright The TrustTunnel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package monitor exposes the gateway's Prometheus metrics over an HTTP
// /metrics endpoint, separate from the SSH listener.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SessionsStarted counts sessions that reached RUNNING.
	SessionsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boxsh_sessions_started_total",
		Help: "The count of sessions that reached RUNNING",
	}, []string{})

	// SessionsEnded counts sessions that reached GONE, by outcome.
	SessionsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boxsh_sessions_ended_total",
		Help: "The count of sessions that reached GONE, labeled by outcome",
	}, []string{"outcome"})

	// AuthFailures counts rejected password attempts.
	AuthFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boxsh_auth_failures_total",
		Help: "The count of rejected password attempts",
	}, []string{})

	// ProvisionFailures counts container/exec provisioning failures.
	ProvisionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boxsh_provision_failures_total",
		Help: "The count of container provisioning or exec-open failures",
	}, []string{})

	// TeardownPartial counts teardowns where kill or remove failed.
	TeardownPartial = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boxsh_teardown_partial_total",
		Help: "The count of teardowns where kill or remove failed",
	}, []string{})

	// ResizeFailures counts failed terminal-resize calls.
	ResizeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boxsh_resize_failures_total",
		Help: "The count of failed terminal-resize calls",
	}, []string{})

	// PumpErrors counts unrecoverable pump I/O errors.
	PumpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boxsh_pump_errors_total",
		Help: "The count of unrecoverable pump read/write errors",
	}, []string{})

	// ActiveContainers gauges containers currently owned by a live
	// session (ATTACHING, RUNNING, or TEARDOWN).
	ActiveContainers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "boxsh_active_containers",
		Help: "The count of containers currently owned by a live session",
	})

	// HTTPRequestRT is the /metrics endpoint's own request latency, kept
	// for symmetry with the teacher's instrumentation pattern.
	HTTPRequestRT = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "boxsh_http_request_rt_ms",
		Help:    "The latency of requests served by the gateway's metrics HTTP endpoint",
		Buckets: []float64{1, 5, 10, 50, 100, 500},
	}, []string{"path", "method"})

	// HTTPRequests counts requests served by the metrics HTTP endpoint.
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boxsh_http_requests_total",
		Help: "The count of requests served by the gateway's metrics HTTP endpoint",
	}, []string{"path", "method", "code"})
)

func init() {
	prometheus.MustRegister(
		SessionsStarted,
		SessionsEnded,
		AuthFailures,
		ProvisionFailures,
		TeardownPartial,
		ResizeFailures,
		PumpErrors,
		ActiveContainers,
		HTTPRequestRT,
		HTTPRequests,
	)
}
