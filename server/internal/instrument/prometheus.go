// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !noprometheus
// +build !noprometheus

// Package instrument exposes the swenc server prometheus metrics.
package instrument

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swenc_requests_total",
			Help: "Number of requests by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)
	framesSealed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swenc_frames_sealed_total",
			Help: "Number of response frames sealed",
		},
	)
	bytesSealed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swenc_bytes_sealed_total",
			Help: "Number of plaintext response bytes sealed",
		},
	)
	replays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swenc_replayed_requests_total",
			Help: "Number of requests refused as replays",
		},
	)
	upstreamFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swenc_upstream_failures_total",
			Help: "Number of failed upstream exchanges",
		},
	)
	registeredKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swenc_registered_keys",
			Help: "Number of keys in the key registry",
		},
	)
)

func init() {
	prometheus.MustRegister(requests)
	prometheus.MustRegister(framesSealed)
	prometheus.MustRegister(bytesSealed)
	prometheus.MustRegister(replays)
	prometheus.MustRegister(upstreamFailures)
	prometheus.MustRegister(registeredKeys)
}

// StartPrometheusListener serves the registered metrics on address.  The
// caller shuts the returned server down.
func StartPrometheusListener(address string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go srv.ListenAndServe()
	return srv
}

// Request increments the request counter for an endpoint and result.
func Request(endpoint, result string) {
	requests.WithLabelValues(endpoint, result).Inc()
}

// FrameSealed records one sealed response frame of n plaintext bytes.
func FrameSealed(n int) {
	framesSealed.Inc()
	bytesSealed.Add(float64(n))
}

// Replay increments the counter of refused replays.
func Replay() {
	replays.Inc()
}

// UpstreamFailure increments the counter of failed upstream exchanges.
func UpstreamFailure() {
	upstreamFailures.Inc()
}

// RegisteredKeys sets the key registry size.
func RegisteredKeys(n int) {
	registeredKeys.Set(float64(n))
}
