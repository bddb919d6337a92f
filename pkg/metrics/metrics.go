// Package metrics provides the centralized Prometheus registry reference
// for the extractor. All metrics are defined in their respective packages
// (client, engine) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registerer used by the extractor.
// All metrics are automatically registered via promauto in their
// respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - easyecom_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - easyecom_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - easyecom_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - easyecom_retries_total{error_class} (Counter): Retry attempts by error class
//   - easyecom_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - easyecom_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Extraction Metrics (pkg/engine):
//   - easyecom_records_emitted_total{stream} (Counter): Records emitted by stream
//   - easyecom_pages_fetched_total{stream} (Counter): Pages fetched by stream
//   - easyecom_checkpoints_total{stream} (Counter): Checkpoints committed by stream
//   - easyecom_stream_failures_total{stream} (Counter): Terminal stream failures
//
// Example Prometheus Queries:
//
//   # Record throughput
//   rate(easyecom_records_emitted_total[5m])
//
//   # Retry pressure by error class
//   rate(easyecom_retries_total[5m])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(easyecom_request_duration_seconds_bucket[5m]))
//
//   # Streams failing terminally
//   increase(easyecom_stream_failures_total[1h]) > 0
