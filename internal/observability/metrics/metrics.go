// Package metrics instruments the vault with Prometheus collectors: HTTP
// request totals and latency, upload pipeline outcomes, and storage-network
// call results. Each Recorder owns its registry so tests can build isolated
// instances.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder bundles the vault's collectors around a private registry.
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	uploadsTotal     *prometheus.CounterVec
	uploadBytesTotal prometheus.Counter
	uploadFiles      prometheus.Histogram
	storageNetCalls  *prometheus.CounterVec
}

// New constructs a Recorder with all collectors registered on a fresh
// registry, including the standard Go runtime and process collectors.
func New() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediavault_http_requests_total",
			Help: "HTTP requests processed, partitioned by method, path, and status.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mediavault_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediavault_uploads_total",
			Help: "Upload batches processed, partitioned by outcome.",
		}, []string{"outcome"}),
		uploadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediavault_upload_bytes_total",
			Help: "Bytes accepted by successful upload batches.",
		}),
		uploadFiles: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediavault_upload_batch_files",
			Help:    "Files per successful upload batch.",
			Buckets: []float64{1, 2, 3, 5, 8, 10},
		}),
		storageNetCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediavault_storage_network_calls_total",
			Help: "Storage network calls, partitioned by operation and result.",
		}, []string{"operation", "result"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.requestsTotal,
		r.requestDuration,
		r.uploadsTotal,
		r.uploadBytesTotal,
		r.uploadFiles,
		r.storageNetCalls,
	)
	return r
}

// Handler serves the Recorder's registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRequest accumulates count and latency for one completed request.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	method = strings.ToUpper(method)
	path = normalizePath(path)
	r.requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Upload batch outcomes.
const (
	UploadAccepted = "accepted"
	UploadRejected = "rejected"
	UploadUpstream = "upstream_failure"
)

// ObserveUpload records one finished upload batch.
func (r *Recorder) ObserveUpload(outcome string, files int, bytes int64) {
	r.uploadsTotal.WithLabelValues(outcome).Inc()
	if outcome == UploadAccepted {
		r.uploadFiles.Observe(float64(files))
		r.uploadBytesTotal.Add(float64(bytes))
	}
}

// ObserveStorageNetworkCall records one call against the storage network.
func (r *Recorder) ObserveStorageNetworkCall(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.storageNetCalls.WithLabelValues(operation, result).Inc()
}

// normalizePath collapses resource IDs so metric cardinality stays bounded.
// /api/v1/media/8f2c... becomes /api/v1/media/{id}.
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i := 1; i < len(segments); i++ {
		if collapsibleParent(segments[i-1]) && segments[i] != "" && !isRouteWord(segments[i]) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

func collapsibleParent(segment string) bool {
	switch segment {
	case "media", "users", "categories":
		return true
	}
	return false
}

func isRouteWord(segment string) bool {
	switch segment {
	case "upload", "list", "storage-info", "visibility", "password":
		return true
	}
	return false
}
