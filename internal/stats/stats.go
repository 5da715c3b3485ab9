// Package stats implements the Telemetry component (§2): per-namespace
// request/success counters and latency histograms wired through the
// transaction pipeline, exported as Prometheus collectors through Handler,
// which cmd/kvnode serves on the metrics-addr listener. No sibling example repo in the pack wires
// prometheus/client_golang into running code (ghjramos-aistore only lists
// it in go.mod), so this package follows the library's own documented
// idiom: a private registry plus *Vec collectors keyed by label, rather
// than the global default registry, so a node's metrics never collide
// with another package's in the same process.
package stats

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates the counters and histograms named in §4.8
// ("Statistics update") and §2 ("Telemetry"). A nil *Collector is not
// usable; construct with New.
type Collector struct {
	registry *prometheus.Registry

	reqsTotal     *prometheus.CounterVec
	reqsSuccess   *prometheus.CounterVec
	langErrors    *prometheus.CounterVec
	opLatency     *prometheus.HistogramVec
	queueDepth    *prometheus.GaugeVec
	fdCount       *prometheus.GaugeVec
	clusterSize   prometheus.Gauge
	earlyFailures *prometheus.CounterVec
	nsObjects     *prometheus.GaugeVec
	systemMemory  prometheus.Gauge
}

// Op names the request kind a counter/histogram observation belongs to,
// matching §4.8's classification vocabulary.
type Op string

const (
	OpRead   Op = "read"
	OpWrite  Op = "write"
	OpDelete Op = "delete"
)

// New builds a Collector with its own registry, so multiple Collectors
// (e.g. one per test) never collide on Prometheus's global registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		reqsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvnode_requests_total",
			Help: "Total requests processed, by namespace and operation.",
		}, []string{"namespace", "op"}),
		reqsSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvnode_requests_success_total",
			Help: "Successful requests, by namespace and operation.",
		}, []string{"namespace", "op"}),
		langErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvnode_udf_lang_errors_total",
			Help: "UDF script execution failures, by namespace.",
		}, []string{"namespace"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kvnode_op_latency_seconds",
			Help:    "Transaction latency from start to response, by namespace and operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"namespace", "op"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kvnode_queue_depth",
			Help: "In-progress queue depth, by queue name (§4.9).",
		}, []string{"queue"}),
		fdCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kvnode_fd_count",
			Help: "File descriptor counters, by kind (§4.9).",
		}, []string{"kind"}),
		clusterSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvnode_cluster_size",
			Help: "Observed cluster size (§4.9).",
		}),
		earlyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvnode_early_failures_total",
			Help: "Requests rejected before master apply, by result code (§4.9).",
		}, []string{"result_code"}),
		nsObjects: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kvnode_namespace_objects",
			Help: "Live object count, by namespace (§4.9).",
		}, []string{"namespace"}),
		systemMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvnode_system_memory_bytes",
			Help: "Process memory obtained from the OS, runtime.MemStats.Sys (§4.9).",
		}),
	}

	reg.MustRegister(
		c.reqsTotal, c.reqsSuccess, c.langErrors, c.opLatency,
		c.queueDepth, c.fdCount, c.clusterSize, c.earlyFailures, c.nsObjects,
		c.systemMemory,
	)
	return c
}

func (c *Collector) record(namespace string, op Op, success bool) {
	c.reqsTotal.WithLabelValues(namespace, string(op)).Inc()
	if success {
		c.reqsSuccess.WithLabelValues(namespace, string(op)).Inc()
	}
}

// RecordRead implements udf.StatsSink.
func (c *Collector) RecordRead(namespace string, success bool) { c.record(namespace, OpRead, success) }

// RecordWrite implements udf.StatsSink.
func (c *Collector) RecordWrite(namespace string, success bool) {
	c.record(namespace, OpWrite, success)
}

// RecordDelete implements udf.StatsSink.
func (c *Collector) RecordDelete(namespace string, success bool) {
	c.record(namespace, OpDelete, success)
}

// RecordLangError implements udf.StatsSink.
func (c *Collector) RecordLangError(namespace string) {
	c.langErrors.WithLabelValues(namespace).Inc()
}

// ObserveLatency records a transaction's end-to-end duration (Transaction's
// own BenchmarkTime, §3) against the namespace/op latency histogram.
func (c *Collector) ObserveLatency(namespace string, op Op, d time.Duration) {
	c.opLatency.WithLabelValues(namespace, string(op)).Observe(d.Seconds())
}

// RecordEarlyFailure counts a request rejected before master apply (admission
// shed, xdr-filter reject, parse failure, ...), labeled by its result code
// string (§4.9 "early-failure counts").
func (c *Collector) RecordEarlyFailure(resultCode string) {
	c.earlyFailures.WithLabelValues(resultCode).Inc()
}

// SetQueueDepth reports one of §4.9's in-progress queue depths (service
// queue, info queue, nsup-delete queue, request-hash size, proxy-hash size,
// record-ref count).
func (c *Collector) SetQueueDepth(queue string, depth float64) {
	c.queueDepth.WithLabelValues(queue).Set(depth)
}

// SetFDCount reports one of §4.9's file descriptor counters.
func (c *Collector) SetFDCount(kind string, count float64) {
	c.fdCount.WithLabelValues(kind).Set(count)
}

// SetClusterSize reports the observed cluster size for the ticker snapshot.
func (c *Collector) SetClusterSize(n float64) {
	c.clusterSize.Set(n)
}

// SetNamespaceObjects reports a namespace's live object count (§4.9).
func (c *Collector) SetNamespaceObjects(namespace string, count float64) {
	c.nsObjects.WithLabelValues(namespace).Set(count)
}

// SetSystemMemory reports the process's OS-level memory usage (§4.9).
func (c *Collector) SetSystemMemory(bytes float64) {
	c.systemMemory.Set(bytes)
}

// Handler exposes the collector's metrics over HTTP; cmd/kvnode serves it on
// the metrics-addr listener. The ticker only writes values into the
// collector and serves nothing itself.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
