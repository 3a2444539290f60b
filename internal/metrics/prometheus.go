// Package metrics exposes dump and restore activity in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/localrivet/datadumper/pkg/dumper"
)

const (
	OpDump    = "dump"
	OpRestore = "restore"
)

type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	lastRun       *prometheus.GaugeVec
	lastSuccess   *prometheus.GaugeVec
	dumpSize      prometheus.Gauge
	rowsExported  *prometheus.CounterVec
	tablesCreated prometheus.Counter
	rowsInserted  prometheus.Counter
	statements    prometheus.Counter
	storageUsed   prometheus.Gauge
	dumpsStored   prometheus.Gauge
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "datadumper"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Dump and restore runs by operation and result",
		}, []string{"op", "result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of dump and restore runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"op"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last run attempt",
		}, []string{"op"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "Whether the last run succeeded (1) or not (0)",
		}, []string{"op"}),
		dumpSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_dump_size_bytes",
			Help:      "Stored size of the last dump in bytes",
		}),
		rowsExported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_exported_total",
			Help:      "Rows written to dumps, by table",
		}, []string{"table"}),
		tablesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tables_created_total",
			Help:      "CREATE TABLE statements replayed by restores",
		}),
		rowsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_inserted_total",
			Help:      "Rows inserted by restores",
		}),
		statements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statements_executed_total",
			Help:      "Statements executed by restores",
		}),
		storageUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_used_bytes",
			Help:      "Total size of stored dumps in bytes",
		}),
		dumpsStored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dumps_stored",
			Help:      "Number of dumps in storage",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs,
		m.runDuration,
		m.lastRun,
		m.lastSuccess,
		m.dumpSize,
		m.rowsExported,
		m.tablesCreated,
		m.rowsInserted,
		m.statements,
		m.storageUsed,
		m.dumpsStored,
	)

	return m
}

// Subscribe counts exported rows and replayed tables and rows from hub.
func (m *Metrics) Subscribe(hub *dumper.EventHub) {
	hub.OnTableExport(func(table string, rows int64) {
		m.rowsExported.WithLabelValues(table).Add(float64(rows))
	})
	hub.OnTableCreate(func(string) {
		m.tablesCreated.Inc()
	})
	hub.OnTableInsert(func(_ string, rows int64) {
		if rows > 0 {
			m.rowsInserted.Add(float64(rows))
		}
	})
}

func (m *Metrics) RecordDumpSuccess(duration time.Duration, sizeBytes int64) {
	m.success(OpDump, duration)
	m.dumpSize.Set(float64(sizeBytes))
}

func (m *Metrics) RecordRestoreSuccess(duration time.Duration, statements int64) {
	m.success(OpRestore, duration)
	m.statements.Add(float64(statements))
}

func (m *Metrics) RecordFailure(op string) {
	m.runs.WithLabelValues(op, "failure").Inc()
	m.lastRun.WithLabelValues(op).SetToCurrentTime()
	m.lastSuccess.WithLabelValues(op).Set(0)
}

func (m *Metrics) success(op string, duration time.Duration) {
	m.runs.WithLabelValues(op, "success").Inc()
	m.runDuration.WithLabelValues(op).Observe(duration.Seconds())
	m.lastRun.WithLabelValues(op).SetToCurrentTime()
	m.lastSuccess.WithLabelValues(op).Set(1)
}

func (m *Metrics) SetStorageUsed(bytes int64, dumps int) {
	m.storageUsed.Set(float64(bytes))
	m.dumpsStored.Set(float64(dumps))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
