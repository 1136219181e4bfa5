// Package metrics exposes the orchestrator's Prometheus metrics on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chadiek/improv/internal/domain"
)

const namespace = "improv"

// Collector holds every metric the orchestrator records.
type Collector struct {
	registry *prometheus.Registry

	stateTransitions  *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	stageFailures     *prometheus.CounterVec
	pipelineDepth     prometheus.Gauge
	broadcastDepth    prometheus.Gauge
	broadcastClients  prometheus.Gauge
	turnsDetected     prometheus.Counter
	transcriptUpdates prometheus.Counter

	logger *zap.Logger
}

// NewCollector registers the metrics on a fresh registry together with the Go
// runtime and process collectors.
func NewCollector(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	c := &Collector{
		registry: reg,
		stateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Applied interaction state transitions by target state",
		}, []string{"to"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"stage"}),
		stageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_failures_total",
			Help:      "Pipeline items that failed, by stage",
		}, []string{"stage"}),
		pipelineDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_queue_depth",
			Help:      "Items waiting in the pipeline queue",
		}),
		broadcastDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcast_queue_depth",
			Help:      "Operations waiting in the broadcast handoff queue",
		}),
		broadcastClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcast_clients",
			Help:      "Registered control-channel clients",
		}),
		turnsDetected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_detected_total",
			Help:      "Turn boundaries detected in the live transcript",
		}),
		transcriptUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_snapshots_total",
			Help:      "Live transcript snapshots received",
		}),
		logger: logger.With(zap.String("component", "metrics")),
	}
	c.logger.Debug("metrics registry ready")
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) ObserveTransition(to domain.State) {
	c.stateTransitions.WithLabelValues(string(to)).Inc()
}

func (c *Collector) ObserveStage(stage string, d time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (c *Collector) StageFailed(stage string) {
	c.stageFailures.WithLabelValues(stage).Inc()
}

func (c *Collector) SetPipelineQueueDepth(n int) { c.pipelineDepth.Set(float64(n)) }

func (c *Collector) SetBroadcastQueueDepth(n int) { c.broadcastDepth.Set(float64(n)) }

func (c *Collector) SetBroadcastClients(n int) { c.broadcastClients.Set(float64(n)) }

func (c *Collector) TurnDetected() { c.turnsDetected.Inc() }

func (c *Collector) SnapshotReceived() { c.transcriptUpdates.Inc() }
