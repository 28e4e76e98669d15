package metrics

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/fixgateway/pkg/codec"
)

// EngineMetrics exports the session engine's counters to Prometheus
type EngineMetrics struct {
	namespace string
	registry  *prometheus.Registry
	logger    log.Logger

	// Session metrics
	messagesReceived *prometheus.CounterVec
	invalidMessages  *prometheus.CounterVec
	backPressured    prometheus.Counter
	sessionsActive   prometheus.Gauge
	sequenceResets   prometheus.Counter
	closeSteps       *prometheus.CounterVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
}

// NewEngineMetrics creates metrics on a registry of their own
func NewEngineMetrics(namespace string) (*EngineMetrics, error) {
	logger := log.Root().New("module", "metrics")
	registry := prometheus.NewRegistry()

	m := &EngineMetrics{
		namespace: namespace,
		registry:  registry,
		logger:    logger,

		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Session level messages received by kind",
		}, []string{"kind"}),

		invalidMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_messages_total",
			Help:      "Messages rejected by validation by reason",
		}, []string{"reason"}),

		backPressured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "back_pressured_total",
			Help:      "Sends refused by a full publication",
		}),

		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions bound to a context",
		}),

		sequenceResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_resets_total",
			Help:      "Sequence index increments",
		}),

		closeSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "close_steps_total",
			Help:      "Close operation steps entered",
		}, []string{"step"}),

		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_bytes",
			Help:      "Current memory usage in bytes",
		}),

		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines_count",
			Help:      "Current number of goroutines",
		}),
	}

	if err := registerAll(registry,
		m.messagesReceived,
		m.invalidMessages,
		m.backPressured,
		m.sessionsActive,
		m.sequenceResets,
		m.closeSteps,
		m.memoryUsage,
		m.goroutines,
	); err != nil {
		return nil, err
	}

	logger.Info("Engine metrics initialized", "namespace", namespace)
	return m, nil
}

func registerAll(registry *prometheus.Registry, collectors ...prometheus.Collector) error {
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns the registry the metrics are registered on
func (m *EngineMetrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format
func (m *EngineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on port until ctx is done
func (m *EngineMetrics) StartServer(ctx context.Context, port string) error {
	m.logger.Info("Starting Prometheus metrics server", "port", port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		server.Close()
	}()

	m.logger.Info("Prometheus metrics available",
		"endpoint", "http://localhost:"+port+"/metrics")
	return nil
}

func (m *EngineMetrics) MessageReceived(kind codec.Kind) {
	m.messagesReceived.WithLabelValues(kind.String()).Inc()
}

func (m *EngineMetrics) InvalidMessage(reason codec.RejectReason) {
	m.invalidMessages.WithLabelValues(reason.String()).Inc()
}

func (m *EngineMetrics) BackPressured() { m.backPressured.Inc() }

func (m *EngineMetrics) SessionsActive(count int) { m.sessionsActive.Set(float64(count)) }

func (m *EngineMetrics) SequenceReset() { m.sequenceResets.Inc() }

func (m *EngineMetrics) CloseStep(step string) {
	m.closeSteps.WithLabelValues(step).Inc()
}

// CollectSystemMetrics samples runtime stats every interval until ctx is done
func (m *EngineMetrics) CollectSystemMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			m.memoryUsage.Set(float64(memStats.Alloc))
			m.goroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}
