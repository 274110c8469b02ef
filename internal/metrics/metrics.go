package metrics

import (
	"net/http"

	"github.com/librescoot/uart-wakeup-service/internal/coordinator"
	"github.com/librescoot/uart-wakeup-service/internal/uart"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a registry with the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// QueueSource exposes the drop counter of the event queue
type QueueSource interface {
	Dropped() uint64
}

// LockSource exposes the state of the coordinator's power lock
type LockSource interface {
	Held() bool
	Acquisitions() uint64
}

// Metrics records coordinator results
type Metrics struct {
	Events      *prometheus.CounterVec // labels: kind
	BytesEchoed prometheus.Counter
	QueueResets prometheus.Counter
	HandleTime  prometheus.Histogram
	Failures    prometheus.Counter
}

// New registers the coordinator metrics plus function-backed views of the
// queue and lock
func New(reg *prometheus.Registry, queue QueueSource, lock LockSource) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uart_events_total",
			Help: "Serial events handled, by kind.",
		}, []string{"kind"}),
		BytesEchoed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uart_bytes_echoed_total",
			Help: "Bytes read from the port and handed to the consumer.",
		}),
		QueueResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uart_queue_resets_total",
			Help: "Input flushes after a fifo overflow or full ring buffer.",
		}),
		HandleTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "uart_event_handle_seconds",
			Help:    "Time spent handling one event with the power lock held.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uart_event_failures_total",
			Help: "Events whose handling returned an error.",
		}),
	}
	reg.MustRegister(m.Events, m.BytesEchoed, m.QueueResets, m.HandleTime, m.Failures)

	if queue != nil {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "uart_queue_dropped_total",
			Help: "Events dropped because the queue was full.",
		}, func() float64 { return float64(queue.Dropped()) }))
	}
	if lock != nil {
		reg.MustRegister(
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "pm_lock_acquisitions_total",
				Help: "Times the coordinator acquired its power lock.",
			}, func() float64 { return float64(lock.Acquisitions()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "pm_lock_held",
				Help: "1 while the coordinator holds its power lock.",
			}, func() float64 {
				if lock.Held() {
					return 1
				}
				return 0
			}),
		)
	}
	return m
}

// EventHandled implements coordinator.Observer
func (m *Metrics) EventHandled(r coordinator.Result) {
	m.Events.WithLabelValues(r.Event.Kind.String()).Inc()
	m.BytesEchoed.Add(float64(r.Consumed))
	switch r.Event.Kind {
	case uart.EventFifoOverflow, uart.EventBufferFull:
		m.QueueResets.Inc()
	}
	if r.Err != nil {
		m.Failures.Inc()
	}
	m.HandleTime.Observe(r.Duration.Seconds())
}
