package subscription

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/l7mp/livesync/pkg/cache"
	"github.com/l7mp/livesync/pkg/object"
)

type metrics struct {
	events       *prometheus.CounterVec
	transactions *prometheus.CounterVec
	clients      prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livesync",
			Name:      "row_events_total",
			Help:      "Row events delivered to clients, by event type.",
		}, []string{"type"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livesync",
			Name:      "transactions_total",
			Help:      "Transactions processed, by status.",
		}, []string{"status"}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "livesync",
			Name:      "connected_clients",
			Help:      "Number of connected clients.",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.events, m.transactions, m.clients} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *metrics) observeEvents(events []cache.Event) {
	for _, e := range events {
		m.events.WithLabelValues(string(e.Type)).Inc()
	}
}

func (m *metrics) observeTransaction(s object.Status) {
	m.transactions.WithLabelValues(s.Kind.String()).Inc()
}
