package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the ledger's delivery health.
type Metrics struct {
	RecordsEnqueued  prometheus.Counter
	BatchesDelivered prometheus.Counter
	DeliveryFailures prometheus.Counter
	RecordsReplayed  prometheus.Counter
	QueueFill        prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RecordsEnqueued: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "warden_ledger_records_enqueued_total",
			Help: "Audit records accepted into the delivery pipeline.",
		}),
		BatchesDelivered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "warden_ledger_batches_delivered_total",
			Help: "Batches acknowledged by the control plane.",
		}),
		DeliveryFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "warden_ledger_delivery_failures_total",
			Help: "Failed batch delivery attempts, including retried ones.",
		}),
		RecordsReplayed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "warden_ledger_records_replayed_total",
			Help: "Unacknowledged records recovered from the write-ahead log at startup.",
		}),
		QueueFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "warden_ledger_queue_fill",
			Help: "Records currently buffered for delivery.",
		}),
	}
}
