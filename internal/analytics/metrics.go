package analytics

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts what the pipeline captures, drops and ships. A nil
// *Metrics records nothing.
type Metrics struct {
	eventsCaptured  *prometheus.CounterVec
	saveFailures    *prometheus.CounterVec
	evictions       *prometheus.CounterVec
	storageWarnings prometheus.Counter
	funnelEvents    *prometheus.CounterVec
	syncBatches     *prometheus.CounterVec
}

const (
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
)

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		eventsCaptured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heatmap",
			Name:      "events_captured_total",
			Help:      "Events appended to the pending queues, by channel.",
		}, []string{"channel"}),
		saveFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heatmap",
			Name:      "event_save_failures_total",
			Help:      "Captured events that could not be persisted, by channel.",
		}, []string{"channel"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heatmap",
			Subsystem: "storage",
			Name:      "evictions_total",
			Help:      "Writes that had to drop old entries to fit, by slot.",
		}, []string{"slot"}),
		storageWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "heatmap",
			Subsystem: "storage",
			Name:      "warnings_total",
			Help:      "Root document writes above the warning threshold.",
		}),
		funnelEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heatmap",
			Subsystem: "funnel",
			Name:      "events_total",
			Help:      "Funnel events recorded, by kind.",
		}, []string{"kind"}),
		syncBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heatmap",
			Subsystem: "sync",
			Name:      "batches_total",
			Help:      "Pending event batches sent to the collector, by status.",
		}, []string{"status"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.eventsCaptured, m.saveFailures, m.evictions,
			m.storageWarnings, m.funnelEvents, m.syncBatches,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) captured(channel string) {
	if m != nil {
		m.eventsCaptured.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) saveFailed(channel string) {
	if m != nil {
		m.saveFailures.WithLabelValues(channel).Inc()
	}
}

// Evicted is meant for storage.WithEvictionHandler.
func (m *Metrics) Evicted(slot string) {
	if m != nil {
		m.evictions.WithLabelValues(slot).Inc()
	}
}

// StorageWarning is meant for storage.WithWarningHandler.
func (m *Metrics) StorageWarning(int64) {
	if m != nil {
		m.storageWarnings.Inc()
	}
}

func (m *Metrics) funnelEvent(kind string) {
	if m != nil {
		m.funnelEvents.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) synced(err error) {
	if m == nil {
		return
	}
	status := SyncStatusSuccess
	if err != nil {
		status = SyncStatusFailed
	}
	m.syncBatches.WithLabelValues(status).Inc()
}
