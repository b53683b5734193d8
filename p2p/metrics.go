package p2p

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirrors the teacher's peer.metrics field: a struct of
// Prometheus collectors, with a nil-safe no-op constructor so tests and
// callers that don't want a registry pay nothing.
type Metrics struct {
	messagesSent      *prometheus.CounterVec
	messagesSentBytes *prometheus.CounterVec
	messagesAcked     prometheus.Counter
	reconnectAttempts *prometheus.CounterVec
	reconnectGiveups  *prometheus.CounterVec
	pendingQueueSize  *prometheus.GaugeVec
	installedChannels prometheus.Gauge
}

// NewMetrics registers a Metrics set with reg. Pass nil to get a
// metrics-disabled, fully functional no-op (NopMetrics).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return NopMetrics()
	}
	m := &Metrics{
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2p", Name: "messages_sent_total",
			Help: "Total outbound data frames successfully written.",
		}, []string{"peer_id"}),
		messagesSentBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2p", Name: "message_send_bytes_total",
			Help: "Total serialized bytes successfully written.",
		}, []string{"peer_id"}),
		messagesAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2p", Name: "messages_acked_total",
			Help: "Total pending sends resolved by an ACK.",
		}),
		reconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2p", Name: "reconnect_attempts_total",
			Help: "Total reconnection attempts started.",
		}, []string{"peer_id"}),
		reconnectGiveups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2p", Name: "reconnect_giveups_total",
			Help: "Total reconnection episodes that gave up.",
		}, []string{"peer_id"}),
		pendingQueueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "p2p", Name: "pending_queue_size",
			Help: "Current pending-message queue length per peer.",
		}, []string{"peer_id"}),
		installedChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "p2p", Name: "installed_channels",
			Help: "Current count of installed channels.",
		}),
	}
	reg.MustRegister(
		m.messagesSent, m.messagesSentBytes, m.messagesAcked,
		m.reconnectAttempts, m.reconnectGiveups,
		m.pendingQueueSize, m.installedChannels,
	)
	return m
}

// NopMetrics returns a Metrics whose every method is safe to call and
// does nothing, mirroring the teacher's NopMetrics() pattern for
// packages that don't care about observability.
func NopMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) sent(peerID PeerID, bytes int) {
	if m == nil || m.messagesSent == nil {
		return
	}
	m.messagesSent.WithLabelValues(string(peerID)).Inc()
	m.messagesSentBytes.WithLabelValues(string(peerID)).Add(float64(bytes))
}

func (m *Metrics) acked() {
	if m == nil || m.messagesAcked == nil {
		return
	}
	m.messagesAcked.Inc()
}

func (m *Metrics) reconnectAttempt(peerID PeerID) {
	if m == nil || m.reconnectAttempts == nil {
		return
	}
	m.reconnectAttempts.WithLabelValues(string(peerID)).Inc()
}

func (m *Metrics) giveUp(peerID PeerID) {
	if m == nil || m.reconnectGiveups == nil {
		return
	}
	m.reconnectGiveups.WithLabelValues(string(peerID)).Inc()
}

func (m *Metrics) setPendingQueueSize(peerID PeerID, n int) {
	if m == nil || m.pendingQueueSize == nil {
		return
	}
	m.pendingQueueSize.WithLabelValues(string(peerID)).Set(float64(n))
}

func (m *Metrics) channelInstalled() {
	if m == nil || m.installedChannels == nil {
		return
	}
	m.installedChannels.Inc()
}

func (m *Metrics) channelReleased() {
	if m == nil || m.installedChannels == nil {
		return
	}
	m.installedChannels.Dec()
}
