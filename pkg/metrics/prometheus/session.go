// Package prometheus provides the Prometheus-backed implementations of
// the metrics interfaces. Constructors return nil when the registry is
// not initialized; all methods are safe on a nil receiver.
package prometheus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/fixgate/pkg/metrics"
)

// sessionMetrics is the Prometheus implementation of SessionMetrics.
type sessionMetrics struct {
	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	sequenceGaps     prometheus.Counter
	gapWidth         prometheus.Histogram
	resendSent       prometheus.Counter
	resendReceived   prometheus.Counter
	replayed         prometheus.Counter
	gapFillsSent     prometheus.Counter
	rejectsSent      *prometheus.CounterVec
	testRequests     prometheus.Counter
	disconnects      *prometheus.CounterVec
	state            *prometheus.GaugeVec
}

// NewSessionMetrics creates a Prometheus-backed SessionMetrics for the
// session labelled by id. Returns nil when metrics are disabled.
func NewSessionMetrics(id string) metrics.SessionMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()
	labels := prometheus.Labels{"session": id}

	return &sessionMetrics{
		messagesSent: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name:        "fixgate_messages_sent_total",
			Help:        "Outbound FIX messages by message type",
			ConstLabels: labels,
		}, []string{"msg_type"}),
		messagesReceived: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name:        "fixgate_messages_received_total",
			Help:        "Inbound FIX messages by message type",
			ConstLabels: labels,
		}, []string{"msg_type"}),
		sequenceGaps: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "fixgate_sequence_gaps_total",
			Help:        "Inbound sequence gaps detected",
			ConstLabels: labels,
		}),
		gapWidth: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:        "fixgate_sequence_gap_width",
			Help:        "Width of detected inbound sequence gaps",
			ConstLabels: labels,
			Buckets:     []float64{1, 2, 5, 10, 50, 100, 1000},
		}),
		resendSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "fixgate_resend_requests_sent_total",
			Help:        "ResendRequests issued to the peer",
			ConstLabels: labels,
		}),
		resendReceived: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "fixgate_resend_requests_received_total",
			Help:        "ResendRequests received from the peer",
			ConstLabels: labels,
		}),
		replayed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "fixgate_messages_replayed_total",
			Help:        "Journaled messages replayed with PossDupFlag",
			ConstLabels: labels,
		}),
		gapFillsSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "fixgate_gap_fills_sent_total",
			Help:        "SequenceReset-GapFill messages emitted during replay",
			ConstLabels: labels,
		}),
		rejectsSent: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name:        "fixgate_rejects_sent_total",
			Help:        "Session-level rejects by reason code",
			ConstLabels: labels,
		}, []string{"reason"}),
		testRequests: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "fixgate_test_requests_sent_total",
			Help:        "Liveness TestRequests issued",
			ConstLabels: labels,
		}),
		disconnects: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name:        "fixgate_disconnects_total",
			Help:        "Session teardowns by cause",
			ConstLabels: labels,
		}, []string{"cause"}),
		state: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name:        "fixgate_session_state",
			Help:        "Current session state (1 for the active state, 0 otherwise)",
			ConstLabels: labels,
		}, []string{"state"}),
	}
}

func (m *sessionMetrics) RecordMessageSent(msgType string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(msgType).Inc()
}

func (m *sessionMetrics) RecordMessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(msgType).Inc()
}

func (m *sessionMetrics) RecordSequenceGap(size int) {
	if m == nil {
		return
	}
	m.sequenceGaps.Inc()
	m.gapWidth.Observe(float64(size))
}

func (m *sessionMetrics) RecordResendRequestSent() {
	if m == nil {
		return
	}
	m.resendSent.Inc()
}

func (m *sessionMetrics) RecordResendRequestReceived() {
	if m == nil {
		return
	}
	m.resendReceived.Inc()
}

func (m *sessionMetrics) RecordMessageReplayed() {
	if m == nil {
		return
	}
	m.replayed.Inc()
}

func (m *sessionMetrics) RecordGapFillSent() {
	if m == nil {
		return
	}
	m.gapFillsSent.Inc()
}

func (m *sessionMetrics) RecordRejectSent(reason int) {
	if m == nil {
		return
	}
	m.rejectsSent.WithLabelValues(strconv.Itoa(reason)).Inc()
}

func (m *sessionMetrics) RecordTestRequestSent() {
	if m == nil {
		return
	}
	m.testRequests.Inc()
}

func (m *sessionMetrics) RecordDisconnect(cause string) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(cause).Inc()
}

var sessionStates = []string{
	"DISCONNECTED", "CONNECTING", "AWAITING_LOGON", "LOGON_IN_PROGRESS",
	"ACTIVE", "LOGOUT_IN_PROGRESS", "RECONNECTING",
}

func (m *sessionMetrics) SetState(state string) {
	if m == nil {
		return
	}
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.state.WithLabelValues(s).Set(v)
	}
}
