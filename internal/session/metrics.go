package session

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"openrgb-go-home/internal/proto"
)

// Metrics counts frames, bytes and failures. A nil *Metrics records nothing.
type Metrics struct {
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	bytesSent      prometheus.Counter
	bytesReceived  prometheus.Counter
	errors         *prometheus.CounterVec
}

// NewMetrics registers the session collectors with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openrgb",
			Subsystem: "session",
			Name:      "frames_sent_total",
			Help:      "Frames written to the server by command",
		}, []string{"command"}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openrgb",
			Subsystem: "session",
			Name:      "frames_received_total",
			Help:      "Frames read from the server by command",
		}, []string{"command"}),

		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openrgb",
			Subsystem: "session",
			Name:      "bytes_sent_total",
			Help:      "Bytes written including headers",
		}),

		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openrgb",
			Subsystem: "session",
			Name:      "bytes_received_total",
			Help:      "Bytes read including headers",
		}),

		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openrgb",
			Subsystem: "session",
			Name:      "errors_total",
			Help:      "Failures that made a session unusable, by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) observeSent(cmd proto.Command, n int) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(cmd.String()).Inc()
	m.bytesSent.Add(float64(n))
}

func (m *Metrics) observeReceived(cmd proto.Command, n int) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(cmd.String()).Inc()
	m.bytesReceived.Add(float64(n))
}

func (m *Metrics) observeError(err error) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errorKind(err)).Inc()
}

// errorKind maps an error to a low-cardinality label.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, proto.ErrProtocolMismatch):
		return "protocol_mismatch"
	case errors.Is(err, proto.ErrUnknownCommand):
		return "unknown_command"
	case errors.Is(err, proto.ErrUnexpectedVariant):
		return "unexpected_variant"
	case errors.Is(err, proto.ErrLengthMismatch):
		return "length_mismatch"
	case errors.Is(err, proto.ErrMalformedText):
		return "malformed_text"
	case errors.Is(err, proto.ErrUnexpectedEOD):
		return "unexpected_eod"
	case errors.Is(err, proto.ErrInputTooLarge):
		return "too_large"
	default:
		return "other"
	}
}
