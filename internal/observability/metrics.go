package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/ledctl/internal/protocol"
	"github.com/danmuck/ledctl/internal/protocol/channel"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ledctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledctl",
			Subsystem: "channel",
			Name:      "frames_total",
			Help:      "Frames read or written, by leading tag.",
		},
		[]string{"node", "direction", "tag"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledctl",
			Subsystem: "channel",
			Name:      "frame_bytes_total",
			Help:      "Frame bytes read or written.",
		},
		[]string{"node", "direction"},
	)
	rpcCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledctl",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "RPC calls by side, tag and outcome.",
		},
		[]string{"node", "side", "tag", "outcome"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ledctl",
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "RPC call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "side", "tag"},
	)
	peersLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ledctl",
			Subsystem: "session",
			Name:      "peers",
			Help:      "Authenticated peers by role.",
		},
		[]string{"node", "role"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, framesTotal, frameBytes, rpcCalls, rpcDuration, peersLive)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// ChannelMetrics records channel and session traffic for one process.
// It satisfies channel.Observer and session.PeerObserver.
type ChannelMetrics struct {
	Node string
}

func NewChannelMetrics(node string) *ChannelMetrics {
	RegisterMetrics()
	return &ChannelMetrics{Node: node}
}

var _ channel.Observer = (*ChannelMetrics)(nil)

func (m *ChannelMetrics) FrameIn(tag protocol.Tag, size int) {
	framesTotal.WithLabelValues(m.Node, "in", tag.String()).Inc()
	frameBytes.WithLabelValues(m.Node, "in").Add(float64(size))
}

func (m *ChannelMetrics) FrameOut(tag protocol.Tag, size int) {
	framesTotal.WithLabelValues(m.Node, "out", tag.String()).Inc()
	frameBytes.WithLabelValues(m.Node, "out").Add(float64(size))
}

func (m *ChannelMetrics) CallDone(tag protocol.Tag, outcome channel.Outcome, elapsed time.Duration) {
	m.recordCall("caller", tag, outcome, elapsed)
}

func (m *ChannelMetrics) CallServed(tag protocol.Tag, outcome channel.Outcome, elapsed time.Duration) {
	m.recordCall("server", tag, outcome, elapsed)
}

func (m *ChannelMetrics) recordCall(side string, tag protocol.Tag, outcome channel.Outcome, elapsed time.Duration) {
	rpcCalls.WithLabelValues(m.Node, side, tag.String(), string(outcome)).Inc()
	rpcDuration.WithLabelValues(m.Node, side, tag.String()).Observe(elapsed.Seconds())
}

func (m *ChannelMetrics) PeerJoined(role protocol.Role) {
	peersLive.WithLabelValues(m.Node, role.String()).Inc()
}

func (m *ChannelMetrics) PeerLeft(role protocol.Role) {
	peersLive.WithLabelValues(m.Node, role.String()).Dec()
}
