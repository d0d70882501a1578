package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/ledctl/internal/protocol"
	"github.com/danmuck/ledctl/internal/protocol/channel"
	"github.com/danmuck/ledctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("ledctl-a", "GET", "/health", 200, 12*time.Millisecond)
	m := NewChannelMetrics("ledctl-a")
	m.FrameIn(protocol.TagRGBSet, 4)
	m.FrameOut(protocol.TagResolveCall, 9)
	m.CallDone(protocol.TagPing, channel.OutcomeResolved, time.Millisecond)
	m.CallServed(protocol.TagGetState, channel.OutcomeRejected, time.Millisecond)
}

func TestChannelMetricsCountsPeers(t *testing.T) {
	testlog.Start(t)
	m := NewChannelMetrics("peers-test")
	m.PeerJoined(protocol.RoleClient)
	m.PeerJoined(protocol.RoleClient)
	m.PeerLeft(protocol.RoleClient)
	if got := testutil.ToFloat64(peersLive.WithLabelValues("peers-test", "client")); got != 1 {
		t.Fatalf("peers gauge got=%v want=1", got)
	}
	m.FrameIn(protocol.TagPCMFrame, 100)
	m.FrameIn(protocol.TagPCMFrame, 28)
	if got := testutil.ToFloat64(frameBytes.WithLabelValues("peers-test", "in")); got != 128 {
		t.Fatalf("frame bytes got=%v want=128", got)
	}
}

func TestRequestMiddleware(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(zerolog.Nop()), RequestMetricsMiddleware("mw-test"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status got=%d", rec.Code)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("mw-test", "GET", "/health", "204")); got != 1 {
		t.Fatalf("request counter got=%v want=1", got)
	}
}
