package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// CollectorはMetricsCollectorインターフェースを満たすことを検証
func TestCollector_ImplementsInterface(t *testing.T) {
	var _ MetricsCollector = (*Collector)(nil)
}

// 記録したメトリクスが/metricsで公開されることを検証
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLogin("ChatServer1")
	c.RecordLogin("ChatServer1")
	c.RecordConnectionOpened()
	c.RecordFrame("in")
	c.RecordNotifyForwarded("ok")
	c.RecordProtocolError()
	c.RecordDroppedFrame()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	for _, want := range []string{
		`shardchat_logins_total{shard="ChatServer1"} 2`,
		"shardchat_active_connections 1",
		`shardchat_frames_total{direction="in"} 1`,
		`shardchat_notify_forwarded_total{result="ok"} 1`,
		"shardchat_protocol_errors_total 1",
		"shardchat_dropped_frames_total 1",
	} {
		if !strings.Contains(bodyStr, want) {
			t.Errorf("response should contain %q", want)
		}
	}
}

// ゲージが接続の開閉で増減することを検証
func TestCollector_ActiveConnectionsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordConnectionOpened()
	c.RecordConnectionOpened()
	c.RecordConnectionClosed()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	body, _ := io.ReadAll(w.Result().Body)
	if !strings.Contains(string(body), "shardchat_active_connections 1") {
		t.Errorf("gauge should be 1, body:\n%s", body)
	}
}
