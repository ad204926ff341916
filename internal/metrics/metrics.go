// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// チャットサーバーの各層から利用する。
type MetricsCollector interface {
	RecordLogin(shard string)
	RecordConnectionOpened()
	RecordConnectionClosed()
	RecordFrame(direction string)
	RecordNotifyForwarded(result string)
	RecordProtocolError()
	RecordDroppedFrame()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins        *prometheus.CounterVec
	activeConns   prometheus.Gauge
	frames        *prometheus.CounterVec
	notifyForward *prometheus.CounterVec
	protocolErrs  prometheus.Counter
	droppedFrames prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardchat_logins_total",
			Help: "シャード別のチャットログイン成功の合計数",
		}, []string{"shard"}),
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shardchat_active_connections",
			Help: "現在アクティブなクライアント接続数",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardchat_frames_total",
			Help: "方向別（in/out）に処理したフレームの合計数",
		}, []string{"direction"}),
		notifyForward: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardchat_notify_forwarded_total",
			Help: "シャード間通知転送の結果別（ok/error/miss）の合計数",
		}, []string{"result"}),
		protocolErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardchat_protocol_errors_total",
			Help: "不正フレームによる切断の合計数",
		}),
		droppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardchat_dropped_frames_total",
			Help: "送信キュー溢れで破棄したフレームの合計数",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.activeConns,
		c.frames,
		c.notifyForward,
		c.protocolErrs,
		c.droppedFrames,
	)

	return c
}

// RecordLogin はチャットログイン成功を記録する。
func (c *Collector) RecordLogin(shard string) {
	c.logins.WithLabelValues(shard).Inc()
}

// RecordConnectionOpened は接続の確立を記録する。
func (c *Collector) RecordConnectionOpened() {
	c.activeConns.Inc()
}

// RecordConnectionClosed は接続の終了を記録する。
func (c *Collector) RecordConnectionClosed() {
	c.activeConns.Dec()
}

// RecordFrame は処理したフレームを方向別（"in"/"out"）に記録する。
func (c *Collector) RecordFrame(direction string) {
	c.frames.WithLabelValues(direction).Inc()
}

// RecordNotifyForwarded はシャード間通知転送の結果を記録する。
// resultは"ok"・"error"・"miss"のいずれか。
func (c *Collector) RecordNotifyForwarded(result string) {
	c.notifyForward.WithLabelValues(result).Inc()
}

// RecordProtocolError は不正フレームによる切断を記録する。
func (c *Collector) RecordProtocolError() {
	c.protocolErrs.Inc()
}

// RecordDroppedFrame は送信キュー溢れによるフレーム破棄を記録する。
func (c *Collector) RecordDroppedFrame() {
	c.droppedFrames.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
