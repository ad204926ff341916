package chat

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hitoshi/shardchat/internal/codec"
	"github.com/hitoshi/shardchat/internal/metrics"
)

// Session は1つのクライアント接続を表す。
// 書き込みは専用のキューとゴルーチンに直列化されるため、
// Sendは任意のゴルーチンから呼び出せる。
type Session struct {
	id        string
	conn      net.Conn
	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	uid       atomic.Int64
	metrics   metrics.MetricsCollector
}

// newSession はSessionを生成し、書き込みゴルーチンを起動する。
func newSession(conn net.Conn, queueSize int, m metrics.MetricsCollector) *Session {
	s := &Session{
		id:      uuid.NewString(),
		conn:    conn,
		sendCh:  make(chan []byte, queueSize),
		done:    make(chan struct{}),
		metrics: m,
	}
	go s.writeLoop()
	return s
}

// ID は接続単位のログ相関用識別子を返す。
func (s *Session) ID() string {
	return s.id
}

// UID は認証済みのuidを返す。未認証の場合は0。
func (s *Session) UID() int64 {
	return s.uid.Load()
}

// bind はログイン成功時にuidを紐付ける。
func (s *Session) bind(uid int64) {
	s.uid.Store(uid)
}

// Send はフレームをエンコードして送信キューに積む。
// キューが満杯の場合はフレームを破棄する。遅いクライアントが
// 他の接続の処理を塞がないようにするための措置。
func (s *Session) Send(id uint16, body []byte) {
	frame, err := codec.Encode(id, body)
	if err != nil {
		slog.Error("failed to encode frame",
			slog.Int("msg_id", int(id)),
			slog.String("error", err.Error()),
		)
		return
	}

	select {
	case s.sendCh <- frame:
	case <-s.done:
	default:
		s.metrics.RecordDroppedFrame()
		slog.Warn("send queue full, dropping frame",
			slog.String("conn_id", s.id),
			slog.Int64("uid", s.UID()),
			slog.Int("msg_id", int(id)),
		)
	}
}

// writeLoop は送信キューのフレームを順に書き込む。
// 書き込みエラーは接続全体の終了として扱う。
func (s *Session) writeLoop() {
	for {
		select {
		case frame := <-s.sendCh:
			if _, err := s.conn.Write(frame); err != nil {
				s.Close()
				return
			}
			s.metrics.RecordFrame("out")
		case <-s.done:
			return
		}
	}
}

// Close は接続を閉じる。複数回呼び出しても安全。
// 読み取りループはクローズ起因のエラーで抜ける。
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// RemoteAddr は接続元アドレスを返す。ログ用。
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}
