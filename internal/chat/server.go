package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/shardchat/internal/codec"
	"github.com/hitoshi/shardchat/internal/metrics"
	"github.com/hitoshi/shardchat/internal/middleware"
	"github.com/hitoshi/shardchat/internal/model"
	"github.com/hitoshi/shardchat/internal/protocol"
)

const (
	// defaultSendQueueSize は1接続あたりの送信キュー長。
	defaultSendQueueSize = 64

	// defaultIdleTimeout はフレームが届かない接続を切断するまでの時間。
	defaultIdleTimeout = 10 * time.Minute

	// maxFrameBody はクライアントから受け付けるボディ長の上限。
	maxFrameBody = 8 * 1024

	// frameRateLimit / frameRateBurst は1接続あたりの受信フレームの
	// 流量制限。超過した接続はフラッディングとみなして切断する。
	frameRateLimit = rate.Limit(30)
	frameRateBurst = 60
)

// ServerConfig はチャットシャードサーバーの設定。
type ServerConfig struct {
	Shard         model.ChatShard
	SendQueueSize int           // 0の場合はdefaultSendQueueSize
	IdleTimeout   time.Duration // 0の場合はdefaultIdleTimeout
}

// Server はチャットシャードのTCPサーバーと内部HTTPサーバー。
type Server struct {
	config     ServerConfig
	service    *Service
	dispatcher *Dispatcher
	registry   *Registry
	metrics    metrics.MetricsCollector
	gatherer   prometheus.Gatherer
}

// NewServer はServerを生成する。
func NewServer(config ServerConfig, service *Service, registry *Registry, m metrics.MetricsCollector, gatherer prometheus.Gatherer) *Server {
	if config.SendQueueSize == 0 {
		config.SendQueueSize = defaultSendQueueSize
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = defaultIdleTimeout
	}
	return &Server{
		config:     config,
		service:    service,
		dispatcher: NewDispatcher(service),
		registry:   registry,
		metrics:    m,
		gatherer:   gatherer,
	}
}

// Run はTCPリスナーと内部HTTPサーバーを起動し、ctxのキャンセルまで
// 接続を受け付ける。
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Shard.Addr())
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    net.JoinHostPort(s.config.Shard.Host, s.config.Shard.RPCPort),
		Handler: s.internalRouter(),
	}

	go func() {
		slog.Info("internal http server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("internal http server failed", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-ctx.Done()
		listener.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("internal http server shutdown failed", slog.String("error", err.Error()))
		}
	}()

	slog.Info("chat shard listening",
		slog.String("shard", s.config.Shard.Name),
		slog.String("addr", s.config.Shard.Addr()),
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("accept failed", slog.String("error", err.Error()))
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn は1つのクライアント接続の読み取りループ。
// フレームごとにディスパッチし、切断時にプレゼンスの後始末を行う。
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	sess := newSession(conn, s.config.SendQueueSize, s.metrics)
	s.metrics.RecordConnectionOpened()

	slog.Info("connection opened",
		slog.String("conn_id", sess.ID()),
		slog.String("remote", sess.RemoteAddr()),
	)

	defer func() {
		sess.Close()
		// 後始末はリクエストコンテキストに依存させない
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.service.HandleDisconnect(cleanupCtx, sess)
		s.metrics.RecordConnectionClosed()
	}()

	decoder := codec.NewDecoderWithLimit(conn, maxFrameBody)
	limiter := rate.NewLimiter(frameRateLimit, frameRateBurst)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout)); err != nil {
			return
		}

		msg, err := decoder.Next()
		if err != nil {
			s.logReadError(sess, err)
			return
		}
		s.metrics.RecordFrame("in")

		if !limiter.Allow() {
			s.metrics.RecordProtocolError()
			slog.Warn("frame rate exceeded, closing connection",
				slog.String("conn_id", sess.ID()),
				slog.Int64("uid", sess.UID()),
				slog.String("remote", sess.RemoteAddr()),
			)
			return
		}

		id := protocol.MsgID(msg.ID)
		if !id.Valid() {
			s.metrics.RecordProtocolError()
			slog.Warn("unknown message id, closing connection",
				slog.String("conn_id", sess.ID()),
				slog.Int("msg_id", int(msg.ID)),
				slog.String("remote", sess.RemoteAddr()),
			)
			return
		}

		s.dispatcher.Dispatch(ctx, sess, id, msg.Body)
	}
}

// logReadError は読み取りループの終了理由を分類してログに残す。
func (s *Server) logReadError(sess *Session, err error) {
	switch {
	case errors.Is(err, io.EOF):
		// フレーム境界での正常切断
	case errors.Is(err, codec.ErrConnectionLost):
		slog.Warn("connection lost mid-frame",
			slog.String("conn_id", sess.ID()),
			slog.Int64("uid", sess.UID()),
			slog.String("remote", sess.RemoteAddr()),
		)
	default:
		var protoErr *codec.ProtocolError
		if errors.As(err, &protoErr) {
			s.metrics.RecordProtocolError()
			slog.Warn("protocol violation, closing connection",
				slog.String("reason", protoErr.Reason),
				slog.String("remote", sess.RemoteAddr()),
			)
			return
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			slog.Info("closing idle connection",
				slog.Int64("uid", sess.UID()),
				slog.String("remote", sess.RemoteAddr()),
			)
			return
		}
		slog.Warn("read failed",
			slog.Int64("uid", sess.UID()),
			slog.String("error", err.Error()),
		)
	}
}

// internalRouter はシャード間通知と運用エンドポイントのルーティングを返す。
func (s *Server) internalRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())

	r.Post("/internal/notify", s.handleNotify)
	r.Handle("/metrics", metrics.Handler(s.gatherer))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}

// handleNotify は他シャードから転送された通知をローカル配送する。
// 配送先が既に切断している場合も通知は静かに破棄してSuccessを返す。
// POST /internal/notify
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeNotifyResponse(w, model.CodeJsonError)
		return
	}

	if target, ok := s.registry.Get(req.ToUID); ok {
		target.Send(req.MsgID, req.Body)
	} else {
		slog.Info("notify target already gone",
			slog.Int64("to_uid", req.ToUID),
			slog.Int("msg_id", int(req.MsgID)),
		)
	}

	writeNotifyResponse(w, model.CodeSuccess)
}

func writeNotifyResponse(w http.ResponseWriter, code model.ErrorCode) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(NotifyResponse{Error: code}); err != nil {
		slog.Error("failed to encode notify response", slog.String("error", err.Error()))
	}
}
