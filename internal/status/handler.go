package status

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/shardchat/internal/middleware"
	"github.com/hitoshi/shardchat/internal/model"
)

// GetChatServerRequest はシャード割り当てRPCのリクエスト。
type GetChatServerRequest struct {
	UID int64 `json:"uid"`
}

// GetChatServerResponse はシャード割り当てRPCのレスポンス。
type GetChatServerResponse struct {
	Error model.ErrorCode `json:"error"`
	Host  string          `json:"host,omitempty"`
	Port  string          `json:"port,omitempty"`
	Token string          `json:"token,omitempty"`
}

// LoginRequest はトークン検証RPCのリクエスト。
type LoginRequest struct {
	UID   int64  `json:"uid"`
	Token string `json:"token"`
}

// LoginResponse はトークン検証RPCのレスポンス。
type LoginResponse struct {
	Error model.ErrorCode `json:"error"`
}

// Handler はステータスサーバーのHTTPハンドラー。
// エラーはHTTPステータスではなくレスポンスボディのerrorフィールドで
// 報告する。HTTPレベルの失敗は呼び出し側でkRpcFailedになる。
type Handler struct {
	service *Service
}

// NewHandler はHandlerを生成する。
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// NewRouter はステータスサーバーのルーティングを構成したchi.Routerを返す。
func NewRouter(service *Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())

	h := NewHandler(service)
	r.Route("/rpc", func(r chi.Router) {
		r.Post("/get_chat_server", h.GetChatServer)
		r.Post("/login", h.Login)
	})
	r.Get("/health", h.Health)

	return r
}

// GetChatServer は最も空いているシャードとトークンを返す。
// POST /rpc/get_chat_server
func (h *Handler) GetChatServer(w http.ResponseWriter, r *http.Request) {
	var req GetChatServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, GetChatServerResponse{Error: model.CodeJsonError})
		return
	}

	assignment, err := h.service.AssignShard(r.Context(), req.UID)
	if err != nil {
		slog.Warn("shard assignment failed",
			slog.Int64("uid", req.UID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, GetChatServerResponse{Error: model.CodeOf(err, model.CodeRpcFailed)})
		return
	}

	writeJSON(w, GetChatServerResponse{
		Error: model.CodeSuccess,
		Host:  assignment.Shard.Host,
		Port:  assignment.Shard.Port,
		Token: assignment.Token,
	})
}

// Login はuidとtokenの組を検証する。
// POST /rpc/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, LoginResponse{Error: model.CodeJsonError})
		return
	}

	if err := h.service.ValidateLogin(r.Context(), req.UID, req.Token); err != nil {
		code := model.CodeOf(err, model.CodeRpcFailed)
		if code == model.CodeRpcFailed {
			slog.Error("login validation failed",
				slog.Int64("uid", req.UID),
				slog.String("error", err.Error()),
			)
		}
		writeJSON(w, LoginResponse{Error: code})
		return
	}

	writeJSON(w, LoginResponse{Error: model.CodeSuccess})
}

// Health はヘルスチェック用のエンドポイント。
// GET /health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
