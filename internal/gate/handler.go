package gate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/shardchat/internal/metrics"
	"github.com/hitoshi/shardchat/internal/middleware"
	"github.com/hitoshi/shardchat/internal/model"
)

// GateServiceInterface はハンドラーが必要とするサービスインターフェース。
type GateServiceInterface interface {
	GetVerifyCode(ctx context.Context, email string) error
	Register(ctx context.Context, params RegisterParams) (*model.User, error)
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	ResetPassword(ctx context.Context, userName, email, password, code string) error
}

// Handler はゲートサーバーのHTTPハンドラー。
// エラーはHTTP 200のボディ内errorフィールドで報告する。
type Handler struct {
	service GateServiceInterface
}

// NewHandler はHandlerを生成する。
func NewHandler(service GateServiceInterface) *Handler {
	return &Handler{service: service}
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Service     GateServiceInterface
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger
	Gatherer    prometheus.Gatherer
}

// NewRouter はゲートの全ルーティングとミドルウェアチェーンを構成した
// chi.Routerを返す。未知のパスは404と"Url not found"を返す。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	h := NewHandler(deps.Service)

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Post("/user_login", h.UserLogin)
	})

	// 登録系は専用のより厳しいレート制限を重ねる
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(deps.RateLimiter.RegisterMiddleware())
		r.Post("/get_verifycode", h.GetVerifyCode)
		r.Post("/user_register", h.UserRegister)
		r.Post("/reset_password", h.ResetPassword)
	})

	r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Url not found"))
	})

	return r
}

// verifyCodeRequest はPOST /get_verifycodeのリクエストボディ。
type verifyCodeRequest struct {
	Email string `json:"email"`
}

// GetVerifyCode は検証コードを発行する。
// POST /get_verifycode
func (h *Handler) GetVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGateJSON(w, map[string]any{"error": model.CodeJsonError})
		return
	}

	if err := h.service.GetVerifyCode(r.Context(), req.Email); err != nil {
		writeGateJSON(w, map[string]any{
			"error": model.CodeOf(err, model.CodeRpcFailed),
			"email": req.Email,
		})
		return
	}

	writeGateJSON(w, map[string]any{
		"error": model.CodeSuccess,
		"email": req.Email,
	})
}

// registerRequest はPOST /user_registerのリクエストボディ。
type registerRequest struct {
	User       string `json:"user"`
	Email      string `json:"email"`
	Password   string `json:"passwd"`
	Confirm    string `json:"confirm"`
	VerifyCode string `json:"verify_code"`
}

// UserRegister はユーザーを登録する。
// POST /user_register
func (h *Handler) UserRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGateJSON(w, map[string]any{"error": model.CodeJsonError})
		return
	}

	user, err := h.service.Register(r.Context(), RegisterParams{
		User:       req.User,
		Email:      req.Email,
		Password:   req.Password,
		Confirm:    req.Confirm,
		VerifyCode: req.VerifyCode,
	})
	if err != nil {
		code := model.CodeOf(err, model.CodeRpcFailed)
		if code == model.CodeRpcFailed {
			slog.Error("user registration failed",
				slog.String("user", req.User),
				slog.String("error", err.Error()),
			)
		}
		writeGateJSON(w, map[string]any{
			"error": code,
			"user":  req.User,
			"email": req.Email,
		})
		return
	}

	writeGateJSON(w, map[string]any{
		"error": model.CodeSuccess,
		"uid":   user.UID,
		"user":  user.Name,
		"email": user.Email,
	})
}

// loginRequest はPOST /user_loginのリクエストボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"passwd"`
}

// UserLogin は認証とシャード割り当てを行う。
// POST /user_login
func (h *Handler) UserLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGateJSON(w, map[string]any{"error": model.CodeJsonError})
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		code := model.CodeOf(err, model.CodeRpcFailed)
		if code == model.CodeRpcFailed {
			slog.Error("login failed",
				slog.String("email", req.Email),
				slog.String("error", err.Error()),
			)
		}
		writeGateJSON(w, map[string]any{
			"error": code,
			"email": req.Email,
		})
		return
	}

	writeGateJSON(w, map[string]any{
		"error": model.CodeSuccess,
		"uid":   result.UID,
		"user":  result.User,
		"email": req.Email,
		"host":  result.Host,
		"port":  result.Port,
		"token": result.Token,
	})
}

// resetRequest はPOST /reset_passwordのリクエストボディ。
type resetRequest struct {
	User       string `json:"user"`
	Email      string `json:"email"`
	Password   string `json:"passwd"`
	VerifyCode string `json:"verify_code"`
}

// ResetPassword はパスワードを再設定する。
// POST /reset_password
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGateJSON(w, map[string]any{"error": model.CodeJsonError})
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.User, req.Email, req.Password, req.VerifyCode); err != nil {
		code := model.CodeOf(err, model.CodeRpcFailed)
		if code == model.CodeRpcFailed {
			slog.Error("password reset failed",
				slog.String("user", req.User),
				slog.String("error", err.Error()),
			)
		}
		writeGateJSON(w, map[string]any{
			"error": code,
			"user":  req.User,
			"email": req.Email,
		})
		return
	}

	writeGateJSON(w, map[string]any{
		"error": model.CodeSuccess,
		"user":  req.User,
		"email": req.Email,
	})
}

// writeGateJSON はゲート共通のレスポンスを書き込む。
// Content-Typeは互換性のためtext/jsonを維持している。
func writeGateJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "text/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
