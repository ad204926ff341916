// Package app はサブコマンドの解析と各サーバーモードの起動配線を提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/shardchat/internal/chat"
	"github.com/hitoshi/shardchat/internal/config"
	"github.com/hitoshi/shardchat/internal/database"
	"github.com/hitoshi/shardchat/internal/directory"
	"github.com/hitoshi/shardchat/internal/gate"
	"github.com/hitoshi/shardchat/internal/logger"
	"github.com/hitoshi/shardchat/internal/metrics"
	"github.com/hitoshi/shardchat/internal/middleware"
	"github.com/hitoshi/shardchat/internal/repository"
	"github.com/hitoshi/shardchat/internal/status"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("GATE_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
	)

	switch cmd {
	case CommandGate:
		return runGate(cfg)
	case CommandStatus:
		return runStatus(cfg)
	case CommandChat:
		shardName := cfg.ShardName
		if len(args) > 1 {
			shardName = args[1]
		}
		return runChat(cfg, shardName)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runGate(cfg)
	}
}

// runGate はゲートサーバーモードで起動する。
// DB・Redis接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runGate(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	dir, err := openDirectory(cfg)
	if err != nil {
		return err
	}
	defer dir.Close()

	userRepo := repository.NewPostgresUserRepo(db)
	assigner := status.NewClient(cfg.StatusURL())
	service := gate.NewService(userRepo, dir, assigner)

	rateLimiter := middleware.NewRateLimiter(rateLimiterConfigFrom(cfg))
	defer rateLimiter.Stop()

	router := gate.NewRouter(&gate.RouterDeps{
		Service:     service,
		RateLimiter: rateLimiter,
		Logger:      slog.Default(),
		Gatherer:    prometheus.NewRegistry(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.GatePort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveHTTP(server, "gate server")
}

// runStatus はステータスサーバーモードで起動する。
// シャード割り当てとトークン検証のRPCを提供する。
func runStatus(cfg *config.Config) error {
	dir, err := openDirectory(cfg)
	if err != nil {
		return err
	}
	defer dir.Close()

	service := status.NewService(dir, cfg.Shards, cfg.TokenTTL)
	router := status.NewRouter(service)

	server := &http.Server{
		Addr:         ":" + cfg.StatusPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("status server managing shards",
		slog.Int("shard_count", len(cfg.Shards)),
	)

	return serveHTTP(server, "status server")
}

// runChat は指定された名前のチャットシャードとして起動する。
// TCPリスナーと内部HTTPサーバーを開き、シグナル受信まで接続を受け付ける。
func runChat(cfg *config.Config, shardName string) error {
	if shardName == "" {
		return fmt.Errorf("shard name is required: pass `chat <shard-name>` or set SHARD_NAME")
	}
	shard, ok := cfg.FindShard(shardName)
	if !ok {
		return fmt.Errorf("shard %q is not defined in SHARDS", shardName)
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	dir, err := openDirectory(cfg)
	if err != nil {
		return err
	}
	defer dir.Close()

	userRepo := repository.NewPostgresUserRepo(db)
	friendRepo := repository.NewPostgresFriendRepo(db)

	// トークン検証は共有ディレクトリと直接照合する。シャードの
	// ログイン可否をステータスサーバーの死活に依存させない。
	validator := chat.NewDirectoryValidator(dir)
	notifier := chat.NewPeerClient(cfg.Shards)
	registry := chat.NewRegistry()

	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)

	service := chat.NewService(
		shard, userRepo, friendRepo, dir,
		validator, notifier, registry, collector,
	)

	server := chat.NewServer(chat.ServerConfig{
		Shard:         shard,
		SendQueueSize: cfg.SendQueueSize,
		IdleTimeout:   cfg.IdleTimeout,
	}, service, registry, collector, promRegistry)

	// シグナル受信でコンテキストをキャンセルし、リスナーを閉じる
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down chat shard...")
		cancel()
	}()

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("chat shard failed: %w", err)
	}

	slog.Info("chat shard stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// openDirectory はRedisセッションディレクトリへの接続を確立する。
func openDirectory(cfg *config.Config) (*directory.RedisDirectory, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dir, err := directory.Open(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))
	return dir, nil
}

// serveHTTP はHTTPサーバーを起動し、SIGINT/SIGTERMで
// グレースフルシャットダウンする。
func serveHTTP(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error(name+" listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down " + name + "...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// rateLimiterConfigFrom はreq/min単位の設定値をレートリミッター設定に変換する。
func rateLimiterConfigFrom(cfg *config.Config) middleware.RateLimiterConfig {
	return middleware.RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(cfg.RateLimitGeneral) / 60.0),
		GeneralBurst:    cfg.RateLimitGeneral,
		RegisterRate:    rate.Limit(float64(cfg.RateLimitRegister) / 60.0),
		RegisterBurst:   cfg.RateLimitRegister,
		CleanupInterval: 5 * time.Minute,
	}
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
