// Package config は環境変数からのアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/shardchat/internal/model"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis
	RedisAddr     string
	RedisPassword string

	// Gate
	GatePort string

	// Status
	StatusPort string
	StatusAddr string

	// Chat
	Shards        []model.ChatShard
	ShardName     string
	TokenTTL      time.Duration
	SendQueueSize int
	IdleTimeout   time.Duration

	// Rate Limit
	RateLimitGeneral  int
	RateLimitRegister int
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	shardsSpec := os.Getenv("SHARDS")
	if shardsSpec == "" {
		missing = append(missing, "SHARDS")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	shards, err := ParseShards(shardsSpec)
	if err != nil {
		return nil, fmt.Errorf("invalid SHARDS: %w", err)
	}
	cfg.Shards = shards

	// Optional fields with defaults
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.GatePort = getEnvString("GATE_PORT", "8080")
	cfg.StatusPort = getEnvString("STATUS_PORT", "8081")
	cfg.StatusAddr = getEnvString("STATUS_ADDR", "localhost:"+cfg.StatusPort)
	cfg.ShardName = getEnvString("SHARD_NAME", "")
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 24*time.Hour)
	cfg.SendQueueSize = getEnvInt("CHAT_SEND_QUEUE", 64)
	cfg.IdleTimeout = getEnvDuration("CHAT_IDLE_TIMEOUT", 10*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitRegister = getEnvInt("RATE_LIMIT_REGISTER", 10)

	return cfg, nil
}

// StatusURL はステータスサーバーRPCのベースURLを返す。
func (c *Config) StatusURL() string {
	return "http://" + c.StatusAddr
}

// FindShard は名前でシャード定義を引く。
func (c *Config) FindShard(name string) (model.ChatShard, bool) {
	for _, s := range c.Shards {
		if s.Name == name {
			return s, true
		}
	}
	return model.ChatShard{}, false
}

// ParseShards はSHARDS環境変数の値をシャード定義に解析する。
// 書式は "Name=host:port:rpcport" のカンマ区切り。宣言順は
// ロードバランスのタイブレークに使われるため保存される。
func ParseShards(spec string) ([]model.ChatShard, error) {
	var shards []model.ChatShard
	seen := make(map[string]bool)

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		name, addr, ok := strings.Cut(entry, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("shard entry %q: want Name=host:port:rpcport", entry)
		}

		parts := strings.Split(addr, ":")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("shard entry %q: want Name=host:port:rpcport", entry)
		}

		if seen[name] {
			return nil, fmt.Errorf("shard entry %q: duplicate shard name", entry)
		}
		seen[name] = true

		shards = append(shards, model.ChatShard{
			Name:    name,
			Host:    parts[0],
			Port:    parts[1],
			RPCPort: parts[2],
		})
	}

	if len(shards) == 0 {
		return nil, fmt.Errorf("no shard entries in %q", spec)
	}
	return shards, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
