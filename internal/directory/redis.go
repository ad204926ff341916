package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/shardchat/internal/model"
)

// clearPresenceScript はプレゼンスのcompare-and-deleteを原子的に行う。
// 値が期待するシャード名のときだけ削除する。
var clearPresenceScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisDirectory はRedisを使用したセッションディレクトリ。
type RedisDirectory struct {
	client *redis.Client
}

// NewRedisDirectory はRedisDirectoryを生成する。
func NewRedisDirectory(client *redis.Client) *RedisDirectory {
	return &RedisDirectory{client: client}
}

// Open はアドレスとパスワードからRedis接続を確立する。
// 実際の疎通確認はPingで行う。
func Open(ctx context.Context, addr, password string) (*RedisDirectory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisDirectory(client), nil
}

// Close は接続を閉じる。
func (d *RedisDirectory) Close() error {
	return d.client.Close()
}

// SetToken はuidのセッショントークンを上書き保存する。
func (d *RedisDirectory) SetToken(ctx context.Context, uid int64, token string, ttl time.Duration) error {
	key := KeyTokenPrefix + strconv.FormatInt(uid, 10)
	if err := d.client.Set(ctx, key, token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set token: %w", err)
	}
	return nil
}

// GetToken はuidの現在のトークンを返す。
func (d *RedisDirectory) GetToken(ctx context.Context, uid int64) (string, error) {
	key := KeyTokenPrefix + strconv.FormatInt(uid, 10)
	token, err := d.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", model.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}
	return token, nil
}

// SetPresence はuidのプレゼンスレコードを書き換える。
func (d *RedisDirectory) SetPresence(ctx context.Context, uid int64, shardName string) error {
	key := KeyPresencePrefix + strconv.FormatInt(uid, 10)
	if err := d.client.Set(ctx, key, shardName, 0).Err(); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	return nil
}

// GetPresence はuidが接続しているシャード名を返す。
func (d *RedisDirectory) GetPresence(ctx context.Context, uid int64) (string, error) {
	key := KeyPresencePrefix + strconv.FormatInt(uid, 10)
	shard, err := d.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", model.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get presence: %w", err)
	}
	return shard, nil
}

// ClearPresenceIf はプレゼンスがshardNameを指す場合に限り削除する。
func (d *RedisDirectory) ClearPresenceIf(ctx context.Context, uid int64, shardName string) error {
	key := KeyPresencePrefix + strconv.FormatInt(uid, 10)
	if err := clearPresenceScript.Run(ctx, d.client, []string{key}, shardName).Err(); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	return nil
}

// IncrLoginCount はログインカウンターを原子的に加算する。
func (d *RedisDirectory) IncrLoginCount(ctx context.Context, shardName string, delta int64) (int64, error) {
	count, err := d.client.HIncrBy(ctx, KeyLoginCount, shardName, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment login count: %w", err)
	}
	return count, nil
}

// LoginCounts は全シャードのログインカウンターを返す。
func (d *RedisDirectory) LoginCounts(ctx context.Context) (map[string]int64, error) {
	raw, err := d.client.HGetAll(ctx, KeyLoginCount).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get login counts: %w", err)
	}

	counts := make(map[string]int64, len(raw))
	for shard, value := range raw {
		count, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid login count for %s: %w", shard, err)
		}
		counts[shard] = count
	}
	return counts, nil
}

// SetLoginCount はカウンターを指定値に設定する。
func (d *RedisDirectory) SetLoginCount(ctx context.Context, shardName string, count int64) error {
	if err := d.client.HSet(ctx, KeyLoginCount, shardName, count).Err(); err != nil {
		return fmt.Errorf("failed to set login count: %w", err)
	}
	return nil
}

// GetBaseInfo はキャッシュ済みのユーザー基本情報を返す。
func (d *RedisDirectory) GetBaseInfo(ctx context.Context, uid int64) (*model.BaseInfo, error) {
	key := KeyBaseInfoPrefix + strconv.FormatInt(uid, 10)
	raw, err := d.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get base info: %w", err)
	}

	var info model.BaseInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("failed to parse cached base info: %w", err)
	}
	return &info, nil
}

// SetBaseInfo はユーザー基本情報をキャッシュする。
func (d *RedisDirectory) SetBaseInfo(ctx context.Context, uid int64, info *model.BaseInfo, ttl time.Duration) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode base info: %w", err)
	}

	key := KeyBaseInfoPrefix + strconv.FormatInt(uid, 10)
	if err := d.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set base info: %w", err)
	}
	return nil
}

// SetVerifyCode は検証コードをTTL付きで保存する。
func (d *RedisDirectory) SetVerifyCode(ctx context.Context, email, code string, ttl time.Duration) error {
	if err := d.client.Set(ctx, KeyVerifyCodePrefix+email, code, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set verify code: %w", err)
	}
	return nil
}

// GetVerifyCode は検証コードを返す。
func (d *RedisDirectory) GetVerifyCode(ctx context.Context, email string) (string, error) {
	code, err := d.client.Get(ctx, KeyVerifyCodePrefix+email).Result()
	if errors.Is(err, redis.Nil) {
		return "", model.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get verify code: %w", err)
	}
	return code, nil
}

// compile-time interface check
var _ Directory = (*RedisDirectory)(nil)
