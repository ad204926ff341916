package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/shardchat/internal/model"
)

// MemoryDirectory はテスト用のインメモリセッションディレクトリ。
// 単一プロセス内でのみ共有できる。TTLは期限時刻として保持し、
// 読み出し時に失効を判定する。
type MemoryDirectory struct {
	mu          sync.Mutex
	values      map[string]memoryEntry
	loginCounts map[string]int64
	now         func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // ゼロ値は無期限
}

// NewMemoryDirectory はMemoryDirectoryを生成する。
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		values:      make(map[string]memoryEntry),
		loginCounts: make(map[string]int64),
		now:         time.Now,
	}
}

// SetNow はテストから時刻源を差し替える。
func (d *MemoryDirectory) SetNow(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

func (d *MemoryDirectory) set(key, value string, ttl time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = d.now().Add(ttl)
	}
	d.values[key] = entry
}

func (d *MemoryDirectory) get(key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.values[key]
	if !ok {
		return "", false
	}
	if !entry.expiresAt.IsZero() && d.now().After(entry.expiresAt) {
		delete(d.values, key)
		return "", false
	}
	return entry.value, true
}

// SetToken はuidのセッショントークンを上書き保存する。
func (d *MemoryDirectory) SetToken(_ context.Context, uid int64, token string, ttl time.Duration) error {
	d.set(KeyTokenPrefix+strconv.FormatInt(uid, 10), token, ttl)
	return nil
}

// GetToken はuidの現在のトークンを返す。
func (d *MemoryDirectory) GetToken(_ context.Context, uid int64) (string, error) {
	token, ok := d.get(KeyTokenPrefix + strconv.FormatInt(uid, 10))
	if !ok {
		return "", model.ErrNotFound
	}
	return token, nil
}

// SetPresence はuidのプレゼンスレコードを書き換える。
func (d *MemoryDirectory) SetPresence(_ context.Context, uid int64, shardName string) error {
	d.set(KeyPresencePrefix+strconv.FormatInt(uid, 10), shardName, 0)
	return nil
}

// GetPresence はuidが接続しているシャード名を返す。
func (d *MemoryDirectory) GetPresence(_ context.Context, uid int64) (string, error) {
	shard, ok := d.get(KeyPresencePrefix + strconv.FormatInt(uid, 10))
	if !ok {
		return "", model.ErrNotFound
	}
	return shard, nil
}

// ClearPresenceIf はプレゼンスがshardNameを指す場合に限り削除する。
func (d *MemoryDirectory) ClearPresenceIf(_ context.Context, uid int64, shardName string) error {
	key := KeyPresencePrefix + strconv.FormatInt(uid, 10)

	d.mu.Lock()
	defer d.mu.Unlock()
	if entry, ok := d.values[key]; ok && entry.value == shardName {
		delete(d.values, key)
	}
	return nil
}

// IncrLoginCount はログインカウンターを原子的に加算する。
func (d *MemoryDirectory) IncrLoginCount(_ context.Context, shardName string, delta int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loginCounts[shardName] += delta
	return d.loginCounts[shardName], nil
}

// LoginCounts は全シャードのログインカウンターを返す。
func (d *MemoryDirectory) LoginCounts(_ context.Context) (map[string]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	counts := make(map[string]int64, len(d.loginCounts))
	for shard, count := range d.loginCounts {
		counts[shard] = count
	}
	return counts, nil
}

// SetLoginCount はカウンターを指定値に設定する。
func (d *MemoryDirectory) SetLoginCount(_ context.Context, shardName string, count int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loginCounts[shardName] = count
	return nil
}

// GetBaseInfo はキャッシュ済みのユーザー基本情報を返す。
func (d *MemoryDirectory) GetBaseInfo(ctx context.Context, uid int64) (*model.BaseInfo, error) {
	raw, ok := d.get(KeyBaseInfoPrefix + strconv.FormatInt(uid, 10))
	if !ok {
		return nil, model.ErrNotFound
	}

	var info model.BaseInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("failed to parse cached base info: %w", err)
	}
	return &info, nil
}

// SetBaseInfo はユーザー基本情報をキャッシュする。
func (d *MemoryDirectory) SetBaseInfo(_ context.Context, uid int64, info *model.BaseInfo, ttl time.Duration) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode base info: %w", err)
	}
	d.set(KeyBaseInfoPrefix+strconv.FormatInt(uid, 10), string(raw), ttl)
	return nil
}

// SetVerifyCode は検証コードをTTL付きで保存する。
func (d *MemoryDirectory) SetVerifyCode(_ context.Context, email, code string, ttl time.Duration) error {
	d.set(KeyVerifyCodePrefix+email, code, ttl)
	return nil
}

// GetVerifyCode は検証コードを返す。
func (d *MemoryDirectory) GetVerifyCode(_ context.Context, email string) (string, error) {
	code, ok := d.get(KeyVerifyCodePrefix + email)
	if !ok {
		return "", model.ErrNotFound
	}
	return code, nil
}

// compile-time interface check
var _ Directory = (*MemoryDirectory)(nil)
