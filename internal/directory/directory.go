// Package directory はセッションディレクトリ（トークン・プレゼンス・
// ログインカウンター・プロファイルキャッシュ）へのアクセスを提供する。
//
// 実体はプロセス外の共有KVストア。テストではインメモリ実装、
// 本番ではRedis実装に差し替えられるよう狭いインターフェースで切る。
package directory

import (
	"context"
	"time"

	"github.com/hitoshi/shardchat/internal/model"
)

// 論理キーのプレフィックス。バックエンドに依存しない契約の一部。
const (
	KeyTokenPrefix      = "utoken_"
	KeyPresencePrefix   = "uip_"
	KeyBaseInfoPrefix   = "ubaseinfo_"
	KeyVerifyCodePrefix = "code_"
	KeyLoginCount       = "login_count"
)

// Directory はセッションディレクトリの操作インターフェース。
// 見つからないレコードはmodel.ErrNotFoundで報告する。
type Directory interface {
	// SetToken はuidのセッショントークンを上書き保存する。
	// 以前のトークンは即座に無効になる（last-writer-wins）。
	SetToken(ctx context.Context, uid int64, token string, ttl time.Duration) error

	// GetToken はuidの現在のトークンを返す。
	GetToken(ctx context.Context, uid int64) (string, error)

	// SetPresence はuidのプレゼンスレコードをshardNameに書き換える。
	SetPresence(ctx context.Context, uid int64, shardName string) error

	// GetPresence はuidが接続しているシャード名を返す。
	GetPresence(ctx context.Context, uid int64) (string, error)

	// ClearPresenceIf はuidのプレゼンスがshardNameを指している場合に
	// 限り削除する。別シャードへ再ログイン済みのレコードは消さない。
	ClearPresenceIf(ctx context.Context, uid int64, shardName string) error

	// IncrLoginCount はシャードのログインカウンターを原子的に加算し、
	// 加算後の値を返す。
	IncrLoginCount(ctx context.Context, shardName string, delta int64) (int64, error)

	// LoginCounts は全シャードのログインカウンターを返す。
	// 一度もログインされていないシャードはマップに含まれない。
	LoginCounts(ctx context.Context) (map[string]int64, error)

	// SetLoginCount はカウンターを指定値に設定する。運用・テスト用。
	SetLoginCount(ctx context.Context, shardName string, count int64) error

	// GetBaseInfo はキャッシュ済みのユーザー基本情報を返す。
	GetBaseInfo(ctx context.Context, uid int64) (*model.BaseInfo, error)

	// SetBaseInfo はユーザー基本情報をキャッシュする。
	SetBaseInfo(ctx context.Context, uid int64, info *model.BaseInfo, ttl time.Duration) error

	// SetVerifyCode はメールアドレス宛の検証コードをTTL付きで保存する。
	SetVerifyCode(ctx context.Context, email, code string, ttl time.Duration) error

	// GetVerifyCode はメールアドレス宛の検証コードを返す。
	GetVerifyCode(ctx context.Context, email string) (string, error)
}
