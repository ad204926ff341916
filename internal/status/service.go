// Package status はシャード割り当てとトークン検証を提供する。
//
// ゲートサーバーからの問い合わせに対して最も空いているチャット
// シャードを割り当て、セッショントークンを払い出す。チャット
// シャードはここに問い合わせてトークンを検証する。
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shardchat/internal/directory"
	"github.com/hitoshi/shardchat/internal/model"
)

// Service はステータスサーバーのドメインロジック。
type Service struct {
	directory directory.Directory
	shards    []model.ChatShard
	tokenTTL  time.Duration
	newToken  func() string
}

// NewService はServiceを生成する。shardsの並び順は割り当ての
// タイブレークに使用されるため設定ファイルの順序を維持すること。
func NewService(dir directory.Directory, shards []model.ChatShard, tokenTTL time.Duration) *Service {
	return &Service{
		directory: dir,
		shards:    shards,
		tokenTTL:  tokenTTL,
		newToken:  uuid.NewString,
	}
}

// Assignment はシャード割り当ての結果。
type Assignment struct {
	Shard model.ChatShard
	Token string
}

// AssignShard はuidに最も空いているシャードを割り当て、新しい
// セッショントークンを払い出す。以前のトークンは上書きされて
// 即座に無効になる。
func (s *Service) AssignShard(ctx context.Context, uid int64) (*Assignment, error) {
	if uid <= 0 {
		return nil, model.NewCodedError(model.CodeUidInvalid, "uid must be positive")
	}

	shard, err := s.pickShard(ctx)
	if err != nil {
		return nil, fmt.Errorf("シャードの選択に失敗しました: %w", err)
	}

	token := s.newToken()
	if err := s.directory.SetToken(ctx, uid, token, s.tokenTTL); err != nil {
		return nil, fmt.Errorf("トークンの保存に失敗しました: %w", err)
	}

	slog.Info("chat shard assigned",
		slog.Int64("uid", uid),
		slog.String("shard", shard.Name),
	)

	return &Assignment{Shard: shard, Token: token}, nil
}

// pickShard はログインカウンターが最小のシャードを返す。
// カウンターが存在しないシャードは満員とみなす。同数の場合は
// 設定順で先のシャードを選ぶ。
func (s *Service) pickShard(ctx context.Context) (model.ChatShard, error) {
	if len(s.shards) == 0 {
		return model.ChatShard{}, fmt.Errorf("チャットシャードが設定されていません")
	}

	counts, err := s.directory.LoginCounts(ctx)
	if err != nil {
		return model.ChatShard{}, err
	}

	best := s.shards[0]
	bestCount := int64(math.MaxInt64)
	for _, shard := range s.shards {
		count, ok := counts[shard.Name]
		if !ok {
			count = math.MaxInt64
		}
		if count < bestCount {
			best = shard
			bestCount = count
		}
	}
	return best, nil
}

// ValidateLogin はuidとtokenの組を検証する。
// トークンレコードが存在しない場合はkUidInvalid、
// 一致しない場合はkTokenInvalidのCodedErrorを返す。
func (s *Service) ValidateLogin(ctx context.Context, uid int64, token string) error {
	if uid <= 0 {
		return model.NewCodedError(model.CodeUidInvalid, "uid must be positive")
	}

	stored, err := s.directory.GetToken(ctx, uid)
	if errors.Is(err, model.ErrNotFound) {
		return model.NewCodedError(model.CodeUidInvalid, "no token record for uid")
	}
	if err != nil {
		return fmt.Errorf("トークンの取得に失敗しました: %w", err)
	}

	if stored != token {
		return model.NewCodedError(model.CodeTokenInvalid, "token mismatch")
	}
	return nil
}
