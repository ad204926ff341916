package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitoshi/shardchat/internal/directory"
	"github.com/hitoshi/shardchat/internal/model"
)

// DirectoryValidator はセッションディレクトリ上のトークンと直接照合する
// TokenValidator。シャード同士はステータスサーバーを経由せず、共有
// ディレクトリのみで調停されるため、ステータスサーバーが落ちていても
// ログインは継続できる。
type DirectoryValidator struct {
	directory directory.Directory
}

// NewDirectoryValidator はDirectoryValidatorを生成する。
func NewDirectoryValidator(dir directory.Directory) *DirectoryValidator {
	return &DirectoryValidator{directory: dir}
}

// Login はuidとtokenの組を検証する。
// トークンレコードが存在しない場合はkUidInvalid、
// 一致しない場合はkTokenInvalidのCodedErrorを返す。
func (v *DirectoryValidator) Login(ctx context.Context, uid int64, token string) error {
	stored, err := v.directory.GetToken(ctx, uid)
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

var _ TokenValidator = (*DirectoryValidator)(nil)
