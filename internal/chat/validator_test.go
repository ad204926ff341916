package chat

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/shardchat/internal/directory"
	"github.com/hitoshi/shardchat/internal/model"
)

// ディレクトリ上のトークンとの直接照合を検証
func TestDirectoryValidator_Login(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemoryDirectory()
	if err := dir.SetToken(ctx, 1, "tok", time.Hour); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	v := NewDirectoryValidator(dir)

	tests := []struct {
		name  string
		uid   int64
		token string
		want  model.ErrorCode
	}{
		{name: "一致", uid: 1, token: "tok", want: model.CodeSuccess},
		{name: "不一致", uid: 1, token: "other", want: model.CodeTokenInvalid},
		{name: "レコードなし", uid: 2, token: "tok", want: model.CodeUidInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Login(ctx, tt.uid, tt.token)
			if got := model.CodeOf(err, model.CodeRpcFailed); got != tt.want {
				t.Fatalf("code = %s, want %s", got, tt.want)
			}
		})
	}
}

// 発行済みトークンの上書き後は新しいトークンのみ有効になることを検証
func TestDirectoryValidator_TokenOverwrite(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemoryDirectory()
	v := NewDirectoryValidator(dir)

	if err := dir.SetToken(ctx, 1, "old", time.Hour); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	if err := dir.SetToken(ctx, 1, "new", time.Hour); err != nil {
		t.Fatalf("overwrite token: %v", err)
	}

	if err := v.Login(ctx, 1, "new"); err != nil {
		t.Errorf("new token should validate: %v", err)
	}
	if got := model.CodeOf(v.Login(ctx, 1, "old"), model.CodeRpcFailed); got != model.CodeTokenInvalid {
		t.Errorf("old token: code = %s, want TokenInvalid", got)
	}
}
