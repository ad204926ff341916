package gate

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/shardchat/internal/directory"
	"github.com/hitoshi/shardchat/internal/model"
	"github.com/hitoshi/shardchat/internal/status"
)

// mockUserRepo はUserRepositoryの関数フィールドモック。
type mockUserRepo struct {
	findByUID      func(ctx context.Context, uid int64) (*model.User, error)
	findByName     func(ctx context.Context, name string) (*model.User, error)
	findByEmail    func(ctx context.Context, email string) (*model.User, error)
	create         func(ctx context.Context, user *model.User) error
	updatePassword func(ctx context.Context, email, password string) error
}

func (m *mockUserRepo) FindByUID(ctx context.Context, uid int64) (*model.User, error) {
	if m.findByUID == nil {
		return nil, nil
	}
	return m.findByUID(ctx, uid)
}

func (m *mockUserRepo) FindByName(ctx context.Context, name string) (*model.User, error) {
	if m.findByName == nil {
		return nil, nil
	}
	return m.findByName(ctx, name)
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmail == nil {
		return nil, nil
	}
	return m.findByEmail(ctx, email)
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.create == nil {
		return nil
	}
	return m.create(ctx, user)
}

func (m *mockUserRepo) UpdatePassword(ctx context.Context, email, password string) error {
	if m.updatePassword == nil {
		return nil
	}
	return m.updatePassword(ctx, email, password)
}

// mockAssigner はShardAssignerの関数フィールドモック。
type mockAssigner struct {
	getChatServer func(ctx context.Context, uid int64) (*status.GetChatServerResponse, error)
}

func (m *mockAssigner) GetChatServer(ctx context.Context, uid int64) (*status.GetChatServerResponse, error) {
	if m.getChatServer == nil {
		return &status.GetChatServerResponse{
			Error: model.CodeSuccess,
			Host:  "127.0.0.1",
			Port:  "8090",
			Token: "issued-token",
		}, nil
	}
	return m.getChatServer(ctx, uid)
}

func newTestService() (*Service, *mockUserRepo, *directory.MemoryDirectory) {
	users := &mockUserRepo{}
	dir := directory.NewMemoryDirectory()
	svc := NewService(users, dir, &mockAssigner{})
	svc.newCode = func() string { return "qwer" }
	return svc, users, dir
}

// 検証コードが発行・保存されることを検証
func TestService_GetVerifyCode(t *testing.T) {
	svc, _, dir := newTestService()
	ctx := context.Background()

	if err := svc.GetVerifyCode(ctx, "alice@example.com"); err != nil {
		t.Fatalf("get verify code: %v", err)
	}

	code, err := dir.GetVerifyCode(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("stored code: %v", err)
	}
	if code != "qwer" {
		t.Errorf("code = %q, want qwer", code)
	}
}

// 登録フローのエラーコード分類を検証
func TestService_Register(t *testing.T) {
	ctx := context.Background()

	base := RegisterParams{
		User:       "alice",
		Email:      "alice@example.com",
		Password:   "secret",
		Confirm:    "secret",
		VerifyCode: "qwer",
	}

	tests := []struct {
		name      string
		mutate    func(p *RegisterParams)
		storeCode bool
		createErr error
		want      model.ErrorCode
	}{
		{name: "成功", storeCode: true, want: model.CodeSuccess},
		{
			name:      "確認パスワード不一致",
			mutate:    func(p *RegisterParams) { p.Confirm = "other" },
			storeCode: true,
			want:      model.CodePasswordError,
		},
		{name: "検証コード未発行", storeCode: false, want: model.CodeVerifyExpired},
		{
			name:      "検証コード不一致",
			mutate:    func(p *RegisterParams) { p.VerifyCode = "zzzz" },
			storeCode: true,
			want:      model.CodeVerifyCodeError,
		},
		{
			name:      "重複ユーザー",
			storeCode: true,
			createErr: model.ErrDuplicate,
			want:      model.CodeUserExist,
		},
		{
			name:      "空パスワード",
			mutate:    func(p *RegisterParams) { p.Password = ""; p.Confirm = "" },
			storeCode: true,
			want:      model.CodePasswordInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, users, dir := newTestService()
			if tt.storeCode {
				if err := dir.SetVerifyCode(ctx, base.Email, "qwer", time.Hour); err != nil {
					t.Fatalf("seed code: %v", err)
				}
			}
			users.create = func(_ context.Context, user *model.User) error {
				if tt.createErr != nil {
					return tt.createErr
				}
				user.UID = 7
				return nil
			}

			params := base
			if tt.mutate != nil {
				tt.mutate(&params)
			}

			user, err := svc.Register(ctx, params)
			if got := model.CodeOf(err, model.CodeRpcFailed); got != tt.want {
				t.Fatalf("code = %s, want %s", got, tt.want)
			}
			if tt.want == model.CodeSuccess && user.UID != 7 {
				t.Errorf("uid = %d, want 7", user.UID)
			}
		})
	}
}

// ログインが資格情報を検証し、割り当て結果を返すことを検証
func TestService_Login(t *testing.T) {
	svc, users, _ := newTestService()
	ctx := context.Background()

	users.findByEmail = func(_ context.Context, email string) (*model.User, error) {
		if email == "alice@example.com" {
			return &model.User{UID: 1, Name: "alice", Email: email, Password: "secret"}, nil
		}
		return nil, nil
	}

	result, err := svc.Login(ctx, "alice@example.com", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.UID != 1 || result.User != "alice" {
		t.Errorf("result = %+v", result)
	}
	if result.Host != "127.0.0.1" || result.Port != "8090" || result.Token != "issued-token" {
		t.Errorf("assignment = %+v", result)
	}

	// パスワード不一致と未登録メールは同じコードで拒否される
	if _, err := svc.Login(ctx, "alice@example.com", "wrong"); model.CodeOf(err, model.CodeRpcFailed) != model.CodePasswordInvalid {
		t.Errorf("wrong password: err = %v, want PasswordInvalid", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "secret"); model.CodeOf(err, model.CodeRpcFailed) != model.CodePasswordInvalid {
		t.Errorf("unknown email: err = %v, want PasswordInvalid", err)
	}
}

// 割り当てRPCの失敗コードがそのまま伝播することを検証
func TestService_Login_AssignerFailure(t *testing.T) {
	svc, users, _ := newTestService()
	ctx := context.Background()

	users.findByEmail = func(_ context.Context, email string) (*model.User, error) {
		return &model.User{UID: 1, Name: "alice", Email: email, Password: "secret"}, nil
	}
	svc.assigner = &mockAssigner{
		getChatServer: func(_ context.Context, _ int64) (*status.GetChatServerResponse, error) {
			return nil, model.NewCodedError(model.CodeRpcFailed, "status unreachable")
		},
	}

	_, err := svc.Login(ctx, "alice@example.com", "secret")
	if model.CodeOf(err, model.CodeSuccess) != model.CodeRpcFailed {
		t.Errorf("err = %v, want RpcFailed", err)
	}
}

// パスワード再設定のエラーコード分類を検証
func TestService_ResetPassword(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Service, *mockUserRepo) {
		t.Helper()
		svc, users, dir := newTestService()
		if err := dir.SetVerifyCode(ctx, "alice@example.com", "qwer", time.Hour); err != nil {
			t.Fatalf("seed code: %v", err)
		}
		users.findByName = func(_ context.Context, name string) (*model.User, error) {
			if name == "alice" {
				return &model.User{UID: 1, Name: "alice", Email: "alice@example.com", Password: "old"}, nil
			}
			return nil, nil
		}
		return svc, users
	}

	t.Run("成功", func(t *testing.T) {
		svc, users := setup(t)
		var updatedEmail, updatedPassword string
		users.updatePassword = func(_ context.Context, email, password string) error {
			updatedEmail, updatedPassword = email, password
			return nil
		}

		if err := svc.ResetPassword(ctx, "alice", "alice@example.com", "newpw", "qwer"); err != nil {
			t.Fatalf("reset: %v", err)
		}
		if updatedEmail != "alice@example.com" || updatedPassword != "newpw" {
			t.Errorf("updated %q/%q", updatedEmail, updatedPassword)
		}
	})

	t.Run("メールアドレス不一致", func(t *testing.T) {
		svc, _ := setup(t)
		err := svc.ResetPassword(ctx, "alice", "other@example.com", "newpw", "qwer")
		// 検証コードはemailキーで引くため、別アドレスはコード期限切れ扱い
		if model.CodeOf(err, model.CodeRpcFailed) != model.CodeVerifyExpired {
			t.Errorf("err = %v, want VerifyExpired", err)
		}
	})

	t.Run("別ユーザーのメールアドレス", func(t *testing.T) {
		svc, users := setup(t)
		users.findByName = func(_ context.Context, name string) (*model.User, error) {
			return &model.User{UID: 2, Name: name, Email: "bob@example.com"}, nil
		}
		err := svc.ResetPassword(ctx, "bob", "alice@example.com", "newpw", "qwer")
		if model.CodeOf(err, model.CodeRpcFailed) != model.CodeEmailNotMatch {
			t.Errorf("err = %v, want EmailNotMatch", err)
		}
	})

	t.Run("更新失敗", func(t *testing.T) {
		svc, users := setup(t)
		users.updatePassword = func(_ context.Context, _, _ string) error {
			return model.ErrNotFound
		}
		err := svc.ResetPassword(ctx, "alice", "alice@example.com", "newpw", "qwer")
		if model.CodeOf(err, model.CodeRpcFailed) != model.CodeEmailNotMatch {
			t.Errorf("err = %v, want EmailNotMatch", err)
		}
	})
}
