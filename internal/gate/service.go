// Package gate はアカウント管理とチャット接続の取次を行うHTTPゲートを提供する。
//
// クライアントはここで登録・ログインし、割り当てられたシャードの
// アドレスとトークンを受け取ってからTCPで接続し直す。
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shardchat/internal/directory"
	"github.com/hitoshi/shardchat/internal/model"
	"github.com/hitoshi/shardchat/internal/repository"
	"github.com/hitoshi/shardchat/internal/status"
)

// verifyCodeTTL は検証コードの有効期間。
const verifyCodeTTL = 10 * time.Minute

// ShardAssigner はステータスサーバーへのシャード割り当てRPC。
type ShardAssigner interface {
	GetChatServer(ctx context.Context, uid int64) (*status.GetChatServerResponse, error)
}

// Service はゲートサーバーのドメインロジック。
type Service struct {
	users     repository.UserRepository
	directory directory.Directory
	assigner  ShardAssigner
	newCode   func() string
}

// NewService はServiceを生成する。
func NewService(users repository.UserRepository, dir directory.Directory, assigner ShardAssigner) *Service {
	return &Service{
		users:     users,
		directory: dir,
		assigner:  assigner,
		newCode:   defaultVerifyCode,
	}
}

// defaultVerifyCode は4文字の検証コードを生成する。
func defaultVerifyCode() string {
	return uuid.NewString()[:4]
}

// GetVerifyCode はメールアドレス宛の検証コードを発行して保存する。
// コードの配送（メール送信）はこのサービスの範囲外。
func (s *Service) GetVerifyCode(ctx context.Context, email string) error {
	if email == "" {
		return model.NewCodedError(model.CodeEmailNotMatch, "email is required")
	}

	code := s.newCode()
	if err := s.directory.SetVerifyCode(ctx, email, code, verifyCodeTTL); err != nil {
		return fmt.Errorf("検証コードの保存に失敗しました: %w", err)
	}

	// 配送側のチャネルが未接続の間はログが唯一の出口になる
	slog.Info("verify code issued", slog.String("email", email))
	return nil
}

// RegisterParams はユーザー登録の入力。
type RegisterParams struct {
	User       string
	Email      string
	Password   string
	Confirm    string
	VerifyCode string
}

// Register は検証コードを確認してユーザーを作成する。
// 成功時は採番済みuidを持つユーザーを返す。
func (s *Service) Register(ctx context.Context, params RegisterParams) (*model.User, error) {
	if params.Password != params.Confirm {
		return nil, model.NewCodedError(model.CodePasswordError, "password and confirm do not match")
	}
	if params.Password == "" {
		return nil, model.NewCodedError(model.CodePasswordInvalid, "password is required")
	}

	if err := s.checkVerifyCode(ctx, params.Email, params.VerifyCode); err != nil {
		return nil, err
	}

	now := time.Now()
	user := &model.User{
		Name:      params.User,
		Email:     params.Email,
		Password:  params.Password,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, model.ErrDuplicate) {
			return nil, model.NewCodedError(model.CodeUserExist, "user or email already exists")
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("user registered",
		slog.Int64("uid", user.UID),
		slog.String("user", user.Name),
	)
	return user, nil
}

// checkVerifyCode はディレクトリ上の検証コードと照合する。
func (s *Service) checkVerifyCode(ctx context.Context, email, code string) error {
	stored, err := s.directory.GetVerifyCode(ctx, email)
	if errors.Is(err, model.ErrNotFound) {
		return model.NewCodedError(model.CodeVerifyExpired, "verify code expired or never issued")
	}
	if err != nil {
		return fmt.Errorf("検証コードの取得に失敗しました: %w", err)
	}
	if stored != code {
		return model.NewCodedError(model.CodeVerifyCodeError, "verify code mismatch")
	}
	return nil
}

// LoginResult はログイン成功時にクライアントへ返す接続情報。
type LoginResult struct {
	UID   int64
	User  string
	Host  string
	Port  string
	Token string
}

// Login はメールアドレスとパスワードを検証し、シャード割り当てRPCの
// 結果を返す。
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil || user.Password != password {
		return nil, model.NewCodedError(model.CodePasswordInvalid, "email or password is wrong")
	}

	assignment, err := s.assigner.GetChatServer(ctx, user.UID)
	if err != nil {
		var coded *model.CodedError
		if errors.As(err, &coded) {
			return nil, err
		}
		return nil, model.NewCodedError(model.CodeRpcFailed, "get_chat_server rpc failed: "+err.Error())
	}

	return &LoginResult{
		UID:   user.UID,
		User:  user.Name,
		Host:  assignment.Host,
		Port:  assignment.Port,
		Token: assignment.Token,
	}, nil
}

// ResetPassword は検証コードとユーザー・メールアドレスの対応を確認して
// パスワードを更新する。
func (s *Service) ResetPassword(ctx context.Context, userName, email, password, code string) error {
	if password == "" {
		return model.NewCodedError(model.CodePasswordInvalid, "password is required")
	}

	if err := s.checkVerifyCode(ctx, email, code); err != nil {
		return err
	}

	user, err := s.users.FindByName(ctx, userName)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil || user.Email != email {
		return model.NewCodedError(model.CodeEmailNotMatch, "user and email do not match")
	}

	if err := s.users.UpdatePassword(ctx, email, password); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.NewCodedError(model.CodeEmailNotMatch, "user not found")
		}
		return model.NewCodedError(model.CodePasswordUpdateFail, "failed to update password: "+err.Error())
	}

	slog.Info("password reset", slog.Int64("uid", user.UID))
	return nil
}
