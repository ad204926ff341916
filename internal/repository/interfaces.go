// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/shardchat/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByUID は指定UIDのユーザーを取得する。見つからない場合はnilを返す。
	FindByUID(ctx context.Context, uid int64) (*model.User, error)

	// FindByName はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成し、採番されたUIDをuser.UIDに書き戻す。
	// 名前またはメールアドレスが既存ユーザーと重複する場合は
	// model.ErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdatePassword は指定メールアドレスのユーザーのパスワードを更新する。
	// 該当ユーザーが存在しない場合はmodel.ErrNotFoundを返す。
	UpdatePassword(ctx context.Context, email, password string) error
}

// FriendRepository は友達関係と友達申請の永続化インターフェース。
type FriendRepository interface {
	// CreateApplication はfromUIDからtoUIDへの友達申請を記録する。
	// 同じペアの申請が既にある場合は申請名を上書きする。
	CreateApplication(ctx context.Context, fromUID, toUID int64, applyName string) error

	// FindApplication はfromUIDからtoUIDへの未承認申請を取得する。
	// 見つからない場合はnilを返す。
	FindApplication(ctx context.Context, fromUID, toUID int64) (*model.FriendApplication, error)

	// ListApplicationsTo はtoUID宛ての未承認申請を作成日時昇順で返す。
	ListApplicationsTo(ctx context.Context, toUID int64) ([]model.FriendApplication, error)

	// Approve はfromUIDからtoUIDへの申請を消費し、双方向の友達関係を
	// 同一トランザクションで作成する。該当する申請が存在しない場合は
	// model.ErrNoApplicationを返す。
	Approve(ctx context.Context, fromUID, toUID int64) error

	// ListFriends はuidの友達一覧を返す。
	ListFriends(ctx context.Context, uid int64) ([]model.FriendEntry, error)
}
