package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/shardchat/internal/model"
)

// PostgresFriendRepo はPostgreSQLを使用した友達関係リポジトリ。
type PostgresFriendRepo struct {
	db *sql.DB
}

// NewPostgresFriendRepo はPostgresFriendRepoを生成する。
func NewPostgresFriendRepo(db *sql.DB) *PostgresFriendRepo {
	return &PostgresFriendRepo{db: db}
}

// CreateApplication はfromUIDからtoUIDへの友達申請を記録する。
// 同じペアの申請が既にある場合は申請名を上書きする。
func (r *PostgresFriendRepo) CreateApplication(ctx context.Context, fromUID, toUID int64, applyName string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO friend_applications (from_uid, to_uid, apply_name, created_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (from_uid, to_uid)
		 DO UPDATE SET apply_name = EXCLUDED.apply_name`,
		fromUID, toUID, applyName,
	)
	if err != nil {
		return fmt.Errorf("failed to insert friend application: %w", err)
	}
	return nil
}

// FindApplication はfromUIDからtoUIDへの未承認申請を取得する。
// 見つからない場合はnilを返す。
func (r *PostgresFriendRepo) FindApplication(ctx context.Context, fromUID, toUID int64) (*model.FriendApplication, error) {
	app := &model.FriendApplication{}
	err := r.db.QueryRowContext(ctx,
		`SELECT from_uid, apply_name, created_at FROM friend_applications
		 WHERE from_uid = $1 AND to_uid = $2`,
		fromUID, toUID,
	).Scan(&app.ApplyUID, &app.ApplyName, &app.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find friend application: %w", err)
	}

	return app, nil
}

// ListApplicationsTo はtoUID宛ての未承認申請を作成日時昇順で返す。
func (r *PostgresFriendRepo) ListApplicationsTo(ctx context.Context, toUID int64) ([]model.FriendApplication, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT from_uid, apply_name, created_at FROM friend_applications
		 WHERE to_uid = $1
		 ORDER BY created_at ASC`,
		toUID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list friend applications: %w", err)
	}
	defer rows.Close()

	var apps []model.FriendApplication
	for rows.Next() {
		var app model.FriendApplication
		if err := rows.Scan(&app.ApplyUID, &app.ApplyName, &app.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan friend application: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate friend applications: %w", err)
	}

	return apps, nil
}

// Approve はfromUIDからtoUIDへの申請を消費し、双方向の友達関係を
// 同一トランザクションで作成する。
func (r *PostgresFriendRepo) Approve(ctx context.Context, fromUID, toUID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 申請を消費
	result, err := tx.ExecContext(ctx,
		`DELETE FROM friend_applications WHERE from_uid = $1 AND to_uid = $2`,
		fromUID, toUID,
	)
	if err != nil {
		return fmt.Errorf("failed to consume friend application: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrNoApplication
	}

	// 双方向の関係を作成。再承認があっても冪等に扱う。
	_, err = tx.ExecContext(ctx,
		`INSERT INTO friends (uid, friend_uid, created_at)
		 VALUES ($1, $2, now()), ($2, $1, now())
		 ON CONFLICT (uid, friend_uid) DO NOTHING`,
		fromUID, toUID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert friendship: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListFriends はuidの友達一覧を返す。
func (r *PostgresFriendRepo) ListFriends(ctx context.Context, uid int64) ([]model.FriendEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.uid, u.name FROM friends f
		 JOIN users u ON u.uid = f.friend_uid
		 WHERE f.uid = $1
		 ORDER BY f.created_at ASC`,
		uid,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list friends: %w", err)
	}
	defer rows.Close()

	var friends []model.FriendEntry
	for rows.Next() {
		var friend model.FriendEntry
		if err := rows.Scan(&friend.UID, &friend.Name); err != nil {
			return nil, fmt.Errorf("failed to scan friend: %w", err)
		}
		friends = append(friends, friend)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate friends: %w", err)
	}

	return friends, nil
}

// compile-time interface check
var _ FriendRepository = (*PostgresFriendRepo)(nil)
