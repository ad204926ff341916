// Package model はドメインモデルを定義する。
package model

import "time"

// User はアカウントストアに登録されたユーザーを表す。
// uidは登録時に採番される正の整数で、全シャードを通じて一意。
type User struct {
	UID       int64
	Name      string
	Email     string
	Password  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BaseInfo はチャットプロトコル上でやり取りされるユーザーの基本情報。
// ログイン成功時のレスポンスとセッションディレクトリのキャッシュ
// （ubaseinfo_<uid>）の両方でこのJSON形式を使用する。
type BaseInfo struct {
	UID      int64  `json:"uid"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// BaseInfo はUserからプロトコル用の基本情報を生成する。
func (u *User) BaseInfo() BaseInfo {
	return BaseInfo{
		UID:      u.UID,
		Name:     u.Name,
		Email:    u.Email,
		Password: u.Password,
	}
}

// FriendApplication は認可待ちの友達申請を表す。
// 申請者から対象者への有向レコードで、対象者が認可すると消費される。
type FriendApplication struct {
	ApplyUID  int64     `json:"uid"`
	ApplyName string    `json:"apply_name"`
	CreatedAt time.Time `json:"-"`
}

// FriendEntry は確立済みの友達関係の相手側を表す。
// ログインレスポンスのfriend_listに含まれる。
type FriendEntry struct {
	UID  int64  `json:"uid"`
	Name string `json:"name"`
}

// ChatShard は1つのチャットシャードのアドレス情報を表す。
// Portはクライアント向けTCPポート、RPCPortはシャード間通知用HTTPポート。
type ChatShard struct {
	Name    string
	Host    string
	Port    string
	RPCPort string
}

// Addr はクライアントが接続するTCPアドレスを返す。
func (s ChatShard) Addr() string {
	return s.Host + ":" + s.Port
}

// RPCAddr はシャード間通知RPCのベースURLを返す。
func (s ChatShard) RPCAddr() string {
	return "http://" + s.Host + ":" + s.RPCPort
}
