// Package chat はチャットシャードのTCPサーバーとメッセージ処理を提供する。
//
// クライアントは長さ付きバイナリフレームで接続し、ログイン後は
// セッションレジストリに登録される。別シャードのユーザー宛ての
// 通知はHTTP RPCで転送される。
package chat

import "sync"

// Registry は認証済みセッションのuid別レジストリ。
// 1つのuidに対して同時に1セッションのみを保持する。
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewRegistry はRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int64]*Session)}
}

// Bind はuidにセッションを登録し、置き換えられた古いセッションを返す。
// 古いセッションの切断は呼び出し側の責務。
func (r *Registry) Bind(uid int64, s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.sessions[uid]
	r.sessions[uid] = s
	return prev
}

// Unbind はuidの現在のセッションがsである場合に限り登録を解除する。
// 再ログインで置き換えられた後の古いセッションは解除しない。
func (r *Registry) Unbind(uid int64, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[uid] != s {
		return false
	}
	delete(r.sessions, uid)
	return true
}

// Get はuidのセッションを返す。
func (r *Registry) Get(uid int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[uid]
	return s, ok
}

// Count は登録中のセッション数を返す。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
