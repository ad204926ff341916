package chat

import (
	"context"
	"log/slog"

	"github.com/hitoshi/shardchat/internal/model"
	"github.com/hitoshi/shardchat/internal/protocol"
)

// handlerFunc は1メッセージの処理関数。レスポンスボディを返す。
type handlerFunc func(ctx context.Context, sess *Session, body []byte) []byte

// Dispatcher はメッセージIDからハンドラーへの振り分けを行う。
// ログイン前のセッションにはChatLoginのみ許可する。
type Dispatcher struct {
	service  *Service
	handlers map[protocol.MsgID]handlerFunc
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(service *Service) *Dispatcher {
	d := &Dispatcher{service: service}
	d.handlers = map[protocol.MsgID]handlerFunc{
		protocol.MsgChatLogin:      service.HandleChatLogin,
		protocol.MsgSearchUserReq:  service.HandleSearchUser,
		protocol.MsgAddFriendReq:   service.HandleAddFriend,
		protocol.MsgAuthFriendReq:  service.HandleAuthFriend,
		protocol.MsgTextChatMsgReq: service.HandleTextChat,
	}
	return d
}

// Dispatch は受信フレームを処理し、レスポンスをセッションに書き込む。
// 未知のリクエストIDや未認証セッションからの操作はボディ内エラーで
// 拒否し、接続は維持する。
func (d *Dispatcher) Dispatch(ctx context.Context, sess *Session, id protocol.MsgID, body []byte) {
	resID, ok := id.ResponseID()
	if !ok {
		// リクエストとして扱えないID。応答先がないため破棄する。
		slog.Warn("ignoring non-request frame",
			slog.String("msg_id", id.String()),
			slog.Int64("uid", sess.UID()),
		)
		return
	}

	if sess.UID() == 0 && id != protocol.MsgChatLogin {
		sess.Send(uint16(resID), protocol.EncodeBody(struct {
			Error model.ErrorCode `json:"error"`
		}{Error: model.CodeUidInvalid}))
		return
	}

	handler := d.handlers[id]
	sess.Send(uint16(resID), handler(ctx, sess, body))
}
