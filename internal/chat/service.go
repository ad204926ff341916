package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/shardchat/internal/directory"
	"github.com/hitoshi/shardchat/internal/metrics"
	"github.com/hitoshi/shardchat/internal/model"
	"github.com/hitoshi/shardchat/internal/protocol"
	"github.com/hitoshi/shardchat/internal/repository"
)

// baseInfoCacheTTL はセッションディレクトリ上のユーザー基本情報
// キャッシュの有効期間。
const baseInfoCacheTTL = 24 * time.Hour

// TokenValidator はログイン時のトークン検証インターフェース。
// 本番の実体は共有セッションディレクトリと直接照合する
// DirectoryValidator。
type TokenValidator interface {
	Login(ctx context.Context, uid int64, token string) error
}

// Notifier は他シャードへの通知転送インターフェース。
type Notifier interface {
	Notify(ctx context.Context, shardName string, toUID int64, msgID uint16, body []byte) error
}

// Service はチャットシャードのドメインロジック。
// 各ハンドラーはレスポンスボディを返し、エラーはボディ内の
// errorフィールドで報告する（接続は維持される）。
type Service struct {
	shard     model.ChatShard
	users     repository.UserRepository
	friends   repository.FriendRepository
	directory directory.Directory
	validator TokenValidator
	notifier  Notifier
	registry  *Registry
	metrics   metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(
	shard model.ChatShard,
	users repository.UserRepository,
	friends repository.FriendRepository,
	dir directory.Directory,
	validator TokenValidator,
	notifier Notifier,
	registry *Registry,
	m metrics.MetricsCollector,
) *Service {
	return &Service{
		shard:     shard,
		users:     users,
		friends:   friends,
		directory: dir,
		validator: validator,
		notifier:  notifier,
		registry:  registry,
		metrics:   m,
	}
}

// HandleChatLogin はChatLoginを処理し、ChatLoginResのボディを返す。
// 成功時はセッションにuidを紐付け、プレゼンスとログインカウンターを
// 更新する。friend_listとapply_listは毎回新しく計算する。
func (s *Service) HandleChatLogin(ctx context.Context, sess *Session, body []byte) []byte {
	var req protocol.ChatLoginReq
	if err := protocol.DecodeBody(body, &req); err != nil {
		return protocol.EncodeBody(protocol.ChatLoginRes{Error: model.CodeOf(err, model.CodeJsonError)})
	}

	if req.UID <= 0 {
		return protocol.EncodeBody(protocol.ChatLoginRes{Error: model.CodeUidInvalid})
	}

	if err := s.validator.Login(ctx, req.UID, req.Token); err != nil {
		slog.Warn("chat login rejected",
			slog.Int64("uid", req.UID),
			slog.String("error", err.Error()),
		)
		return protocol.EncodeBody(protocol.ChatLoginRes{Error: model.CodeOf(err, model.CodeRpcFailed)})
	}

	info, err := s.baseInfo(ctx, req.UID)
	if err != nil {
		slog.Error("failed to load base info",
			slog.Int64("uid", req.UID),
			slog.String("error", err.Error()),
		)
		return protocol.EncodeBody(protocol.ChatLoginRes{Error: model.CodeUidInvalid})
	}

	friendList, err := s.friends.ListFriends(ctx, req.UID)
	if err != nil {
		slog.Error("failed to list friends",
			slog.Int64("uid", req.UID),
			slog.String("error", err.Error()),
		)
		return protocol.EncodeBody(protocol.ChatLoginRes{Error: model.CodeRpcFailed})
	}

	applyList, err := s.friends.ListApplicationsTo(ctx, req.UID)
	if err != nil {
		slog.Error("failed to list applications",
			slog.Int64("uid", req.UID),
			slog.String("error", err.Error()),
		)
		return protocol.EncodeBody(protocol.ChatLoginRes{Error: model.CodeRpcFailed})
	}

	// 同じ接続が別uidで再ログインした場合、旧uidの紐付けを先に解消する。
	// 1接続が複数のuidに属する状態を作らないため。
	if prevUID := sess.UID(); prevUID != 0 && prevUID != req.UID {
		slog.Info("releasing previous uid on re-login",
			slog.Int64("prev_uid", prevUID),
			slog.Int64("uid", req.UID),
		)
		s.release(ctx, prevUID, sess)
	}

	// 同一uidの古いセッションは新しいログインに置き換える
	if prev := s.registry.Bind(req.UID, sess); prev != nil && prev != sess {
		slog.Info("replacing existing session", slog.Int64("uid", req.UID))
		prev.Close()
	}
	sess.bind(req.UID)

	if err := s.directory.SetPresence(ctx, req.UID, s.shard.Name); err != nil {
		slog.Error("failed to set presence",
			slog.Int64("uid", req.UID),
			slog.String("error", err.Error()),
		)
	}
	if _, err := s.directory.IncrLoginCount(ctx, s.shard.Name, 1); err != nil {
		slog.Error("failed to increment login count",
			slog.String("shard", s.shard.Name),
			slog.String("error", err.Error()),
		)
	}
	s.metrics.RecordLogin(s.shard.Name)

	slog.Info("chat login succeeded",
		slog.Int64("uid", req.UID),
		slog.String("shard", s.shard.Name),
		slog.String("remote", sess.RemoteAddr()),
	)

	return protocol.EncodeBody(protocol.ChatLoginRes{
		Error:      model.CodeSuccess,
		Token:      req.Token,
		BaseInfo:   info,
		FriendList: friendList,
		ApplyList:  applyList,
	})
}

// baseInfo はセッションディレクトリのキャッシュを優先してユーザー
// 基本情報を取得する。キャッシュミス時はDBから読んでキャッシュを埋める。
func (s *Service) baseInfo(ctx context.Context, uid int64) (*model.BaseInfo, error) {
	info, err := s.directory.GetBaseInfo(ctx, uid)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	user, err := s.users.FindByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %d not found", uid)
	}

	fresh := user.BaseInfo()
	if err := s.directory.SetBaseInfo(ctx, uid, &fresh, baseInfoCacheTTL); err != nil {
		slog.Warn("failed to cache base info",
			slog.Int64("uid", uid),
			slog.String("error", err.Error()),
		)
	}
	return &fresh, nil
}

// HandleSearchUser はSearchUserReqを処理し、SearchUserResのボディを返す。
// uidフィールドは数値文字列ならuid検索、それ以外は名前検索として扱う。
func (s *Service) HandleSearchUser(ctx context.Context, _ *Session, body []byte) []byte {
	var req protocol.SearchUserReq
	if err := protocol.DecodeBody(body, &req); err != nil {
		return protocol.EncodeBody(protocol.SearchUserRes{Error: model.CodeOf(err, model.CodeJsonError)})
	}

	if req.UID == "" {
		return protocol.EncodeBody(protocol.SearchUserRes{Error: model.CodeUidInvalid})
	}

	var user *model.User
	var err error
	if uid, numeric := req.Query(); numeric {
		if uid <= 0 {
			return protocol.EncodeBody(protocol.SearchUserRes{Error: model.CodeUidInvalid})
		}
		user, err = s.users.FindByUID(ctx, uid)
	} else {
		user, err = s.users.FindByName(ctx, req.UID)
	}
	if err != nil {
		slog.Error("user search failed",
			slog.String("query", req.UID),
			slog.String("error", err.Error()),
		)
		return protocol.EncodeBody(protocol.SearchUserRes{Error: model.CodeRpcFailed})
	}
	if user == nil {
		return protocol.EncodeBody(protocol.SearchUserRes{Error: model.CodeUidInvalid})
	}

	info := user.BaseInfo()
	return protocol.EncodeBody(protocol.SearchUserRes{
		Error:      model.CodeSuccess,
		SearchInfo: &info,
	})
}

// HandleAddFriend はAddFriendReqを処理し、AddFriendResのボディを返す。
// 申請は対象のオンライン状態に関わらず永続化され、対象がオンラインの
// 場合のみNotifyAddFriendReqがプッシュされる。
func (s *Service) HandleAddFriend(ctx context.Context, _ *Session, body []byte) []byte {
	var req protocol.AddFriendReq
	if err := protocol.DecodeBody(body, &req); err != nil {
		return protocol.EncodeBody(protocol.AddFriendRes{Error: model.CodeOf(err, model.CodeJsonError)})
	}

	if req.UID <= 0 || req.ToUID <= 0 {
		return protocol.EncodeBody(protocol.AddFriendRes{Error: model.CodeUidInvalid})
	}

	// 申請者自身が存在することの確認
	applicant, err := s.users.FindByUID(ctx, req.UID)
	if err != nil {
		slog.Error("failed to find applicant",
			slog.Int64("uid", req.UID),
			slog.String("error", err.Error()),
		)
		return protocol.EncodeBody(protocol.AddFriendRes{Error: model.CodeRpcFailed})
	}
	if applicant == nil {
		return protocol.EncodeBody(protocol.AddFriendRes{Error: model.CodeUidInvalid})
	}

	if err := s.friends.CreateApplication(ctx, req.UID, req.ToUID, req.ApplyName); err != nil {
		slog.Error("failed to create friend application",
			slog.Int64("from_uid", req.UID),
			slog.Int64("to_uid", req.ToUID),
			slog.String("error", err.Error()),
		)
		return protocol.EncodeBody(protocol.AddFriendRes{Error: model.CodeRpcFailed})
	}

	s.pushToUser(ctx, req.ToUID, protocol.MsgNotifyAddFriendReq, protocol.EncodeBody(protocol.NotifyAddFriend{
		Error:     model.CodeSuccess,
		ApplyUID:  req.UID,
		ApplyName: req.ApplyName,
	}))

	return protocol.EncodeBody(protocol.AddFriendRes{Error: model.CodeSuccess})
}

// HandleAuthFriend はAuthFriendReqを処理し、AuthFriendResのボディを返す。
// from_uidが認可する側、to_uidが元の申請者。認可対象の申請が存在
// しない場合はkNetworkErrorを返す。
func (s *Service) HandleAuthFriend(ctx context.Context, _ *Session, body []byte) []byte {
	var req protocol.AuthFriendReq
	if err := protocol.DecodeBody(body, &req); err != nil {
		return protocol.EncodeBody(protocol.AuthFriendRes{Error: model.CodeOf(err, model.CodeJsonError)})
	}

	if req.FromUID <= 0 || req.ToUID <= 0 {
		return protocol.EncodeBody(protocol.AuthFriendRes{Error: model.CodeUidInvalid})
	}

	// 両者の解決は承認の確定より先に行う。確定後にエラーを返すと
	// 実際には成功した操作をエラーとして報告してしまう。
	applicant, err := s.users.FindByUID(ctx, req.ToUID)
	if err != nil || applicant == nil {
		slog.Error("failed to find applicant",
			slog.Int64("to_uid", req.ToUID),
		)
		return protocol.EncodeBody(protocol.AuthFriendRes{Error: model.CodeUidInvalid})
	}

	authorizer, err := s.users.FindByUID(ctx, req.FromUID)
	if err != nil || authorizer == nil {
		slog.Error("failed to find authorizer",
			slog.Int64("from_uid", req.FromUID),
		)
		return protocol.EncodeBody(protocol.AuthFriendRes{Error: model.CodeUidInvalid})
	}

	// 申請はto_uid（申請者）からfrom_uid（認可者）へ向いている
	if err := s.friends.Approve(ctx, req.ToUID, req.FromUID); err != nil {
		if errors.Is(err, model.ErrNoApplication) {
			return protocol.EncodeBody(protocol.AuthFriendRes{Error: model.CodeNetworkError})
		}
		slog.Error("failed to approve friend application",
			slog.Int64("from_uid", req.FromUID),
			slog.Int64("to_uid", req.ToUID),
			slog.String("error", err.Error()),
		)
		return protocol.EncodeBody(protocol.AuthFriendRes{Error: model.CodeRpcFailed})
	}

	s.pushToUser(ctx, req.ToUID, protocol.MsgNotifyAuthFriendReq, protocol.EncodeBody(protocol.NotifyAuthFriend{
		Error:   model.CodeSuccess,
		FromUID: req.FromUID,
		Name:    authorizer.Name,
	}))

	return protocol.EncodeBody(protocol.AuthFriendRes{
		Error: model.CodeSuccess,
		ToUID: req.ToUID,
		Name:  applicant.Name,
	})
}

// HandleTextChat はTextChatMsgReqを処理し、TextChatMsgResのボディを返す。
// 送信内容はエコーバックされ、受信者にはNotifyTextChatMsgがプッシュ
// される。受信者がオフラインの場合メッセージは破棄される。
func (s *Service) HandleTextChat(ctx context.Context, _ *Session, body []byte) []byte {
	var req protocol.TextChatMsgReq
	if err := protocol.DecodeBody(body, &req); err != nil {
		return protocol.EncodeBody(protocol.TextChatMsgRes{Error: model.CodeOf(err, model.CodeJsonError)})
	}

	if req.FromUID <= 0 || req.ToUID <= 0 {
		return protocol.EncodeBody(protocol.TextChatMsgRes{Error: model.CodeUidInvalid})
	}

	s.pushToUser(ctx, req.ToUID, protocol.MsgNotifyTextChatMsg, protocol.EncodeBody(protocol.NotifyTextChat{
		Error:     model.CodeSuccess,
		FromUID:   req.FromUID,
		ToUID:     req.ToUID,
		TextArray: req.TextArray,
	}))

	return protocol.EncodeBody(protocol.TextChatMsgRes{
		Error:     model.CodeSuccess,
		FromUID:   req.FromUID,
		ToUID:     req.ToUID,
		TextArray: req.TextArray,
	})
}

// pushToUser はtoUIDのプレゼンスを引き、ローカル配送または他シャード
// への転送を行う。オフラインやプレゼンスの取りこぼしは静かに破棄する。
// 他シャードへの転送は呼び出し元のリクエスト処理をブロックしない。
func (s *Service) pushToUser(ctx context.Context, toUID int64, msgID protocol.MsgID, body []byte) {
	shardName, err := s.directory.GetPresence(ctx, toUID)
	if errors.Is(err, model.ErrNotFound) {
		s.metrics.RecordNotifyForwarded("miss")
		return
	}
	if err != nil {
		slog.Error("failed to resolve presence",
			slog.Int64("to_uid", toUID),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordNotifyForwarded("error")
		return
	}

	if shardName == s.shard.Name {
		target, ok := s.registry.Get(toUID)
		if !ok {
			// プレゼンスが残っているが接続は既にない
			s.metrics.RecordNotifyForwarded("miss")
			return
		}
		target.Send(uint16(msgID), body)
		s.metrics.RecordNotifyForwarded("ok")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.notifier.Notify(ctx, shardName, toUID, uint16(msgID), body); err != nil {
			slog.Warn("failed to forward notify",
				slog.Int64("to_uid", toUID),
				slog.String("shard", shardName),
				slog.String("error", err.Error()),
			)
			s.metrics.RecordNotifyForwarded("error")
			return
		}
		s.metrics.RecordNotifyForwarded("ok")
	}()
}

// HandleDisconnect はセッション終了時の後始末を行う。
// プレゼンスは同じシャードを指している場合のみ消す。別シャードへ
// 再ログイン済みの場合に新しいレコードを消さないため。
func (s *Service) HandleDisconnect(ctx context.Context, sess *Session) {
	uid := sess.UID()
	if uid == 0 {
		return
	}

	if !s.release(ctx, uid, sess) {
		// 再ログインで置き換え済み。カウンターとプレゼンスは新しい
		// セッションのもの。
		return
	}

	slog.Info("session closed",
		slog.Int64("uid", uid),
		slog.String("shard", s.shard.Name),
	)
}

// release はuidとセッションの紐付けを解消する。このセッションが
// レジストリ上の現在の持ち主だった場合のみプレゼンスとログイン
// カウンターを戻し、trueを返す。
func (s *Service) release(ctx context.Context, uid int64, sess *Session) bool {
	if !s.registry.Unbind(uid, sess) {
		return false
	}

	if err := s.directory.ClearPresenceIf(ctx, uid, s.shard.Name); err != nil {
		slog.Error("failed to clear presence",
			slog.Int64("uid", uid),
			slog.String("error", err.Error()),
		)
	}
	if _, err := s.directory.IncrLoginCount(ctx, s.shard.Name, -1); err != nil {
		slog.Error("failed to decrement login count",
			slog.String("shard", s.shard.Name),
			slog.String("error", err.Error()),
		)
	}
	return true
}
