package protocol

import (
	"encoding/json"
	"strconv"

	"github.com/hitoshi/shardchat/internal/model"
)

// ChatLoginReq はChatLoginのリクエストボディ。
// tokenはステータスサーバーが払い出したセッショントークン。
type ChatLoginReq struct {
	UID   int64  `json:"uid"`
	Token string `json:"token"`
}

// ChatLoginRes はChatLoginResのレスポンスボディ。
// friend_listとapply_listはログインのたびに新しく計算される。
type ChatLoginRes struct {
	Error      model.ErrorCode           `json:"error"`
	Token      string                    `json:"token,omitempty"`
	BaseInfo   *model.BaseInfo           `json:"base_info,omitempty"`
	FriendList []model.FriendEntry       `json:"friend_list,omitempty"`
	ApplyList  []model.FriendApplication `json:"apply_list,omitempty"`
}

// SearchUserReq はSearchUserReqのリクエストボディ。
// uidフィールドには数値文字列またはユーザー名のどちらかが入る。
type SearchUserReq struct {
	UID string `json:"uid"`
}

// Query は検索識別子を返す。数値として解釈できる場合は(uid, true)、
// 名前として扱う場合は(0, false)。"0"・空文字は呼び出し側で拒否する。
func (r SearchUserReq) Query() (int64, bool) {
	uid, err := strconv.ParseInt(r.UID, 10, 64)
	if err != nil {
		return 0, false
	}
	return uid, true
}

// SearchUserRes はSearchUserResのレスポンスボディ。
type SearchUserRes struct {
	Error      model.ErrorCode `json:"error"`
	SearchInfo *model.BaseInfo `json:"search_info,omitempty"`
}

// AddFriendReq はAddFriendReqのリクエストボディ。
// apply_nameは対象者側に表示する申請者の表示名。
type AddFriendReq struct {
	UID       int64  `json:"uid"`
	ToUID     int64  `json:"to_uid"`
	ApplyName string `json:"apply_name"`
}

// AddFriendRes はAddFriendResのレスポンスボディ。
// 対象がオフラインでも申請は記録されるためSuccessを返す。
type AddFriendRes struct {
	Error model.ErrorCode `json:"error"`
}

// NotifyAddFriend は対象者側へプッシュされる友達申請通知。
type NotifyAddFriend struct {
	Error     model.ErrorCode `json:"error"`
	ApplyUID  int64           `json:"apply_uid"`
	ApplyName string          `json:"apply_name"`
}

// AuthFriendReq はAuthFriendReqのリクエストボディ。
// from_uidが認可する側、to_uidが元の申請者。
type AuthFriendReq struct {
	FromUID int64 `json:"from_uid"`
	ToUID   int64 `json:"to_uid"`
}

// AuthFriendRes はAuthFriendのレスポンスボディ。
// 成功時は申請者側の識別情報を返す。
type AuthFriendRes struct {
	Error model.ErrorCode `json:"error"`
	ToUID int64           `json:"to_uid,omitempty"`
	Name  string          `json:"name,omitempty"`
}

// NotifyAuthFriend は元の申請者側へプッシュされる認可通知。
type NotifyAuthFriend struct {
	Error   model.ErrorCode `json:"error"`
	FromUID int64           `json:"from_uid"`
	Name    string          `json:"name"`
}

// TextMsg は1件のテキストメッセージ。
type TextMsg struct {
	MsgID   string `json:"msgid"`
	Content string `json:"content"`
}

// TextChatMsgReq はTextChatMsgReqのリクエストボディ。
type TextChatMsgReq struct {
	FromUID   int64     `json:"from_uid"`
	ToUID     int64     `json:"to_uid"`
	TextArray []TextMsg `json:"text_array"`
}

// TextChatMsgRes はTextChatMsgResのレスポンスボディ。
// 送信内容をそのままエコーバックする。
type TextChatMsgRes struct {
	Error     model.ErrorCode `json:"error"`
	FromUID   int64           `json:"from_uid,omitempty"`
	ToUID     int64           `json:"to_uid,omitempty"`
	TextArray []TextMsg       `json:"text_array,omitempty"`
}

// NotifyTextChat は受信者側へプッシュされるテキストメッセージ通知。
type NotifyTextChat struct {
	Error     model.ErrorCode `json:"error"`
	FromUID   int64           `json:"from_uid"`
	ToUID     int64           `json:"to_uid"`
	TextArray []TextMsg       `json:"text_array"`
}

// DecodeBody はリクエストボディをvにデコードする。
// JSONとして解析できない場合はkJsonErrorのCodedErrorを返す。
// フィールドの存在検証は各ハンドラーの責務（欠落はゼロ値として現れ、
// uid系の検証でkUidInvalidになる）。
func DecodeBody(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return model.NewCodedError(model.CodeJsonError, "failed to parse json body: "+err.Error())
	}
	return nil
}

// EncodeBody はレスポンスボディをJSONにエンコードする。
// ここで扱う型は全てエンコード可能なためエラーは発生しない前提。
func EncodeBody(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// ペイロード型のMarshalは失敗しない。防げない場合は空オブジェクトを返す。
		return []byte("{}")
	}
	return b
}
