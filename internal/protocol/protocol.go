// Package protocol はチャットプロトコルのメッセージID定義と
// メッセージIDごとの型付きペイロードを提供する。
package protocol

import "fmt"

// MsgID はワイヤフレームのヘッダーに載る16bitのメッセージ識別子。
type MsgID uint16

const (
	// HTTPゲート経由（TCPストリームには現れないが採番は共有する）
	MsgGetVerifyCode MsgID = 1001
	MsgRegUser       MsgID = 1002
	MsgResetPassword MsgID = 1003
	MsgLogin         MsgID = 1004

	// チャットシャードのTCPストリーム
	MsgChatLogin           MsgID = 1005
	MsgChatLoginRes        MsgID = 1006
	MsgSearchUserReq       MsgID = 1007
	MsgSearchUserRes       MsgID = 1008
	MsgAddFriendReq        MsgID = 1009
	MsgAddFriendRes        MsgID = 1010
	MsgNotifyAddFriendReq  MsgID = 1011
	MsgAuthFriendReq       MsgID = 1012
	MsgAuthFriendRes       MsgID = 1013
	MsgNotifyAuthFriendReq MsgID = 1014
	MsgTextChatMsgReq      MsgID = 1015
	MsgTextChatMsgRes      MsgID = 1016
	MsgNotifyTextChatMsg   MsgID = 1017
)

// String はログ出力用のメッセージID名を返す。
func (id MsgID) String() string {
	switch id {
	case MsgGetVerifyCode:
		return "GetVerifyCode"
	case MsgRegUser:
		return "RegUser"
	case MsgResetPassword:
		return "ResetPassword"
	case MsgLogin:
		return "Login"
	case MsgChatLogin:
		return "ChatLogin"
	case MsgChatLoginRes:
		return "ChatLoginRes"
	case MsgSearchUserReq:
		return "SearchUserReq"
	case MsgSearchUserRes:
		return "SearchUserRes"
	case MsgAddFriendReq:
		return "AddFriendReq"
	case MsgAddFriendRes:
		return "AddFriendRes"
	case MsgNotifyAddFriendReq:
		return "NotifyAddFriendReq"
	case MsgAuthFriendReq:
		return "AuthFriendReq"
	case MsgAuthFriendRes:
		return "AuthFriendRes"
	case MsgNotifyAuthFriendReq:
		return "NotifyAuthFriendReq"
	case MsgTextChatMsgReq:
		return "TextChatMsgReq"
	case MsgTextChatMsgRes:
		return "TextChatMsgRes"
	case MsgNotifyTextChatMsg:
		return "NotifyTextChatMsg"
	default:
		return fmt.Sprintf("MsgID(%d)", uint16(id))
	}
}

// Valid はサーバーが認識するメッセージIDかどうかを返す。
// 不正なIDのフレームはプロトコル違反として接続を切断する。
func (id MsgID) Valid() bool {
	return id >= MsgGetVerifyCode && id <= MsgNotifyTextChatMsg
}

// ResponseID はリクエストIDに対応するレスポンスIDを返す。
// 対応が定義されていない場合はfalseを返す。
func (id MsgID) ResponseID() (MsgID, bool) {
	switch id {
	case MsgChatLogin:
		return MsgChatLoginRes, true
	case MsgSearchUserReq:
		return MsgSearchUserRes, true
	case MsgAddFriendReq:
		return MsgAddFriendRes, true
	case MsgAuthFriendReq:
		return MsgAuthFriendRes, true
	case MsgTextChatMsgReq:
		return MsgTextChatMsgRes, true
	default:
		return 0, false
	}
}
