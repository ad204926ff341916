package model

import (
	"errors"
	"fmt"
)

// ErrorCode はワイヤ上でやり取りされる数値エラーコード。
// レスポンスボディのerrorフィールドにそのまま載るため、値は安定させること。
type ErrorCode int

const (
	CodeSuccess ErrorCode = 0

	// 共通
	CodeJsonError    ErrorCode = 1001 // JSONの解析に失敗
	CodeRpcFailed    ErrorCode = 1002 // 内部RPCの呼び出しに失敗
	CodeNetworkError ErrorCode = 1003 // ネットワークエラー（認可対象の申請なしにも流用される）

	// ゲートサーバー
	CodeVerifyExpired      ErrorCode = 2001 // 検証コード期限切れ
	CodeVerifyCodeError    ErrorCode = 2002 // 検証コード不一致
	CodeUserExist          ErrorCode = 2003 // ユーザーが既に存在する
	CodePasswordError      ErrorCode = 2004 // パスワード不一致
	CodeEmailNotMatch      ErrorCode = 2005 // メールアドレス不一致
	CodePasswordUpdateFail ErrorCode = 2006 // パスワード更新失敗
	CodePasswordInvalid    ErrorCode = 2007 // パスワード不正

	// ステータスサーバー / チャットサーバー
	CodeUidInvalid   ErrorCode = 3001 // uidが無効
	CodeTokenInvalid ErrorCode = 3002 // tokenが無効
)

// String はログ出力用のコード名を返す。
func (c ErrorCode) String() string {
	switch c {
	case CodeSuccess:
		return "Success"
	case CodeJsonError:
		return "JsonError"
	case CodeRpcFailed:
		return "RpcFailed"
	case CodeNetworkError:
		return "NetworkError"
	case CodeVerifyExpired:
		return "VerifyExpired"
	case CodeVerifyCodeError:
		return "VerifyCodeError"
	case CodeUserExist:
		return "UserExist"
	case CodePasswordError:
		return "PasswordError"
	case CodeEmailNotMatch:
		return "EmailNotMatch"
	case CodePasswordUpdateFail:
		return "PasswordUpdateFail"
	case CodePasswordInvalid:
		return "PasswordInvalid"
	case CodeUidInvalid:
		return "UidInvalid"
	case CodeTokenInvalid:
		return "TokenInvalid"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// CodedError はワイヤエラーコードを持つドメインエラー。
// ハンドラーはこのコードをレスポンスのerrorフィールドに変換する。
type CodedError struct {
	Code    ErrorCode
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *CodedError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewCodedError はコードとメッセージからCodedErrorを生成する。
func NewCodedError(code ErrorCode, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// CodeOf はエラーからワイヤエラーコードを取り出す。
// CodedErrorでない場合はfallbackを返す。nilはCodeSuccess。
func CodeOf(err error, fallback ErrorCode) ErrorCode {
	if err == nil {
		return CodeSuccess
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return fallback
}

// ディレクトリ・リポジトリ層の番兵エラー。
var (
	// ErrNotFound はレコードが存在しないことを示す。
	ErrNotFound = errors.New("not found")

	// ErrNoApplication は認可対象の友達申請が存在しないことを示す。
	// ワイヤ上ではkNetworkError(1003)として報告される（歴史的なコード流用）。
	ErrNoApplication = errors.New("no pending friend application")

	// ErrDuplicate は一意制約に違反するレコードの作成を示す。
	ErrDuplicate = errors.New("duplicate record")
)
