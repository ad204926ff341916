package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandGate はゲートサーバーモードで起動することを示す。
	CommandGate Command = "gate"
	// CommandStatus はステータスサーバーモードで起動することを示す。
	CommandStatus Command = "status"
	// CommandChat はチャットシャードモードで起動することを示す。
	// シャード名を追加引数またはSHARD_NAMEで指定する。
	CommandChat Command = "chat"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandGateを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandGate
	}

	switch args[0] {
	case "gate":
		return CommandGate
	case "status":
		return CommandStatus
	case "chat":
		return CommandChat
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandGate
	}
}
