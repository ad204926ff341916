package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/shardchat/internal/model"
)

// NotifyRequest はシャード間通知RPCのリクエスト。
// bodyは配送先クライアントへそのまま書き出すフレームボディ。
type NotifyRequest struct {
	ToUID int64           `json:"to_uid"`
	MsgID uint16          `json:"msg_id"`
	Body  json.RawMessage `json:"body"`
}

// NotifyResponse はシャード間通知RPCのレスポンス。
// 配送先がすでに切断していた場合も通知は静かに破棄されSuccessになる。
type NotifyResponse struct {
	Error model.ErrorCode `json:"error"`
}

// PeerClient は他シャードへの通知転送を行うHTTPクライアント。
type PeerClient struct {
	shards     map[string]model.ChatShard
	httpClient *http.Client
}

// NewPeerClient はPeerClientを生成する。shardsには自シャードを含む
// 全シャードの定義を渡してよい。
func NewPeerClient(shards []model.ChatShard) *PeerClient {
	byName := make(map[string]model.ChatShard, len(shards))
	for _, shard := range shards {
		byName[shard.Name] = shard
	}
	return &PeerClient{
		shards: byName,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Notify は指定シャードへ通知を転送する。
func (p *PeerClient) Notify(ctx context.Context, shardName string, toUID int64, msgID uint16, body []byte) error {
	shard, ok := p.shards[shardName]
	if !ok {
		return fmt.Errorf("unknown shard: %s", shardName)
	}

	raw, err := json.Marshal(NotifyRequest{ToUID: toUID, MsgID: msgID, Body: body})
	if err != nil {
		return fmt.Errorf("failed to encode notify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, shard.RPCAddr()+"/internal/notify", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify rpc failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("notify rpc returned %d", res.StatusCode)
	}

	var notifyRes NotifyResponse
	if err := json.NewDecoder(res.Body).Decode(&notifyRes); err != nil {
		return fmt.Errorf("failed to parse notify response: %w", err)
	}
	if notifyRes.Error != model.CodeSuccess {
		return fmt.Errorf("notify rejected with code %s", notifyRes.Error)
	}
	return nil
}
