package status

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/shardchat/internal/model"
)

// Client はステータスサーバーRPCのHTTPクライアント。
// ゲートサーバーとチャットシャードの両方から使用される。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient はClientを生成する。baseURLは"http://host:port"形式。
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetChatServer はuidに割り当てるシャードとトークンを取得する。
// レスポンスのエラーコードはCodedErrorとして返す。
func (c *Client) GetChatServer(ctx context.Context, uid int64) (*GetChatServerResponse, error) {
	var res GetChatServerResponse
	if err := c.post(ctx, "/rpc/get_chat_server", GetChatServerRequest{UID: uid}, &res); err != nil {
		return nil, err
	}
	if res.Error != model.CodeSuccess {
		return nil, model.NewCodedError(res.Error, "get_chat_server rejected")
	}
	return &res, nil
}

// Login はuidとtokenの組をステータスサーバーで検証する。
func (c *Client) Login(ctx context.Context, uid int64, token string) error {
	var res LoginResponse
	if err := c.post(ctx, "/rpc/login", LoginRequest{UID: uid, Token: token}, &res); err != nil {
		return err
	}
	if res.Error != model.CodeSuccess {
		return model.NewCodedError(res.Error, "login rejected")
	}
	return nil
}

// post はJSONリクエストを送信してJSONレスポンスをデコードする。
// トランスポートレベルの失敗はkRpcFailedのCodedErrorになる。
func (c *Client) post(ctx context.Context, path string, reqBody, resBody any) error {
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewCodedError(model.CodeRpcFailed, "status rpc failed: "+err.Error())
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return model.NewCodedError(model.CodeRpcFailed, fmt.Sprintf("status rpc returned %d", res.StatusCode))
	}

	if err := json.NewDecoder(res.Body).Decode(resBody); err != nil {
		return model.NewCodedError(model.CodeRpcFailed, "failed to parse rpc response: "+err.Error())
	}
	return nil
}
