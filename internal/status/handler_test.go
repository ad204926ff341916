package status

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/shardchat/internal/directory"
	"github.com/hitoshi/shardchat/internal/model"
)

func decodeTestJSON(t *testing.T, r io.Reader, v any) {
	t.Helper()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func newTestServer(t *testing.T, dir directory.Directory) *httptest.Server {
	t.Helper()
	svc := NewService(dir, testShards(), time.Hour)
	server := httptest.NewServer(NewRouter(svc))
	t.Cleanup(server.Close)
	return server
}

// get_chat_serverがシャード情報とトークンを返すことを検証
func TestHandler_GetChatServer(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	ctx := context.Background()
	if err := dir.SetLoginCount(ctx, "ChatServer1", 0); err != nil {
		t.Fatalf("set count: %v", err)
	}

	server := newTestServer(t, dir)
	client := NewClient(server.URL)

	res, err := client.GetChatServer(ctx, 42)
	if err != nil {
		t.Fatalf("get_chat_server: %v", err)
	}
	if res.Host != "127.0.0.1" || res.Port != "8090" {
		t.Errorf("assigned %s:%s, want 127.0.0.1:8090", res.Host, res.Port)
	}
	if res.Token == "" {
		t.Error("expected non-empty token")
	}

	// 払い出されたトークンがそのままログイン検証を通ること
	if err := client.Login(ctx, 42, res.Token); err != nil {
		t.Errorf("login with issued token: %v", err)
	}
}

// 不正なJSONボディがkJsonErrorになることを検証
func TestHandler_GetChatServer_MalformedBody(t *testing.T) {
	server := newTestServer(t, directory.NewMemoryDirectory())

	res, err := server.Client().Post(server.URL+"/rpc/get_chat_server", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()

	var body GetChatServerResponse
	decodeTestJSON(t, res.Body, &body)
	if body.Error != model.CodeJsonError {
		t.Errorf("error = %s, want JsonError", body.Error)
	}
}

// loginのエラーコードがボディで返ることを検証
func TestHandler_Login_InvalidToken(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	ctx := context.Background()
	if err := dir.SetToken(ctx, 7, "good", time.Hour); err != nil {
		t.Fatalf("set token: %v", err)
	}

	server := newTestServer(t, dir)
	client := NewClient(server.URL)

	err := client.Login(ctx, 7, "bad")
	if model.CodeOf(err, model.CodeRpcFailed) != model.CodeTokenInvalid {
		t.Errorf("err = %v, want kTokenInvalid", err)
	}

	err = client.Login(ctx, 8, "good")
	if model.CodeOf(err, model.CodeRpcFailed) != model.CodeUidInvalid {
		t.Errorf("err = %v, want kUidInvalid", err)
	}
}

// 到達不能なステータスサーバーがkRpcFailedになることを検証
func TestClient_Unreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")

	err := client.Login(context.Background(), 1, "token")
	if model.CodeOf(err, model.CodeSuccess) != model.CodeRpcFailed {
		t.Errorf("err = %v, want kRpcFailed", err)
	}
}
