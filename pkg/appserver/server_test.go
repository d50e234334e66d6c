package appserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/immateria/codex-mod-sub007/pkg/engine/policy"
	"github.com/immateria/codex-mod-sub007/pkg/engine/session"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg, err := OpenConfigStore(filepath.Join(t.TempDir(), "config.yaml"), map[string]any{
		"model": "default-model",
	})
	if err != nil {
		t.Fatalf("OpenConfigStore: %v", err)
	}
	sess := session.New("conn-1", policy.NewMcpAccessManager("default", nil))
	return NewServer(sess, cfg)
}

func call(t *testing.T, s *Server, raw string) Response {
	t.Helper()
	out := s.HandleMessage(context.Background(), []byte(raw))
	if out == nil {
		t.Fatalf("no response for %s", raw)
	}
	var resp Response
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestMethodBeforeInitializeFails(t *testing.T) {
	s := newTestServer(t)
	resp := call(t, s, `{"jsonrpc":"2.0","id":1,"method":"config/read","params":{"includeLayers":false}}`)
	if resp.Error == nil {
		t.Fatal("expected an error response")
	}
	if resp.Error.Message != "Not initialized" {
		t.Errorf("error message = %q, want %q", resp.Error.Message, "Not initialized")
	}
	if resp.Error.Code != CodeInvalidRequest {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeInvalidRequest)
	}
	if string(*resp.ID) != "1" {
		t.Errorf("response id = %s, want 1", string(*resp.ID))
	}
}

func TestInitializeRecordsOptOuts(t *testing.T) {
	s := newTestServer(t)
	resp := call(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"c","version":"1"},"capabilities":{"optOutNotificationMethods":["configWarning","codex/event/session_configured"]}}}`)
	if resp.Error != nil {
		t.Fatalf("initialize failed: %v", resp.Error)
	}
	if !s.Session.Initialized() {
		t.Error("session not marked initialized")
	}
	for _, m := range []string{"configWarning", "codex/event/session_configured"} {
		if !s.Session.OptedOut(m) {
			t.Errorf("expected %q in opt-out set", m)
		}
	}
	if s.Session.OptedOut("other/method") {
		t.Error("unrelated method should not be opted out")
	}
}

func initialize(t *testing.T, s *Server) {
	t.Helper()
	resp := call(t, s, `{"jsonrpc":"2.0","id":0,"method":"initialize","params":{"clientInfo":{"name":"t","version":"0"}}}`)
	if resp.Error != nil {
		t.Fatalf("initialize failed: %v", resp.Error)
	}
}

func TestConfigReadMergesDefaults(t *testing.T) {
	s := newTestServer(t)
	initialize(t, s)
	resp := call(t, s, `{"jsonrpc":"2.0","id":2,"method":"config/read","params":{"includeLayers":true}}`)
	if resp.Error != nil {
		t.Fatalf("config/read failed: %v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	cfg := result["config"].(map[string]any)
	if cfg["model"] != "default-model" {
		t.Errorf("merged config model = %v", cfg["model"])
	}
	layers := result["layers"].([]any)
	if len(layers) != 2 {
		t.Errorf("expected 2 layers, got %d", len(layers))
	}
}

func TestConfigWriteReplaceAndMerge(t *testing.T) {
	s := newTestServer(t)
	initialize(t, s)

	resp := call(t, s, `{"jsonrpc":"2.0","id":3,"method":"config/write","params":{"key_path":"tui.theme","value":{"name":"dark"},"merge_strategy":"Replace"}}`)
	if resp.Error != nil {
		t.Fatalf("write Replace failed: %v", resp.Error)
	}

	resp = call(t, s, `{"jsonrpc":"2.0","id":4,"method":"config/write","params":{"key_path":"tui.theme","value":{"accent":"blue"},"merge_strategy":"Merge"}}`)
	if resp.Error != nil {
		t.Fatalf("write Merge failed: %v", resp.Error)
	}

	read := s.Config.Read(false)
	tui := read.Config["tui"].(map[string]any)
	theme := tui["theme"].(map[string]any)
	if theme["name"] != "dark" || theme["accent"] != "blue" {
		t.Errorf("merged theme = %v", theme)
	}
}

func TestConfigWriteValidationError(t *testing.T) {
	s := newTestServer(t)
	initialize(t, s)
	resp := call(t, s, `{"jsonrpc":"2.0","id":5,"method":"config/write","params":{"key_path":"","value":1,"merge_strategy":"Replace"}}`)
	if resp.Error == nil {
		t.Fatal("expected an error")
	}
	data := resp.Error.Data.(map[string]any)
	if data["config_write_error_code"] != ConfigValidationError {
		t.Errorf("config_write_error_code = %v", data["config_write_error_code"])
	}
}

func TestConfigWriteVersionConflict(t *testing.T) {
	s := newTestServer(t)
	initialize(t, s)
	resp := call(t, s, `{"jsonrpc":"2.0","id":6,"method":"config/write","params":{"key_path":"a","value":1,"expected_version":7}}`)
	if resp.Error == nil {
		t.Fatal("expected a version conflict")
	}
	data := resp.Error.Data.(map[string]any)
	if data["config_write_error_code"] != ConfigVersionConflictError {
		t.Errorf("config_write_error_code = %v", data["config_write_error_code"])
	}
}

func TestUnknownMethod(t *testing.T) {
	s := newTestServer(t)
	initialize(t, s)
	resp := call(t, s, `{"jsonrpc":"2.0","id":7,"method":"nope/nothing"}`)
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", resp.Error)
	}
}

func TestParseError(t *testing.T) {
	s := newTestServer(t)
	out := s.HandleMessage(context.Background(), []byte(`{not json`))
	var resp Response
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}
}

func TestNotificationGetsNoResponse(t *testing.T) {
	s := newTestServer(t)
	initialize(t, s)
	out := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"config/read"}`))
	if out != nil {
		t.Fatalf("notification should get no response, got %s", out)
	}
}
