package chatbot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/exoml/pkg/errors"
)

// mockLLM records the last request and returns a canned reply.
type mockLLM struct {
	reply string
	err   error
	last  LLMRequest
	calls int
}

func (m *mockLLM) Complete(_ context.Context, req LLMRequest) (string, error) {
	m.calls++
	m.last = req
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

func newTestHandler(t *testing.T, llm LLMClient) http.Handler {
	t.Helper()
	svc, err := NewService(llm, NewPromptManager(""), DefaultActivePrompt, DefaultTemperature)
	require.NoError(t, err)
	return NewHandler(svc, "Test Bot").Router()
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLoadSettings(t *testing.T) {
	t.Run("env file and environment", func(t *testing.T) {
		env := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(env, []byte("GOOGLE_API_KEY=from-file\nAPP_NAME=File Bot\nDEBUG=true\n"), 0o644))
		t.Setenv("GOOGLE_API_KEY", "")
		t.Setenv("APP_NAME", "Env Bot")

		s, err := LoadSettings(env)
		require.NoError(t, err)
		assert.Equal(t, "from-file", s.GoogleAPIKey)
		assert.Equal(t, "Env Bot", s.AppName)
		assert.True(t, s.Debug)
		assert.Equal(t, DefaultModelName, s.ModelName)
		assert.Equal(t, DefaultActivePrompt, s.ActivePrompt)
		assert.InDelta(t, 0.2, s.Temperature, 1e-12)
	})

	t.Run("api key required", func(t *testing.T) {
		t.Setenv("GOOGLE_API_KEY", "")
		_, err := LoadSettings(filepath.Join(t.TempDir(), "absent.env"))
		var ve *errors.ValidationError
		require.ErrorAs(t, err, &ve)
	})
}

func TestPromptManager(t *testing.T) {
	fsys := fstest.MapFS{
		"short.txt":  {Data: []byte("  be brief \n")},
		"notes.md":   {Data: []byte("ignored")},
		"expert.txt": {Data: []byte("expert")},
	}
	m := NewPromptManagerFS(fsys)

	p, err := m.Load("short")
	require.NoError(t, err)
	assert.Equal(t, "be brief", p)

	fsys["short.txt"] = &fstest.MapFile{Data: []byte("changed")}
	p, _ = m.Load("short")
	assert.Equal(t, "be brief", p, "cached copy")
	p, err = m.Reload("short")
	require.NoError(t, err)
	assert.Equal(t, "changed", p)

	_, err = m.Load("missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	_, err = m.Load("../short")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	assert.Equal(t, []string{"expert", "short"}, m.Available())
	assert.Contains(t, NewPromptManager("").Available(), DefaultActivePrompt)
}

func TestService_PromptFallback(t *testing.T) {
	llm := &mockLLM{reply: "hi"}
	svc, err := NewService(llm, NewPromptManager(""), "does_not_exist", 0.5)
	require.NoError(t, err)
	assert.Contains(t, svc.SystemPrompt(), "exoplanets")

	out, err := svc.Respond(context.Background(), "What is a hot Jupiter?")
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
	assert.Equal(t, "What is a hot Jupiter?", llm.last.Message)
	assert.Equal(t, svc.SystemPrompt(), llm.last.System)
	assert.InDelta(t, 0.5, llm.last.Temperature, 1e-12)

	require.NoError(t, svc.ReloadPrompt())

	_, err = NewService(llm, NewPromptManagerFS(fstest.MapFS{}), "custom", 0.2)
	assert.Error(t, err)
}

func TestChatEndpoint(t *testing.T) {
	llm := &mockLLM{reply: "Exoplanets orbit other stars."}
	h := newTestHandler(t, llm)

	rec := do(h, http.MethodPost, "/api/chat", `{"message": "What are exoplanets?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ChatResponse{Response: "Exoplanets orbit other stars.", Status: "success"}, resp)

	tests := []struct {
		name string
		body string
	}{
		{"empty", `{"message": ""}`},
		{"too long", `{"message": "` + strings.Repeat("a", MaxMessageLen+1) + `"}`},
		{"missing", `{}`},
		{"wrong type", `{"message": 42}`},
		{"broken", `{"message":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodPost, "/api/chat", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Contains(t, rec.Body.String(), `"detail"`)
		})
	}
	assert.Equal(t, 1, llm.calls)

	rec = do(h, http.MethodPost, "/api/chat", `{"message": "`+strings.Repeat("é", MaxMessageLen)+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code, "length counts characters, not bytes")
}

func TestChatEndpoint_LLMFailure(t *testing.T) {
	h := newTestHandler(t, &mockLLM{err: errors.New("quota exceeded")})
	rec := do(h, http.MethodPost, "/api/chat", `{"message": "hello"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, "error", e.Status)
	assert.Contains(t, e.Error, "quota exceeded")
}

func TestPagesAndCORS(t *testing.T) {
	h := newTestHandler(t, &mockLLM{})

	rec := do(h, http.MethodGet, "/health", "")
	assert.JSONEq(t, `{"status":"healthy","service":"Test Bot"}`, rec.Body.String())

	rec = do(h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/static/js/widget.js")

	rec = do(h, http.MethodGet, "/test-widget", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1>Test Bot</h1>")

	rec = do(h, http.MethodGet, "/static/js/widget.js", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/chat")

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	pre := httptest.NewRecorder()
	h.ServeHTTP(pre, req)
	assert.GreaterOrEqual(t, pre.Code, 200)
	assert.Less(t, pre.Code, 300)
	assert.Empty(t, pre.Body.String())
	assert.Equal(t, "https://example.org", pre.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", pre.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, pre.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Contains(t, pre.Header().Get("Access-Control-Allow-Headers"), "Content-Type")

	// 通常のリクエストにも Origin がそのまま返る
	chat := httptest.NewRequest(http.MethodGet, "/health", nil)
	chat.Header.Set("Origin", "http://localhost:3000")
	got := httptest.NewRecorder()
	h.ServeHTTP(got, chat)
	assert.Equal(t, "http://localhost:3000", got.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", got.Header().Get("Access-Control-Allow-Credentials"))
}

func TestGeminiClient(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent"), r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		got = nil
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(fmt.Sprint(got["contents"]), "fail") {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"error":{"code":403,"message":"bad key","status":"PERMISSION_DENIED"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Hello "},{"text":"world"}]},"finishReason":"STOP"}]}`)
	}))
	defer srv.Close()

	c, err := NewGeminiClient(context.Background(), "secret", "gemini-test", WithBaseURL(srv.URL))
	require.NoError(t, err)
	out, err := c.Complete(context.Background(), LLMRequest{System: "sys", Message: "hi", Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", out)

	sys, ok := got["systemInstruction"].(map[string]interface{})
	require.True(t, ok, "systemInstruction missing: %v", got)
	assert.Contains(t, fmt.Sprint(sys["parts"]), "sys")
	contents, ok := got["contents"].([]interface{})
	require.True(t, ok)
	require.Len(t, contents, 1)
	first := contents[0].(map[string]interface{})
	assert.Equal(t, "user", first["role"])
	assert.Contains(t, fmt.Sprint(first["parts"]), "hi")
	gen, ok := got["generationConfig"].(map[string]interface{})
	require.True(t, ok)
	assert.InDelta(t, 0.2, gen["temperature"], 1e-6)

	_, err = c.Complete(context.Background(), LLMRequest{Message: "fail"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}
