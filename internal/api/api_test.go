package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlzcms/fx-agent-sub000/internal/agent"
	"github.com/zlzcms/fx-agent-sub000/internal/llm"
	"github.com/zlzcms/fx-agent-sub000/internal/orchestrator"
)

const testSecret = "test-secret"

// fixedLLM 每次调用返回同一段文本。
type fixedLLM struct{ reply string }

func (f *fixedLLM) GenerateContent(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	return &llm.Response{Content: f.reply}, nil
}

func (f *fixedLLM) GenerateContentStream(ctx context.Context, messages []llm.Message) (<-chan *llm.Response, error) {
	out := make(chan *llm.Response, 4)
	go func() {
		defer close(out)
		for _, chunk := range agent.SimulateStream(f.reply, 4) {
			out <- &llm.Response{Content: chunk}
		}
	}()
	return out, nil
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	orch := orchestrator.New(orchestrator.Deps{
		ChatLLM:  &fixedLLM{reply: "你好，我是助理"},
		Services: []string{"用户风险报告"},
	})
	h := NewHandler(orch, nil, nil)
	return NewRouter(h, RouterOptions{JWTSecret: testSecret})
}

func TestHealthNoAuth(t *testing.T) {
	r := newTestRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStreamRejectsMissingToken(t *testing.T) {
	r := newTestRouter()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agent/stream",
		strings.NewReader(`{"user_query":"你好"}`))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStreamRejectsBadToken(t *testing.T) {
	r := newTestRouter()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agent/stream",
		strings.NewReader(`{"user_query":"你好"}`))
	req.Header.Set("Authorization", "Bearer not-a-token")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStreamWritesSSEFrames(t *testing.T) {
	r := newTestRouter()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agent/stream",
		strings.NewReader(`{"user_query":"你好","action":"chat"}`))
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"crm_user_id": float64(42)}))
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	frames := []json.RawMessage{}
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, json.RawMessage(strings.TrimPrefix(line, "data: ")))
		}
	}
	require.NotEmpty(t, frames)

	// 首帧携带 task_id
	var first map[string]interface{}
	require.NoError(t, json.Unmarshal(frames[0], &first))
	data, _ := first["data"].(map[string]interface{})
	require.NotNil(t, data)
	assert.NotEmpty(t, data["task_id"])

	// 末帧是终止事件
	var last map[string]interface{}
	require.NoError(t, json.Unmarshal(frames[len(frames)-1], &last))
	assert.Equal(t, "completed", last["type"])
}

func TestStreamAcceptsSubClaim(t *testing.T) {
	r := newTestRouter()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agent/stream",
		strings.NewReader(`{"user_query":"你好","action":"chat"}`))
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"sub": float64(7)}))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCancelValidatesBody(t *testing.T) {
	r := newTestRouter()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agent/cancel", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"crm_user_id": float64(42)}))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestToHistoryNormalizesRoles(t *testing.T) {
	history := toHistory([]historyMessage{
		{Role: "user", Content: "问"},
		{Role: "assistant", Content: "答"},
		{Role: "unknown", Content: "x"},
	})
	require.Len(t, history, 3)
	assert.Equal(t, llm.RoleUser, history[0].Role)
	assert.Equal(t, llm.RoleAssistant, history[1].Role)
	assert.Equal(t, llm.RoleUser, history[2].Role)
}
