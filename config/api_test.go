// 配置 API 处理器测试。
package config

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeAPIResponse 把响应体按统一信封解出来
func decodeAPIResponse(t *testing.T, w *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

// dataAsMap 把信封里的 Data 断言成 map
func dataAsMap(t *testing.T, resp apiResponse) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data should decode into a map")
	return m
}

// --- 构造器 ---

func TestNewConfigAPIHandler_NoOrigin(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)
	require.NotNil(t, h)
	assert.Empty(t, h.allowedOrigin)
}

func TestNewConfigAPIHandler_WithOrigin(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager, "https://example.com")
	require.NotNil(t, h)
	assert.Equal(t, "https://example.com", h.allowedOrigin)
}

// --- 配置查询 ---

func TestConfigAPIHandler_GetConfig(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	w := httptest.NewRecorder()

	h.handleConfig(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	resp := decodeAPIResponse(t, w)
	assert.True(t, resp.Success)

	data := dataAsMap(t, resp)
	assert.NotNil(t, data["config"])
}

func TestConfigAPIHandler_GetConfig_RedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.JWTSecret = "topsecret"
	cfg.Cache.Password = "redispass"

	manager := NewHotReloadManager(cfg)
	h := NewConfigAPIHandler(manager)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	w := httptest.NewRecorder()

	h.handleConfig(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	data := dataAsMap(t, decodeAPIResponse(t, w))
	config, ok := data["config"].(map[string]interface{})
	require.True(t, ok)

	server, ok := config["server"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", server["jwt_secret"])

	cache, ok := config["cache"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", cache["password"])
}

// --- 配置更新 ---

func TestConfigAPIHandler_UpdateConfig(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)

	body := `{"updates": {"Log.Level": "debug"}}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.handleConfig(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeAPIResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "debug", manager.GetConfig().Log.Level)

	// 热字段不触发重启标记
	data := dataAsMap(t, resp)
	assert.Nil(t, data["requires_restart"])
}

func TestConfigAPIHandler_UpdateConfig_RequiresRestartFlag(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)

	body := `{"updates": {"Server.HTTPPort": 9090}}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.handleConfig(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeAPIResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, 9090, manager.GetConfig().Server.HTTPPort)

	data := dataAsMap(t, resp)
	assert.Equal(t, true, data["requires_restart"])
}

func TestConfigAPIHandler_UpdateConfig_UnknownField(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)

	body := `{"updates": {"Invalid.Field": "value"}}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.handleConfig(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := decodeAPIResponse(t, w)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_REQUEST", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "Unknown field")
}

func TestConfigAPIHandler_UpdateConfig_ValidatorRejects(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)

	body := `{"updates": {"Log.Level": "verbose"}}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.handleConfig(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	// 原配置不受影响
	assert.Equal(t, "info", manager.GetConfig().Log.Level)
}

func TestConfigAPIHandler_UpdateConfig_NoUpdates(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)

	body := `{"updates": {}}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.handleConfig(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := decodeAPIResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "No updates provided")
}

func TestConfigAPIHandler_UpdateConfig_BadJSON(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader("{not json"))
	w := httptest.NewRecorder()

	h.handleConfig(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- 热重载触发 ---

func TestConfigAPIHandler_Reload(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	configContent := `
server:
  http_port: 8080
log:
  level: warn
`
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	manager := NewHotReloadManager(DefaultConfig(), WithConfigPath(tmpFile))
	h := NewConfigAPIHandler(manager)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/config/reload", nil)
	w := httptest.NewRecorder()

	h.handleReload(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeAPIResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "warn", manager.GetConfig().Log.Level)
}

func TestConfigAPIHandler_Reload_NoPath(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/config/reload", nil)
	w := httptest.NewRecorder()

	h.handleReload(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	resp := decodeAPIResponse(t, w)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
}

func TestConfigAPIHandler_ReloadMethodNotAllowed(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config/reload", nil)
	w := httptest.NewRecorder()

	h.handleReload(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

// --- 字段与变更查询 ---

func TestConfigAPIHandler_GetFields(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config/fields", nil)
	w := httptest.NewRecorder()

	h.handleFields(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	data := dataAsMap(t, decodeAPIResponse(t, w))
	fields, ok := data["fields"].(map[string]interface{})
	require.True(t, ok)
	require.Contains(t, fields, "Log.Level")

	logLevel, ok := fields["Log.Level"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, logLevel["requires_restart"])
	assert.Equal(t, "info", logLevel["current_value"])

	// 敏感字段不下发当前值
	jwt, ok := fields["Server.JWTSecret"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, jwt["sensitive"])
	_, hasValue := jwt["current_value"]
	assert.False(t, hasValue)
}

func TestConfigAPIHandler_FieldsMethodNotAllowed(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/config/fields", nil)
	w := httptest.NewRecorder()

	h.handleFields(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestConfigAPIHandler_GetChanges(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)

	require.NoError(t, manager.UpdateField("Log.Level", "debug"))
	require.NoError(t, manager.UpdateField("Budget.PerCallCap", 0.5))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config/changes?limit=10", nil)
	w := httptest.NewRecorder()

	h.handleChanges(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	data := dataAsMap(t, decodeAPIResponse(t, w))
	changes, ok := data["changes"].([]interface{})
	require.True(t, ok)
	assert.Len(t, changes, 2)
}

func TestConfigAPIHandler_GetChanges_LimitApplies(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)

	require.NoError(t, manager.UpdateField("Log.Level", "debug"))
	require.NoError(t, manager.UpdateField("Log.Level", "warn"))
	require.NoError(t, manager.UpdateField("Log.Level", "error"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config/changes?limit=1", nil)
	w := httptest.NewRecorder()

	h.handleChanges(w, req)

	data := dataAsMap(t, decodeAPIResponse(t, w))
	changes, ok := data["changes"].([]interface{})
	require.True(t, ok)
	assert.Len(t, changes, 1)
}

func TestConfigAPIHandler_ChangesMethodNotAllowed(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/config/changes", nil)
	w := httptest.NewRecorder()

	h.handleChanges(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

// --- 方法守卫与路由 ---

func TestConfigAPIHandler_MethodNotAllowed(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/config", nil)
	w := httptest.NewRecorder()

	h.handleConfig(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	resp := decodeAPIResponse(t, w)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "METHOD_NOT_ALLOWED", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "DELETE")
}

func TestConfigAPIHandler_RegisterRoutes(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/api/v1/config", http.StatusOK},
		{http.MethodGet, "/api/v1/config/fields", http.StatusOK},
		{http.MethodGet, "/api/v1/config/changes", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

// --- CORS ---

func TestConfigAPIHandler_CORSPreflight(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager, "https://ops.example.com")

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/config", nil)
	w := httptest.NewRecorder()

	h.handleConfig(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ops.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
}

func TestConfigAPIHandler_CORSPreflight_NoOrigin(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/config", nil)
	w := httptest.NewRecorder()

	h.handleConfig(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

// --- 中间件: RequireAuth ---

func TestConfigAPIMiddleware_RequireAuth_NoKey(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)
	mw := NewConfigAPIMiddleware(h, "secret-key")

	handler := mw.RequireAuth(h.getConfig)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	resp := decodeAPIResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)
}

func TestConfigAPIMiddleware_RequireAuth_CorrectKey(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)
	mw := NewConfigAPIMiddleware(h, "secret-key")

	handler := mw.RequireAuth(h.getConfig)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	req.Header.Set("X-API-Key", "secret-key")
	w := httptest.NewRecorder()
	handler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestConfigAPIMiddleware_RequireAuth_WrongKey(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)
	mw := NewConfigAPIMiddleware(h, "secret-key")

	handler := mw.RequireAuth(h.getConfig)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	w := httptest.NewRecorder()
	handler(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConfigAPIMiddleware_RequireAuth_QueryParamRejected(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)
	mw := NewConfigAPIMiddleware(h, "secret-key")

	// query string 传 key 不被接受
	req := httptest.NewRequest(http.MethodGet, "/api/v1/config?api_key=secret-key", nil)
	w := httptest.NewRecorder()

	mw.RequireAuth(h.getConfig)(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConfigAPIMiddleware_RequireAuth_SkipsOptions(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)
	mw := NewConfigAPIMiddleware(h, "secret-key")

	var called bool
	handler := mw.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/config", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	assert.True(t, called, "OPTIONS should bypass auth")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestConfigAPIMiddleware_RequireAuth_EmptyKeyAllowsAll(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)
	mw := NewConfigAPIMiddleware(h, "")

	handler := mw.RequireAuth(h.getConfig)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// --- 中间件: LogRequests ---

func TestConfigAPIMiddleware_LogRequests(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)
	mw := NewConfigAPIMiddleware(h, "")

	var loggedMethod, loggedPath string
	var loggedStatus int
	var loggedDuration time.Duration

	handler := mw.LogRequests(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		},
		func(method, path string, status int, duration time.Duration) {
			loggedMethod = method
			loggedPath = path
			loggedStatus = status
			loggedDuration = duration
		},
	)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/config/reload", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, http.MethodPost, loggedMethod)
	assert.Equal(t, "/api/v1/config/reload", loggedPath)
	assert.Equal(t, http.StatusCreated, loggedStatus)
	assert.GreaterOrEqual(t, loggedDuration, time.Duration(0))
}

func TestConfigAPIMiddleware_LogRequests_NilLogger(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	h := NewConfigAPIHandler(manager)
	mw := NewConfigAPIMiddleware(h, "")

	handler := mw.LogRequests(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
		nil,
	)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	assert.NotPanics(t, func() {
		handler(w, req)
	})
}

// --- responseWriter ---

func TestResponseWriter_CapturesStatus(t *testing.T) {
	inner := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: inner, status: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)
	assert.Equal(t, http.StatusNotFound, rw.status)
	assert.Equal(t, http.StatusNotFound, inner.Code)
}
