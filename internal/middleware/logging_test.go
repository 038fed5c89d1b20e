package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// logEntry はテスト用にログのJSONをデコードする構造体。
type logEntry struct {
	Level      string  `json:"level"`
	Msg        string  `json:"msg"`
	RequestID  string  `json:"request_id"`
	Method     string  `json:"method"`
	Path       string  `json:"path"`
	Status     int     `json:"status"`
	DurationMs float64 `json:"duration_ms"`
}

func captureLog(t *testing.T, handler http.Handler, req *http.Request) (logEntry, *http.Response) {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	mw := NewLoggingMiddleware(logger)
	w := httptest.NewRecorder()
	mw(handler).ServeHTTP(w, req)

	var entry logEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log entry: %v (raw: %s)", err, buf.String())
	}
	return entry, w.Result()
}

// TestLoggingMiddleware_LogsRequestFields はリクエストの基本フィールドがログに含まれることを検証する。
func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)

	entry, _ := captureLog(t, handler, req)

	if entry.Msg != "http_request" {
		t.Errorf("msg = %q, want %q", entry.Msg, "http_request")
	}
	if entry.Method != http.MethodGet {
		t.Errorf("method = %q, want %q", entry.Method, http.MethodGet)
	}
	if entry.Path != "/api/posts" {
		t.Errorf("path = %q, want %q", entry.Path, "/api/posts")
	}
	if entry.Status != http.StatusOK {
		t.Errorf("status = %d, want %d", entry.Status, http.StatusOK)
	}
	if entry.DurationMs < 0 {
		t.Errorf("duration_ms = %v, want >= 0", entry.DurationMs)
	}
}

// TestLoggingMiddleware_GeneratesRequestID はリクエストIDが生成されヘッダーにも設定されることを検証する。
func TestLoggingMiddleware_GeneratesRequestID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)

	entry, resp := captureLog(t, handler, req)

	if entry.RequestID == "" {
		t.Error("expected request_id to be set")
	}
	if got := resp.Header.Get("X-Request-ID"); got != entry.RequestID {
		t.Errorf("X-Request-ID header = %q, want %q", got, entry.RequestID)
	}
}

// TestLoggingMiddleware_PropagatesRequestID は既存のX-Request-IDが引き継がれることを検証する。
func TestLoggingMiddleware_PropagatesRequestID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")

	entry, _ := captureLog(t, handler, req)

	if entry.RequestID != "req-abc-123" {
		t.Errorf("request_id = %q, want %q", entry.RequestID, "req-abc-123")
	}
}

// TestLoggingMiddleware_LevelByStatus はステータスコードに応じてログレベルが変わることを検証する。
func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		level  string
	}{
		{"200はINFO", http.StatusOK, "INFO"},
		{"400はWARN", http.StatusBadRequest, "WARN"},
		{"500はERROR", http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)

			entry, _ := captureLog(t, handler, req)

			if entry.Level != tt.level {
				t.Errorf("level = %q, want %q", entry.Level, tt.level)
			}
			if entry.Status != tt.status {
				t.Errorf("status = %d, want %d", entry.Status, tt.status)
			}
		})
	}
}

// TestLoggingMiddleware_DefaultStatus はWriteHeader未呼び出しで200が記録されることを検証する。
func TestLoggingMiddleware_DefaultStatus(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)

	entry, _ := captureLog(t, handler, req)

	if entry.Status != http.StatusOK {
		t.Errorf("status = %d, want %d", entry.Status, http.StatusOK)
	}
}
