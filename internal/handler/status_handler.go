package handler

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/trendpulse/internal/cache"
)

// CacheStatusProvider はキャッシュ状態ハンドラーが必要とするインターフェース。
type CacheStatusProvider interface {
	Status() cache.Status
}

// StatusHandler は運用状態のHTTPハンドラー。
type StatusHandler struct {
	cache CacheStatusProvider
}

// NewStatusHandler はStatusHandlerを生成する。
func NewStatusHandler(cache CacheStatusProvider) *StatusHandler {
	return &StatusHandler{cache: cache}
}

// GetCacheStatus は結果キャッシュの現在の状態を返す。
// GET /api/cache/status
func (h *StatusHandler) GetCacheStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.cache.Status())
}

// Health はヘルスチェック応答を返す。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
