// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/trendpulse/internal/model"
)

// AggregatorService は投稿ハンドラーが必要とする集約サービスのインターフェース。
type AggregatorService interface {
	// TopPosts はクエリに関連する上位limit件の投稿を返す。
	TopPosts(ctx context.Context, query string, limit int) ([]model.OutputPost, error)
}

// PostsHandlerConfig は投稿ハンドラーの検証パラメータを保持する。
type PostsHandlerConfig struct {
	DefaultLimit int // limit未指定時の取得件数
	MaxLimit     int // limitの上限
	MaxQueryLen  int // 検索クエリの最大文字数
}

// PostsHandler は投稿取得のHTTPハンドラー。
type PostsHandler struct {
	service AggregatorService
	config  PostsHandlerConfig
}

// NewPostsHandler はPostsHandlerを生成する。
func NewPostsHandler(service AggregatorService, config PostsHandlerConfig) *PostsHandler {
	return &PostsHandler{
		service: service,
		config:  config,
	}
}

// postListResponse は投稿一覧のレスポンス。
type postListResponse struct {
	Posts []model.OutputPost `json:"posts"`
	Count int                `json:"count"`
}

// GetPosts はランキング済みの投稿一覧を取得する。
// GET /api/posts?q=xxx&limit=10
func (h *PostsHandler) GetPosts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if len([]rune(query)) > h.config.MaxQueryLen {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidQueryError("クエリが長すぎます"))
		return
	}

	limit, apiErr := h.parseLimit(r.URL.Query().Get("limit"))
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	posts, err := h.service.TopPosts(r.Context(), query, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if posts == nil {
		posts = []model.OutputPost{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(postListResponse{
		Posts: posts,
		Count: len(posts),
	})
}

// parseLimit はlimitクエリパラメータを検証して取得件数を返す。
// 未指定の場合はデフォルト値、整数でない・0以下・上限超過の場合はエラーを返す。
func (h *PostsHandler) parseLimit(raw string) (int, *model.APIError) {
	if raw == "" {
		return h.config.DefaultLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.NewInvalidLimitError(0)
	}
	if limit <= 0 || limit > h.config.MaxLimit {
		return 0, model.NewInvalidLimitError(limit)
	}
	return limit, nil
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"code":     apiErr.Code,
		"message":  apiErr.Message,
		"category": apiErr.Category,
		"action":   apiErr.Action,
	})
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidLimit, model.ErrCodeInvalidQuery:
		return http.StatusBadRequest
	case model.ErrCodeSourceExhausted:
		return http.StatusServiceUnavailable
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	case model.ErrCodeParseFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
