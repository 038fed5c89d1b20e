package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, source, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidLimit    = "INVALID_LIMIT"
	ErrCodeInvalidQuery    = "INVALID_QUERY"
	ErrCodeSourceExhausted = "SOURCE_EXHAUSTED"
	ErrCodeFetchFailed     = "FETCH_FAILED"
	ErrCodeParseFailed     = "PARSE_FAILED"
)

// NewInvalidLimitError は無効な件数指定エラーを生成する。
// limitは1以上の整数でなければならない。
func NewInvalidLimitError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLimit,
		Message:  fmt.Sprintf("無効な取得件数です: %d", limit),
		Category: "validation",
		Action:   "limitには1以上の整数を指定してください。",
	}
}

// NewInvalidQueryError は無効な検索クエリエラーを生成する。
func NewInvalidQueryError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuery,
		Message:  fmt.Sprintf("無効な検索クエリです: %s", reason),
		Category: "validation",
		Action:   "検索クエリを短くするか、内容を確認してください。",
	}
}

// NewSourceExhaustedError は全ソース枯渇エラーを生成する。
// すべてのソースアダプタが候補を返せなかった場合に使用する。
func NewSourceExhaustedError() *APIError {
	return &APIError{
		Code:     ErrCodeSourceExhausted,
		Message:  "すべてのソースから投稿を取得できませんでした。",
		Category: "source",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("ソースの取得に失敗しました: %s", reason),
		Category: "source",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewParseFailedError はパース失敗エラーを生成する。
func NewParseFailedError(source string) *APIError {
	return &APIError{
		Code:     ErrCodeParseFailed,
		Message:  fmt.Sprintf("ソースの応答の解析に失敗しました: %s", source),
		Category: "source",
		Action:   "ソースの応答形式が変更された可能性があります。",
	}
}
