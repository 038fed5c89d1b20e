// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService は外部ソースから取得したHTML断片をプレーンテキストに
// 変換する。スコアリングパイプラインはテキストのみを扱うため、
// タグの通過ではなく完全な除去を行う。
// bluemondayライブラリのStrictPolicy（全タグ除去）を使用する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はHTML断片のプレーンテキスト化機能のインターフェースを定義する。
// フィード記事とスクレイプ結果の取り込み時に使用される。
type TextSanitizerService interface {
	// Plain はHTML断片からすべてのタグを除去し、プレーンテキストを返す。
	// HTMLエンティティはデコードされ、連続する空白は1つにまとめられる。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Plain(fragment string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフに変換処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyはすべてのタグと属性を除去し、テキストノードのみを残す。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Plain はHTML断片からすべてのタグを除去し、プレーンテキストを返す。
func (s *textSanitizer) Plain(fragment string) string {
	stripped := s.policy.Sanitize(fragment)

	// StrictPolicyはテキストをエスケープして返すため、エンティティを戻す
	decoded := html.UnescapeString(stripped)

	return strings.Join(strings.Fields(decoded), " ")
}
