// Package source は各メディアからの候補投稿の取得を提供する。
// 検索スクレイプ、権威アカウントのタイムライン、RSS/Atomフィードの
// 3種類のアダプタと、取得の並列数を制御するセマフォを含む。
package source

import (
	"context"

	"github.com/hitoshi/trendpulse/internal/model"
)

// Adapter は1つのメディアから候補投稿を取得するアダプタのインターフェース。
// 集約パイプラインは登録順にアダプタを試行する。
type Adapter interface {
	// Name はアダプタの識別名を返す。ログとメトリクスのラベルに使用する。
	Name() string

	// Fetch はクエリに関連する候補投稿を取得する。
	// queryが空の場合はアダプタ既定のトピックで取得する。
	// limitは取得したい候補数のヒントであり、返却数はこれを超えてもよい。
	// 取得できた候補が0件の場合は空スライスとnilエラーを返す。
	Fetch(ctx context.Context, query string, limit int) ([]model.RawCandidate, error)
}

// Pool は外部ソースへの同時HTTPフェッチ数を制限するセマフォ。
// すべてのアダプタで1つのPoolを共有する。
type Pool struct {
	sem chan struct{}
}

// NewPool は最大並列数を指定してPoolを生成する。
// sizeが0以下の場合はデフォルト値3を使用する。
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 3
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Do はセマフォを取得してからfnを実行する。
// セマフォの空き待ちの間にコンテキストがキャンセルされた場合は
// fnを実行せずにctx.Err()を返す。
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	return fn()
}
