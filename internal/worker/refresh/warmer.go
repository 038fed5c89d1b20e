// Package refresh は結果キャッシュのバックグラウンド更新を提供する。
// 定期的にデフォルトクエリのパイプラインをキャッシュを迂回して再実行し、
// エントリがTTL切れでコールドになる前に温め直す。
package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/trendpulse/internal/model"
)

// PostsService はキャッシュ更新が必要とする集約サービスのインターフェース。
// Refreshは既存のキャッシュエントリを読まずにパイプラインを再実行すること。
type PostsService interface {
	Refresh(ctx context.Context, query string, limit int) ([]model.OutputPost, error)
}

// Warmer はデフォルトクエリの結果を定期的に温め直す。
type Warmer struct {
	service PostsService
	logger  *slog.Logger
	limit   int
}

// NewWarmer はWarmerを生成する。
// limitが0以下の場合はデフォルト値10を使用する。
func NewWarmer(service PostsService, logger *slog.Logger, limit int) *Warmer {
	if limit <= 0 {
		limit = 10
	}
	return &Warmer{
		service: service,
		logger:  logger,
		limit:   limit,
	}
}

// Start は指定間隔のティッカーでキャッシュ更新を起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (w *Warmer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("キャッシュ更新ワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("limit", w.limit),
	)

	// 起動直後に1回実行
	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("キャッシュ更新ワーカーを停止しました")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce はデフォルトクエリのパイプラインをキャッシュを迂回して1回実行する。
// 失敗してもワーカーは停止せず、次のサイクルで再試行する。
func (w *Warmer) RunOnce(ctx context.Context) {
	start := time.Now()

	posts, err := w.service.Refresh(ctx, "", w.limit)
	if err != nil {
		w.logger.Error("キャッシュ更新に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Info("キャッシュを更新しました",
		slog.Int("post_count", len(posts)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}
