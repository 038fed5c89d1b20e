// Package aggregate は複数ソースからの候補収集・評価・ランキングのパイプラインを提供する。
//
// パイプラインは次の段階からなる:
//  1. 登録順のアダプタ試行による候補収集（目標数に達したら打ち切り）
//  2. 関連度・品質・スパムによるフィルタと合成スコアの算出
//  3. スコア降順の安定ソート（同点は新しい方を優先）
//  4. URLによる重複排除（先勝ち）
//  5. 投稿者ごとの採用数制限（不足時は制限を緩和する2パス目）
//  6. 件数切り詰めと出力形式への整形
//
// 確定結果はクエリ単位でキャッシュされ、同一クエリの並行リクエストは
// singleflightで1回のパイプライン実行に合流する。
package aggregate

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/trendpulse/internal/model"
	"github.com/hitoshi/trendpulse/internal/scoring"
	"github.com/hitoshi/trendpulse/internal/source"
)

// Config はパイプラインの重みと閾値を保持する。
type Config struct {
	GatherFactor       int           // limitに対する候補収集の倍率
	RelevanceFloor     float64       // 採用に必要な最低関連度スコア
	QualityFloor       float64       // 採用に必要な最低品質スコア
	StalenessWindow    time.Duration // この期間より古い投稿は鮮度切れとみなす
	EngagementOverride float64       // 鮮度切れでも採用するエンゲージメントシグナルの閾値
	RelevanceWeight    float64
	QualityWeight      float64
	EngagementDivisor  float64
	EngagementCap      float64
	QueryBoost         float64
	DiversityCap       int // 同一投稿者の最大採用数
}

// DefaultConfig はデフォルトのパイプライン設定を返す。
func DefaultConfig() Config {
	return Config{
		GatherFactor:       2,
		RelevanceFloor:     2.0,
		QualityFloor:       1.0,
		StalenessWindow:    7 * 24 * time.Hour,
		EngagementOverride: 100,
		RelevanceWeight:    5.0,
		QualityWeight:      3.0,
		EngagementDivisor:  50,
		EngagementCap:      5.0,
		QueryBoost:         1.5,
		DiversityCap:       2,
	}
}

// ResultCache は確定結果のキャッシュのインターフェース。
// cache.ResultCacheが実装する。
type ResultCache interface {
	Get(key string) ([]model.OutputPost, bool)
	Set(key string, posts []model.OutputPost)
}

// MetricsRecorder はパイプラインのメトリクス記録のインターフェース。
// metrics.Collectorが実装する。
type MetricsRecorder interface {
	RecordSourceFetch(sourceName string, count int, err error)
	RecordCandidates(gathered, accepted int)
	RecordRejection(reason string)
	RecordCacheHit()
	RecordCacheMiss()
	RecordPipelineLatency(duration time.Duration)
}

// Aggregator は候補収集からランキングまでのパイプラインを実行する。
type Aggregator struct {
	adapters []source.Adapter
	cache    ResultCache
	quality  *scoring.QualityScorer
	metrics  MetricsRecorder
	logger   *slog.Logger
	config   Config

	group singleflight.Group
	now   func() time.Time // テスト時に差し替える
}

// New はAggregatorを生成する。
// adaptersは優先度の高い順に渡す。
func New(adapters []source.Adapter, cache ResultCache, metrics MetricsRecorder, logger *slog.Logger, config Config) *Aggregator {
	return &Aggregator{
		adapters: adapters,
		cache:    cache,
		quality:  scoring.NewQualityScorer(),
		metrics:  metrics,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// TopPosts はクエリに関連する上位limit件の投稿を返す。
// limitが0以下の場合はエラーを返す。
// キャッシュ済みの結果があればパイプラインを実行せずにそれを返す。
// 同一クエリの並行呼び出しは1回のパイプライン実行に合流し、全員が同じ結果を受け取る。
// 全ソースが候補を返せない場合は空スライスを返す（エラーではない）。
func (a *Aggregator) TopPosts(ctx context.Context, query string, limit int) ([]model.OutputPost, error) {
	if limit <= 0 {
		return nil, model.NewInvalidLimitError(limit)
	}

	key := cacheKey(query)
	if posts, ok := a.cache.Get(key); ok {
		a.metrics.RecordCacheHit()
		return posts, nil
	}
	a.metrics.RecordCacheMiss()

	v, err, _ := a.group.Do(key, func() (interface{}, error) {
		// 合流待ちの間に先行実行が完了している場合がある
		if posts, ok := a.cache.Get(key); ok {
			a.metrics.RecordCacheHit()
			return posts, nil
		}

		posts := a.build(ctx, query, limit)
		if len(posts) > 0 {
			a.cache.Set(key, posts)
		}
		return posts, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]model.OutputPost), nil
}

// Refresh はキャッシュの有無に関わらずパイプラインを再実行し、
// 結果でキャッシュを上書きする。バックグラウンドのキャッシュ更新ワーカーが
// TTL切れを待たずにエントリを温め直すために使用する。
// 空の結果ではキャッシュを更新しない（既存エントリを温存する）。
// 同一キーの進行中のフライトがあればそれに合流する。
func (a *Aggregator) Refresh(ctx context.Context, query string, limit int) ([]model.OutputPost, error) {
	if limit <= 0 {
		return nil, model.NewInvalidLimitError(limit)
	}

	key := cacheKey(query)
	v, err, _ := a.group.Do(key, func() (interface{}, error) {
		posts := a.build(ctx, query, limit)
		if len(posts) > 0 {
			a.cache.Set(key, posts)
		}
		return posts, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]model.OutputPost), nil
}

// cacheKey は正規化済みのキャッシュキーを返す。
// 前後空白と大文字小文字の違いは同一クエリとして扱う。
func cacheKey(query string) string {
	return "posts:" + strings.ToLower(strings.TrimSpace(query))
}

// build はパイプラインを1回実行して確定結果を生成する。
// ソース単位の失敗はログに記録して次のソースへフォールバックするため、
// エラーは返さない。
func (a *Aggregator) build(ctx context.Context, query string, limit int) []model.OutputPost {
	start := a.now()

	raws := a.gather(ctx, query, limit*a.config.GatherFactor)
	scored := a.filterAndScore(raws, query)

	// スコア降順の安定ソート。同点は発行時刻の新しい方を優先する
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].FinalScore != scored[j].FinalScore {
			return scored[i].FinalScore > scored[j].FinalScore
		}
		return scored[i].PublishedAt.After(scored[j].PublishedAt)
	})

	deduped := dedupeByURL(scored)
	diverse := a.applyDiversity(deduped, limit)

	if len(diverse) > limit {
		diverse = diverse[:limit]
	}

	posts := make([]model.OutputPost, 0, len(diverse))
	for _, s := range diverse {
		posts = append(posts, a.enhance(s))
	}

	a.metrics.RecordCandidates(len(raws), len(posts))
	a.metrics.RecordPipelineLatency(a.now().Sub(start))

	a.logger.Info("集約パイプラインが完了しました",
		slog.String("query", query),
		slog.Int("gathered", len(raws)),
		slog.Int("scored", len(scored)),
		slog.Int("returned", len(posts)),
		slog.Float64("duration_ms", float64(a.now().Sub(start).Milliseconds())),
	)

	return posts
}

// gather は登録順にアダプタを試行して候補を収集する。
// 目標数に達した時点で残りのアダプタはスキップする。
// 失敗したアダプタはログに記録して次へ進む。
func (a *Aggregator) gather(ctx context.Context, query string, target int) []model.RawCandidate {
	var raws []model.RawCandidate
	for _, adapter := range a.adapters {
		if len(raws) >= target {
			break
		}

		found, err := adapter.Fetch(ctx, query, target-len(raws))
		a.metrics.RecordSourceFetch(adapter.Name(), len(found), err)
		if err != nil {
			a.logger.Warn("ソースからの取得に失敗しました",
				slog.String("source", adapter.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(found) == 0 {
			a.logger.Info("ソースが候補を返しませんでした",
				slog.String("source", adapter.Name()),
			)
			continue
		}

		raws = append(raws, found...)
	}
	return raws
}

// filterAndScore は候補を評価し、閾値を満たすものに合成スコアを付与する。
func (a *Aggregator) filterAndScore(raws []model.RawCandidate, query string) []model.ScoredCandidate {
	now := a.now()
	terms := strings.Fields(strings.ToLower(query))

	var scored []model.ScoredCandidate
	for _, raw := range raws {
		if raw.Content == "" && raw.Title == "" {
			a.metrics.RecordRejection("empty_content")
			continue
		}

		text := raw.CombinedText()

		relevance := scoring.ScoreRelevance(text)
		if relevance < a.config.RelevanceFloor {
			a.metrics.RecordRejection("low_relevance")
			continue
		}

		quality := a.quality.Score(raw, text, now)
		if quality < a.config.QualityFloor {
			a.metrics.RecordRejection("low_quality")
			continue
		}

		if scoring.IsSpam(text) {
			a.metrics.RecordRejection("spam")
			continue
		}

		signal := raw.EngagementSignal()
		if now.Sub(raw.PublishedAt) > a.config.StalenessWindow && signal < a.config.EngagementOverride {
			a.metrics.RecordRejection("stale")
			continue
		}

		final := relevance*a.config.RelevanceWeight +
			quality*a.config.QualityWeight +
			math.Min(signal/a.config.EngagementDivisor, a.config.EngagementCap)
		if len(terms) > 0 && scoring.ContainsAnyTerm(text, terms) {
			final *= a.config.QueryBoost
		}

		scored = append(scored, model.ScoredCandidate{
			RawCandidate:   raw,
			RelevanceScore: relevance,
			QualityScore:   quality,
			FinalScore:     final,
		})
	}
	return scored
}

// dedupeByURL はURLの重複を取り除く。先に現れた（スコアの高い）候補が残る。
func dedupeByURL(scored []model.ScoredCandidate) []model.ScoredCandidate {
	seen := make(map[string]bool, len(scored))
	deduped := scored[:0:0]
	for _, s := range scored {
		if seen[s.URL] {
			continue
		}
		seen[s.URL] = true
		deduped = append(deduped, s)
	}
	return deduped
}

// applyDiversity は同一投稿者の採用数を制限する。
// 制限によってlimitに届かない場合は、除外した候補をスコア順に
// 追加する2パス目で補充する。
func (a *Aggregator) applyDiversity(scored []model.ScoredCandidate, limit int) []model.ScoredCandidate {
	counts := make(map[string]int)
	var kept, skipped []model.ScoredCandidate

	for _, s := range scored {
		id := s.AuthorIdentity()
		if counts[id] < a.config.DiversityCap {
			counts[id]++
			kept = append(kept, s)
		} else {
			skipped = append(skipped, s)
		}
	}

	for _, s := range skipped {
		if len(kept) >= limit {
			break
		}
		kept = append(kept, s)
	}

	return kept
}

// enhance はスコア済み候補を出力形式に整形し、欠落フィールドを補完する。
func (a *Aggregator) enhance(s model.ScoredCandidate) model.OutputPost {
	title := s.Title
	if title == "" {
		title = composeTitle(s.RawCandidate)
	}

	description := s.Content
	if description == "" {
		description = s.Title
	}

	author := s.AuthorHandle
	if author == "" {
		author = s.AuthorName
	}

	hashtags := s.Hashtags
	if hashtags == nil {
		hashtags = []string{}
	}

	return model.OutputPost{
		Title:          title,
		Description:    description,
		URL:            s.URL,
		Author:         author,
		Category:       string(s.Medium),
		CreatedUTC:     s.PublishedAt.Unix(),
		RelevanceScore: s.RelevanceScore,
		Engagement: model.Engagement{
			Likes:    s.Favorites,
			Retweets: s.Reposts,
			Replies:  s.Replies,
		},
		Hashtags: hashtags,
	}
}

// composeTitle はタイトルを持たないソーシャル投稿の表示タイトルを組み立てる。
// 本文は先頭100文字に切り詰める。
func composeTitle(c model.RawCandidate) string {
	content := c.Content
	if runes := []rune(content); len(runes) > 100 {
		content = string(runes[:100]) + "..."
	}
	if c.AuthorHandle != "" {
		return c.AuthorName + " (@" + c.AuthorHandle + "): " + content
	}
	return c.AuthorName + ": " + content
}
