package aggregate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/trendpulse/internal/model"
	"github.com/hitoshi/trendpulse/internal/source"
)

var aggregateNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeAdapter は固定の候補またはエラーを返すテスト用アダプタ。
type fakeAdapter struct {
	name       string
	candidates []model.RawCandidate
	err        error
	calls      int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Fetch(_ context.Context, _ string, _ int) ([]model.RawCandidate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

type fakeCache struct {
	entries map[string][]model.OutputPost
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]model.OutputPost)}
}

func (c *fakeCache) Get(key string) ([]model.OutputPost, bool) {
	posts, ok := c.entries[key]
	return posts, ok
}

func (c *fakeCache) Set(key string, posts []model.OutputPost) {
	c.entries[key] = posts
	c.sets++
}

type fakeMetrics struct {
	mu         sync.Mutex
	rejections map[string]int
	cacheHits  int
	cacheMiss  int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{rejections: make(map[string]int)}
}

func (m *fakeMetrics) RecordSourceFetch(string, int, error) {}
func (m *fakeMetrics) RecordCandidates(int, int)            {}
func (m *fakeMetrics) RecordPipelineLatency(time.Duration)  {}

func (m *fakeMetrics) RecordRejection(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections[reason]++
}

func (m *fakeMetrics) RecordCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits++
}

func (m *fakeMetrics) RecordCacheMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheMiss++
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// acceptableCandidate は全フィルタを通過する候補を返す。
// 関連度は高キーワード1つで2.0、品質はベースラインの3.0になる。
func acceptableCandidate(url string) model.RawCandidate {
	return model.RawCandidate{
		Content:      "A deep dive into artificial intelligence systems. " + strings.Repeat("x", 80),
		AuthorName:   "Researcher",
		AuthorHandle: "researcher",
		URL:          url,
		PublishedAt:  aggregateNow.Add(-48 * time.Hour),
		Medium:       model.MediumSocial,
	}
}

func newTestAggregator(adapters []*fakeAdapter, cache *fakeCache, metrics *fakeMetrics) *Aggregator {
	srcs := make([]source.Adapter, 0, len(adapters))
	for _, a := range adapters {
		srcs = append(srcs, a)
	}
	agg := New(srcs, cache, metrics, discardLogger(), DefaultConfig())
	agg.now = func() time.Time { return aggregateNow }
	return agg
}

func TestTopPosts_InvalidLimit(t *testing.T) {
	agg := newTestAggregator(nil, newFakeCache(), newFakeMetrics())

	for _, limit := range []int{0, -1} {
		_, err := agg.TopPosts(context.Background(), "ai", limit)
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("limit %d: expected APIError, got %v", limit, err)
		}
		if apiErr.Code != model.ErrCodeInvalidLimit {
			t.Errorf("limit %d: expected code %s, got %s", limit, model.ErrCodeInvalidLimit, apiErr.Code)
		}
	}
}

func TestTopPosts_FiltersCandidates(t *testing.T) {
	recent := aggregateNow.Add(-48 * time.Hour)
	stale := aggregateNow.Add(-8 * 24 * time.Hour)

	tests := []struct {
		name      string
		candidate model.RawCandidate
		want      int
		rejection string
	}{
		{
			name:      "閾値を満たす候補は採用される",
			candidate: acceptableCandidate("https://example.com/1"),
			want:      1,
		},
		{
			name: "関連度が足りない候補は除外される",
			candidate: model.RawCandidate{
				Content:     "My favorite recipes for the weekend. " + strings.Repeat("x", 80),
				AuthorName:  "Cook",
				URL:         "https://example.com/2",
				PublishedAt: recent,
			},
			want:      0,
			rejection: "low_relevance",
		},
		{
			name: "スパム判定された候補は除外される",
			candidate: model.RawCandidate{
				Content:     "Buy now! Amazing machine learning course. " + strings.Repeat("x", 80),
				AuthorName:  "Seller",
				URL:         "https://example.com/3",
				PublishedAt: recent,
			},
			want:      0,
			rejection: "spam",
		},
		{
			name: "古くてエンゲージメントの低い候補は除外される",
			candidate: func() model.RawCandidate {
				c := acceptableCandidate("https://example.com/4")
				c.PublishedAt = stale
				c.Favorites = 99
				return c
			}(),
			want:      0,
			rejection: "stale",
		},
		{
			name: "古くてもエンゲージメントの高い候補は採用される",
			candidate: func() model.RawCandidate {
				c := acceptableCandidate("https://example.com/5")
				c.PublishedAt = stale
				c.Favorites = 100
				return c
			}(),
			want: 1,
		},
		{
			name: "本文もタイトルも空の候補は除外される",
			candidate: model.RawCandidate{
				AuthorName:  "Ghost",
				URL:         "https://example.com/6",
				PublishedAt: recent,
			},
			want:      0,
			rejection: "empty_content",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := newFakeMetrics()
			adapter := &fakeAdapter{name: "social_search", candidates: []model.RawCandidate{tt.candidate}}
			agg := newTestAggregator([]*fakeAdapter{adapter}, newFakeCache(), metrics)

			posts, err := agg.TopPosts(context.Background(), "", 5)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(posts) != tt.want {
				t.Fatalf("expected %d posts, got %d", tt.want, len(posts))
			}
			if tt.rejection != "" && metrics.rejections[tt.rejection] != 1 {
				t.Errorf("expected rejection %q to be recorded, got %v", tt.rejection, metrics.rejections)
			}
		})
	}
}

func TestTopPosts_SortsByFinalScore(t *testing.T) {
	low := acceptableCandidate("https://example.com/low")
	high := acceptableCandidate("https://example.com/high")
	high.Favorites = 250 // シグナル250で上限の+5.0が加算される

	adapter := &fakeAdapter{name: "social_search", candidates: []model.RawCandidate{low, high}}
	agg := newTestAggregator([]*fakeAdapter{adapter}, newFakeCache(), newFakeMetrics())

	posts, err := agg.TopPosts(context.Background(), "", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	if posts[0].URL != "https://example.com/high" {
		t.Errorf("expected high-engagement post first, got %s", posts[0].URL)
	}
}

func TestTopPosts_QueryBoost(t *testing.T) {
	// 同じ基礎スコアの2件のうちクエリ語を含む方が先頭になる
	plain := acceptableCandidate("https://example.com/plain")
	plain.Content = "A broad look at artificial intelligence research trends. " + strings.Repeat("x", 80)
	boosted := acceptableCandidate("https://example.com/boosted")
	boosted.Content = "A broad look at artificial intelligence research in europe. " + strings.Repeat("x", 80)
	plain.PublishedAt = boosted.PublishedAt.Add(time.Hour) // ブーストがなければ新しいplainが先頭

	adapter := &fakeAdapter{name: "social_search", candidates: []model.RawCandidate{plain, boosted}}
	agg := newTestAggregator([]*fakeAdapter{adapter}, newFakeCache(), newFakeMetrics())

	posts, err := agg.TopPosts(context.Background(), "europe", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	if posts[0].URL != "https://example.com/boosted" {
		t.Errorf("expected query-boosted post first, got %s", posts[0].URL)
	}
}

func TestTopPosts_DedupesByURL(t *testing.T) {
	first := acceptableCandidate("https://example.com/dup")
	first.AuthorName = "First"
	first.Favorites = 250
	second := acceptableCandidate("https://example.com/dup")
	second.AuthorName = "Second"

	adapter := &fakeAdapter{name: "social_search", candidates: []model.RawCandidate{first, second}}
	agg := newTestAggregator([]*fakeAdapter{adapter}, newFakeCache(), newFakeMetrics())

	posts, err := agg.TopPosts(context.Background(), "", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("expected 1 post after dedup, got %d", len(posts))
	}
	if posts[0].Engagement.Likes != 250 {
		t.Errorf("expected higher-scored duplicate to survive, got likes=%d", posts[0].Engagement.Likes)
	}
}

func TestTopPosts_DiversityCap(t *testing.T) {
	var candidates []model.RawCandidate
	for i := 0; i < 4; i++ {
		c := acceptableCandidate(fmt.Sprintf("https://example.com/same/%d", i))
		c.AuthorHandle = "prolific"
		candidates = append(candidates, c)
	}
	other := acceptableCandidate("https://example.com/other")
	other.AuthorHandle = "other"
	candidates = append(candidates, other)

	adapter := &fakeAdapter{name: "social_search", candidates: candidates}
	agg := newTestAggregator([]*fakeAdapter{adapter}, newFakeCache(), newFakeMetrics())

	posts, err := agg.TopPosts(context.Background(), "", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("expected 3 posts, got %d", len(posts))
	}
	prolific := 0
	for _, p := range posts {
		if p.Author == "prolific" {
			prolific++
		}
	}
	if prolific != 2 {
		t.Errorf("expected 2 posts from prolific author, got %d", prolific)
	}
}

func TestTopPosts_DiversityRelaxedWhenShort(t *testing.T) {
	// 投稿者が1人しかいない場合、制限で除外された候補が補充される
	var candidates []model.RawCandidate
	for i := 0; i < 5; i++ {
		c := acceptableCandidate(fmt.Sprintf("https://example.com/solo/%d", i))
		c.AuthorHandle = "solo"
		candidates = append(candidates, c)
	}

	adapter := &fakeAdapter{name: "social_search", candidates: candidates}
	agg := newTestAggregator([]*fakeAdapter{adapter}, newFakeCache(), newFakeMetrics())

	posts, err := agg.TopPosts(context.Background(), "", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 4 {
		t.Fatalf("expected 4 posts after relaxation, got %d", len(posts))
	}
}

func TestTopPosts_TruncatesToLimit(t *testing.T) {
	var candidates []model.RawCandidate
	for i := 0; i < 10; i++ {
		c := acceptableCandidate(fmt.Sprintf("https://example.com/%d", i))
		c.AuthorHandle = fmt.Sprintf("author%d", i)
		candidates = append(candidates, c)
	}

	adapter := &fakeAdapter{name: "social_search", candidates: candidates}
	agg := newTestAggregator([]*fakeAdapter{adapter}, newFakeCache(), newFakeMetrics())

	posts, err := agg.TopPosts(context.Background(), "", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("expected 3 posts, got %d", len(posts))
	}
}

func TestTopPosts_FallsBackToNextSource(t *testing.T) {
	failing := &fakeAdapter{name: "social_search", err: errors.New("all mirrors down")}
	working := &fakeAdapter{name: "ai_feeds", candidates: []model.RawCandidate{acceptableCandidate("https://example.com/feed")}}
	agg := newTestAggregator([]*fakeAdapter{failing, working}, newFakeCache(), newFakeMetrics())

	posts, err := agg.TopPosts(context.Background(), "", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("expected 1 post from fallback source, got %d", len(posts))
	}
	if working.calls != 1 {
		t.Errorf("expected fallback adapter to be called once, got %d", working.calls)
	}
}

func TestTopPosts_SkipsRemainingSourcesWhenTargetMet(t *testing.T) {
	var candidates []model.RawCandidate
	for i := 0; i < 10; i++ {
		candidates = append(candidates, acceptableCandidate(fmt.Sprintf("https://example.com/%d", i)))
	}
	first := &fakeAdapter{name: "social_search", candidates: candidates}
	second := &fakeAdapter{name: "ai_feeds"}
	agg := newTestAggregator([]*fakeAdapter{first, second}, newFakeCache(), newFakeMetrics())

	// limit=5、倍率2なので目標10件。1つ目のソースで到達する
	if _, err := agg.TopPosts(context.Background(), "", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.calls != 0 {
		t.Errorf("expected second adapter to be skipped, got %d calls", second.calls)
	}
}

func TestTopPosts_CachesResult(t *testing.T) {
	adapter := &fakeAdapter{name: "social_search", candidates: []model.RawCandidate{acceptableCandidate("https://example.com/1")}}
	cache := newFakeCache()
	metrics := newFakeMetrics()
	agg := newTestAggregator([]*fakeAdapter{adapter}, cache, metrics)

	if _, err := agg.TopPosts(context.Background(), "ai", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := agg.TopPosts(context.Background(), "ai", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if adapter.calls != 1 {
		t.Errorf("expected adapter to be called once, got %d", adapter.calls)
	}
	if metrics.cacheHits != 1 {
		t.Errorf("expected 1 cache hit, got %d", metrics.cacheHits)
	}
}

func TestTopPosts_CacheKeyNormalizesQuery(t *testing.T) {
	adapter := &fakeAdapter{name: "social_search", candidates: []model.RawCandidate{acceptableCandidate("https://example.com/1")}}
	agg := newTestAggregator([]*fakeAdapter{adapter}, newFakeCache(), newFakeMetrics())

	if _, err := agg.TopPosts(context.Background(), "AI", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := agg.TopPosts(context.Background(), "  ai ", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if adapter.calls != 1 {
		t.Errorf("expected normalized queries to share a cache entry, got %d calls", adapter.calls)
	}
}

func TestTopPosts_EmptyResultNotCached(t *testing.T) {
	adapter := &fakeAdapter{name: "social_search"}
	cache := newFakeCache()
	agg := newTestAggregator([]*fakeAdapter{adapter}, cache, newFakeMetrics())

	posts, err := agg.TopPosts(context.Background(), "ai", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 0 {
		t.Fatalf("expected empty result, got %d posts", len(posts))
	}
	if cache.sets != 0 {
		t.Errorf("expected empty result not to be cached, got %d sets", cache.sets)
	}
}

// TestRefresh_RebuildsDespiteLiveCache は生存中のキャッシュエントリがあっても
// Refreshがパイプラインを再実行し、結果でエントリを上書きすることを検証する。
func TestRefresh_RebuildsDespiteLiveCache(t *testing.T) {
	adapter := &fakeAdapter{name: "social_search", candidates: []model.RawCandidate{acceptableCandidate("https://example.com/fresh")}}
	cache := newFakeCache()
	cache.entries["posts:"] = []model.OutputPost{{URL: "https://example.com/old"}}
	agg := newTestAggregator([]*fakeAdapter{adapter}, cache, newFakeMetrics())

	posts, err := agg.Refresh(context.Background(), "", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adapter.calls != 1 {
		t.Fatalf("expected pipeline to run despite live cache entry, got %d adapter calls", adapter.calls)
	}
	if len(posts) != 1 || posts[0].URL != "https://example.com/fresh" {
		t.Fatalf("expected fresh result, got %+v", posts)
	}
	if got := cache.entries["posts:"]; len(got) != 1 || got[0].URL != "https://example.com/fresh" {
		t.Errorf("expected cache entry to be overwritten, got %+v", got)
	}
}

// TestRefresh_EmptyResultKeepsEntry は空の再実行結果が既存エントリを消さないことを検証する。
func TestRefresh_EmptyResultKeepsEntry(t *testing.T) {
	adapter := &fakeAdapter{name: "social_search"}
	cache := newFakeCache()
	cache.entries["posts:"] = []model.OutputPost{{URL: "https://example.com/old"}}
	agg := newTestAggregator([]*fakeAdapter{adapter}, cache, newFakeMetrics())

	posts, err := agg.Refresh(context.Background(), "", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 0 {
		t.Fatalf("expected empty result, got %d posts", len(posts))
	}
	if got := cache.entries["posts:"]; len(got) != 1 || got[0].URL != "https://example.com/old" {
		t.Errorf("expected existing entry to survive, got %+v", got)
	}
}

func TestRefresh_InvalidLimit(t *testing.T) {
	agg := newTestAggregator(nil, newFakeCache(), newFakeMetrics())

	_, err := agg.Refresh(context.Background(), "", 0)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidLimit {
		t.Fatalf("expected invalid limit error, got %v", err)
	}
}

// recheckCache は最初のGetのみミスを返すテスト用キャッシュ。
// フライト内の再確認がキャッシュ済み結果を拾う経路を再現する。
type recheckCache struct {
	mu    sync.Mutex
	gets  int
	posts []model.OutputPost
}

func (c *recheckCache) Get(string) ([]model.OutputPost, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.gets == 1 {
		return nil, false
	}
	return c.posts, true
}

func (c *recheckCache) Set(string, []model.OutputPost) {}

// TestTopPosts_FlightRecheckRecordsCacheHit はフライト内の再確認で
// キャッシュ済み結果が返る場合にヒットが記録されることを検証する。
func TestTopPosts_FlightRecheckRecordsCacheHit(t *testing.T) {
	adapter := &fakeAdapter{name: "social_search", candidates: []model.RawCandidate{acceptableCandidate("https://example.com/1")}}
	cache := &recheckCache{posts: []model.OutputPost{{URL: "https://example.com/cached"}}}
	metrics := newFakeMetrics()

	srcs := []source.Adapter{adapter}
	agg := New(srcs, cache, metrics, discardLogger(), DefaultConfig())
	agg.now = func() time.Time { return aggregateNow }

	posts, err := agg.TopPosts(context.Background(), "ai", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 1 || posts[0].URL != "https://example.com/cached" {
		t.Fatalf("expected cached result from recheck, got %+v", posts)
	}
	if adapter.calls != 0 {
		t.Errorf("expected pipeline not to run, got %d adapter calls", adapter.calls)
	}
	if metrics.cacheMiss != 1 || metrics.cacheHits != 1 {
		t.Errorf("expected 1 miss and 1 hit, got miss=%d hit=%d", metrics.cacheMiss, metrics.cacheHits)
	}
}

func TestEnhance_FieldMapping(t *testing.T) {
	c := acceptableCandidate("https://example.com/1")
	c.Title = ""
	c.Content = "Exploring artificial intelligence at scale. " + strings.Repeat("x", 80)
	c.AuthorName = "Jane Doe"
	c.AuthorHandle = "janedoe"
	c.Favorites = 10
	c.Reposts = 4
	c.Replies = 2
	c.Hashtags = nil

	adapter := &fakeAdapter{name: "social_search", candidates: []model.RawCandidate{c}}
	agg := newTestAggregator([]*fakeAdapter{adapter}, newFakeCache(), newFakeMetrics())

	posts, err := agg.TopPosts(context.Background(), "", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}

	p := posts[0]
	if !strings.HasPrefix(p.Title, "Jane Doe (@janedoe): ") {
		t.Errorf("unexpected composed title: %q", p.Title)
	}
	if !strings.HasSuffix(p.Title, "...") {
		t.Errorf("expected truncated content in title, got %q", p.Title)
	}
	if p.Author != "janedoe" {
		t.Errorf("expected handle as author, got %q", p.Author)
	}
	if p.Category != "social" {
		t.Errorf("expected category social, got %q", p.Category)
	}
	if p.CreatedUTC != c.PublishedAt.Unix() {
		t.Errorf("expected created_utc %d, got %d", c.PublishedAt.Unix(), p.CreatedUTC)
	}
	if p.Engagement.Likes != 10 || p.Engagement.Retweets != 4 || p.Engagement.Replies != 2 {
		t.Errorf("unexpected engagement: %+v", p.Engagement)
	}
	if p.Hashtags == nil {
		t.Error("expected hashtags to be non-nil")
	}
}

func TestTopPosts_ConcurrentRequestsCoalesce(t *testing.T) {
	adapter := &fakeAdapter{name: "social_search", candidates: []model.RawCandidate{acceptableCandidate("https://example.com/1")}}
	agg := newTestAggregator([]*fakeAdapter{adapter}, newFakeCache(), newFakeMetrics())

	// singleflightにより並行呼び出しでもパイプラインは高々数回に収まる。
	// fakeAdapterのcallsフィールドは並行アクセスされないよう先に1回実行しておく
	if _, err := agg.TopPosts(context.Background(), "ai", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			posts, err := agg.TopPosts(context.Background(), "ai", 5)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if len(posts) != 1 {
				t.Errorf("expected 1 post, got %d", len(posts))
			}
		}()
	}
	wg.Wait()

	if adapter.calls != 1 {
		t.Errorf("expected cached result to serve concurrent requests, got %d adapter calls", adapter.calls)
	}
}
