package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/trendpulse/internal/model"
)

// DefaultFeeds はAI関連ニュースの既定フィードURL。
var DefaultFeeds = []string{
	"https://hnrss.org/newest?q=AI+OR+artificial+intelligence+OR+machine+learning&count=25",
	"https://techcrunch.com/tag/artificial-intelligence/feed/",
	"https://www.technologyreview.com/topic/artificial-intelligence/feed/",
	"https://www.deeplearning.ai/feed/",
	"https://blogs.nvidia.com/feed/",
	"https://lexfridman.com/feed/",
	"https://venturebeat.com/category/ai/feed/",
	"https://ai.googleblog.com/atom.xml",
}

// feedMemoTTL はフィード取得結果を記憶する期間。
// 同一フィードへの連続アクセスを避ける。
const feedMemoTTL = 30 * time.Minute

// TextCleaner はHTML断片のプレーンテキスト化のインターフェース。
// security.TextSanitizerServiceが実装する。
type TextCleaner interface {
	Plain(fragment string) string
}

// feedMemo は1フィードの取得結果とその時刻を保持する。
type feedMemo struct {
	feed      *gofeed.Feed
	fetchedAt time.Time
}

// FeedAdapter はRSS/Atomフィードから候補投稿を取得する。
// ソーシャルソースがすべて候補を返せない場合の最終フォールバック。
// フィード単位の取得結果を一定期間記憶し、過剰なアクセスを避ける。
type FeedAdapter struct {
	client  *http.Client
	parser  *gofeed.Parser
	cleaner TextCleaner
	pool    *Pool
	logger  *slog.Logger
	feeds   []string
	maxBody int64

	memoMu sync.Mutex
	memo   map[string]feedMemo

	now        func() time.Time            // テスト時に差し替える
	queryFeeds func(query string) []string // テスト時に差し替える
}

// NewFeedAdapter はFeedAdapterを生成する。
// feedsが空の場合はDefaultFeedsを使用する。
func NewFeedAdapter(client *http.Client, cleaner TextCleaner, pool *Pool, feeds []string, maxBody int64, logger *slog.Logger) *FeedAdapter {
	if len(feeds) == 0 {
		feeds = DefaultFeeds
	}
	return &FeedAdapter{
		client:  client,
		parser:  gofeed.NewParser(),
		cleaner: cleaner,
		pool:    pool,
		logger:  logger,
		feeds:   append([]string(nil), feeds...),
		maxBody: maxBody,
		memo:    make(map[string]feedMemo),
		now:     time.Now,

		queryFeeds: queryFeeds,
	}
}

// Name はアダプタの識別名を返す。
func (a *FeedAdapter) Name() string {
	return "ai_feeds"
}

// Fetch は各フィードから候補投稿を取得する。
// クエリが指定された場合はクエリ専用の検索フィードを追加し、
// タイトルと本文にすべての検索語を含む記事のみを返す。
func (a *FeedAdapter) Fetch(ctx context.Context, query string, limit int) ([]model.RawCandidate, error) {
	feeds := a.feeds
	if query != "" {
		feeds = append(a.queryFeeds(query), feeds...)
	}

	terms := strings.Fields(strings.ToLower(query))

	var candidates []model.RawCandidate
	for _, feedURL := range feeds {
		if len(candidates) >= limit {
			break
		}

		feed, err := a.fetchFeed(ctx, feedURL)
		if err != nil {
			a.logger.Warn("フィードの取得に失敗しました",
				slog.String("feed_url", feedURL),
				slog.String("error", err.Error()),
			)
			continue
		}

		candidates = append(candidates, a.convertItems(feed, feedURL, terms)...)
	}

	return candidates, nil
}

// fetchFeed は1フィードを取得・解析する。記憶済みの結果があればそれを返す。
func (a *FeedAdapter) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	a.memoMu.Lock()
	if m, ok := a.memo[feedURL]; ok && a.now().Sub(m.fetchedAt) < feedMemoTTL {
		a.memoMu.Unlock()
		return m.feed, nil
	}
	a.memoMu.Unlock()

	var feed *gofeed.Feed
	err := a.pool.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", fetchUserAgent)

		resp, err := a.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBody))
		if err != nil {
			return err
		}

		parsed, err := a.parser.ParseString(string(body))
		if err != nil {
			return model.NewParseFailedError(a.Name())
		}

		feed = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.memoMu.Lock()
	a.memo[feedURL] = feedMemo{feed: feed, fetchedAt: a.now()}
	a.memoMu.Unlock()

	return feed, nil
}

// convertItems はフィード記事を候補投稿に変換する。
// termsが指定された場合、タイトルと本文にすべての語を含む記事のみを返す。
func (a *FeedAdapter) convertItems(feed *gofeed.Feed, feedURL string, terms []string) []model.RawCandidate {
	source := sourceNameFor(feedURL)
	handle := strings.ToLower(strings.ReplaceAll(source, " ", ""))

	var candidates []model.RawCandidate
	for _, item := range feed.Items {
		if item.Title == "" || item.Link == "" {
			continue
		}

		content := item.Content
		if content == "" {
			content = item.Description
		}
		content = a.cleaner.Plain(content)

		if len(terms) > 0 && !containsAllTerms(item.Title+" "+content, terms) {
			continue
		}

		published := a.now()
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		}

		candidates = append(candidates, model.RawCandidate{
			Title:        fmt.Sprintf("%s: %s", source, item.Title),
			Content:      content,
			AuthorName:   source,
			AuthorHandle: handle,
			URL:          item.Link,
			PublishedAt:  published,
			HasLinks:     true, // フィード記事は元記事へのリンクを常に持つ
			Medium:       model.MediumFeed,
		})
	}

	return candidates
}

// queryFeeds は検索クエリ専用のフィードURLを生成する。
func queryFeeds(query string) []string {
	escaped := url.QueryEscape(query)
	return []string{
		fmt.Sprintf("https://hnrss.org/newest?q=%s&count=25", escaped),
		fmt.Sprintf("https://news.google.com/rss/search?q=%s&hl=en-US&gl=US&ceid=US:en", escaped),
	}
}

// containsAllTerms はテキストにすべての検索語が含まれるかを返す。
func containsAllTerms(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, term := range terms {
		if !strings.Contains(lower, term) {
			return false
		}
	}
	return true
}

// sourceNameFor はフィードURLから表示用のソース名を解決する。
var sourceNames = []struct {
	substr string
	name   string
}{
	{"hnrss.org", "Hacker News"},
	{"techcrunch.com", "TechCrunch"},
	{"technologyreview.com", "MIT Tech Review"},
	{"venturebeat.com", "VentureBeat"},
	{"deeplearning.ai", "DeepLearning.AI"},
	{"nvidia.com", "NVIDIA AI"},
	{"googleblog.com", "Google AI"},
	{"lexfridman.com", "Lex Fridman"},
	{"news.google.com", "Google News"},
}

func sourceNameFor(feedURL string) string {
	for _, s := range sourceNames {
		if strings.Contains(feedURL, s.substr) {
			return s.name
		}
	}
	return "Tech News"
}
