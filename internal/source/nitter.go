package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/trendpulse/internal/model"
)

// DefaultMirrors は検索スクレイプに使用する公開ミラーの既定リスト。
// どのインスタンスも予告なく停止するため、MirrorPoolで稼働確認してから使用する。
var DefaultMirrors = []string{
	"https://nitter.net",
	"https://nitter.privacydev.net",
	"https://nitter.poast.org",
	"https://nitter.1d4.us",
	"https://nitter.kavin.rocks",
	"https://nitter.unixfox.eu",
}

// MirrorMarker は稼働確認でレスポンスボディに要求する文字列。
const MirrorMarker = "nitter"

// defaultSearchTerms はクエリ未指定時に使用する既定の検索語。
// 先頭から順に試行する。
var defaultSearchTerms = []string{
	"artificial intelligence",
	"machine learning",
	"deep learning",
	"AI research",
	"LLM",
	"generative AI",
}

// defaultTermAttempts はクエリ未指定時に試行する既定検索語の最大数。
const defaultTermAttempts = 3

// SearchAdapter は公開ミラーの検索ページをスクレイプして候補投稿を取得する。
type SearchAdapter struct {
	mirrors *MirrorPool
	client  *http.Client
	pool    *Pool
	logger  *slog.Logger
	maxBody int64

	now func() time.Time // テスト時に差し替える
}

// NewSearchAdapter はSearchAdapterを生成する。
// clientにはSSRF防止付きのHTTPクライアントを渡すことを想定している。
func NewSearchAdapter(mirrors *MirrorPool, client *http.Client, pool *Pool, maxBody int64, logger *slog.Logger) *SearchAdapter {
	return &SearchAdapter{
		mirrors: mirrors,
		client:  client,
		pool:    pool,
		logger:  logger,
		maxBody: maxBody,
		now:     time.Now,
	}
}

// Name はアダプタの識別名を返す。
func (a *SearchAdapter) Name() string {
	return "social_search"
}

// Fetch は検索ページをスクレイプして候補投稿を取得する。
// クエリ未指定の場合は既定の検索語を先頭から順に試行し、
// 十分な候補が集まった時点で打ち切る。
// 稼働中のミラーが見つからない場合はエラーを返す。
func (a *SearchAdapter) Fetch(ctx context.Context, query string, limit int) ([]model.RawCandidate, error) {
	base, ok := a.mirrors.Working(ctx)
	if !ok {
		return nil, model.NewFetchFailedError("稼働中のミラーがありません")
	}

	queries := []string{query}
	if query == "" {
		queries = defaultSearchTerms[:defaultTermAttempts]
	}

	var candidates []model.RawCandidate
	for _, q := range queries {
		if len(candidates) >= limit {
			break
		}

		found, err := a.search(ctx, base, q)
		if err != nil {
			a.mirrors.Invalidate()
			a.logger.Warn("検索スクレイプに失敗しました",
				slog.String("mirror", base),
				slog.String("query", q),
				slog.String("error", err.Error()),
			)
			continue
		}

		candidates = append(candidates, found...)
	}

	return candidates, nil
}

// search は1つの検索語について検索結果ページを取得・解析する。
func (a *SearchAdapter) search(ctx context.Context, base, query string) ([]model.RawCandidate, error) {
	searchURL := fmt.Sprintf("%s/search?f=tweets&q=%s&since=7d", base, url.QueryEscape(query))

	var candidates []model.RawCandidate
	err := a.pool.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
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

		doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, a.maxBody))
		if err != nil {
			return model.NewParseFailedError(a.Name())
		}

		candidates = parseTimeline(doc, base, a.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	return candidates, nil
}
