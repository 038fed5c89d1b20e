package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/trendpulse/internal/model"
)

// AuthorityAccounts はフォールバックとしてタイムラインを取得する権威アカウント。
// 研究機関・著名研究者の公式アカウントで、品質スコアの権威ボーナスの対象となる。
var AuthorityAccounts = []string{
	"OpenAI",
	"DeepMind",
	"stanfordnlp",
	"StabilityAI",
}

// AccountsAdapter は権威アカウントのタイムラインをスクレイプして候補投稿を取得する。
// 検索スクレイプが候補を返せない場合のフォールバックとして使用する。
type AccountsAdapter struct {
	mirrors  *MirrorPool
	client   *http.Client
	pool     *Pool
	logger   *slog.Logger
	accounts []string
	maxBody  int64

	now func() time.Time // テスト時に差し替える
}

// NewAccountsAdapter はAccountsAdapterを生成する。
// accountsが空の場合はAuthorityAccountsを使用する。
func NewAccountsAdapter(mirrors *MirrorPool, client *http.Client, pool *Pool, accounts []string, maxBody int64, logger *slog.Logger) *AccountsAdapter {
	if len(accounts) == 0 {
		accounts = AuthorityAccounts
	}
	return &AccountsAdapter{
		mirrors:  mirrors,
		client:   client,
		pool:     pool,
		logger:   logger,
		accounts: append([]string(nil), accounts...),
		maxBody:  maxBody,
		now:      time.Now,
	}
}

// Name はアダプタの識別名を返す。
func (a *AccountsAdapter) Name() string {
	return "authority_accounts"
}

// Fetch は各権威アカウントのタイムラインを順に取得する。
// すべての候補にIsAuthorityを設定する。
// limitに達した時点で残りのアカウントはスキップする。
func (a *AccountsAdapter) Fetch(ctx context.Context, query string, limit int) ([]model.RawCandidate, error) {
	base, ok := a.mirrors.Working(ctx)
	if !ok {
		return nil, model.NewFetchFailedError("稼働中のミラーがありません")
	}

	// アカウント数で均等に配分し、端数は切り上げる
	perAccount := (limit + len(a.accounts) - 1) / len(a.accounts)
	if perAccount < 1 {
		perAccount = 1
	}

	var candidates []model.RawCandidate
	for _, account := range a.accounts {
		if len(candidates) >= limit {
			break
		}

		found, err := a.timeline(ctx, base, account)
		if err != nil {
			a.mirrors.Invalidate()
			a.logger.Warn("タイムラインの取得に失敗しました",
				slog.String("mirror", base),
				slog.String("account", account),
				slog.String("error", err.Error()),
			)
			continue
		}

		if len(found) > perAccount {
			found = found[:perAccount]
		}
		for i := range found {
			found[i].IsAuthority = true
		}
		candidates = append(candidates, found...)
	}

	return candidates, nil
}

// timeline は1アカウントのタイムラインページを取得・解析する。
func (a *AccountsAdapter) timeline(ctx context.Context, base, account string) ([]model.RawCandidate, error) {
	timelineURL := fmt.Sprintf("%s/%s", base, account)

	var candidates []model.RawCandidate
	err := a.pool.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, timelineURL, nil)
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
