package source

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// probeReadLimit はミラー探索時に読み込むレスポンスボディの上限。
// マーカー文字列の確認にはページ先頭だけあれば十分。
const probeReadLimit = 256 * 1024

// mirrorRetryCooldown は全ミラー探索失敗後に再探索を控える期間。
const mirrorRetryCooldown = 5 * time.Minute

// MirrorPool は同一サービスの公開ミラー群から稼働中のインスタンスを探索する。
// 直近に稼働確認できたインスタンスを記憶し、次回の探索で最初に再検証する。
// ミラーは頻繁に落ちるため、探索順はアクセス集中を避けるために毎回シャッフルする。
type MirrorPool struct {
	mirrors []string
	marker  string // 稼働確認でレスポンスボディに要求する文字列
	client  *http.Client
	logger  *slog.Logger

	mu           sync.Mutex
	working      string
	failingUntil time.Time

	now func() time.Time // テスト時に差し替える
}

// NewMirrorPool はミラーリストと稼働確認用HTTPクライアントからMirrorPoolを生成する。
// クライアントはリダイレクトを追跡しないように設定される。
// リダイレクト応答を返すミラーは別サイトへの転送である可能性が高いため、
// 稼働中とはみなさない。
func NewMirrorPool(mirrors []string, marker string, client *http.Client, logger *slog.Logger) *MirrorPool {
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &MirrorPool{
		mirrors: append([]string(nil), mirrors...),
		marker:  marker,
		client:  client,
		logger:  logger,
		now:     time.Now,
	}
}

// Working は稼働中のミラーのベースURLを返す。
// 記憶済みのインスタンスがあれば最初に再検証し、失効していれば
// シャッフルした順で全ミラーを探索する。
// 稼働中のミラーが見つからない場合はfalseを返し、以降の探索を
// mirrorRetryCooldownの間休止する。
func (m *MirrorPool) Working(ctx context.Context) (string, bool) {
	m.mu.Lock()
	remembered := m.working
	failingUntil := m.failingUntil
	m.mu.Unlock()

	if remembered == "" && m.now().Before(failingUntil) {
		return "", false
	}

	if remembered != "" && m.probe(ctx, remembered) {
		return remembered, true
	}

	shuffled := append([]string(nil), m.mirrors...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	for _, base := range shuffled {
		if base == remembered {
			continue
		}
		if m.probe(ctx, base) {
			m.mu.Lock()
			m.working = base
			m.failingUntil = time.Time{}
			m.mu.Unlock()

			m.logger.Info("稼働中のミラーを検出しました",
				slog.String("mirror", base),
			)
			return base, true
		}
	}

	m.mu.Lock()
	m.working = ""
	m.failingUntil = m.now().Add(mirrorRetryCooldown)
	m.mu.Unlock()

	m.logger.Warn("稼働中のミラーが見つかりませんでした",
		slog.Int("mirror_count", len(m.mirrors)),
		slog.String("retry_after", mirrorRetryCooldown.String()),
	)
	return "", false
}

// Invalidate は記憶済みの稼働インスタンスを破棄する。
// 記憶済みミラー経由のフェッチが失敗した場合に呼び出す。
func (m *MirrorPool) Invalidate() {
	m.mu.Lock()
	m.working = ""
	m.mu.Unlock()
}

// probe はミラーが稼働中かを確認する。
// ステータス200かつボディにマーカー文字列が含まれる場合のみ稼働中とみなす。
func (m *MirrorPool) probe(ctx context.Context, base string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, probeReadLimit))
	if err != nil {
		return false
	}

	return strings.Contains(strings.ToLower(string(body)), m.marker)
}
