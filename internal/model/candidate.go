// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Medium は候補投稿の取得元メディアの種別を表す。
type Medium string

const (
	// MediumSocial はソーシャル投稿（検索スクレイプ・タイムライン）由来を示す。
	MediumSocial Medium = "social"
	// MediumFeed はRSS/Atomフィード由来を示す。
	MediumFeed Medium = "feed"
)

// RawCandidate はソースアダプタが取得した評価前の候補投稿を表す。
// URLが候補の一意な識別子であり、同一URLの候補は同一投稿として扱う。
type RawCandidate struct {
	Title        string    // フィード記事のタイトル。ソーシャル投稿では空
	Content      string    // 本文（プレーンテキスト）
	AuthorName   string    // 投稿者の表示名またはフィードのソース名
	AuthorHandle string    // 投稿者のハンドル。多様性制約の投稿者識別に使用する
	URL          string    // 投稿の正規URL
	PublishedAt  time.Time // 発行時刻。不明な場合は取得時刻を設定する
	Replies      int
	Reposts      int
	Favorites    int
	Hashtags     []string
	HasLinks     bool
	HasMedia     bool
	IsVerified   bool
	IsAuthority  bool // 権威アカウント（研究機関の公式アカウント等）由来かどうか
	Medium       Medium
}

// EngagementSignal は生エンゲージメント数の重み付き合計を返す。
// リポストが最も強いシグナルとして扱われる。
func (c RawCandidate) EngagementSignal() float64 {
	return float64(c.Favorites)*1.0 + float64(c.Reposts)*2.0 + float64(c.Replies)*1.5
}

// CombinedText は投稿者名・本文・タイトルを連結したテキストを返す。
// スコアリングとスパム判定の入力として使用する。
// 大文字率の判定があるため、小文字化は各スコアラー側で行う。
func (c RawCandidate) CombinedText() string {
	return c.AuthorName + " " + c.Content + " " + c.Title
}

// AuthorIdentity は多様性制約で投稿者を識別するためのキーを返す。
// ハンドルを優先し、存在しない場合は表示名にフォールバックする。
func (c RawCandidate) AuthorIdentity() string {
	if c.AuthorHandle != "" {
		return strings.ToLower(c.AuthorHandle)
	}
	return strings.ToLower(c.AuthorName)
}

// ScoredCandidate はスコアリングパイプラインを通過した候補投稿を表す。
type ScoredCandidate struct {
	RawCandidate

	RelevanceScore float64 // AI関連度スコア
	QualityScore   float64 // 内容品質スコア（1.0〜5.0）
	FinalScore     float64 // ソートに使用する合成スコア
}

// Engagement は出力投稿のエンゲージメント内訳を表す。
type Engagement struct {
	Likes    int `json:"likes"`
	Retweets int `json:"retweets"`
	Replies  int `json:"replies"`
}

// OutputPost はAPIレスポンスとして返す確定済みの投稿を表す。
// すべてのフィールドはエンハンスステップで補完済みであることを保証する。
type OutputPost struct {
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	URL            string     `json:"url"`
	Author         string     `json:"author"`
	Category       string     `json:"category"`
	CreatedUTC     int64      `json:"created_utc"`
	RelevanceScore float64    `json:"relevance_score"`
	Engagement     Engagement `json:"engagement"`
	Hashtags       []string   `json:"hashtags"`
}
