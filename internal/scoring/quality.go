package scoring

import (
	"strings"
	"time"

	"github.com/hitoshi/trendpulse/internal/model"
)

// 品質スコアの構成要素。
const (
	qualityBaseline     = 3.0
	qualityMin          = 1.0
	qualityMax          = 5.0
	indicatorBonus      = 0.5
	authorityBonus      = 1.5
	linksBonus          = 0.5
	mediaBonus          = 0.5
	shortContentPenalty = 1.0
	recencyBonus        = 0.5
)

// qualityIndicators は内容の実質性を示すキーワード群。
// 技術的内容・具体的なモデル名・研究トピックの3グループからなる。
var qualityIndicators = []string{
	// 技術的内容
	"algorithm", "model architecture", "trained on", "parameters",
	"inference", "fine-tuning", "dataset", "benchmarks", "paper",
	"research", "published", "code", "implementation", "open source",
	"accuracy", "performance",
	// モデル名
	"gpt-4", "llama", "claude", "gemini", "mistral", "stable diffusion",
	"dall-e", "midjourney", "falcon", "transformers", "diffusion",
	"multimodal",
	// 研究トピック
	"alignment", "safety", "ethics", "capabilities", "reasoning",
	"agents", "rlhf", "reinforcement learning", "supervised learning",
	"unsupervised", "vision", "language", "robotics", "autonomous",
	"optimization",
}

// QualityScorer は候補投稿の内容品質を見積もる。
// ゼロ値は使用せず、NewQualityScorerで生成する。
type QualityScorer struct {
	// ShortContentLimit は減点対象となる本文の文字数閾値。
	// 本文がこの値未満の場合に減点する。
	ShortContentLimit int
	// RecencyWindow はこの期間内に発行された投稿に加点する。
	RecencyWindow time.Duration
}

// NewQualityScorer はデフォルト設定のQualityScorerを生成する。
func NewQualityScorer() *QualityScorer {
	return &QualityScorer{
		ShortContentLimit: 100,
		RecencyWindow:     24 * time.Hour,
	}
}

// Score は候補投稿の品質スコアを1.0〜5.0の範囲で返す。
// textは候補投稿の連結済み小文字テキスト、nowは評価基準時刻。
// 同一の入力に対して常に同一のスコアを返す。
func (s *QualityScorer) Score(c model.RawCandidate, text string, now time.Time) float64 {
	lower := strings.ToLower(text)

	score := qualityBaseline

	// 品質指標キーワード（出現回数に関わらず1キーワード1回加点）
	for _, kw := range qualityIndicators {
		if strings.Contains(lower, kw) {
			score += indicatorBonus
		}
	}

	if c.IsAuthority {
		score += authorityBonus
	}
	if c.HasLinks {
		score += linksBonus
	}
	if c.HasMedia {
		score += mediaBonus
	}

	// 本文が閾値未満の場合は情報量不足として減点する。閾値ちょうどは減点しない。
	if len(c.Content) < s.ShortContentLimit {
		score -= shortContentPenalty
	}

	if !c.PublishedAt.IsZero() && now.Sub(c.PublishedAt) < s.RecencyWindow {
		score += recencyBonus
	}

	if score < qualityMin {
		return qualityMin
	}
	if score > qualityMax {
		return qualityMax
	}
	return score
}
