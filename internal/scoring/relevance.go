// Package scoring は候補投稿のAI関連度・品質・スパム評価を提供する。
// キーワードベースの決定的なヒューリスティックのみで構成され、外部依存を持たない。
package scoring

import "strings"

// キーワードの階層別重み。
const (
	highKeywordWeight   = 2.0
	mediumKeywordWeight = 1.0
)

// highRelevanceKeywords はAI・機械学習の中心的なトピックを表すキーワード。
// 1語でも含まれれば採用閾値（2.0）を満たす。
var highRelevanceKeywords = []string{
	"artificial intelligence", "machine learning", "deep learning",
	"neural network", "ai model", "llm", "large language model",
	"transformer", "gpt", "stable diffusion", "training data",
	"tensorflow", "pytorch", "opencv", "computer vision",
}

// mediumRelevanceKeywords は周辺的な技術トピックを表すキーワード。
var mediumRelevanceKeywords = []string{
	"algorithm", "dataset", "training", "inference", "prediction",
	"classification", "clustering", "regression", "automation",
	"robotics", "nlp", "natural language", "recognition",
}

// ScoreRelevance はテキストのAI関連度スコアを返す。
// 各キーワードは出現回数に関わらず1回だけ加点される（存在判定）。
// 該当キーワードがない場合は0を返す。
func ScoreRelevance(text string) float64 {
	lower := strings.ToLower(text)

	score := 0.0
	for _, kw := range highRelevanceKeywords {
		if strings.Contains(lower, kw) {
			score += highKeywordWeight
		}
	}
	for _, kw := range mediumRelevanceKeywords {
		if strings.Contains(lower, kw) {
			score += mediumKeywordWeight
		}
	}

	return score
}

// ContainsAnyTerm はテキストにいずれかの検索語が含まれるかを返す。
// 検索語は小文字化済みであることを前提とする。
func ContainsAnyTerm(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, term := range terms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
