package scoring

import (
	"strings"
	"unicode"
)

// spamPhrases はプロモーション・広告・勧誘を示すフレーズ。
var spamPhrases = []string{
	"buy now", "click here", "sign up", "subscribe", "limited time",
	"promo code", "get started", "join our", "discount", "offer",
	"sale", "register", "free trial", "followers",
	"crypto", "bitcoin", "nft", "binance", "exchange", "trading",
	"make money", "earn", "marketing", "seo", "business opportunity",
	"webinar", "course", "masterclass", "tutorial", "job posting",
	"hiring",
}

// spamURLPatterns はスパム投稿で多用される短縮URLドメイン。
var spamURLPatterns = []string{
	"bit.ly", "tinyurl", "cutt.ly", "t.co", "goo.gl", "amzn.to",
	"buff.ly",
}

// ハッシュタグ数と大文字率の閾値。
const (
	maxHashtagCount   = 5
	maxUppercaseRatio = 0.3
)

// IsSpam はテキストがスパムかどうかを判定する。
// 以下のいずれかに該当する場合にスパムと判定する:
//   - スパムフレーズを含む
//   - ハッシュタグ記号（#）が5個を超える
//   - アルファベット文字に占める大文字の割合が30%を超える
//   - スパムで多用される短縮URLドメインを含む
//
// 大文字率の判定は元のテキスト（小文字化前）に対して行う必要がある。
func IsSpam(text string) bool {
	lower := strings.ToLower(text)

	for _, phrase := range spamPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}

	if strings.Count(text, "#") > maxHashtagCount {
		return true
	}

	if uppercaseRatio(text) > maxUppercaseRatio {
		return true
	}

	for _, pattern := range spamURLPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}

// uppercaseRatio はアルファベット文字に占める大文字の割合を返す。
// アルファベット文字が存在しない場合は0を返す。
func uppercaseRatio(text string) float64 {
	var upper, letters int
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}
