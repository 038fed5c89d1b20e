package source

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/trendpulse/internal/model"
)

// fetchUserAgent は外部ソースへのリクエストに使用するUser-Agent。
// 既定のGo HTTPクライアントUAはミラー側で弾かれることが多い。
const fetchUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// timelineTimestampLayout はタイムライン上の投稿時刻のtitle属性形式。
const timelineTimestampLayout = "Jan 2, 2006 · 3:04 PM MST"

// minContentLength はこれより短い本文の投稿を解析時点で除外する閾値。
const minContentLength = 20

var hashtagPattern = regexp.MustCompile(`#(\w+)`)

// parseTimeline はタイムラインHTMLから候補投稿を抽出する。
// ピン留めとリポストの項目はスキップする。
// 本文が極端に短い項目はノイズとして除外する。
func parseTimeline(doc *goquery.Document, base string, now time.Time) []model.RawCandidate {
	var candidates []model.RawCandidate

	doc.Find(".timeline-item").Each(func(_ int, item *goquery.Selection) {
		// ピン留めは古い投稿の再掲、リポストは元投稿と重複するため除外
		if item.Find(".pinned").Length() > 0 || item.Find(".retweet-header").Length() > 0 {
			return
		}

		href, ok := item.Find(".tweet-link").Attr("href")
		if !ok || href == "" {
			return
		}

		content := strings.TrimSpace(item.Find(".tweet-content").Text())
		if len(content) < minContentLength {
			return
		}

		c := model.RawCandidate{
			Content:      content,
			AuthorName:   strings.TrimSpace(item.Find(".fullname").Text()),
			AuthorHandle: strings.TrimPrefix(strings.TrimSpace(item.Find(".username").Text()), "@"),
			URL:          base + stripFragment(href),
			PublishedAt:  parseTimelineTimestamp(item, now),
			Hashtags:     extractHashtags(content),
			HasLinks:     item.Find(".twitter-timeline-link").Length() > 0,
			HasMedia:     item.Find(".attachments .attachment").Length() > 0,
			IsVerified:   item.Find(".verified-icon").Length() > 0,
			Medium:       model.MediumSocial,
		}

		item.Find(".tweet-stats .tweet-stat").Each(func(_ int, stat *goquery.Selection) {
			count := parseStatCount(stat.Text())
			switch {
			case stat.Find(".icon-comment").Length() > 0:
				c.Replies = count
			case stat.Find(".icon-retweet").Length() > 0:
				c.Reposts = count
			case stat.Find(".icon-heart").Length() > 0:
				c.Favorites = count
			}
		})

		candidates = append(candidates, c)
	})

	return candidates
}

// parseTimelineTimestamp は投稿時刻を解析する。
// aタグのtitle属性の絶対時刻を優先し、解析できない場合は
// 相対表記（"2h"等）からの逆算を試みる。
// どちらも解析できない場合は取得時刻を返す。
func parseTimelineTimestamp(item *goquery.Selection, now time.Time) time.Time {
	if title, ok := item.Find(".tweet-date a").Attr("title"); ok {
		if ts, err := time.Parse(timelineTimestampLayout, title); err == nil {
			return ts
		}
	}

	relative := strings.TrimSpace(item.Find(".tweet-date a").Text())
	if ts, ok := parseRelativeTime(relative, now); ok {
		return ts
	}

	return now
}

// parseRelativeTime は"5m"・"2h"・"3d"のような相対時刻表記を解析する。
// 末尾の"ago"は無視する。
func parseRelativeTime(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "ago"))
	if len(s) < 2 {
		return time.Time{}, false
	}

	value, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return time.Time{}, false
	}

	switch s[len(s)-1] {
	case 's':
		return now.Add(-time.Duration(value) * time.Second), true
	case 'm':
		return now.Add(-time.Duration(value) * time.Minute), true
	case 'h':
		return now.Add(-time.Duration(value) * time.Hour), true
	case 'd':
		return now.Add(-time.Duration(value) * 24 * time.Hour), true
	}
	return time.Time{}, false
}

// parseStatCount は"1,234"や"1.2K"のような表記のエンゲージメント数を解析する。
// 解析できない場合は0を返す。
func parseStatCount(s string) int {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}

	multiplier := 1.0
	switch {
	case strings.HasSuffix(s, "K"), strings.HasSuffix(s, "k"):
		multiplier = 1_000
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "M"), strings.HasSuffix(s, "m"):
		multiplier = 1_000_000
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "B"), strings.HasSuffix(s, "b"):
		multiplier = 1_000_000_000
		s = s[:len(s)-1]
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(value * multiplier)
}

// extractHashtags は本文からハッシュタグを抽出する。
func extractHashtags(content string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, m[1])
	}
	return tags
}

// stripFragment はURLパスからフラグメント（#m等）を取り除く。
func stripFragment(href string) string {
	if i := strings.Index(href, "#"); i >= 0 {
		return href[:i]
	}
	return href
}
