// Package cache は集約結果の時間制限付きメモ化を提供する。
// TTLと最大エントリ数の両方で寿命を管理するインメモリキャッシュ。
package cache

import (
	"sync"
	"time"

	"github.com/hitoshi/trendpulse/internal/model"
)

// Status はキャッシュの現在の状態を表す。
type Status struct {
	Size     int     `json:"size"`
	MaxSize  int     `json:"max_size"`
	TTLHours float64 `json:"ttl_hours"`
}

// entry は1件のキャッシュエントリとその登録時刻を保持する。
type entry struct {
	posts []model.OutputPost
	setAt time.Time
}

// ResultCache はクエリキーごとの集約結果を保持するTTL付きキャッシュ。
// 登録からTTLを経過したエントリは参照時に破棄される。
// 最大エントリ数を超える登録では、最も古く登録されたエントリから退避する。
// すべてのメソッドは並行呼び出しに対して安全。
type ResultCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]entry
	order      []string // 登録順のキー。先頭が退避候補

	now func() time.Time // テスト時に差し替える
}

// New はTTLと最大エントリ数を指定してResultCacheを生成する。
// maxEntriesが0以下の場合はデフォルト値100を使用する。
func New(ttl time.Duration, maxEntries int) *ResultCache {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &ResultCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]entry),
		now:        time.Now,
	}
}

// Get はキーに対応する結果を返す。
// エントリが存在しない、またはTTLを経過している場合はfalseを返す。
// TTL経過済みのエントリはこの時点で削除される。
func (c *ResultCache) Get(key string) ([]model.OutputPost, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	if c.now().Sub(e.setAt) >= c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		return nil, false
	}

	return e.posts, true
}

// Set はキーに対応する結果を登録する。
// 既存キーへの登録は値と登録時刻を更新し、退避順の末尾に移動する。
// 容量超過時は最も古く登録されたエントリを退避する。
func (c *ResultCache) Set(key string, posts []model.OutputPost) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.removeFromOrder(key)
	} else if len(c.entries) >= c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = entry{posts: posts, setAt: c.now()}
	c.order = append(c.order, key)
}

// Status はキャッシュの現在のエントリ数・容量・TTLを返す。
func (c *ResultCache) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		Size:     len(c.entries),
		MaxSize:  c.maxEntries,
		TTLHours: c.ttl.Hours(),
	}
}

// removeFromOrder は退避順リストからキーを取り除く。
// 呼び出し側でロックを保持していること。
func (c *ResultCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
