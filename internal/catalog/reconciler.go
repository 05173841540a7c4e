package catalog

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/hperocheau/scraping-pkm/internal/models"
	"github.com/hperocheau/scraping-pkm/internal/resilience"
	"github.com/rs/zerolog/log"
)

var urlSuffixNumber = regexp.MustCompile(`(\d+)/?(?:[?#].*)?$`)

// Reconciler 把一次扫描得到的原始记录合并进目录
// 同一个系列的协调必须由调用方串行化,不同系列之间可以并发
type Reconciler struct {
	store   *Store
	metrics *resilience.Metrics
	now     func() time.Time
}

// NewReconciler 创建协调器
func NewReconciler(store *Store, metrics *resilience.Metrics) *Reconciler {
	return &Reconciler{store: store, metrics: metrics, now: time.Now}
}

// Reconcile 合并记录、去重、回填派生字段并核对数量
func (r *Reconciler) Reconcile(ctx context.Context, listingID string, records []models.RawItemRecord) (*models.ReconcileStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var stats *models.ReconcileStats
	err := r.store.Update(listingID, func(l *models.Listing) error {
		stats = Apply(l, records, r.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.metrics.AddItems("added", stats.Added)
	r.metrics.AddItems("merged", stats.Merged)
	r.metrics.AddItems("removed", stats.DuplicatesRemoved)

	event := log.Info()
	if stats.CountMismatch != nil {
		event = log.Warn().
			Int("declared", stats.CountMismatch.Declared).
			Int("actual", stats.CountMismatch.Actual)
	}
	event.
		Str("listing", listingID).
		Str("series", stats.SeriesCode).
		Int("added", stats.Added).
		Int("merged", stats.Merged).
		Int("removed", stats.DuplicatesRemoved).
		Msg("系列协调完成")

	return stats, nil
}

// Apply 在内存中对系列执行一次完整协调
func Apply(l *models.Listing, records []models.RawItemRecord, now time.Time) *models.ReconcileStats {
	stats := &models.ReconcileStats{}

	titles := make([]string, len(records))
	for i, rec := range records {
		titles[i] = rec.Title
	}
	inference := InferSeries(titles)
	stats.SeriesCode = inference.Code
	stats.UninferredRecords = inference.Skipped
	if inference.Code == "" && len(records) > 0 {
		log.Warn().Str("listing", l.ID).Int("records", len(records)).Msg("未能推断系列代码,派生字段留空")
	}

	incoming := make([]models.CatalogItem, len(records))
	for i, rec := range records {
		item := models.CatalogItem{
			URL:         rec.URL,
			Title:       rec.Title,
			RowID:       rec.RowID,
			Rarity:      rec.Rarity,
			ForeignName: rec.ForeignName,
			Attributes:  rec.Attributes,
			InsertedAt:  now,
		}
		if inference.Code != "" && inference.Numbers[i] != "" {
			item.SeriesCode = inference.Code
			item.ItemNumber = inference.Numbers[i]
		}
		incoming[i] = item
	}

	l.Items, stats.Added, stats.Merged = Merge(l.Items, incoming)

	var removed []Collision
	l.Items, removed = Dedupe(l.Items)
	stats.DuplicatesRemoved = len(removed)
	for _, c := range removed {
		log.Warn().
			Str("listing", l.ID).
			Str("kept", c.Kept.URL).
			Str("removed", c.Removed.URL).
			Strs("keys", c.Keys).
			Msg("移除重复卡牌,保留较早的记录")
	}

	stats.CountMismatch = CheckCount(l)
	l.NeedsRescrape = stats.CountMismatch != nil
	reconciled := now
	l.LastReconciled = &reconciled

	return stats
}

// Merge 按URL合并,incoming中的非空字段覆盖已有字段,空字段不会清空已有值
func Merge(existing, incoming []models.CatalogItem) ([]models.CatalogItem, int, int) {
	index := make(map[string]int, len(existing))
	for i, item := range existing {
		if item.URL != "" {
			if _, ok := index[item.URL]; !ok {
				index[item.URL] = i
			}
		}
	}

	added, merged := 0, 0
	for _, in := range incoming {
		if i, ok := index[in.URL]; ok && in.URL != "" {
			existing[i] = mergeItem(existing[i], in)
			merged++
			continue
		}
		if in.URL != "" {
			index[in.URL] = len(existing)
		}
		existing = append(existing, in)
		added++
	}
	return existing, added, merged
}

func mergeItem(old, in models.CatalogItem) models.CatalogItem {
	pick := func(cur, next string) string {
		if next != "" {
			return next
		}
		return cur
	}
	old.Title = pick(old.Title, in.Title)
	old.RowID = pick(old.RowID, in.RowID)
	old.SeriesCode = pick(old.SeriesCode, in.SeriesCode)
	old.ItemNumber = pick(old.ItemNumber, in.ItemNumber)
	old.Rarity = pick(old.Rarity, in.Rarity)
	old.ForeignName = pick(old.ForeignName, in.ForeignName)

	if len(in.Attributes) > 0 {
		attrs := make(map[string]string, len(old.Attributes)+len(in.Attributes))
		for k, v := range old.Attributes {
			attrs[k] = v
		}
		for k, v := range in.Attributes {
			if v != "" {
				attrs[k] = v
			}
		}
		old.Attributes = attrs
	}
	return old
}

// Collision 一次去重移除
type Collision struct {
	Kept    models.CatalogItem
	Removed models.CatalogItem
	Keys    []string
}

type compositeKey struct {
	kind  string
	value string
}

func compositeKeys(item models.CatalogItem) []compositeKey {
	pair := func(kind, a, b string) *compositeKey {
		if a == "" || b == "" {
			return nil
		}
		return &compositeKey{kind: kind, value: a + "\x00" + b}
	}

	suffix := ""
	if m := urlSuffixNumber.FindStringSubmatch(item.URL); m != nil {
		suffix = m[1]
	}
	link := normalizeURL(item.URL)

	var keys []compositeKey
	for _, k := range []*compositeKey{
		pair("url+number", link, item.ItemNumber),
		pair("url+row", link, item.RowID),
		pair("number+row", item.ItemNumber, item.RowID),
		pair("urlsuffix+row", suffix, item.RowID),
	} {
		if k != nil {
			keys = append(keys, *k)
		}
	}
	return keys
}

// normalizeURL 去掉查询参数、片段和末尾斜杠,渲染抖动产生的链接变体归为同一个
func normalizeURL(link string) string {
	if i := strings.IndexAny(link, "?#"); i >= 0 {
		link = link[:i]
	}
	return strings.TrimRight(link, "/")
}

// Dedupe 复合键去重
// 与某个较早条目在两个及以上复合键上冲突的条目被移除,保留较早的条目
func Dedupe(items []models.CatalogItem) ([]models.CatalogItem, []Collision) {
	owners := make(map[compositeKey]int)
	kept := make([]models.CatalogItem, 0, len(items))
	var removed []Collision

	for _, item := range items {
		keys := compositeKeys(item)

		hits := make(map[int][]string)
		for _, k := range keys {
			if owner, ok := owners[k]; ok {
				hits[owner] = append(hits[owner], k.kind)
			}
		}

		dupOf := -1
		for owner, kinds := range hits {
			if len(kinds) >= 2 && (dupOf < 0 || owner < dupOf) {
				dupOf = owner
			}
		}
		if dupOf >= 0 {
			removed = append(removed, Collision{Kept: kept[dupOf], Removed: item, Keys: hits[dupOf]})
			continue
		}

		idx := len(kept)
		kept = append(kept, item)
		for _, k := range keys {
			if _, ok := owners[k]; !ok {
				owners[k] = idx
			}
		}
	}
	return kept, removed
}

// CheckCount 声明为精确数量且与实际条目数不一致时返回差异
func CheckCount(l *models.Listing) *models.CountMismatch {
	declared, estimate, err := models.ParseDeclaredCount(l.DeclaredCount)
	if err != nil || estimate {
		return nil
	}
	if declared == len(l.Items) {
		return nil
	}
	return &models.CountMismatch{Declared: declared, Actual: len(l.Items)}
}
