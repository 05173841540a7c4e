package crawlers

import (
	"context"
	"regexp"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hperocheau/scraping-pkm/internal/models"
	"github.com/rs/zerolog/log"
)

var pageIndicatorPattern = regexp.MustCompile(`(\d+)\s*(\+)?`)

// ParsePageIndicator 解析页数指示器
// 取文本中最后一个数字,紧跟 "+" 时为估计值,例如 "Page 1 / 150+"
func ParsePageIndicator(text string) (models.PageCount, bool) {
	matches := pageIndicatorPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return models.PageCount{}, false
	}
	last := matches[len(matches)-1]
	n, err := strconv.Atoi(last[1])
	if err != nil || n < 1 {
		return models.PageCount{}, false
	}
	return models.PageCount{TotalPages: n, IsEstimate: last[2] == "+"}, true
}

// PaginationResolver 确定系列的可寻址页数
// 同一次运行内的解析结果缓存在LRU中,扫描从头重试时不会重复请求
type PaginationResolver struct {
	client    *PageClient
	pageParam string
	cache     *lru.Cache[string, models.PageCount]
}

// NewPaginationResolver 创建分页解析器
func NewPaginationResolver(client *PageClient, pageParam string, cacheSize int) (*PaginationResolver, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, models.PageCount](cacheSize)
	if err != nil {
		return nil, err
	}
	return &PaginationResolver{client: client, pageParam: pageParam, cache: cache}, nil
}

// Resolve 抓取第1页并读取页数指示器
// 没有指示器时视为单页;重试耗尽返回nil,调用方应跳过该系列
func (r *PaginationResolver) Resolve(ctx context.Context, listing *models.Listing) *models.PageCount {
	if pc, ok := r.cache.Get(listing.ID); ok {
		return &pc
	}

	firstURL := models.PageURL(listing.CardsURL, 1, r.pageParam)
	content, err := r.client.Fetch(ctx, firstURL, 1)
	if err != nil {
		log.Warn().
			Err(err).
			Str("listing", listing.ID).
			Str("error_type", models.Classify(err)).
			Msg("分页解析失败,本次运行跳过该系列")
		return nil
	}

	pc, ok := ParsePageIndicator(content.Indicator)
	if !ok {
		pc = models.PageCount{TotalPages: 1}
	}

	log.Info().
		Str("listing", listing.ID).
		Int("pages", pc.TotalPages).
		Bool("estimate", pc.IsEstimate).
		Msg("分页解析完成")

	r.cache.Add(listing.ID, pc)
	return &pc
}

