package crawlers

import (
	"context"
	"errors"
	"time"

	"github.com/hperocheau/scraping-pkm/internal/models"
	"github.com/hperocheau/scraping-pkm/internal/resilience"
	"golang.org/x/time/rate"
)

// Fetcher 在一个会话上抓取并抽取一页
type Fetcher interface {
	Fetch(ctx context.Context, s *Session, pageURL string, page int) (*PageContent, error)
}

// PageClient 带会话池、限速和容错策略的页面抓取入口
// 分页解析和双向扫描共用同一个实例,从而共享熔断器和限速器
type PageClient struct {
	pool    *SessionPool
	fetcher Fetcher
	policy  *resilience.Policy
	limiter *rate.Limiter
	metrics *resilience.Metrics
}

// NewPageClient 创建页面客户端
// rps <= 0 表示不限速
func NewPageClient(pool *SessionPool, fetcher Fetcher, policy *resilience.Policy, rps float64, burst int, metrics *resilience.Metrics) *PageClient {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &PageClient{
		pool:    pool,
		fetcher: fetcher,
		policy:  policy,
		limiter: rate.NewLimiter(limit, burst),
		metrics: metrics,
	}
}

// Fetch 在容错策略保护下抓取一页
func (c *PageClient) Fetch(ctx context.Context, pageURL string, page int) (*PageContent, error) {
	return resilience.Execute(ctx, c.policy, func(ctx context.Context) (*PageContent, error) {
		return c.fetchOnce(ctx, pageURL, page)
	})
}

func (c *PageClient) fetchOnce(ctx context.Context, pageURL string, page int) (*PageContent, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	sess, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(sess)

	start := time.Now()
	content, err := c.fetcher.Fetch(ctx, sess, pageURL, page)
	c.metrics.ObserveFetch(time.Since(start))
	if err != nil {
		// 被封禁的身份不再复用,归还时轮换
		var blocked *models.BlockedError
		var limited *models.RateLimitedError
		if errors.As(err, &blocked) || errors.As(err, &limited) {
			sess.MarkBroken(err)
		}
		return nil, err
	}
	return content, nil
}
