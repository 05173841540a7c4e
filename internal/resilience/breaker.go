package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hperocheau/scraping-pkm/internal/models"
	"github.com/rs/zerolog/log"
)

// Sleeper 可被context打断的等待,测试中替换为记录型实现
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext 默认等待实现
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	Threshold int           // 连续失败多少次后进入冷却
	Cooldown  time.Duration // 冷却时长,通常为分钟级
	MaxWait   time.Duration // 剩余冷却超过该值时 Wait 直接返回 ErrBreakerOpen,0表示总是等待
	Now       func() time.Time
	Sleep     Sleeper
	Metrics   *Metrics
}

// Breaker 跨调用共享的熔断器
// 连续失败达到阈值或遇到限流时进入冷却,冷却期内的调用先等待冷却结束;
// 任意一次成功清零失败计数
type Breaker struct {
	mu          sync.Mutex
	threshold   int
	cooldown    time.Duration
	maxWait     time.Duration
	failures    int
	rateLimited int
	trips       int
	openUntil   time.Time

	now     func() time.Time
	sleep   Sleeper
	metrics *Metrics
}

// NewBreaker 创建熔断器
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepContext
	}
	return &Breaker{
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		maxWait:   cfg.MaxWait,
		now:       cfg.Now,
		sleep:     cfg.Sleep,
		metrics:   cfg.Metrics,
	}
}

// Wait 若处于冷却期则等待冷却结束
func (b *Breaker) Wait(ctx context.Context) error {
	b.mu.Lock()
	remaining := b.openUntil.Sub(b.now())
	b.mu.Unlock()

	if remaining <= 0 {
		return ctx.Err()
	}
	if b.maxWait > 0 && remaining > b.maxWait {
		return fmt.Errorf("%w: 剩余 %s 超过最长等待 %s", models.ErrBreakerOpen, remaining.Round(time.Second), b.maxWait)
	}

	log.Warn().
		Dur("remaining", remaining).
		Int("failures", b.Failures()).
		Msg("熔断器冷却中,暂停所有请求")

	if err := b.sleep(ctx, remaining); err != nil {
		return err
	}

	b.mu.Lock()
	if !b.now().Before(b.openUntil) {
		b.openUntil = time.Time{}
	}
	b.mu.Unlock()

	log.Info().Msg("熔断器冷却结束,恢复请求")
	return nil
}

// Success 记录成功,清零连续失败计数
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// Failure 记录一次失败,返回是否因此进入冷却
func (b *Breaker) Failure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openLocked()
		return true
	}
	return false
}

// RateLimited 记录一次限流/封禁,直接进入冷却
// 站点给出的 Retry-After 比冷却期长时按 Retry-After 冷却
func (b *Breaker) RateLimited(retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rateLimited++
	b.failures++
	b.openForLocked(max(b.cooldown, retryAfter))
	b.metrics.IncRateLimited()
}

func (b *Breaker) openLocked() {
	b.openForLocked(b.cooldown)
}

func (b *Breaker) openForLocked(d time.Duration) {
	b.openUntil = b.now().Add(d)
	b.trips++
	b.metrics.IncTrip()
	log.Warn().
		Int("failures", b.failures).
		Int("rate_limited", b.rateLimited).
		Time("until", b.openUntil).
		Msg("熔断器触发,进入冷却")
}

// Remaining 冷却剩余时间
func (b *Breaker) Remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d := b.openUntil.Sub(b.now()); d > 0 {
		return d
	}
	return 0
}

func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// RateLimitHits 累计限流次数
func (b *Breaker) RateLimitHits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rateLimited
}

// Trips 累计进入冷却的次数
func (b *Breaker) Trips() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}
