package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/hperocheau/scraping-pkm/internal/models"
	"github.com/rs/zerolog/log"
)

// RetryContext 每次重试前传给 OnRetry 的信息
type RetryContext struct {
	Attempt   int // 刚失败的尝试序号,从1开始
	NextDelay time.Duration
	LastErr   error
}

// Policy 重试 + 退避 + 熔断 + 人工挑战的统一组合器
// Breaker 与 Gate 在同一次运行的所有调用之间共享
type Policy struct {
	Name        string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
	OnRetry     func(RetryContext)

	Breaker *Breaker
	Gate    *ChallengeGate
	Metrics *Metrics
	Sleep   Sleeper
}

const maxDuration = time.Duration(math.MaxInt64)

// Backoff 第 attempt 次(从0开始)失败后的等待时长: base * 2^attempt 加抖动,不超过 MaxDelay
func (p *Policy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := maxDuration
	if attempt < 63 && base <= maxDuration>>uint(attempt) {
		delay = base << uint(attempt)
	}
	if p.Jitter {
		if j := rand.N(time.Second); delay <= maxDuration-j {
			delay += j
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// Execute 在策略保护下执行 op
//   - 可重试错误按指数退避重试,重试耗尽后返回最后一次错误
//   - 不可重试错误(数据结构、目录损坏)立即返回
//   - 限流/封禁触发熔断冷却,不立即重试
//   - 验证挑战交给 ChallengeGate,解决后恢复执行一次,不进入退避循环
func Execute[T any](ctx context.Context, p *Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if p.Breaker != nil {
			if err := p.Breaker.Wait(ctx); err != nil {
				return zero, err
			}
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op(ctx)
		if err == nil {
			p.success()
			return v, nil
		}

		var challenge *models.ChallengeError
		if errors.As(err, &challenge) {
			v, err = resolveChallenge(ctx, p, challenge, op)
			if err == nil {
				p.success()
				return v, nil
			}
			if errors.Is(err, models.ErrChallengeUnresolved) || ctx.Err() != nil {
				p.Metrics.IncError(models.Classify(err))
				return zero, err
			}
		}

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		lastErr = err
		class := models.Classify(err)
		p.Metrics.IncError(class)

		if models.IsPermanent(err) {
			log.Debug().Err(err).Str("policy", p.Name).Msg("不可重试的错误")
			return zero, err
		}

		tripped := false
		if p.Breaker != nil {
			if class == "rate_limited" || class == "blocked" {
				var limited *models.RateLimitedError
				var retryAfter time.Duration
				if errors.As(err, &limited) {
					retryAfter = limited.RetryAfter
				}
				p.Breaker.RateLimited(retryAfter)
				tripped = true
			} else {
				tripped = p.Breaker.Failure()
			}
		}

		if attempt == maxAttempts-1 {
			break
		}

		// 熔断冷却代替本次退避,由下一轮的 Breaker.Wait 执行
		var delay time.Duration
		if tripped {
			delay = p.Breaker.Remaining()
		} else {
			delay = p.Backoff(attempt)
		}

		p.Metrics.IncRetries()
		if p.OnRetry != nil {
			p.OnRetry(RetryContext{Attempt: attempt + 1, NextDelay: delay, LastErr: err})
		}
		log.Debug().
			Err(err).
			Str("policy", p.Name).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Bool("cooldown", tripped).
			Msg("操作失败,准备重试")

		if !tripped {
			if err := p.sleep(ctx, delay); err != nil {
				return zero, err
			}
		}
	}

	return zero, fmt.Errorf("重试%d次后仍然失败: %w", maxAttempts, lastErr)
}

func (p *Policy) success() {
	if p.Breaker != nil {
		p.Breaker.Success()
	}
}

// resolveChallenge 挂起等待人工处理,然后恢复执行一次
func resolveChallenge[T any](ctx context.Context, p *Policy, challenge *models.ChallengeError, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.Gate == nil {
		return zero, fmt.Errorf("%w: %v", models.ErrChallengeUnresolved, challenge)
	}
	if err := p.Gate.Await(ctx, challenge); err != nil {
		return zero, err
	}

	v, err := op(ctx)
	var again *models.ChallengeError
	if errors.As(err, &again) {
		return zero, fmt.Errorf("%w: %v", models.ErrChallengeUnresolved, again)
	}
	return v, err
}
