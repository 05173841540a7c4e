package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hperocheau/scraping-pkm/internal/catalog"
	"github.com/hperocheau/scraping-pkm/internal/crawlers"
	"github.com/hperocheau/scraping-pkm/internal/models"
	"github.com/hperocheau/scraping-pkm/internal/resilience"
	"github.com/hperocheau/scraping-pkm/internal/utils"
	"github.com/rs/zerolog/log"
)

// RunnerOptions 单个系列处理选项
type RunnerOptions struct {
	// Attempts 扫描从头重试的次数
	Attempts int
	// MergePartial 扫描失败时仍合并已取得的连续页面
	MergePartial bool
	// Force 显式重新抓取,允许声明数量变小
	Force bool
	// ShowProgress 在终端显示页面进度条
	ShowProgress bool
}

// Runner 串联 分页解析 → 双向扫描 → 协调入库
type Runner struct {
	store      *catalog.Store
	resolver   *crawlers.PaginationResolver
	scanner    *crawlers.Scanner
	reconciler *catalog.Reconciler
	metrics    *resilience.Metrics
	options    RunnerOptions
}

// NewRunner 创建系列处理器
func NewRunner(store *catalog.Store, resolver *crawlers.PaginationResolver, scanner *crawlers.Scanner,
	reconciler *catalog.Reconciler, metrics *resilience.Metrics, options RunnerOptions) *Runner {
	if options.Attempts < 1 {
		options.Attempts = 1
	}
	return &Runner{
		store:      store,
		resolver:   resolver,
		scanner:    scanner,
		reconciler: reconciler,
		metrics:    metrics,
		options:    options,
	}
}

// RunListing 处理一个系列
// 任何失败(包括panic)都只体现在返回的结果里,不会影响其他系列
func (r *Runner) RunListing(ctx context.Context, listing *models.Listing) (result models.ListingResult) {
	start := time.Now()
	result = models.ListingResult{ListingID: listing.ID, Name: listing.Name}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("listing", listing.ID).Interface("panic", rec).Msg("处理系列时发生panic")
			result.Status = models.StatusFailed
			result.ErrorType = "panic"
			result.ErrorMsg = fmt.Sprint(rec)
		}
		result.Duration = time.Since(start).Seconds()
	}()

	if err := listing.Validate(); err != nil {
		r.fail(&result, err)
		return result
	}

	count := r.resolver.Resolve(ctx, listing)
	if count == nil {
		result.Status = models.StatusSkipped
		result.ErrorType = "pagination"
		result.ErrorMsg = "分页解析失败"
		if err := ctx.Err(); err != nil {
			r.fail(&result, err)
		}
		return result
	}
	result.Pages = count.TotalPages
	result.IsEstimate = count.IsEstimate

	scan, scanErr := r.scanWithAttempts(ctx, listing, *count, &result)
	if scan == nil {
		scan = &models.ScanResult{}
	}
	result.RecordsScanned = len(scan.Records)
	result.Incomplete = scan.Incomplete

	if scanErr != nil {
		if !r.options.MergePartial || len(scan.Records) == 0 {
			r.fail(&result, scanErr)
			return result
		}
		result.Partial = true
		log.Warn().
			Str("listing", listing.ID).
			Int("records", len(scan.Records)).
			Msg("扫描未完成,合并已取得的部分结果")
	}

	stats, err := r.reconciler.Reconcile(ctx, listing.ID, scan.Records)
	if err != nil {
		r.fail(&result, err)
		return result
	}
	result.Reconcile = stats

	if err := r.refreshDeclaredCount(listing.ID, scanErr == nil, scan.Incomplete, &result); err != nil {
		r.fail(&result, err)
		return result
	}

	if scanErr != nil {
		r.fail(&result, scanErr)
		return result
	}

	result.Status = models.StatusProcessed
	return result
}

// scanWithAttempts 扫描失败时从第1页重新开始,保留记录最多的一次结果
func (r *Runner) scanWithAttempts(ctx context.Context, listing *models.Listing, count models.PageCount, result *models.ListingResult) (*models.ScanResult, error) {
	var (
		best    *models.ScanResult
		lastErr error
	)

	for attempt := 1; attempt <= r.options.Attempts; attempt++ {
		result.ScanAttempts = attempt

		var bar func()
		if r.options.ShowProgress {
			bar = r.attachProgress(listing, count)
		}
		scan, err := r.scanner.Scan(ctx, listing, count)
		if bar != nil {
			bar()
		}

		if scan != nil && (best == nil || len(scan.Records) > len(best.Records)) {
			best = scan
		}
		if err == nil {
			return scan, nil
		}
		lastErr = err

		log.Warn().
			Err(err).
			Str("listing", listing.ID).
			Int("attempt", attempt).
			Str("error_type", models.Classify(err)).
			Msg("扫描失败")

		if ctx.Err() != nil || models.IsPermanent(err) || blockedOutcome(err) {
			break
		}
	}
	return best, lastErr
}

// attachProgress 为本次扫描挂上进度条,返回收尾函数
func (r *Runner) attachProgress(listing *models.Listing, count models.PageCount) func() {
	max := count.TotalPages
	if count.IsEstimate {
		max *= 2
	}
	bar := utils.NewProgressBar(max, listing.ID)
	r.scanner.OnProgress(func(_ models.Direction, _ int, _ int) {
		_ = bar.Add(1)
	})
	return func() {
		r.scanner.OnProgress(nil)
		_ = bar.Finish()
	}
}

// refreshDeclaredCount 扫描完整时用实际数量刷新声明数量
// 原值是估计值时直接更新;原值是精确值时只有显式重新抓取才覆盖
// 扫描未覆盖整个系列时不刷新,并标记为需要重新扫描
func (r *Runner) refreshDeclaredCount(listingID string, succeeded, incomplete bool, result *models.ListingResult) error {
	return r.store.Update(listingID, func(l *models.Listing) error {
		result.ItemsAfter = len(l.Items)
		if incomplete {
			l.NeedsRescrape = true
			log.Warn().Str("listing", listingID).Int("items", len(l.Items)).Msg("扫描未覆盖整个系列,保留声明数量并标记重新扫描")
			return nil
		}
		if !succeeded {
			return nil
		}

		_, estimate, err := models.ParseDeclaredCount(l.DeclaredCount)
		if err == nil && !estimate && !r.options.Force {
			return nil
		}

		value := fmt.Sprintf("%d cartes", len(l.Items))
		if l.UpdateDeclaredCount(value, r.options.Force) {
			l.NeedsRescrape = false
			log.Info().Str("listing", listingID).Str("num_cards", value).Msg("已更新声明数量")
		}
		return nil
	})
}

// fail 根据错误类型确定系列状态
func (r *Runner) fail(result *models.ListingResult, err error) {
	result.ErrorType = models.Classify(err)
	if errors.Is(err, models.ErrBreakerOpen) {
		result.ErrorType = "breaker_open"
	}
	result.ErrorMsg = err.Error()

	switch {
	case blockedOutcome(err):
		result.Status = models.StatusBlocked
	case result.ErrorType == "transient", result.ErrorType == "timeout", result.ErrorType == "data_shape":
		result.Status = models.StatusSkipped
	default:
		result.Status = models.StatusFailed
	}
	r.metrics.IncError(result.ErrorType)
}

// blockedOutcome 被站点阻断的错误: 限流、封禁、挑战、熔断
func blockedOutcome(err error) bool {
	if errors.Is(err, models.ErrBreakerOpen) {
		return true
	}
	switch models.Classify(err) {
	case "challenge", "rate_limited", "blocked":
		return true
	}
	return false
}
