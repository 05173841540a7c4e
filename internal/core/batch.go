package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hperocheau/scraping-pkm/internal/catalog"
	"github.com/hperocheau/scraping-pkm/internal/models"
	"github.com/hperocheau/scraping-pkm/internal/resilience"
	"github.com/hperocheau/scraping-pkm/internal/utils"
)

// BatchFilter 选择本次运行要处理的系列,各条件同时生效
type BatchFilter struct {
	IDs          []string
	Bloc         string
	RescrapeOnly bool
}

// Match 判断系列是否被选中
func (f BatchFilter) Match(l *models.Listing) bool {
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if id == l.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Bloc != "" && !strings.EqualFold(f.Bloc, l.Bloc) {
		return false
	}
	if f.RescrapeOnly && !l.NeedsRescrape {
		return false
	}
	return true
}

// BatchOptions 批量运行选项
type BatchOptions struct {
	BatchDelay      time.Duration
	ReportDir       string
	MetricsTextfile string
}

// BatchRunner 逐个处理目录中的系列并汇总结果
type BatchRunner struct {
	store    *catalog.Store
	runner   *Runner
	metrics  *resilience.Metrics
	reporter *utils.Reporter
	options  BatchOptions
	sleep    resilience.Sleeper
}

// NewBatchRunner 创建批量处理器
func NewBatchRunner(store *catalog.Store, runner *Runner, metrics *resilience.Metrics, options BatchOptions) *BatchRunner {
	return &BatchRunner{
		store:    store,
		runner:   runner,
		metrics:  metrics,
		reporter: utils.NewReporter(options.ReportDir),
		options:  options,
		sleep:    resilience.SleepContext,
	}
}

// Run 处理所有选中的系列
// 单个系列失败不影响其他系列;目录文件损坏时中止本次运行。无论如何都会输出摘要
func (b *BatchRunner) Run(ctx context.Context, filter BatchFilter) (*models.RunSummary, error) {
	summary := models.NewRunSummary()

	listings, err := b.store.Load()
	if err != nil {
		return nil, fmt.Errorf("加载目录失败: %w", err)
	}

	selected := make([]models.Listing, 0, len(listings))
	for i := range listings {
		if filter.Match(&listings[i]) {
			selected = append(selected, listings[i])
		}
	}
	for _, id := range filter.IDs {
		if !containsListing(listings, id) {
			utils.Warnf("目录中不存在系列: %s", id)
		}
	}

	utils.Infof("🚀 开始处理: %d个系列 (目录共%d个)", len(selected), len(listings))

	var runErr error
	for i := range selected {
		listing := &selected[i]
		utils.Infof("==================== [%d/%d] %s ====================", i+1, len(selected), listing.ID)

		result := b.runner.RunListing(ctx, listing)
		summary.Add(result)

		if result.ErrorType == "store_corrupt" {
			runErr = fmt.Errorf("目录文件损坏,中止运行: %s", result.ErrorMsg)
			break
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		// 最后一个系列不需要延迟
		if i < len(selected)-1 && b.options.BatchDelay > 0 {
			utils.Debugf("等待 %.0f 秒后处理下一个系列...", b.options.BatchDelay.Seconds())
			if err := b.sleep(ctx, b.options.BatchDelay); err != nil {
				runErr = err
				break
			}
		}
	}

	summary.Finish()
	b.finish(summary)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return summary, runErr
	}
	return summary, nil
}

// finish 打印摘要并写出报告和指标,写出失败只记录日志
func (b *BatchRunner) finish(summary *models.RunSummary) {
	utils.PrintSummary(summary)

	if path, err := b.reporter.WriteRunReport(summary); err != nil {
		utils.Errorf("保存运行报告失败: %v", err)
	} else {
		utils.Infof("运行报告: %s", path)
	}

	if b.options.MetricsTextfile != "" {
		if err := b.metrics.WriteTextfile(b.options.MetricsTextfile); err != nil {
			utils.Errorf("写入指标文件失败: %v", err)
		}
	}
}

func containsListing(listings []models.Listing, id string) bool {
	for i := range listings {
		if listings[i].ID == id {
			return true
		}
	}
	return false
}
