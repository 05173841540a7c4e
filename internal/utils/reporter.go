package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hperocheau/scraping-pkm/internal/models"
	"github.com/schollz/progressbar/v3"
)

// Reporter 报告生成器
type Reporter struct {
	reportDir string
}

// NewReporter 创建报告生成器
func NewReporter(reportDir string) *Reporter {
	if reportDir == "" {
		reportDir = "reports"
	}
	return &Reporter{reportDir: reportDir}
}

// WriteRunReport 保存运行报告 reports/run_<id>.json,返回文件路径
func (r *Reporter) WriteRunReport(summary *models.RunSummary) (string, error) {
	if err := os.MkdirAll(r.reportDir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	data, err := summary.ToJSON()
	if err != nil {
		return "", fmt.Errorf("序列化JSON失败: %w", err)
	}

	path := filepath.Join(r.reportDir, fmt.Sprintf("run_%s.json", summary.RunID))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("写入报告文件失败: %w", err)
	}

	Debugf("保存报告: %s", path)
	return path, nil
}

// PrintSummary 打印运行摘要
func PrintSummary(summary *models.RunSummary) {
	Infof("==================================================")
	Infof("📊 运行摘要 [%s]", summary.RunID)
	Infof("==================================================")
	Infof("系列总数: %d", summary.Total)
	Infof("✅ 完成: %d", summary.Processed)
	Infof("⏭️  跳过: %d", summary.Skipped)
	Infof("⛔ 被阻断: %d", summary.Blocked)
	Infof("❌ 失败: %d", summary.Failed)
	Infof("📦 新增卡牌: %d", summary.ItemsAdded)
	Infof("⚠️  数量不一致: %d", summary.Mismatches)
	Infof("⏱️  总耗时: %.2f秒", summary.Duration)
	Infof("==================================================")

	for _, result := range summary.Results {
		switch {
		case result.Status != models.StatusProcessed:
			Warnf("  - %s (%s): %s %s", result.ListingID, result.Status, result.ErrorType, result.ErrorMsg)
		case result.Reconcile != nil && result.Reconcile.CountMismatch != nil:
			Warnf("  - %s: 声明 %d 张, 实际 %d 张, 已标记重新扫描",
				result.ListingID, result.Reconcile.CountMismatch.Declared, result.Reconcile.CountMismatch.Actual)
		}
	}
}

// NewProgressBar 创建进度条
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
