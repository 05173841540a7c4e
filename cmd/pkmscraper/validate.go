package main

import (
	"fmt"
	"net"
	"os"

	"github.com/hperocheau/scraping-pkm/internal/catalog"
	"github.com/hperocheau/scraping-pkm/internal/core"
	"github.com/hperocheau/scraping-pkm/internal/utils"
	"github.com/spf13/cobra"
)

// ValidateFlags 验证 scrape 命令行标志
func ValidateFlags(idFile, metricsAddr string) error {
	if idFile != "" {
		info, err := os.Stat(idFile)
		if err != nil {
			return fmt.Errorf("无法读取系列ID文件: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("系列ID文件是一个目录: %s", idFile)
		}
	}

	if metricsAddr != "" {
		if _, _, err := net.SplitHostPort(metricsAddr); err != nil {
			return fmt.Errorf("无效的指标监听地址 %q: %w", metricsAddr, err)
		}
	}

	if mode != "" && mode != "static" && mode != "dynamic" {
		return fmt.Errorf("无效的抓取模式: %s (有效值: static, dynamic)", mode)
	}
	if workers < 0 || workers > 16 {
		return fmt.Errorf("worker数必须在1-16之间,当前值: %d", workers)
	}
	if maxSessions < 0 || maxSessions > 20 {
		return fmt.Errorf("会话数必须在1-20之间,当前值: %d", maxSessions)
	}
	if rescrapeOnly && force {
		utils.Warnf("--rescrape-only 与 --rescrape 同时使用: 被标记的系列将覆盖声明数量")
	}
	return nil
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "检查目录文件和身份配置",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(appConfig)
	},
}

// runValidate 报告所有无效系列和身份配置问题
func runValidate(cfg *core.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置无效: %w", err)
	}

	utils.Infof("🔍 验证身份配置...")
	identities, err := core.NewIdentityManager(cfg.Catalog.IdentityFile, headers)
	if err != nil {
		return err
	}
	safe, err := identities.SafeHeaders()
	if err != nil {
		return fmt.Errorf("身份配置验证失败: %w", err)
	}
	utils.Infof("✅ 身份配置验证通过: %s", identities)
	for name, value := range safe {
		utils.Infof("  %s: %s", name, value)
	}

	utils.Infof("🔍 验证目录文件: %s", cfg.Catalog.Path)
	store := catalog.NewStore(cfg.Catalog.Path)
	problems, err := store.Validate()
	if err != nil {
		return fmt.Errorf("读取目录失败: %w", err)
	}
	if len(problems) > 0 {
		for _, p := range problems {
			utils.Errorf("  - %v", p)
		}
		return fmt.Errorf("目录中有 %d 个无效系列", len(problems))
	}

	utils.Infof("✅ 目录验证通过")
	return nil
}
