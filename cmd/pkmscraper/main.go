package main

import (
	"fmt"
	"os"

	"github.com/hperocheau/scraping-pkm/internal/core"
	"github.com/hperocheau/scraping-pkm/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 全局参数
var (
	configFile  string
	verbose     bool
	logLevel    string
	catalogPath string
	headers     []string // 自定义身份头部

	appConfig *core.Config
)

var rootCmd = &cobra.Command{
	Use:   "pkmscraper",
	Short: "卡牌系列目录抓取工具",
	Long: `pkmscraper - 卡牌系列分页列表抓取与目录维护工具

功能:
  • 解析系列的分页数量 (支持 "N+" 估计页数)
  • 双向分页扫描,页数为估计值时从末端补全
  • 合并去重后写回目录文件,核对声明数量
  • 限流/封禁熔断,验证挑战人工处理
  • 静态(HTTP)和动态(浏览器)两种抓取模式

示例:
  # 处理目录中的全部系列
  pkmscraper scrape

  # 只处理指定系列,使用静态模式
  pkmscraper scrape --ids sv1,sv2 --mode static

  # 只重扫被标记为数量不一致的系列
  pkmscraper scrape --rescrape-only

  # 自定义身份头部
  pkmscraper scrape -H "User-Agent: MyBot/1.0"

  # 检查目录文件和身份配置
  pkmscraper validate

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
		config.MergeCLIFlags(core.Overrides{CatalogPath: catalogPath, LogLevel: logLevel})

		if err := utils.InitLogger(config.LogConfig()); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}
		if verbose {
			utils.Infof("详细模式已启用")
		}

		appConfig = config
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pkmscraper %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "目录文件路径 (覆盖 catalog.path)")
	rootCmd.PersistentFlags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义身份头部,格式: 'Name: Value',可多次指定")

	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
