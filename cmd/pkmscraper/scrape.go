package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hperocheau/scraping-pkm/internal/catalog"
	"github.com/hperocheau/scraping-pkm/internal/core"
	"github.com/hperocheau/scraping-pkm/internal/crawlers"
	"github.com/hperocheau/scraping-pkm/internal/models"
	"github.com/hperocheau/scraping-pkm/internal/resilience"
	"github.com/hperocheau/scraping-pkm/internal/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// scrape 参数
var (
	listingIDs   []string
	idFile       string
	bloc         string
	rescrapeOnly bool
	force        bool
	mode         string
	workers      int
	maxSessions  int
	headless     bool
	reportDir    string
	textfile     string
	metricsAddr  string
	noProgress   bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "扫描系列并更新目录",
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides := core.Overrides{
			Mode:        mode,
			Workers:     workers,
			MaxSessions: maxSessions,
			ReportDir:   reportDir,
			Textfile:    textfile,
		}
		if cmd.Flags().Changed("headless") {
			overrides.Headless = &headless
		}
		appConfig.MergeCLIFlags(overrides)

		if err := ValidateFlags(idFile, metricsAddr); err != nil {
			return err
		}
		if err := appConfig.Validate(); err != nil {
			return fmt.Errorf("配置无效: %w", err)
		}

		ids := utils.SplitList(listingIDs)
		if idFile != "" {
			fromFile, err := utils.ReadListingIDsFromFile(idFile)
			if err != nil {
				return fmt.Errorf("读取系列ID文件失败: %w", err)
			}
			ids = append(ids, fromFile...)
		}

		// Ctrl+C 取消当前运行,已完成的系列照常写入摘要
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		summary, err := runScrape(ctx, appConfig, core.BatchFilter{IDs: ids, Bloc: bloc, RescrapeOnly: rescrapeOnly})
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			utils.Warnf("运行被中断,已处理 %d 个系列", summary.Total)
		}
		utils.Infof("✨ 运行完成!")
		return nil
	},
}

func init() {
	scrapeCmd.Flags().StringSliceVar(&listingIDs, "ids", nil, "只处理指定系列ID,逗号分隔")
	scrapeCmd.Flags().StringVarP(&idFile, "id-file", "f", "", "包含系列ID列表的文件路径")
	scrapeCmd.Flags().StringVar(&bloc, "bloc", "", "只处理指定系列组")
	scrapeCmd.Flags().BoolVar(&rescrapeOnly, "rescrape-only", false, "只处理被标记为需要重新扫描的系列")
	scrapeCmd.Flags().BoolVar(&force, "rescrape", false, "显式重新抓取,允许覆盖已确定的声明数量")
	scrapeCmd.Flags().StringVarP(&mode, "mode", "m", "", "抓取模式 (static|dynamic)")
	scrapeCmd.Flags().IntVar(&workers, "workers", 0, "每个扫描方向的并发worker数")
	scrapeCmd.Flags().IntVar(&maxSessions, "sessions", 0, "最大会话数")
	scrapeCmd.Flags().BoolVar(&headless, "headless", true, "无头浏览器模式")
	scrapeCmd.Flags().StringVar(&reportDir, "report-dir", "", "运行报告目录")
	scrapeCmd.Flags().StringVar(&textfile, "metrics-textfile", "", "Prometheus textfile 输出路径")
	scrapeCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "运行期间暴露 /metrics 的监听地址,例如 :9102")
	scrapeCmd.Flags().BoolVar(&noProgress, "no-progress", false, "不显示页面进度条")
}

// runScrape 组装所有组件并执行一次批量运行
func runScrape(ctx context.Context, cfg *core.Config, filter core.BatchFilter) (*models.RunSummary, error) {
	identities, err := core.NewIdentityManager(cfg.Catalog.IdentityFile, headers)
	if err != nil {
		return nil, fmt.Errorf("创建身份管理器失败: %w", err)
	}
	if err := identities.LoadConfig(); err != nil {
		return nil, fmt.Errorf("加载身份配置失败: %w", err)
	}
	if safe, err := identities.SafeHeaders(); err == nil {
		utils.Debugf("身份池: %s, 额外头部: %v", identities, safe)
	}

	metrics := resilience.NewMetrics()
	if metricsAddr != "" {
		server := serveMetrics(metricsAddr, metrics)
		defer server.Close()
	}

	store := catalog.NewStore(cfg.Catalog.Path)
	extractor := crawlers.NewExtractor(cfg.Selectors)

	var (
		factory crawlers.SessionFactory
		fetcher crawlers.Fetcher
		monitor *crawlers.ResourceMonitor
	)
	switch cfg.Fetch.Mode {
	case "static":
		factory = crawlers.StaticSessionFactory{}
		fetcher = crawlers.NewStaticFetcher(extractor, crawlers.StaticFetcherConfig{
			Timeout:            cfg.Fetch.Timeout,
			InsecureSkipVerify: cfg.Fetch.InsecureSkipVerify,
		})
	default:
		dynamic := crawlers.NewDynamicSessionFactory(crawlers.DynamicConfig{
			Headless:           cfg.Fetch.Headless,
			BrowserBin:         cfg.Fetch.BrowserBin,
			PageTimeout:        cfg.Fetch.Timeout,
			InsecureSkipVerify: cfg.Fetch.InsecureSkipVerify,
		})
		defer dynamic.Close()
		factory = dynamic
		fetcher = crawlers.NewDynamicFetcher(extractor, cfg.Fetch.Timeout)

		// 浏览器会话受系统资源限制
		monitor = crawlers.NewResourceMonitor(crawlers.ResourceMonitorConfig{
			SafetyReserveMemory: uint64(cfg.Fetch.Resource.SafetyReserveMemory) * 1024 * 1024,
			SessionMemoryUsage:  uint64(cfg.Fetch.Resource.SessionMemoryUsage) * 1024 * 1024,
			CPULoadThreshold:    cfg.Fetch.Resource.CPULoadThreshold,
			MaxSessions:         cfg.Fetch.MaxSessions,
		})
		monitor.StartMonitoring(5 * time.Second)
		defer monitor.StopMonitoring()
	}

	pool := crawlers.NewSessionPool(factory, identities, monitor, crawlers.SessionPoolConfig{
		MaxSessions: cfg.Fetch.MaxSessions,
		RotateEvery: cfg.Fetch.RotateEvery,
		CookieFile:  store.CookiePath(),
	})
	if err := pool.Open(ctx); err != nil {
		return nil, fmt.Errorf("打开会话池失败: %w", err)
	}
	defer func() {
		if err := pool.Close(); err != nil {
			utils.Errorf("关闭会话池失败: %v", err)
		}
	}()

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Threshold: cfg.Resilience.BreakerThreshold,
		Cooldown:  cfg.Resilience.BreakerCooldown,
		MaxWait:   cfg.Resilience.BreakerMaxWait,
		Metrics:   metrics,
	})
	gate := resilience.NewChallengeGate(cfg.Resilience.DiagnosticsDir, cfg.Resilience.ChallengeTimeout, operatorSignals(ctx), metrics)
	policy := &resilience.Policy{
		Name:        "page",
		MaxAttempts: cfg.Resilience.MaxAttempts,
		BaseDelay:   cfg.Resilience.BaseDelay,
		MaxDelay:    cfg.Resilience.MaxDelay,
		Jitter:      cfg.Resilience.Jitter,
		Breaker:     breaker,
		Gate:        gate,
		Metrics:     metrics,
		OnRetry: func(rc resilience.RetryContext) {
			utils.Warnf("第%d次重试, %.1f秒后继续: %v", rc.Attempt, rc.NextDelay.Seconds(), rc.LastErr)
		},
	}

	client := crawlers.NewPageClient(pool, fetcher, policy, cfg.Fetch.RequestsPerSecond, cfg.Fetch.Burst, metrics)
	resolver, err := crawlers.NewPaginationResolver(client, cfg.Scan.PageParam, cfg.Scan.PaginationCache)
	if err != nil {
		return nil, fmt.Errorf("创建分页解析器失败: %w", err)
	}
	scanner := crawlers.NewScanner(client, crawlers.ScannerConfig{
		Workers:   cfg.Scan.Workers,
		Stagger:   cfg.Scan.Stagger,
		PageParam: cfg.Scan.PageParam,
	}, metrics)
	reconciler := catalog.NewReconciler(store, metrics)

	runner := core.NewRunner(store, resolver, scanner, reconciler, metrics, core.RunnerOptions{
		Attempts:     cfg.Scan.Attempts,
		MergePartial: cfg.Scan.MergePartial,
		Force:        force,
		ShowProgress: !noProgress,
	})
	batch := core.NewBatchRunner(store, runner, metrics, core.BatchOptions{
		BatchDelay:      cfg.Scan.BatchDelay,
		ReportDir:       cfg.Report.Dir,
		MetricsTextfile: cfg.Report.MetricsTextfile,
	})

	return batch.Run(ctx, filter)
}

// operatorSignals 把标准输入的每一行转成一次"挑战已解决"信号
// 没有挑战挂起时输入的行会被 ChallengeGate 丢弃
func operatorSignals(ctx context.Context) <-chan struct{} {
	signals := make(chan struct{}, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case signals <- struct{}{}:
			case <-ctx.Done():
				return
			default:
				// 已有未消费的信号
			}
		}
	}()
	return signals
}

// serveMetrics 在后台暴露 /metrics
func serveMetrics(addr string, metrics *resilience.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		utils.Infof("指标服务监听: %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Errorf("指标服务异常退出: %v", err)
		}
	}()
	return server
}
