package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hperocheau/scraping-pkm/internal/crawlers"
	"github.com/hperocheau/scraping-pkm/internal/utils"
	"github.com/spf13/viper"
)

// Config 应用程序配置
type Config struct {
	Catalog    CatalogConfig      `mapstructure:"catalog"`
	Fetch      FetchConfig        `mapstructure:"fetch"`
	Scan       ScanConfig         `mapstructure:"scan"`
	Resilience ResilienceConfig   `mapstructure:"resilience"`
	Selectors  crawlers.Selectors `mapstructure:"selectors"`
	Logging    LoggingConfig      `mapstructure:"logging"`
	Report     ReportConfig       `mapstructure:"report"`
}

// CatalogConfig 目录文件配置
type CatalogConfig struct {
	Path         string `mapstructure:"path"`
	IdentityFile string `mapstructure:"identity_file"`
}

// FetchConfig 抓取配置
type FetchConfig struct {
	Mode               string         `mapstructure:"mode"` // static 或 dynamic
	Headless           bool           `mapstructure:"headless"`
	BrowserBin         string         `mapstructure:"browser_bin"`
	Timeout            time.Duration  `mapstructure:"timeout"`
	InsecureSkipVerify bool           `mapstructure:"insecure_skip_verify"`
	MaxSessions        int            `mapstructure:"max_sessions"`
	RotateEvery        int            `mapstructure:"rotate_every"`
	RequestsPerSecond  float64        `mapstructure:"requests_per_second"`
	Burst              int            `mapstructure:"burst"`
	Resource           ResourceConfig `mapstructure:"resource"`
}

// ResourceConfig 资源监控配置
type ResourceConfig struct {
	SafetyReserveMemory int     `mapstructure:"safety_reserve_memory"` // MB
	SessionMemoryUsage  int     `mapstructure:"session_memory_usage"`  // MB
	CPULoadThreshold    float64 `mapstructure:"cpu_load_threshold"`
}

// ScanConfig 扫描配置
type ScanConfig struct {
	Workers         int           `mapstructure:"workers"`
	Stagger         time.Duration `mapstructure:"stagger"`
	PageParam       string        `mapstructure:"page_param"`
	Attempts        int           `mapstructure:"attempts"`
	MergePartial    bool          `mapstructure:"merge_partial"`
	BatchDelay      time.Duration `mapstructure:"batch_delay"`
	PaginationCache int           `mapstructure:"pagination_cache"`
}

// ResilienceConfig 容错配置
type ResilienceConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	Jitter           bool          `mapstructure:"jitter"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
	BreakerMaxWait   time.Duration `mapstructure:"breaker_max_wait"` // 剩余冷却超过该值时放弃当前系列,0表示总是等待
	ChallengeTimeout time.Duration `mapstructure:"challenge_timeout"`
	DiagnosticsDir   string        `mapstructure:"diagnostics_dir"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level       string         `mapstructure:"level"`
	LogDir      string         `mapstructure:"log_dir"`
	JSONConsole bool           `mapstructure:"json_console"`
	Rotation    RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// ReportConfig 运行报告配置
type ReportConfig struct {
	Dir string `mapstructure:"dir"`
	// MetricsTextfile Prometheus textfile 输出路径,为空时不输出
	MetricsTextfile string `mapstructure:"metrics_textfile"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".pkmscraper"))
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 配置文件不存在时使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog.path", "data/catalog.json")
	v.SetDefault("catalog.identity_file", "configs/identities.yaml")

	v.SetDefault("fetch.mode", "dynamic")
	v.SetDefault("fetch.headless", true)
	v.SetDefault("fetch.timeout", "60s")
	v.SetDefault("fetch.insecure_skip_verify", false)
	v.SetDefault("fetch.max_sessions", 3)
	v.SetDefault("fetch.rotate_every", 50)
	v.SetDefault("fetch.requests_per_second", 1.0)
	v.SetDefault("fetch.burst", 2)
	v.SetDefault("fetch.resource.safety_reserve_memory", 512)
	v.SetDefault("fetch.resource.session_memory_usage", 150)
	v.SetDefault("fetch.resource.cpu_load_threshold", 90)

	v.SetDefault("scan.workers", 3)
	v.SetDefault("scan.stagger", "2s")
	v.SetDefault("scan.page_param", "page")
	v.SetDefault("scan.attempts", 2)
	v.SetDefault("scan.merge_partial", true)
	v.SetDefault("scan.batch_delay", "0s")
	v.SetDefault("scan.pagination_cache", 256)

	v.SetDefault("resilience.max_attempts", 4)
	v.SetDefault("resilience.base_delay", "2s")
	v.SetDefault("resilience.max_delay", "2m")
	v.SetDefault("resilience.jitter", true)
	v.SetDefault("resilience.breaker_threshold", 5)
	v.SetDefault("resilience.breaker_cooldown", "30m")
	v.SetDefault("resilience.breaker_max_wait", "0s")
	v.SetDefault("resilience.challenge_timeout", "5m")
	v.SetDefault("resilience.diagnostics_dir", "diagnostics")

	sel := crawlers.DefaultSelectors()
	v.SetDefault("selectors.row", sel.Row)
	v.SetDefault("selectors.link", sel.Link)
	v.SetDefault("selectors.title", sel.Title)
	v.SetDefault("selectors.row_id_attr", sel.RowIDAttr)
	v.SetDefault("selectors.rarity", sel.Rarity)
	v.SetDefault("selectors.foreign_name", sel.ForeignName)
	v.SetDefault("selectors.page_indicator", sel.PageIndicator)
	v.SetDefault("selectors.challenge", sel.Challenge)
	v.SetDefault("selectors.blocked_text", sel.BlockedText)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.json_console", false)
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.metrics_textfile", "")
}

// LogConfig 转换为日志系统配置
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:       c.Logging.Level,
		LogDir:      c.Logging.LogDir,
		MaxSize:     c.Logging.Rotation.MaxSize,
		MaxBackups:  c.Logging.Rotation.MaxBackups,
		MaxAge:      c.Logging.Rotation.MaxAge,
		Compress:    c.Logging.Rotation.Compress,
		JSONConsole: c.Logging.JSONConsole,
	}
}

// Overrides 命令行参数,零值表示沿用配置文件
type Overrides struct {
	CatalogPath  string
	IdentityFile string
	Mode         string
	Workers      int
	MaxSessions  int
	Headless     *bool
	LogLevel     string
	ReportDir    string
	Textfile     string
}

// MergeCLIFlags 合并命令行参数到配置,命令行优先
func (c *Config) MergeCLIFlags(o Overrides) {
	if o.CatalogPath != "" {
		c.Catalog.Path = o.CatalogPath
	}
	if o.IdentityFile != "" {
		c.Catalog.IdentityFile = o.IdentityFile
	}
	if o.Mode != "" {
		c.Fetch.Mode = o.Mode
	}
	if o.Workers > 0 {
		c.Scan.Workers = o.Workers
	}
	if o.MaxSessions > 0 {
		c.Fetch.MaxSessions = o.MaxSessions
	}
	if o.Headless != nil {
		c.Fetch.Headless = *o.Headless
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.ReportDir != "" {
		c.Report.Dir = o.ReportDir
	}
	if o.Textfile != "" {
		c.Report.MetricsTextfile = o.Textfile
	}
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	switch c.Fetch.Mode {
	case "static", "dynamic":
	default:
		return fmt.Errorf("无效的抓取模式: %s (可选: static, dynamic)", c.Fetch.Mode)
	}
	if c.Catalog.Path == "" {
		return fmt.Errorf("目录文件路径不能为空")
	}
	if c.Scan.Workers < 1 || c.Scan.Workers > 16 {
		return fmt.Errorf("worker数必须在1-16之间: %d", c.Scan.Workers)
	}
	if c.Fetch.MaxSessions < 1 {
		return fmt.Errorf("最大会话数必须大于0: %d", c.Fetch.MaxSessions)
	}
	if c.Scan.Attempts < 1 {
		return fmt.Errorf("扫描尝试次数必须大于0: %d", c.Scan.Attempts)
	}
	if c.Resilience.MaxAttempts < 1 {
		return fmt.Errorf("重试次数必须大于0: %d", c.Resilience.MaxAttempts)
	}
	if c.Selectors.Row == "" || c.Selectors.Link == "" {
		return fmt.Errorf("selectors.row 和 selectors.link 不能为空")
	}
	return nil
}
