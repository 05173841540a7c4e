package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Run("配置文件覆盖默认值", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `catalog:
  path: "data/test.json"
fetch:
  mode: static
  max_sessions: 5
scan:
  workers: 4
  batch_delay: 3s
resilience:
  breaker_cooldown: 10m
selectors:
  row: "div.card"
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("写入配置失败: %v", err)
		}

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("加载配置失败: %v", err)
		}
		if cfg.Catalog.Path != "data/test.json" || cfg.Fetch.Mode != "static" {
			t.Errorf("配置文件取值未生效: %+v", cfg.Catalog)
		}
		if cfg.Fetch.MaxSessions != 5 || cfg.Scan.Workers != 4 {
			t.Errorf("期望 max_sessions=5 workers=4, 实际 %d %d", cfg.Fetch.MaxSessions, cfg.Scan.Workers)
		}
		if cfg.Scan.BatchDelay != 3*time.Second || cfg.Resilience.BreakerCooldown != 10*time.Minute {
			t.Errorf("时长解析错误: %v %v", cfg.Scan.BatchDelay, cfg.Resilience.BreakerCooldown)
		}
		if cfg.Selectors.Row != "div.card" {
			t.Errorf("期望 selectors.row=div.card, 实际 %s", cfg.Selectors.Row)
		}
		// 未配置的项沿用默认值
		if cfg.Selectors.Link == "" || cfg.Resilience.MaxAttempts != 4 || cfg.Scan.PageParam != "page" {
			t.Errorf("默认值丢失: %+v %+v", cfg.Selectors, cfg.Resilience)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("配置应通过验证: %v", err)
		}
	})

	t.Run("指定的配置文件不存在", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Error("期望返回错误")
		}
	})
}

func TestConfig_MergeCLIFlags(t *testing.T) {
	cfg := &Config{}
	cfg.Fetch.Mode = "dynamic"
	cfg.Fetch.Headless = true
	cfg.Scan.Workers = 3

	headless := false
	cfg.MergeCLIFlags(Overrides{Mode: "static", Workers: 6, Headless: &headless, LogLevel: "debug"})

	if cfg.Fetch.Mode != "static" || cfg.Scan.Workers != 6 || cfg.Fetch.Headless {
		t.Errorf("命令行参数未覆盖配置: %+v %+v", cfg.Fetch, cfg.Scan)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("期望日志级别 debug, 实际 %s", cfg.Logging.Level)
	}

	cfg.MergeCLIFlags(Overrides{})
	if cfg.Fetch.Mode != "static" || cfg.Scan.Workers != 6 {
		t.Error("零值参数不应覆盖配置")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.Catalog.Path = "data/catalog.json"
		cfg.Fetch.Mode = "static"
		cfg.Fetch.MaxSessions = 2
		cfg.Scan.Workers = 3
		cfg.Scan.Attempts = 1
		cfg.Resilience.MaxAttempts = 3
		cfg.Selectors.Row = "tr"
		cfg.Selectors.Link = "a"
		return cfg
	}

	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"合法配置", func(c *Config) {}, false},
		{"未知抓取模式", func(c *Config) { c.Fetch.Mode = "headless" }, true},
		{"worker数为0", func(c *Config) { c.Scan.Workers = 0 }, true},
		{"worker数过大", func(c *Config) { c.Scan.Workers = 17 }, true},
		{"目录路径为空", func(c *Config) { c.Catalog.Path = "" }, true},
		{"缺少行选择器", func(c *Config) { c.Selectors.Row = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.expectError {
				t.Errorf("期望错误=%v, 实际错误=%v", tt.expectError, err)
			}
		})
	}
}
