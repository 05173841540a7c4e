package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hperocheau/scraping-pkm/internal/models"
)

func TestIdentityConfigLoader_LoadConfig(t *testing.T) {
	t.Run("首次运行自动生成配置文件", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "configs", "identities.yaml")
		loader := NewIdentityConfigLoader(configPath)

		cfg, err := loader.LoadConfig()
		if err != nil {
			t.Fatalf("加载配置失败: %v", err)
		}
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			t.Fatal("配置文件应该被自动生成")
		}
		if len(cfg.UserAgents) == 0 || len(cfg.Viewports) == 0 {
			t.Errorf("模板应包含User-Agent和视口: %+v", cfg)
		}
	})

	t.Run("加载已存在的配置文件", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "identities.yaml")
		content := `user_agents:
  - "Test Bot/1.0"
accept_languages:
  - "fr-FR"
viewports:
  - { width: 800, height: 600 }
headers:
  X-Custom: "test value"
`
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			t.Fatalf("写入测试配置失败: %v", err)
		}

		cfg, err := NewIdentityConfigLoader(configPath).LoadConfig()
		if err != nil {
			t.Fatalf("加载配置失败: %v", err)
		}
		if cfg.UserAgents[0] != "Test Bot/1.0" || cfg.AcceptLanguages[0] != "fr-FR" {
			t.Errorf("身份列表解析错误: %+v", cfg)
		}
		if cfg.Viewports[0] != (models.Viewport{Width: 800, Height: 600}) {
			t.Errorf("视口解析错误: %+v", cfg.Viewports)
		}
		// viper会将键名转换为小写
		if cfg.Headers["x-custom"] != "test value" {
			t.Errorf("期望 x-custom='test value', 实际='%s'", cfg.Headers["x-custom"])
		}
	})

	t.Run("YAML格式错误返回ConfigError", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "identities.yaml")
		bad := "user_agents:\n  - \"Test Bot\n  X: missing quote\n"
		if err := os.WriteFile(configPath, []byte(bad), 0644); err != nil {
			t.Fatalf("写入错误配置失败: %v", err)
		}

		_, err := NewIdentityConfigLoader(configPath).LoadConfig()
		var cerr *models.ConfigError
		if !errors.As(err, &cerr) {
			t.Fatalf("期望 ConfigError, 实际 %v", err)
		}
	})

	t.Run("文件过大被拒绝", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "identities.yaml")
		big := "# " + strings.Repeat("x", MaxConfigFileSize) + "\n"
		if err := os.WriteFile(configPath, []byte(big), 0644); err != nil {
			t.Fatalf("写入配置失败: %v", err)
		}
		if _, err := NewIdentityConfigLoader(configPath).LoadConfig(); err == nil {
			t.Fatal("期望文件过大时返回错误")
		}
	})

	t.Run("空路径使用默认路径", func(t *testing.T) {
		if got := NewIdentityConfigLoader("").Path(); got != DefaultIdentityFile {
			t.Errorf("期望 %s, 实际 %s", DefaultIdentityFile, got)
		}
	})
}

func TestDefaultIdentityConfig(t *testing.T) {
	cfg, err := DefaultIdentityConfig()
	if err != nil {
		t.Fatalf("解析内置模板失败: %v", err)
	}
	if len(cfg.UserAgents) < 2 {
		t.Errorf("内置模板应提供多个User-Agent用于轮换, 实际 %d", len(cfg.UserAgents))
	}
	if cfg.Headers["accept"] == "" {
		t.Error("内置模板应包含Accept头部")
	}
}
