package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/hperocheau/scraping-pkm/internal/models"
	"github.com/hperocheau/scraping-pkm/internal/utils"
	"github.com/spf13/viper"
)

const (
	// DefaultIdentityFile 默认身份配置文件路径
	DefaultIdentityFile = "configs/identities.yaml"

	// MaxConfigFileSize 配置文件最大大小 (1MB)
	MaxConfigFileSize = 1 * 1024 * 1024
)

//go:embed identities_template.yaml
var defaultIdentityTemplate string

// IdentityConfigLoader 身份配置加载器
// 负责加载、验证和解析 identities.yaml
type IdentityConfigLoader struct {
	configPath string
}

// NewIdentityConfigLoader 创建身份配置加载器
func NewIdentityConfigLoader(configPath string) *IdentityConfigLoader {
	if configPath == "" {
		configPath = DefaultIdentityFile
	}
	return &IdentityConfigLoader{configPath: configPath}
}

// Path 配置文件路径
func (l *IdentityConfigLoader) Path() string {
	return l.configPath
}

// EnsureConfigExists 确保配置文件存在,如不存在则写入内置模板
func (l *IdentityConfigLoader) EnsureConfigExists() error {
	if _, err := os.Stat(l.configPath); os.IsNotExist(err) {
		dir := filepath.Dir(l.configPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("无法创建配置目录 [%s]: %w", dir, err)
		}
		if err := os.WriteFile(l.configPath, []byte(defaultIdentityTemplate), 0644); err != nil {
			return fmt.Errorf("无法生成配置文件 [%s]: %w", l.configPath, err)
		}
		utils.Infof("已生成身份配置模板: %s", l.configPath)
	}
	return nil
}

// ValidateFileSize 验证配置文件大小是否在限制内
func (l *IdentityConfigLoader) ValidateFileSize() error {
	info, err := os.Stat(l.configPath)
	if err != nil {
		return fmt.Errorf("无法读取配置文件信息 [%s]: %w", l.configPath, err)
	}

	if info.Size() > MaxConfigFileSize {
		return &models.ConfigError{
			FilePath: l.configPath,
			Cause: fmt.Errorf("配置文件过大: %d 字节 (最大 %d 字节)",
				info.Size(), MaxConfigFileSize),
		}
	}
	return nil
}

// LoadConfig 加载身份配置
// 执行流程:
//  1. 确保配置文件存在 (不存在则写入模板)
//  2. 验证文件大小
//  3. 使用Viper解析YAML并绑定到 IdentityConfig
//  4. 文件被锁定时退回内置模板
func (l *IdentityConfigLoader) LoadConfig() (*models.IdentityConfig, error) {
	if err := l.EnsureConfigExists(); err != nil {
		return nil, err
	}
	if err := l.ValidateFileSize(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(l.configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
			utils.Warnf("配置文件被锁定 [%s], 使用内置身份模板", l.configPath)
			return DefaultIdentityConfig()
		}
		return nil, &models.ConfigError{FilePath: l.configPath, Cause: err}
	}

	var cfg models.IdentityConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &models.ConfigError{
			FilePath: l.configPath,
			Cause:    fmt.Errorf("配置绑定失败: %w", err),
		}
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	return &cfg, nil
}

// DefaultIdentityConfig 解析内置模板
func DefaultIdentityConfig() (*models.IdentityConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(defaultIdentityTemplate)); err != nil {
		return nil, fmt.Errorf("解析内置身份模板失败: %w", err)
	}
	var cfg models.IdentityConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("绑定内置身份模板失败: %w", err)
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	return &cfg, nil
}
