package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"
)

func testLogConfig(dir, level string) LogConfig {
	return LogConfig{
		Level:       level,
		LogDir:      dir,
		MaxSize:     10,
		MaxBackups:  3,
		MaxAge:      28,
		JSONConsole: true,
	}
}

func TestInitLogger(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "logs")

	if err := InitLogger(testLogConfig(tempDir, "debug")); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}

	Infof("测试信息日志 %s", "sv1")
	log.Warn().Str("listing", "sv1").Msg("测试警告日志")

	mainLogPath := filepath.Join(tempDir, MainLogFile)
	content, err := os.ReadFile(mainLogPath)
	if err != nil {
		t.Fatalf("读取主日志文件失败: %v", err)
	}
	if !strings.Contains(string(content), "测试信息日志 sv1") {
		t.Error("主日志缺少信息日志")
	}
	if !strings.Contains(string(content), `"listing":"sv1"`) {
		t.Error("全局 log.Logger 未指向初始化后的日志器")
	}
}

func TestLogLevels(t *testing.T) {
	tempDir := t.TempDir()

	if err := InitLogger(testLogConfig(tempDir, "info")); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}

	Infof("信息日志: %s", "可见")
	Debugf("调试日志: %s", "不可见")

	content, err := os.ReadFile(filepath.Join(tempDir, MainLogFile))
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	if !strings.Contains(string(content), "信息日志: 可见") {
		t.Error("info级别日志未写入")
	}
	if strings.Contains(string(content), "调试日志") {
		t.Error("info级别下不应写入debug日志")
	}
}

func TestErrorLogOnlyContainsErrors(t *testing.T) {
	tempDir := t.TempDir()

	if err := InitLogger(testLogConfig(tempDir, "debug")); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}

	Warnf("警告: %d", 1)
	Errorf("错误: %d", 2)

	content, err := os.ReadFile(filepath.Join(tempDir, ErrorLogFile))
	if err != nil {
		t.Fatalf("读取错误日志失败: %v", err)
	}
	if !strings.Contains(string(content), "错误: 2") {
		t.Error("错误日志缺少error级别日志")
	}
	if strings.Contains(string(content), "警告: 1") {
		t.Error("错误日志不应包含warn级别日志")
	}
}

func TestDefaultLogConfig(t *testing.T) {
	config := DefaultLogConfig()

	if config.Level != "info" {
		t.Errorf("默认日志级别错误: 期望 'info', 得到 '%s'", config.Level)
	}
	if config.LogDir != "logs" {
		t.Errorf("默认日志目录错误: 期望 'logs', 得到 '%s'", config.LogDir)
	}
	if config.MaxSize != 10 || config.MaxBackups != 3 || config.MaxAge != 28 {
		t.Errorf("默认轮转参数错误: %+v", config)
	}
	if !config.Compress {
		t.Error("默认应该启用压缩")
	}
}
