package core

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/hperocheau/scraping-pkm/internal/config"
	"github.com/hperocheau/scraping-pkm/internal/models"
	"github.com/hperocheau/scraping-pkm/internal/utils"
)

const (
	// DefaultUserAgent 默认User-Agent
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/124.0.0.0 Safari/537.36"

	// DefaultAcceptLanguage 默认语言
	DefaultAcceptLanguage = "fr-FR,fr;q=0.9,en;q=0.8"
)

// IdentityManager 管理浏览器身份池的生命周期
// 实现 models.IdentityProvider 接口,合并优先级: 默认 < 配置文件 < 命令行
type IdentityManager struct {
	// cli 从命令行参数解析的头部
	cli http.Header

	validator    *utils.IdentityValidator
	redactor     *utils.Redactor
	configLoader *config.IdentityConfigLoader

	mu     sync.Mutex
	merged *models.IdentityConfig
	next   int
}

// NewIdentityManager 创建身份管理器
// 参数:
//   - configFile: 身份配置文件路径 (如为空则使用默认路径)
//   - cliHeaders: 命令行传递的头部字符串列表
func NewIdentityManager(configFile string, cliHeaders []string) (*IdentityManager, error) {
	im := &IdentityManager{
		validator:    utils.NewIdentityValidator(),
		redactor:     utils.NewRedactor(),
		configLoader: config.NewIdentityConfigLoader(configFile),
		cli:          make(http.Header),
	}

	if len(cliHeaders) > 0 {
		parsed, err := models.CliHeaders(cliHeaders).Parse()
		if err != nil {
			return nil, err
		}
		im.cli = parsed
	}

	return im, nil
}

// defaultIdentityConfig 系统默认身份
func defaultIdentityConfig() models.IdentityConfig {
	return models.IdentityConfig{
		UserAgents:      []string{DefaultUserAgent},
		AcceptLanguages: []string{DefaultAcceptLanguage},
		Viewports:       []models.Viewport{{Width: 1920, Height: 1080}},
		Headers:         map[string]string{"Accept": "text/html,application/xhtml+xml,*/*;q=0.8"},
	}
}

// LoadConfig 加载并合并身份配置,已加载则跳过
func (im *IdentityManager) LoadConfig() error {
	im.mu.Lock()
	defer im.mu.Unlock()

	if im.merged != nil {
		return nil
	}

	fileCfg, err := im.configLoader.LoadConfig()
	if err != nil {
		utils.Errorf("加载身份配置失败: %v", err)
		return err
	}

	merged := mergeIdentityConfig(defaultIdentityConfig(), *fileCfg, im.cli)
	if err := im.validator.ValidateIdentityConfig(merged); err != nil {
		utils.Errorf("身份配置验证失败: %v", err)
		return err
	}

	im.merged = &merged
	utils.Debugf("成功加载身份池: %d个User-Agent, %d个语言, %d个视口, 额外头部 %v",
		len(merged.UserAgents), len(merged.AcceptLanguages), len(merged.Viewports),
		im.redactor.RedactHeaders(headerMap(merged.Headers)))
	return nil
}

// mergeIdentityConfig 合并三层身份配置
// 配置文件中非空的列表替换默认列表;命令行的 User-Agent/Accept-Language 会固定对应列表
func mergeIdentityConfig(defaults, file models.IdentityConfig, cli http.Header) models.IdentityConfig {
	result := models.IdentityConfig{
		UserAgents:      defaults.UserAgents,
		AcceptLanguages: defaults.AcceptLanguages,
		Viewports:       defaults.Viewports,
		Headers:         make(map[string]string),
	}

	if len(file.UserAgents) > 0 {
		result.UserAgents = file.UserAgents
	}
	if len(file.AcceptLanguages) > 0 {
		result.AcceptLanguages = file.AcceptLanguages
	}
	if len(file.Viewports) > 0 {
		result.Viewports = file.Viewports
	}

	// 头部名统一为规范形式,后写入的覆盖先写入的
	for name, value := range defaults.Headers {
		result.Headers[http.CanonicalHeaderKey(name)] = value
	}
	for name, value := range file.Headers {
		result.Headers[http.CanonicalHeaderKey(name)] = value
	}

	for name := range cli {
		value := cli.Get(name)
		switch http.CanonicalHeaderKey(name) {
		case "User-Agent":
			result.UserAgents = []string{value}
		case "Accept-Language":
			result.AcceptLanguages = []string{value}
		default:
			result.Headers[http.CanonicalHeaderKey(name)] = value
		}
	}

	return result
}

// Next 实现 IdentityProvider 接口
// 按轮询方式组合User-Agent、语言和视口
func (im *IdentityManager) Next() (models.Identity, error) {
	if err := im.LoadConfig(); err != nil {
		return models.Identity{}, err
	}

	im.mu.Lock()
	defer im.mu.Unlock()

	cfg := im.merged
	i := im.next
	im.next++

	id := models.Identity{
		UserAgent: cfg.UserAgents[i%len(cfg.UserAgents)],
		Viewport:  cfg.Viewports[i%len(cfg.Viewports)],
		Headers:   make(http.Header),
	}
	if len(cfg.AcceptLanguages) > 0 {
		id.AcceptLanguage = cfg.AcceptLanguages[i%len(cfg.AcceptLanguages)]
	}
	for name, value := range cfg.Headers {
		id.Headers.Set(name, value)
	}
	return id, nil
}

// Config 返回合并后的身份配置
func (im *IdentityManager) Config() (models.IdentityConfig, error) {
	if err := im.LoadConfig(); err != nil {
		return models.IdentityConfig{}, err
	}
	im.mu.Lock()
	defer im.mu.Unlock()
	return *im.merged, nil
}

// SafeHeaders 返回脱敏后的额外头部 (用于日志)
func (im *IdentityManager) SafeHeaders() (map[string]string, error) {
	cfg, err := im.Config()
	if err != nil {
		return nil, err
	}
	return im.redactor.RedactHeaders(headerMap(cfg.Headers)), nil
}

func headerMap(m map[string]string) http.Header {
	h := make(http.Header, len(m))
	for name, value := range m {
		h.Set(name, value)
	}
	return h
}

// String 用于调试输出
func (im *IdentityManager) String() string {
	cfg, err := im.Config()
	if err != nil {
		return fmt.Sprintf("IdentityManager(未加载: %v)", err)
	}
	return fmt.Sprintf("IdentityManager(ua=%d, lang=%d, viewport=%d)",
		len(cfg.UserAgents), len(cfg.AcceptLanguages), len(cfg.Viewports))
}
