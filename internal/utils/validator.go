package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hperocheau/scraping-pkm/internal/models"
)

const (
	// MaxHeaderValueLength 身份头部值最大长度 (8KB)
	MaxHeaderValueLength = 8192
)

var (
	headerNamePattern  = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	headerValuePattern = regexp.MustCompile(`^[\x20-\x7E\t]*$`)
)

// headerOwner 头部由谁负责填写
type headerOwner int

const (
	ownerUser     headerOwner = iota // 可以写在 identities.yaml 的 headers 里
	ownerClient                      // HTTP客户端或浏览器自动维护
	ownerIdentity                    // 身份轮换或会话池维护
)

var managedHeaders = map[string]headerOwner{
	"host":              ownerClient,
	"content-length":    ownerClient,
	"transfer-encoding": ownerClient,
	"connection":        ownerClient,
	"user-agent":        ownerIdentity,
	"accept-language":   ownerIdentity,
	"cookie":            ownerIdentity,
}

// IdentityValidator 校验身份池配置
// 头部名称和值遵循RFC 7230;由客户端、身份轮换或会话池维护的头部不能手工配置
type IdentityValidator struct {
	maxValueLength int
}

// NewIdentityValidator 创建身份配置校验器
func NewIdentityValidator() *IdentityValidator {
	return &IdentityValidator{maxValueLength: MaxHeaderValueLength}
}

// ValidateHeader 校验一个将随请求发送的头部
// 轮换列表中的 User-Agent / Accept-Language 也走这里
func (v *IdentityValidator) ValidateHeader(name, value string) error {
	if managedHeaders[strings.ToLower(name)] == ownerClient {
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     "此头部由HTTP客户端自动管理,不允许自定义",
			Suggestion: fmt.Sprintf("移除 '%s' 头部配置", name),
		}
	}

	if name == "" || !headerNamePattern.MatchString(name) {
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     "头部名称为空或包含非法字符 (仅允许字母、数字和连字符)",
			Suggestion: "使用字母、数字和连字符 (如 'Accept', 'X-Custom-Header')",
		}
	}

	if len(value) > v.maxValueLength {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     fmt.Sprintf("头部值过长: %d 字节 (最大 %d)", len(value), v.maxValueLength),
			Suggestion: fmt.Sprintf("将值缩短至 %d 字节以内", v.maxValueLength),
		}
	}
	if !headerValuePattern.MatchString(value) {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     "头部值包含非法字符 (仅允许可打印ASCII字符)",
			Suggestion: "移除控制字符和非ASCII字符",
		}
	}
	return nil
}

// ValidateExtraHeader 校验 headers 段里的额外头部
func (v *IdentityValidator) ValidateExtraHeader(name, value string) error {
	if managedHeaders[strings.ToLower(name)] == ownerIdentity {
		return &models.ValidationError{
			Field:      "headers",
			HeaderName: name,
			Reason:     "此头部由身份轮换管理",
			Suggestion: "在 user_agents / accept_languages 中配置,Cookie由会话池维护",
		}
	}
	return v.ValidateHeader(name, value)
}

// ValidateIdentityConfig 校验合并后的身份池
// 至少一个非空User-Agent,视口尺寸为正
func (v *IdentityValidator) ValidateIdentityConfig(cfg models.IdentityConfig) error {
	if len(cfg.UserAgents) == 0 {
		return &models.ValidationError{
			Field:      "user_agents",
			HeaderName: "User-Agent",
			Reason:     "至少需要配置一个User-Agent",
		}
	}
	for _, ua := range cfg.UserAgents {
		if strings.TrimSpace(ua) == "" {
			return &models.ValidationError{Field: "user_agents", HeaderName: "User-Agent", Reason: "User-Agent不能为空"}
		}
		if err := v.ValidateHeader("User-Agent", ua); err != nil {
			return err
		}
	}
	for _, lang := range cfg.AcceptLanguages {
		if err := v.ValidateHeader("Accept-Language", lang); err != nil {
			return err
		}
	}
	for i, vp := range cfg.Viewports {
		if vp.Width <= 0 || vp.Height <= 0 {
			return &models.ValidationError{
				Field:      "viewports",
				HeaderName: fmt.Sprintf("viewports[%d]", i),
				Reason:     fmt.Sprintf("视口尺寸无效: %dx%d", vp.Width, vp.Height),
			}
		}
	}

	for name, value := range cfg.Headers {
		if err := v.ValidateExtraHeader(name, value); err != nil {
			return err
		}
	}
	return nil
}
