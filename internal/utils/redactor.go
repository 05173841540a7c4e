package utils

import (
	"net/http"
	"strings"

	"github.com/hperocheau/scraping-pkm/internal/models"
)

// SensitiveKeywords 名称包含这些关键字的头部值在日志中脱敏
var SensitiveKeywords = []string{
	"authorization",
	"token",
	"key",
	"secret",
	"password",
	"credential",
	"cookie",
	"session",
	"clearance",
}

// Redactor 日志脱敏
// 额外头部按名称关键字判断,会话Cookie的值一律视为敏感
type Redactor struct {
	keywords []string
}

// NewRedactor 创建脱敏器
func NewRedactor() *Redactor {
	return &Redactor{keywords: SensitiveKeywords}
}

// IsSensitive 头部名称是否命中敏感关键字
func (r *Redactor) IsSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, keyword := range r.keywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// mask Bearer令牌只留前缀,长值保留首尾4位,短值完全隐藏
func mask(value string) string {
	switch {
	case strings.HasPrefix(value, "Bearer "):
		return "Bearer ***"
	case len(value) > 8:
		return value[:4] + "***" + value[len(value)-4:]
	default:
		return "***"
	}
}

// RedactValue 脱敏单个头部值,非敏感头部原样返回
func (r *Redactor) RedactValue(name, value string) string {
	if !r.IsSensitive(name) {
		return value
	}
	return mask(value)
}

// RedactHeaders 返回可直接写入日志的头部,每个头部只取第一个值
func (r *Redactor) RedactHeaders(headers http.Header) map[string]string {
	result := make(map[string]string, len(headers))
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		result[name] = r.RedactValue(name, values[0])
	}
	return result
}

// RedactCookies 返回 名称 -> 脱敏值
func (r *Redactor) RedactCookies(cookies []models.Cookie) map[string]string {
	result := make(map[string]string, len(cookies))
	for _, c := range cookies {
		result[c.Name] = mask(c.Value)
	}
	return result
}
