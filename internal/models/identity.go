package models

import (
	"fmt"
	"net/http"
	"strings"
)

// Viewport 浏览器视口尺寸
type Viewport struct {
	Width  int `mapstructure:"width" yaml:"width" json:"width"`
	Height int `mapstructure:"height" yaml:"height" json:"height"`
}

// IdentityConfig 表示identities.yaml配置文件的结构
type IdentityConfig struct {
	// UserAgents 轮换使用的User-Agent列表
	UserAgents []string `mapstructure:"user_agents" yaml:"user_agents"`

	// AcceptLanguages 轮换使用的Accept-Language列表
	AcceptLanguages []string `mapstructure:"accept_languages" yaml:"accept_languages"`

	// Viewports 轮换使用的视口尺寸
	Viewports []Viewport `mapstructure:"viewports" yaml:"viewports"`

	// Headers 每个身份都会附带的额外头部
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
}

// Identity 一个抓取会话使用的浏览器身份
type Identity struct {
	UserAgent      string
	AcceptLanguage string
	Viewport       Viewport
	Headers        http.Header
}

// HTTPHeaders 返回该身份对应的完整请求头
func (id Identity) HTTPHeaders() http.Header {
	h := id.Headers.Clone()
	if h == nil {
		h = make(http.Header)
	}
	if id.UserAgent != "" {
		h.Set("User-Agent", id.UserAgent)
	}
	if id.AcceptLanguage != "" {
		h.Set("Accept-Language", id.AcceptLanguage)
	}
	return h
}

// IdentityProvider 身份提供者
// 会话池每新建或轮换一个会话就调用一次 Next
type IdentityProvider interface {
	Next() (Identity, error)
}

// CliHeaders 表示命令行传递的头部列表
// 每个字符串格式为 "Name: Value"
type CliHeaders []string

// Parse 将字符串列表解析为 http.Header
func (ch CliHeaders) Parse() (http.Header, error) {
	result := make(http.Header)
	for i, s := range ch {
		name, value, err := parseHeaderString(s)
		if err != nil {
			return nil, fmt.Errorf("参数 --header 第%d项格式错误: %w", i+1, err)
		}
		result.Set(name, value)
	}
	return result, nil
}

func parseHeaderString(s string) (name, value string, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("格式错误: 缺少冒号分隔符,应为 'Name: Value'")
	}

	name = strings.TrimSpace(parts[0])
	value = strings.TrimSpace(parts[1])

	if name == "" {
		return "", "", fmt.Errorf("头部名称不能为空")
	}

	return name, value, nil
}
