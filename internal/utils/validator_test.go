package utils

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hperocheau/scraping-pkm/internal/models"
)

func TestIdentityValidator_ValidateHeader(t *testing.T) {
	validator := NewIdentityValidator()

	tests := []struct {
		name        string
		headerName  string
		headerValue string
		extra       bool
		expectField string
	}{
		{"合法头部", "Accept", "text/html", false, ""},
		{"合法名称-数字", "X-Request-ID-123", "1", false, ""},
		{"非法名称-空格", "User Agent", "x", false, "name"},
		{"非法名称-下划线", "User_Agent", "x", false, "name"},
		{"非法名称-空字符串", "", "x", false, "name"},
		{"禁止头部-Host", "Host", "example.com", false, "name"},
		{"禁止头部-大小写不敏感", "content-length", "123", false, "name"},
		{"非法值-超长", "X-TooLong", strings.Repeat("a", MaxHeaderValueLength+1), false, "value"},
		{"非法值-控制字符", "X-Bad", "value\x00with\x01null", false, "value"},
		{"非法值-非ASCII", "X-Lang", "français", false, "value"},
		{"轮换头部可以发送", "User-Agent", "Mozilla/5.0", false, ""},
		{"额外头部不能覆盖轮换头部", "Accept-Language", "fr", true, "headers"},
		{"额外头部禁止项", "Connection", "keep-alive", true, "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.extra {
				err = validator.ValidateExtraHeader(tt.headerName, tt.headerValue)
			} else {
				err = validator.ValidateHeader(tt.headerName, tt.headerValue)
			}
			if tt.expectField == "" {
				if err != nil {
					t.Errorf("期望通过, 实际 %v", err)
				}
				return
			}
			var verr *models.ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.expectField {
				t.Errorf("期望字段 %s 的 ValidationError, 实际 %v", tt.expectField, err)
			}
		})
	}
}

func TestIdentityValidator_ValidateIdentityConfig(t *testing.T) {
	validator := NewIdentityValidator()
	valid := func() models.IdentityConfig {
		return models.IdentityConfig{
			UserAgents:      []string{"Mozilla/5.0 (X11; Linux x86_64)"},
			AcceptLanguages: []string{"fr-FR,fr;q=0.9"},
			Viewports:       []models.Viewport{{Width: 1920, Height: 1080}},
			Headers:         map[string]string{"Accept": "text/html"},
		}
	}

	tests := []struct {
		name        string
		mutate      func(c *models.IdentityConfig)
		expectField string
	}{
		{"合法配置", func(c *models.IdentityConfig) {}, ""},
		{"缺少User-Agent", func(c *models.IdentityConfig) { c.UserAgents = nil }, "user_agents"},
		{"空白User-Agent", func(c *models.IdentityConfig) { c.UserAgents = []string{"  "} }, "user_agents"},
		{"视口无效", func(c *models.IdentityConfig) { c.Viewports = []models.Viewport{{Width: 0, Height: 800}} }, "viewports"},
		{"额外头部覆盖Cookie", func(c *models.IdentityConfig) { c.Headers["cookie"] = "a=b" }, "headers"},
		{"额外头部覆盖User-Agent", func(c *models.IdentityConfig) { c.Headers["User-Agent"] = "bot" }, "headers"},
		{"额外头部禁止项", func(c *models.IdentityConfig) { c.Headers["Host"] = "x" }, "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := validator.ValidateIdentityConfig(cfg)
			if tt.expectField == "" {
				if err != nil {
					t.Fatalf("期望通过, 实际 %v", err)
				}
				return
			}
			var verr *models.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("期望 ValidationError, 实际 %v", err)
			}
			if verr.Field != tt.expectField {
				t.Errorf("期望字段 %s, 实际 %s", tt.expectField, verr.Field)
			}
		})
	}
}

func TestRedactor(t *testing.T) {
	redactor := NewRedactor()

	tests := []struct {
		name   string
		header string
		value  string
		want   string
	}{
		{"普通头部不脱敏", "Accept", "text/html", "text/html"},
		{"Bearer令牌", "Authorization", "Bearer secret-token", "Bearer ***"},
		{"长密钥保留首尾", "X-API-Key", "abcd1234efgh5678", "abcd***5678"},
		{"短密钥完全隐藏", "X-Token", "short", "***"},
		{"Cookie头部", "Cookie", "cf_clearance=0123456789", "cf_c***6789"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactor.RedactValue(tt.header, tt.value); got != tt.want {
				t.Errorf("期望 %q, 实际 %q", tt.want, got)
			}
		})
	}

	t.Run("额外头部整体脱敏", func(t *testing.T) {
		got := redactor.RedactHeaders(http.Header{
			"Accept":    {"text/html"},
			"X-Api-Key": {"abcd1234efgh5678"},
		})
		if got["Accept"] != "text/html" || got["X-Api-Key"] != "abcd***5678" {
			t.Errorf("头部脱敏结果错误: %v", got)
		}
	})

	t.Run("Cookie值一律脱敏", func(t *testing.T) {
		got := redactor.RedactCookies([]models.Cookie{
			{Name: "cf_clearance", Value: "0123456789abcdef"},
			{Name: "lang", Value: "fr"},
		})
		if got["cf_clearance"] != "0123***cdef" || got["lang"] != "***" {
			t.Errorf("Cookie脱敏结果错误: %v", got)
		}
	})
}

func TestReadListingIDsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.txt")
	content := "# 本周需要重扫的系列\nsv1\n\nsv2\nsv1\ninvalid id\n  sv3.5  \n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}

	ids, err := ReadListingIDsFromFile(path)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	want := []string{"sv1", "sv2", "sv3.5"}
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Errorf("期望 %v, 实际 %v", want, ids)
	}

	t.Run("文件没有有效ID", func(t *testing.T) {
		empty := filepath.Join(t.TempDir(), "empty.txt")
		if err := os.WriteFile(empty, []byte("# 空\n"), 0644); err != nil {
			t.Fatalf("写入文件失败: %v", err)
		}
		if _, err := ReadListingIDsFromFile(empty); err == nil {
			t.Error("期望返回错误")
		}
	})
}

func TestSplitList(t *testing.T) {
	got := SplitList([]string{"sv1, sv2", "", "swsh12,"})
	if strings.Join(got, "|") != "sv1|sv2|swsh12" {
		t.Errorf("拆分结果错误: %v", got)
	}
}
