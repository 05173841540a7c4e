package crawlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/hperocheau/scraping-pkm/internal/models"
	"github.com/jarcoal/httpmock"
)

const staticPageURL = "https://site.test/fr/sv1/cards?page=1"

func newMockedFetcher(responder httpmock.Responder) (*StaticFetcher, *httpmock.MockTransport) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", staticPageURL, responder)

	f := NewStaticFetcher(NewExtractor(DefaultSelectors()), StaticFetcherConfig{Timeout: 5 * time.Second})
	f.WithTransport(transport)
	return f, transport
}

func testSession() *Session {
	return &Session{
		ID: "sess-test",
		Identity: models.Identity{
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64)",
			AcceptLanguage: "fr-FR,fr;q=0.9",
		},
	}
}

func withHeader(status int, body []byte, key, value string) httpmock.Responder {
	return func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewBytesResponse(status, body)
		resp.Header.Set(key, value)
		return resp, nil
	}
}

func TestStaticFetcher_Success(t *testing.T) {
	var gotUA, gotLang string
	responder := func(req *http.Request) (*http.Response, error) {
		gotUA = req.Header.Get("User-Agent")
		gotLang = req.Header.Get("Accept-Language")
		resp := httpmock.NewStringResponse(http.StatusOK, listingPageHTML)
		resp.Header.Set("Set-Cookie", "sid=abc123; Path=/")
		return resp, nil
	}
	f, transport := newMockedFetcher(responder)

	s := testSession()
	content, err := f.Fetch(context.Background(), s, staticPageURL, 1)
	if err != nil {
		t.Fatalf("抓取失败: %v", err)
	}
	if len(content.Records) != 2 {
		t.Errorf("期望2条记录, 实际 %d", len(content.Records))
	}
	if gotUA != s.Identity.UserAgent || gotLang != s.Identity.AcceptLanguage {
		t.Errorf("身份头部未应用: UA=%q Lang=%q", gotUA, gotLang)
	}
	if transport.GetTotalCallCount() != 1 {
		t.Errorf("期望1次请求, 实际 %d", transport.GetTotalCallCount())
	}

	found := false
	for _, c := range s.Cookies() {
		if c.Name == "sid" && c.Value == "abc123" {
			found = true
		}
	}
	if !found {
		t.Errorf("响应Cookie未同步到会话: %+v", s.Cookies())
	}
}

func TestStaticFetcher_Brotli(t *testing.T) {
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write([]byte(listingPageHTML)); err != nil {
		t.Fatalf("压缩失败: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("压缩失败: %v", err)
	}

	f, _ := newMockedFetcher(withHeader(http.StatusOK, buf.Bytes(), "Content-Encoding", "br"))
	content, err := f.Fetch(context.Background(), testSession(), staticPageURL, 1)
	if err != nil {
		t.Fatalf("抓取失败: %v", err)
	}
	if len(content.Records) != 2 {
		t.Errorf("期望解压后抽取2条记录, 实际 %d", len(content.Records))
	}
}

func TestStaticFetcher_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		check     func(t *testing.T, content *PageContent, err error)
	}{
		{
			name:      "429限流",
			responder: withHeader(http.StatusTooManyRequests, nil, "Retry-After", "7"),
			check: func(t *testing.T, _ *PageContent, err error) {
				var limited *models.RateLimitedError
				if !errors.As(err, &limited) {
					t.Fatalf("期望 RateLimitedError, 实际 %v", err)
				}
				if limited.RetryAfter != 7*time.Second {
					t.Errorf("Retry-After 解析错误: %v", limited.RetryAfter)
				}
			},
		},
		{
			name:      "403封禁",
			responder: httpmock.NewStringResponder(http.StatusForbidden, ""),
			check: func(t *testing.T, _ *PageContent, err error) {
				if models.Classify(err) != "blocked" {
					t.Fatalf("期望 blocked, 实际 %v", err)
				}
			},
		},
		{
			name:      "404视为空页",
			responder: httpmock.NewStringResponder(http.StatusNotFound, "not found"),
			check: func(t *testing.T, content *PageContent, err error) {
				if err != nil {
					t.Fatalf("404不应报错: %v", err)
				}
				if len(content.Records) != 0 {
					t.Errorf("期望空页, 实际 %d 条", len(content.Records))
				}
			},
		},
		{
			name:      "502瞬时错误",
			responder: httpmock.NewStringResponder(http.StatusBadGateway, ""),
			check: func(t *testing.T, _ *PageContent, err error) {
				var transient *models.TransientError
				if !errors.As(err, &transient) || transient.StatusCode != http.StatusBadGateway {
					t.Fatalf("期望502瞬时错误, 实际 %v", err)
				}
			},
		},
		{
			name:      "连接失败",
			responder: httpmock.NewErrorResponder(errors.New("connection refused")),
			check: func(t *testing.T, _ *PageContent, err error) {
				if models.Classify(err) != "transient" {
					t.Fatalf("期望 transient, 实际 %s (%v)", models.Classify(err), err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := newMockedFetcher(tt.responder)
			content, err := f.Fetch(context.Background(), testSession(), staticPageURL, 1)
			tt.check(t, content, err)
		})
	}
}

func TestDecompressResponse(t *testing.T) {
	plain := []byte("<html></html>")

	t.Run("未压缩原样返回", func(t *testing.T) {
		got, err := decompressResponse("", plain)
		if err != nil || !bytes.Equal(got, plain) {
			t.Fatalf("期望原样返回, 实际 %q, %v", got, err)
		}
	})

	t.Run("gzip数据损坏返回错误", func(t *testing.T) {
		if _, err := decompressResponse("gzip", plain); err == nil {
			t.Fatal("期望返回错误")
		}
	})

	t.Run("未知编码原样返回", func(t *testing.T) {
		got, err := decompressResponse("zstd", plain)
		if err != nil || !bytes.Equal(got, plain) {
			t.Fatalf("期望原样返回, 实际 %q, %v", got, err)
		}
	})
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"30", 30 * time.Second},
		{"-1", 0},
		{"invalid", 0},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if got := parseRetryAfter(tt.value); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, 期望 %v", tt.value, got, tt.want)
			}
		})
	}
}
