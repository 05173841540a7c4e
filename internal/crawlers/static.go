package crawlers

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
	"github.com/hperocheau/scraping-pkm/internal/models"
	"github.com/rs/zerolog/log"
)

// StaticFetcherConfig 静态抓取配置
type StaticFetcherConfig struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// StaticFetcher 静态抓取器(使用Colly)
// 每次抓取创建一个同步collector,身份头部和Cookie来自会话
type StaticFetcher struct {
	extractor *Extractor
	config    StaticFetcherConfig
	transport http.RoundTripper
}

// NewStaticFetcher 创建静态抓取器
func NewStaticFetcher(extractor *Extractor, config StaticFetcherConfig) *StaticFetcher {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &StaticFetcher{
		extractor: extractor,
		config:    config,
		transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: config.InsecureSkipVerify},
		},
	}
}

// WithTransport 替换底层传输,测试中用于注入httpmock
func (f *StaticFetcher) WithTransport(rt http.RoundTripper) {
	f.transport = rt
}

// Fetch 抓取一页并抽取记录
func (f *StaticFetcher) Fetch(ctx context.Context, s *Session, pageURL string, page int) (*PageContent, error) {
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
		colly.UserAgent(s.Identity.UserAgent),
	)
	c.WithTransport(f.transport)
	c.SetRequestTimeout(f.config.Timeout)

	if cookies := s.Cookies(); len(cookies) > 0 {
		if err := c.SetCookies(pageURL, toHTTPCookies(cookies)); err != nil {
			log.Debug().Err(err).Str("session", s.ID).Msg("写入会话Cookie失败")
		}
	}

	headers := s.Identity.HTTPHeaders()
	c.OnRequest(func(r *colly.Request) {
		for name, values := range headers {
			if len(values) > 0 {
				r.Headers.Set(name, values[0])
			}
		}
		r.Headers.Set("Accept-Encoding", "gzip, deflate, br")
	})

	var (
		content  *PageContent
		fetchErr error
	)

	c.OnResponse(func(r *colly.Response) {
		body := r.Body
		encoding := r.Headers.Get("Content-Encoding")
		decompressed, err := decompressResponse(encoding, body)
		if err != nil {
			// colly 已经处理过gzip时再次解压会失败,此时使用原始内容
			log.Debug().Err(err).Str("url", pageURL).Str("encoding", encoding).Msg("解压响应失败,使用原始内容")
		} else {
			body = decompressed
		}
		content, fetchErr = f.extractor.Extract(pageURL, body, page)
	})

	c.OnError(func(r *colly.Response, err error) {
		status := 0
		var headers *http.Header
		if r != nil {
			status = r.StatusCode
			headers = r.Headers
		}
		if status == http.StatusNotFound {
			// 超出末页的页码按空页处理
			content = &PageContent{URL: pageURL}
			return
		}
		fetchErr = classifyHTTPError(pageURL, status, headers, err)
	})

	if err := c.Visit(pageURL); err != nil && fetchErr == nil && content == nil {
		fetchErr = classifyHTTPError(pageURL, 0, nil, err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if fetchErr != nil {
		return nil, fetchErr
	}
	if content == nil {
		return nil, &models.TransientError{URL: pageURL, Cause: errors.New("没有收到响应")}
	}

	s.SetCookies(fromHTTPCookies(c.Cookies(pageURL), s.Cookies()))
	return content, nil
}

// classifyHTTPError 将HTTP状态码映射为领域错误
func classifyHTTPError(pageURL string, status int, headers *http.Header, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		limited := &models.RateLimitedError{URL: pageURL, StatusCode: status}
		if headers != nil {
			limited.RetryAfter = parseRetryAfter(headers.Get("Retry-After"))
		}
		return limited
	case status == http.StatusForbidden:
		return &models.BlockedError{URL: pageURL, Reason: fmt.Sprintf("状态码 %d", status)}
	case errors.Is(err, context.Canceled):
		return err
	default:
		return &models.TransientError{URL: pageURL, StatusCode: status, Cause: err}
	}
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func toHTTPCookies(cookies []models.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HttpOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, hc)
	}
	return out
}

// fromHTTPCookies cookiejar 只返回名称和值,域和路径沿用会话中已有的同名Cookie
func fromHTTPCookies(cookies []*http.Cookie, known []models.Cookie) []models.Cookie {
	byName := make(map[string]models.Cookie, len(known))
	for _, c := range known {
		byName[c.Name] = c
	}
	out := make([]models.Cookie, 0, len(cookies))
	for _, hc := range cookies {
		c := byName[hc.Name]
		c.Name = hc.Name
		c.Value = hc.Value
		if hc.Domain != "" {
			c.Domain = hc.Domain
		}
		if hc.Path != "" {
			c.Path = hc.Path
		}
		if c.Path == "" {
			c.Path = "/"
		}
		out = append(out, c)
	}
	return out
}

// decompressResponse 根据Content-Encoding头部解压响应体
// 支持 gzip, deflate, br (Brotli) 三种压缩格式
func decompressResponse(contentEncoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip":
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()
		return io.ReadAll(reader)

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()
		return io.ReadAll(reader)

	case "br":
		decompressed, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("brotli读取失败: %w", err)
		}
		return decompressed, nil

	case "", "identity":
		return body, nil

	default:
		log.Warn().Str("encoding", contentEncoding).Msg("未知的Content-Encoding")
		return body, nil
	}
}

// StaticSessionFactory 静态抓取的会话只承载身份和Cookie
type StaticSessionFactory struct{}

// Create 创建会话
func (StaticSessionFactory) Create(_ context.Context, identity models.Identity, cookies []models.Cookie) (*Session, error) {
	s := &Session{Identity: identity}
	s.SetCookies(cookies)
	return s, nil
}

// Destroy 没有需要释放的资源
func (StaticSessionFactory) Destroy(*Session) error { return nil }
