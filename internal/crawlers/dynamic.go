package crawlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/hperocheau/scraping-pkm/internal/models"
	"github.com/rs/zerolog/log"
)

// DynamicConfig 浏览器抓取配置
type DynamicConfig struct {
	Headless           bool
	BrowserBin         string // 为空时由launcher自动下载或查找
	PageTimeout        time.Duration
	InsecureSkipVerify bool
}

// DynamicSessionFactory 每个会话一个独立的无痕浏览器上下文
// 浏览器进程在第一次创建会话时启动,所有会话共享
type DynamicSessionFactory struct {
	config DynamicConfig

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// NewDynamicSessionFactory 创建浏览器会话工厂
func NewDynamicSessionFactory(config DynamicConfig) *DynamicSessionFactory {
	if config.PageTimeout <= 0 {
		config.PageTimeout = 60 * time.Second
	}
	return &DynamicSessionFactory{config: config}
}

// launchBrowser 启动浏览器
func (f *DynamicSessionFactory) launchBrowser() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		return f.browser, nil
	}

	l := launcher.New().Headless(f.config.Headless)
	if f.config.BrowserBin != "" {
		l = l.Bin(f.config.BrowserBin)
	}
	if f.config.InsecureSkipVerify {
		l = l.Set("ignore-certificate-errors")
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("连接浏览器失败: %w", err)
	}

	log.Debug().Str("control_url", controlURL).Bool("headless", f.config.Headless).Msg("浏览器已启动")
	f.launcher = l
	f.browser = browser
	return browser, nil
}

// Create 创建带反检测脚本的页面并应用身份
func (f *DynamicSessionFactory) Create(ctx context.Context, identity models.Identity, cookies []models.Cookie) (*Session, error) {
	browser, err := f.launchBrowser()
	if err != nil {
		return nil, err
	}

	incognito, err := browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("创建无痕上下文失败: %w", err)
	}

	page, err := stealth.Page(incognito)
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("创建页面失败: %w", err)
	}

	if err := applyIdentity(page, identity); err != nil {
		_ = incognito.Close()
		return nil, err
	}

	if len(cookies) > 0 {
		if err := page.SetCookies(toRodCookies(cookies)); err != nil {
			log.Warn().Err(err).Msg("写入浏览器Cookie失败")
		}
	}

	s := &Session{Page: page, Identity: identity}
	s.SetCookies(cookies)
	return s, nil
}

func applyIdentity(page *rod.Page, identity models.Identity) error {
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      identity.UserAgent,
		AcceptLanguage: identity.AcceptLanguage,
	}); err != nil {
		return fmt.Errorf("设置User-Agent失败: %w", err)
	}

	if identity.Viewport.Width > 0 && identity.Viewport.Height > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             identity.Viewport.Width,
			Height:            identity.Viewport.Height,
			DeviceScaleFactor: 1,
		}); err != nil {
			return fmt.Errorf("设置视口失败: %w", err)
		}
	}

	var dict []string
	for name, values := range identity.Headers {
		if len(values) > 0 && http.CanonicalHeaderKey(name) != "User-Agent" {
			dict = append(dict, name, values[0])
		}
	}
	if len(dict) > 0 {
		if _, err := page.SetExtraHeaders(dict); err != nil {
			return fmt.Errorf("设置额外头部失败: %w", err)
		}
	}
	return nil
}

// Destroy 关闭会话的无痕上下文
func (f *DynamicSessionFactory) Destroy(s *Session) error {
	if s.Page == nil {
		return nil
	}
	return s.Page.Browser().Close()
}

// Close 关闭浏览器进程
func (f *DynamicSessionFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.launcher.Kill()
	f.browser = nil
	log.Debug().Msg("浏览器已关闭")
	return err
}

// DynamicFetcher 在会话的浏览器页面上渲染并抽取
type DynamicFetcher struct {
	extractor *Extractor
	timeout   time.Duration
}

// NewDynamicFetcher 创建浏览器抓取器
func NewDynamicFetcher(extractor *Extractor, timeout time.Duration) *DynamicFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &DynamicFetcher{extractor: extractor, timeout: timeout}
}

// Fetch 导航到页面,等待加载后抽取
func (f *DynamicFetcher) Fetch(ctx context.Context, s *Session, pageURL string, page int) (*PageContent, error) {
	if s.Page == nil {
		return nil, fmt.Errorf("会话 %s 没有浏览器页面", s.ID)
	}
	p := s.Page.Context(ctx).Timeout(f.timeout)

	status := 0
	waitDocument := p.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type == proto.NetworkResourceTypeDocument {
			status = e.Response.Status
			return true
		}
		return false
	})

	if err := p.Navigate(pageURL); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &models.TransientError{URL: pageURL, Cause: err}
	}
	waitDocument()

	switch {
	case status == http.StatusNotFound:
		return &PageContent{URL: pageURL}, nil
	case status == http.StatusTooManyRequests, status == http.StatusForbidden, status >= 500:
		return nil, classifyHTTPError(pageURL, status, nil, fmt.Errorf("状态码 %d", status))
	}

	if err := p.WaitLoad(); err != nil {
		log.Debug().Err(err).Str("url", pageURL).Msg("等待页面加载失败,继续抽取")
	}

	html, err := p.HTML()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &models.TransientError{URL: pageURL, Cause: err}
	}

	content, err := f.extractor.Extract(pageURL, []byte(html), page)
	if err != nil {
		var challenge *models.ChallengeError
		if errors.As(err, &challenge) && challenge.Snapshot != nil {
			if shot, shotErr := p.Screenshot(true, nil); shotErr == nil {
				challenge.Snapshot.Screenshot = shot
			}
		}
		return nil, err
	}

	if cookies, err := p.Cookies([]string{pageURL}); err == nil {
		s.SetCookies(fromRodCookies(cookies))
	}
	return content, nil
}

func toRodCookies(cookies []models.Cookie) []*proto.NetworkCookieParam {
	out := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			Expires:  proto.TimeSinceEpoch(c.Expires),
		})
	}
	return out
}

func fromRodCookies(cookies []*proto.NetworkCookie) []models.Cookie {
	out := make([]models.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return out
}
