package crawlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/hperocheau/scraping-pkm/internal/models"
	"github.com/hperocheau/scraping-pkm/internal/utils"
	"github.com/rs/zerolog/log"
)

// Session 一个抓取会话
// 持有一个浏览器身份,动态抓取时还持有一个rod页面;Cookie在会话存续期间保留
type Session struct {
	ID        string
	Identity  models.Identity
	Page      *rod.Page
	CreatedAt time.Time

	mu        sync.Mutex
	cookies   []models.Cookie
	ops       int
	broken    error
	destroyed bool
}

// Cookies 返回会话当前的Cookie副本
func (s *Session) Cookies() []models.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Cookie(nil), s.cookies...)
}

// SetCookies 由抓取器在每次请求后同步
func (s *Session) SetCookies(cookies []models.Cookie) {
	s.mu.Lock()
	s.cookies = cookies
	s.mu.Unlock()
}

// Ops 已完成的操作次数
func (s *Session) Ops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops
}

// MarkBroken 标记会话不可复用,归还时销毁
func (s *Session) MarkBroken(reason error) {
	s.mu.Lock()
	if s.broken == nil {
		s.broken = reason
	}
	s.mu.Unlock()
}

// SessionFactory 创建会话所需的底层资源
type SessionFactory interface {
	// Create 用给定身份和初始Cookie创建会话
	Create(ctx context.Context, identity models.Identity, cookies []models.Cookie) (*Session, error)
	// Destroy 释放会话资源
	Destroy(s *Session) error
}

// SessionPoolConfig 会话池配置
type SessionPoolConfig struct {
	MaxSessions int
	RotateEvery int    // 每个会话最多使用多少次后轮换,0表示不轮换
	CookieFile  string // Cookie持久化文件,为空时不持久化
}

// SessionPool 会话池
// 显式的生命周期: Open → Acquire/Release → Close
type SessionPool struct {
	factory    SessionFactory
	identities models.IdentityProvider
	monitor    *ResourceMonitor
	config     SessionPoolConfig

	idle chan *Session

	mu      sync.Mutex
	live    map[string]*Session
	pending int // 正在创建中的会话数
	wake    chan struct{}
	jar     models.CookieJar
	opened  bool
	closed  bool

	created int
	rotated int
}

// NewSessionPool 创建会话池,monitor 可以为nil
func NewSessionPool(factory SessionFactory, identities models.IdentityProvider, monitor *ResourceMonitor, config SessionPoolConfig) *SessionPool {
	if config.MaxSessions <= 0 {
		config.MaxSessions = 3
	}
	return &SessionPool{
		factory:    factory,
		identities: identities,
		monitor:    monitor,
		config:     config,
		idle:       make(chan *Session, config.MaxSessions),
		live:       make(map[string]*Session),
		wake:       make(chan struct{}),
	}
}

// Open 加载持久化的Cookie
func (p *SessionPool) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return models.ErrPoolClosed
	}
	if p.opened {
		return nil
	}

	if p.config.CookieFile != "" {
		jar, err := models.LoadCookieJar(p.config.CookieFile)
		if err != nil {
			log.Warn().Err(err).Str("file", p.config.CookieFile).Msg("加载Cookie失败,使用空会话")
			jar = models.CookieJar{}
		}
		p.jar = jar
		log.Info().Int("cookies", len(jar)).Msg("已加载会话Cookie")
		log.Debug().Interface("values", utils.NewRedactor().RedactCookies(jar)).Msg("会话Cookie(已脱敏)")
	}
	p.opened = true
	return ctx.Err()
}

func (p *SessionPool) limitLocked() int {
	limit := p.config.MaxSessions
	if p.monitor != nil {
		if m := p.monitor.CalculateMaxSessions(); m < limit {
			limit = m
		}
	}
	return limit
}

// Acquire 获取一个会话
// 优先复用空闲会话;未达上限时新建;否则阻塞直到有会话归还或ctx结束
func (p *SessionPool) Acquire(ctx context.Context) (*Session, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, models.ErrPoolClosed
		}
		if !p.opened {
			p.mu.Unlock()
			return nil, fmt.Errorf("会话池尚未打开")
		}

		select {
		case s := <-p.idle:
			p.mu.Unlock()
			return s, nil
		default:
		}

		size := len(p.live) + p.pending
		canCreate := size < p.limitLocked()
		if canCreate && size > 0 && p.monitor != nil {
			if ok, reason := p.monitor.CheckResourceAvailability(); !ok {
				log.Warn().Str("reason", reason).Msg("资源不足,等待空闲会话")
				canCreate = false
			}
		}

		if canCreate {
			p.pending++
			cookies := append([]models.Cookie(nil), p.jar...)
			p.mu.Unlock()
			return p.create(ctx, cookies)
		}

		wake := p.wake
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case s, ok := <-p.idle:
			if !ok {
				return nil, models.ErrPoolClosed
			}
			return s, nil
		case <-wake:
		}
	}
}

func (p *SessionPool) create(ctx context.Context, cookies []models.Cookie) (*Session, error) {
	identity, err := p.identities.Next()
	if err == nil {
		var s *Session
		s, err = p.factory.Create(ctx, identity, cookies)
		if err == nil {
			if s.ID == "" {
				s.ID = models.NewSessionID()
			}
			s.Identity = identity
			s.CreatedAt = time.Now()
			if s.cookies == nil {
				s.cookies = cookies
			}

			p.mu.Lock()
			p.pending--
			if p.closed {
				p.mu.Unlock()
				p.destroy(s)
				return nil, models.ErrPoolClosed
			}
			p.live[s.ID] = s
			p.created++
			size := len(p.live)
			p.mu.Unlock()

			log.Debug().
				Str("session", s.ID).
				Str("user_agent", identity.UserAgent).
				Int("size", size).
				Msg("创建新会话")
			return s, nil
		}
	}

	p.mu.Lock()
	p.pending--
	p.notifyLocked()
	p.mu.Unlock()
	return nil, fmt.Errorf("创建会话失败: %w", err)
}

// Release 归还会话
// 会话被标记为损坏或达到轮换次数时销毁,下一次 Acquire 会用新身份创建
func (p *SessionPool) Release(s *Session) {
	if s == nil {
		return
	}

	s.mu.Lock()
	s.ops++
	ops := s.ops
	broken := s.broken
	cookies := s.cookies
	s.mu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.destroy(s)
		return
	}
	p.jar = p.jar.Merge(cookies)

	rotate := p.config.RotateEvery > 0 && ops >= p.config.RotateEvery
	if broken != nil || rotate {
		delete(p.live, s.ID)
		if rotate && broken == nil {
			p.rotated++
		}
		p.notifyLocked()
		p.mu.Unlock()

		if broken != nil {
			log.Warn().Err(broken).Str("session", s.ID).Msg("会话已损坏,销毁")
		} else {
			log.Info().Str("session", s.ID).Int("ops", ops).Msg("会话达到轮换次数,更换身份")
		}
		p.destroy(s)
		return
	}

	select {
	case p.idle <- s:
		p.mu.Unlock()
	default:
		delete(p.live, s.ID)
		p.notifyLocked()
		p.mu.Unlock()
		p.destroy(s)
	}
}

// notifyLocked 唤醒所有等待容量的 Acquire
func (p *SessionPool) notifyLocked() {
	close(p.wake)
	p.wake = make(chan struct{})
}

func (p *SessionPool) destroy(s *Session) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.mu.Unlock()

	if err := p.factory.Destroy(s); err != nil {
		log.Warn().Err(err).Str("session", s.ID).Msg("销毁会话失败")
	}
}

// Size 当前存活的会话数
func (p *SessionPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Stats 返回累计创建和轮换的会话数
func (p *SessionPool) Stats() (created, rotated int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created, p.rotated
}

// Close 销毁所有会话并保存Cookie
func (p *SessionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	sessions := make([]*Session, 0, len(p.live))
	for _, s := range p.live {
		sessions = append(sessions, s)
		p.jar = p.jar.Merge(s.Cookies())
	}
	p.live = make(map[string]*Session)
	jar := p.jar
	close(p.idle)
	p.notifyLocked()
	p.mu.Unlock()

	for _, s := range sessions {
		p.destroy(s)
	}

	if p.config.CookieFile != "" {
		if err := jar.SaveToFile(p.config.CookieFile); err != nil {
			return fmt.Errorf("保存Cookie失败: %w", err)
		}
		log.Info().Int("cookies", len(jar)).Str("file", p.config.CookieFile).Msg("会话Cookie已保存")
	}

	log.Info().Int("sessions", len(sessions)).Msg("会话池已关闭")
	return nil
}
