package resilience

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hperocheau/scraping-pkm/internal/models"
	"github.com/rs/zerolog/log"
)

// ChallengeGate 人工验证挑战的挂起点
// 遇到挑战时写出诊断快照,然后阻塞直到操作员发出信号或超时
type ChallengeGate struct {
	dir     string
	timeout time.Duration
	signals <-chan struct{}
	metrics *Metrics

	mu           sync.Mutex
	lastResolved time.Time
	now          func() time.Time
	waiting      atomic.Bool
}

// NewChallengeGate 创建挑战闸门
// signals 由调用方提供(命令行从标准输入读取回车),可以为nil,此时只会超时
func NewChallengeGate(dir string, timeout time.Duration, signals <-chan struct{}, metrics *Metrics) *ChallengeGate {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &ChallengeGate{
		dir:     dir,
		timeout: timeout,
		signals: signals,
		metrics: metrics,
		now:     time.Now,
	}
}

// Await 等待挑战被人工解决
// 多个worker同时遇到挑战时串行等待,前一个等待期间收到的信号对后来者同样有效
func (g *ChallengeGate) Await(ctx context.Context, challenge *models.ChallengeError) error {
	arrived := g.now()
	g.metrics.IncChallenge("seen")

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lastResolved.After(arrived) {
		log.Info().Str("url", challenge.URL).Msg("验证挑战已在其他会话中解决")
		g.metrics.IncChallenge("resolved")
		return nil
	}

	paths, err := g.writeSnapshot(challenge)
	if err != nil {
		log.Warn().Err(err).Msg("写入诊断快照失败")
	}

	log.Warn().
		Str("url", challenge.URL).
		Strs("snapshot", paths).
		Dur("timeout", g.timeout).
		Msg("检测到验证挑战,请在浏览器中完成验证后按回车继续")

	// 没有挑战挂起时按下的回车不算确认
	if n := g.drainStale(); n > 0 {
		log.Debug().Int("signals", n).Msg("丢弃挑战出现前收到的操作员信号")
	}
	g.waiting.Store(true)
	defer g.waiting.Store(false)

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-g.signals:
		if !ok {
			g.metrics.IncChallenge("timeout")
			return fmt.Errorf("%w: 信号通道已关闭", models.ErrChallengeUnresolved)
		}
		g.lastResolved = g.now()
		g.metrics.IncChallenge("resolved")
		log.Info().Str("url", challenge.URL).Msg("收到操作员确认,继续抓取")
		return nil
	case <-timer.C:
		g.metrics.IncChallenge("timeout")
		return fmt.Errorf("%w: 等待 %s 超时", models.ErrChallengeUnresolved, g.timeout)
	}
}

// Waiting 是否有挑战正在等待操作员确认
func (g *ChallengeGate) Waiting() bool {
	return g.waiting.Load()
}

// drainStale 非阻塞地取走通道中已有的信号
func (g *ChallengeGate) drainStale() int {
	n := 0
	for {
		select {
		case _, ok := <-g.signals:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

// writeSnapshot 写出HTML和截图,返回写入的文件路径
func (g *ChallengeGate) writeSnapshot(challenge *models.ChallengeError) ([]string, error) {
	snap := challenge.Snapshot
	if snap == nil || g.dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(g.dir, 0755); err != nil {
		return nil, err
	}

	stamp := g.now().Format("20060102_150405.000")
	var paths []string

	if snap.HTML != "" {
		p := filepath.Join(g.dir, fmt.Sprintf("challenge_%s.html", stamp))
		if err := os.WriteFile(p, []byte(snap.HTML), 0644); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	if len(snap.Screenshot) > 0 {
		p := filepath.Join(g.dir, fmt.Sprintf("challenge_%s.png", stamp))
		if err := os.WriteFile(p, snap.Screenshot, 0644); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}
