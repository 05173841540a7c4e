package crawlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hperocheau/scraping-pkm/internal/models"
	"github.com/hperocheau/scraping-pkm/internal/resilience"
	"github.com/rs/zerolog/log"
)

// ScannerConfig 扫描器配置
type ScannerConfig struct {
	Workers   int           // 每个方向的并发worker数,默认3
	Stagger   time.Duration // 第i个worker启动前等待 i*Stagger
	PageParam string        // 模板没有 {page} 占位符时使用的查询参数
}

// ProgressFunc 每重组完一页调用一次
type ProgressFunc func(direction models.Direction, page int, records int)

// Scanner 双向分页扫描器
// 升序扫描覆盖 1..N;页数为估计值时,再从末端降序扫描,直到遇到升序最后一条记录(哨兵)
type Scanner struct {
	client   *PageClient
	config   ScannerConfig
	metrics  *resilience.Metrics
	progress ProgressFunc
}

// NewScanner 创建扫描器
func NewScanner(client *PageClient, config ScannerConfig, metrics *resilience.Metrics) *Scanner {
	if config.Workers <= 0 {
		config.Workers = 3
	}
	return &Scanner{client: client, config: config, metrics: metrics}
}

// OnProgress 设置进度回调
func (s *Scanner) OnProgress(fn ProgressFunc) {
	s.progress = fn
}

// sentinelKey 哨兵标识,优先使用行ID
func sentinelKey(rec models.RawItemRecord) string {
	if rec.RowID != "" {
		return rec.RowID
	}
	return rec.URL
}

// Scan 扫描一个系列
// 失败时返回已按序重组的连续页面记录以及错误,不支持断点续扫
func (s *Scanner) Scan(ctx context.Context, listing *models.Listing, count models.PageCount) (*models.ScanResult, error) {
	result := &models.ScanResult{}
	total := count.TotalPages
	if total < 1 {
		total = 1
	}

	// 升序
	asc := make([]PageTask, 0, total)
	for p := 1; p <= total; p++ {
		asc = append(asc, PageTask{Index: p - 1, Page: p, URL: models.PageURL(listing.CardsURL, p, s.config.PageParam)})
	}

	var lastPage []models.RawItemRecord
	ascPages, err := s.runPass(ctx, models.Ascending, asc, func(pr models.PageResult) ([]models.RawItemRecord, bool) {
		if len(pr.Records) == 0 {
			result.EndedOnEmptyPage = true
			return nil, true
		}
		lastPage = pr.Records
		return pr.Records, false
	})
	for _, pr := range ascPages {
		result.Records = append(result.Records, pr.Records...)
	}
	result.AscendingPages = len(ascPages)
	if err != nil {
		return result, fmt.Errorf("升序扫描失败: %w", err)
	}

	if !count.IsEstimate {
		return result, nil
	}
	if result.EndedOnEmptyPage {
		log.Info().Str("listing", listing.ID).Int("pages", result.AscendingPages).Msg("升序扫描提前遇到空页,跳过降序扫描")
		return result, nil
	}
	if len(lastPage) == 0 {
		return result, nil
	}

	sentinel := sentinelKey(lastPage[len(lastPage)-1])
	result.Sentinel = sentinel

	// 降序: 有倒序视图时从倒序第1页开始,否则在正序视图中从第N页往回
	desc := make([]PageTask, 0, total)
	reverseView := listing.ReverseCardsURL != ""
	for i := 0; i < total; i++ {
		if reverseView {
			desc = append(desc, PageTask{Index: i, Page: i + 1, URL: models.PageURL(listing.ReverseCardsURL, i+1, s.config.PageParam)})
		} else {
			p := total - i
			desc = append(desc, PageTask{Index: i, Page: p, URL: models.PageURL(listing.CardsURL, p, s.config.PageParam)})
		}
	}

	descEmpty := false
	descPages, err := s.runPass(ctx, models.Descending, desc, func(pr models.PageResult) ([]models.RawItemRecord, bool) {
		if len(pr.Records) == 0 {
			descEmpty = true
			return nil, true
		}
		// 统一成"从末端往回"的顺序
		ordered := pr.Records
		if !reverseView {
			ordered = reversed(pr.Records)
		}
		for i, rec := range ordered {
			if sentinelKey(rec) == sentinel {
				result.SentinelFound = true
				return ordered[:i], true
			}
		}
		return ordered, false
	})
	result.DescendingPages = len(descPages)

	var tail []models.RawItemRecord
	for _, pr := range descPages {
		tail = append(tail, pr.Records...)
	}
	// 降序记录翻转回正序后接在升序记录之后
	result.Records = append(result.Records, reversed(tail)...)

	if err != nil {
		return result, fmt.Errorf("降序扫描失败: %w", err)
	}
	if !result.SentinelFound {
		// 正序视图的 N..1 与升序覆盖相同页面;倒序视图走完 N 页时两端之间可能还有页面
		if reverseView && !descEmpty {
			result.Incomplete = true
			log.Warn().
				Str("listing", listing.ID).
				Str("sentinel", sentinel).
				Int("pages", result.DescendingPages).
				Msg("倒序扫描走完所有页面仍未遇到哨兵,系列可能未完整覆盖")
			return result, nil
		}
		log.Warn().Str("listing", listing.ID).Str("sentinel", sentinel).Msg("降序扫描未遇到哨兵,重复记录将在协调阶段合并")
	}
	return result, nil
}

// runPass 用worker池抓取一个方向的所有页面
// 结果按 Index 重组后依次交给 decide;decide 返回 halt=true 时取消剩余抓取
func (s *Scanner) runPass(
	ctx context.Context,
	direction models.Direction,
	tasks []PageTask,
	decide func(pr models.PageResult) ([]models.RawItemRecord, bool),
) ([]models.PageResult, error) {
	passCtx, cancel := context.WithCancel(ctx)

	queue := NewPageQueue(len(tasks))
	for _, task := range tasks {
		if err := queue.Push(task); err != nil {
			cancel()
			return nil, err
		}
	}
	queue.Close()

	results := make(chan models.PageResult, len(tasks))
	var wg sync.WaitGroup
	for w := 0; w < s.config.Workers && w < len(tasks); w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(passCtx, workerID, direction, queue, results)
		}(w)
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	pending := make(map[int]models.PageResult)
	assembled := make([]models.PageResult, 0, len(tasks))
	next := 0

	for next < len(tasks) {
		select {
		case <-ctx.Done():
			return assembled, ctx.Err()
		case pr := <-results:
			pending[pr.Index] = pr
		}

		for {
			pr, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++

			if pr.Err != nil {
				return assembled, fmt.Errorf("第%d页: %w", pr.Page, pr.Err)
			}

			keep, halt := decide(pr)
			pr.Records = keep
			assembled = append(assembled, pr)
			s.metrics.IncPage(string(direction))
			if s.progress != nil {
				s.progress(direction, pr.Page, len(keep))
			}
			if halt {
				log.Debug().
					Str("direction", string(direction)).
					Int("page", pr.Page).
					Int("cancelled", queue.PendingCount()).
					Msg("扫描方向结束,取消剩余页面")
				return assembled, nil
			}
		}
	}
	return assembled, nil
}

func (s *Scanner) worker(ctx context.Context, workerID int, direction models.Direction, queue *PageQueue, results chan<- models.PageResult) {
	if delay := time.Duration(workerID) * s.config.Stagger; delay > 0 {
		if err := resilience.SleepContext(ctx, delay); err != nil {
			return
		}
	}

	for {
		task, ok := queue.Pop(ctx)
		if !ok {
			return
		}

		content, err := s.client.Fetch(ctx, task.URL, task.Page)
		if ctx.Err() != nil {
			return
		}

		pr := models.PageResult{Index: task.Index, Page: task.Page, Err: err}
		if err == nil {
			pr.Records = content.Records
		}
		log.Debug().
			Str("direction", string(direction)).
			Int("worker", workerID).
			Int("page", task.Page).
			Int("records", len(pr.Records)).
			Err(err).
			Msg("页面抓取完成")

		results <- pr
	}
}

func reversed(records []models.RawItemRecord) []models.RawItemRecord {
	out := make([]models.RawItemRecord, len(records))
	for i, rec := range records {
		out[len(records)-1-i] = rec
	}
	return out
}
