package crawlers

import (
	"context"
	"fmt"
	"sync"
)

// PageTask 一个待抓取的页面
type PageTask struct {
	Index int // 派发顺序,用于按序重组
	Page  int // 视图中的页码
	URL   string
}

// PageQueue 页面派发队列
// 按页序入队,worker并发取出,完成顺序不保证
type PageQueue struct {
	tasks chan PageTask

	mu     sync.Mutex
	closed bool
}

// NewPageQueue 创建容量为 capacity 的页面队列
func NewPageQueue(capacity int) *PageQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &PageQueue{tasks: make(chan PageTask, capacity)}
}

// Push 入队,队列满或已关闭时返回错误
func (q *PageQueue) Push(task PageTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("队列已关闭")
	}

	select {
	case q.tasks <- task:
		return nil
	default:
		return fmt.Errorf("队列已满: %d", cap(q.tasks))
	}
}

// Pop 取出下一个页面,ctx结束或队列关闭且为空时返回false
func (q *PageQueue) Pop(ctx context.Context) (PageTask, bool) {
	select {
	case <-ctx.Done():
		return PageTask{}, false
	case task, ok := <-q.tasks:
		return task, ok
	}
}

// PendingCount 尚未被取出的页面数
func (q *PageQueue) PendingCount() int {
	return len(q.tasks)
}

// Close 关闭队列,已入队的页面仍可被取出
func (q *PageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.tasks)
		q.closed = true
	}
}
