package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrPoolClosed 会话池已关闭
	ErrPoolClosed = errors.New("会话池已关闭")
	// ErrBreakerOpen 熔断器冷却中且调用方不愿等待
	ErrBreakerOpen = errors.New("熔断器处于冷却期")
	// ErrChallengeUnresolved 验证挑战在等待后依然存在
	ErrChallengeUnresolved = errors.New("验证挑战未解决")
	// ErrListingInvalid 系列数据缺少必填字段
	ErrListingInvalid = errors.New("系列数据无效")
)

// TransientError 可重试的瞬时错误(超时、连接失败、5xx)
type TransientError struct {
	URL        string
	StatusCode int
	Cause      error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("瞬时错误 [%s] 状态码 %d: %v", e.URL, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("瞬时错误 [%s]: %v", e.URL, e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// RateLimitedError 被限流(429)
type RateLimitedError struct {
	URL        string
	StatusCode int
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("请求被限流 [%s] 状态码 %d", e.URL, e.StatusCode)
}

// BlockedError 被站点封禁(403 或封禁页面)
type BlockedError struct {
	URL    string
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("请求被拦截 [%s]: %s", e.URL, e.Reason)
}

// Snapshot 诊断快照
type Snapshot struct {
	URL        string
	HTML       string
	Screenshot []byte
	TakenAt    time.Time
}

// ChallengeError 遇到需要人工处理的验证挑战
type ChallengeError struct {
	URL      string
	Snapshot *Snapshot
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("遇到验证挑战 [%s]", e.URL)
}

// DataShapeError 页面结构不符合预期,不可重试
type DataShapeError struct {
	URL    string
	Reason string
}

func (e *DataShapeError) Error() string {
	return fmt.Sprintf("数据结构异常 [%s]: %s", e.URL, e.Reason)
}

// StoreCorruptError 目录文件无法解析,属于致命错误
type StoreCorruptError struct {
	Path  string
	Cause error
}

func (e *StoreCorruptError) Error() string {
	return fmt.Sprintf("目录文件损坏 [%s]: %v", e.Path, e.Cause)
}

func (e *StoreCorruptError) Unwrap() error { return e.Cause }

// ListingError 系列校验失败
type ListingError struct {
	ListingID string
	Fields    []string
	Cause     error
}

func (e *ListingError) Error() string {
	msg := fmt.Sprintf("系列 [%s] 字段无效: %s", e.ListingID, strings.Join(e.Fields, ", "))
	if e.Cause != nil {
		msg += fmt.Sprintf(" (%v)", e.Cause)
	}
	return msg
}

func (e *ListingError) Unwrap() error { return ErrListingInvalid }

// ValidationError 身份配置(头部)校验错误
type ValidationError struct {
	// Field 出错的字段 ("name" 或 "value")
	Field string

	// HeaderName 头部名称
	HeaderName string

	// Reason 错误原因
	Reason string

	// Suggestion 修复建议 (可选)
	Suggestion string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("头部验证失败 [%s]: %s", e.HeaderName, e.Reason)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (建议: %s)", e.Suggestion)
	}
	return msg
}

// ConfigError 配置文件错误
type ConfigError struct {
	FilePath string
	Cause    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置文件错误 [%s]: %v", e.FilePath, e.Cause)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Classify 返回错误分类标签,用于日志和指标
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var (
		transient *TransientError
		limited   *RateLimitedError
		blocked   *BlockedError
		challenge *ChallengeError
		shape     *DataShapeError
		corrupt   *StoreCorruptError
	)

	switch {
	case errors.As(err, &challenge), errors.Is(err, ErrChallengeUnresolved):
		return "challenge"
	case errors.As(err, &limited):
		return "rate_limited"
	case errors.As(err, &blocked):
		return "blocked"
	case errors.As(err, &corrupt):
		return "store_corrupt"
	case errors.As(err, &shape), errors.Is(err, ErrListingInvalid):
		return "data_shape"
	case errors.As(err, &transient):
		return "transient"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "other"
	}
}

// IsPermanent 判断错误是否不应重试
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrPoolClosed) {
		return true
	}
	switch Classify(err) {
	case "data_shape", "store_corrupt":
		return true
	}
	return false
}
