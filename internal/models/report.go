package models

import (
	"encoding/json"
	"time"
)

// ListingStatus 单个系列的处理结果
type ListingStatus string

const (
	StatusProcessed ListingStatus = "processed" // 完成扫描并写入目录
	StatusSkipped   ListingStatus = "skipped"   // 分页解析失败或被过滤
	StatusBlocked   ListingStatus = "blocked"   // 被限流/封禁/验证挑战阻断
	StatusFailed    ListingStatus = "failed"    // 其他失败
)

// CountMismatch 声明数量与实际数量不一致
type CountMismatch struct {
	Declared int `json:"declared"`
	Actual   int `json:"actual"`
}

// ReconcileStats 一次协调的统计
type ReconcileStats struct {
	Added             int    `json:"added"`
	Merged            int    `json:"merged"`
	DuplicatesRemoved int    `json:"duplicates_removed"`
	SeriesCode        string `json:"series_code,omitempty"`
	UninferredRecords int    `json:"uninferred_records"`

	CountMismatch *CountMismatch `json:"count_mismatch,omitempty"`
}

// ListingResult 单个系列的处理报告
type ListingResult struct {
	ListingID string        `json:"listing_id"`
	Name      string        `json:"name"`
	Status    ListingStatus `json:"status"`

	Pages          int  `json:"pages"`
	IsEstimate     bool `json:"is_estimate"`
	ScanAttempts   int  `json:"scan_attempts"`
	RecordsScanned int  `json:"records_scanned"`
	Partial        bool `json:"partial"`    // 扫描中断后合并了部分结果
	Incomplete     bool `json:"incomplete"` // 扫描成功但未覆盖整个系列
	ItemsAfter     int  `json:"items_after"`

	Reconcile *ReconcileStats `json:"reconcile,omitempty"`

	ErrorType string  `json:"error_type,omitempty"`
	ErrorMsg  string  `json:"error_msg,omitempty"`
	Duration  float64 `json:"duration"` // 秒
}

// RunSummary 一次运行的汇总
type RunSummary struct {
	RunID     string    `json:"run_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  float64   `json:"duration"` // 秒

	Total      int `json:"total"`
	Processed  int `json:"processed"`
	Skipped    int `json:"skipped"`
	Blocked    int `json:"blocked"`
	Failed     int `json:"failed"`
	Mismatches int `json:"mismatches"`
	ItemsAdded int `json:"items_added"`

	Results []ListingResult `json:"results"`
}

// NewRunSummary 创建新的运行汇总
func NewRunSummary() *RunSummary {
	return &RunSummary{
		RunID:     generateID(),
		StartTime: time.Now(),
	}
}

// Add 记录一个系列结果
func (s *RunSummary) Add(r ListingResult) {
	s.Results = append(s.Results, r)
	s.Total++
	switch r.Status {
	case StatusProcessed:
		s.Processed++
	case StatusSkipped:
		s.Skipped++
	case StatusBlocked:
		s.Blocked++
	default:
		s.Failed++
	}
	if r.Reconcile != nil {
		s.ItemsAdded += r.Reconcile.Added
		if r.Reconcile.CountMismatch != nil {
			s.Mismatches++
		}
	}
}

// Finish 标记结束时间
func (s *RunSummary) Finish() {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime).Seconds()
}

// ToJSON 序列化为JSON
func (s *RunSummary) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// FromJSON 从JSON反序列化
func (s *RunSummary) FromJSON(data []byte) error {
	return json.Unmarshal(data, s)
}
