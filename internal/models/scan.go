package models

// Direction 扫描方向
type Direction string

const (
	Ascending  Direction = "ascending"  // 从第1页向后
	Descending Direction = "descending" // 从末端向前
)

// ScanCursor 单个方向扫描的游标,方向结束后即丢弃
type ScanCursor struct {
	Page      int
	Direction Direction
	Sentinel  string // 哨兵行ID,仅降序扫描使用
	Records   []RawItemRecord
}

// PageResult 单页抓取结果
type PageResult struct {
	Index   int // 派发顺序,从0开始
	Page    int // 实际页码
	Records []RawItemRecord
	Err     error
}

// ScanResult 一次双向扫描的输出
// Records 按页序排列,未去重
type ScanResult struct {
	Records          []RawItemRecord `json:"-"`
	AscendingPages   int             `json:"ascending_pages"`
	DescendingPages  int             `json:"descending_pages"`
	Sentinel         string          `json:"sentinel,omitempty"`
	SentinelFound    bool            `json:"sentinel_found"`
	EndedOnEmptyPage bool            `json:"ended_on_empty_page"`
	// Incomplete 倒序视图走完 N 页仍未遇到哨兵,中间可能还有未覆盖的页面
	Incomplete bool `json:"incomplete"`
}
