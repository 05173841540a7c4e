package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// declaredCountPattern 声明数量格式: "<数字> cartes" 或 "<数字>+ cartes"
var declaredCountPattern = regexp.MustCompile(`^(\d+)(\+)? cartes$`)

// Listing 一个卡牌系列(分页列表)及其已收录的卡牌
type Listing struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	URL             string   `json:"url"`
	CardsURL        string   `json:"cardsUrl"`                  // 第一页URL模板
	ReverseCardsURL string   `json:"reverseCardsUrl,omitempty"` // 倒序视图URL模板(可选)
	DeclaredCount   string   `json:"numCards"`                  // 站点声明的卡牌数量
	Date            string   `json:"date"`
	Languages       []string `json:"languages"`
	Bloc            string   `json:"bloc"`

	LastReconciled *time.Time    `json:"lastReconciled,omitempty"`
	NeedsRescrape  bool          `json:"needsRescrape,omitempty"`
	Items          []CatalogItem `json:"items"`
}

// CatalogItem 已持久化的卡牌记录,只由存储层代表协调器写入
type CatalogItem struct {
	URL         string            `json:"cardUrl"`
	Title       string            `json:"cardFullTitle"`
	RowID       string            `json:"cardId,omitempty"`
	SeriesCode  string            `json:"seriesCode,omitempty"`
	ItemNumber  string            `json:"cardNumber,omitempty"`
	Rarity      string            `json:"cardRarity,omitempty"`
	ForeignName string            `json:"cardForeignName,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	InsertedAt  time.Time         `json:"insertedAt"`
}

// RawItemRecord 从页面抽取出的原始记录,生命周期仅限一次扫描
type RawItemRecord struct {
	URL         string
	Title       string
	RowID       string // 渲染期行标识,只在一次渲染内唯一
	Rarity      string
	ForeignName string
	Attributes  map[string]string
	Page        int
}

// PageCount 分页解析结果
type PageCount struct {
	TotalPages int  `json:"total_pages"`
	IsEstimate bool `json:"is_estimate"` // 页数指示器为 "N+" 形式
}

// ParseDeclaredCount 解析声明数量,返回数量以及是否为估计值
func ParseDeclaredCount(s string) (int, bool, error) {
	m := declaredCountPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false, fmt.Errorf("声明数量格式错误: %q", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false, fmt.Errorf("声明数量解析失败: %w", err)
	}
	return n, m[2] == "+", nil
}

// UpdateDeclaredCount 更新声明数量
// 已确定的精确数量不会被更小的值覆盖,除非 force 为 true(显式重新抓取)
func (l *Listing) UpdateDeclaredCount(value string, force bool) bool {
	if force || l.DeclaredCount == "" {
		l.DeclaredCount = value
		return true
	}

	oldCount, oldEstimate, err := ParseDeclaredCount(l.DeclaredCount)
	if err != nil {
		l.DeclaredCount = value
		return true
	}
	newCount, _, err := ParseDeclaredCount(value)
	if err != nil {
		return false
	}
	if !oldEstimate && newCount < oldCount {
		return false
	}

	l.DeclaredCount = value
	return true
}

// Validate 校验系列的必填字段
func (l *Listing) Validate() error {
	var missing []string
	if l.ID == "" {
		missing = append(missing, "id")
	}
	if l.Name == "" {
		missing = append(missing, "name")
	}
	if l.URL == "" {
		missing = append(missing, "url")
	}
	if l.CardsURL == "" {
		missing = append(missing, "cardsUrl")
	}
	if _, _, err := ParseDeclaredCount(l.DeclaredCount); err != nil {
		missing = append(missing, "numCards")
	}
	if l.Date == "" {
		missing = append(missing, "date")
	}
	if len(l.Languages) == 0 {
		missing = append(missing, "languages")
	}
	if l.Bloc == "" {
		missing = append(missing, "bloc")
	}

	if len(missing) > 0 {
		return &ListingError{ListingID: l.ID, Fields: missing}
	}
	if err := ValidateURL(l.CardsURL); err != nil {
		return &ListingError{ListingID: l.ID, Fields: []string{"cardsUrl"}, Cause: err}
	}
	return nil
}

// PageURL 生成指定页的URL
// 模板含 {page} 占位符时直接替换,否则追加查询参数
func PageURL(template string, page int, param string) string {
	if strings.Contains(template, "{page}") {
		return strings.ReplaceAll(template, "{page}", strconv.Itoa(page))
	}
	if param == "" {
		param = "page"
	}
	sep := "?"
	if strings.Contains(template, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s%s=%d", template, sep, param, page)
}
