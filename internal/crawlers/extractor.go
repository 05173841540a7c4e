package crawlers

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hperocheau/scraping-pkm/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

// Selectors 页面字段的CSS选择器,全部来自配置
type Selectors struct {
	Row           string            `mapstructure:"row"`
	Link          string            `mapstructure:"link"`
	Title         string            `mapstructure:"title"`
	RowIDAttr     string            `mapstructure:"row_id_attr"`
	Rarity        string            `mapstructure:"rarity"`
	ForeignName   string            `mapstructure:"foreign_name"`
	Attributes    map[string]string `mapstructure:"attributes"`
	PageIndicator string            `mapstructure:"page_indicator"`
	// Challenge 任一选择器命中即视为验证挑战页面
	Challenge []string `mapstructure:"challenge"`
	// BlockedText 页面正文包含任一文本即视为被封禁
	BlockedText []string `mapstructure:"blocked_text"`
}

// DefaultSelectors 默认选择器
func DefaultSelectors() Selectors {
	return Selectors{
		Row:           "table.cards tbody tr",
		Link:          "a[href]",
		Title:         "td.name",
		RowIDAttr:     "data-id",
		Rarity:        "td.rarity",
		ForeignName:   "td.foreign",
		PageIndicator: ".pagination .total",
		Challenge:     []string{"#challenge-form", "iframe[src*='captcha']", "div.cf-turnstile"},
		BlockedText:   []string{"Access denied", "Accès refusé"},
	}
}

// PageContent 单页抽取结果
type PageContent struct {
	URL       string
	Records   []models.RawItemRecord
	Indicator string // 页数指示器原始文本
}

// Extractor 基于goquery的字段抽取器
type Extractor struct {
	sel Selectors
}

// NewExtractor 创建抽取器
func NewExtractor(sel Selectors) *Extractor {
	return &Extractor{sel: sel}
}

// Extract 解析HTML并抽取记录
// 验证挑战返回 ChallengeError,封禁页面返回 BlockedError;没有任何行是合法的空页
func (e *Extractor) Extract(pageURL string, body []byte, page int) (*PageContent, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &models.DataShapeError{URL: pageURL, Reason: fmt.Sprintf("解析HTML失败: %v", err)}
	}
	doc := goquery.NewDocumentFromNode(root)

	if err := e.detectBarrier(pageURL, doc, body); err != nil {
		return nil, err
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("解析页面URL失败: %w", err)
	}

	content := &PageContent{URL: pageURL}
	if e.sel.PageIndicator != "" {
		content.Indicator = strings.TrimSpace(doc.Find(e.sel.PageIndicator).Last().Text())
	}

	rows := doc.Find(e.sel.Row)
	missing := 0
	rows.Each(func(i int, row *goquery.Selection) {
		rec, ok := e.extractRow(base, row, page)
		if !ok {
			missing++
			return
		}
		content.Records = append(content.Records, rec)
	})

	if missing > 0 {
		log.Debug().Str("url", pageURL).Int("rows", rows.Length()).Int("missing", missing).Msg("部分行缺少链接,已跳过")
	}
	if rows.Length() > 0 && len(content.Records) == 0 {
		return nil, &models.DataShapeError{URL: pageURL, Reason: "所有行都缺少卡牌链接"}
	}

	return content, nil
}

func (e *Extractor) extractRow(base *url.URL, row *goquery.Selection, page int) (models.RawItemRecord, bool) {
	link := row.Find(e.sel.Link).First()
	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return models.RawItemRecord{}, false
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return models.RawItemRecord{}, false
	}

	rec := models.RawItemRecord{
		URL:  base.ResolveReference(ref).String(),
		Page: page,
	}

	if e.sel.Title != "" {
		rec.Title = cleanText(row.Find(e.sel.Title).First().Text())
	}
	if rec.Title == "" {
		rec.Title = cleanText(link.Text())
	}
	if e.sel.RowIDAttr != "" {
		rec.RowID, _ = row.Attr(e.sel.RowIDAttr)
	}
	if e.sel.Rarity != "" {
		rarity := row.Find(e.sel.Rarity).First()
		rec.Rarity = cleanText(rarity.Text())
		if rec.Rarity == "" {
			// 稀有度有时只以图标title呈现
			rec.Rarity, _ = rarity.Find("[title]").Attr("title")
		}
	}
	if e.sel.ForeignName != "" {
		rec.ForeignName = cleanText(row.Find(e.sel.ForeignName).First().Text())
	}
	if len(e.sel.Attributes) > 0 {
		rec.Attributes = make(map[string]string, len(e.sel.Attributes))
		for name, selector := range e.sel.Attributes {
			if v := cleanText(row.Find(selector).First().Text()); v != "" {
				rec.Attributes[name] = v
			}
		}
	}
	return rec, true
}

func (e *Extractor) detectBarrier(pageURL string, doc *goquery.Document, body []byte) error {
	for _, selector := range e.sel.Challenge {
		if doc.Find(selector).Length() > 0 {
			return &models.ChallengeError{
				URL: pageURL,
				Snapshot: &models.Snapshot{
					URL:     pageURL,
					HTML:    string(body),
					TakenAt: time.Now(),
				},
			}
		}
	}

	text := doc.Find("body").Text()
	for _, marker := range e.sel.BlockedText {
		if marker != "" && strings.Contains(text, marker) {
			return &models.BlockedError{URL: pageURL, Reason: marker}
		}
	}
	return nil
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
