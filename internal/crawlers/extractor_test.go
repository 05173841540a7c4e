package crawlers

import (
	"errors"
	"testing"

	"github.com/hperocheau/scraping-pkm/internal/models"
)

const listingPageHTML = `<html><body>
<div class="pagination"><span class="total">Page 1 / 12+</span></div>
<table class="cards"><tbody>
  <tr data-id="4512">
    <td class="name"><a href="/fr/card/sv1-001">Pohmarmotte   (SV1 001)</a></td>
    <td class="rarity"><img title="Commune"></td>
    <td class="foreign">Sprigatito</td>
    <td class="hp">60</td>
  </tr>
  <tr data-id="4513">
    <td class="name"><a href="https://other.test/card/sv1-002">Matourgeon (SV1 002)</a></td>
    <td class="rarity">Peu commune</td>
    <td class="foreign"></td>
    <td class="hp">80</td>
  </tr>
  <tr><td class="name">sans lien</td></tr>
</tbody></table>
</body></html>`

func TestExtractor_Extract(t *testing.T) {
	sel := DefaultSelectors()
	sel.Attributes = map[string]string{"hp": "td.hp"}
	e := NewExtractor(sel)

	content, err := e.Extract("https://site.test/fr/sv1/cards?page=1", []byte(listingPageHTML), 1)
	if err != nil {
		t.Fatalf("抽取失败: %v", err)
	}

	if content.Indicator != "Page 1 / 12+" {
		t.Errorf("指示器文本错误: %q", content.Indicator)
	}
	if len(content.Records) != 2 {
		t.Fatalf("期望2条记录(无链接的行被跳过), 实际 %d", len(content.Records))
	}

	first := content.Records[0]
	tests := []struct {
		name, got, want string
	}{
		{"相对链接被解析", first.URL, "https://site.test/fr/card/sv1-001"},
		{"标题空白被规整", first.Title, "Pohmarmotte (SV1 001)"},
		{"行ID", first.RowID, "4512"},
		{"图标稀有度", first.Rarity, "Commune"},
		{"外文名", first.ForeignName, "Sprigatito"},
		{"属性", first.Attributes["hp"], "60"},
		{"绝对链接保持不变", content.Records[1].URL, "https://other.test/card/sv1-002"},
		{"文本稀有度", content.Records[1].Rarity, "Peu commune"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("期望 %q, 实际 %q", tt.want, tt.got)
			}
		})
	}
	if first.Page != 1 {
		t.Errorf("页码应为1, 实际 %d", first.Page)
	}
}

func TestExtractor_Barriers(t *testing.T) {
	e := NewExtractor(DefaultSelectors())

	tests := []struct {
		name  string
		html  string
		check func(t *testing.T, content *PageContent, err error)
	}{
		{
			name: "验证挑战",
			html: `<html><body><form id="challenge-form"></form></body></html>`,
			check: func(t *testing.T, _ *PageContent, err error) {
				var challenge *models.ChallengeError
				if !errors.As(err, &challenge) {
					t.Fatalf("期望 ChallengeError, 实际 %v", err)
				}
				if challenge.Snapshot == nil || challenge.Snapshot.HTML == "" {
					t.Error("挑战错误应附带HTML快照")
				}
			},
		},
		{
			name: "封禁页面",
			html: `<html><body><h1>Accès refusé</h1></body></html>`,
			check: func(t *testing.T, _ *PageContent, err error) {
				var blocked *models.BlockedError
				if !errors.As(err, &blocked) {
					t.Fatalf("期望 BlockedError, 实际 %v", err)
				}
			},
		},
		{
			name: "所有行缺少链接",
			html: `<table class="cards"><tbody><tr><td class="name">x</td></tr></tbody></table>`,
			check: func(t *testing.T, _ *PageContent, err error) {
				if models.Classify(err) != "data_shape" {
					t.Fatalf("期望 data_shape, 实际 %v", err)
				}
			},
		},
		{
			name: "没有表格是空页",
			html: `<html><body><p>Aucune carte</p></body></html>`,
			check: func(t *testing.T, content *PageContent, err error) {
				if err != nil {
					t.Fatalf("空页不应报错: %v", err)
				}
				if len(content.Records) != 0 {
					t.Errorf("期望0条记录, 实际 %d", len(content.Records))
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, err := e.Extract("https://site.test/cards", []byte(tt.html), 2)
			tt.check(t, content, err)
		})
	}
}
