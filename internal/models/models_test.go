package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"有效的HTTP URL", "http://example.com", false},
		{"有效的HTTPS URL", "https://example.com", false},
		{"带路径的URL", "https://example.com/path/to/resource", false},
		{"无效的协议", "ftp://example.com", true},
		{"无效的URL", "not a url", true},
		{"空URL", "", true},
		{"无协议", "example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseDeclaredCount(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantCount    int
		wantEstimate bool
		wantErr      bool
	}{
		{"精确数量", "198 cartes", 198, false, false},
		{"估计数量", "150+ cartes", 150, true, false},
		{"首尾空白", " 12 cartes ", 12, false, false},
		{"缺少单位", "198", 0, false, true},
		{"错误单位", "198 cards", 0, false, true},
		{"空字符串", "", 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, est, err := ParseDeclaredCount(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDeclaredCount() error = %v, wantErr %v", err, tt.wantErr)
			}
			if n != tt.wantCount || est != tt.wantEstimate {
				t.Errorf("ParseDeclaredCount() = (%d, %v), want (%d, %v)", n, est, tt.wantCount, tt.wantEstimate)
			}
		})
	}
}

func TestListing_UpdateDeclaredCount(t *testing.T) {
	tests := []struct {
		name    string
		current string
		next    string
		force   bool
		want    string
		updated bool
	}{
		{"首次设置", "", "100 cartes", false, "100 cartes", true},
		{"数量增加", "100 cartes", "120 cartes", false, "120 cartes", true},
		{"精确数量不允许减少", "100 cartes", "90 cartes", false, "100 cartes", false},
		{"显式重新抓取允许减少", "100 cartes", "90 cartes", true, "90 cartes", true},
		{"估计值可以被精确值替换", "150+ cartes", "142 cartes", false, "142 cartes", true},
		{"新值格式错误", "100 cartes", "beaucoup", false, "100 cartes", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &Listing{DeclaredCount: tt.current}
			got := l.UpdateDeclaredCount(tt.next, tt.force)
			if got != tt.updated {
				t.Errorf("UpdateDeclaredCount() = %v, want %v", got, tt.updated)
			}
			if l.DeclaredCount != tt.want {
				t.Errorf("DeclaredCount = %q, want %q", l.DeclaredCount, tt.want)
			}
		})
	}
}

func validListing() Listing {
	return Listing{
		ID:            "sv1",
		Name:          "Écarlate et Violet",
		URL:           "https://example.com/series/sv1",
		CardsURL:      "https://example.com/series/sv1/cards?page={page}",
		DeclaredCount: "198 cartes",
		Date:          "2023-03-31",
		Languages:     []string{"fr"},
		Bloc:          "Écarlate et Violet",
	}
}

func TestListing_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(l *Listing)
		wantErr bool
	}{
		{"完整系列", func(l *Listing) {}, false},
		{"估计数量也合法", func(l *Listing) { l.DeclaredCount = "150+ cartes" }, false},
		{"缺少ID", func(l *Listing) { l.ID = "" }, true},
		{"缺少语言", func(l *Listing) { l.Languages = nil }, true},
		{"数量格式错误", func(l *Listing) { l.DeclaredCount = "198" }, true},
		{"缺少日期", func(l *Listing) { l.Date = "" }, true},
		{"卡牌URL无效", func(l *Listing) { l.CardsURL = "ftp://example.com" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := validListing()
			tt.mutate(&l)
			err := l.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrListingInvalid) {
				t.Errorf("错误应包装 ErrListingInvalid: %v", err)
			}
		})
	}
}

func TestPageURL(t *testing.T) {
	tests := []struct {
		name     string
		template string
		page     int
		param    string
		want     string
	}{
		{"占位符", "https://example.com/c?page={page}", 3, "", "https://example.com/c?page=3"},
		{"无查询参数", "https://example.com/c", 2, "", "https://example.com/c?page=2"},
		{"已有查询参数", "https://example.com/c?sort=asc", 5, "p", "https://example.com/c?sort=asc&p=5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PageURL(tt.template, tt.page, tt.param); got != tt.want {
				t.Errorf("PageURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      string
		permanent bool
	}{
		{"瞬时错误", &TransientError{URL: "u", Cause: errors.New("timeout")}, "transient", false},
		{"包装后的限流", fmt.Errorf("抓取失败: %w", &RateLimitedError{URL: "u", StatusCode: 429}), "rate_limited", false},
		{"封禁", &BlockedError{URL: "u", Reason: "403"}, "blocked", false},
		{"验证挑战", &ChallengeError{URL: "u"}, "challenge", false},
		{"挑战未解决", ErrChallengeUnresolved, "challenge", false},
		{"数据结构", &DataShapeError{URL: "u", Reason: "缺少表格"}, "data_shape", true},
		{"目录损坏", &StoreCorruptError{Path: "p", Cause: errors.New("bad json")}, "store_corrupt", true},
		{"系列无效", &ListingError{ListingID: "x", Fields: []string{"id"}}, "data_shape", true},
		{"未知错误", errors.New("boom"), "other", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
			if got := IsPermanent(tt.err); got != tt.permanent {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.permanent)
			}
		})
	}
}

func TestCookieJar_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")

	// 文件不存在时返回空集合
	jar, err := LoadCookieJar(path)
	if err != nil {
		t.Fatalf("LoadCookieJar() error = %v", err)
	}
	if len(jar) != 0 {
		t.Fatalf("期望空集合, got %d", len(jar))
	}

	jar = jar.Merge([]Cookie{
		{Name: "sid", Value: "a", Domain: "example.com", Path: "/"},
		{Name: "lang", Value: "fr", Domain: "example.com", Path: "/"},
	})
	jar = jar.Merge([]Cookie{{Name: "sid", Value: "b", Domain: "example.com", Path: "/"}})

	if err := jar.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	loaded, err := LoadCookieJar(path)
	if err != nil {
		t.Fatalf("LoadCookieJar() error = %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Cookie数量不匹配: got %d, want 2", len(loaded))
	}
	if loaded[0].Name != "sid" || loaded[0].Value != "b" {
		t.Errorf("同名Cookie应被覆盖且保持位置: %+v", loaded[0])
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.json")

	for _, content := range []string{"[]", `[{"name":"sid"}]`} {
		if err := WriteFileAtomic(path, []byte(content), 0600); err != nil {
			t.Fatalf("WriteFileAtomic() error = %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil || string(data) != content {
			t.Fatalf("文件内容 = %q (%v), want %q", data, err, content)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("文件权限 = %o, want 600", perm)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("不应残留临时文件: %v", entries)
	}
}

func TestRunSummary_Add(t *testing.T) {
	s := NewRunSummary()
	s.Add(ListingResult{ListingID: "a", Status: StatusProcessed, Reconcile: &ReconcileStats{Added: 3}})
	s.Add(ListingResult{ListingID: "b", Status: StatusProcessed, Reconcile: &ReconcileStats{Added: 1, CountMismatch: &CountMismatch{Declared: 10, Actual: 9}}})
	s.Add(ListingResult{ListingID: "c", Status: StatusSkipped})
	s.Add(ListingResult{ListingID: "d", Status: StatusBlocked})
	s.Add(ListingResult{ListingID: "e", Status: StatusFailed})
	s.Finish()

	if s.RunID == "" {
		t.Error("RunID不应为空")
	}
	if s.Total != 5 || s.Processed != 2 || s.Skipped != 1 || s.Blocked != 1 || s.Failed != 1 {
		t.Errorf("计数不匹配: %+v", s)
	}
	if s.ItemsAdded != 4 {
		t.Errorf("ItemsAdded = %d, want 4", s.ItemsAdded)
	}
	if s.Mismatches != 1 {
		t.Errorf("Mismatches = %d, want 1", s.Mismatches)
	}

	data, err := s.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	var decoded RunSummary
	if err := decoded.FromJSON(data); err != nil {
		t.Fatalf("FromJSON() error = %v", err)
	}
	if len(decoded.Results) != 5 {
		t.Errorf("Results长度不匹配: got %d", len(decoded.Results))
	}
}

func TestCliHeaders_Parse(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		header      string
		want        string
		expectError bool
	}{
		{"标准格式", "X-Custom: value", "X-Custom", "value", false},
		{"名称前后空格", "  User-Agent  : Mozilla/5.0", "User-Agent", "Mozilla/5.0", false},
		{"值中间的空格保留", "X-Custom: value with spaces", "X-Custom", "value with spaces", false},
		{"多个冒号按第一个分割", "Authorization: Bearer: token", "Authorization", "Bearer: token", false},
		{"空值允许", "X-Empty:", "X-Empty", "", false},
		{"缺少冒号", "User-Agent Mozilla/5.0", "", "", true},
		{"缺少名称", ":value", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers, err := CliHeaders{tt.input}.Parse()
			if (err != nil) != tt.expectError {
				t.Fatalf("期望错误=%v, 实际错误=%v", tt.expectError, err)
			}
			if tt.expectError {
				return
			}
			if got := headers.Get(tt.header); got != tt.want {
				t.Errorf("期望 %q, 实际 %q", tt.want, got)
			}
		})
	}
}
