package utils

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var listingIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ReadListingIDsFromFile 从文件中读取系列ID列表,每行一个
// 空行和 # 开头的注释行被跳过,重复ID只保留第一次出现
func ReadListingIDsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开系列ID文件失败: %w", err)
	}
	defer file.Close()

	ids := make([]string, 0)
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !listingIDPattern.MatchString(line) {
			Warnf("跳过无效系列ID (行 %d): %s", lineNum, line)
			continue
		}
		if seen[line] {
			continue
		}
		seen[line] = true
		ids = append(ids, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取系列ID文件失败: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("系列ID文件中没有有效的ID")
	}

	Infof("从文件加载了 %d 个系列ID", len(ids))
	return ids, nil
}

// SplitList 拆分逗号分隔的命令行参数并去掉空项
func SplitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
