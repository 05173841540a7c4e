package catalog

import (
	"regexp"
	"strings"
)

var parentheticalPattern = regexp.MustCompile(`\(([^()]*)\)`)

// parentheticalTokens 取标题中最后一个括号内的内容并按空白切分
// 没有括号时返回nil
func parentheticalTokens(title string) []string {
	matches := parentheticalPattern.FindAllStringSubmatch(title, -1)
	if len(matches) == 0 {
		return nil
	}
	tokens := strings.Fields(matches[len(matches)-1][1])
	if len(tokens) == 0 {
		return nil
	}
	return tokens
}

// SeriesInference 系列代码推断结果
type SeriesInference struct {
	Code string
	// Numbers 与输入标题一一对应,无法推导时为空字符串
	Numbers []string
	// Skipped 没有括号、未参与推断的标题数量
	Skipped int
}

// InferSeries 从一组标题推断系列代码
// 系列代码是在每个标题最后一个括号的词集合中都出现的词,多个候选时取第一个标题中最靠前的;
// 编号是括号内去掉系列代码后剩余的词。没有公共词时 Code 为空,不视为错误
func InferSeries(titles []string) SeriesInference {
	result := SeriesInference{Numbers: make([]string, len(titles))}

	tokenLists := make([][]string, len(titles))
	var first []string
	var sets []map[string]bool
	for i, title := range titles {
		tokens := parentheticalTokens(title)
		if tokens == nil {
			result.Skipped++
			continue
		}
		tokenLists[i] = tokens
		if first == nil {
			first = tokens
		}
		set := make(map[string]bool, len(tokens))
		for _, tok := range tokens {
			set[tok] = true
		}
		sets = append(sets, set)
	}

	if len(sets) == 0 {
		return result
	}

	for _, candidate := range first {
		common := true
		for _, set := range sets {
			if !set[candidate] {
				common = false
				break
			}
		}
		if common {
			result.Code = candidate
			break
		}
	}
	if result.Code == "" {
		return result
	}

	for i, tokens := range tokenLists {
		if tokens == nil {
			continue
		}
		rest := make([]string, 0, len(tokens))
		removed := false
		for _, tok := range tokens {
			if !removed && tok == result.Code {
				removed = true
				continue
			}
			rest = append(rest, tok)
		}
		result.Numbers[i] = strings.Join(rest, " ")
	}
	return result
}
