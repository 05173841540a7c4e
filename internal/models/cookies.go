package models

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
)

// Cookie 持久化的会话Cookie
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"` // Unix秒,0表示会话Cookie
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

func (c Cookie) key() string {
	return c.Domain + "|" + c.Path + "|" + c.Name
}

// CookieJar Cookie文件内容,目录文件的同级文件
type CookieJar []Cookie

// Merge 合并另一组Cookie,同名同域同路径的以后者为准
func (j CookieJar) Merge(other []Cookie) CookieJar {
	index := make(map[string]int, len(j))
	merged := make(CookieJar, 0, len(j)+len(other))
	for _, c := range j {
		index[c.key()] = len(merged)
		merged = append(merged, c)
	}
	for _, c := range other {
		if i, ok := index[c.key()]; ok {
			merged[i] = c
			continue
		}
		index[c.key()] = len(merged)
		merged = append(merged, c)
	}
	return merged
}

// ToJSON 序列化为JSON
func (j CookieJar) ToJSON() ([]byte, error) {
	if j == nil {
		j = CookieJar{}
	}
	return json.MarshalIndent(j, "", "  ")
}

// SaveToFile 原子地保存到文件
func (j CookieJar) SaveToFile(path string) error {
	data, err := j.ToJSON()
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0600)
}

// LoadCookieJar 从文件加载,文件不存在时返回空集合
func LoadCookieJar(path string) (CookieJar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CookieJar{}, nil
		}
		return nil, err
	}

	var jar CookieJar
	if err := json.Unmarshal(data, &jar); err != nil {
		return nil, err
	}
	return jar, nil
}
