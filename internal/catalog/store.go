package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hperocheau/scraping-pkm/internal/models"
	"github.com/rs/zerolog/log"
)

// Store 目录文件的持久化
// 文件是一个系列数组,每次修改都读取整个文件、在内存中修改、再原子地整体重写
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore 创建存储
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path 目录文件路径
func (s *Store) Path() string {
	return s.path
}

// CookiePath 会话Cookie文件路径,与目录文件同目录
func (s *Store) CookiePath() string {
	ext := filepath.Ext(s.path)
	return strings.TrimSuffix(s.path, ext) + ".cookies.json"
}

// Load 读取全部系列
// 文件不存在时返回空列表;JSON无效时返回 StoreCorruptError
func (s *Store) Load() ([]models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() ([]models.Listing, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.Listing{}, nil
		}
		return nil, fmt.Errorf("读取目录文件失败: %w", err)
	}

	var listings []models.Listing
	if err := json.Unmarshal(data, &listings); err != nil {
		return nil, &models.StoreCorruptError{Path: s.path, Cause: err}
	}
	return listings, nil
}

// Get 按ID读取单个系列
func (s *Store) Get(id string) (*models.Listing, error) {
	listings, err := s.Load()
	if err != nil {
		return nil, err
	}
	for i := range listings {
		if listings[i].ID == id {
			return &listings[i], nil
		}
	}
	return nil, fmt.Errorf("系列不存在: %s", id)
}

// Update 对单个系列执行读-改-写
// fn 返回错误时不写入任何内容
func (s *Store) Update(id string, fn func(l *models.Listing) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	listings, err := s.loadLocked()
	if err != nil {
		return err
	}

	idx := -1
	for i := range listings {
		if listings[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("系列不存在: %s", id)
	}

	if err := fn(&listings[idx]); err != nil {
		return err
	}
	return s.saveLocked(listings)
}

// Save 整体重写目录文件
func (s *Store) Save(listings []models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(listings)
}

// saveLocked 先写临时文件并fsync,再rename覆盖,保证不会出现写了一半的目录文件
func (s *Store) saveLocked(listings []models.Listing) error {
	if listings == nil {
		listings = []models.Listing{}
	}
	data, err := json.MarshalIndent(listings, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化目录失败: %w", err)
	}

	if err := models.WriteFileAtomic(s.path, data, 0644); err != nil {
		return fmt.Errorf("保存目录文件失败: %w", err)
	}

	log.Debug().Str("path", s.path).Int("listings", len(listings)).Msg("目录文件已保存")
	return nil
}

// Validate 校验所有系列,返回每个无效系列的错误
func (s *Store) Validate() ([]error, error) {
	listings, err := s.Load()
	if err != nil {
		return nil, err
	}

	var problems []error
	seen := make(map[string]bool, len(listings))
	for i := range listings {
		l := &listings[i]
		if err := l.Validate(); err != nil {
			problems = append(problems, err)
		}
		if l.ID != "" && seen[l.ID] {
			problems = append(problems, &models.ListingError{ListingID: l.ID, Fields: []string{"id"}, Cause: errors.New("ID重复")})
		}
		seen[l.ID] = true
	}
	return problems, nil
}
