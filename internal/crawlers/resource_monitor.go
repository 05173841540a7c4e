package crawlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceMonitorConfig 资源监控器配置
type ResourceMonitorConfig struct {
	SafetyReserveMemory uint64 // 必须保留给系统的内存(字节)
	SessionMemoryUsage  uint64 // 单个浏览器会话平均内存消耗(字节)
	CPULoadThreshold    float64
	MaxSessions         int // 绝对上限
}

// resourceSample 一次系统资源采样
type resourceSample struct {
	availableMemory uint64
	cpuPercent      float64
}

// ResourceMonitor 系统资源监控器
// 根据可用内存和CPU负载限制会话池的大小
type ResourceMonitor struct {
	config ResourceMonitorConfig
	sample func() (resourceSample, error)

	mu   sync.RWMutex
	last resourceSample

	cacheMu       sync.Mutex
	cachedMax     int
	lastCacheTime time.Time

	cancel context.CancelFunc
}

// NewResourceMonitor 创建资源监控器
func NewResourceMonitor(config ResourceMonitorConfig) *ResourceMonitor {
	if config.SessionMemoryUsage == 0 {
		config.SessionMemoryUsage = 150 * 1024 * 1024
	}
	if config.SafetyReserveMemory == 0 {
		config.SafetyReserveMemory = 512 * 1024 * 1024
	}
	if config.CPULoadThreshold <= 0 {
		config.CPULoadThreshold = 90
	}
	if config.MaxSessions <= 0 {
		config.MaxSessions = 3
	}

	rm := &ResourceMonitor{config: config, sample: sampleSystem}
	rm.refresh()
	return rm
}

// sampleSystem 使用gopsutil采样系统可用内存和CPU使用率
func sampleSystem() (resourceSample, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return resourceSample{}, fmt.Errorf("获取系统内存失败: %w", err)
	}
	s := resourceSample{availableMemory: vm.Available}

	percentages, err := cpu.Percent(100*time.Millisecond, false)
	if err == nil && len(percentages) > 0 {
		s.cpuPercent = percentages[0]
	}
	return s, nil
}

func (rm *ResourceMonitor) refresh() {
	s, err := rm.sample()
	if err != nil {
		log.Warn().Err(err).Msg("资源采样失败,沿用上一次数据")
		return
	}
	rm.mu.Lock()
	rm.last = s
	rm.mu.Unlock()
}

// StartMonitoring 启动后台周期采样,重复调用无副作用
func (rm *ResourceMonitor) StartMonitoring(interval time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rm.cancel = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rm.refresh()
			}
		}
	}()
}

// StopMonitoring 停止后台采样
func (rm *ResourceMonitor) StopMonitoring() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.cancel != nil {
		rm.cancel()
		rm.cancel = nil
	}
}

// CalculateMaxSessions 当前允许的最大会话数,结果缓存1秒
func (rm *ResourceMonitor) CalculateMaxSessions() int {
	rm.cacheMu.Lock()
	defer rm.cacheMu.Unlock()
	if rm.cachedMax > 0 && time.Since(rm.lastCacheTime) < time.Second {
		return rm.cachedMax
	}

	rm.mu.RLock()
	s := rm.last
	rm.mu.RUnlock()

	result := rm.config.MaxSessions
	if s.availableMemory > rm.config.SafetyReserveMemory {
		byMemory := int((s.availableMemory - rm.config.SafetyReserveMemory) / rm.config.SessionMemoryUsage)
		if byMemory < result {
			result = byMemory
		}
	} else {
		result = 1
	}
	if s.cpuPercent > rm.config.CPULoadThreshold && result > 1 {
		result--
	}
	if result < 1 {
		result = 1
	}

	rm.cachedMax = result
	rm.lastCacheTime = time.Now()
	return result
}

// CheckResourceAvailability 检查是否允许再创建一个会话
func (rm *ResourceMonitor) CheckResourceAvailability() (bool, string) {
	rm.mu.RLock()
	s := rm.last
	rm.mu.RUnlock()

	if s.availableMemory < rm.config.SafetyReserveMemory+rm.config.SessionMemoryUsage {
		return false, fmt.Sprintf("内存不足(可用%dMB)", s.availableMemory/(1024*1024))
	}
	if s.cpuPercent > rm.config.CPULoadThreshold {
		return false, fmt.Sprintf("CPU负载过高(当前%.1f%%)", s.cpuPercent)
	}
	return true, ""
}
