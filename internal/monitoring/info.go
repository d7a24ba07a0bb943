package monitoring

import (
	"fmt"
	"runtime"
	"sync"
	"time"
)

// Info /info 接口返回的进程、主机与存储资源统计
type Info struct {
	MailCount          int     `json:"mail_count"`
	DatabaseDiskUsage  int64   `json:"database_disk_usage"`
	MemoryUsage        uint64  `json:"memory_usage"`
	MachineMemoryUsage uint64  `json:"machine_memory_usage"`
	MachineMemoryTotal uint64  `json:"machine_memory_total"`
	CPUUsage           float64 `json:"cpu_usage"`
	MachineCPUUsage    float64 `json:"machine_cpu_usage"`
	MaxCPUUsage        float64 `json:"max_cpu_usage"`
	DiskUsage          uint64  `json:"disk_usage"`
	FreeSpace          uint64  `json:"free_space"`
}

// StoreStats 存储统计来源
type StoreStats interface {
	Len() (int, error)
	SizeOnDisk() (int64, error)
}

// systemSample 一次系统采样
type systemSample struct {
	memoryUsage        uint64
	machineMemoryUsage uint64
	machineMemoryTotal uint64
	cpuUsage           float64
	machineCPUUsage    float64
}

// cpuCounters 累计 CPU 时间（秒）
type cpuCounters struct {
	process float64
	busy    float64
	total   float64
	at      time.Time
}

// InfoCollector 汇总 /info 所需数据
//
// CPU 使用率取两次采样之间的差值，第一次调用以创建时刻为起点。
type InfoCollector struct {
	store    StoreStats
	diskPath string

	mu   sync.Mutex
	last cpuCounters
}

// NewInfoCollector 创建采集器，diskPath 所在文件系统用于磁盘统计
func NewInfoCollector(store StoreStats, diskPath string) *InfoCollector {
	c := &InfoCollector{store: store, diskPath: diskPath}
	if counters, err := readCPUCounters(); err == nil {
		c.last = counters
	}
	return c
}

// Collect 采集一次
func (c *InfoCollector) Collect() (*Info, error) {
	count, err := c.store.Len()
	if err != nil {
		return nil, fmt.Errorf("count mails: %w", err)
	}
	size, err := c.store.SizeOnDisk()
	if err != nil {
		return nil, fmt.Errorf("measure storage: %w", err)
	}

	info := &Info{
		MailCount:         count,
		DatabaseDiskUsage: size,
		MaxCPUUsage:       float64(runtime.NumCPU()) * 100,
	}

	c.mu.Lock()
	sample, counters, err := sampleSystem(c.last)
	if err == nil {
		c.last = counters
	}
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("sample system: %w", err)
	}

	info.MemoryUsage = sample.memoryUsage
	info.MachineMemoryUsage = sample.machineMemoryUsage
	info.MachineMemoryTotal = sample.machineMemoryTotal
	info.CPUUsage = sample.cpuUsage
	info.MachineCPUUsage = sample.machineCPUUsage

	if c.diskPath != "" {
		used, free, err := DiskUsage(c.diskPath)
		if err != nil {
			return nil, fmt.Errorf("disk usage: %w", err)
		}
		info.DiskUsage = used
		info.FreeSpace = free
	}

	return info, nil
}

// percent 计算区间占比，分母为 0 时返回 0
func percent(delta, base float64) float64 {
	if base <= 0 || delta < 0 {
		return 0
	}
	return delta / base * 100
}
