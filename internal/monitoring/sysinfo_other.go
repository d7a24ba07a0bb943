//go:build !linux

package monitoring

import (
	"runtime"
	"time"
)

func readCPUCounters() (cpuCounters, error) {
	return cpuCounters{at: time.Now()}, nil
}

// sampleSystem 非 Linux 平台只提供 Go 运行时的内存统计
func sampleSystem(last cpuCounters) (systemSample, cpuCounters, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return systemSample{memoryUsage: ms.Sys}, cpuCounters{at: time.Now()}, nil
}
