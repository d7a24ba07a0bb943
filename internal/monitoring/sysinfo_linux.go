//go:build linux

package monitoring

import (
	"time"

	"github.com/prometheus/procfs"
)

func readCPUCounters() (cpuCounters, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return cpuCounters{}, err
	}
	self, err := fs.Self()
	if err != nil {
		return cpuCounters{}, err
	}
	procStat, err := self.Stat()
	if err != nil {
		return cpuCounters{}, err
	}
	stat, err := fs.Stat()
	if err != nil {
		return cpuCounters{}, err
	}

	cpu := stat.CPUTotal
	idle := cpu.Idle + cpu.Iowait
	busy := cpu.User + cpu.Nice + cpu.System + cpu.IRQ + cpu.SoftIRQ + cpu.Steal
	return cpuCounters{
		process: procStat.CPUTime(),
		busy:    busy,
		total:   busy + idle,
		at:      time.Now(),
	}, nil
}

func sampleSystem(last cpuCounters) (systemSample, cpuCounters, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return systemSample{}, last, err
	}
	self, err := fs.Self()
	if err != nil {
		return systemSample{}, last, err
	}
	procStat, err := self.Stat()
	if err != nil {
		return systemSample{}, last, err
	}
	meminfo, err := fs.Meminfo()
	if err != nil {
		return systemSample{}, last, err
	}

	now, err := readCPUCounters()
	if err != nil {
		return systemSample{}, last, err
	}

	var sample systemSample
	sample.memoryUsage = uint64(procStat.ResidentMemory())

	// meminfo 单位为 kB
	if meminfo.MemTotal != nil {
		sample.machineMemoryTotal = *meminfo.MemTotal * 1024
		if meminfo.MemAvailable != nil && *meminfo.MemAvailable <= *meminfo.MemTotal {
			sample.machineMemoryUsage = (*meminfo.MemTotal - *meminfo.MemAvailable) * 1024
		}
	}

	if !last.at.IsZero() {
		wall := now.at.Sub(last.at).Seconds()
		sample.cpuUsage = percent(now.process-last.process, wall)
		sample.machineCPUUsage = percent(now.busy-last.busy, now.total-last.total)
	}

	return sample, now, nil
}
