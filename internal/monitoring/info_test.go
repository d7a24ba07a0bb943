package monitoring

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct {
	n    int
	size int64
	err  error
}

func (f fakeStats) Len() (int, error)          { return f.n, f.err }
func (f fakeStats) SizeOnDisk() (int64, error) { return f.size, f.err }

func TestInfoCollector(t *testing.T) {
	t.Run("采集存储与系统数据", func(t *testing.T) {
		c := NewInfoCollector(fakeStats{n: 3, size: 4096}, t.TempDir())

		info, err := c.Collect()
		require.NoError(t, err)

		assert.Equal(t, 3, info.MailCount)
		assert.Equal(t, int64(4096), info.DatabaseDiskUsage)
		assert.Equal(t, float64(runtime.NumCPU())*100, info.MaxCPUUsage)
		assert.GreaterOrEqual(t, info.CPUUsage, 0.0)
		assert.GreaterOrEqual(t, info.MachineCPUUsage, 0.0)
		if runtime.GOOS == "linux" {
			assert.Greater(t, info.MemoryUsage, uint64(0))
			assert.Greater(t, info.MachineMemoryTotal, uint64(0))
			assert.Greater(t, info.FreeSpace+info.DiskUsage, uint64(0))
		}

		// 第二次采样使用上一次的计数作为起点
		_, err = c.Collect()
		require.NoError(t, err)
	})

	t.Run("存储错误向上返回", func(t *testing.T) {
		c := NewInfoCollector(fakeStats{err: errors.New("boom")}, "")
		_, err := c.Collect()
		assert.Error(t, err)
	})
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 50.0, percent(1, 2))
	assert.Equal(t, 0.0, percent(1, 0))
	assert.Equal(t, 0.0, percent(-1, 2))
}
