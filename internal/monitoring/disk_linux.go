//go:build linux

package monitoring

import (
	"golang.org/x/sys/unix"
)

// DiskUsage 返回 path 所在文件系统的已用与可用字节数
func DiskUsage(path string) (used, free uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	total := st.Blocks * bsize
	free = st.Bavail * bsize
	if total > free {
		used = total - free
	}
	return used, free, nil
}
