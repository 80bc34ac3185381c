package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"
)

const (
	// Reserved for the Go runtime, libraries, and heap overhead.
	runtimeOverheadBytes = 64 * 1024 * 1024

	// Fixed cost per connection slot beyond the request buffer: pollfd
	// entry, table bookkeeping, kernel socket buffers.
	slotOverheadBytes = 8 * 1024

	minDerivedConns = 50
	maxDerivedConns = 10000
)

// detectMemoryLimit returns the memory budget for capacity sizing in
// bytes. It prefers the container cgroup limit (v2 then v1) and falls
// back to total system memory. 0 means nothing could be detected.
func detectMemoryLimit() int64 {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			if limit, err := strconv.ParseInt(limitStr, 10, 64); err == nil {
				return limit
			}
		}
	}

	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limit, err := strconv.ParseInt(limitStr, 10, 64); err == nil {
			return limit
		}
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		return int64(vm.Total)
	}
	return 0
}

// deriveMaxConns sizes the connection table from the available memory.
// Used only when TRIPGATE_MAX_CONNS=0 asks for auto sizing.
func deriveMaxConns(memoryLimitBytes int64, bufferSize int) int {
	if memoryLimitBytes <= 0 {
		return minDerivedConns
	}

	bytesPerConn := int64(bufferSize + slotOverheadBytes)

	availableBytes := memoryLimitBytes - runtimeOverheadBytes
	if availableBytes < 0 {
		availableBytes = memoryLimitBytes / 2
	}

	maxConns := int(availableBytes / bytesPerConn)
	if maxConns < minDerivedConns {
		return minDerivedConns
	}
	if maxConns > maxDerivedConns {
		return maxDerivedConns
	}
	return maxConns
}
