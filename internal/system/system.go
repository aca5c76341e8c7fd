package system

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

// InitResourceLimits raises the open file limit. The fitz decoder opens a
// document handle per render, so a fast scroll can hold many at once.
func InitResourceLimits() {
	var rLimit syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Printf("[!] Could not read the open file limit: %v", err)
		return
	}

	rLimit.Cur = 2048
	if rLimit.Cur > rLimit.Max {
		rLimit.Cur = rLimit.Max
	}

	err = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Printf("[!] Could not raise the open file limit: %v", err)
	} else {
		fmt.Printf("[*] Open file limit raised to %d\n", rLimit.Cur)
	}
}

// FindLatestPDF returns the most recently modified PDF in dir.
func FindLatestPDF(dir string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(strings.ToLower(f.Name()), ".pdf") {
			info, err := f.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(latestTime) {
				latestTime = info.ModTime()
				latestFile = filepath.Join(dir, f.Name())
			}
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("no PDF files found in %s", dir)
	}

	return latestFile, nil
}

// HostMemory describes the machine's physical memory in bytes.
type HostMemory struct {
	Total     uint64
	Available uint64
}

// ReadHostMemory queries the operating system for memory statistics.
func ReadHostMemory(ctx context.Context) (HostMemory, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HostMemory{}, fmt.Errorf("reading host memory: %w", err)
	}
	return HostMemory{Total: vm.Total, Available: vm.Available}, nil
}

// fallbackBudget is used when the host cannot report its memory.
const fallbackBudget = 256 << 20

// SurfaceBudget suggests how many bytes of page surfaces may be kept alive:
// an eighth of the available memory, never less than 64 MiB.
func SurfaceBudget(ctx context.Context) int64 {
	hm, err := ReadHostMemory(ctx)
	if err != nil || hm.Available == 0 {
		return fallbackBudget
	}
	budget := int64(hm.Available / 8)
	if budget < 64<<20 {
		budget = 64 << 20
	}
	return budget
}
