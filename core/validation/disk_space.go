package validation

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// DefaultMinFreeBytes is the free space wanted in the downloads directory
// when images are saved locally.
const DefaultMinFreeBytes int64 = 512 << 20

// DiskSpaceInfo describes the filesystem holding a path.
type DiskSpaceInfo struct {
	Path        string
	Total       int64
	Free        int64
	UsedPercent float64
}

// DiskSpaceError reports that a directory is short of space.
type DiskSpaceError struct {
	Path      string
	Required  int64
	Available int64
}

func (e *DiskSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space at %s: need %s, have %s free",
		e.Path, humanize.IBytes(uint64(e.Required)), humanize.IBytes(uint64(e.Available)))
}

// GetDiskSpace stats the filesystem containing path. Missing paths are
// resolved to their nearest existing parent, so the downloads directory can
// be checked before it is created.
func GetDiskSpace(path string) (*DiskSpaceInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	for {
		info, err := os.Stat(abs)
		if err == nil {
			if !info.IsDir() {
				abs = filepath.Dir(abs)
			}
			break
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("cannot access path %s: %w", abs, err)
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return nil, fmt.Errorf("cannot access path %s: %w", path, err)
		}
		abs = parent
	}

	total, free, err := getDiskSpace(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk space for %s: %w", abs, err)
	}
	var used float64
	if total > 0 {
		used = float64(total-free) / float64(total) * 100
	}
	return &DiskSpaceInfo{Path: abs, Total: total, Free: free, UsedPercent: used}, nil
}

// CheckDiskSpace returns a *DiskSpaceError when path has less than
// required bytes free.
func CheckDiskSpace(path string, required int64) (*DiskSpaceInfo, error) {
	info, err := GetDiskSpace(path)
	if err != nil {
		return nil, err
	}
	if info.Free < required {
		return info, &DiskSpaceError{Path: info.Path, Required: required, Available: info.Free}
	}
	return info, nil
}
