// Package system reports disk usage of the media and voice directories.
package system

import (
	"fmt"
	"math"

	"github.com/book-expert/logger"
	"github.com/book-expert/paperread-tts/internal/fsutil"
	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

const bytesPerMB = 1024 * 1024

// Status is the usage report served to clients.
type Status struct {
	DiskFreeMB   float64 `json:"disk_free_mb"`
	CacheUsageMB float64 `json:"cache_usage_mb"`
	ModelUsageMB float64 `json:"model_usage_mb"`
}

// Config names the directories to measure.
type Config struct {
	MediaDir string
	VoiceDir string
}

// Report measures free space on the media volume, the size of the cached
// WAV files and the size of the installed voice models.
func Report(cfg Config, log *logger.Logger) (*Status, error) {
	freeBytes, err := FreeBytes(cfg.MediaDir)
	if err != nil {
		return nil, err
	}

	cacheBytes, err := fsutil.GlobSize(cfg.MediaDir, "*.wav")
	if err != nil {
		return nil, err
	}

	modelBytes, err := fsutil.DirSize(cfg.VoiceDir)
	if err != nil {
		return nil, err
	}

	log.Info("System status: %s free, cache %s, models %s",
		humanize.IBytes(freeBytes),
		humanize.IBytes(uint64(cacheBytes)), // #nosec G115
		humanize.IBytes(uint64(modelBytes)), // #nosec G115
	)

	return &Status{
		DiskFreeMB:   toMB(float64(freeBytes)),
		CacheUsageMB: toMB(float64(cacheBytes)),
		ModelUsageMB: toMB(float64(modelBytes)),
	}, nil
}

// FreeBytes returns the space available to unprivileged users on the
// filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t

	err := unix.Statfs(path, &stat)
	if err != nil {
		return 0, fmt.Errorf("failed to stat filesystem of %s: %w", path, err)
	}

	return stat.Bavail * uint64(stat.Bsize), nil // #nosec G115
}

func toMB(bytes float64) float64 {
	return math.Round(bytes/bytesPerMB*100) / 100
}
