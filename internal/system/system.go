package system

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// ErrNoVideo is returned by FindLatestVideo when the folder has no clips.
var ErrNoVideo = errors.New("no video files found")

// VideoExtensions are the container suffixes picked up from input folders.
var VideoExtensions = []string{".mp4", ".mov", ".webm", ".mkv", ".m4v", ".avi"}

// InitResourceLimits raises the open file limit. Every export keeps several
// decoder and encoder pipes open at once.
func InitResourceLimits() {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		logrus.WithError(err).Warn("Не удалось получить лимит файлов")
		return
	}

	want := uint64(2048)
	if want > rLimit.Max {
		want = rLimit.Max
	}
	if rLimit.Cur >= want {
		return
	}
	rLimit.Cur = want

	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		logrus.WithError(err).Warn("Не удалось установить лимит файлов")
		return
	}
	logrus.WithField("nofile", rLimit.Cur).Debug("Open file limit raised")
}

// FindLatestVideo returns the most recently modified video file in dir.
func FindLatestVideo(dir string) (string, error) {
	return findLatest(dir, VideoExtensions)
}

func findLatest(dir string, extensions []string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, f := range files {
		if f.IsDir() || !hasExtension(f.Name(), extensions) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if latestFile == "" || info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latestFile = filepath.Join(dir, f.Name())
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("%w in %s", ErrNoVideo, dir)
	}
	return latestFile, nil
}

func hasExtension(name string, extensions []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// VideoInfo is what ffprobe reports about a clip.
type VideoInfo struct {
	Width    int
	Height   int
	Duration float64
	HasAudio bool
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeVideo runs ffprobe on path. Width and Height stay zero when the file
// carries no video stream metadata.
func ProbeVideo(ctx context.Context, ffprobe, path string) (VideoInfo, error) {
	cmd := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-show_entries", "stream=codec_type,width,height:format=duration",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return VideoInfo{}, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return VideoInfo{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return ParseProbe(out)
}

// ParseProbe decodes ffprobe JSON output.
func ParseProbe(data []byte) (VideoInfo, error) {
	var p probeOutput
	if err := json.Unmarshal(data, &p); err != nil {
		return VideoInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var info VideoInfo
	for _, s := range p.Streams {
		switch s.CodecType {
		case "video":
			if info.Width == 0 && s.Width > 0 && s.Height > 0 {
				info.Width, info.Height = s.Width, s.Height
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if p.Format.Duration != "" {
		d, err := strconv.ParseFloat(p.Format.Duration, 64)
		if err == nil {
			info.Duration = d
		}
	}
	return info, nil
}

// SupportedEncoders lists the encoder names compiled into ffmpeg.
func SupportedEncoders(ctx context.Context, ffmpeg string) (map[string]bool, error) {
	cmd := exec.CommandContext(ctx, ffmpeg, "-hide_banner", "-encoders")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg -encoders: %w", err)
	}
	return ParseEncoders(string(out)), nil
}

// ParseEncoders reads the table printed by `ffmpeg -encoders`. Rows look
// like " V....D libvpx-vp9           libvpx VP9"; the legend above the
// " ------" separator is skipped.
func ParseEncoders(out string) map[string]bool {
	encoders := make(map[string]bool)
	inTable := false

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "---") {
			inTable = true
			continue
		}
		if !inTable {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

// HostStats is a snapshot of machine load for the performance report.
type HostStats struct {
	CPUs        int
	CPUPercent  float64
	MemTotal    uint64
	MemUsed     uint64
	MemUsedPerc float64
}

// ReadHostStats samples CPU over interval (zero means since last call).
func ReadHostStats(interval time.Duration) (HostStats, error) {
	var hs HostStats

	vm, err := mem.VirtualMemory()
	if err != nil {
		return hs, fmt.Errorf("virtual memory: %w", err)
	}
	hs.MemTotal = vm.Total
	hs.MemUsed = vm.Used
	hs.MemUsedPerc = vm.UsedPercent

	counts, err := cpu.Counts(true)
	if err == nil {
		hs.CPUs = counts
	}
	perc, err := cpu.Percent(interval, false)
	if err == nil && len(perc) > 0 {
		hs.CPUPercent = perc[0]
	}
	return hs, nil
}

func (hs HostStats) String() string {
	return fmt.Sprintf("CPU: %d cores @ %.1f%% | RAM: %.0f/%.0f MiB (%.1f%%)",
		hs.CPUs, hs.CPUPercent,
		float64(hs.MemUsed)/(1<<20), float64(hs.MemTotal)/(1<<20), hs.MemUsedPerc)
}
