package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the run parameters of one export invocation.
type Config struct {
	InputPath    string
	OutputPath   string
	TimelinePath string
	MonitorPath  string
	SnapshotAt   float64
	SampleRate   int
	VideoBitrate int
	FFmpegBin    string
	FFprobeBin   string
	LogLevel     string
	ShowStats    bool
	BuildVersion string
}

// CaptureFPS is the fixed frame rate of decoding and recording.
const CaptureFPS = 30

const (
	DefaultSampleRate   = 48000
	DefaultVideoBitrate = 6_000_000
	DefaultWidth        = 1280
	DefaultHeight       = 720
	ArtifactName        = "export.webm"
)

// Default returns a Config with env overrides applied.
func Default() *Config {
	cfg := &Config{
		OutputPath:   "output/" + ArtifactName,
		SnapshotAt:   -1,
		SampleRate:   DefaultSampleRate,
		VideoBitrate: DefaultVideoBitrate,
		FFmpegBin:    "ffmpeg",
		FFprobeBin:   "ffprobe",
		LogLevel:     "info",
	}
	cfg.ApplyEnv()
	return cfg
}

// LoadEnv reads .env files if present. Missing files are not an error.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides binaries and log level from TEXTOVERLAY_* variables.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("TEXTOVERLAY_FFMPEG")); v != "" {
		c.FFmpegBin = v
	}
	if v := strings.TrimSpace(os.Getenv("TEXTOVERLAY_FFPROBE")); v != "" {
		c.FFprobeBin = v
	}
	if v := strings.TrimSpace(os.Getenv("TEXTOVERLAY_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
}
