package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/textoverlay/internal/system"
)

// VideoSource is a clip on disk decoded by ffmpeg.
type VideoSource struct {
	path    string
	ffmpeg  string
	ffprobe string

	mu     sync.Mutex
	info   system.VideoInfo
	probed bool
}

// NewVideoSource probes path once. A failed probe is not fatal: the
// dimensions are probed again on the next Dimensions call.
func NewVideoSource(ctx context.Context, path, ffmpeg, ffprobe string) (*VideoSource, error) {
	v := &VideoSource{path: path, ffmpeg: ffmpeg, ffprobe: ffprobe}
	if err := v.probe(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *VideoSource) probe(ctx context.Context) error {
	info, err := system.ProbeVideo(ctx, v.ffprobe, v.path)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.info = info
	v.probed = info.Width > 0 && info.Height > 0
	v.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "VideoSource.probe",
		"path":     v.path,
		"width":    info.Width,
		"height":   info.Height,
		"duration": info.Duration,
		"audio":    info.HasAudio,
	}).Debug("Source probed")
	return nil
}

func (v *VideoSource) Path() string {
	return v.path
}

func (v *VideoSource) Dimensions() (int, int, bool) {
	v.mu.Lock()
	probed := v.probed
	v.mu.Unlock()
	if !probed {
		if err := v.probe(context.Background()); err != nil {
			logrus.WithError(err).WithField("path", v.path).Debug("Re-probe failed")
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.info.Width, v.info.Height, v.probed
}

func (v *VideoSource) Duration() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.info.Duration
}

func (v *VideoSource) HasAudio() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.info.HasAudio
}

func (v *VideoSource) OpenFrames(ctx context.Context, w, h, fps int) (FrameReader, error) {
	args := []string{
		"-v", "error",
		"-i", v.path,
		"-an",
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d:flags=bilinear", fps, w, h),
		"-pix_fmt", "rgba",
		"-f", "rawvideo",
		"pipe:1",
	}
	p, err := startDecoder(ctx, v.ffmpeg, args)
	if err != nil {
		return nil, fmt.Errorf("video decoder: %w", err)
	}
	return &rawFrames{r: p.stdout, closer: p.Close}, nil
}

func (v *VideoSource) OpenAudio(ctx context.Context, sampleRate int) (io.ReadCloser, error) {
	if !v.HasAudio() {
		return nil, nil
	}
	args := []string{
		"-v", "error",
		"-i", v.path,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "f32le",
		"pipe:1",
	}
	p, err := startDecoder(ctx, v.ffmpeg, args)
	if err != nil {
		return nil, fmt.Errorf("audio decoder: %w", err)
	}
	return p, nil
}

func (v *VideoSource) Close() error {
	return nil
}

// decoder is an ffmpeg process whose stdout is the decoded stream.
type decoder struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
	once   sync.Once
	err    error
}

func startDecoder(ctx context.Context, bin string, args []string) (*decoder, error) {
	d := &decoder{}
	d.cmd = exec.CommandContext(ctx, bin, args...)
	d.cmd.Stderr = &d.stderr

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe error: %w", err)
	}
	d.stdout = stdout

	if err := d.cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start error: %w", err)
	}
	return d, nil
}

func (d *decoder) Read(p []byte) (int, error) {
	return d.stdout.Read(p)
}

// Close stops the process if it is still running and reaps it.
func (d *decoder) Close() error {
	d.once.Do(func() {
		if d.cmd.ProcessState == nil && d.cmd.Process != nil {
			_ = d.cmd.Process.Kill()
		}
		_ = d.stdout.Close()
		if err := d.cmd.Wait(); err != nil && d.stderr.Len() > 0 {
			d.err = fmt.Errorf("ffmpeg decoder: %w: %s", err, bytes.TrimSpace(d.stderr.Bytes()))
		}
	})
	return d.err
}
