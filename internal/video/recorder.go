package video

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrRecorderFault wraps any failure of the encoder process.
var ErrRecorderFault = errors.New("recorder fault")

const chunkSize = 64 * 1024

// FFmpegRecorder pipes rawvideo on stdin and f32le mono audio on fd 3 into
// ffmpeg and collects the WebM written to stdout.
type FFmpegRecorder struct {
	bin  string
	opts RecorderOptions

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	audioW *os.File
	stdout io.ReadCloser
	stderr bytes.Buffer

	stopOnce sync.Once
	done     chan struct{}
	abuf     []byte
}

func newFFmpegRecorder(bin string, opts RecorderOptions) (*FFmpegRecorder, error) {
	if opts.Width <= 0 || opts.Height <= 0 || opts.FPS <= 0 || opts.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid recorder options: %dx%d@%d, %d Hz", opts.Width, opts.Height, opts.FPS, opts.SampleRate)
	}
	if opts.Mime == "" {
		opts.Mime = GenericMime
	}
	return &FFmpegRecorder{bin: bin, opts: opts, done: make(chan struct{})}, nil
}

func (r *FFmpegRecorder) buildFFmpegArgs() []string {
	o := r.opts
	args := []string{
		"-y",
		"-v", "error",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", o.Width, o.Height),
		"-framerate", strconv.Itoa(o.FPS),
		"-i", "pipe:0",
		"-f", "f32le",
		"-ar", strconv.Itoa(o.SampleRate),
		"-ac", "1",
		"-i", "pipe:3",
		"-map", "0:v",
		"-map", "1:a",
		"-pix_fmt", "yuv420p",
	}

	_, codecs := ParseMime(o.Mime)
	for _, c := range codecs {
		enc, ok := Codecs[c]
		if !ok {
			continue
		}
		switch c {
		case "vp9", "vp8":
			args = append(args, "-c:v", enc, "-deadline", "realtime", "-cpu-used", "8")
		default:
			args = append(args, "-c:a", enc)
		}
	}

	if o.VideoBitrate > 0 {
		args = append(args, "-b:v", strconv.Itoa(o.VideoBitrate))
	}
	args = append(args, "-f", "webm", "pipe:1")
	return args
}

func (r *FFmpegRecorder) Start(ctx context.Context) error {
	r.cmd = exec.CommandContext(ctx, r.bin, r.buildFFmpegArgs()...)
	r.cmd.Stderr = &r.stderr

	stdin, err := r.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe error: %w", err)
	}
	r.stdin = stdin

	stdout, err := r.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe error: %w", err)
	}
	r.stdout = stdout

	audioR, audioW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("audio pipe error: %w", err)
	}
	r.cmd.ExtraFiles = []*os.File{audioR}
	r.audioW = audioW

	if err := r.cmd.Start(); err != nil {
		audioR.Close()
		audioW.Close()
		return fmt.Errorf("ffmpeg start error: %w", err)
	}
	audioR.Close()

	logrus.WithFields(logrus.Fields{
		"function": "FFmpegRecorder.Start",
		"mime":     r.opts.Mime,
		"size":     fmt.Sprintf("%dx%d", r.opts.Width, r.opts.Height),
		"fps":      r.opts.FPS,
		"pid":      r.cmd.Process.Pid,
	}).Debug("Recorder started")

	go r.collect()
	return nil
}

// collect forwards stdout chunks, then reaps the process and reports the
// outcome. OnStop runs only after every chunk was handed to OnData.
func (r *FFmpegRecorder) collect() {
	defer close(r.done)

	buf := make([]byte, chunkSize)
	var readErr error
	for {
		n, err := r.stdout.Read(buf)
		if n > 0 && r.opts.OnData != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			r.opts.OnData(chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}

	err := r.cmd.Wait()
	if err == nil {
		err = readErr
	}
	if err != nil {
		fault := fmt.Errorf("%w: %v: %s", ErrRecorderFault, err, bytes.TrimSpace(r.stderr.Bytes()))
		logrus.WithError(fault).WithField("function", "FFmpegRecorder.collect").Error("Recorder failed")
		if r.opts.OnError != nil {
			r.opts.OnError(fault)
		}
		return
	}
	if r.opts.OnStop != nil {
		r.opts.OnStop()
	}
}

func (r *FFmpegRecorder) WriteVideo(frame *image.RGBA) error {
	if err := writeRawRGBA(r.stdin, frame, r.opts.Width, r.opts.Height); err != nil {
		return fmt.Errorf("%w: write video: %v", ErrRecorderFault, err)
	}
	return nil
}

// writeRawRGBA writes tightly packed pixels, repacking surfaces with a
// foreign stride or offset.
func writeRawRGBA(w io.Writer, img *image.RGBA, width, height int) error {
	bounds := img.Bounds()
	if bounds.Dx() != width || bounds.Dy() != height {
		return fmt.Errorf("frame is %dx%d, recorder expects %dx%d", bounds.Dx(), bounds.Dy(), width, height)
	}
	if img.Stride != width*4 || bounds.Min != (image.Point{}) {
		packed := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Draw(packed, packed.Bounds(), img, bounds.Min, draw.Src)
		img = packed
	}
	_, err := w.Write(img.Pix)
	return err
}

func (r *FFmpegRecorder) WriteAudio(samples []float32) error {
	if cap(r.abuf) < 4*len(samples) {
		r.abuf = make([]byte, 4*len(samples))
	}
	b := r.abuf[:4*len(samples)]
	for i, s := range samples {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(s))
	}
	if _, err := r.audioW.Write(b); err != nil {
		return fmt.Errorf("%w: write audio: %v", ErrRecorderFault, err)
	}
	return nil
}

func (r *FFmpegRecorder) Stop() error {
	if r.stdin == nil || r.audioW == nil {
		return nil
	}
	var err error
	r.stopOnce.Do(func() {
		err = errors.Join(r.stdin.Close(), r.audioW.Close())
	})
	return err
}

// Close kills the process if it is still running and waits for the
// collector to finish.
func (r *FFmpegRecorder) Close() error {
	if r.cmd == nil || r.cmd.Process == nil {
		return nil
	}
	_ = r.Stop()
	select {
	case <-r.done:
		return nil
	default:
	}
	_ = r.cmd.Process.Kill()
	<-r.done
	return nil
}
