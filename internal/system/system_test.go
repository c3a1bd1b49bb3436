package system

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindLatestVideo(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	files := map[string]time.Duration{
		"old.mp4":    -3 * time.Hour,
		"newest.MOV": -1 * time.Hour,
		"notes.txt":  0,
		"mid.webm":   -2 * time.Hour,
	}
	for name, age := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		require.NoError(t, os.Chtimes(p, now.Add(age), now.Add(age)))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.mp4"), 0o755))

	got, err := FindLatestVideo(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "newest.MOV"), got)
}

func TestFindLatestVideoEmpty(t *testing.T) {
	_, err := FindLatestVideo(t.TempDir())
	assert.ErrorIs(t, err, ErrNoVideo)
}

func TestParseProbe(t *testing.T) {
	out := []byte(`{
  "programs": [],
  "streams": [
    {"codec_type": "audio"},
    {"codec_type": "video", "width": 1920, "height": 1080}
  ],
  "format": {"duration": "12.480000"}
}`)

	info, err := ParseProbe(out)
	require.NoError(t, err)
	assert.Equal(t, VideoInfo{Width: 1920, Height: 1080, Duration: 12.48, HasAudio: true}, info)
}

func TestParseProbeWithoutDimensions(t *testing.T) {
	info, err := ParseProbe([]byte(`{"streams":[{"codec_type":"video"}],"format":{}}`))
	require.NoError(t, err)
	assert.Zero(t, info.Width)
	assert.Zero(t, info.Height)
	assert.False(t, info.HasAudio)

	_, err = ParseProbe([]byte("not json"))
	assert.Error(t, err)
}

func TestParseEncoders(t *testing.T) {
	out := `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libvpx               libvpx VP8 (codec vp8)
 V....D libvpx-vp9           libvpx VP9 (codec vp9)
 A....D libopus              libopus Opus (codec opus)
 A....D aac                  AAC (Advanced Audio Coding)
`
	enc := ParseEncoders(out)
	assert.True(t, enc["libvpx"])
	assert.True(t, enc["libvpx-vp9"])
	assert.True(t, enc["libopus"])
	assert.True(t, enc["aac"])
	assert.False(t, enc["="])
	assert.False(t, enc["Video"])
	assert.Len(t, enc, 4)
}

func TestSurfacePoolReusesBySize(t *testing.T) {
	p := NewSurfacePool()
	rect := image.Rect(0, 0, 64, 36)

	img := p.Get(rect)
	require.Equal(t, rect, img.Rect)
	p.Put(img)

	other := p.Get(image.Rect(0, 0, 32, 32))
	assert.Equal(t, image.Rect(0, 0, 32, 32), other.Rect)

	// a translated rectangle of the same size yields an origin-anchored surface
	moved := p.Get(image.Rect(10, 10, 74, 46))
	assert.Equal(t, rect, moved.Rect)

	p.Put(nil)
}
