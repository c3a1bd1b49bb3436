package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// WAVWriter streams 16-bit mono PCM. The RIFF sizes are patched on Close
// when the underlying writer can seek; otherwise they stay at the
// streaming placeholder 0xFFFFFFFF.
type WAVWriter struct {
	w          io.Writer
	sampleRate int
	dataBytes  uint32
	clipped    int
	buf        []byte
}

func NewWAVWriter(w io.Writer, sampleRate int) (*WAVWriter, error) {
	ww := &WAVWriter{w: w, sampleRate: sampleRate}
	if err := ww.writeHeader(0xFFFFFFFF); err != nil {
		return nil, fmt.Errorf("wav header: %w", err)
	}
	return ww, nil
}

func (ww *WAVWriter) writeHeader(dataSize uint32) error {
	const channels, bits = 1, 16
	riff := dataSize
	if dataSize != 0xFFFFFFFF {
		riff = 36 + dataSize
	}
	h := make([]byte, 44)
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], riff)
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	binary.LittleEndian.PutUint32(h[16:], 16)
	binary.LittleEndian.PutUint16(h[20:], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:], channels)
	binary.LittleEndian.PutUint32(h[24:], uint32(ww.sampleRate))
	binary.LittleEndian.PutUint32(h[28:], uint32(ww.sampleRate*channels*bits/8))
	binary.LittleEndian.PutUint16(h[32:], channels*bits/8)
	binary.LittleEndian.PutUint16(h[34:], bits)
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], dataSize)
	_, err := ww.w.Write(h)
	return err
}

// Write converts samples in [-1, 1] to int16 with clipping protection.
func (ww *WAVWriter) Write(samples []float64) error {
	if cap(ww.buf) < 2*len(samples) {
		ww.buf = make([]byte, 2*len(samples))
	}
	b := ww.buf[:2*len(samples)]
	for i, s := range samples {
		v := math.Round(s * 32767)
		if v > 32767 {
			v = 32767
			ww.clipped++
		} else if v < -32768 {
			v = -32768
			ww.clipped++
		}
		binary.LittleEndian.PutUint16(b[2*i:], uint16(int16(v)))
	}
	n, err := ww.w.Write(b)
	ww.dataBytes += uint32(n)
	return err
}

// Clipped counts samples that exceeded full scale.
func (ww *WAVWriter) Clipped() int {
	return ww.clipped
}

// Close patches the header sizes if possible. It does not close the
// underlying writer.
func (ww *WAVWriter) Close() error {
	s, ok := ww.w.(io.WriteSeeker)
	if !ok {
		return nil
	}
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := ww.writeHeader(ww.dataBytes); err != nil {
		return err
	}
	_, err := s.Seek(0, io.SeekEnd)
	return err
}
