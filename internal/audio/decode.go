package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// wavFormatPCM is the WAVE format tag for integer PCM.
const wavFormatPCM = 1

// Decode reads up to maxSeconds (0 for all) of path as mono samples in
// [-1, 1] and returns them with their sample rate. WAV and MP3 are
// supported; other recognized extensions fail with ErrUnsupportedFormat.
func Decode(path string, maxSeconds float64) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		return decodeWAV(f, maxSeconds)
	case ".mp3":
		return decodeMP3(f, maxSeconds)
	default:
		return nil, 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func decodeWAV(r io.ReadSeeker, maxSeconds float64) ([]float64, int, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: not a valid WAV file", ErrDecode)
	}
	if d.WavAudioFormat != wavFormatPCM {
		return nil, 0, fmt.Errorf("%w: WAV format tag %d", ErrUnsupportedFormat, d.WavAudioFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, 0, fmt.Errorf("%w: missing WAV format", ErrDecode)
	}

	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(d.BitDepth)
	}
	if depth <= 0 || depth > 32 {
		return nil, 0, fmt.Errorf("%w: %d-bit WAV", ErrUnsupportedFormat, depth)
	}
	scale := float64(int64(1) << (depth - 1))
	offset := 0.0
	if depth == 8 {
		offset = 128
	}

	channels := buf.Format.NumChannels
	rate := buf.Format.SampleRate
	frames := len(buf.Data) / channels
	if limit := int(maxSeconds * float64(rate)); limit > 0 && frames > limit {
		frames = limit
	}

	out := make([]float64, frames)
	for i := range out {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += (float64(buf.Data[i*channels+c]) - offset) / scale
		}
		out[i] = sum / float64(channels)
	}
	return out, rate, nil
}

func decodeMP3(r io.Reader, maxSeconds float64) ([]float64, int, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	rate := d.SampleRate()

	// go-mp3 always yields 16-bit little-endian stereo frames.
	const frameBytes = 4
	limit := int(maxSeconds * float64(rate))

	var out []float64
	buf := make([]byte, 4096*frameBytes)
	for limit <= 0 || len(out) < limit {
		n, err := io.ReadFull(d, buf)
		for i := 0; i+frameBytes <= n; i += frameBytes {
			left := int16(binary.LittleEndian.Uint16(buf[i:]))
			right := int16(binary.LittleEndian.Uint16(buf[i+2:]))
			out = append(out, (float64(left)+float64(right))/2/32768)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrDecode, err)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if len(out) == 0 {
		return nil, 0, fmt.Errorf("%w: no audio frames", ErrDecode)
	}
	return out, rate, nil
}
