// Package audio turns audio files into the log-mel spectrogram tensors the
// genre model consumes.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/matsen/muse/internal/tensor"
)

// Errors returned by feature extraction.
var (
	// ErrNotFound indicates the audio file does not exist.
	ErrNotFound = errors.New("audio file not found")

	// ErrDecode indicates the file could not be decoded.
	ErrDecode = errors.New("audio decode failed")

	// ErrUnsupportedFormat indicates a recognized extension without a decoder.
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrDecode)
)

// Extensions lists the recognized audio file extensions.
var Extensions = []string{".mp3", ".wav", ".flac", ".ogg", ".m4a", ".aac", ".wma", ".au"}

// IsAudioFile reports whether path has a recognized audio extension.
func IsAudioFile(path string) bool {
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(path)))
}

// Params are the spectrogram extraction parameters. They must match the
// parameters the model was trained with.
type Params struct {
	SampleRate int
	NumMels    int
	FFTSize    int
	HopLength  int
	MaxFrames  int
	MaxSeconds float64
	TopDB      float64
}

// DefaultParams returns the parameters of the shipped genre model.
func DefaultParams() Params {
	return Params{
		SampleRate: 22050,
		NumMels:    128,
		FFTSize:    2048,
		HopLength:  1024,
		MaxFrames:  512,
		MaxSeconds: 30,
		TopDB:      80,
	}
}

// Extractor computes fixed-shape [NumMels, MaxFrames, 1] tensors from audio
// files. It is safe for concurrent use.
type Extractor struct {
	params Params
	window []float64
	bank   [][]float64
}

// NewExtractor creates an extractor with the given parameters.
func NewExtractor(p Params) *Extractor {
	return &Extractor{
		params: p,
		window: hann(p.FFTSize),
		bank:   melFilterBank(p.NumMels, p.FFTSize, p.SampleRate, 0, float64(p.SampleRate)/2),
	}
}

// Extract decodes path and returns its spectrogram tensor.
func (e *Extractor) Extract(ctx context.Context, path string) (tensor.Tensor, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return tensor.Tensor{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return tensor.Tensor{}, err
	}
	if err := ctx.Err(); err != nil {
		return tensor.Tensor{}, err
	}

	samples, rate, err := Decode(path, e.params.MaxSeconds)
	if err != nil {
		return tensor.Tensor{}, err
	}
	if err := ctx.Err(); err != nil {
		return tensor.Tensor{}, err
	}
	return e.FromSamples(samples, rate)
}

// FromSamples computes the spectrogram tensor of mono samples at rate Hz.
func (e *Extractor) FromSamples(samples []float64, rate int) (tensor.Tensor, error) {
	if len(samples) == 0 {
		return tensor.Tensor{}, fmt.Errorf("%w: no samples", ErrDecode)
	}
	if rate != e.params.SampleRate {
		var err error
		samples, err = Resample(samples, rate, e.params.SampleRate)
		if err != nil {
			return tensor.Tensor{}, err
		}
	}
	if limit := int(e.params.MaxSeconds * float64(e.params.SampleRate)); limit > 0 && len(samples) > limit {
		samples = samples[:limit]
	}

	mel := e.melSpectrogram(samples)
	toDB(mel, e.params.TopDB)
	minMaxScale(mel)
	return e.fixFrames(mel), nil
}

// melSpectrogram returns mel power per band and frame ([mel][frame]).
func (e *Extractor) melSpectrogram(samples []float64) [][]float64 {
	power := stft(samples, e.params.FFTSize, e.params.HopLength, e.window)
	mel := make([][]float64, len(e.bank))
	for m, filter := range e.bank {
		row := make([]float64, len(power))
		for t, frame := range power {
			var sum float64
			for k, w := range filter {
				if w != 0 {
					sum += w * frame[k]
				}
			}
			row[t] = sum
		}
		mel[m] = row
	}
	return mel
}

// fixFrames crops or zero-pads the time axis to MaxFrames and adds a
// trailing channel axis.
func (e *Extractor) fixFrames(mel [][]float64) tensor.Tensor {
	out := tensor.New(e.params.NumMels, e.params.MaxFrames, 1)
	for m, row := range mel {
		n := min(len(row), e.params.MaxFrames)
		base := m * e.params.MaxFrames
		for t := 0; t < n; t++ {
			out.Data[base+t] = float32(row[t])
		}
	}
	return out
}

// stft returns the power spectrum of centered, Hann-windowed frames. The
// signal is zero-padded by n/2 on both sides.
func stft(x []float64, n, hop int, window []float64) [][]float64 {
	padded := make([]float64, len(x)+n)
	copy(padded[n/2:], x)

	frames := 1 + (len(padded)-n)/hop
	fft := fourier.NewFFT(n)
	buf := make([]float64, n)
	var coeffs []complex128
	power := make([][]float64, frames)
	for i := range power {
		start := i * hop
		for k := range buf {
			buf[k] = padded[start+k] * window[k]
		}
		coeffs = fft.Coefficients(coeffs, buf)
		row := make([]float64, n/2+1)
		for k := range row {
			re, im := real(coeffs[k]), imag(coeffs[k])
			row[k] = re*re + im*im
		}
		power[i] = row
	}
	return power
}
