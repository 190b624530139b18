package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	ErrUnsupportedWAV = errors.New("unsupported wav format")
	ErrInvalidWAV     = errors.New("invalid wav file")
)

const formatPCM = 1

// Info describes the stream of a WAV container.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Format     uint16
	Duration   time.Duration
}

// PCM16 reports whether the stream is uncompressed 16-bit integer PCM.
func (i Info) PCM16() bool {
	return i.Format == formatPCM && i.BitDepth == 16
}

// Matches reports whether the stream is 16-bit PCM at the given rate and channel count.
func (i Info) Matches(sampleRate, channels int) bool {
	return i.PCM16() && i.SampleRate == sampleRate && i.Channels == channels
}

func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return Info{}, ErrInvalidWAV
	}

	duration, err := d.Duration()
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}

	return Info{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
		Format:     d.WavAudioFormat,
		Duration:   duration,
	}, nil
}

// ReadPCM16 decodes a whole 16-bit PCM WAV file into memory.
func ReadPCM16(path string) (*goaudio.IntBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, ErrInvalidWAV
	}
	if d.WavAudioFormat != formatPCM || d.BitDepth != 16 {
		return nil, fmt.Errorf("%w: format=%d bits=%d", ErrUnsupportedWAV, d.WavAudioFormat, d.BitDepth)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if buf.Format == nil {
		buf.Format = &goaudio.Format{NumChannels: int(d.NumChans), SampleRate: int(d.SampleRate)}
	}
	return buf, nil
}

// WritePCM16 encodes interleaved samples as a 16-bit PCM WAV file.
func WritePCM16(path string, samples []int, sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("%w: rate=%d channels=%d", ErrUnsupportedWAV, sampleRate, channels)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, channels, formatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}

	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close wav: %w", err)
	}
	return nil
}

// Convert rewrites a 16-bit PCM WAV at the requested rate and channel count.
func Convert(src, dst string, sampleRate, channels int) error {
	buf, err := ReadPCM16(src)
	if err != nil {
		return err
	}

	srcChannels := buf.Format.NumChannels
	srcRate := buf.Format.SampleRate
	if srcChannels <= 0 || srcRate <= 0 {
		return ErrInvalidWAV
	}

	data := Remix(buf.Data, srcChannels, channels)
	data = Resample(data, channels, srcRate, sampleRate)
	return WritePCM16(dst, data, sampleRate, channels)
}

// Remix maps interleaved frames from one channel count to another. Frames are
// averaged to mono first unless the counts already match.
func Remix(data []int, from, to int) []int {
	if from == to || from <= 0 || to <= 0 {
		return data
	}

	frames := len(data) / from
	out := make([]int, frames*to)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < from; c++ {
			sum += data[i*from+c]
		}
		mono := int(math.Round(float64(sum) / float64(from)))
		for c := 0; c < to; c++ {
			out[i*to+c] = mono
		}
	}
	return out
}

// Resample converts interleaved frames between sample rates with linear interpolation.
func Resample(data []int, channels, from, to int) []int {
	if from == to || from <= 0 || to <= 0 || channels <= 0 || len(data) == 0 {
		return data
	}

	frames := len(data) / channels
	outFrames := int(int64(frames) * int64(to) / int64(from))
	out := make([]int, outFrames*channels)
	ratio := float64(from) / float64(to)

	for i := 0; i < outFrames; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= frames {
			next = frames - 1
		}

		for c := 0; c < channels; c++ {
			a := float64(data[idx*channels+c])
			b := float64(data[next*channels+c])
			out[i*channels+c] = clamp16(int(math.Round(a + (b-a)*frac)))
		}
	}
	return out
}

func clamp16(v int) int {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return v
	}
}
