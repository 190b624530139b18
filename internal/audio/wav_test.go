package audio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProbeReportsStreamFormat(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stereo.wav")
	require.NoError(t, os.WriteFile(path, makePCM16WAV(make([]int16, 44100*2), 44100, 2), 0o644))

	info, err := Probe(path)
	require.NoError(t, err)
	require.Equal(t, 44100, info.SampleRate)
	require.Equal(t, 2, info.Channels)
	require.Equal(t, 16, info.BitDepth)
	require.True(t, info.PCM16())
	require.False(t, info.Matches(16000, 1))
	require.InDelta(t, float64(time.Second), float64(info.Duration), float64(10*time.Millisecond))
}

func TestProbeRejectsNonWAV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clip.mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3\x03\x00\x00\x00garbage"), 0o644))

	_, err := Probe(path)
	require.ErrorIs(t, err, ErrInvalidWAV)
}

func TestConvertDownmixesAndResamples(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "in.wav")
	dst := filepath.Join(dir, "out.wav")

	frames := sineSamples(32000, 32000, 220)
	interleaved := make([]int16, 0, len(frames)*2)
	for _, s := range frames {
		interleaved = append(interleaved, s, s)
	}
	require.NoError(t, os.WriteFile(src, makePCM16WAV(interleaved, 32000, 2), 0o644))

	require.NoError(t, Convert(src, dst, 16000, 1))

	info, err := Probe(dst)
	require.NoError(t, err)
	require.True(t, info.Matches(16000, 1))
	require.InDelta(t, float64(time.Second), float64(info.Duration), float64(10*time.Millisecond))

	buf, err := ReadPCM16(dst)
	require.NoError(t, err)
	require.Len(t, buf.Data, 16000)

	src2, err := os.ReadFile(src)
	require.NoError(t, err)
	require.Equal(t, makePCM16WAV(interleaved, 32000, 2), src2, "source must not be modified")
}

func TestConvertIsDeterministic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "in.wav")
	require.NoError(t, os.WriteFile(src, makePCM16WAV(sineSamples(8000, 8000, 300), 8000, 1), 0o644))

	first := filepath.Join(dir, "a.wav")
	second := filepath.Join(dir, "b.wav")
	require.NoError(t, Convert(src, first, 16000, 1))
	require.NoError(t, Convert(src, second, 16000, 1))

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestRemix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []int
		from int
		to   int
		want []int
	}{
		{name: "stereo to mono", data: []int{100, 300, -50, -150}, from: 2, to: 1, want: []int{200, -100}},
		{name: "mono to stereo", data: []int{7, 9}, from: 1, to: 2, want: []int{7, 7, 9, 9}},
		{name: "same layout", data: []int{1, 2, 3}, from: 1, to: 1, want: []int{1, 2, 3}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Remix(tc.data, tc.from, tc.to))
		})
	}
}

func TestResampleInterpolates(t *testing.T) {
	t.Parallel()

	require.Equal(t, []int{0, 50, 100, 150, 200, 200}, Resample([]int{0, 100, 200}, 1, 8000, 16000))
	require.Equal(t, []int{0, 200}, Resample([]int{0, 100, 200, 300}, 1, 16000, 8000))
}
