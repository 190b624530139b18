package normalize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fmueller/audiotext/internal/audio"
	"github.com/fmueller/audiotext/internal/failure"
)

type fakeRunner struct {
	run func(ctx context.Context, name string, args ...string) (commandResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, name, args...)
}

func newTestFFmpeg(runner commandRunner) *ffmpegBackend {
	return &ffmpegBackend{
		path:     "ffmpeg-test",
		runner:   runner,
		lookPath: func(name string) (string, error) { return name, nil },
	}
}

func newTestNormalizer(t *testing.T, backends ...Backend) (*Normalizer, string) {
	t.Helper()

	workRoot := t.TempDir()
	n := New(nil, backends...)
	n.mkdirTemp = func(_ string, pattern string) (string, error) {
		return os.MkdirTemp(workRoot, pattern)
	}
	return n, workRoot
}

func writeTone(t *testing.T, path string, sampleRate, channels int) {
	t.Helper()

	frames := sampleRate / 2
	samples := make([]int, frames*channels)
	for i := range samples {
		samples[i] = (i % 200) * 50
	}
	require.NoError(t, audio.WritePCM16(path, samples, sampleRate, channels))
}

func TestPolicySatisfied(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ready := filepath.Join(dir, "ready.wav")
	stereo := filepath.Join(dir, "stereo.wav")
	writeTone(t, ready, 16000, 1)
	writeTone(t, stereo, 44100, 2)

	local := Policy{Target: &Target{SampleRate: 16000, Channels: 1}}
	require.True(t, local.Satisfied(ready))
	require.False(t, local.Satisfied(stereo))
	require.False(t, local.Satisfied(filepath.Join(dir, "missing.wav")))

	cloud := Policy{Accept: []string{".mp3", ".wav", ".m4a"}}
	require.True(t, cloud.Satisfied(stereo))
	require.True(t, cloud.Satisfied("/tmp/voice.MP3"))
	require.False(t, cloud.Satisfied("/tmp/voice.flac"))
	require.False(t, cloud.Satisfied("/tmp/voice"))
}

func TestPrepareConvertsWAVInProcess(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "meeting.wav")
	writeTone(t, src, 44100, 2)
	before, err := os.ReadFile(src)
	require.NoError(t, err)

	n, workRoot := newTestNormalizer(t, NewWAVBackend())
	out, err := n.Prepare(context.Background(), src, &Target{SampleRate: 16000, Channels: 1})
	require.NoError(t, err)

	info, err := audio.Probe(out.Path)
	require.NoError(t, err)
	require.True(t, info.Matches(16000, 1))

	after, err := os.ReadFile(src)
	require.NoError(t, err)
	require.Equal(t, before, after)

	require.NoError(t, out.Cleanup())
	require.NoError(t, out.Cleanup())
	entries, err := os.ReadDir(workRoot)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPrepareFallsBackToFFmpeg(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "voice.ogg")
	require.NoError(t, os.WriteFile(src, []byte("OggS fake"), 0o644))

	var gotArgs []string
	runner := &fakeRunner{run: func(_ context.Context, name string, args ...string) (commandResult, error) {
		require.Equal(t, "ffmpeg-test", name)
		gotArgs = append([]string{}, args...)
		dst := args[len(args)-1]
		samples := make([]int, 1600)
		return commandResult{}, audio.WritePCM16(dst, samples, 16000, 1)
	}}

	n, _ := newTestNormalizer(t, NewWAVBackend(), newTestFFmpeg(runner))
	out, err := n.Prepare(context.Background(), src, &Target{SampleRate: 16000, Channels: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = out.Cleanup() })

	require.Contains(t, gotArgs, "-vn")
	require.Equal(t, "16000", argValue(gotArgs, "-ar"))
	require.Equal(t, "1", argValue(gotArgs, "-ac"))
	require.Equal(t, "pcm_s16le", argValue(gotArgs, "-c:a"))
	require.Equal(t, src, argValue(gotArgs, "-i"))
}

func TestPrepareWithoutTargetKeepsSourceLayout(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "voice.aac")
	require.NoError(t, os.WriteFile(src, []byte("aac"), 0o644))

	var gotArgs []string
	runner := &fakeRunner{run: func(_ context.Context, _ string, args ...string) (commandResult, error) {
		gotArgs = append([]string{}, args...)
		return commandResult{}, os.WriteFile(args[len(args)-1], []byte("RIFF"), 0o644)
	}}

	n, _ := newTestNormalizer(t, newTestFFmpeg(runner))
	out, err := n.Prepare(context.Background(), src, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = out.Cleanup() })

	require.NotContains(t, gotArgs, "-ar")
	require.NotContains(t, gotArgs, "-ac")
	require.Equal(t, ".wav", filepath.Ext(out.Path))
}

func TestPrepareUnsupportedWhenNoBackendDecodes(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("just text"), 0o644))

	runner := &fakeRunner{run: func(context.Context, string, ...string) (commandResult, error) {
		return commandResult{Stderr: "notes.txt: Invalid data found when processing input", ExitCode: 1}, errors.New("exit status 1")
	}}

	n, workRoot := newTestNormalizer(t, NewWAVBackend(), newTestFFmpeg(runner))
	out, err := n.Prepare(context.Background(), src, &Target{SampleRate: 16000, Channels: 1})
	require.Nil(t, out)
	require.ErrorIs(t, err, failure.UnsupportedFormat)
	require.ErrorIs(t, err, ErrUndecodable)

	entries, err := os.ReadDir(workRoot)
	require.NoError(t, err)
	require.Empty(t, entries, "temporary workspace must be removed on failure")
}

func TestPrepareUnsupportedWhenFFmpegMissing(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "voice.opus")
	require.NoError(t, os.WriteFile(src, []byte("opus"), 0o644))

	missing := newTestFFmpeg(&fakeRunner{})
	missing.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	n, _ := newTestNormalizer(t, NewWAVBackend(), missing)
	_, err := n.Prepare(context.Background(), src, &Target{SampleRate: 16000, Channels: 1})
	require.ErrorIs(t, err, failure.UnsupportedFormat)
}

func TestPrepareReportsNormalizationError(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "voice.mp4")
	require.NoError(t, os.WriteFile(src, []byte("mp4"), 0o644))

	runner := &fakeRunner{run: func(context.Context, string, ...string) (commandResult, error) {
		return commandResult{Stderr: "No space left on device", ExitCode: 1}, errors.New("exit status 1")
	}}

	n, _ := newTestNormalizer(t, newTestFFmpeg(runner))
	_, err := n.Prepare(context.Background(), src, &Target{SampleRate: 16000, Channels: 1})
	require.ErrorIs(t, err, failure.NormalizationError)
	require.Contains(t, err.Error(), "No space left on device")
}

func TestPrepareHonorsCancellation(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "voice.wav")
	writeTone(t, src, 8000, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, workRoot := newTestNormalizer(t, NewWAVBackend())
	_, err := n.Prepare(ctx, src, &Target{SampleRate: 16000, Channels: 1})
	require.ErrorIs(t, err, failure.Cancelled)

	entries, err := os.ReadDir(workRoot)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func argValue(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
