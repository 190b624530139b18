package cli

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/fmueller/audiotext/internal/engine"
	"github.com/fmueller/audiotext/internal/jobs"
	"github.com/fmueller/audiotext/internal/normalize"
	"github.com/fmueller/audiotext/internal/progress"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	kind   engine.Kind
	chunks []string
	text   string
	err    error
	ready  error
}

func (s *stubEngine) Kind() engine.Kind {
	return s.kind
}

func (s *stubEngine) Policy() normalize.Policy {
	if s.kind == engine.Local {
		return normalize.Policy{Target: &normalize.Target{SampleRate: 16000, Channels: 1}}
	}
	return normalize.Policy{Accept: []string{".mp3", ".wav", ".m4a"}}
}

func (s *stubEngine) Ready() error {
	return s.ready
}

func (s *stubEngine) Transcribe(ctx context.Context, _ string, sink progress.Sink) (engine.Result, error) {
	for i, chunk := range s.chunks {
		if err := ctx.Err(); err != nil {
			return engine.Result{}, err
		}
		sink.Text(chunk)
		sink.Percent((i + 1) * 100 / len(s.chunks))
	}
	if s.err != nil {
		return engine.Result{}, s.err
	}
	return engine.Result{Text: s.text}, nil
}

// newTestApp isolates a command from the user's config, .env and signals.
func newTestApp(t *testing.T, engines ...*stubEngine) *appState {
	t.Helper()

	dir := t.TempDir()
	app := newAppState()
	app.configPathFn = func(override string) (string, error) {
		if override != "" {
			return override, nil
		}
		return filepath.Join(dir, "config.toml"), nil
	}
	app.envFiles = []string{filepath.Join(dir, ".env")}
	app.isTTY = func() bool { return false }
	app.signalNotify = func(ctx context.Context) (context.Context, context.CancelFunc) {
		return context.WithCancel(ctx)
	}
	app.preparerFn = func() jobs.Preparer { return nil }

	if len(engines) > 0 {
		configured := make(map[engine.Kind]engine.Engine, len(engines))
		for _, eng := range engines {
			configured[eng.kind] = eng
		}
		app.enginesFn = func() (map[engine.Kind]engine.Engine, error) {
			return configured, nil
		}
	}
	return app
}

func runApp(t *testing.T, app *appState, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	cmd := newRootCmd(app)
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

func runCommand(t *testing.T, args []string) (stdout string, stderr string, err error) {
	t.Helper()
	return runApp(t, newTestApp(t), args)
}

func writeTestWAV(t *testing.T, samples []int16, sampleRate int, channels int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(path, makePCM16WAVForTest(samples, sampleRate, channels), 0o644))
	return path
}

func makePCM16WAVForTest(samples []int16, sampleRate int, channels int) []byte {
	bytesPerSample := 2
	dataSize := len(samples) * bytesPerSample
	fmtChunkSize := 16
	riffSize := 4 + (8 + fmtChunkSize) + (8 + dataSize)

	out := make([]byte, 12+8+fmtChunkSize+8+dataSize)
	off := 0

	copy(out[off:], []byte("RIFF"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(riffSize))
	off += 4
	copy(out[off:], []byte("WAVE"))
	off += 4

	copy(out[off:], []byte("fmt "))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(fmtChunkSize))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], 1)
	off += 2
	binary.LittleEndian.PutUint16(out[off:], uint16(channels))
	off += 2
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate*channels*bytesPerSample))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], uint16(channels*bytesPerSample))
	off += 2
	binary.LittleEndian.PutUint16(out[off:], 16)
	off += 2

	copy(out[off:], []byte("data"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(dataSize))
	off += 4

	for _, s := range samples {
		binary.LittleEndian.PutUint16(out[off:], uint16(s))
		off += 2
	}

	return out
}
