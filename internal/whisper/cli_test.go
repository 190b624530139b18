package whisper

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveBundledEnginePathFindsLibexecSibling(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	binDir := filepath.Join(root, "bin")
	engineDir := filepath.Join(root, "libexec", "whisper")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	require.NoError(t, os.MkdirAll(engineDir, 0o755))

	self := filepath.Join(binDir, "audiotext")
	require.NoError(t, os.WriteFile(self, []byte(""), 0o755))

	enginePath := filepath.Join(engineDir, engineBinaryName())
	require.NoError(t, os.WriteFile(enginePath, []byte(""), 0o755))

	resolved, err := ResolveBundledEnginePath(self)
	require.NoError(t, err)
	require.Equal(t, enginePath, resolved)
}

func TestResolveBundledEnginePathFindsPackagingPathForLocalDev(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	self := filepath.Join(root, "audiotext")
	require.NoError(t, os.WriteFile(self, []byte(""), 0o755))

	targetDir := filepath.Join(root, "packaging", "whisper", fmt.Sprintf("%s_%s", runtime.GOOS, normalizeArch(runtime.GOARCH)))
	require.NoError(t, os.MkdirAll(targetDir, 0o755))
	enginePath := filepath.Join(targetDir, engineBinaryName())
	require.NoError(t, os.WriteFile(enginePath, []byte(""), 0o755))

	resolved, err := ResolveBundledEnginePath(self)
	require.NoError(t, err)
	require.Equal(t, enginePath, resolved)
}

func TestResolveFallsBackToPath(t *testing.T) {
	t.Setenv(PathEnv, "")

	cli := NewCLI("", nil)
	cli.executable = func() (string, error) { return filepath.Join(t.TempDir(), "audiotext"), nil }
	cli.lookPath = func(name string) (string, error) { return "/opt/whisper/" + name, nil }

	resolved, err := cli.Resolve()
	require.NoError(t, err)
	require.Equal(t, "/opt/whisper/"+engineBinaryName(), resolved)
}

func TestResolveReportsMissingEngine(t *testing.T) {
	t.Setenv(PathEnv, "")

	cli := NewCLI("", nil)
	cli.executable = func() (string, error) { return filepath.Join(t.TempDir(), "audiotext"), nil }
	cli.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	_, err := cli.Resolve()
	require.ErrorIs(t, err, ErrEngineNotFound)
	require.Contains(t, err.Error(), PathEnv)
}

func TestParseSegment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		ok   bool
		want Segment
	}{
		{
			line: "[00:00:00.000 --> 00:00:02.500]   Hola a todos.",
			ok:   true,
			want: Segment{End: 2500 * time.Millisecond, Text: "Hola a todos."},
		},
		{
			line: "[01:02:03,040 --> 01:02:05,000]  Bye",
			ok:   true,
			want: Segment{
				Start: time.Hour + 2*time.Minute + 3*time.Second + 40*time.Millisecond,
				End:   time.Hour + 2*time.Minute + 5*time.Second,
				Text:  "Bye",
			},
		},
		{line: "whisper_init_from_file: loading model", ok: false},
		{line: "", ok: false},
	}

	for _, tc := range tests {
		got, ok := ParseSegment(tc.line)
		require.Equal(t, tc.ok, ok, tc.line)
		if tc.ok {
			require.Equal(t, tc.want, got)
		}
	}
}

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	args := BuildArgs(Request{AudioPath: "a.wav", ModelPath: "m.bin", Language: "es", Threads: 4})
	require.Equal(t, []string{"-m", "m.bin", "-f", "a.wav", "-np", "-l", "es", "-t", "4"}, args)

	args = BuildArgs(Request{AudioPath: "a.wav", ModelPath: "m.bin", Language: "auto"})
	require.NotContains(t, args, "-l")
	require.NotContains(t, args, "-nt")
}

func TestTranscribeStreamsSegments(t *testing.T) {
	t.Parallel()

	exe := writeFakeWhisper(t, `#!/bin/sh
echo "whisper_init: noise"
echo "[00:00:00.000 --> 00:00:01.000]   uno"
echo "[00:00:01.000 --> 00:00:02.000]   dos"
`)

	var texts []string
	err := NewCLI(exe, nil).Transcribe(context.Background(), Request{AudioPath: "a.wav", ModelPath: "m.bin"}, func(s Segment) error {
		texts = append(texts, s.Text)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"uno", "dos"}, texts)
}

func TestTranscribeReportsStderrTail(t *testing.T) {
	t.Parallel()

	exe := writeFakeWhisper(t, `#!/bin/sh
echo "error: failed to open model" >&2
exit 3
`)

	err := NewCLI(exe, nil).Transcribe(context.Background(), Request{AudioPath: "a.wav", ModelPath: "m.bin"}, func(Segment) error { return nil })
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to open model")
}

func TestTranscribeStopsWhenCallbackFails(t *testing.T) {
	t.Parallel()

	exe := writeFakeWhisper(t, `#!/bin/sh
echo "[00:00:00.000 --> 00:00:01.000]   uno"
exec sleep 30
`)

	stop := errors.New("stop")
	start := time.Now()
	err := NewCLI(exe, nil).Transcribe(context.Background(), Request{AudioPath: "a.wav", ModelPath: "m.bin"}, func(Segment) error {
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestTranscribeStopsOnOversizedOutputLine(t *testing.T) {
	t.Parallel()

	exe := writeFakeWhisper(t, `#!/bin/sh
head -c 2000000 /dev/zero | tr '\0' a
exec sleep 30
`)

	start := time.Now()
	err := NewCLI(exe, nil).Transcribe(context.Background(), Request{AudioPath: "a.wav", ModelPath: "m.bin"}, func(Segment) error { return nil })
	require.ErrorIs(t, err, bufio.ErrTooLong)
	require.Contains(t, err.Error(), "read whisper output")
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestIsMissingSharedLibraryError(t *testing.T) {
	t.Parallel()

	require.True(t, isMissingSharedLibraryError("error while loading shared libraries: libwhisper.so.1: cannot open shared object file"))
	require.True(t, isMissingSharedLibraryError("dyld: Library not loaded: @rpath/libwhisper.dylib"))
	require.False(t, isMissingSharedLibraryError("some other runtime error"))
}

func TestIsIllegalInstructionError(t *testing.T) {
	t.Parallel()

	require.True(t, isIllegalInstructionError("signal: illegal instruction (core dumped)"))
	require.False(t, isIllegalInstructionError("some other runtime error"))
	require.False(t, isIllegalInstructionError(""))
}

func TestTailBufferKeepsEnd(t *testing.T) {
	t.Parallel()

	buf := &tailBuffer{limit: 4}
	_, _ = buf.Write([]byte("abc"))
	_, _ = buf.Write([]byte("defg"))
	require.Equal(t, "defg", buf.String())
}

func writeFakeWhisper(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "whisper-cli")
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimLeft(script, "\n")), 0o755))
	return path
}
