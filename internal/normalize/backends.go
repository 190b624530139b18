package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/fmueller/audiotext/internal/audio"
)

type wavBackend struct{}

// NewWAVBackend converts 16-bit PCM WAV input in-process.
func NewWAVBackend() Backend {
	return wavBackend{}
}

func (wavBackend) Name() string {
	return "wav"
}

func (wavBackend) Available() bool {
	return true
}

func (wavBackend) Convert(ctx context.Context, src, dst string, target *Target) error {
	info, err := audio.Probe(src)
	if err != nil {
		if errors.Is(err, audio.ErrInvalidWAV) {
			return fmt.Errorf("%w: %v", ErrUndecodable, err)
		}
		return err
	}
	if !info.PCM16() {
		return fmt.Errorf("%w: %v", ErrUndecodable, audio.ErrUnsupportedWAV)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	rate, channels := info.SampleRate, info.Channels
	if target != nil {
		rate, channels = target.SampleRate, target.Channels
	}
	return audio.Convert(src, dst, rate, channels)
}

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Markers ffmpeg prints when the input container or codec cannot be read.
var undecodableMarkers = []string{
	"Invalid data found when processing input",
	"could not find codec parameters",
	"does not contain any stream",
	"Output file does not contain any stream",
}

type ffmpegBackend struct {
	path     string
	runner   commandRunner
	lookPath func(string) (string, error)
}

// NewFFmpegBackend transcodes any container ffmpeg understands.
func NewFFmpegBackend(path string) Backend {
	if strings.TrimSpace(path) == "" {
		path = "ffmpeg"
	}
	return &ffmpegBackend{path: path, runner: execRunner{}, lookPath: exec.LookPath}
}

func (b *ffmpegBackend) Name() string {
	return "ffmpeg"
}

func (b *ffmpegBackend) Available() bool {
	_, err := b.lookPath(b.path)
	return err == nil
}

func (b *ffmpegBackend) Convert(ctx context.Context, src, dst string, target *Target) error {
	args := buildFFmpegArgs(src, dst, target)
	result, err := b.runner.Run(ctx, b.path, args...)
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	detail := stderrTail(result.Stderr)
	for _, marker := range undecodableMarkers {
		if strings.Contains(result.Stderr, marker) {
			return fmt.Errorf("%w: %s", ErrUndecodable, detail)
		}
	}

	if detail != "" {
		return fmt.Errorf("ffmpeg exit %d: %w (%s)", result.ExitCode, err, detail)
	}
	return fmt.Errorf("ffmpeg exit %d: %w", result.ExitCode, err)
}

func buildFFmpegArgs(src, dst string, target *Target) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-y",
		"-i", src,
		"-vn",
	}
	if target != nil {
		args = append(args,
			"-ac", strconv.Itoa(target.Channels),
			"-ar", strconv.Itoa(target.SampleRate),
		)
	}
	return append(args, "-c:a", "pcm_s16le", dst)
}

func stderrTail(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}
