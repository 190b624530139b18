package whisper

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const PathEnv = "AUDIOTEXT_WHISPER_PATH"

var ErrEngineNotFound = errors.New("whisper-cli not found")

type Request struct {
	AudioPath string
	ModelPath string
	Language  string
	Threads   int
}

// Segment is one timed line printed by whisper-cli while it decodes.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// CLI runs the whisper.cpp command line binary and streams its segments.
type CLI struct {
	// Executable pins the binary. When empty it is resolved on first use.
	Executable string
	Logger     *zap.Logger

	lookPath   func(string) (string, error)
	executable func() (string, error)
}

func NewCLI(executable string, logger *zap.Logger) *CLI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CLI{
		Executable: strings.TrimSpace(executable),
		Logger:     logger,
		lookPath:   exec.LookPath,
		executable: os.Executable,
	}
}

// Resolve finds the whisper-cli binary: the pinned path, then $AUDIOTEXT_WHISPER_PATH,
// then a copy bundled next to this program, then $PATH.
func (c *CLI) Resolve() (string, error) {
	if c.Executable != "" {
		if err := ensureExecutable(c.Executable); err != nil {
			return "", fmt.Errorf("configured whisper path is not executable: %w", err)
		}
		return c.Executable, nil
	}

	if override := strings.TrimSpace(os.Getenv(PathEnv)); override != "" {
		if err := ensureExecutable(override); err != nil {
			return "", fmt.Errorf("%s is not executable: %w", PathEnv, err)
		}
		return override, nil
	}

	if self, err := c.executable(); err == nil {
		if bundled, err := ResolveBundledEnginePath(self); err == nil {
			return bundled, nil
		}
	}

	if found, err := c.lookPath(engineBinaryName()); err == nil {
		return found, nil
	}

	return "", fmt.Errorf("%w: install whisper.cpp or set %s", ErrEngineNotFound, PathEnv)
}

func ResolveBundledEnginePath(selfExecutable string) (string, error) {
	for _, candidate := range EnginePathCandidates(selfExecutable) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("bundled whisper engine not found near %s, expected at ../libexec/whisper/%s", selfExecutable, engineBinaryName())
}

func EnginePathCandidates(selfExecutable string) []string {
	binDir := filepath.Dir(selfExecutable)
	engineName := engineBinaryName()
	hostTarget := fmt.Sprintf("%s_%s", runtime.GOOS, normalizeArch(runtime.GOARCH))

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", engineName),
		filepath.Join(binDir, "libexec", "whisper", engineName),
		filepath.Join(binDir, "packaging", "whisper", hostTarget, engineName),
		filepath.Join(binDir, engineName),
	}
}

// Transcribe runs whisper-cli and calls onSegment for every segment in output
// order. An error from onSegment stops the process and is returned as is.
func (c *CLI) Transcribe(ctx context.Context, req Request, onSegment func(Segment) error) error {
	if strings.TrimSpace(req.AudioPath) == "" {
		return errors.New("audio path is required")
	}
	if strings.TrimSpace(req.ModelPath) == "" {
		return errors.New("model path is required")
	}

	exe, err := c.Resolve()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	args := BuildArgs(req)
	cmd := exec.CommandContext(runCtx, exe, args...)
	cmd.WaitDelay = 2 * time.Second
	stderr := &tailBuffer{limit: 8 << 10}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attach whisper stdout: %w", err)
	}

	c.Logger.Debug("running whisper engine", zap.String("engine", exe), zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start whisper engine: %w", err)
	}

	var callbackErr error
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		segment, ok := ParseSegment(scanner.Text())
		if !ok {
			continue
		}
		if err := onSegment(segment); err != nil {
			callbackErr = err
			cancel()
			break
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		// Nobody drains stdout anymore, so the process must not keep running.
		cancel()
	}

	waitErr := cmd.Wait()
	switch {
	case callbackErr != nil:
		return callbackErr
	case ctx.Err() != nil:
		return ctx.Err()
	case scanErr != nil:
		return fmt.Errorf("read whisper output: %w", scanErr)
	case waitErr != nil:
		return classifyRunError(exe, waitErr, stderr.String())
	}

	return nil
}

func BuildArgs(req Request) []string {
	args := []string{"-m", req.ModelPath, "-f", req.AudioPath, "-np"}
	lang := strings.TrimSpace(req.Language)
	if lang != "" && lang != "auto" {
		args = append(args, "-l", lang)
	}
	if req.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(req.Threads))
	}
	return args
}

var segmentPattern = regexp.MustCompile(`^\s*\[(\d+):(\d{2}):(\d{2})[.,](\d{3})\s*-->\s*(\d+):(\d{2}):(\d{2})[.,](\d{3})\]\s*(.*)$`)

// ParseSegment parses "[hh:mm:ss.mmm --> hh:mm:ss.mmm] text".
func ParseSegment(line string) (Segment, bool) {
	m := segmentPattern.FindStringSubmatch(line)
	if m == nil {
		return Segment{}, false
	}

	return Segment{
		Start: timestamp(m[1], m[2], m[3], m[4]),
		End:   timestamp(m[5], m[6], m[7], m[8]),
		Text:  strings.TrimSpace(m[9]),
	}, true
}

func timestamp(h, m, s, ms string) time.Duration {
	hours, _ := strconv.Atoi(h)
	minutes, _ := strconv.Atoi(m)
	seconds, _ := strconv.Atoi(s)
	millis, _ := strconv.Atoi(ms)
	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(millis)*time.Millisecond
}

func classifyRunError(exe string, err error, stderr string) error {
	errText := strings.TrimSpace(stderr)
	if isMissingSharedLibraryError(errText) {
		return fmt.Errorf("whisper engine at %s is missing required shared libraries (%s); rebuild whisper-cli with BUILD_SHARED_LIBS=OFF", exe, errText)
	}
	if isIllegalInstructionError(errText) || isIllegalInstructionError(err.Error()) {
		return fmt.Errorf("whisper engine crashed with an illegal CPU instruction; " +
			"your CPU may lack required instruction set extensions; " +
			"set " + PathEnv + " to a whisper-cli binary built for your CPU")
	}
	if errText == "" {
		return fmt.Errorf("whisper transcribe failed: %w", err)
	}
	return fmt.Errorf("whisper transcribe failed: %w (%s)", err, lastLines(errText, 5))
}

// tailBuffer keeps only the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

func lastLines(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}

	patterns := []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	}

	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}

	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}

func normalizeArch(arch string) string {
	switch arch {
	case "x86_64":
		return "amd64"
	case "aarch64":
		return "arm64"
	default:
		return arch
	}
}
