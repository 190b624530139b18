package download

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/term"
)

const userAgent = "audiotext/1"

var digestPattern = regexp.MustCompile(`(?i)\b([a-f0-9]{64})\b`)

// ErrChecksumMismatch marks a completed transfer whose digest differs from the
// expected one. The partial file is removed and the attempt is not retried.
var ErrChecksumMismatch = errors.New("checksum mismatch")

type Options struct {
	URL            string
	Destination    string
	ExpectedSHA256 string
	ChecksumURL    string
	Retries        int
	NoProgress     bool
	HTTPClient     *http.Client
	Logger         *zap.Logger

	// OnProgress, when set, receives the running byte count and the announced
	// length (-1 if unknown) after each chunk.
	OnProgress func(written, total int64)
	// ProgressWriter is where the terminal bar renders; stderr when nil.
	ProgressWriter io.Writer
	// Backoff is the base delay between attempts; the n-th retry waits n*Backoff.
	Backoff time.Duration
}

func (o Options) withDefaults() (Options, error) {
	if o.URL == "" {
		return o, errors.New("download URL is required")
	}
	if o.Destination == "" {
		return o, errors.New("destination path is required")
	}
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Backoff <= 0 {
		o.Backoff = 300 * time.Millisecond
	}
	if o.ProgressWriter == nil {
		o.ProgressWriter = os.Stderr
	}
	return o, nil
}

// DownloadFile fetches opts.URL into opts.Destination. The body lands in a
// ".part" sibling first and is renamed only after its digest checks out.
func DownloadFile(ctx context.Context, opts Options) error {
	opts, err := opts.withDefaults()
	if err != nil {
		return err
	}

	expected := normalizeDigest(opts.ExpectedSHA256)
	if expected == "" && opts.ChecksumURL != "" {
		if expected, err = ResolveExpectedChecksum(ctx, opts.ChecksumURL, filepath.Base(opts.Destination), opts.HTTPClient); err != nil {
			return fmt.Errorf("fetch checksum: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(opts.Destination), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	f := &fetcher{opts: opts, expected: expected}
	if err := f.run(ctx); err != nil {
		return err
	}
	opts.Logger.Debug("download complete", zap.String("destination", opts.Destination))
	return nil
}

type fetcher struct {
	opts     Options
	expected string
}

// run repeats fetch until it succeeds, fails permanently or runs out of attempts.
func (f *fetcher) run(ctx context.Context) error {
	var err error
	for n := 1; ; n++ {
		if err = f.fetch(ctx); err == nil || !retryable(ctx, err) || n == f.opts.Retries {
			return err
		}

		f.opts.Logger.Warn("retrying download",
			zap.Int("attempt", n+1),
			zap.Int("max", f.opts.Retries),
			zap.String("url", f.opts.URL),
			zap.Error(err),
		)
		if err := sleep(ctx, time.Duration(n+1)*f.opts.Backoff); err != nil {
			return err
		}
	}
}

func (f *fetcher) fetch(ctx context.Context) error {
	body, size, err := get(ctx, f.opts.HTTPClient, f.opts.URL)
	if err != nil {
		return err
	}
	defer body.Close()

	part, err := createPart(f.opts.Destination)
	if err != nil {
		return err
	}
	defer part.discard()

	bar := f.newBar(size)
	if err := part.fill(body, f.sinks(size, bar)...); err != nil {
		return err
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if f.expected != "" {
		if actual := part.digest(); actual != f.expected {
			return mismatch(f.expected, actual)
		}
	}
	return part.promote(f.opts.Destination)
}

func (f *fetcher) sinks(size int64, bar *progressbar.ProgressBar) []io.Writer {
	var sinks []io.Writer
	if f.opts.OnProgress != nil {
		sinks = append(sinks, &progressCounter{total: size, report: f.opts.OnProgress})
	}
	if bar != nil {
		sinks = append(sinks, bar)
	}
	return sinks
}

func (f *fetcher) newBar(size int64) *progressbar.ProgressBar {
	if !shouldRenderProgress(f.opts.NoProgress, size, f.opts.ProgressWriter) {
		return nil
	}
	return progressbar.NewOptions64(
		size,
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionSetWidth(20),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetWriter(f.opts.ProgressWriter),
		progressbar.OptionClearOnFinish(),
	)
}

// statusError is a non-200 reply. Client errors other than timeouts and rate
// limits are permanent.
type statusError struct {
	url  string
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.url, e.code)
}

func (e *statusError) permanent() bool {
	switch e.code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.code >= 400 && e.code < 500
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrChecksumMismatch) {
		return false
	}
	var status *statusError
	if errors.As(err, &status) {
		return !status.permanent()
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// get issues a GET and returns the body of a 200 reply with its announced size.
func get(ctx context.Context, client *http.Client, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("download request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, 0, &statusError{url: url, code: resp.StatusCode}
	}
	return resp.Body, resp.ContentLength, nil
}

// partFile is the in-progress download next to its final destination.
type partFile struct {
	path     string
	file     *os.File
	hash     hash.Hash
	promoted bool
}

func createPart(destination string) (*partFile, error) {
	path := destination + ".part"
	_ = os.Remove(path)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &partFile{path: path, file: file, hash: sha256.New()}, nil
}

func (p *partFile) fill(src io.Reader, sinks ...io.Writer) error {
	dst := io.MultiWriter(append([]io.Writer{p.file, p.hash}, sinks...)...)
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("download body: %w", err)
	}
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	return nil
}

func (p *partFile) digest() string {
	return hex.EncodeToString(p.hash.Sum(nil))
}

func (p *partFile) promote(destination string) error {
	if err := p.file.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(p.path, destination); err != nil {
		return fmt.Errorf("move temp file into destination: %w", err)
	}
	p.promoted = true
	return nil
}

// discard removes the part file unless it was promoted.
func (p *partFile) discard() {
	_ = p.file.Close()
	if !p.promoted {
		_ = os.Remove(p.path)
	}
}

func ResolveExpectedChecksum(ctx context.Context, checksumURL, fileName string, client *http.Client) (string, error) {
	if strings.TrimSpace(checksumURL) == "" {
		return "", errors.New("checksum URL is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}

	body, _, err := get(ctx, client, checksumURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	content, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return ParseChecksum(content, fileName)
}

// ParseChecksum picks the digest on the line naming fileName, falling back to
// the first digest in content.
func ParseChecksum(content []byte, fileName string) (string, error) {
	var first string
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		match := digestPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		digest := normalizeDigest(match[1])
		if fileName != "" && strings.Contains(line, fileName) {
			return digest, nil
		}
		if first == "" {
			first = digest
		}
	}

	if first == "" {
		return "", errors.New("sha256 checksum not found")
	}
	return first, nil
}

// VerifyFileChecksum hashes path and compares it with expectedSHA256. An empty
// expectation only checks that the file is readable.
func VerifyFileChecksum(path, expectedSHA256 string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash file: %w", err)
	}

	expected := normalizeDigest(expectedSHA256)
	if actual := hex.EncodeToString(h.Sum(nil)); expected != "" && actual != expected {
		return mismatch(expected, actual)
	}
	return nil
}

func mismatch(expected, actual string) error {
	return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
}

func normalizeDigest(digest string) string {
	return strings.ToLower(strings.TrimSpace(digest))
}

type progressCounter struct {
	written int64
	total   int64
	report  func(written, total int64)
}

func (p *progressCounter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	p.report(p.written, p.total)
	return len(b), nil
}

func shouldRenderProgress(noProgress bool, contentLength int64, out io.Writer) bool {
	if noProgress || contentLength <= 0 {
		return false
	}
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
