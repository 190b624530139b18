package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/fmueller/audiotext/internal/failure"
	"github.com/fmueller/audiotext/internal/normalize"
	"github.com/fmueller/audiotext/internal/progress"
)

const (
	DefaultSecretsFile = "secrets.json"
	DefaultCloudModel  = openai.Whisper1
	DefaultLanguage    = "es"
)

// Coarse milestones reported by the cloud engine.
const (
	milestoneConnect   = 10
	milestoneUpload    = 30
	milestoneInference = 50
	milestoneReceive   = 90
	milestoneDone      = 100
)

// Transcriber is the subset of the OpenAI client the cloud engine needs.
type Transcriber interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

type CloudConfig struct {
	SecretsPath string
	BaseURL     string
	Model       string
	Language    string
	Logger      *zap.Logger
}

type secrets struct {
	APIKey string `json:"apiKey"`
}

// CloudEngine sends whole files to an OpenAI-compatible transcription endpoint.
type CloudEngine struct {
	cfg       CloudConfig
	newClient func(apiKey string) Transcriber
	readFile  func(string) ([]byte, error)
	open      func(string) (io.ReadCloser, error)

	mu     sync.Mutex
	client Transcriber
}

func NewCloud(cfg CloudConfig) *CloudEngine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.SecretsPath) == "" {
		cfg.SecretsPath = DefaultSecretsFile
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultCloudModel
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	return &CloudEngine{
		cfg: cfg,
		newClient: func(apiKey string) Transcriber {
			clientConfig := openai.DefaultConfig(apiKey)
			if baseURL != "" {
				clientConfig.BaseURL = strings.TrimRight(baseURL, "/")
			}
			return openai.NewClientWithConfig(clientConfig)
		},
		readFile: os.ReadFile,
		open: func(path string) (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

func (e *CloudEngine) Kind() Kind {
	return Cloud
}

func (e *CloudEngine) Policy() normalize.Policy {
	return normalize.Policy{Accept: []string{".mp3", ".wav", ".m4a"}}
}

func (e *CloudEngine) SecretsPath() string {
	return e.cfg.SecretsPath
}

// Ready verifies the credential can be loaded.
func (e *CloudEngine) Ready() error {
	_, err := e.loadAPIKey()
	return err
}

func (e *CloudEngine) Transcribe(ctx context.Context, path string, sink progress.Sink) (Result, error) {
	if sink == nil {
		sink = progress.Discard
	}

	client, err := e.connect()
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, failure.Wrap(failure.Cancelled, "cloud transcribe", err)
	}
	sink.Percent(milestoneConnect)

	f, err := e.open(path)
	if err != nil {
		return Result{}, failure.Wrap(failure.EngineError, "open audio", err)
	}
	defer f.Close()

	sink.Percent(milestoneUpload)
	req := openai.AudioRequest{
		Model:    e.cfg.Model,
		Reader:   &eofNotifier{r: f, onEOF: func() { sink.Percent(milestoneInference) }},
		FilePath: filepath.Base(path),
		Language: strings.TrimSpace(e.cfg.Language),
	}

	start := time.Now()
	resp, err := client.CreateTranscription(ctx, req)
	if err != nil {
		e.cfg.Logger.Debug("cloud transcription failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return Result{}, classify(ctx, "cloud transcribe", describeAPIError(err))
	}
	sink.Percent(milestoneReceive)

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		e.cfg.Logger.Warn("cloud engine returned no text", zap.String("file", filepath.Base(path)))
	}
	e.cfg.Logger.Debug("cloud transcription finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("chars", len(text)),
	)

	sink.Percent(milestoneDone)
	return Result{Text: text}, nil
}

// connect builds the client on first use and keeps it for the engine's lifetime.
// A failed credential load is retried on the next call.
func (e *CloudEngine) connect() (Transcriber, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		return e.client, nil
	}

	key, err := e.loadAPIKey()
	if err != nil {
		return nil, err
	}
	e.client = e.newClient(key)
	return e.client, nil
}

func (e *CloudEngine) loadAPIKey() (string, error) {
	content, err := e.readFile(e.cfg.SecretsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", failure.Wrap(failure.MissingCredential, e.cfg.SecretsPath, errors.New("secrets file not found"))
		}
		return "", failure.Wrap(failure.MissingCredential, e.cfg.SecretsPath, err)
	}

	var s secrets
	if err := json.Unmarshal(content, &s); err != nil {
		return "", failure.Wrap(failure.MissingCredential, e.cfg.SecretsPath, fmt.Errorf("parse secrets: %w", err))
	}

	key := strings.TrimSpace(s.APIKey)
	if key == "" {
		return "", failure.Wrap(failure.MissingCredential, e.cfg.SecretsPath, errors.New(`"apiKey" is missing or blank`))
	}
	return key, nil
}

func describeAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("api status %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("http status %d: %w", reqErr.HTTPStatusCode, err)
	}
	return err
}

// eofNotifier calls onEOF once when the wrapped reader is exhausted.
type eofNotifier struct {
	r     io.Reader
	onEOF func()
	once  sync.Once
}

func (n *eofNotifier) Read(p []byte) (int, error) {
	read, err := n.r.Read(p)
	if errors.Is(err, io.EOF) {
		n.once.Do(n.onEOF)
	}
	return read, err
}
