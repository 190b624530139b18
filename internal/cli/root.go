package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fmueller/audiotext/internal/config"
	"github.com/fmueller/audiotext/internal/engine"
	"github.com/fmueller/audiotext/internal/jobs"
	"github.com/fmueller/audiotext/internal/logging"
	"github.com/fmueller/audiotext/internal/normalize"
	"github.com/fmueller/audiotext/internal/platform"
	"github.com/fmueller/audiotext/internal/version"
	"github.com/fmueller/audiotext/internal/whisper"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/spf13/cobra"
)

type appState struct {
	verbose    bool
	quiet      bool
	jsonLogs   bool
	noProgress bool
	configPath string

	engine      string
	language    string
	model       string
	modelDir    string
	threads     int
	whisperPath string
	silenceDBFS float64
	secretsFile string
	baseURL     string
	cloudModel  string
	ffmpegPath  string

	cfg    config.Config
	logger *zap.Logger
	stdin  io.Reader
	stderr io.Writer
	isTTY  func() bool

	enginesFn    func() (map[engine.Kind]engine.Engine, error)
	preparerFn   func() jobs.Preparer
	configPathFn func(override string) (string, error)
	envFiles     []string
	signalNotify func(ctx context.Context) (context.Context, context.CancelFunc)
}

func newAppState() *appState {
	defaults := config.Default()
	app := &appState{cfg: defaults}
	app.adopt(defaults, func(string) bool { return false })
	app.enginesFn = app.buildEngines
	app.preparerFn = app.buildPreparer
	app.configPathFn = platform.ConfigPath
	app.signalNotify = notifyInterrupt
	return app
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(newAppState())
}

func newRootCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "audiotext",
		Short:         "Transcribe audio files with a local or cloud speech engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve().String(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if app.stderr == nil {
				app.stderr = cmd.ErrOrStderr()
			}
			if app.stdin == nil {
				app.stdin = cmd.InOrStdin()
			}

			logger, err := logging.New(logging.Options{Verbose: app.verbose, Quiet: app.quiet, JSON: app.jsonLogs, Writer: app.logWriter()})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			app.logger = logger

			if err := config.LoadEnv(app.envFiles...); err != nil {
				app.log().Warn("failed to load .env file", zap.Error(err))
			}

			return app.loadConfig(cmd)
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	bindLoggingFlags(cmd, app)

	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newEncryptCmd(app))
	cmd.AddCommand(newDecryptCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newEnginesCmd(app))
	cmd.AddCommand(newConfigCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindLoggingFlags(cmd *cobra.Command, app *appState) {
	flags := cmd.PersistentFlags()
	flags.BoolVar(&app.verbose, "verbose", app.verbose, "Enable verbose logs")
	flags.BoolVarP(&app.quiet, "quiet", "q", app.quiet, "Only log warnings and errors")
	flags.BoolVar(&app.jsonLogs, "json", app.jsonLogs, "Enable JSON logging")
	flags.BoolVar(&app.noProgress, "no-progress", app.noProgress, "Disable progress indicators")
	flags.StringVar(&app.configPath, "config", app.configPath, "Path to config.toml (default: user config dir)")
}

func bindEngineFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().StringVarP(&app.engine, "engine", "e", app.engine, "Transcription engine: "+joinKinds())
	cmd.Flags().StringVarP(&app.language, "language", "l", app.language, "Language code (auto|es|en|...) passed to the engine")
}

func bindModelFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().StringVar(&app.model, "model", app.model, "Model name ("+strings.Join(whisper.ModelNames(), "|")+") or model file path")
	cmd.Flags().StringVar(&app.modelDir, "model-dir", app.modelDir, "Directory where models are stored")
}

func bindLocalFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().IntVar(&app.threads, "threads", app.threads, "whisper-cli thread count; 0 uses its default")
	cmd.Flags().StringVar(&app.whisperPath, "whisper-path", app.whisperPath, "Path to the whisper-cli executable")
	cmd.Flags().Float64Var(&app.silenceDBFS, "silence-threshold-dbfs", app.silenceDBFS, "Skip near-silent WAV input below this dBFS level; 0 disables")
	cmd.Flags().StringVar(&app.ffmpegPath, "ffmpeg-path", app.ffmpegPath, "Path to the ffmpeg executable used for format conversion")
}

func bindCloudFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().StringVar(&app.secretsFile, "secrets", app.secretsFile, "JSON file holding the cloud API key")
	cmd.Flags().StringVar(&app.baseURL, "base-url", app.baseURL, "OpenAI-compatible API base URL")
	cmd.Flags().StringVar(&app.cloudModel, "cloud-model", app.cloudModel, "Cloud transcription model")
}

// loadConfig reads the TOML file and applies it to every flag the user did not set.
func (a *appState) loadConfig(cmd *cobra.Command) error {
	path, err := a.configPathFn(a.configPath)
	if err != nil {
		a.log().Debug("no user config directory; using defaults", zap.Error(err))
		return nil
	}

	cfg, found, err := config.Load(path)
	if err != nil {
		return err
	}
	if found {
		a.log().Debug("loaded config", zap.String("path", path))
	} else if strings.TrimSpace(a.configPath) != "" {
		return fmt.Errorf("config file %s does not exist", path)
	}

	a.cfg = cfg
	a.adopt(cfg, cmd.Flags().Changed)
	return nil
}

func (a *appState) adopt(cfg config.Config, changed func(string) bool) {
	keep := func(flag string, dst *string, value string) {
		if !changed(flag) {
			*dst = value
		}
	}

	keep("engine", &a.engine, cfg.Transcription.Engine)
	keep("language", &a.language, cfg.Transcription.Language)
	keep("model", &a.model, cfg.Local.Model)
	keep("model-dir", &a.modelDir, cfg.Local.ModelDir)
	keep("whisper-path", &a.whisperPath, cfg.Local.WhisperPath)
	keep("secrets", &a.secretsFile, cfg.Cloud.SecretsFile)
	keep("base-url", &a.baseURL, cfg.Cloud.BaseURL)
	keep("cloud-model", &a.cloudModel, cfg.Cloud.Model)
	keep("ffmpeg-path", &a.ffmpegPath, cfg.Normalize.FFmpegPath)
	if !changed("threads") {
		a.threads = cfg.Local.Threads
	}
	if !changed("silence-threshold-dbfs") {
		a.silenceDBFS = cfg.Local.SilenceThresholdDBFS
	}
}

// effectiveConfig is the loaded config with flag overrides folded back in.
func (a *appState) effectiveConfig() config.Config {
	cfg := a.cfg
	cfg.Transcription.Engine = a.engine
	cfg.Transcription.Language = sanitizeLanguage(a.language)
	cfg.Local.Model = a.model
	cfg.Local.ModelDir = a.modelDir
	cfg.Local.Threads = a.threads
	cfg.Local.WhisperPath = a.whisperPath
	cfg.Local.SilenceThresholdDBFS = a.silenceDBFS
	cfg.Cloud.SecretsFile = a.secretsFile
	cfg.Cloud.BaseURL = a.baseURL
	cfg.Cloud.Model = a.cloudModel
	cfg.Normalize.FFmpegPath = a.ffmpegPath
	return cfg
}

// buildEngines never fails on the local model: an unresolvable model only
// blocks jobs that pick the local engine.
func (a *appState) buildEngines() (map[engine.Kind]engine.Engine, error) {
	model, modelErr := a.resolveModel()
	if modelErr != nil {
		a.log().Debug("local model unavailable", zap.String("model", a.model), zap.Error(modelErr))
	}

	language := sanitizeLanguage(a.language)
	local := engine.NewLocal(engine.LocalConfig{
		ModelPath:            model.Path,
		ModelErr:             modelErr,
		Language:             language,
		Threads:              a.threads,
		SilenceThresholdDBFS: a.silenceDBFS,
		Logger:               a.log().Named("local"),
	}, whisper.NewCLI(a.whisperPath, a.log().Named("whisper")))

	cloud := engine.NewCloud(engine.CloudConfig{
		SecretsPath: a.secretsFile,
		BaseURL:     a.baseURL,
		Model:       a.cloudModel,
		Language:    language,
		Logger:      a.log().Named("cloud"),
	})

	return map[engine.Kind]engine.Engine{
		engine.Local: local,
		engine.Cloud: cloud,
	}, nil
}

func (a *appState) buildPreparer() jobs.Preparer {
	return normalize.New(a.log().Named("normalize"), normalize.DefaultBackends(a.ffmpegPath)...)
}

func (a *appState) resolveModel() (whisper.ResolvedModel, error) {
	dirs, err := platform.ModelSearchDirs(a.modelDir)
	if err != nil {
		return whisper.ResolvedModel{}, err
	}
	return whisper.ResolveModel(a.model, dirs...)
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

// logWriter is nil for the real stderr so the logger keeps colored levels.
func (a *appState) logWriter() io.Writer {
	if a.stderr == nil || a.stderr == os.Stderr {
		return nil
	}
	return a.stderr
}

func (a *appState) errWriter() io.Writer {
	if a.stderr == nil {
		return os.Stderr
	}
	return a.stderr
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	if a.isTTY != nil {
		return a.isTTY()
	}
	f, ok := a.errWriter().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func joinKinds() string {
	kinds := engine.Kinds()
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, string(kind))
	}
	return strings.Join(names, "|")
}

func sanitizeLanguage(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return "auto"
	}
	return trimmed
}
