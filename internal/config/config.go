package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/fmueller/audiotext/internal/engine"
	"github.com/fmueller/audiotext/internal/whisper"
)

type Config struct {
	Transcription TranscriptionConfig `toml:"transcription"`
	Local         LocalConfig         `toml:"local"`
	Cloud         CloudConfig         `toml:"cloud"`
	Normalize     NormalizeConfig     `toml:"normalize"`
}

type TranscriptionConfig struct {
	Engine   string `toml:"engine"`
	Language string `toml:"language"`
}

type LocalConfig struct {
	Model                string  `toml:"model"`
	ModelDir             string  `toml:"model_dir"`
	Threads              int     `toml:"threads"`
	WhisperPath          string  `toml:"whisper_path"`
	SilenceThresholdDBFS float64 `toml:"silence_threshold_dbfs"`
}

type CloudConfig struct {
	SecretsFile string `toml:"secrets_file"`
	BaseURL     string `toml:"base_url"`
	Model       string `toml:"model"`
}

type NormalizeConfig struct {
	FFmpegPath string `toml:"ffmpeg_path"`
}

func Default() Config {
	return Config{
		Transcription: TranscriptionConfig{
			Engine:   string(engine.Local),
			Language: engine.DefaultLanguage,
		},
		Local: LocalConfig{
			Model: whisper.DefaultModel,
		},
		Cloud: CloudConfig{
			SecretsFile: engine.DefaultSecretsFile,
			Model:       engine.DefaultCloudModel,
		},
		Normalize: NormalizeConfig{
			FFmpegPath: "ffmpeg",
		},
	}
}

// Load decodes path on top of the defaults. A missing file yields the defaults
// and found=false; keys the file defines but this version does not know are errors.
func Load(path string) (cfg Config, found bool, err error) {
	cfg = Default()

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return cfg, false, nil
	} else if err != nil {
		return cfg, false, fmt.Errorf("stat config file %s: %w", path, err)
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Default(), true, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return Default(), true, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	return cfg, true, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error

	if _, err := engine.ParseKind(c.Transcription.Engine); err != nil {
		errs = append(errs, fmt.Errorf("transcription.engine: %w", err))
	}
	if c.Local.Threads < 0 {
		errs = append(errs, fmt.Errorf("local.threads must be >= 0, got %d", c.Local.Threads))
	}
	if c.Local.SilenceThresholdDBFS > 0 {
		errs = append(errs, fmt.Errorf("local.silence_threshold_dbfs must be <= 0, got %g", c.Local.SilenceThresholdDBFS))
	}
	if strings.TrimSpace(c.Cloud.SecretsFile) == "" {
		errs = append(errs, errors.New("cloud.secrets_file must not be empty"))
	}

	return errors.Join(errs...)
}

// Encode renders the config as TOML, used by `audiotext config` to show effective values.
func (c Config) Encode() (string, error) {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return b.String(), nil
}

// LoadEnv applies KEY=VALUE files to the process environment without overriding
// variables that are already set. Missing files are skipped.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	var errs []error
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			errs = append(errs, fmt.Errorf("load %s: %w", file, err))
		}
	}
	return errors.Join(errs...)
}
