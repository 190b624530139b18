package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigCommandPrintsDefaults(t *testing.T) {
	t.Parallel()

	stdout, _, err := runCommand(t, []string{"config"})
	require.NoError(t, err)
	require.Contains(t, stdout, `engine = "local"`)
	require.Contains(t, stdout, `language = "es"`)
	require.Contains(t, stdout, `secrets_file = "secrets.json"`)
}

func TestConfigFileAppliesUnlessFlagIsSet(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[transcription]
engine = "cloud"
language = "en"

[cloud]
base_url = "http://localhost:9000/v1"
`), 0o644))

	stdout, _, err := runCommand(t, []string{"config", "--config", path, "--language", "de"})
	require.NoError(t, err)
	require.Contains(t, stdout, `engine = "cloud"`)
	require.Contains(t, stdout, `language = "de"`)
	require.Contains(t, stdout, `base_url = "http://localhost:9000/v1"`)
}

func TestConfigFileWithUnknownKeysFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[transcription]\nmode = \"fast\"\n"), 0o644))

	_, _, err := runCommand(t, []string{"config", "--config", path})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown keys")
}

func TestConfigCommandValidatesFlags(t *testing.T) {
	t.Parallel()

	_, _, err := runCommand(t, []string{"config", "--threads=-2"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "local.threads")
}
