package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultModelDirForLinuxWithXDG(t *testing.T) {
	t.Parallel()

	dir, err := DefaultModelDirFor("linux", "/home/dev", "/tmp/xdg-data")
	require.NoError(t, err)
	require.Equal(t, "/tmp/xdg-data/audiotext/models", dir)
}

func TestDefaultModelDirForLinuxWithoutXDG(t *testing.T) {
	t.Parallel()

	dir, err := DefaultModelDirFor("linux", "/home/dev", "")
	require.NoError(t, err)
	require.Equal(t, "/home/dev/.local/share/audiotext/models", dir)
}

func TestDefaultModelDirForMacOS(t *testing.T) {
	t.Parallel()

	dir, err := DefaultModelDirFor("darwin", "/Users/dev", "")
	require.NoError(t, err)
	require.Equal(t, "/Users/dev/Library/Application Support/audiotext/models", dir)
}

func TestDefaultModelDirForUnsupportedOS(t *testing.T) {
	t.Parallel()

	_, err := DefaultModelDirFor("windows", "C:\\Users\\dev", "")
	require.Error(t, err)
}

func TestModelSearchDirsOverride(t *testing.T) {
	t.Parallel()

	dirs, err := ModelSearchDirs("/srv/models/")
	require.NoError(t, err)
	require.Equal(t, []string{"/srv/models"}, dirs)
}

func TestModelSearchDirsStartsWithWorkingDir(t *testing.T) {
	t.Parallel()

	wd, err := os.Getwd()
	require.NoError(t, err)

	dirs, err := ModelSearchDirs("")
	require.NoError(t, err)
	require.NotEmpty(t, dirs)
	require.Equal(t, wd, dirs[0])
}

func TestConfigPath(t *testing.T) {
	t.Parallel()

	path, err := ConfigPath("./custom.toml")
	require.NoError(t, err)
	require.Equal(t, "custom.toml", path)

	path, err = ConfigPath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("audiotext", "config.toml"), filepath.Join(filepath.Base(filepath.Dir(path)), filepath.Base(path)))
}
