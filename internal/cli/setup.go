package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fmueller/audiotext/internal/download"
	"github.com/fmueller/audiotext/internal/platform"
	"github.com/fmueller/audiotext/internal/whisper"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSetupCmd(app *appState) *cobra.Command {
	var shared bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Download and verify speech model assets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			modelDir := app.modelDir
			if shared {
				dir, err := platform.SharedModelDir()
				if err != nil {
					return err
				}
				modelDir = dir
			}

			dirs, err := platform.ModelSearchDirs(modelDir)
			if err != nil {
				return err
			}

			resolved, err := whisper.ResolveModel(app.model, dirs...)
			if err != nil {
				return err
			}
			if resolved.IsCustomPath {
				if resolved.NeedsDownload {
					return fmt.Errorf("custom model path does not exist: %s", resolved.Path)
				}
				return fmt.Errorf("setup expects a named model; got custom path %s", resolved.Path)
			}

			status := newStatusPrinter(app.errWriter())

			if !resolved.NeedsDownload && resolved.SHA256 != "" {
				if err := download.VerifyFileChecksum(resolved.Path, resolved.SHA256); err != nil {
					app.log().Warn("model checksum verification failed; downloading fresh copy", zap.String("model", resolved.Name), zap.Error(err))
					resolved.NeedsDownload = true
				}
			}

			if !resolved.NeedsDownload {
				app.log().Info("model already present", zap.String("model", resolved.Name), zap.String("path", resolved.Path))
				fmt.Fprintf(cmd.OutOrStdout(), "Model %s already present at %s\n", resolved.Name, resolved.Path)
				return nil
			}

			if err := os.MkdirAll(filepath.Dir(resolved.Path), 0o755); err != nil {
				return fmt.Errorf("create model directory: %w", err)
			}

			app.log().Info("downloading model", zap.String("model", resolved.Name), zap.String("path", resolved.Path))
			if err := download.DownloadFile(cmd.Context(), download.Options{
				URL:            resolved.URL,
				Destination:    resolved.Path,
				ExpectedSHA256: resolved.SHA256,
				NoProgress:     !app.progressEnabled(),
				ProgressWriter: app.errWriter(),
				OnProgress:     downloadLogger(app.log(), resolved.Name),
				Logger:         app.log(),
			}); err != nil {
				status.Failure("download of %s failed", resolved.Name)
				return fmt.Errorf("download model %s: %w", resolved.Name, err)
			}

			status.Success("model %s verified", resolved.Name)
			fmt.Fprintf(cmd.OutOrStdout(), "Model %s installed at %s\n", resolved.Name, resolved.Path)
			return nil
		},
	}

	bindModelFlags(cmd, app)
	cmd.Flags().BoolVar(&shared, "shared", false, "Install into the per-user data directory instead of the working directory")
	cmd.MarkFlagsMutuallyExclusive("shared", "model-dir")

	return cmd
}

// downloadLogger logs every tenth percent at debug level, or every 10 MiB when
// the server does not announce a length.
func downloadLogger(logger *zap.Logger, model string) func(written, total int64) {
	const step = 10 << 20
	var next int64

	return func(written, total int64) {
		if total > 0 {
			percent := written * 100 / total
			if percent < next {
				return
			}
			next = percent/10*10 + 10
			logger.Debug("download progress", zap.String("model", model), zap.Int64("percent", percent))
			return
		}
		if written < next {
			return
		}
		next = written + step
		logger.Debug("download progress", zap.String("model", model), zap.Int64("bytes", written))
	}
}
