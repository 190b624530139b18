package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fmueller/audiotext/internal/encrypt"
	"github.com/fmueller/audiotext/internal/engine"
	"github.com/fmueller/audiotext/internal/failure"
	"github.com/fmueller/audiotext/internal/jobs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTranscribeCmd(app *appState) *cobra.Command {
	var (
		encryptOutput bool
		stream        bool
	)

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var enc encrypt.Encryptor
			if encryptOutput {
				var err error
				if enc, err = app.encryptor(); err != nil {
					return err
				}
			}

			transcript, err := app.transcribeFile(cmd.Context(), args[0], stream)
			if err != nil {
				return err
			}

			output := transcript
			if enc != nil {
				if output, err = enc.Encrypt(transcript); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), output)
			return nil
		},
	}

	bindEngineFlags(cmd, app)
	bindModelFlags(cmd, app)
	bindLocalFlags(cmd, app)
	bindCloudFlags(cmd, app)
	cmd.Flags().BoolVar(&encryptOutput, "encrypt", false, "Print the transcript as an encrypted payload (key from "+encrypt.KeyEnv+")")
	cmd.Flags().BoolVar(&stream, "stream", false, "Show partial text on stderr while transcribing")
	return cmd
}

// transcribeFile runs one job to completion and returns its final text.
// SIGINT and SIGTERM cancel the job cooperatively.
func (a *appState) transcribeFile(ctx context.Context, audioPath string, stream bool) (string, error) {
	kind, err := engine.ParseKind(a.engine)
	if err != nil {
		return "", err
	}

	engines, err := a.enginesFn()
	if err != nil {
		return "", err
	}

	ctx, stop := a.signalNotify(ctx)
	defer stop()

	orchestrator := jobs.New(engines, a.preparerFn(), a.log().Named("jobs"))
	job, err := orchestrator.Start(ctx, jobs.Request{SourcePath: filepath.Clean(audioPath), Engine: kind})
	if err != nil {
		return "", err
	}

	a.log().Info("transcribing...", zap.String("job", job.ID()), zap.String("audio", audioPath), zap.String("engine", string(kind)))
	started := time.Now()

	renderer := newEventRenderer(a.progressEnabled(), a.errWriter(), "transcribing", stream, a.log())
	renderer.Render(job.Events())

	outcome, err := job.Wait(context.Background())
	if err != nil {
		return "", err
	}

	status := newStatusPrinter(a.errWriter())
	switch outcome.State {
	case jobs.StateCompleted:
		a.log().Info("transcription finished", zap.Duration("elapsed", time.Since(started)))
		if isBlankTranscript(outcome.Text) {
			a.log().Warn(noSpeechHint())
		} else if !a.quiet {
			status.Success("transcribed %s with the %s engine", filepath.Base(audioPath), kind)
		}
		return outcome.Text, nil
	case jobs.StateCancelled:
		status.Warning("transcription cancelled")
		return "", outcome.Err
	default:
		if hint := failureHint(outcome.Kind, a); hint != "" {
			status.Muted("%s", hint)
		}
		return "", outcome.Err
	}
}

func (a *appState) encryptor() (encrypt.Encryptor, error) {
	key, err := encrypt.KeyFromEnv()
	if err != nil {
		return nil, err
	}
	return encrypt.NewAES(key)
}

func failureHint(kind failure.Kind, a *appState) string {
	switch kind {
	case failure.MissingModel:
		return fmt.Sprintf("Run `audiotext setup --model %s` to download the speech model.", a.model)
	case failure.MissingCredential:
		return fmt.Sprintf("Create %s with {\"apiKey\": \"...\"} to use the cloud engine.", a.secretsFile)
	case failure.UnsupportedFormat:
		return "Install ffmpeg or convert the file to WAV to transcribe other formats."
	default:
		return ""
	}
}

func notifyInterrupt(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
