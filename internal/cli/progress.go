package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fmueller/audiotext/internal/progress"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// eventRenderer draws job events on the terminal: a percent bar when enabled,
// debug log lines otherwise, and text chunks when streaming is on.
type eventRenderer struct {
	bar    *progressbar.ProgressBar
	stream io.Writer
	logger *zap.Logger
	last   int
}

func newEventRenderer(enabled bool, out io.Writer, description string, stream bool, logger *zap.Logger) *eventRenderer {
	r := &eventRenderer{logger: logger, last: -1}
	if logger == nil {
		r.logger = zap.NewNop()
	}
	if stream {
		r.stream = out
	}
	if enabled {
		r.bar = progressbar.NewOptions(
			100,
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetWidth(20),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionClearOnFinish(),
		)
	}
	return r
}

// Render consumes events until the channel closes and returns the terminal event.
func (r *eventRenderer) Render(events <-chan progress.Event) (progress.Event, bool) {
	var final progress.Event
	settled := false

	for event := range events {
		switch event.Type {
		case progress.EventTypeText:
			r.text(event.Text)
		case progress.EventTypePercent:
			r.percent(event.Percent)
		default:
			if event.Terminal() {
				final = event
				settled = true
			}
		}
	}

	if r.bar != nil {
		if settled && final.Type == progress.EventTypeResult {
			_ = r.bar.Finish()
		} else {
			_ = r.bar.Exit()
		}
	}
	return final, settled
}

func (r *eventRenderer) text(chunk string) {
	r.logger.Debug("transcript chunk", zap.String("text", chunk))
	if r.stream == nil {
		return
	}
	if r.bar != nil {
		_ = r.bar.Clear()
	}
	fmt.Fprintln(r.stream, chunk)
}

func (r *eventRenderer) percent(value int) {
	value = progress.Clamp(value)
	if value == r.last {
		return
	}
	r.last = value

	if r.bar != nil {
		_ = r.bar.Set(value)
		return
	}
	r.logger.Debug("progress", zap.Int("percent", value))
}
