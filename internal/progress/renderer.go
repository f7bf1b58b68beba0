// Package progress renders pipeline progress events for a terminal.
package progress

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/fgeck/unifi-reboot/internal/models"
	"github.com/rs/zerolog"
)

// Renderer prints one line per stage and device state change.
type Renderer struct {
	out io.Writer

	stage   *color.Color
	ok      *color.Color
	fail    *color.Color
	skip    *color.Color
	pending *color.Color

	// last printed title per stage/task, used to drop repeats
	last map[string]string
}

// NewRenderer creates a renderer writing to out. Colors are disabled when
// noColor is set.
func NewRenderer(out io.Writer, noColor bool) *Renderer {
	r := &Renderer{
		out:     out,
		stage:   color.New(color.FgBlue, color.Bold),
		ok:      color.New(color.FgGreen),
		fail:    color.New(color.FgRed, color.Bold),
		skip:    color.New(color.FgYellow),
		pending: color.New(color.Faint),
		last:    make(map[string]string),
	}
	if noColor {
		for _, c := range []*color.Color{r.stage, r.ok, r.fail, r.skip, r.pending} {
			c.DisableColor()
		}
	}
	return r
}

// Run consumes events until the channel is closed.
func (r *Renderer) Run(events <-chan models.ProgressEvent) {
	for e := range events {
		r.Render(e)
	}
}

// Render prints a single event.
func (r *Renderer) Render(e models.ProgressEvent) {
	key := e.Stage + "/" + e.Task + "/" + string(e.Status)
	if r.last[key] == e.Title {
		return
	}
	r.last[key] = e.Title

	indent := ""
	if e.Task != "" {
		indent = "  "
	}

	var line string
	switch e.Status {
	case models.StatusPending:
		line = r.pending.Sprintf("%s· %s", indent, e.Title)
	case models.StatusRunning:
		if e.Task == "" {
			line = r.stage.Sprintf("▶ %s", e.Title)
		} else {
			line = fmt.Sprintf("%s… %s", indent, e.Title)
		}
	case models.StatusSucceeded:
		line = r.ok.Sprintf("%s✔ %s", indent, e.Title)
	case models.StatusFailed:
		line = r.fail.Sprintf("%s✘ %s", indent, e.Title)
	case models.StatusSkipped:
		line = r.skip.Sprintf("%s↷ %s", indent, e.Title)
	default:
		line = fmt.Sprintf("%s? %s", indent, e.Title)
	}

	_, _ = fmt.Fprintln(r.out, line)
}

// Log consumes events until the channel is closed and writes each one as a
// structured log entry. Used instead of Renderer for JSON output.
func Log(logger zerolog.Logger, events <-chan models.ProgressEvent) {
	for e := range events {
		ev := logger.Info()
		if e.Status == models.StatusFailed {
			ev = logger.Error()
		}
		ev = ev.Str("stage", e.Stage).Str("status", string(e.Status))
		if e.Task != "" {
			ev = ev.Str("device", e.Task)
		}
		ev.Time("at", e.Time).Msg(e.Title)
	}
}
