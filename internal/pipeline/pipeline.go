// Package pipeline runs an ordered list of named stages and publishes their
// progress as events.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/fgeck/unifi-reboot/internal/models"
	"github.com/rs/zerolog"
)

// StageFunc is the body of a stage.
type StageFunc func(ctx context.Context, r *Reporter) error

// Stage is one named step of a pipeline.
type Stage struct {
	ID    string
	Title string // initial title, e.g. "Logging in"
	Run   StageFunc
}

// StageError reports which stage aborted the pipeline.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Reporter publishes progress for one stage and its tasks. It is safe for
// concurrent use as long as the events channel is.
type Reporter struct {
	stage  string
	title  string
	events chan<- models.ProgressEvent
}

// Title replaces the stage title.
func (r *Reporter) Title(title string) {
	r.title = title
	r.emit("", models.StatusRunning, title)
}

// Task publishes a title update for one task of the stage.
func (r *Reporter) Task(task string, status models.EventStatus, title string) {
	r.emit(task, status, title)
}

func (r *Reporter) emit(task string, status models.EventStatus, title string) {
	if r.events == nil {
		return
	}
	r.events <- models.ProgressEvent{
		Stage:  r.stage,
		Task:   task,
		Status: status,
		Title:  title,
		Time:   time.Now(),
	}
}

// Pipeline runs stages strictly in order.
type Pipeline struct {
	stages []Stage
	logger zerolog.Logger
}

// New creates a pipeline of the given stages.
func New(logger zerolog.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, logger: logger}
}

// Run executes every stage in order and stops at the first failure. Stages
// after a failure emit a skipped event and never run. events may be nil.
func (p *Pipeline) Run(ctx context.Context, events chan<- models.ProgressEvent) error {
	for i, stage := range p.stages {
		r := &Reporter{stage: stage.ID, events: events}

		err := ctx.Err()
		if err == nil {
			r.Title(stage.Title)
			p.logger.Debug().Str("stage", stage.ID).Msg("stage started")
			err = stage.Run(ctx, r)
		}

		if err != nil {
			if r.title != "" {
				r.emit("", models.StatusFailed, r.title)
			} else {
				r.emit("", models.StatusSkipped, stage.Title)
			}
			p.logger.Debug().Err(err).Str("stage", stage.ID).Msg("stage failed")
			for _, rest := range p.stages[i+1:] {
				skipped := &Reporter{stage: rest.ID, events: events}
				skipped.emit("", models.StatusSkipped, rest.Title)
			}
			return &StageError{Stage: stage.ID, Err: err}
		}

		r.emit("", models.StatusSucceeded, r.title)
		p.logger.Debug().Str("stage", stage.ID).Str("title", r.title).Msg("stage completed")
	}
	return nil
}
