// Package progress tracks how far a batch of download jobs has gotten and
// fans completion events out to pluggable sinks such as structured logging.
package progress

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Stage denotes the kind of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageBatchStart Stage = "BATCH_START"
	StageJobDone    Stage = "JOB_DONE"
	StageBatchDone  Stage = "BATCH_DONE"
)

// Event captures a single step of batch progress.
type Event struct {
	// Stage denotes which milestone occurred.
	Stage Stage
	// URL is the game URL a JOB_DONE event refers to.
	URL string
	// Success reports whether the job finished without errors.
	Success bool
	// Completed counts jobs finished so far, this one included.
	Completed int64
	// Total is the batch size.
	Total int64
	// Elapsed is the time since the batch started.
	Elapsed time.Duration
}

// Sink consumes progress events. Implementations may be invoked from
// multiple worker goroutines and must be safe for concurrent use.
type Sink interface {
	Consume(evt Event)
	Close()
}

// Tracker counts finished jobs and emits an Event per milestone. The zero
// value is not usable; construct with New.
type Tracker struct {
	total     int64
	completed atomic.Int64
	started   time.Time
	sinks     []Sink
}

// New builds a Tracker for a batch of total jobs.
func New(total int, sinks ...Sink) *Tracker {
	return &Tracker{
		total: int64(total),
		sinks: append([]Sink(nil), sinks...),
	}
}

// Start records the batch start time and announces the batch.
func (t *Tracker) Start() {
	t.started = time.Now()
	t.emit(Event{Stage: StageBatchStart, Total: t.total})
}

// JobDone marks one job as finished. Safe to call concurrently.
func (t *Tracker) JobDone(url string, success bool) {
	done := t.completed.Add(1)
	t.emit(Event{
		Stage:     StageJobDone,
		URL:       url,
		Success:   success,
		Completed: done,
		Total:     t.total,
		Elapsed:   time.Since(t.started),
	})
}

// Stop announces batch completion and closes all sinks.
func (t *Tracker) Stop() {
	t.emit(Event{
		Stage:     StageBatchDone,
		Completed: t.completed.Load(),
		Total:     t.total,
		Elapsed:   time.Since(t.started),
	})
	for _, sink := range t.sinks {
		sink.Close()
	}
}

func (t *Tracker) emit(evt Event) {
	for _, sink := range t.sinks {
		sink.Consume(evt)
	}
}

// LogSink reports progress through a structured logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs one event with structured fields.
func (s *LogSink) Consume(evt Event) {
	switch evt.Stage {
	case StageBatchStart:
		s.logger.Info("starting downloads", zap.Int64("total", evt.Total))
	case StageJobDone:
		s.logger.Info("finished job",
			zap.String("url", evt.URL),
			zap.Bool("success", evt.Success),
			zap.Int64("completed", evt.Completed),
			zap.Int64("total", evt.Total))
	case StageBatchDone:
		s.logger.Info("all jobs finished",
			zap.Int64("completed", evt.Completed),
			zap.Int64("total", evt.Total),
			zap.Duration("elapsed", evt.Elapsed))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close() {}
