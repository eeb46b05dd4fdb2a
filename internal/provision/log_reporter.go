package provision

import (
	"log/slog"
	"time"
)

// TotalSteps is the number of ordered steps in a provisioning call.
const TotalSteps = 7

// Reporter receives progress events from a provisioning call.
type Reporter interface {
	Report(Event)
}

// Event describes the start, completion or failure of one step.
type Event struct {
	Slug    string
	Step    Step
	Current int64
	Total   int64
	Message string
	Done    bool
	Err     error
	At      time.Time
}

// LogReporter logs events to the given (or default) slog logger.
type LogReporter struct {
	Logger *slog.Logger
}

func (r *LogReporter) Report(e Event) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []any{"slug", e.Slug}
	if e.Step != "" {
		attrs = append(attrs, "step", string(e.Step))
	}
	if e.Current != 0 || e.Total != 0 {
		attrs = append(attrs, "current", e.Current, "total", e.Total)
	}
	if !e.At.IsZero() {
		attrs = append(attrs, "at", e.At)
	}

	message := e.Message
	if e.Err != nil {
		if message == "" {
			message = "provisioning failed"
			if e.Step != "" {
				message = string(e.Step) + " failed"
			}
		}
		attrs = append(attrs, "err", e.Err)
		if kind, ok := KindOf(e.Err); ok {
			attrs = append(attrs, "kind", string(kind))
		}
		logger.Error(message, attrs...)
		return
	}
	if message == "" {
		if !e.Done {
			return
		}
		message = "provisioning complete"
	}
	if e.Done {
		logger.Info(message, attrs...)
		return
	}
	logger.Debug(message, attrs...)
}

type nopReporter struct{}

func (nopReporter) Report(Event) {}
