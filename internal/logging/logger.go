package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log
// aggregation. Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithGeneration returns a logger with generation context fields attached.
func WithGeneration(requestID string, attempt int) *slog.Logger {
	return slog.With(
		"request_id", requestID,
		"attempt", attempt,
	)
}

// WithRun returns a logger scoped to a workflow run.
func WithRun(runID, workflowID string) *slog.Logger {
	return slog.With(
		"run_id", runID,
		"workflow_id", workflowID,
	)
}
