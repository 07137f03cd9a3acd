package analysis

import (
	"context"

	"arcscan/internal/core/jobkey"
	"arcscan/internal/core/progress"
	"arcscan/internal/platform/backend"
)

// Backend is the slice of the analysis-backend client the observer needs.
type Backend interface {
	Analyze(ctx context.Context, locator, userID string) (*backend.AnalyzeResponse, error)
	Progress(ctx context.Context, locator string) (*backend.ProgressResponse, error)
	Results(ctx context.Context, locator string) (*backend.AnalysisResult, error)
}

// ProgressSource reads the live progress record for a job. A missing or
// half-written record returns (nil, nil): "not yet available" is not an error.
type ProgressSource interface {
	ProgressRecord(ctx context.Context, key jobkey.Key) (*progress.Record, error)
}

// ResultSink persists a committed analysis as a durable history document.
type ResultSink interface {
	SaveAnalysis(ctx context.Context, key jobkey.Key, userID string, res *backend.AnalysisResult) error
}

// PartialResult is the early transcript snippet available once the job passes
// the transcribed stage. Superseded by the final result, never persisted.
type PartialResult struct {
	Transcription string `json:"transcription"`
}

// GuardMode selects how the one-shot partial fetch is guarded.
//
// GuardFlag uses an explicit "already fetched" flag: an empty fetch is final.
// GuardPresence gates on the data being present, so a fetch that returned
// nothing useful is retried on the next transcribed signal. Flag is the
// default.
type GuardMode int

const (
	GuardFlag GuardMode = iota
	GuardPresence
)

// Snapshot is a point-in-time copy of a session's reconciled state.
type Snapshot struct {
	JobKey   jobkey.Key              `json:"job_key"`
	Locator  string                  `json:"locator"`
	UserID   string                  `json:"user_id,omitempty"`
	State    progress.State          `json:"state"`
	Steps    []progress.StepView     `json:"steps"`
	Partial  *PartialResult          `json:"partial,omitempty"`
	Final    *backend.AnalysisResult `json:"final,omitempty"`
	Analyzed bool                    `json:"analyzed"`
}
