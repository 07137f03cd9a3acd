package advanced

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arcscan/internal/config"
	"arcscan/internal/core/history"
	"arcscan/internal/core/jobkey"
	"arcscan/internal/logger"
	"arcscan/internal/platform/backend"
	"arcscan/internal/platform/tasks"

	"github.com/hibiken/asynq"
)

// Pipeline is the slice of the analysis backend the advanced flow uses.
type Pipeline interface {
	AdvancedAnalyze(ctx context.Context, locator, userID string) (*backend.AdvancedResponse, error)
	AdvancedProgress(ctx context.Context, locator string) (*backend.ProgressResponse, error)
	AdvancedResults(ctx context.Context, locator string) (*backend.AdvancedResult, error)
}

// Archive persists finished advanced analyses and serves them back when the
// remote record is gone.
type Archive interface {
	SaveAdvanced(ctx context.Context, key jobkey.Key, userID string, res *backend.AdvancedResult) error
	GetAdvanced(ctx context.Context, key jobkey.Key) (*history.Record, error)
}

// Enqueuer schedules background tasks.
type Enqueuer interface {
	Enqueue(task *asynq.Task, queue string, maxRetries int) error
}

// Service drives the advanced-emotion pipeline. The trigger call either
// returns a finished analysis straight away or leaves the pipeline running
// remotely, in which case a background poll task follows it to completion
// and persists the result.
type Service struct {
	log     *logger.Logger
	cfg     config.Config
	backend Pipeline
	tasks   Enqueuer
	history Archive
}

func NewService(cfg config.Config, b Pipeline, t Enqueuer, h Archive) *Service {
	return &Service{
		log:     logger.New("AdvancedService"),
		cfg:     cfg,
		backend: b,
		tasks:   t,
		history: h,
	}
}

type PollTaskPayload struct {
	Locator string     `json:"locator"`
	UserID  string     `json:"user_id"`
	JobKey  jobkey.Key `json:"job_key"`
}

// Trigger starts the advanced pipeline for the locator. When the response
// already carries the finished analysis it is persisted immediately;
// otherwise a poll task is enqueued to pick up the result later.
func (s *Service) Trigger(ctx context.Context, locator, userID string) (*backend.AdvancedResponse, error) {
	key := jobkey.Derive(locator)
	resp, err := s.backend.AdvancedAnalyze(ctx, locator, userID)
	if err != nil {
		return nil, err
	}
	if resp.Complete() {
		s.log.LogInfof("advanced analysis for %s returned complete on trigger", key)
		s.persist(ctx, key, userID, locator, &resp.AdvancedResult)
		return resp, nil
	}

	payload, _ := json.Marshal(PollTaskPayload{Locator: locator, UserID: userID, JobKey: key})
	task := asynq.NewTask(tasks.TaskTypeAdvancedPoll, payload)
	if err := s.tasks.Enqueue(task, "default", s.cfg.TaskMaxRetries); err != nil {
		return nil, fmt.Errorf("enqueue advanced poll: %w", err)
	}
	s.log.LogInfof("advanced analysis for %s in progress, poll task enqueued", key)
	return resp, nil
}

// Progress proxies the remote progress record for the locator.
func (s *Service) Progress(ctx context.Context, locator string) (*backend.ProgressResponse, error) {
	return s.backend.AdvancedProgress(ctx, locator)
}

// HandlePollTask polls remote progress until the pipeline finishes, then
// fetches and persists the result. Exactly one fetch happens per task run.
func (s *Service) HandlePollTask(ctx context.Context, task *asynq.Task) error {
	var p PollTaskPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("decode poll payload: %w", err)
	}
	if p.JobKey == "" {
		p.JobKey = jobkey.Derive(p.Locator)
	}

	deadline := time.Now().Add(s.cfg.PollDeadline)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		prog, err := s.backend.AdvancedProgress(ctx, p.Locator)
		switch {
		case err != nil:
			// A missing record usually means the pipeline has not
			// registered the job yet. Keep polling until the deadline.
			s.log.LogDebugf("advanced progress for %s: %v", p.JobKey, err)
		case prog.Status == "complete" || prog.Status == "complete_advanced":
			return s.collect(ctx, p)
		case prog.Status == "error" || prog.Status == "error_advanced":
			s.log.LogWarnf("advanced analysis for %s failed remotely: %s", p.JobKey, prog.Message)
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("advanced analysis for %s did not finish within %s", p.JobKey, s.cfg.PollDeadline)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) collect(ctx context.Context, p PollTaskPayload) error {
	res, err := s.backend.AdvancedResults(ctx, p.Locator)
	if err != nil {
		return fmt.Errorf("fetch advanced results for %s: %w", p.JobKey, err)
	}
	s.persist(ctx, p.JobKey, p.UserID, p.Locator, res)
	return nil
}

// Results returns the advanced analysis, preferring the remote store and
// falling back to the local history copy when the remote record is gone.
func (s *Service) Results(ctx context.Context, locator string) (*backend.AdvancedResult, error) {
	res, err := s.backend.AdvancedResults(ctx, locator)
	if err == nil {
		return res, nil
	}
	rec, herr := s.history.GetAdvanced(ctx, jobkey.Derive(locator))
	if herr == nil && rec != nil && rec.Advanced != nil {
		return rec.Advanced, nil
	}
	return nil, err
}

func (s *Service) persist(ctx context.Context, key jobkey.Key, userID, locator string, res *backend.AdvancedResult) {
	if res.VideoURL == "" {
		res.VideoURL = locator
	}
	if err := s.history.SaveAdvanced(ctx, key, userID, res); err != nil {
		s.log.LogError("persist advanced analysis", err)
	}
}
