package analysis

import (
	"context"
	"sync"

	"arcscan/internal/config"
	"arcscan/internal/core/history"
	"arcscan/internal/core/jobkey"
	"arcscan/internal/logger"
	"arcscan/internal/platform/backend"
	rds "arcscan/internal/platform/redis"
)

// Service owns one session per job key and drives the submission flow:
// derive key, subscribe both channels, trigger the backend, reconcile.
type Service struct {
	log     *logger.Logger
	cfg     config.Config
	backend *backend.Client
	redis   *rds.Service
	store   *Store
	history *history.Store

	mu       sync.Mutex
	sessions map[jobkey.Key]*Session
}

func NewService(cfg config.Config, client *backend.Client, redis *rds.Service, hist *history.Store) *Service {
	return &Service{
		log:      logger.New("AnalysisService"),
		cfg:      cfg,
		backend:  client,
		redis:    redis,
		store:    NewStore(redis),
		history:  hist,
		sessions: make(map[jobkey.Key]*Session),
	}
}

// StartResult is what a submission returns: the derived key and the state
// right after the trigger response was reconciled.
type StartResult struct {
	Cached   bool
	Snapshot Snapshot
}

// Start submits a locator for analysis. Any prior session for the same key is
// torn down first, which guarantees the old subscription is closed before the
// new one opens. Channels are subscribed before the trigger fires so no early
// update is missed. Trigger failures are converted into an error state rather
// than returned; the submission itself succeeded.
func (s *Service) Start(ctx context.Context, locator, userID string) StartResult {
	key := jobkey.Derive(locator)

	guard := GuardFlag
	if s.cfg.PartialGuard == "presence" {
		guard = GuardPresence
	}
	sess := NewSession(SessionConfig{
		Key:     key,
		Locator: locator,
		UserID:  userID,
		Backend: s.backend,
		Source:  s.store,
		Sink:    s.history,
		Guard:   guard,
	})

	s.mu.Lock()
	if old := s.sessions[key]; old != nil {
		old.Close()
	}
	s.sessions[key] = sess
	s.mu.Unlock()

	sess.AttachWatcher(NewWatcher(s.redis, s.store, key, sess))
	if s.cfg.PollInterval > 0 {
		sess.AttachPoller(NewPoller(s.backend, locator, s.cfg.PollInterval, sess))
	}

	gen := sess.Generation()
	resp, err := s.backend.Analyze(ctx, locator, userID)
	if err != nil {
		s.log.LogErrorf("trigger %s: %v", key, err)
		sess.FailTrigger(gen, err.Error())
		return StartResult{Snapshot: sess.Snapshot()}
	}
	if resp.Complete() {
		sess.ApplyTrigger(gen, resp)
		return StartResult{Cached: true, Snapshot: sess.Snapshot()}
	}
	return StartResult{Snapshot: sess.Snapshot()}
}

// Snapshot returns the current state for a job, if a session exists.
func (s *Service) Snapshot(key jobkey.Key) (Snapshot, bool) {
	s.mu.Lock()
	sess := s.sessions[key]
	s.mu.Unlock()
	if sess == nil {
		return Snapshot{}, false
	}
	return sess.Snapshot(), true
}

// Results returns the committed final result for a job. If the session is
// gone (restart, reset) the durable history record still answers.
func (s *Service) Results(ctx context.Context, key jobkey.Key) (*backend.AnalysisResult, error) {
	if snap, ok := s.Snapshot(key); ok && snap.Final != nil {
		return snap.Final, nil
	}
	rec, err := s.history.GetAnalysis(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Analysis == nil {
		return nil, nil
	}
	return rec.Analysis, nil
}

// Reset clears all state for a job and unsubscribes its channels. This is the
// only recovery path after an error.
func (s *Service) Reset(key jobkey.Key) bool {
	s.mu.Lock()
	sess := s.sessions[key]
	delete(s.sessions, key)
	s.mu.Unlock()
	if sess == nil {
		return false
	}
	sess.Reset()
	sess.Close()
	return true
}

// Shutdown tears down every live session.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, sess := range s.sessions {
		sess.Close()
		delete(s.sessions, key)
	}
}
