package analysis

import (
	"context"
	"io"
	"sync"
	"time"

	"arcscan/internal/core/jobkey"
	"arcscan/internal/core/progress"
	"arcscan/internal/logger"
	"arcscan/internal/platform/backend"
)

const fetchTimeout = 90 * time.Second

// Session reconciles every signal for one submitted job: live channel
// updates, poll updates, the synchronous trigger response, fetch completions
// and resets. A single goroutine consumes them in arrival order, so
// check-then-act guards never interleave; the mutex only covers snapshot
// reads. Every async completion carries the generation it was started under
// and is discarded unapplied if a reset has bumped it since.
type Session struct {
	log     *logger.Logger
	key     jobkey.Key
	locator string
	userID  string

	backend Backend
	source  ProgressSource
	sink    ResultSink
	guard   GuardMode

	signals chan message
	quit    chan struct{}
	once    sync.Once

	mu              sync.Mutex
	gen             uint64
	state           progress.State
	partial         *PartialResult
	final           *backend.AnalysisResult
	analyzed        bool
	partialFetched  bool
	partialInflight bool
	finalInflight   bool
	watcher         io.Closer
	poller          io.Closer
}

type message interface{}

type progressMsg struct {
	gen   uint64
	state progress.State
}

type triggerMsg struct {
	gen  uint64
	resp *backend.AnalyzeResponse
	done chan struct{}
}

type triggerErrMsg struct {
	gen  uint64
	msg  string
	done chan struct{}
}

type partialDoneMsg struct {
	gen     uint64
	partial *PartialResult
	errMsg  string
}

type finalDoneMsg struct {
	gen    uint64
	result *backend.AnalysisResult
	errMsg string
}

type resetMsg struct {
	done chan struct{}
}

type SessionConfig struct {
	Key     jobkey.Key
	Locator string
	UserID  string
	Backend Backend
	Source  ProgressSource
	Sink    ResultSink
	Guard   GuardMode
}

func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		log:     logger.New("AnalysisSession"),
		key:     cfg.Key,
		locator: cfg.Locator,
		userID:  cfg.UserID,
		backend: cfg.Backend,
		source:  cfg.Source,
		sink:    cfg.Sink,
		guard:   cfg.Guard,
		signals: make(chan message, 16),
		quit:    make(chan struct{}),
		state:   progress.State{Status: progress.StatusStarting, Progress: 5, Message: "Starting analysis..."},
	}
	go s.run()
	return s
}

func (s *Session) run() {
	for {
		select {
		case m := <-s.signals:
			s.apply(m)
		case <-s.quit:
			return
		}
	}
}

func (s *Session) send(m message) {
	select {
	case s.signals <- m:
	case <-s.quit:
	}
}

// Generation returns the current reset epoch. Channel adapters capture it
// when they start and stamp every signal with it.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Deliver feeds one normalized progress state into the reducer. Either
// channel may call it; last write wins.
func (s *Session) Deliver(gen uint64, st progress.State) {
	s.send(progressMsg{gen: gen, state: st})
}

// ApplyTrigger feeds the synchronous trigger response in. A cache hit commits
// the final result without waiting for either channel. Blocks until the
// reducer has applied it so the caller's next snapshot reflects it.
func (s *Session) ApplyTrigger(gen uint64, resp *backend.AnalyzeResponse) {
	done := make(chan struct{})
	select {
	case s.signals <- triggerMsg{gen: gen, resp: resp, done: done}:
		<-done
	case <-s.quit:
	}
}

// FailTrigger records a rejected trigger call as an error state. Blocks like
// ApplyTrigger.
func (s *Session) FailTrigger(gen uint64, msg string) {
	done := make(chan struct{})
	select {
	case s.signals <- triggerErrMsg{gen: gen, msg: msg, done: done}:
		<-done
	case <-s.quit:
	}
}

// Reset clears all reconciled state and tears down both channels. It blocks
// until the reducer has applied it, so callers observe a clean session.
func (s *Session) Reset() {
	done := make(chan struct{})
	select {
	case s.signals <- resetMsg{done: done}:
		<-done
	case <-s.quit:
	}
}

// Close tears the session down for good: channels closed, reducer stopped.
func (s *Session) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.gen++
		s.closeWatcherLocked()
		s.closePollerLocked()
		s.mu.Unlock()
		close(s.quit)
	})
}

func (s *Session) AttachWatcher(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	s.watcher = c
}

func (s *Session) AttachPoller(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poller != nil {
		_ = s.poller.Close()
	}
	s.poller = c
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		JobKey:   s.key,
		Locator:  s.locator,
		UserID:   s.userID,
		State:    s.state,
		Steps:    progress.Steps(s.state.Status),
		Partial:  s.partial,
		Final:    s.final,
		Analyzed: s.analyzed,
	}
}

func (s *Session) apply(m message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch v := m.(type) {
	case progressMsg:
		if v.gen != s.gen {
			return
		}
		s.applyProgressLocked(v.state)
	case triggerMsg:
		if v.gen == s.gen && v.resp.Complete() {
			s.commitLocked(&v.resp.AnalysisResult)
		}
		close(v.done)
	case triggerErrMsg:
		if v.gen == s.gen {
			s.failLocked(v.msg)
		}
		close(v.done)
	case partialDoneMsg:
		if v.gen != s.gen {
			return
		}
		s.partialInflight = false
		if v.errMsg != "" {
			s.failLocked(v.errMsg)
			return
		}
		if v.partial != nil {
			s.partial = v.partial
		}
	case finalDoneMsg:
		if v.gen != s.gen {
			return
		}
		s.finalInflight = false
		if v.errMsg != "" {
			s.failLocked(v.errMsg)
			return
		}
		s.commitLocked(v.result)
	case resetMsg:
		s.gen++
		s.state = progress.Initial()
		s.partial = nil
		s.final = nil
		s.analyzed = false
		s.partialFetched = false
		s.partialInflight = false
		s.finalInflight = false
		s.closeWatcherLocked()
		s.closePollerLocked()
		close(v.done)
	}
}

func (s *Session) applyProgressLocked(st progress.State) {
	// Last-write-wins between the two channels. Both converge on the same
	// terminal value, so no ordering is enforced.
	s.state = st

	switch st.Status {
	case progress.StatusError:
		// Terminal for the poll loop. The live subscription stays open; only
		// a manual reset recovers from here.
		s.closePollerLocked()
	case progress.StatusComplete:
		s.maybeFetchFinalLocked()
	case progress.StatusTranscribed:
		s.maybeFetchPartialLocked()
	}
}

func (s *Session) maybeFetchPartialLocked() {
	if s.partialInflight {
		return
	}
	switch s.guard {
	case GuardFlag:
		if s.partialFetched {
			return
		}
		s.partialFetched = true
	case GuardPresence:
		if s.partial != nil {
			return
		}
	}
	s.partialInflight = true
	gen := s.gen
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		rec, err := s.source.ProgressRecord(ctx, s.key)
		msg := partialDoneMsg{gen: gen}
		if err != nil {
			msg.errMsg = err.Error()
		} else if rec != nil && rec.PartialTranscript != "" {
			msg.partial = &PartialResult{Transcription: rec.PartialTranscript}
		}
		s.send(msg)
	}()
}

func (s *Session) maybeFetchFinalLocked() {
	if s.analyzed || s.final != nil || s.finalInflight {
		return
	}
	s.finalInflight = true
	gen := s.gen
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		res, err := s.backend.Results(ctx, s.locator)
		msg := finalDoneMsg{gen: gen}
		if err != nil {
			msg.errMsg = err.Error()
		} else {
			msg.result = res
		}
		s.send(msg)
	}()
}

func (s *Session) commitLocked(res *backend.AnalysisResult) {
	if s.analyzed || s.final != nil {
		return
	}
	s.final = res
	s.analyzed = true
	s.state = progress.State{Status: progress.StatusComplete, Progress: 100, Message: "Analysis complete"}
	// The job is terminal; bump the epoch so anything still in flight from
	// either channel is discarded instead of regressing a committed state.
	s.gen++
	s.closeWatcherLocked()
	s.closePollerLocked()

	if s.sink != nil {
		key, userID, locator := s.key, s.userID, s.locator
		saved := *res
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
			defer cancel()
			if saved.VideoURL == "" {
				saved.VideoURL = locator
			}
			if err := s.sink.SaveAnalysis(ctx, key, userID, &saved); err != nil {
				s.log.LogErrorf("persist analysis %s: %v", key, err)
			}
		}()
	}
}

func (s *Session) failLocked(msg string) {
	s.state = progress.Errorf(msg)
	s.closePollerLocked()
}

func (s *Session) closeWatcherLocked() {
	if s.watcher != nil {
		_ = s.watcher.Close()
		s.watcher = nil
	}
}

func (s *Session) closePollerLocked() {
	if s.poller != nil {
		_ = s.poller.Close()
		s.poller = nil
	}
}
