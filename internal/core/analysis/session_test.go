package analysis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"arcscan/internal/core/jobkey"
	"arcscan/internal/core/progress"
	"arcscan/internal/platform/backend"
)

type fakeBackend struct {
	resultCalls int64
	resultErr   error
	result      *backend.AnalysisResult
}

func (f *fakeBackend) Analyze(ctx context.Context, locator, userID string) (*backend.AnalyzeResponse, error) {
	return &backend.AnalyzeResponse{Status: "processing"}, nil
}

func (f *fakeBackend) Progress(ctx context.Context, locator string) (*backend.ProgressResponse, error) {
	return &backend.ProgressResponse{Status: "starting"}, nil
}

func (f *fakeBackend) Results(ctx context.Context, locator string) (*backend.AnalysisResult, error) {
	atomic.AddInt64(&f.resultCalls, 1)
	if f.resultErr != nil {
		return nil, f.resultErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return &backend.AnalysisResult{Transcription: "final transcript"}, nil
}

// fakeSource returns an empty record for the first emptyCalls reads and a
// populated transcript afterwards.
type fakeSource struct {
	reads      int64
	emptyCalls int64
}

func (f *fakeSource) ProgressRecord(ctx context.Context, key jobkey.Key) (*progress.Record, error) {
	n := atomic.AddInt64(&f.reads, 1)
	if n <= f.emptyCalls {
		return &progress.Record{Status: "transcribed", Progress: 50}, nil
	}
	return &progress.Record{Status: "transcribed", Progress: 50, PartialTranscript: "partial text"}, nil
}

type fakeSink struct{ saves int64 }

func (f *fakeSink) SaveAnalysis(ctx context.Context, key jobkey.Key, userID string, res *backend.AnalysisResult) error {
	atomic.AddInt64(&f.saves, 1)
	return nil
}

type fakeCloser struct{ closed int64 }

func (f *fakeCloser) Close() error {
	atomic.AddInt64(&f.closed, 1)
	return nil
}

func newTestSession(t *testing.T, b *fakeBackend, src *fakeSource, sink *fakeSink, guard GuardMode) *Session {
	t.Helper()
	if b == nil {
		b = &fakeBackend{}
	}
	if src == nil {
		src = &fakeSource{}
	}
	if sink == nil {
		sink = &fakeSink{}
	}
	s := NewSession(SessionConfig{
		Key:     jobkey.Derive("https://youtu.be/abc123"),
		Locator: "https://youtu.be/abc123",
		UserID:  "user-1",
		Backend: b,
		Source:  src,
		Sink:    sink,
		Guard:   guard,
	})
	t.Cleanup(s.Close)
	return s
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func completeState() progress.State {
	return progress.State{Status: progress.StatusComplete, Progress: 100}
}

func TestAtMostOneFinalFetch(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSession(t, b, nil, nil, GuardFlag)
	gen := s.Generation()

	// Redundant completion signals from both channels plus a stale poll.
	for i := 0; i < 5; i++ {
		s.Deliver(gen, completeState())
	}

	waitFor(t, func() bool { return s.Snapshot().Final != nil }, "final never committed")
	// Give any erroneous extra fetch time to land.
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt64(&b.resultCalls); n != 1 {
		t.Errorf("final fetch issued %d times, want 1", n)
	}
	snap := s.Snapshot()
	if !snap.Analyzed || snap.State.Status != progress.StatusComplete {
		t.Errorf("commit state wrong: %+v", snap.State)
	}
}

func TestTriggerCacheHitCommitsWithoutChannels(t *testing.T) {
	b := &fakeBackend{}
	sink := &fakeSink{}
	s := newTestSession(t, b, nil, sink, GuardFlag)
	gen := s.Generation()

	resp := &backend.AnalyzeResponse{
		AnalysisResult: backend.AnalysisResult{Transcription: "cached"},
	}
	s.ApplyTrigger(gen, resp)

	snap := s.Snapshot()
	if snap.Final == nil || snap.Final.Transcription != "cached" {
		t.Fatalf("cache hit not committed: %+v", snap.Final)
	}
	if snap.State.Status != progress.StatusComplete {
		t.Errorf("state = %s, want complete", snap.State.Status)
	}
	if n := atomic.LoadInt64(&b.resultCalls); n != 0 {
		t.Errorf("result fetch issued %d times for a cache hit, want 0", n)
	}

	// Late completion signals from the (old) channels are discarded.
	s.Deliver(gen, completeState())
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt64(&b.resultCalls); n != 0 {
		t.Errorf("stale completion triggered %d fetches after commit", n)
	}
	waitFor(t, func() bool { return atomic.LoadInt64(&sink.saves) == 1 }, "commit not persisted")
}

func TestPartialFetchFlagGuard(t *testing.T) {
	src := &fakeSource{emptyCalls: 100} // every fetch comes back empty
	s := newTestSession(t, nil, src, nil, GuardFlag)
	gen := s.Generation()

	transcribed := progress.State{Status: progress.StatusTranscribed, Progress: 50}
	s.Deliver(gen, transcribed)
	waitFor(t, func() bool { return atomic.LoadInt64(&src.reads) == 1 }, "first partial fetch missing")

	// Flag guard: the empty fetch is final, repeats are no-ops.
	s.Deliver(gen, transcribed)
	s.Deliver(gen, transcribed)
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt64(&src.reads); n != 1 {
		t.Errorf("flag guard allowed %d partial fetches, want 1", n)
	}
	if s.Snapshot().Partial != nil {
		t.Error("empty fetch should leave partial unset")
	}
}

func TestPartialFetchPresenceGuardRetriesEmpty(t *testing.T) {
	src := &fakeSource{emptyCalls: 2}
	s := newTestSession(t, nil, src, nil, GuardPresence)
	gen := s.Generation()

	transcribed := progress.State{Status: progress.StatusTranscribed, Progress: 50}
	s.Deliver(gen, transcribed)
	waitFor(t, func() bool { return atomic.LoadInt64(&src.reads) == 1 }, "first partial fetch missing")
	time.Sleep(50 * time.Millisecond) // let the empty fetch land

	// Presence guard: nothing was stored, so the next signal retries.
	s.Deliver(gen, transcribed)
	waitFor(t, func() bool { return atomic.LoadInt64(&src.reads) == 2 }, "presence guard did not retry an empty fetch")
	time.Sleep(50 * time.Millisecond)

	// The third fetch returns data; after that the guard holds.
	s.Deliver(gen, transcribed)
	waitFor(t, func() bool { return s.Snapshot().Partial != nil }, "partial never stored")
	s.Deliver(gen, transcribed)
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt64(&src.reads); n != 3 {
		t.Errorf("presence guard allowed %d fetches after data present, want 3", n)
	}
	if got := s.Snapshot().Partial.Transcription; got != "partial text" {
		t.Errorf("partial = %q", got)
	}
}

func TestResetClearsEverythingAndDiscardsStaleSignals(t *testing.T) {
	b := &fakeBackend{}
	src := &fakeSource{} // transcript available from the first read
	s := newTestSession(t, b, src, nil, GuardFlag)
	watcher := &fakeCloser{}
	poller := &fakeCloser{}
	s.AttachWatcher(watcher)
	s.AttachPoller(poller)

	gen := s.Generation()
	s.Deliver(gen, progress.State{Status: progress.StatusTranscribed, Progress: 50})
	waitFor(t, func() bool { return s.Snapshot().Partial != nil }, "partial never stored")

	s.Reset()

	snap := s.Snapshot()
	if snap.State != progress.Initial() {
		t.Errorf("state after reset = %+v", snap.State)
	}
	if snap.Partial != nil || snap.Final != nil || snap.Analyzed {
		t.Errorf("reset left data behind: %+v", snap)
	}
	if atomic.LoadInt64(&watcher.closed) == 0 || atomic.LoadInt64(&poller.closed) == 0 {
		t.Error("reset did not tear down channels")
	}

	// A stale signal for the old generation must not mutate anything.
	s.Deliver(gen, completeState())
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt64(&b.resultCalls); n != 0 {
		t.Errorf("stale completion after reset issued %d fetches", n)
	}
	if s.Snapshot().State != progress.Initial() {
		t.Errorf("stale signal mutated state: %+v", s.Snapshot().State)
	}
}

func TestFinalFetchFailureBecomesErrorState(t *testing.T) {
	b := &fakeBackend{resultErr: errors.New("backend unavailable")}
	s := newTestSession(t, b, nil, nil, GuardFlag)
	poller := &fakeCloser{}
	s.AttachPoller(poller)
	gen := s.Generation()

	s.Deliver(gen, completeState())
	waitFor(t, func() bool { return s.Snapshot().State.Status == progress.StatusError }, "error state never surfaced")

	snap := s.Snapshot()
	if snap.State.Message != "backend unavailable" {
		t.Errorf("error message = %q, want upstream message", snap.State.Message)
	}
	if snap.Final != nil || snap.Analyzed {
		t.Error("failed fetch must not commit")
	}
	if atomic.LoadInt64(&poller.closed) == 0 {
		t.Error("poll loop should stop on error")
	}
}

func TestTriggerFailureHaltsUntilReset(t *testing.T) {
	s := newTestSession(t, nil, nil, nil, GuardFlag)
	gen := s.Generation()

	s.FailTrigger(gen, "backend unavailable")

	snap := s.Snapshot()
	want := progress.State{Status: progress.StatusError, Progress: 0, Message: "backend unavailable"}
	if snap.State != want {
		t.Errorf("state = %+v, want %+v", snap.State, want)
	}

	s.Reset()
	if s.Snapshot().State != progress.Initial() {
		t.Error("reset did not clear the error state")
	}
}

func TestCompletionTearsDownSubscription(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSession(t, b, nil, nil, GuardFlag)
	watcher := &fakeCloser{}
	poller := &fakeCloser{}
	s.AttachWatcher(watcher)
	s.AttachPoller(poller)
	gen := s.Generation()

	s.Deliver(gen, progress.State{Status: progress.StatusTranscribing, Progress: 40})
	waitFor(t, func() bool { return s.Snapshot().State.Status == progress.StatusTranscribing }, "progress not applied")

	steps := map[progress.Status]progress.StepState{}
	for _, v := range s.Snapshot().Steps {
		steps[v.Step] = v.State
	}
	if steps[progress.StatusDownloading] != progress.StepCompleted {
		t.Errorf("downloading = %s, want completed", steps[progress.StatusDownloading])
	}
	if steps[progress.StatusTranscribing] != progress.StepCurrent {
		t.Errorf("transcribing = %s, want current", steps[progress.StatusTranscribing])
	}

	s.Deliver(gen, completeState())
	waitFor(t, func() bool { return s.Snapshot().Final != nil }, "final never committed")
	if n := atomic.LoadInt64(&b.resultCalls); n != 1 {
		t.Errorf("final fetch issued %d times, want 1", n)
	}
	if atomic.LoadInt64(&watcher.closed) == 0 || atomic.LoadInt64(&poller.closed) == 0 {
		t.Error("completion did not tear down both channels")
	}
}
