package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL, Timeout: 5 * time.Second}), srv
}

func TestAnalyzeCacheHit(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["url"] == "" || body["user_id"] == "" {
			t.Errorf("missing url/user_id in body: %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"transcription":     "hello world",
			"overall_sentiment": "Positive",
			"summary":           map[string]interface{}{"Positive": map[string]interface{}{"count": 3, "percentage": 75.0}},
		})
	}))

	resp, err := c.Analyze(context.Background(), "https://youtu.be/abc123", "user-1")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !resp.Complete() {
		t.Error("cached document without status should count as complete")
	}
	if resp.Summary.Positive == nil || resp.Summary.Positive.Percentage != 75.0 {
		t.Errorf("summary not decoded: %+v", resp.Summary)
	}
}

func TestAnalyzeProcessingAck(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "processing"})
	}))
	resp, err := c.Analyze(context.Background(), "https://youtu.be/abc123", "user-1")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if resp.Complete() {
		t.Error("processing ack must not read as complete")
	}
}

func TestAnalyzeErrorCarriesDetail(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "backend unavailable"})
	}))
	_, err := c.Analyze(context.Background(), "https://youtu.be/abc123", "user-1")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", apiErr.StatusCode)
	}
	if apiErr.Error() != "backend unavailable" {
		t.Errorf("message = %q, want upstream detail", apiErr.Error())
	}
}

func TestProgressEncodesLocator(t *testing.T) {
	var gotPath string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "transcribing", "progress": 40})
	}))
	resp, err := c.Progress(context.Background(), "https://youtu.be/abc123")
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if resp.Status != "transcribing" || resp.Progress != 40 {
		t.Errorf("unexpected progress %+v", resp)
	}
	if gotPath == "/progress/https://youtu.be/abc123" {
		t.Error("locator was not path-escaped")
	}
}

func TestAdvancedResultsDynamicTimeline(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"emotion_summary": {"joy": {"average_score": 61.5, "occurrences": 4}},
			"emotion_timeline": [{"time": 12, "joy": 0.8, "sadness": 0.1}],
			"sentence_emotions": [{"text": "great", "start_time": 10, "end_time": 14,
				"emotions": [{"emotion": "joy", "score": 80}]}]
		}`))
	}))
	res, err := c.AdvancedResults(context.Background(), "https://youtu.be/abc123")
	if err != nil {
		t.Fatalf("AdvancedResults: %v", err)
	}
	if len(res.EmotionTimeline) != 1 {
		t.Fatalf("timeline len = %d", len(res.EmotionTimeline))
	}
	pt := res.EmotionTimeline[0]
	if pt.Time != 12 || pt.Emotions["joy"] != 0.8 || pt.Emotions["sadness"] != 0.1 {
		t.Errorf("timeline point not decoded: %+v", pt)
	}
	if _, ok := pt.Emotions["time"]; ok {
		t.Error("time leaked into the emotion map")
	}
}

func TestEmotionTimelinePointRoundTrip(t *testing.T) {
	in := EmotionTimelinePoint{Time: 30, Emotions: map[string]float64{"anger": 0.4}}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out EmotionTimelinePoint
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Time != in.Time || out.Emotions["anger"] != 0.4 {
		t.Errorf("round trip mismatch: %+v", out)
	}
}
