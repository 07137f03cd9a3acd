package advanced

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"arcscan/internal/platform/backend"
)

func newTestApp(pipe *fakePipeline) *fiber.App {
	svc := NewService(testConfig(), pipe, &fakeEnqueuer{}, &fakeArchive{})
	h := NewHandler(svc)
	app := fiber.New()
	app.Post("/v1/analyze/advanced-emotions", h.HandleTrigger)
	app.Get("/v1/progress/advanced/:locator", h.HandleProgress)
	app.Get("/v1/results/advanced/:locator", h.HandleResults)
	return app
}

func TestHandleTriggerValidation(t *testing.T) {
	app := newTestApp(&fakePipeline{})

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze/advanced-emotions", strings.NewReader(`{"url":""}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleProgressRelaysRemoteError(t *testing.T) {
	pipe := &fakePipeline{progressErr: &backend.APIError{
		StatusCode: http.StatusNotFound,
		Detail:     "Advanced analysis not found",
		Body:       []byte(`{"detail":"Advanced analysis not found"}`),
	}}
	app := newTestApp(pipe)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/progress/advanced/abc123", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, remote status must pass through", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"detail":"Advanced analysis not found"}` {
		t.Errorf("body = %s, remote body must pass through unchanged", body)
	}
}

func TestHandleProgressWrapsUnexpectedFailure(t *testing.T) {
	pipe := &fakePipeline{progressErr: io.ErrUnexpectedEOF}
	app := newTestApp(pipe)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/progress/advanced/abc", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	var payload struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Success || payload.Error == "" {
		t.Errorf("payload = %+v, want failure with message", payload)
	}
}

func TestHandleProgressOK(t *testing.T) {
	pipe := &fakePipeline{statuses: []string{"processing"}}
	app := newTestApp(pipe)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/progress/advanced/abc", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var prog backend.ProgressResponse
	if err := json.NewDecoder(resp.Body).Decode(&prog); err != nil {
		t.Fatal(err)
	}
	if prog.Status != "processing" {
		t.Errorf("status = %s", prog.Status)
	}
}
