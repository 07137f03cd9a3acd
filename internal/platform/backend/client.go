package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"arcscan/internal/logger"
)

// APIError carries the remote status code and body so proxy handlers can pass
// both through verbatim.
type APIError struct {
	StatusCode int
	Detail     string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("analysis backend returned %d", e.StatusCode)
}

// Client talks to the Python analysis backend over HTTP.
type Client struct {
	http *resty.Client
	log  *logger.Logger
}

type Options struct {
	BaseURL string
	Timeout time.Duration
}

func NewClient(opts Options) *Client {
	c := resty.New()
	c.SetBaseURL(opts.BaseURL)
	c.SetHeader("Content-Type", "application/json")
	if opts.Timeout > 0 {
		c.SetTimeout(opts.Timeout)
	}
	return &Client{http: c, log: logger.New("BackendClient")}
}

type analyzeRequest struct {
	URL    string `json:"url"`
	UserID string `json:"user_id"`
}

// Analyze triggers the standard sentiment pipeline. A cache hit returns the
// finished analysis synchronously.
func (c *Client) Analyze(ctx context.Context, locator, userID string) (*AnalyzeResponse, error) {
	var out AnalyzeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(analyzeRequest{URL: locator, UserID: userID}).
		SetResult(&out).
		Post("/analyze")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// Progress pulls the current pipeline status by locator.
func (c *Client) Progress(ctx context.Context, locator string) (*ProgressResponse, error) {
	var out ProgressResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/progress/" + url.PathEscape(locator))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// Results fetches the completed analysis by locator.
func (c *Client) Results(ctx context.Context, locator string) (*AnalysisResult, error) {
	var out AnalysisResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/results/" + url.PathEscape(locator))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// AdvancedAnalyze triggers the advanced-emotion pipeline.
func (c *Client) AdvancedAnalyze(ctx context.Context, locator, userID string) (*AdvancedResponse, error) {
	var out AdvancedResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(analyzeRequest{URL: locator, UserID: userID}).
		SetResult(&out).
		Post("/analyze/advanced-emotions")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

func (c *Client) AdvancedProgress(ctx context.Context, locator string) (*ProgressResponse, error) {
	var out ProgressResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/progress/advanced/" + url.PathEscape(locator))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

func (c *Client) AdvancedResults(ctx context.Context, locator string) (*AdvancedResult, error) {
	var out AdvancedResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/results/advanced/" + url.PathEscape(locator))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// History lists the analyses stored for one user.
func (c *Client) History(ctx context.Context, userID string) ([]AnalysisResult, error) {
	var out []AnalysisResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/history/" + url.PathEscape(userID))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return out, nil
}

// HealthCheck probes the backend root; any HTTP response counts as reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.http.R().SetContext(ctx).Get("/")
	return err
}

func apiError(resp *resty.Response) *APIError {
	body := resp.Body()
	e := &APIError{StatusCode: resp.StatusCode(), Body: body}
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Detail != "" {
			e.Detail = payload.Detail
		} else if payload.Error != "" {
			e.Detail = payload.Error
		}
	}
	return e
}
