package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"arcscan/internal/config"
	"arcscan/internal/core/history"
	"arcscan/internal/core/jobkey"
	"arcscan/internal/logger"
	"arcscan/internal/platform/backend"

	"github.com/antoineross/supabase-go"
	"github.com/google/uuid"
	storage_go "github.com/supabase-community/storage-go"
)

// ErrNotFound means neither analysis variant is stored for the job.
var ErrNotFound = errors.New("no stored analysis")

// Archive reads the stored analyses a report is built from.
type Archive interface {
	GetAnalysis(ctx context.Context, key jobkey.Key) (*history.Record, error)
	GetAdvanced(ctx context.Context, key jobkey.Key) (*history.Record, error)
}

// Service assembles a downloadable report for a finished analysis and stores
// it, in Supabase storage when configured or under the local data directory
// otherwise.
type Service struct {
	log     *logger.Logger
	cfg     config.Config
	history Archive

	supabaseClient *supabase.Client
}

func New(cfg config.Config, h Archive) (*Service, error) {
	s := &Service{log: logger.New("ExportService"), cfg: cfg, history: h}

	if cfg.AppEnv == "production" {
		if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" || cfg.SupabaseBucket == "" {
			return nil, fmt.Errorf("production environment requires Supabase configuration: SUPABASE_URL, SUPABASE_SERVICE_ROLE_KEY, and SUPABASE_STORAGE_BUCKET must be set")
		}
	}

	if cfg.SupabaseURL != "" && cfg.SupabaseServiceKey != "" {
		client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, nil)
		if err != nil {
			if cfg.AppEnv == "production" {
				return nil, fmt.Errorf("failed to initialize Supabase client in production: %w", err)
			}
			s.log.LogWarnf("failed to initialize Supabase client: %v", err)
		} else {
			s.supabaseClient = client
		}
	}
	return s, nil
}

// Report is the exported document.
type Report struct {
	ID          string                  `json:"id"`
	JobKey      string                  `json:"job_key"`
	VideoURL    string                  `json:"video_url"`
	GeneratedAt time.Time               `json:"generated_at"`
	Analysis    *backend.AnalysisResult `json:"analysis,omitempty"`
	Advanced    *backend.AdvancedResult `json:"advanced,omitempty"`
}

// Result points at the stored report.
type Result struct {
	ID        string `json:"id"`
	JobKey    string `json:"job_key"`
	PublicURL string `json:"url"`
}

// Export builds the report for the job's stored analyses and uploads it. When
// the key is empty it is derived from the locator; at least one analysis must
// exist either way.
func (s *Service) Export(ctx context.Context, key jobkey.Key, locator string) (*Result, error) {
	if key == "" {
		key = jobkey.Derive(locator)
	}
	report, err := s.BuildReport(ctx, key, jobkey.Clean(locator))
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	url, err := s.save(data, report.ID)
	if err != nil {
		return nil, err
	}
	return &Result{ID: report.ID, JobKey: string(key), PublicURL: url}, nil
}

// BuildReport loads both stored analyses for the job and wraps them in a
// report envelope.
func (s *Service) BuildReport(ctx context.Context, key jobkey.Key, locator string) (*Report, error) {
	rec, err := s.history.GetAnalysis(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load analysis %s: %w", key, err)
	}
	adv, err := s.history.GetAdvanced(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load advanced analysis %s: %w", key, err)
	}
	if rec == nil && adv == nil {
		return nil, fmt.Errorf("%w for %s", ErrNotFound, key)
	}

	report := &Report{
		ID:          uuid.NewString(),
		JobKey:      string(key),
		VideoURL:    locator,
		GeneratedAt: time.Now().UTC(),
	}
	if rec != nil {
		report.Analysis = rec.Analysis
	}
	if adv != nil {
		report.Advanced = adv.Advanced
	}
	return report, nil
}

func (s *Service) save(data []byte, id string) (string, error) {
	name := time.Now().Format("20060102_150405") + "_" + id + ".json"

	if s.supabaseClient != nil && s.cfg.SupabaseBucket != "" {
		bucketPath := "reports/" + name
		mimeType := "application/json"
		reader := bytes.NewReader(data)
		if _, err := s.supabaseClient.Storage.UploadFile(s.cfg.SupabaseBucket, bucketPath, reader, storage_go.FileOptions{ContentType: &mimeType}); err != nil {
			if s.cfg.AppEnv == "production" {
				return "", fmt.Errorf("upload report: %w", err)
			}
			s.log.LogWarnf("Supabase upload failed, falling back to local storage: %v", err)
			return s.saveLocal(data, name)
		}
		signed, err := s.signURL(s.cfg.SupabaseBucket, bucketPath, 15*60)
		if err != nil {
			if s.cfg.AppEnv == "production" {
				return "", fmt.Errorf("sign report URL: %w", err)
			}
			s.log.LogWarnf("signed URL creation failed, falling back to local storage: %v", err)
			return s.saveLocal(data, name)
		}
		return signed, nil
	}

	if s.cfg.AppEnv == "production" {
		return "", fmt.Errorf("supabase storage is required in production environment")
	}
	return s.saveLocal(data, name)
}

func (s *Service) saveLocal(data []byte, name string) (string, error) {
	dir := filepath.Join(s.cfg.DataDir, "reports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", err
	}
	return "/files/reports/" + name, nil
}

// signURL calls the storage REST endpoint directly; the generated client
// signs with stale headers on some deployments.
func (s *Service) signURL(bucket, objectPath string, expiresIn int) (string, error) {
	signURL := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", strings.TrimRight(s.cfg.SupabaseURL, "/"), bucket, objectPath)
	body, _ := json.Marshal(map[string]int{"expiresIn": expiresIn})

	req, err := http.NewRequest(http.MethodPost, signURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.SupabaseServiceKey)
	req.Header.Set("apikey", s.cfg.SupabaseServiceKey)

	httpClient := &http.Client{Timeout: 15 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request signed URL: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("create signed URL: status %d", resp.StatusCode)
	}

	var signed struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return "", fmt.Errorf("decode signed URL response: %w", err)
	}

	path := signed.SignedURL
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasPrefix(path, "/storage/v1/") {
		path = "/storage/v1" + path
	}
	return strings.TrimRight(s.cfg.SupabaseURL, "/") + path, nil
}
