package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"arcscan/internal/core/jobkey"
	"arcscan/internal/logger"
	"arcscan/internal/platform/backend"
	rds "arcscan/internal/platform/redis"
)

// Store keeps the durable analysis documents: one record per job key, plus a
// per-user index so history can be listed. Records never expire.
type Store struct {
	redis *rds.Service
	log   *logger.Logger
}

func NewStore(redis *rds.Service) *Store {
	return &Store{redis: redis, log: logger.New("HistoryStore")}
}

// Record is a stored analysis with bookkeeping fields.
type Record struct {
	JobKey    string                  `json:"job_key"`
	UserID    string                  `json:"user_id"`
	CreatedAt time.Time               `json:"created_at"`
	Analysis  *backend.AnalysisResult `json:"analysis,omitempty"`
	Advanced  *backend.AdvancedResult `json:"advanced,omitempty"`
}

func analysisKey(key jobkey.Key) string { return "analyses:" + string(key) }
func advancedKey(key jobkey.Key) string { return "advanced_analyses:" + string(key) }
func userIndexKey(userID string) string { return "user_analyses:" + userID }

// SaveAnalysis is the reconciler's commit sink.
func (s *Store) SaveAnalysis(ctx context.Context, key jobkey.Key, userID string, res *backend.AnalysisResult) error {
	rec := Record{
		JobKey:    string(key),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		Analysis:  res,
	}
	if err := s.redis.DocSet(ctx, analysisKey(key), rec, 0); err != nil {
		return fmt.Errorf("save analysis %s: %w", key, err)
	}
	if userID != "" {
		if err := s.redis.IndexAdd(ctx, userIndexKey(userID), string(key)); err != nil {
			return fmt.Errorf("index analysis %s for %s: %w", key, userID, err)
		}
	}
	return nil
}

func (s *Store) SaveAdvanced(ctx context.Context, key jobkey.Key, userID string, res *backend.AdvancedResult) error {
	rec := Record{
		JobKey:    string(key),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		Advanced:  res,
	}
	if err := s.redis.DocSet(ctx, advancedKey(key), rec, 0); err != nil {
		return fmt.Errorf("save advanced analysis %s: %w", key, err)
	}
	if userID != "" {
		if err := s.redis.IndexAdd(ctx, userIndexKey(userID), string(key)); err != nil {
			return fmt.Errorf("index advanced analysis %s for %s: %w", key, userID, err)
		}
	}
	return nil
}

func (s *Store) GetAnalysis(ctx context.Context, key jobkey.Key) (*Record, error) {
	var rec Record
	if err := s.redis.DocGet(ctx, analysisKey(key), &rec); err != nil {
		if s.redis.IsNil(err) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *Store) GetAdvanced(ctx context.Context, key jobkey.Key) (*Record, error) {
	var rec Record
	if err := s.redis.DocGet(ctx, advancedKey(key), &rec); err != nil {
		if s.redis.IsNil(err) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListByUser returns every stored record for a user, most recent first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	keys, err := s.redis.IndexMembers(ctx, userIndexKey(userID))
	if err != nil {
		return nil, fmt.Errorf("list analyses for %s: %w", userID, err)
	}
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		rec, err := s.GetAnalysis(ctx, jobkey.Key(k))
		if err != nil {
			s.log.LogWarnf("read analysis %s: %v", k, err)
			continue
		}
		if rec == nil {
			// Advanced-only jobs have no standard record.
			rec, err = s.GetAdvanced(ctx, jobkey.Key(k))
			if err != nil || rec == nil {
				continue
			}
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
