package analysis

import (
	"context"
	"encoding/json"

	"arcscan/internal/core/jobkey"
	"arcscan/internal/core/progress"
	rds "arcscan/internal/platform/redis"
)

// Store reads the live progress records the backend writes to the document
// store. The engine never writes them.
type Store struct {
	redis *rds.Service
}

func NewStore(redis *rds.Service) *Store { return &Store{redis: redis} }

// ProgressChannel is the pub/sub channel notified whenever the record under
// the same key changes.
func ProgressChannel(key jobkey.Key) string { return progressKey(key) }

func progressKey(key jobkey.Key) string { return "analysis_progress:" + string(key) }

func (s *Store) ProgressRecord(ctx context.Context, key jobkey.Key) (*progress.Record, error) {
	raw, err := s.redis.DocGetRaw(ctx, progressKey(key))
	if err != nil {
		if s.redis.IsNil(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec progress.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		// A half-written document means "not yet available".
		return nil, nil
	}
	return &rec, nil
}
