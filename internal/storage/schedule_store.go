package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tender-ingest/internal/models"
)

// scheduleKeyPrefix namespaces schedule blobs in Redis.
const scheduleKeyPrefix = "schedule:"

// ScheduleStore persists schedules as JSON blobs keyed by schedule id.
// Schedules have no TTL; the scheduler's purge sweep owns their lifetime.
type ScheduleStore struct {
	cache *RedisCache
}

// NewScheduleStore creates a Redis-backed schedule store.
func NewScheduleStore(cache *RedisCache) *ScheduleStore {
	return &ScheduleStore{cache: cache}
}

// Save writes a schedule, replacing any previous blob.
func (s *ScheduleStore) Save(ctx context.Context, schedule *models.ScheduledJob) error {
	raw, err := json.Marshal(schedule)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}
	if err := s.cache.Set(ctx, scheduleKeyPrefix+schedule.ID, raw, 0); err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

// Get returns one schedule, or (nil, nil) when the id is unknown.
func (s *ScheduleStore) Get(ctx context.Context, id string) (*models.ScheduledJob, error) {
	raw, err := s.cache.Get(ctx, scheduleKeyPrefix+id)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load schedule: %w", err)
	}

	var schedule models.ScheduledJob
	if err := json.Unmarshal([]byte(raw), &schedule); err != nil {
		return nil, fmt.Errorf("failed to decode schedule %s: %w", id, err)
	}
	return &schedule, nil
}

// List returns every persisted schedule. Blobs that fail to decode are
// skipped rather than failing the listing.
func (s *ScheduleStore) List(ctx context.Context) ([]*models.ScheduledJob, error) {
	keys, err := s.cache.Keys(ctx, scheduleKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule keys: %w", err)
	}

	schedules := make([]*models.ScheduledJob, 0, len(keys))
	for _, key := range keys {
		raw, err := s.cache.Get(ctx, key)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("failed to load schedule %s: %w", key, err)
		}

		var schedule models.ScheduledJob
		if err := json.Unmarshal([]byte(raw), &schedule); err != nil {
			continue
		}
		schedules = append(schedules, &schedule)
	}
	return schedules, nil
}

// Delete removes a schedule blob.
func (s *ScheduleStore) Delete(ctx context.Context, id string) error {
	if err := s.cache.Del(ctx, scheduleKeyPrefix+id); err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return nil
}
