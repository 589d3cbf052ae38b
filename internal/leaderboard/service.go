// Package leaderboard maintains a redis sorted set of participant ratings,
// refreshed whenever the stats sink persists a new rating.
package leaderboard

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/arenaplay/arena/internal/domain"
	"github.com/arenaplay/arena/internal/event"
)

const defaultLimit = 50

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameRatingUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateRating(ctx, e.(domain.EventRatingUpdated))
	})

	return s
}

type Entry struct {
	Identity string `json:"identity"`
	Rating   int    `json:"rating"`
}

// GetLeaderboard returns the top rated participants in descending order. An
// empty board is not an error.
func (s *Service) GetLeaderboard(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	res, err := s.redis.ZRevRangeWithScores(ctx, s.key(), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	entries := make([]Entry, 0, len(res))
	for _, z := range res {
		entries = append(entries, Entry{
			Identity: z.Member.(string),
			Rating:   int(z.Score),
		})
	}

	return entries, nil
}

// UpdateRating overwrites the participant's rating on the board.
func (s *Service) UpdateRating(ctx context.Context, e domain.EventRatingUpdated) error {
	if err := s.redis.ZAdd(ctx, s.key(), redis.Z{
		Score:  float64(e.Rating),
		Member: e.Identity,
	}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return nil
}

func (s *Service) key() string {
	return fmt.Sprintf("%s:leaderboard", s.prefix)
}
