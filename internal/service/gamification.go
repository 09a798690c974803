package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/huntred/chatflow/internal/redis"
)

// Points granted per activity type. Unknown activities score a single point.
var activityPoints = map[string]int64{
	"skills_captured":  10,
	"interview_booked": 25,
	"flow_completed":   50,
	"team_notified":    0,
}

// GamificationService keeps per-user engagement scores in a redis sorted
// set, one leaderboard per calendar month.
type GamificationService struct {
	client *redisclient.Client
}

func NewGamificationService(client *redisclient.Client) *GamificationService {
	return &GamificationService{client: client}
}

func leaderboardKey(month time.Time) string {
	return fmt.Sprintf("leaderboard:%s", month.Format("2006-01"))
}

func (s *GamificationService) RecordActivity(ctx context.Context, userID, activityType string, metadata map[string]any) error {
	points, ok := activityPoints[activityType]
	if !ok {
		points = 1
	}
	if points == 0 {
		return nil
	}

	key := leaderboardKey(time.Now())
	if err := s.client.ZIncrBy(ctx, key, float64(points), userID).Err(); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}

	log.Debug().
		Str("userId", userID).
		Str("activity", activityType).
		Int64("points", points).
		Msg("activity recorded")
	return nil
}

// TopUsers returns the current month's leaderboard, highest score first.
func (s *GamificationService) TopUsers(ctx context.Context, limit int64) ([]string, error) {
	key := leaderboardKey(time.Now())
	return s.client.ZRevRange(ctx, key, 0, limit-1).Result()
}
