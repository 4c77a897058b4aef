package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/model"
	"github.com/sakif/ecoloop/internal/repository"
)

// LeaderboardSize is how many users the public ranking shows.
const LeaderboardSize = 20

// Leaderboard is the top of the ranking plus, for a signed-in caller who is
// not in it, their own position.
type Leaderboard struct {
	Top  []model.LeaderboardEntry `json:"top"`
	Self *RankedEntry             `json:"self,omitempty"`
}

type RankedEntry struct {
	Rank int                    `json:"rank"`
	User model.LeaderboardEntry `json:"user"`
}

type LeaderboardService struct {
	users repository.UserRepository
}

func NewLeaderboardService(users repository.UserRepository) *LeaderboardService {
	return &LeaderboardService{users: users}
}

// Get ranks by eco-points, highest first; equal points keep account
// creation order. callerID may be empty.
//
// A caller's rank is 1 + the number of users with strictly more points, so
// tied users share a rank.
func (s *LeaderboardService) Get(ctx context.Context, callerID string) (*Leaderboard, error) {
	top, err := s.users.TopByPoints(ctx, LeaderboardSize)
	if err != nil {
		return nil, fmt.Errorf("service/leaderboard: top users: %w", err)
	}

	lb := &Leaderboard{Top: make([]model.LeaderboardEntry, 0, len(top))}
	inTop := false
	for i := range top {
		lb.Top = append(lb.Top, top[i].Entry())
		if top[i].ID == callerID {
			inTop = true
		}
	}
	if callerID == "" || inTop {
		return lb, nil
	}

	caller, err := s.users.GetUserByID(ctx, callerID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return lb, nil
		}
		return nil, fmt.Errorf("service/leaderboard: caller %s: %w", callerID, err)
	}
	ahead, err := s.users.CountWithMorePoints(ctx, caller.EcoPoints)
	if err != nil {
		return nil, fmt.Errorf("service/leaderboard: ranking %s: %w", callerID, err)
	}
	lb.Self = &RankedEntry{Rank: ahead + 1, User: caller.Entry()}
	return lb, nil
}
