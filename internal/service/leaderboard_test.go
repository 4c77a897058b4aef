package service

import (
	"context"
	"fmt"
	"testing"
)

func TestLeaderboard_TopAndCallerRank(t *testing.T) {
	db := newTestStore(t)
	svc := NewLeaderboardService(db)
	ctx := context.Background()

	// 22 users with 220, 210, ..., 10 points
	ids := make([]string, 22)
	for i := range ids {
		u := createUser(t, db, fmt.Sprintf("User %02d", i), fmt.Sprintf("u%02d@example.com", i))
		if err := db.AddPoints(ctx, u.ID, (22-i)*10); err != nil {
			t.Fatal(err)
		}
		ids[i] = u.ID
	}
	// ties with the last user in the top 20, but joined later
	late := createUser(t, db, "Late", "late@example.com")
	if err := db.AddPoints(ctx, late.ID, 30); err != nil {
		t.Fatal(err)
	}

	lb, err := svc.Get(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(lb.Top) != LeaderboardSize || lb.Self != nil {
		t.Fatalf("top=%d self=%v, want %d and nil", len(lb.Top), lb.Self, LeaderboardSize)
	}
	if lb.Top[0].EcoPoints != 220 || lb.Top[19].ID != ids[19] {
		t.Errorf("order wrong: first=%d last=%s", lb.Top[0].EcoPoints, lb.Top[19].Name)
	}

	lb, _ = svc.Get(ctx, ids[0])
	if lb.Self != nil {
		t.Error("caller in the top list gets no separate rank")
	}

	lb, _ = svc.Get(ctx, late.ID)
	if lb.Self == nil {
		t.Fatal("caller outside the top list should get a rank")
	}
	// 19 users have more than 30 points; the tie shares rank 20
	if lb.Self.Rank != 20 || lb.Self.User.EcoPoints != 30 {
		t.Errorf("self = %+v, want rank 20 with 30 points", lb.Self)
	}

	lb, _ = svc.Get(ctx, ids[21])
	if lb.Self == nil || lb.Self.Rank != 22 {
		t.Errorf("self = %+v, want rank 22", lb.Self)
	}

	lb, err = svc.Get(ctx, "deleted-user")
	if err != nil || lb.Self != nil {
		t.Errorf("unknown caller: self=%v err=%v, want plain leaderboard", lb.Self, err)
	}
}
