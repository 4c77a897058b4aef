package model

// Stats is the admin dashboard summary.
type Stats struct {
	Users            int                `json:"users"`
	SuspendedUsers   int                `json:"suspendedUsers"`
	Items            int                `json:"items"`
	AvailableItems   int                `json:"availableItems"`
	CompletedItems   int                `json:"completedItems"`
	Messages         int                `json:"messages"`
	TotalEcoPoints   int                `json:"totalEcoPoints"`
	AvgEcoPoints     float64            `json:"avgEcoPoints"`
	ItemsByCategory  map[string]int     `json:"itemsByCategory"`
	ItemsByPriceType map[string]int     `json:"itemsByPriceType"`
	TopContributors  []LeaderboardEntry `json:"topContributors"`
}
