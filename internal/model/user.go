// Package model defines the data structures used throughout the application.
package model

import (
	"time"

	"github.com/sakif/ecoloop/internal/geo"
)

// Role controls access to the admin endpoints.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is a marketplace account.
//
// EcoPoints only ever grows through atomic increments in the store; nothing
// in the service layer writes it directly.
//
// PasswordHash is empty for accounts created through GitHub sign-in, which
// makes password login impossible for them until a reset sets one.
type User struct {
	ID           string     `json:"id"                  bson:"_id"`
	Name         string     `json:"name"                bson:"name"`
	Email        string     `json:"email"               bson:"email"`
	Phone        string     `json:"phone"               bson:"phone"`
	PasswordHash string     `json:"-"                   bson:"passwordHash"`
	GitHubID     *int64     `json:"githubId,omitempty"  bson:"githubId,omitempty"`
	EcoPoints    int        `json:"ecoPoints"           bson:"ecoPoints"`
	Suspended    bool       `json:"suspended"           bson:"suspended"`
	Role         Role       `json:"role"                bson:"role"`
	Interests    []string   `json:"interests"           bson:"interests"`
	Location     *geo.Point `json:"location,omitempty"  bson:"location,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"           bson:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"           bson:"updatedAt"`

	ResetTokenHash    string     `json:"-" bson:"resetTokenHash,omitempty"`
	ResetTokenExpires *time.Time `json:"-" bson:"resetTokenExpires,omitempty"`
}

// IsAdmin reports whether u may use the admin endpoints.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// LeaderboardEntry is the public projection of a user on the leaderboard.
type LeaderboardEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	EcoPoints int    `json:"ecoPoints"`
}

// Entry projects u onto the leaderboard shape.
func (u *User) Entry() LeaderboardEntry {
	return LeaderboardEntry{ID: u.ID, Name: u.Name, EcoPoints: u.EcoPoints}
}

// Profile is a user plus activity counters.
type Profile struct {
	*User
	ItemsListed    int `json:"itemsListed"`
	ItemsExchanged int `json:"itemsExchanged"`
}

// ProfileUpdate carries the editable profile fields. Nil means unchanged.
type ProfileUpdate struct {
	Name      *string
	Phone     *string
	Interests []string
	Location  *geo.Point
}
