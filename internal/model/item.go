package model

import (
	"time"

	"github.com/sakif/ecoloop/internal/geo"
)

// Condition of a listed item.
type Condition string

const (
	ConditionNew  Condition = "New"
	ConditionGood Condition = "Good"
	ConditionUsed Condition = "Used"
)

func (c Condition) Valid() bool {
	switch c {
	case ConditionNew, ConditionGood, ConditionUsed:
		return true
	}
	return false
}

// PriceType says how an item changes hands.
type PriceType string

const (
	PriceFree     PriceType = "Free"
	PriceExchange PriceType = "Exchange"
	PriceSell     PriceType = "Sell"
)

func (p PriceType) Valid() bool {
	switch p {
	case PriceFree, PriceExchange, PriceSell:
		return true
	}
	return false
}

// ItemStatus is the lifecycle state of a listing.
type ItemStatus string

const (
	StatusAvailable ItemStatus = "available"
	StatusSold      ItemStatus = "sold"
	StatusExchanged ItemStatus = "exchanged"
)

func (s ItemStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusSold, StatusExchanged:
		return true
	}
	return false
}

// Completes reports whether moving into s finishes the exchange and earns
// the completion award.
func (s ItemStatus) Completes() bool {
	return s == StatusSold || s == StatusExchanged
}

// Item is a marketplace listing.
//
// Price is only meaningful for PriceSell; the service forces it to 0 for the
// other price types. CompletionAwarded flips once, the first time the item
// enters a completing status, and guards the completion award.
type Item struct {
	ID                string     `json:"id"                    bson:"_id"`
	Title             string     `json:"title"                 bson:"title"`
	Description       string     `json:"description"           bson:"description"`
	ImageURL          string     `json:"imageUrl"              bson:"imageUrl"`
	Category          string     `json:"category"              bson:"category"`
	Condition         Condition  `json:"condition"             bson:"condition"`
	PriceType         PriceType  `json:"priceType"             bson:"priceType"`
	Price             float64    `json:"price"                 bson:"price"`
	Status            ItemStatus `json:"status"                bson:"status"`
	OwnerID           string     `json:"ownerId"               bson:"ownerId"`
	OwnerName         string     `json:"ownerName,omitempty"   bson:"-"`
	RecipientID       string     `json:"recipientId,omitempty" bson:"recipientId,omitempty"`
	Town              string     `json:"town"                  bson:"town"`
	Location          *geo.Point `json:"location,omitempty"    bson:"-"`
	CompletionAwarded bool       `json:"-"                     bson:"completionAwarded"`
	CreatedAt         time.Time  `json:"createdAt"             bson:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"             bson:"updatedAt"`
}

// ItemUpdate carries owner-editable fields. Nil means unchanged.
type ItemUpdate struct {
	Title       *string
	Description *string
	ImageURL    *string
	Category    *string
	Condition   *Condition
	PriceType   *PriceType
	Price       *float64
	Town        *string
	Location    *geo.Point
}

// StatusChange is one owner-initiated status transition together with the
// awards the store must apply if the transition completes the item for the
// first time.
type StatusChange struct {
	ItemID          string
	OwnerID         string
	Status          ItemStatus
	RecipientID     string
	OwnerPoints     int
	RecipientPoints int
}

// StatusResult reports what a transition did.
type StatusResult struct {
	Item    *Item `json:"item"`
	Awarded bool  `json:"awarded"`
}

// Towns is the list offered by the client's town picker. Listings may still
// use any non-empty town.
var Towns = []string{
	"Eldoret",
	"Embu",
	"Garissa",
	"Kakamega",
	"Kisii",
	"Kisumu",
	"Kitale",
	"Machakos",
	"Malindi",
	"Meru",
	"Mombasa",
	"Nairobi",
	"Naivasha",
	"Nakuru",
	"Nanyuki",
	"Nyeri",
	"Thika",
}
