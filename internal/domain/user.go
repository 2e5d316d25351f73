package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role distinguishes signal sellers from buyers.
type Role string

const (
	RoleCreator Role = "creator"
	RoleBuyer   Role = "buyer"
)

// User mirrors an account held by the external identity provider. Credits are
// authoritative on the provider side; the mirrored value is read-side only.
type User struct {
	ID        string
	Username  string
	Role      Role
	Credits   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BuyerSegment is a provider-facing targeting key for notifications.
type BuyerSegment string

const (
	SegmentNeverPurchased BuyerSegment = "Never Purchased"
	SegmentTriedCredited  BuyerSegment = "Tried & Credited"
	SegmentRecentWins     BuyerSegment = "Recent Wins"
	SegmentHighLTV        BuyerSegment = "High LTV"
)

// Segments lists every segment in display order.
func Segments() []BuyerSegment {
	return []BuyerSegment{
		SegmentNeverPurchased,
		SegmentTriedCredited,
		SegmentRecentWins,
		SegmentHighLTV,
	}
}

// Valid reports whether s is a known segment key.
func (s BuyerSegment) Valid() bool {
	switch s {
	case SegmentNeverPurchased, SegmentTriedCredited, SegmentRecentWins, SegmentHighLTV:
		return true
	}
	return false
}

// BuyerActivity is the per-buyer aggregate the segment predicates run on.
type BuyerActivity struct {
	BuyerID        string
	Purchases      int
	CreditedLosses int             // purchases of signals that settled LOSS
	LastWinAt      *time.Time      // most recent WIN settlement among purchases
	LifetimeSpend  decimal.Decimal // sum of PricePaid
}
