package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// Tier is a creator's performance badge.
type Tier string

const (
	TierElite        Tier = "Elite"
	TierSharpshooter Tier = "Sharpshooter"
	TierProven       Tier = "Proven"
	TierRookie       Tier = "Rookie"
)

// CreatorStats holds the raw per-creator aggregates the ledger store returns.
type CreatorStats struct {
	CreatorID     string
	TotalRevenue  decimal.Decimal
	SignalsPosted int
	SignalsSold   int
	Wins          int
	Losses        int
}

// Settled returns the number of settled signals.
func (s CreatorStats) Settled() int {
	return s.Wins + s.Losses
}

// CreatorAnalytics is the derived view served to clients. WinRate is nil when
// no signals have settled; clients render that as "N/A".
type CreatorAnalytics struct {
	CreatorStats
	WinRate    *float64
	Reputation int
	Tier       Tier
}

// ComputeAnalytics derives the win rate, reputation score, and tier from raw
// stats. Every derived figure changes only when a signal settles, never when
// one is posted or purchased.
func ComputeAnalytics(s CreatorStats) CreatorAnalytics {
	a := CreatorAnalytics{CreatorStats: s}
	settled := s.Settled()
	if settled > 0 {
		wr := float64(s.Wins) / float64(settled)
		a.WinRate = &wr
	}
	a.Reputation = ReputationScore(a.WinRate, settled)
	a.Tier = TierFor(a.WinRate)
	return a
}

// ReputationScore combines accuracy and track-record volume. The volume term
// saturates at 30 settled signals.
func ReputationScore(winRate *float64, settled int) int {
	volume := settled
	if volume > 30 {
		volume = 30
	}
	if winRate == nil {
		return volume
	}
	return int(math.Round(*winRate*70 + float64(volume)))
}

// TierFor maps a win rate onto a badge. A creator with no settled signals is
// a Rookie regardless of how much they have posted.
func TierFor(winRate *float64) Tier {
	switch {
	case winRate == nil:
		return TierRookie
	case *winRate >= 0.75:
		return TierElite
	case *winRate >= 0.60:
		return TierSharpshooter
	case *winRate > 0:
		return TierProven
	default:
		return TierRookie
	}
}
