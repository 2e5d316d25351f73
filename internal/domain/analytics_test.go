package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeAnalytics(t *testing.T) {
	tests := []struct {
		name     string
		wins     int
		losses   int
		wantRate *float64
		wantRep  int
		wantTier Tier
	}{
		{"no settled", 0, 0, nil, 0, TierRookie},
		{"all wins", 3, 0, f(1.0), 73, TierElite},
		{"elite boundary", 3, 1, f(0.75), 57, TierElite},
		{"sharpshooter", 3, 2, f(0.6), 47, TierSharpshooter},
		{"proven", 1, 3, f(0.25), 22, TierProven},
		{"all losses", 0, 4, f(0.0), 4, TierRookie},
		{"volume saturates at 30", 40, 0, f(1.0), 100, TierElite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := ComputeAnalytics(CreatorStats{Wins: tt.wins, Losses: tt.losses})
			if tt.wantRate == nil {
				assert.Nil(t, a.WinRate)
			} else {
				require.NotNil(t, a.WinRate)
				assert.InDelta(t, *tt.wantRate, *a.WinRate, 1e-9)
			}
			assert.Equal(t, tt.wantRep, a.Reputation)
			assert.Equal(t, tt.wantTier, a.Tier)
		})
	}
}

func TestTierForIgnoresPostedVolume(t *testing.T) {
	// Posting signals without settling any must not lift a creator out of Rookie.
	a := ComputeAnalytics(CreatorStats{SignalsPosted: 50, SignalsSold: 120})
	assert.Equal(t, TierRookie, a.Tier)
	assert.Equal(t, 0, a.Reputation)
}

func TestOutcome(t *testing.T) {
	assert.True(t, OutcomeWin.Settled())
	assert.True(t, OutcomeLoss.Settled())
	assert.False(t, OutcomePending.Settled())
	assert.True(t, OutcomePending.Valid())
	assert.False(t, Outcome("VOID").Valid())
}

func f(v float64) *float64 { return &v }
