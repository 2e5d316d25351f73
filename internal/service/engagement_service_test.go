package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddslab/signaldesk/internal/domain"
)

func newTestEngagementService(activity []domain.BuyerActivity) (*EngagementService, *fakeProvider, *fakeAuditStore) {
	purchases := &fakePurchaseStore{activity: activity}
	provider := newFakeProvider(domain.User{ID: "u_creator_1", Role: domain.RoleCreator})
	audit := &fakeAuditStore{}
	svc := NewEngagementService(purchases, provider, audit, 7*24*time.Hour, decimal.RequireFromString("100"), testLogger())
	return svc, provider, audit
}

func segmentActivity() []domain.BuyerActivity {
	recentWin := time.Now().Add(-48 * time.Hour).UTC()
	return []domain.BuyerActivity{
		{BuyerID: "fresh", Purchases: 0, LifetimeSpend: decimal.Zero},
		{BuyerID: "burned", Purchases: 3, CreditedLosses: 2, LifetimeSpend: decimal.RequireFromString("45")},
		{BuyerID: "hot", Purchases: 5, LastWinAt: &recentWin, LifetimeSpend: decimal.RequireFromString("80")},
		{BuyerID: "whale", Purchases: 12, LastWinAt: &recentWin, LifetimeSpend: decimal.RequireFromString("340.50")},
	}
}

func TestSegmentCounts(t *testing.T) {
	svc, _, _ := newTestEngagementService(segmentActivity())

	summaries, err := svc.Segments(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 4)

	counts := map[domain.BuyerSegment]int{}
	for _, s := range summaries {
		counts[s.Segment] = s.Members
	}
	assert.Equal(t, 1, counts[domain.SegmentNeverPurchased])
	assert.Equal(t, 1, counts[domain.SegmentTriedCredited])
	assert.Equal(t, 2, counts[domain.SegmentRecentWins])
	assert.Equal(t, 1, counts[domain.SegmentHighLTV])
}

func TestSegmentMembers(t *testing.T) {
	svc, _, _ := newTestEngagementService(segmentActivity())
	ctx := context.Background()

	tests := []struct {
		segment domain.BuyerSegment
		want    []string
	}{
		{domain.SegmentNeverPurchased, []string{"fresh"}},
		{domain.SegmentTriedCredited, []string{"burned"}},
		{domain.SegmentRecentWins, []string{"hot", "whale"}},
		{domain.SegmentHighLTV, []string{"whale"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.segment), func(t *testing.T) {
			ids, err := svc.Members(ctx, tt.segment)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, ids)
		})
	}
}

func TestSegmentMembershipOverlaps(t *testing.T) {
	svc, _, _ := newTestEngagementService(segmentActivity())
	ctx := context.Background()

	// A buyer can sit in several segments at once.
	recent, err := svc.Members(ctx, domain.SegmentRecentWins)
	require.NoError(t, err)
	ltv, err := svc.Members(ctx, domain.SegmentHighLTV)
	require.NoError(t, err)

	assert.Contains(t, recent, "whale")
	assert.Contains(t, ltv, "whale")
}

func TestMembersInvalidSegment(t *testing.T) {
	svc, _, _ := newTestEngagementService(nil)
	_, err := svc.Members(context.Background(), "VIP Whales")
	assert.ErrorIs(t, err, domain.ErrInvalidSegment)
}

func TestHighLTVThresholdIsInclusive(t *testing.T) {
	svc, _, _ := newTestEngagementService([]domain.BuyerActivity{
		{BuyerID: "edge", Purchases: 1, LifetimeSpend: decimal.RequireFromString("100.00")},
		{BuyerID: "under", Purchases: 1, LifetimeSpend: decimal.RequireFromString("99.99")},
	})

	ids, err := svc.Members(context.Background(), domain.SegmentHighLTV)
	require.NoError(t, err)
	assert.Equal(t, []string{"edge"}, ids)
}

func TestNotifySegment(t *testing.T) {
	svc, provider, audit := newTestEngagementService(segmentActivity())

	err := svc.Notify(context.Background(), domain.SegmentTriedCredited, "New NBA picks just dropped")
	require.NoError(t, err)

	require.Len(t, provider.notified, 1)
	assert.Equal(t, domain.SegmentTriedCredited, provider.notified[0])
	assert.Equal(t, "New NBA picks just dropped", provider.notificationBody)
	assert.True(t, audit.has("segment_notified"))
}

func TestNotifyValidation(t *testing.T) {
	svc, provider, _ := newTestEngagementService(nil)
	ctx := context.Background()

	err := svc.Notify(ctx, "Bad Segment", "hello")
	assert.ErrorIs(t, err, domain.ErrInvalidSegment)

	err = svc.Notify(ctx, domain.SegmentHighLTV, "")
	assert.Error(t, err)

	assert.Empty(t, provider.notified, "invalid sends never reach the provider")
}
