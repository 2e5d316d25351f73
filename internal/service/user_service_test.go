package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddslab/signaldesk/internal/domain"
)

func TestUserSync(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider(
		domain.User{ID: "u_creator_1", Username: "SignalKing", Role: domain.RoleCreator},
		domain.User{ID: "u_buyer_1", Username: "CryptoChad", Role: domain.RoleBuyer, Credits: 1},
	)
	users := newFakeUserStore()
	svc := NewUserService(users, provider, testLogger())

	n, err := svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	mirrored, err := users.GetByID(ctx, "u_buyer_1")
	require.NoError(t, err)
	assert.Equal(t, "CryptoChad", mirrored.Username)
	assert.Equal(t, 1, mirrored.Credits)
}

func TestUserCurrentRefreshesMirror(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider(domain.User{ID: "u_creator_1", Username: "SignalKing", Role: domain.RoleCreator})
	users := newFakeUserStore()
	svc := NewUserService(users, provider, testLogger())

	u, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u_creator_1", u.ID)

	mirrored, err := users.GetByID(ctx, "u_creator_1")
	require.NoError(t, err)
	assert.Equal(t, "SignalKing", mirrored.Username)
}
