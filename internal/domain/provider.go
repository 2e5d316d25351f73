package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// CheckoutResult is the provider's answer to a payment attempt. A declined
// checkout is a normal outcome, not an error.
type CheckoutResult struct {
	Success   bool
	SessionID string
}

// Provider is the external identity and credit platform the marketplace runs
// on. It is authoritative for user identity and credit balances; every call
// crosses a network boundary and must respect the context deadline.
type Provider interface {
	Initialize(ctx context.Context) error
	GetCurrentUser(ctx context.Context) (User, error)
	GetAllUsers(ctx context.Context) ([]User, error)
	CreateCheckout(ctx context.Context, amount decimal.Decimal) (CheckoutResult, error)
	SendNotification(ctx context.Context, segment BuyerSegment, message string) error
	AddCredit(ctx context.Context, userID string) (User, error)
	UseCredit(ctx context.Context, userID string) (User, error)
}
