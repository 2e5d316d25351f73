package whop

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddslab/signaldesk/internal/domain"
)

// --------------------------------------------------------------------------
// Platform API DTOs
// --------------------------------------------------------------------------

// APIUser represents a member as returned by the platform API.
type APIUser struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	Credits   int    `json:"credit_balance"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ToDomainUser converts an APIUser to a domain.User.
func (u APIUser) ToDomainUser() domain.User {
	role := domain.RoleBuyer
	if u.Role == "creator" || u.Role == "admin" {
		role = domain.RoleCreator
	}
	return domain.User{
		ID:        u.ID,
		Username:  u.Username,
		Role:      role,
		Credits:   u.Credits,
		CreatedAt: parseTime(u.CreatedAt),
		UpdatedAt: parseTime(u.UpdatedAt),
	}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// APICheckoutRequest is the payload for creating a checkout session.
type APICheckoutRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	AppID    string `json:"app_id,omitempty"`
}

// APICheckoutResponse is the platform's answer to a checkout attempt.
type APICheckoutResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"` // "completed" or "declined"
	Success bool   `json:"success"`
}

// APINotificationRequest targets one buyer segment with a push message.
type APINotificationRequest struct {
	Segment string `json:"segment"`
	Message string `json:"message"`
	AppID   string `json:"app_id,omitempty"`
}

// APICreditMutation adjusts a member's credit balance by a signed delta.
type APICreditMutation struct {
	Delta int `json:"delta"`
}

func checkoutRequest(amount decimal.Decimal, appID string) APICheckoutRequest {
	return APICheckoutRequest{
		Amount:   amount.StringFixed(2),
		Currency: "usd",
		AppID:    appID,
	}
}
