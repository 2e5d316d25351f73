// Package memory is an in-process provider implementation used by demo mode
// and tests. It mimics the hosted platform's behavior, including optional
// random checkout declines, without any network dependency.
package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oddslab/signaldesk/internal/domain"
)

// Provider implements domain.Provider against a mutex-guarded user table.
type Provider struct {
	mu            sync.Mutex
	users         map[string]domain.User
	currentUserID string

	// DeclineRate is the probability in [0,1] that CreateCheckout declines.
	// Zero means every checkout succeeds.
	DeclineRate float64

	// Notifications records every segment push for test assertions.
	Notifications []SentNotification

	rng *rand.Rand
}

// SentNotification is one recorded SendNotification call.
type SentNotification struct {
	Segment domain.BuyerSegment
	Message string
}

// New creates an empty in-memory provider. The first user added becomes the
// current user unless SetCurrentUser is called.
func New() *Provider {
	return &Provider{
		users: make(map[string]domain.User),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewSeeded creates a provider pre-populated with the demo roster: one
// creator and three buyers, one of whom holds a loss-protection credit.
func NewSeeded() *Provider {
	p := New()
	now := time.Now()
	seed := []domain.User{
		{ID: "u_creator_1", Username: "SignalKing", Role: domain.RoleCreator, Credits: 0},
		{ID: "u_buyer_1", Username: "CryptoChad", Role: domain.RoleBuyer, Credits: 1},
		{ID: "u_buyer_2", Username: "StonksMom", Role: domain.RoleBuyer, Credits: 0},
		{ID: "u_buyer_3", Username: "DegenerateDeb", Role: domain.RoleBuyer, Credits: 0},
	}
	for _, u := range seed {
		u.CreatedAt = now
		u.UpdatedAt = now
		p.users[u.ID] = u
	}
	p.currentUserID = "u_creator_1"
	return p
}

// AddUser inserts a user. The first user added becomes the current user.
func (p *Provider) AddUser(u domain.User) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.UpdatedAt = time.Now()
	p.users[u.ID] = u
	if p.currentUserID == "" {
		p.currentUserID = u.ID
	}
}

// SetCurrentUser switches the acting user.
func (p *Provider) SetCurrentUser(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentUserID = id
}

// Initialize implements domain.Provider. The in-memory provider is always
// ready.
func (p *Provider) Initialize(ctx context.Context) error {
	return nil
}

// GetCurrentUser returns the acting user.
func (p *Provider) GetCurrentUser(ctx context.Context) (domain.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.users[p.currentUserID]
	if !ok {
		return domain.User{}, fmt.Errorf("memory: current user: %w", domain.ErrNotFound)
	}
	return u, nil
}

// GetAllUsers returns every user.
func (p *Provider) GetAllUsers(ctx context.Context) ([]domain.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	users := make([]domain.User, 0, len(p.users))
	for _, u := range p.users {
		users = append(users, u)
	}
	return users, nil
}

// CreateCheckout simulates a payment attempt. Declines are reported through
// the result, never as an error.
func (p *Provider) CreateCheckout(ctx context.Context, amount decimal.Decimal) (domain.CheckoutResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.DeclineRate > 0 && p.rng.Float64() < p.DeclineRate {
		return domain.CheckoutResult{Success: false}, nil
	}
	return domain.CheckoutResult{
		Success:   true,
		SessionID: "chk_" + uuid.New().String(),
	}, nil
}

// SendNotification records the push for later inspection.
func (p *Provider) SendNotification(ctx context.Context, segment domain.BuyerSegment, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Notifications = append(p.Notifications, SentNotification{Segment: segment, Message: message})
	return nil
}

// AddCredit grants one credit to the user.
func (p *Provider) AddCredit(ctx context.Context, userID string) (domain.User, error) {
	return p.adjustCredits(userID, 1)
}

// UseCredit consumes one credit. Balances never go negative.
func (p *Provider) UseCredit(ctx context.Context, userID string) (domain.User, error) {
	return p.adjustCredits(userID, -1)
}

func (p *Provider) adjustCredits(userID string, delta int) (domain.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.users[userID]
	if !ok {
		return domain.User{}, fmt.Errorf("memory: user %s: %w", userID, domain.ErrNotFound)
	}
	if delta < 0 && u.Credits+delta < 0 {
		return domain.User{}, fmt.Errorf("memory: user %s has no credits", userID)
	}
	u.Credits += delta
	u.UpdatedAt = time.Now()
	p.users[userID] = u
	return u, nil
}

// Compile-time interface check.
var _ domain.Provider = (*Provider)(nil)
