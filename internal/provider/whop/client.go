// Package whop is the REST client for the external identity and credit
// platform the marketplace is embedded in.
package whop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddslab/signaldesk/internal/domain"
)

// Client talks to the platform REST API. The platform is authoritative for
// identity and credit balances; every method is a network call bounded by the
// configured timeout.
type Client struct {
	baseURL    string
	apiKey     string
	appID      string
	httpClient *http.Client
}

// Config holds the parameters for a platform Client.
type Config struct {
	BaseURL string
	APIKey  string
	AppID   string
	Timeout time.Duration
}

// NewClient creates a new platform API client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		appID:      cfg.AppID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Initialize verifies connectivity and credentials by fetching the current
// user once.
func (c *Client) Initialize(ctx context.Context) error {
	if _, err := c.GetCurrentUser(ctx); err != nil {
		return fmt.Errorf("whop: initialize: %w", err)
	}
	return nil
}

// GetCurrentUser returns the member whose token this client holds.
func (c *Client) GetCurrentUser(ctx context.Context) (domain.User, error) {
	body, err := c.doGet(ctx, "/me")
	if err != nil {
		return domain.User{}, fmt.Errorf("whop: get current user: %w", err)
	}

	var u APIUser
	if err := json.Unmarshal(body, &u); err != nil {
		return domain.User{}, fmt.Errorf("whop: decode current user: %w", err)
	}
	return u.ToDomainUser(), nil
}

// GetAllUsers returns every member of the app.
func (c *Client) GetAllUsers(ctx context.Context) ([]domain.User, error) {
	params := url.Values{}
	if c.appID != "" {
		params.Set("app_id", c.appID)
	}
	path := "/members"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("whop: get all users: %w", err)
	}

	var apiUsers []APIUser
	if err := json.Unmarshal(body, &apiUsers); err != nil {
		return nil, fmt.Errorf("whop: decode users: %w", err)
	}

	users := make([]domain.User, 0, len(apiUsers))
	for i := range apiUsers {
		users = append(users, apiUsers[i].ToDomainUser())
	}
	return users, nil
}

// CreateCheckout opens a checkout session for the given amount. A declined
// checkout is reported through the result, not as an error.
func (c *Client) CreateCheckout(ctx context.Context, amount decimal.Decimal) (domain.CheckoutResult, error) {
	body, err := c.doPost(ctx, "/checkouts", checkoutRequest(amount, c.appID))
	if err != nil {
		return domain.CheckoutResult{}, fmt.Errorf("whop: create checkout: %w", err)
	}

	var resp APICheckoutResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.CheckoutResult{}, fmt.Errorf("whop: decode checkout: %w", err)
	}
	return domain.CheckoutResult{
		Success:   resp.Success || resp.Status == "completed",
		SessionID: resp.ID,
	}, nil
}

// SendNotification pushes a message to every member of a buyer segment.
func (c *Client) SendNotification(ctx context.Context, segment domain.BuyerSegment, message string) error {
	req := APINotificationRequest{
		Segment: string(segment),
		Message: message,
		AppID:   c.appID,
	}
	if _, err := c.doPost(ctx, "/notifications", req); err != nil {
		return fmt.Errorf("whop: send notification: %w", err)
	}
	return nil
}

// AddCredit grants one loss-protection credit to a member and returns the
// refreshed account.
func (c *Client) AddCredit(ctx context.Context, userID string) (domain.User, error) {
	return c.mutateCredit(ctx, userID, 1)
}

// UseCredit consumes one credit from a member and returns the refreshed
// account.
func (c *Client) UseCredit(ctx context.Context, userID string) (domain.User, error) {
	return c.mutateCredit(ctx, userID, -1)
}

func (c *Client) mutateCredit(ctx context.Context, userID string, delta int) (domain.User, error) {
	path := fmt.Sprintf("/members/%s/credits", url.PathEscape(userID))

	body, err := c.doPost(ctx, path, APICreditMutation{Delta: delta})
	if err != nil {
		return domain.User{}, fmt.Errorf("whop: mutate credit for %s: %w", userID, err)
	}

	var u APIUser
	if err := json.Unmarshal(body, &u); err != nil {
		return domain.User{}, fmt.Errorf("whop: decode credit mutation: %w", err)
	}
	return u.ToDomainUser(), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(req)
}

func (c *Client) doPost(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrProvider, statusCode, bodyStr)
	}
}

// Compile-time interface check.
var _ domain.Provider = (*Client)(nil)
