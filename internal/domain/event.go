package domain

import "time"

// Ledger event types published on the event bus and fanned out over WS.
const (
	EventSignalPosted    = "signal_posted"
	EventSignalSettled   = "signal_settled"
	EventSignalPurchased = "signal_purchased"
	EventCreditIssued    = "credit_issued"
)

// ChannelLedger is the pub/sub channel and stream name for ledger events.
const ChannelLedger = "ledger:events"

// LedgerEvent is the envelope for everything published on ChannelLedger.
type LedgerEvent struct {
	Type      string         `json:"type"`
	SignalID  string         `json:"signal_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
