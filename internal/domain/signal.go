package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome represents the settlement state of a signal.
type Outcome string

const (
	OutcomePending Outcome = "PENDING"
	OutcomeWin     Outcome = "WIN"
	OutcomeLoss    Outcome = "LOSS"
)

// Valid reports whether o is a known outcome value.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomePending, OutcomeWin, OutcomeLoss:
		return true
	}
	return false
}

// Settled reports whether o is a terminal outcome.
func (o Outcome) Settled() bool {
	return o == OutcomeWin || o == OutcomeLoss
}

// Signal is a single pick posted by a creator. Content is committed to by
// Hash at posting time; Outcome is the only field that mutates afterwards.
type Signal struct {
	ID        string
	CreatorID string
	Content   string
	Category  string
	Price     decimal.Decimal
	Hash      string
	Outcome   Outcome
	SettledAt *time.Time
	CreatedAt time.Time
}

// Locked reports whether the signal content should be redacted for viewerID.
// Content stays hidden until the viewer has unlocked it or the signal settles.
func (s Signal) Locked(viewerID string, unlocked bool) bool {
	if s.CreatorID == viewerID || unlocked {
		return false
	}
	return s.Outcome == OutcomePending
}

// Purchase records one buyer unlocking one signal. PricePaid is zero when the
// unlock was funded by a loss-protection credit.
type Purchase struct {
	ID         string
	SignalID   string
	BuyerID    string
	PricePaid  decimal.Decimal
	UsedCredit bool
	CreatedAt  time.Time
}

// SettlementCredit records one credit issued to a purchaser during a LOSS
// settlement. Rows are written before the provider call so a crashed or
// failed fan-out can be resumed without double-crediting.
type SettlementCredit struct {
	SignalID   string
	PurchaseID string
	BuyerID    string
	Credited   bool
	CreditedAt *time.Time
}

// SettlementResult summarizes a settlement or a credit-retry pass.
type SettlementResult struct {
	SignalID      string
	Outcome       Outcome
	Credited      int // purchasers credited during this pass
	TotalCredited int // purchasers credited overall, including earlier passes
	Pending       int // purchasers still awaiting a credit
}

// Complete reports whether every purchaser owed a credit has received one.
func (r SettlementResult) Complete() bool {
	return r.Pending == 0
}
