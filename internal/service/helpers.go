package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/oddslab/signaldesk/internal/domain"
)

// parsePrice parses a decimal money amount and enforces the non-negative
// price rule.
func parsePrice(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty price", domain.ErrNegativePrice)
	}
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", domain.ErrNegativePrice, raw)
	}
	if p.IsNegative() {
		return decimal.Decimal{}, domain.ErrNegativePrice
	}
	return p, nil
}

// publishLedgerEvent fans a ledger event out on pub/sub for live WS clients
// and appends it to the durable stream. Event delivery is best effort and
// never fails the calling operation.
func publishLedgerEvent(ctx context.Context, bus domain.EventBus, logger *slog.Logger, evt domain.LedgerEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := bus.Publish(ctx, domain.ChannelLedger, payload); err != nil {
		logger.WarnContext(ctx, "service: publish event failed",
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
	}
	if err := bus.StreamAppend(ctx, domain.ChannelLedger, payload); err != nil {
		logger.WarnContext(ctx, "service: stream append failed",
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
	}
}
