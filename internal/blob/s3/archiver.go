package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oddslab/signaldesk/internal/domain"
)

// Narrow store interfaces required by the archiver. The Postgres stores
// satisfy these implicitly; the archiver only needs time-ranged reads.

// SignalArchiveStore provides read access to settled signals for archival.
type SignalArchiveStore interface {
	ListSettledBetween(ctx context.Context, from, to time.Time) ([]domain.Signal, error)
}

// PurchaseArchiveStore provides read access to unlock records for archival.
type PurchaseArchiveStore interface {
	ListBySignal(ctx context.Context, signalID string) ([]domain.Purchase, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for settled
// ledger history, serializing it to JSONL, and uploading the result to S3.
//
// Deletion of archived records from the primary store is intentionally NOT
// performed here; that is a separate, explicit step to be executed after the
// archive has been verified.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	signals   SignalArchiveStore
	purchases PurchaseArchiveStore
	audit     domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	signals SignalArchiveStore,
	purchases PurchaseArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		signals:   signals,
		purchases: purchases,
		audit:     audit,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ledgerRecord is one settled signal with its unlock history, as written to
// the archive file.
type ledgerRecord struct {
	SignalID  string           `json:"signal_id"`
	CreatorID string           `json:"creator_id"`
	Content   string           `json:"content"`
	Category  string           `json:"category"`
	Price     string           `json:"price"`
	Hash      string           `json:"hash"`
	Outcome   string           `json:"outcome"`
	SettledAt *time.Time       `json:"settled_at"`
	CreatedAt time.Time        `json:"created_at"`
	Purchases []archivedUnlock `json:"purchases"`
}

type archivedUnlock struct {
	PurchaseID string    `json:"purchase_id"`
	BuyerID    string    `json:"buyer_id"`
	PricePaid  string    `json:"price_paid"`
	UsedCredit bool      `json:"used_credit"`
	CreatedAt  time.Time `json:"created_at"`
}

// ArchiveLedger queries signals settled within [from, to), joins in their
// unlock history, serializes the result to JSONL, and uploads it to
// archive/ledger/YYYY-MM.jsonl. The archival event is recorded in the audit
// log and the count of archived signals is returned.
func (a *ArchiveImpl) ArchiveLedger(ctx context.Context, from, to time.Time) (int64, error) {
	signals, err := a.signals.ListSettledBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger query: %w", err)
	}
	if len(signals) == 0 {
		return 0, nil
	}

	records := make([]ledgerRecord, 0, len(signals))
	for _, sig := range signals {
		purchases, err := a.purchases.ListBySignal(ctx, sig.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive ledger purchases for %s: %w", sig.ID, err)
		}

		unlocks := make([]archivedUnlock, 0, len(purchases))
		for _, p := range purchases {
			unlocks = append(unlocks, archivedUnlock{
				PurchaseID: p.ID,
				BuyerID:    p.BuyerID,
				PricePaid:  p.PricePaid.StringFixed(2),
				UsedCredit: p.UsedCredit,
				CreatedAt:  p.CreatedAt,
			})
		}

		records = append(records, ledgerRecord{
			SignalID:  sig.ID,
			CreatorID: sig.CreatorID,
			Content:   sig.Content,
			Category:  sig.Category,
			Price:     sig.Price.StringFixed(2),
			Hash:      sig.Hash,
			Outcome:   string(sig.Outcome),
			SettledAt: sig.SettledAt,
			CreatedAt: sig.CreatedAt,
			Purchases: unlocks,
		})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger marshal: %w", err)
	}

	path := archivePath("ledger", to)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger upload: %w", err)
	}

	count := int64(len(records))

	if err := a.audit.Log(ctx, "archive.ledger", map[string]any{
		"path":  path,
		"count": count,
		"from":  from.Format(time.RFC3339),
		"to":    to.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive ledger audit log: %w", err)
	}

	return count, nil
}

// ArchiveAudit queries audit entries within [from, to), serializes them to
// JSONL, and uploads the file to archive/audit/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, from, to time.Time) (int64, error) {
	entries, err := a.audit.ListBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", to)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	count := int64(len(entries))

	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":  path,
		"count": count,
		"from":  from.Format(time.RFC3339),
		"to":    to.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the window end.
//
//	archive/ledger/2026-08.jsonl
//	archive/audit/2026-08.jsonl
func archivePath(kind string, to time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, to.Format("2006-01"))
}

// marshalJSONL serializes a slice of records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
