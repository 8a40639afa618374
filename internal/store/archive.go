package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"orca/internal/domain"
)

// AuditRecord is the Parquet schema for archived audit entries.
type AuditRecord struct {
	ID        int64  `parquet:"id"`
	EventType string `parquet:"event_type"`
	Details   string `parquet:"details"`
	Actor     string `parquet:"actor"`
	Status    string `parquet:"status"`
	TradeID   string `parquet:"trade_id"`
	Timestamp int64  `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
}

// AuditArchive exports the compliance log to dated Parquet files under
// <dataDir>/audit/. Archives are immutable snapshots for offline review;
// the SQLite log stays the system of record.
type AuditArchive struct {
	DataDir string
	Source  AuditStore
}

// NewAuditArchive creates an AuditArchive reading from the given store.
func NewAuditArchive(dataDir string, source AuditStore) *AuditArchive {
	return &AuditArchive{DataDir: dataDir, Source: source}
}

// archivePath returns <dataDir>/audit/<date>.parquet.
func (a *AuditArchive) archivePath(date time.Time) string {
	return filepath.Join(a.DataDir, "audit", date.Format("2006-01-02")+".parquet")
}

// Export writes every audit entry to the archive file for the given date,
// preserving insertion order. It returns the path and the number of
// entries written.
func (a *AuditArchive) Export(ctx context.Context, date time.Time) (string, int, error) {
	entries, err := a.Source.AuditLogs(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("reading audit log: %w", err)
	}

	records := make([]AuditRecord, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		records = append(records, AuditRecord{
			ID:        e.ID,
			EventType: e.EventType,
			Details:   e.Details,
			Actor:     e.Actor,
			Status:    e.Status,
			TradeID:   e.TradeID,
			Timestamp: e.Timestamp.UnixMilli(),
		})
	}

	path := a.archivePath(date)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", 0, err
	}
	if err := parquet.WriteFile(path, records); err != nil {
		return "", 0, fmt.Errorf("writing archive: %w", err)
	}
	return path, len(records), nil
}

// ReadArchive loads an archive file back into audit entries, in the order
// they were written.
func ReadArchive(path string) ([]domain.AuditLogEntry, error) {
	records, err := parquet.ReadFile[AuditRecord](path)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.AuditLogEntry, 0, len(records))
	for i := range records {
		r := &records[i]
		entries = append(entries, domain.AuditLogEntry{
			ID:        r.ID,
			EventType: r.EventType,
			Details:   r.Details,
			Actor:     r.Actor,
			Status:    r.Status,
			TradeID:   r.TradeID,
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
		})
	}
	return entries, nil
}
