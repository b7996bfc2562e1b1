package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CountBatches returns the number of stored batches.
func (s *Store) CountBatches(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count batches: %w", err)
	}
	return n, nil
}

// ReadBatches returns up to limit batches, oldest first. A limit <= 0
// returns all of them.
//
// Returns an empty slice (not nil) when the store is empty.
func (s *Store) ReadBatches(ctx context.Context, limit int) ([]BatchSummary, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, license_key, version, record_count, received_at
		FROM batches
		ORDER BY id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	batches := []BatchSummary{}
	for rows.Next() {
		var (
			b          BatchSummary
			receivedAt int64
		)
		if err := rows.Scan(&b.ID, &b.LicenseKey, &b.Version, &b.RecordCount, &receivedAt); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.ReceivedAt = time.UnixMilli(receivedAt).UTC()
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

// ReadPayload returns the raw payload of a batch.
func (s *Store) ReadPayload(ctx context.Context, batchID int64) (string, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM batches WHERE id = ?`, batchID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("batch %d not found", batchID)
	}
	if err != nil {
		return "", fmt.Errorf("read payload: %w", err)
	}
	return payload, nil
}

// ReadRecords returns the records of a batch in payload order.
func (s *Store) ReadRecords(ctx context.Context, batchID int64) ([]Record, error) {
	return s.queryRecords(ctx, `
		SELECT batch_id, idx, interaction_id, trigger_name, category, start_ms, duration_ms, server_start, body
		FROM records
		WHERE batch_id = ?
		ORDER BY idx ASC
	`, batchID)
}

// ReadInteraction returns every stored record of an interaction. More than
// one means the agent resent it after a retry.
func (s *Store) ReadInteraction(ctx context.Context, interactionID string) ([]Record, error) {
	return s.queryRecords(ctx, `
		SELECT batch_id, idx, interaction_id, trigger_name, category, start_ms, duration_ms, server_start, body
		FROM records
		WHERE interaction_id = ?
		ORDER BY batch_id ASC, idx ASC
	`, interactionID)
}

func (s *Store) queryRecords(ctx context.Context, query string, arg any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.BatchID,
			&r.Index,
			&r.InteractionID,
			&r.Trigger,
			&r.Category,
			&r.Start,
			&r.Duration,
			&r.ServerStart,
			&r.Body,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
