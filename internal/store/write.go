package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// WriteBatch stores a batch and its records in one transaction and returns
// the batch id.
//
// Uses ON CONFLICT(payload_hash) DO NOTHING for idempotency: writing the
// same payload twice returns the id of the first write and stores nothing.
func (s *Store) WriteBatch(ctx context.Context, b Batch) (int64, error) {
	hash := payloadHash(b.Payload)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write batch: begin: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO batches
		(license_key, version, payload, payload_hash, record_count, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(payload_hash) DO NOTHING
	`,
		b.LicenseKey,
		b.Version,
		b.Payload,
		hash,
		len(b.Records),
		b.ReceivedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("write batch: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("write batch: rows affected: %w", err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM batches WHERE payload_hash = ?`, hash,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("write batch: read id: %w", err)
	}

	if inserted == 0 {
		// Duplicate payload: nothing else to write.
		return id, tx.Commit()
	}

	for i, r := range b.Records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO records
			(batch_id, idx, interaction_id, trigger_name, category, start_ms, duration_ms, server_start, body)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			id,
			i,
			r.InteractionID,
			r.Trigger,
			r.Category,
			r.Start,
			r.Duration,
			r.ServerStart,
			r.Body,
		)
		if err != nil {
			return 0, fmt.Errorf("write record %d of batch %d: %w", i, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write batch: commit: %w", err)
	}
	return id, nil
}

// payloadHash returns the hex SHA-256 of payload.
func payloadHash(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
