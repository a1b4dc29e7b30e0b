package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ghalamif/kinsumer/internal/ports"
)

// PostgresCheckpointer stores one row per (consumer, shard). Writes are
// single-row upserts, so concurrent shards never contend on a shared document.
type PostgresCheckpointer struct {
	db       *sql.DB
	table    string
	consumer string
}

func NewPostgresCheckpointer(db *sql.DB, table, consumer string) *PostgresCheckpointer {
	return &PostgresCheckpointer{
		db:       db,
		table:    pq.QuoteIdentifier(table),
		consumer: consumer,
	}
}

// InitSchema creates the checkpoint table if it does not exist.
func (p *PostgresCheckpointer) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (consumer_name TEXT NOT NULL, shard_id TEXT NOT NULL, sequence_number TEXT NOT NULL, updated_at TIMESTAMPTZ NOT NULL DEFAULT now(), PRIMARY KEY (consumer_name, shard_id))", p.table)
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("init checkpoint schema: %w", err)
	}
	return nil
}

func (p *PostgresCheckpointer) GetCheckpoints(ctx context.Context) (map[string]string, error) {
	query := fmt.Sprintf("SELECT shard_id, sequence_number FROM %s WHERE consumer_name = $1", p.table)
	rows, err := p.db.QueryContext(ctx, query, p.consumer)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var shardID, seq string
		if err := rows.Scan(&shardID, &seq); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out[shardID] = seq
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

func (p *PostgresCheckpointer) GetCheckpoint(ctx context.Context, shardID string) (string, bool, error) {
	query := fmt.Sprintf("SELECT sequence_number FROM %s WHERE consumer_name = $1 AND shard_id = $2", p.table)
	var seq string
	err := p.db.QueryRowContext(ctx, query, p.consumer, shardID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query checkpoint %s: %w", shardID, err)
	}
	return seq, true, nil
}

func (p *PostgresCheckpointer) Checkpoint(ctx context.Context, shardID, sequence string) error {
	query := fmt.Sprintf("INSERT INTO %s (consumer_name, shard_id, sequence_number, updated_at) VALUES ($1,$2,$3,now()) ON CONFLICT (consumer_name, shard_id) DO UPDATE SET sequence_number = EXCLUDED.sequence_number, updated_at = EXCLUDED.updated_at", p.table)
	if _, err := p.db.ExecContext(ctx, query, p.consumer, shardID, sequence); err != nil {
		return fmt.Errorf("checkpoint shard %s: %w", shardID, err)
	}
	return nil
}

var _ ports.Checkpointer = (*PostgresCheckpointer)(nil)
