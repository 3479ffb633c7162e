package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/novelbytelabs/arqonbus/internal/protocol"
)

// PostgresStore is the other durable backend named in spec.md §4.6: an
// append-only table keyed by (tenant_id, room, channel), with the sequence
// number assigned by a per-key counter row under the same transaction as
// the insert so Append is atomic without relying on a database sequence
// per key (tenants create channels dynamically; a fixed sequence object
// per key doesn't fit that shape).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresStore constructs a PostgresStore over an existing pool. The
// caller owns the pool's lifecycle. schema defaults to "arqonbus" and must
// already contain the history_log/history_seq tables (migrations are out
// of scope for this package; schema management is an operator concern).
func NewPostgresStore(pool *pgxpool.Pool, schema string) *PostgresStore {
	if schema == "" {
		schema = "arqonbus"
	}
	return &PostgresStore{pool: pool, schema: schema}
}

func (s *PostgresStore) logTable() string { return s.schema + ".history_log" }
func (s *PostgresStore) seqTable() string { return s.schema + ".history_seq" }

// Append assigns the next sequence number for key inside a single
// transaction (upsert-and-increment on history_seq, then insert into
// history_log) so concurrent appenders for the same key never race.
func (s *PostgresStore) Append(ctx context.Context, key Key, env protocol.Envelope, now time.Time) (uint64, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("history: marshal envelope: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("history: postgres begin: %w: %w", err, ErrUnavailable)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var seq uint64
	upsertSeq := fmt.Sprintf(`
		INSERT INTO %s (tenant_id, room, channel, next_seq)
		VALUES ($1, $2, $3, 2)
		ON CONFLICT (tenant_id, room, channel)
		DO UPDATE SET next_seq = %s.next_seq + 1
		RETURNING next_seq - 1`, s.seqTable(), s.seqTable())
	if err := tx.QueryRow(ctx, upsertSeq, key.TenantID, key.Room, key.Channel).Scan(&seq); err != nil {
		return 0, fmt.Errorf("history: postgres seq upsert: %w: %w", err, ErrUnavailable)
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s (tenant_id, room, channel, seq, stored_at, envelope)
		VALUES ($1, $2, $3, $4, $5, $6)`, s.logTable())
	if _, err := tx.Exec(ctx, insert, key.TenantID, key.Room, key.Channel, seq, now, payload); err != nil {
		return 0, fmt.Errorf("history: postgres insert: %w: %w", err, ErrUnavailable)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("history: postgres commit: %w: %w", err, ErrUnavailable)
	}
	return seq, nil
}

func (s *PostgresStore) Get(ctx context.Context, key Key, since, until uint64, limit int) ([]Entry, error) {
	query := fmt.Sprintf(`
		SELECT seq, stored_at, envelope FROM %s
		WHERE tenant_id = $1 AND room = $2 AND channel = $3
		  AND ($4 = 0 OR seq >= $4)
		  AND ($5 = 0 OR seq <= $5)
		ORDER BY seq ASC`, s.logTable())
	rows, err := s.pool.Query(ctx, query, key.TenantID, key.Room, key.Channel, since, until)
	if err != nil {
		return nil, fmt.Errorf("history: postgres query: %w: %w", err, ErrUnavailable)
	}
	defer rows.Close()

	entries, err := scanHistoryRows(rows)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *PostgresStore) Replay(ctx context.Context, key Key, fromTS, toTS time.Time, strictSequence bool, limit int) ([]Entry, error) {
	query := fmt.Sprintf(`
		SELECT seq, stored_at, envelope FROM %s
		WHERE tenant_id = $1 AND room = $2 AND channel = $3
		  AND ($4::timestamptz IS NULL OR stored_at >= $4)
		  AND ($5::timestamptz IS NULL OR stored_at <= $5)
		ORDER BY seq ASC`, s.logTable())

	var from, to any
	if !fromTS.IsZero() {
		from = fromTS
	}
	if !toTS.IsZero() {
		to = toTS
	}

	rows, err := s.pool.Query(ctx, query, key.TenantID, key.Room, key.Channel, from, to)
	if err != nil {
		return nil, fmt.Errorf("history: postgres query: %w: %w", err, ErrUnavailable)
	}
	defer rows.Close()

	entries, err := scanHistoryRows(rows)
	if err != nil {
		return nil, err
	}
	if strictSequence {
		if err := detectSequenceGap(entries); err != nil {
			return nil, err
		}
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func scanHistoryRows(rows pgx.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var (
			seq      uint64
			storedAt time.Time
			raw      []byte
		)
		if err := rows.Scan(&seq, &storedAt, &raw); err != nil {
			return nil, fmt.Errorf("history: postgres scan: %w", err)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("history: decode row seq=%d: %w", seq, err)
		}
		out = append(out, Entry{
			Envelope:       env,
			StoredAt:       storedAt.UTC(),
			SequenceNumber: seq,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: postgres rows: %w: %w", err, ErrUnavailable)
	}
	return out, nil
}

var _ Store = (*PostgresStore)(nil)
