package rooms

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSnapshotStore is the Postgres-backed SnapshotStore named in
// spec.md §4.6's domain stack: a single table keyed by
// (tenant_id, room, channel), upserted on every create_channel and
// deleted on every delete_channel. Schema defaults to "arqonbus" and must
// already contain the rooms_channel_snapshot table.
type PostgresSnapshotStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresSnapshotStore constructs a PostgresSnapshotStore over an
// existing pool. The caller owns the pool's lifecycle.
func NewPostgresSnapshotStore(pool *pgxpool.Pool, schema string) *PostgresSnapshotStore {
	if schema == "" {
		schema = "arqonbus"
	}
	return &PostgresSnapshotStore{pool: pool, schema: schema}
}

func (s *PostgresSnapshotStore) table() string {
	return s.schema + ".rooms_channel_snapshot"
}

// PutChannel upserts a channel's durable metadata.
func (s *PostgresSnapshotStore) PutChannel(snap ChannelSnapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (tenant_id, room, channel, creator, description, admin_only, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, room, channel)
		DO UPDATE SET description = $5, admin_only = $6`, s.table())
	if _, err := s.pool.Exec(ctx, query, snap.TenantID, snap.Room, snap.Channel, snap.Creator, snap.Description, snap.AdminOnly, snap.CreatedAt); err != nil {
		return fmt.Errorf("rooms: snapshot put: %w", err)
	}
	return nil
}

// DeleteChannel removes a channel's durable metadata. Deleting a
// nonexistent row is not an error: DeleteChannel on the Store already
// validated the channel existed in memory.
func (s *PostgresSnapshotStore) DeleteChannel(tenantID, room, channel string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1 AND room = $2 AND channel = $3`, s.table())
	if _, err := s.pool.Exec(ctx, query, tenantID, room, channel); err != nil {
		return fmt.Errorf("rooms: snapshot delete: %w", err)
	}
	return nil
}

// LoadAll returns every persisted channel snapshot, ordered by
// (tenant_id, room, channel) for deterministic rehydration.
func (s *PostgresSnapshotStore) LoadAll() ([]ChannelSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT tenant_id, room, channel, creator, description, admin_only, created_at
		FROM %s ORDER BY tenant_id, room, channel`, s.table())
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rooms: snapshot load: %w", err)
	}
	defer rows.Close()

	var out []ChannelSnapshot
	for rows.Next() {
		var snap ChannelSnapshot
		if err := rows.Scan(&snap.TenantID, &snap.Room, &snap.Channel, &snap.Creator, &snap.Description, &snap.AdminOnly, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("rooms: snapshot scan: %w", err)
		}
		snap.CreatedAt = snap.CreatedAt.UTC()
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rooms: snapshot rows: %w", err)
	}
	return out, nil
}

var _ SnapshotStore = (*PostgresSnapshotStore)(nil)
