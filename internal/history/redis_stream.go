package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/novelbytelabs/arqonbus/internal/protocol"
)

// RedisStream is the durable stream history backend named in spec.md §4.6
// ("a log-oriented key-value or stream store"), implemented with Redis
// Streams: XADD with MAXLEN trimming for bounded retention, XRANGE for
// get/replay.
type RedisStream struct {
	client  *redis.Client
	keyPrefix string
	maxLen  int64
}

// RedisStreamConfig configures a RedisStream backend.
type RedisStreamConfig struct {
	KeyPrefix string
	MaxLen    int64 // approximate retention cap per stream (XADD MAXLEN ~)
}

// NewRedisStream constructs a RedisStream backend over an existing client.
// The caller owns the client's lifecycle (construction and Close).
func NewRedisStream(client *redis.Client, cfg RedisStreamConfig) *RedisStream {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "arqonbus:history"
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = defaultRingCapacity
	}
	return &RedisStream{client: client, keyPrefix: cfg.KeyPrefix, maxLen: cfg.MaxLen}
}

func (r *RedisStream) streamKey(key Key) string {
	return fmt.Sprintf("%s:%s:%s:%s", r.keyPrefix, key.TenantID, key.Room, key.Channel)
}

func (r *RedisStream) seqKey(key Key) string {
	return r.streamKey(key) + ":seq"
}

// Append assigns the next sequence number via INCR (atomic per key) and
// XADDs the envelope, trimming the stream to approximately MaxLen entries.
func (r *RedisStream) Append(ctx context.Context, key Key, env protocol.Envelope, now time.Time) (uint64, error) {
	seq, err := r.client.Incr(ctx, r.seqKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("history: redis incr: %w: %w", err, ErrUnavailable)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("history: marshal envelope: %w", err)
	}

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.streamKey(key),
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"seq":       seq,
			"stored_at": now.UnixNano(),
			"envelope":  payload,
		},
	}).Err()
	if err != nil {
		return 0, fmt.Errorf("history: redis xadd: %w: %w", err, ErrUnavailable)
	}
	return uint64(seq), nil
}

func (r *RedisStream) Get(ctx context.Context, key Key, since, until uint64, limit int) ([]Entry, error) {
	msgs, err := r.client.XRange(ctx, r.streamKey(key), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("history: redis xrange: %w: %w", err, ErrUnavailable)
	}
	entries, err := decodeStreamMessages(msgs)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if since != 0 && e.SequenceNumber < since {
			continue
		}
		if until != 0 && e.SequenceNumber > until {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *RedisStream) Replay(ctx context.Context, key Key, fromTS, toTS time.Time, strictSequence bool, limit int) ([]Entry, error) {
	start, end := "-", "+"
	if !fromTS.IsZero() {
		start = strconv.FormatInt(fromTS.UnixMilli(), 10)
	}
	if !toTS.IsZero() {
		end = strconv.FormatInt(toTS.UnixMilli(), 10)
	}

	msgs, err := r.client.XRange(ctx, r.streamKey(key), start, end).Result()
	if err != nil {
		return nil, fmt.Errorf("history: redis xrange: %w: %w", err, ErrUnavailable)
	}
	entries, err := decodeStreamMessages(msgs)
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

func decodeStreamMessages(msgs []redis.XMessage) ([]Entry, error) {
	out := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		var env protocol.Envelope
		raw, _ := msg.Values["envelope"].(string)
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return nil, fmt.Errorf("history: decode stream entry %s: %w", msg.ID, err)
		}

		seqStr, _ := msg.Values["seq"].(string)
		seq, err := strconv.ParseUint(seqStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("history: parse seq for %s: %w", msg.ID, err)
		}

		storedAtStr, _ := msg.Values["stored_at"].(string)
		storedAtNanos, _ := strconv.ParseInt(storedAtStr, 10, 64)

		out = append(out, Entry{
			Envelope:        env,
			StoredAt:        time.Unix(0, storedAtNanos).UTC(),
			SequenceNumber:  seq,
			StorageMetadata: map[string]string{"stream_id": msg.ID},
		})
	}
	return out, nil
}

var _ Store = (*RedisStream)(nil)
