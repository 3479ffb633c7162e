// Package router resolves an envelope's target (to_client | room[:channel])
// into the set of live sessions that should receive it, and fans delivery
// out to their send queues. The router holds no state of its own (spec.md
// §3): it is a pure function over the registry and rooms store, plus a
// fixed set of sharded sequencer goroutines for fan-out concurrency.
package router

import (
	"errors"
	"hash/fnv"
	"log/slog"

	"github.com/novelbytelabs/arqonbus/internal/protocol"
	"github.com/novelbytelabs/arqonbus/internal/registry"
	"github.com/novelbytelabs/arqonbus/internal/rooms"
	"github.com/novelbytelabs/arqonbus/internal/telemetry"
)

// ErrNoRecipients is returned when a resolved target currently has no live
// sessions to deliver to. Routers treat this as a non-fatal, reportable
// condition rather than a protocol error: the envelope was well-formed, it
// simply had nowhere to go at this instant.
var ErrNoRecipients = errors.New("router: no live recipients for target")

// Resolve computes the live recipient sessions for env's target. It never
// mutates registry or rooms state.
func Resolve(env protocol.Envelope, reg *registry.Registry, store *rooms.Store) ([]*registry.Session, error) {
	switch {
	case env.ToClient != "":
		sess, ok := reg.Lookup(env.TenantID, env.ToClient)
		if !ok {
			return nil, ErrNoRecipients
		}
		return []*registry.Session{sess}, nil

	case env.Channel != "":
		room, channel := env.Room, env.Channel
		if room == "" {
			if r, c, ok := rooms.SplitRoomChannel(channel); ok {
				room, channel = r, c
			}
		}
		members, err := store.Members(env.TenantID, room, channel)
		if err != nil {
			if errors.Is(err, rooms.ErrRoomNotFound) || errors.Is(err, rooms.ErrChannelNotFound) {
				return nil, ErrNoRecipients
			}
			return nil, err
		}
		return excludeSenderUnlessEcho(env, members), nil

	case env.Room != "":
		members, err := store.RoomMembers(env.TenantID, env.Room)
		if err != nil {
			if errors.Is(err, rooms.ErrRoomNotFound) {
				return nil, ErrNoRecipients
			}
			return nil, err
		}
		return excludeSenderUnlessEcho(env, members), nil

	default:
		return nil, ErrNoRecipients
	}
}

func excludeSenderUnlessEcho(env protocol.Envelope, members []*registry.Session) []*registry.Session {
	if env.WantsEcho() {
		return members
	}
	out := members[:0:0]
	for _, m := range members {
		if m.ClientID == env.FromClient {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Router owns a sharded set of per-key sequencer goroutines used to fan
// delivery out across many recipients without blocking the caller (the ws
// read loop, or the command executor) on slow or saturated individual
// queues. Per spec.md §5, every envelope addressed to a given recipient
// must reach that recipient's send queue in the order Route resolved it;
// a flat worker pool sharing one job channel cannot guarantee that, since
// two jobs for the same recipient submitted back to back can be picked up
// by two different idle workers and raced into Enqueue out of order. Each
// shard is instead a single goroutine draining its own channel, and a
// recipient's jobs are always routed to the same shard, so that shard's
// channel FIFO is the recipient's delivery order.
type Router struct {
	log     *slog.Logger
	reg     *registry.Registry
	rooms   *rooms.Store
	metrics *telemetry.Metrics

	shards []chan dispatchJob
	stop   chan struct{}
}

type dispatchJob struct {
	sess *registry.Session
	env  protocol.Envelope
}

// Config controls the router's fan-out shard count.
type Config struct {
	Workers   int
	QueueSize int
}

// DefaultConfig returns sane fan-out shard sizing.
func DefaultConfig() Config {
	return Config{Workers: 8, QueueSize: 1024}
}

// New constructs a Router and starts its per-key sequencer shards. Stop
// must be called to release them.
func New(log *slog.Logger, reg *registry.Registry, store *rooms.Store, metrics *telemetry.Metrics, cfg Config) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	r := &Router{
		log:     log,
		reg:     reg,
		rooms:   store,
		metrics: metrics,
		shards:  make([]chan dispatchJob, cfg.Workers),
		stop:    make(chan struct{}),
	}
	for i := range r.shards {
		r.shards[i] = make(chan dispatchJob, cfg.QueueSize)
		go r.sequence(r.shards[i])
	}
	return r
}

// sequence drains one shard's channel in strict submission order: it is
// the single ordered dispatch path for every recipient hashed onto it.
func (r *Router) sequence(ch chan dispatchJob) {
	for {
		select {
		case <-r.stop:
			return
		case job := <-ch:
			outcome := r.reg.Enqueue(job.sess, job.env, job.env.Timestamp)
			if outcome != registry.EnqueueOK && r.metrics != nil {
				r.metrics.EnqueueDropped.WithLabelValues(string(job.env.Type)).Inc()
			}
		}
	}
}

func (r *Router) shardFor(sessionID string) chan dispatchJob {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Route resolves env's target and fans it out, one job per recipient, onto
// that recipient's sequencer shard. Per spec.md §5, all envelopes for a
// given (tenant, room, channel) must be dispatched in the order Route was
// called for them; callers achieve this by calling Route synchronously
// from a single per-key sequencer of their own (the ws gateway's read loop
// already serializes per connection, and the command executor serializes
// per room/channel via the rooms store's locking), and Route preserves
// that order all the way to each recipient's queue via shardFor.
func (r *Router) Route(env protocol.Envelope) (delivered int, err error) {
	recipients, err := Resolve(env, r.reg, r.rooms)
	if err != nil {
		return 0, err
	}
	for _, sess := range recipients {
		shard := r.shardFor(sess.SessionID)
		select {
		case shard <- dispatchJob{sess: sess, env: env}:
			delivered++
		case <-r.stop:
			return delivered, nil
		}
	}
	return delivered, nil
}

// Stop releases the router's sequencer shards.
func (r *Router) Stop() {
	close(r.stop)
}
