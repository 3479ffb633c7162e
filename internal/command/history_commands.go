package command

import (
	"context"
	"errors"
	"time"

	"github.com/novelbytelabs/arqonbus/internal/history"
)

// Authorization for history queries follows spec.md §4.6: non-admin
// principals must scope to a room they belong to; global history access
// (no room given) is admin-only.
func authorizeHistoryScope(e *Executor, c Context, room string) error {
	if c.Principal.IsAdmin() {
		return nil
	}
	if room == "" {
		return errors.New("room is required for non-admin history access")
	}
	members, err := e.rooms.RoomMembers(c.Principal.TenantID, room)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.SessionID == c.Session.SessionID {
			return nil
		}
	}
	return errors.New("not a member of the requested room")
}

type historyGetArgs struct {
	Room    string `json:"room"`
	Channel string `json:"channel"`
	Since   uint64 `json:"since,omitempty"`
	Until   uint64 `json:"until,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

const defaultHistoryLimit = 100

func historyGetHandler() Handler {
	return Handler{
		Name:    "op.history.get",
		Summary: "bounded read of a (room, channel) history log in ascending sequence order",
		Exec: func(e *Executor, c Context) (any, error) {
			var args historyGetArgs
			if err := decodeArgs(c.Env.Args, &args); err != nil {
				return nil, err
			}
			if args.Room == "" || args.Channel == "" {
				return nil, errors.New("room and channel are required")
			}
			if err := authorizeHistoryScope(e, c, args.Room); err != nil {
				return nil, err
			}
			limit := args.Limit
			if limit <= 0 || limit > defaultHistoryLimit {
				limit = defaultHistoryLimit
			}
			key := history.Key{TenantID: c.Principal.TenantID, Room: args.Room, Channel: args.Channel}
			entries, err := e.history.Get(context.Background(), key, args.Since, args.Until, limit)
			if err != nil {
				return nil, err
			}
			return entries, nil
		},
	}
}

type historyReplayArgs struct {
	Room           string     `json:"room"`
	Channel        string     `json:"channel"`
	FromTS         *time.Time `json:"from_ts,omitempty"`
	ToTS           *time.Time `json:"to_ts,omitempty"`
	StrictSequence bool       `json:"strict_sequence,omitempty"`
	Limit          int        `json:"limit,omitempty"`
}

func historyReplayHandler() Handler {
	return Handler{
		Name:    "op.history.replay",
		Summary: "bounded time-window replay of a (room, channel) history log",
		Exec: func(e *Executor, c Context) (any, error) {
			var args historyReplayArgs
			if err := decodeArgs(c.Env.Args, &args); err != nil {
				return nil, err
			}
			if args.Room == "" || args.Channel == "" {
				return nil, errors.New("room and channel are required")
			}
			if err := authorizeHistoryScope(e, c, args.Room); err != nil {
				return nil, err
			}
			limit := args.Limit
			if limit <= 0 || limit > defaultHistoryLimit {
				limit = defaultHistoryLimit
			}
			var fromTS, toTS time.Time
			if args.FromTS != nil {
				fromTS = *args.FromTS
			}
			if args.ToTS != nil {
				toTS = *args.ToTS
			}
			key := history.Key{TenantID: c.Principal.TenantID, Room: args.Room, Channel: args.Channel}
			entries, err := e.history.Replay(context.Background(), key, fromTS, toTS, args.StrictSequence, limit)
			if err != nil {
				return nil, err
			}
			return entries, nil
		},
	}
}
