package command

import (
	"errors"
	"fmt"

	"github.com/novelbytelabs/arqonbus/internal/identity/ids"
	"github.com/novelbytelabs/arqonbus/internal/protocol"
	"github.com/novelbytelabs/arqonbus/internal/router"
)

func statusHandler() Handler {
	return Handler{
		Name:    "status",
		Summary: "report session and server status",
		Exec: func(e *Executor, c Context) (any, error) {
			return map[string]any{
				"session_id":     c.Session.SessionID,
				"tenant_id":      c.Principal.TenantID,
				"client_id":      c.Principal.ClientID,
				"roles":          c.Principal.Roles,
				"connected_sessions": e.clients.Count(),
			}, nil
		},
	}
}

func pingHandler() Handler {
	return Handler{
		Name:    "ping",
		Summary: "liveness check",
		Exec: func(e *Executor, c Context) (any, error) {
			return map[string]any{"pong": true, "server_time": c.Now}, nil
		},
	}
}

type channelArgs struct {
	Room        string `json:"room"`
	Channel     string `json:"channel"`
	Description string `json:"description,omitempty"`
	AdminOnly   bool   `json:"admin_only,omitempty"`
}

func (a channelArgs) validate() error {
	if a.Room == "" || a.Channel == "" {
		return errors.New("room and channel are required")
	}
	return nil
}

func createChannelHandler() Handler {
	return Handler{
		Name:          "create_channel",
		Summary:       "create a channel (and its parent room, if new)",
		RequiredRoles: []protocol.Role{protocol.RoleAdmin},
		Exec: func(e *Executor, c Context) (any, error) {
			var args channelArgs
			if err := decodeArgs(c.Env.Args, &args); err != nil {
				return nil, fmt.Errorf("decode args: %w", err)
			}
			if err := args.validate(); err != nil {
				return nil, err
			}
			ch, err := e.rooms.CreateChannel(c.Principal.TenantID, args.Room, args.Channel, c.Principal, args.Description, args.AdminOnly, c.Now)
			if err != nil {
				return nil, err
			}
			e.emitLifecycleEvent(c, "channel.created", args.Room, args.Channel)
			return channelInfoResult(ch.MemberCount(), args), nil
		},
	}
}

func deleteChannelHandler() Handler {
	return Handler{
		Name:          "delete_channel",
		Summary:       "delete a channel (destroying its room if it was the last one)",
		RequiredRoles: []protocol.Role{protocol.RoleAdmin},
		Exec: func(e *Executor, c Context) (any, error) {
			var args channelArgs
			if err := decodeArgs(c.Env.Args, &args); err != nil {
				return nil, fmt.Errorf("decode args: %w", err)
			}
			if err := args.validate(); err != nil {
				return nil, err
			}
			if err := e.rooms.DeleteChannel(c.Principal.TenantID, args.Room, args.Channel, c.Principal); err != nil {
				return nil, err
			}
			e.emitLifecycleEvent(c, "channel.deleted", args.Room, args.Channel)
			return map[string]any{"room": args.Room, "channel": args.Channel}, nil
		},
	}
}

func joinChannelHandler() Handler {
	return Handler{
		Name:    "join_channel",
		Summary: "join a channel, auto-creating it if the tenant policy allows",
		Exec: func(e *Executor, c Context) (any, error) {
			var args channelArgs
			if err := decodeArgs(c.Env.Args, &args); err != nil {
				return nil, fmt.Errorf("decode args: %w", err)
			}
			if err := args.validate(); err != nil {
				return nil, err
			}
			if err := e.rooms.JoinChannel(c.Principal.TenantID, args.Room, args.Channel, c.Session, c.Now); err != nil {
				return nil, err
			}
			e.emitLifecycleEvent(c, "channel.joined", args.Room, args.Channel)
			return map[string]any{"room": args.Room, "channel": args.Channel, "joined": true}, nil
		},
	}
}

func leaveChannelHandler() Handler {
	return Handler{
		Name:    "leave_channel",
		Summary: "leave a channel",
		Exec: func(e *Executor, c Context) (any, error) {
			var args channelArgs
			if err := decodeArgs(c.Env.Args, &args); err != nil {
				return nil, fmt.Errorf("decode args: %w", err)
			}
			if err := args.validate(); err != nil {
				return nil, err
			}
			if err := e.rooms.LeaveChannel(c.Principal.TenantID, args.Room, args.Channel, c.Session); err != nil {
				return nil, err
			}
			e.emitLifecycleEvent(c, "channel.left", args.Room, args.Channel)
			return map[string]any{"room": args.Room, "channel": args.Channel, "left": true}, nil
		},
	}
}

func listChannelsHandler() Handler {
	return Handler{
		Name:    "list_channels",
		Summary: "list every channel visible to this tenant",
		Exec: func(e *Executor, c Context) (any, error) {
			return e.rooms.ListChannels(c.Principal.TenantID), nil
		},
	}
}

func channelInfoHandler() Handler {
	return Handler{
		Name:    "channel_info",
		Summary: "read metadata for one channel",
		Exec: func(e *Executor, c Context) (any, error) {
			var args channelArgs
			if err := decodeArgs(c.Env.Args, &args); err != nil {
				return nil, fmt.Errorf("decode args: %w", err)
			}
			if args.Room == "" || args.Channel == "" {
				return nil, errors.New("room and channel are required")
			}
			info, err := e.rooms.ChannelInfo(c.Principal.TenantID, args.Room, args.Channel)
			if err != nil {
				return nil, err
			}
			return info, nil
		},
	}
}

func helpHandler(reg *Registry) Handler {
	return Handler{
		Name:    "help",
		Summary: "list every registered command and its schema",
		Exec: func(e *Executor, c Context) (any, error) {
			return reg.Describe(), nil
		},
	}
}

func channelInfoResult(memberCount int, args channelArgs) map[string]any {
	return map[string]any{
		"room":         args.Room,
		"channel":      args.Channel,
		"member_count": memberCount,
	}
}

// emitLifecycleEvent routes a `type=event` envelope to a channel's current
// members through the same router.Resolve+registry fan-out path data
// messages use, per spec.md's direction to reuse the router's FIFO
// guarantees rather than a bespoke broadcast.
func (e *Executor) emitLifecycleEvent(c Context, kind, room, channel string) {
	id, err := ids.NewULID(c.Now)
	if err != nil {
		id = c.Env.ID
	}
	payload := fmt.Sprintf(`{"kind":%q,"client_id":%q,"room":%q,"channel":%q}`, kind, c.Principal.ClientID, room, channel)
	event := protocol.Envelope{
		ID:         id,
		Type:       protocol.TypeEvent,
		Version:    protocol.Version,
		Timestamp:  c.Now,
		FromClient: "arqonbus",
		TenantID:   c.Principal.TenantID,
		Room:       room,
		Channel:    channel,
		Payload:    []byte(payload),
		Metadata:   map[string]string{"echo": "true"},
	}
	if _, err := e.router.Route(event); err != nil && !errors.Is(err, router.ErrNoRecipients) {
		e.log.Warn("command.lifecycle_event_route_failed", "kind", kind, "error", err)
	}
}
