package command

import (
	"encoding/json"
	"sort"

	"github.com/novelbytelabs/arqonbus/internal/protocol"
)

// Handler is one entry in the fixed, versioned command set from spec.md
// §4.7. RequiredRoles lists the roles that satisfy authorization for this
// command; an empty list means any authenticated principal (including
// guest) may invoke it.
type Handler struct {
	Name          string
	Summary       string
	RequiredRoles []protocol.Role
	Exec          func(*Executor, Context) (any, error)
}

func (h Handler) authorize(p protocol.Principal) bool {
	if len(h.RequiredRoles) == 0 {
		return true
	}
	for _, r := range h.RequiredRoles {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}

// Registry is the fixed command set, keyed by every name/alias spec.md
// §4.7 lists. `help` is generated from this registry rather than
// hand-maintained, so it can never drift from what's actually dispatchable.
type Registry struct {
	handlers map[string]Handler
	order    []string // canonical names only, for stable help output
}

// NewRegistry builds and returns the fixed command registry. This is the
// single place the command set is enumerated; anything not registered here
// is COMMAND_NOT_FOUND by construction.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler)}

	r.register(statusHandler())
	r.register(pingHandler())
	r.register(createChannelHandler())
	r.register(deleteChannelHandler())
	r.register(joinChannelHandler())
	r.register(leaveChannelHandler())
	r.register(listChannelsHandler())
	r.register(channelInfoHandler())
	r.registerAliased(historyGetHandler(), "op.history.get", "history.get")
	r.registerAliased(historyReplayHandler(), "op.history.replay", "history.replay")
	r.register(helpHandler(r))

	return r
}

func (r *Registry) register(h Handler) {
	r.handlers[h.Name] = h
	r.order = append(r.order, h.Name)
}

func (r *Registry) registerAliased(h Handler, canonical string, aliases ...string) {
	h.Name = canonical
	r.handlers[canonical] = h
	r.order = append(r.order, canonical)
	for _, alias := range aliases {
		r.handlers[alias] = h
	}
}

// Lookup resolves a command name (or alias) to its Handler.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Describe returns a stable, sorted summary of the canonical command set,
// used by the help command and fed directly by encoding/json rather than
// hand-maintained documentation.
func (r *Registry) Describe() []CommandDescription {
	out := make([]CommandDescription, 0, len(r.order))
	for _, name := range r.order {
		h := r.handlers[name]
		out = append(out, CommandDescription{
			Name:          name,
			Summary:       h.Summary,
			RequiredRoles: h.RequiredRoles,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CommandDescription is the payload shape of the `help` response.
type CommandDescription struct {
	Name          string          `json:"name"`
	Summary       string          `json:"summary"`
	RequiredRoles []protocol.Role `json:"required_roles,omitempty"`
}

func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
