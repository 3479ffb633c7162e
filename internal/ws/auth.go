package ws

import (
	"errors"
	"net/http"
	"strings"

	"github.com/novelbytelabs/arqonbus/internal/protocol"
)

// Authenticator produces an already-authenticated Principal from an
// incoming upgrade request. Per spec.md §1/§6, authentication mechanisms
// (JWT/OIDC/mTLS) are an explicit non-goal: "the core consumes an
// already-authenticated principal". This interface is the seam a real
// deployment's edge/auth layer plugs into; ArqonBus's core never verifies
// credentials itself.
type Authenticator interface {
	Authenticate(r *http.Request) (protocol.Principal, error)
}

// ErrUnauthenticated is returned when no usable principal can be derived
// from the request.
var ErrUnauthenticated = errors.New("ws: unauthenticated")

// HeaderAuthenticator trusts a small set of headers populated by an
// upstream authentication layer (a reverse proxy or sidecar that has
// already verified the caller's credentials). It performs no cryptographic
// verification itself, matching the non-goal boundary.
type HeaderAuthenticator struct {
	TenantHeader string
	ClientHeader string
	RolesHeader  string
}

// NewHeaderAuthenticator returns a HeaderAuthenticator using ArqonBus's
// default header names.
func NewHeaderAuthenticator() HeaderAuthenticator {
	return HeaderAuthenticator{
		TenantHeader: "X-Arqonbus-Tenant-Id",
		ClientHeader: "X-Arqonbus-Client-Id",
		RolesHeader:  "X-Arqonbus-Roles",
	}
}

func (a HeaderAuthenticator) Authenticate(r *http.Request) (protocol.Principal, error) {
	tenantID := strings.TrimSpace(r.Header.Get(a.TenantHeader))
	clientID := strings.TrimSpace(r.Header.Get(a.ClientHeader))
	if tenantID == "" || clientID == "" {
		return protocol.Principal{}, ErrUnauthenticated
	}

	var roles []protocol.Role
	for _, raw := range strings.Split(r.Header.Get(a.RolesHeader), ",") {
		role := protocol.Role(strings.TrimSpace(raw))
		switch role {
		case protocol.RoleAdmin, protocol.RoleUser, protocol.RoleGuest:
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		roles = []protocol.Role{protocol.RoleGuest}
	}

	return protocol.Principal{TenantID: tenantID, ClientID: clientID, Roles: roles}, nil
}

var _ Authenticator = HeaderAuthenticator{}
