package credential

import "github.com/identicore/identicore/pkg/authority"

// AuthMode selects how the client proves its identity to the token
// endpoint. It is fixed for the duration of one resolution call.
type AuthMode int

const (
	// ModeRegular authenticates in the request body (client_secret or a
	// signed JWT client assertion).
	ModeRegular AuthMode = iota
	// ModeMTLS authenticates with a TLS client certificate
	// (proof-of-possession); token request parameters may be empty.
	ModeMTLS
)

func (m AuthMode) String() string {
	if m == ModeMTLS {
		return "mtls"
	}
	return "regular"
}

// ResolutionContext carries everything a credential needs to produce wire
// material for one logical token request. The caller invokes the resolver
// exactly once per request; delegates may be expensive or side-effecting.
type ResolutionContext struct {
	ClientID      string
	TokenEndpoint string
	Mode          AuthMode

	// AuthorityType and Region feed the fail-fast region check for mTLS
	// proof-of-possession against AAD authorities.
	AuthorityType authority.Type
	Region        string

	// ExtraAssertionClaims are merged into the client assertion payload.
	// On key collision the caller's value wins; hosts use this to bind
	// cache-key claims into the assertion.
	ExtraAssertionClaims map[string]any

	// CorrelationID ties resolver logs to the surrounding token request.
	// Optional; a fresh id is generated when empty.
	CorrelationID string
}
