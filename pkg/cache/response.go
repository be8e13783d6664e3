package cache

import "time"

// TokenResponse is the distilled token-endpoint response handed to the
// cache for ingestion, and the shape synthesized back on a cache hit.
type TokenResponse struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    time.Duration
	GrantedScope []string

	RefreshToken string
	// FamilyID is the "foci" hint: non-empty marks the refresh token as
	// shared across the named client family.
	FamilyID string

	IDToken    string
	ClientInfo string
}

// Outcome classifies a cache read.
type Outcome int

const (
	// OutcomeMiss means nothing usable was found; the caller needs a full
	// (interactive or credential-based) token acquisition.
	OutcomeMiss Outcome = iota
	// OutcomeHit means a valid access token was found; no network needed.
	OutcomeHit
	// OutcomeRefreshRequired means no valid access token but a refresh
	// token exists; the caller should redeem it over the network.
	OutcomeRefreshRequired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "hit"
	case OutcomeRefreshRequired:
		return "refresh_required"
	default:
		return "miss"
	}
}

// ReadResult is what TryRead returns. AccessToken is set on OutcomeHit,
// RefreshToken on OutcomeRefreshRequired; Account and IDToken are set
// whenever the matching records exist.
type ReadResult struct {
	Outcome      Outcome
	AccessToken  *AccessToken
	RefreshToken *RefreshToken
	IDToken      *IDToken
	Account      *Account
}
