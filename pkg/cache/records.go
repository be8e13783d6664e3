// Package cache implements the persisted token cache: the flat credential
// and account records, their composite keys, and the manager that matches
// requests against stored tokens. The JSON projection and key derivation
// are a compatibility surface shared with other client libraries reading
// the same cache, so field names and key layout must not drift.
package cache

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Credential type discriminators as persisted in records.
const (
	CredentialTypeAccessToken  = "AccessToken"
	CredentialTypeRefreshToken = "RefreshToken"
	CredentialTypeIDToken      = "IdToken"
)

// expiryBuffer is the minimum remaining lifetime for an access token to
// count as a cache hit. Tokens closer to expiry than this are treated as
// expired to absorb clock skew against the token service.
const expiryBuffer = 300 * time.Second

// unixTime marshals as a unix-seconds string, the form the shared cache
// format uses for timestamps. Unmarshal accepts both string and number.
type unixTime struct {
	time.Time
}

func newUnixTime(t time.Time) unixTime {
	return unixTime{time.Unix(t.Unix(), 0).UTC()}
}

func (u unixTime) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatInt(u.Unix(), 10))), nil
}

func (u *unixTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		u.Time = time.Time{}
		return nil
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("cache: invalid timestamp %q", s)
	}
	u.Time = time.Unix(sec, 0).UTC()
	return nil
}

// key joins components into a cache key: lowercase, "-" separated, empty
// components kept as empty segments.
func key(components ...string) string {
	return strings.ToLower(strings.Join(components, "-"))
}

// AccessToken is a cached access token. Target is the space-delimited
// granted scope set.
type AccessToken struct {
	HomeAccountID  string   `json:"home_account_id"`
	Environment    string   `json:"environment"`
	CredentialType string   `json:"credential_type"`
	ClientID       string   `json:"client_id"`
	Realm          string   `json:"realm"`
	Target         string   `json:"target"`
	Secret         string   `json:"secret"`
	CachedAt       unixTime `json:"cached_at"`
	ExpiresOn      unixTime `json:"expires_on"`
	TokenType      string   `json:"token_type,omitempty"`
}

// Key returns the composite cache key for this record.
func (a AccessToken) Key() string {
	return key(a.HomeAccountID, a.Environment, a.CredentialType, a.ClientID, a.Realm, a.Target)
}

// ValidAt reports whether the token is usable at now: issued in the past
// and not within the expiry buffer of expiring.
func (a AccessToken) ValidAt(now time.Time) bool {
	if a.CachedAt.After(now) {
		return false
	}
	return !now.Add(expiryBuffer).After(a.ExpiresOn.Time)
}

// RefreshToken is a cached refresh token. FamilyID "" is an ordinary
// per-client token; non-empty marks a family refresh token usable by
// every client in that family.
type RefreshToken struct {
	HomeAccountID  string `json:"home_account_id"`
	Environment    string `json:"environment"`
	CredentialType string `json:"credential_type"`
	ClientID       string `json:"client_id"`
	Secret         string `json:"secret"`
	FamilyID       string `json:"family_id,omitempty"`
}

// Key returns the composite cache key. Family tokens key on the family id
// instead of the client id, so sibling clients find them.
func (r RefreshToken) Key() string {
	clientPart := r.ClientID
	if r.FamilyID != "" {
		clientPart = r.FamilyID
	}
	return key(r.HomeAccountID, r.Environment, r.CredentialType, clientPart, "", "")
}

// IDToken is a cached raw ID token.
type IDToken struct {
	HomeAccountID  string `json:"home_account_id"`
	Environment    string `json:"environment"`
	CredentialType string `json:"credential_type"`
	ClientID       string `json:"client_id"`
	Realm          string `json:"realm"`
	Secret         string `json:"secret"`
}

func (i IDToken) Key() string {
	return key(i.HomeAccountID, i.Environment, i.CredentialType, i.ClientID, i.Realm, "")
}

// Account authority types.
const (
	AccountTypeMSSTS = "MSSTS"
	AccountTypeADFS  = "ADFS"
)

// Account is the signed-in account record backing silent token requests.
type Account struct {
	HomeAccountID  string `json:"home_account_id"`
	Environment    string `json:"environment"`
	Realm          string `json:"realm"`
	LocalAccountID string `json:"local_account_id,omitempty"`
	AuthorityType  string `json:"authority_type"`
	Username       string `json:"username,omitempty"`
	Name           string `json:"name,omitempty"`
	ClientInfo     string `json:"client_info,omitempty"`
}

func (a Account) Key() string {
	return key(a.HomeAccountID, a.Environment, a.Realm)
}

// AppMetadata records per-client, per-environment facts learned from
// token responses; today that is family membership for refresh tokens.
type AppMetadata struct {
	ClientID    string `json:"client_id"`
	Environment string `json:"environment"`
	FamilyID    string `json:"family_id,omitempty"`
}

func (m AppMetadata) Key() string {
	return key("appmetadata", m.Environment, m.ClientID)
}
