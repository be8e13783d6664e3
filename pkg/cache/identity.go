package cache

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ClientInfo is the provider-issued uid/utid pair accompanying a token
// response, base64url-encoded JSON on the wire.
type ClientInfo struct {
	UID  string `json:"uid"`
	UTID string `json:"utid"`
}

// DecodeClientInfo parses the raw client_info response field. Empty input
// yields a zero ClientInfo, not an error.
func DecodeClientInfo(raw string) (ClientInfo, error) {
	var info ClientInfo
	if raw == "" {
		return info, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		// Some issuers pad; try the padded alphabet before giving up.
		decoded, err = base64.URLEncoding.DecodeString(raw)
		if err != nil {
			return info, fmt.Errorf("cache: decode client_info: %w", err)
		}
	}
	if err := json.Unmarshal(decoded, &info); err != nil {
		return info, fmt.Errorf("cache: parse client_info: %w", err)
	}
	return info, nil
}

// IDClaims are the ID-token claims the cache cares about. The token is
// parsed without signature verification; the transport that received it
// is responsible for trust, the cache only derives identifiers.
type IDClaims struct {
	Subject           string
	ObjectID          string
	TenantID          string
	PreferredUsername string
	UPN               string
	Email             string
	Name              string
}

// ParseIDClaims extracts claims from a raw ID token. Empty input yields
// zero claims; malformed input is an error.
func ParseIDClaims(rawIDToken string) (IDClaims, error) {
	var out IDClaims
	if rawIDToken == "" {
		return out, nil
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(rawIDToken, claims); err != nil {
		return out, fmt.Errorf("cache: parse id token: %w", err)
	}

	str := func(key string) string {
		if v, ok := claims[key].(string); ok {
			return v
		}
		return ""
	}
	out.Subject = str("sub")
	out.ObjectID = str("oid")
	out.TenantID = str("tid")
	out.PreferredUsername = str("preferred_username")
	out.UPN = str("upn")
	out.Email = str("email")
	out.Name = str("name")
	return out, nil
}

// Username returns the best display username for an account record.
func (c IDClaims) Username() string {
	switch {
	case c.PreferredUsername != "":
		return c.PreferredUsername
	case c.UPN != "":
		return c.UPN
	default:
		return c.Email
	}
}

// LocalAccountID returns the tenant-local account identifier.
func (c IDClaims) LocalAccountID() string {
	if c.ObjectID != "" {
		return c.ObjectID
	}
	return c.Subject
}

// DeriveHomeAccountID computes the stable cross-tenant account id:
// uid.utid when client_info carries both, then upn, then email, then the
// token subject. All sources empty yields "".
func DeriveHomeAccountID(info ClientInfo, claims IDClaims) string {
	switch {
	case info.UID != "" && info.UTID != "":
		return info.UID + "." + info.UTID
	case claims.UPN != "":
		return claims.UPN
	case claims.Email != "":
		return claims.Email
	default:
		return claims.Subject
	}
}
