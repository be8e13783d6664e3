// Package authority parses identity-provider authority URLs into the
// (environment, realm) pair the token cache keys on, and defines the
// metadata capability used to normalize environment aliases. Discovery
// mechanics (fetching the metadata over the network) live with the host
// application, not here.
package authority

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Type classifies an authority. The credential resolver needs this to
// decide whether a region is mandatory for mTLS proof-of-possession.
type Type string

const (
	// AAD is a Microsoft Entra ID (v2) style authority, e.g.
	// https://login.microsoftonline.com/{tenant}.
	AAD Type = "AAD"
	// ADFS is an on-premises federation authority, path segment "adfs".
	ADFS Type = "ADFS"
	// Generic is any other OIDC authority.
	Generic Type = "Generic"
)

// Well-known AAD hosts. Anything else with a non-"adfs" tenant path is
// treated as Generic.
var aadHosts = map[string]struct{}{
	"login.microsoftonline.com":        {},
	"login.windows.net":                {},
	"login.microsoft.com":              {},
	"sts.windows.net":                  {},
	"login.partner.microsoftonline.cn": {},
	"login.microsoftonline.us":         {},
}

var ErrInvalidAuthority = errors.New("authority: invalid authority URL")

// Authority is the parsed form of an authority URL.
type Authority struct {
	// Environment is the host, e.g. "login.microsoftonline.com". Cache
	// records are partitioned by it.
	Environment string
	// Realm is the tenant segment, e.g. "contoso.onmicrosoft.com" or
	// "common".
	Realm string
	// Type drives protocol decisions (region requirement for mTLS PoP).
	Type Type
}

// Parse splits an authority URL into environment and realm. The URL must
// be https with a host and a single tenant path segment.
func Parse(authorityURL string) (Authority, error) {
	u, err := url.Parse(strings.TrimSpace(authorityURL))
	if err != nil {
		return Authority{}, fmt.Errorf("%w: %v", ErrInvalidAuthority, err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return Authority{}, fmt.Errorf("%w: %q must be https with a host", ErrInvalidAuthority, authorityURL)
	}

	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segments) == 0 {
		return Authority{}, fmt.Errorf("%w: %q has no tenant segment", ErrInvalidAuthority, authorityURL)
	}
	realm := strings.ToLower(segments[0])

	env := strings.ToLower(u.Hostname())

	typ := Generic
	if realm == "adfs" {
		typ = ADFS
	} else if _, ok := aadHosts[env]; ok {
		typ = AAD
	}

	return Authority{Environment: env, Realm: realm, Type: typ}, nil
}

// MetadataProvider supplies instance metadata for an environment. The
// cache uses it to recognize host aliases (e.g. login.windows.net and
// login.microsoftonline.com are the same cloud) so tokens written under
// one alias are found under another.
type MetadataProvider interface {
	// Aliases returns every environment name equivalent to env,
	// including env itself. Unknown environments return {env}.
	Aliases(env string) []string
}

// StaticMetadata is a MetadataProvider backed by a fixed alias table.
// Useful for tests and for hosts that ship a snapshot of instance
// discovery data.
type StaticMetadata struct {
	aliasGroups [][]string
}

// NewStaticMetadata builds a provider from alias groups. Each group lists
// hosts that name the same environment.
func NewStaticMetadata(groups ...[]string) *StaticMetadata {
	norm := make([][]string, 0, len(groups))
	for _, g := range groups {
		ng := make([]string, 0, len(g))
		for _, h := range g {
			ng = append(ng, strings.ToLower(strings.TrimSpace(h)))
		}
		norm = append(norm, ng)
	}
	return &StaticMetadata{aliasGroups: norm}
}

// DefaultMetadata returns the alias table for the public cloud. Hosts
// needing sovereign clouds supply their own table.
func DefaultMetadata() *StaticMetadata {
	return NewStaticMetadata([]string{
		"login.microsoftonline.com",
		"login.windows.net",
		"login.microsoft.com",
		"sts.windows.net",
	})
}

func (m *StaticMetadata) Aliases(env string) []string {
	env = strings.ToLower(strings.TrimSpace(env))
	for _, group := range m.aliasGroups {
		for _, h := range group {
			if h == env {
				return append([]string(nil), group...)
			}
		}
	}
	return []string{env}
}
