package cache

import (
	"encoding/base64"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func encodeClientInfo(t *testing.T, uid, utid string) string {
	t.Helper()
	return base64.RawURLEncoding.EncodeToString(
		[]byte(`{"uid":"` + uid + `","utid":"` + utid + `"}`))
}

func unsignedIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	return raw
}

func TestDecodeClientInfo(t *testing.T) {
	info, err := DecodeClientInfo(encodeClientInfo(t, "u", "t"))
	require.NoError(t, err)
	require.Equal(t, ClientInfo{UID: "u", UTID: "t"}, info)

	info, err = DecodeClientInfo("")
	require.NoError(t, err)
	require.Zero(t, info)

	_, err = DecodeClientInfo("!!not-base64!!")
	require.Error(t, err)
}

func TestParseIDClaims(t *testing.T) {
	raw := unsignedIDToken(t, jwt.MapClaims{
		"sub":                "subject-1",
		"oid":                "object-1",
		"tid":                "tenant-1",
		"preferred_username": "user@contoso.com",
		"name":               "Test User",
	})

	claims, err := ParseIDClaims(raw)
	require.NoError(t, err)
	require.Equal(t, "subject-1", claims.Subject)
	require.Equal(t, "object-1", claims.ObjectID)
	require.Equal(t, "user@contoso.com", claims.Username())
	require.Equal(t, "object-1", claims.LocalAccountID())

	empty, err := ParseIDClaims("")
	require.NoError(t, err)
	require.Zero(t, empty)

	_, err = ParseIDClaims("not a jwt")
	require.Error(t, err)
}

func TestDeriveHomeAccountID(t *testing.T) {
	tests := []struct {
		name   string
		info   ClientInfo
		claims IDClaims
		want   string
	}{
		{"uid and utid win", ClientInfo{UID: "u", UTID: "t"}, IDClaims{Subject: "s", UPN: "upn"}, "u.t"},
		{"upn before email", ClientInfo{}, IDClaims{UPN: "upn@x", Email: "e@x", Subject: "s"}, "upn@x"},
		{"email before subject", ClientInfo{}, IDClaims{Email: "e@x", Subject: "s"}, "e@x"},
		{"subject fallback", ClientInfo{}, IDClaims{Subject: "s"}, "s"},
		{"uid without utid falls through", ClientInfo{UID: "u"}, IDClaims{Subject: "s"}, "s"},
		{"all empty is empty string", ClientInfo{}, IDClaims{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DeriveHomeAccountID(tt.info, tt.claims))
		})
	}
}
