package authority

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    Authority
		wantErr bool
	}{
		{
			name: "aad tenant",
			url:  "https://login.microsoftonline.com/contoso.onmicrosoft.com",
			want: Authority{Environment: "login.microsoftonline.com", Realm: "contoso.onmicrosoft.com", Type: AAD},
		},
		{
			name: "aad common",
			url:  "https://login.microsoftonline.com/common/",
			want: Authority{Environment: "login.microsoftonline.com", Realm: "common", Type: AAD},
		},
		{
			name: "adfs",
			url:  "https://fs.contoso.com/adfs",
			want: Authority{Environment: "fs.contoso.com", Realm: "adfs", Type: ADFS},
		},
		{
			name: "generic oidc",
			url:  "https://idp.example.org/tenant42",
			want: Authority{Environment: "idp.example.org", Realm: "tenant42", Type: Generic},
		},
		{
			name: "host and realm lowercased",
			url:  "https://LOGIN.MicrosoftOnline.com/Common",
			want: Authority{Environment: "login.microsoftonline.com", Realm: "common", Type: AAD},
		},
		{name: "http rejected", url: "http://login.microsoftonline.com/common", wantErr: true},
		{name: "no tenant", url: "https://login.microsoftonline.com", wantErr: true},
		{name: "empty", url: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.url)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAuthority)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestStaticMetadata_Aliases(t *testing.T) {
	md := DefaultMetadata()

	aliases := md.Aliases("login.windows.net")
	require.Contains(t, aliases, "login.microsoftonline.com")
	require.Contains(t, aliases, "login.windows.net")

	// Unknown environments alias only themselves.
	require.Equal(t, []string{"idp.example.org"}, md.Aliases("idp.example.org"))
}
