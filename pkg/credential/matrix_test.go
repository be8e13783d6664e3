package credential

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/identicore/identicore/pkg/authority"
)

const (
	testClientID      = "test-client-id"
	testTokenEndpoint = "https://login.microsoftonline.com/tenant-id/oauth2/v2.0/token"
	testSecret        = "test-secret"
	testAssertion     = "eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9.eyJzdWIiOiJ4In0.sig"
)

func testCert(t *testing.T) *Certificate {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "credential-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	cert, err := NewCertificate(leaf, key)
	require.NoError(t, err)
	return cert
}

func testContext(mode AuthMode) ResolutionContext {
	return ResolutionContext{
		ClientID:      testClientID,
		TokenEndpoint: testTokenEndpoint,
		Mode:          mode,
		AuthorityType: authority.AAD,
		Region:        "westus2",
	}
}

// TestResolutionMatrix exercises every (credential kind, mode) pair of
// the canonical compatibility table.
func TestResolutionMatrix(t *testing.T) {
	cert := testCert(t)

	callbackWithCert := NewAssertionCallback(func(_ context.Context, _ SignedAssertionOptions) (SignedAssertion, error) {
		return SignedAssertion{Assertion: testAssertion, TokenBindingCertificate: cert}, nil
	})
	callbackWithoutCert := NewAssertionCallback(func(_ context.Context, _ SignedAssertionOptions) (SignedAssertion, error) {
		return SignedAssertion{Assertion: testAssertion}, nil
	})

	tests := []struct {
		name string
		cred Credential
		mode AuthMode

		wantCode      string // non-empty means the row must error
		wantParams    []string
		wantAssertion string // expected client_assertion_type value
		wantCert      bool
		wantSource    Source
	}{
		{
			name: "static certificate regular",
			cred: NewCertificateCredential(cert), mode: ModeRegular,
			wantParams:    []string{ParamClientAssertion, ParamClientAssertionType},
			wantAssertion: AssertionTypeJWTBearer,
			wantCert:      true,
			wantSource:    SourceStatic,
		},
		{
			name: "static certificate mtls",
			cred: NewCertificateCredential(cert), mode: ModeMTLS,
			wantParams: []string{},
			wantCert:   true,
			wantSource: SourceStatic,
		},
		{
			name: "provider certificate regular",
			cred: NewCertificateFromProvider(func(context.Context) (*Certificate, error) { return cert, nil }),
			mode: ModeRegular,
			wantParams:    []string{ParamClientAssertion, ParamClientAssertionType},
			wantAssertion: AssertionTypeJWTBearer,
			wantCert:      true,
			wantSource:    SourceCallback,
		},
		{
			name: "provider certificate mtls",
			cred: NewCertificateFromProvider(func(context.Context) (*Certificate, error) { return cert, nil }),
			mode: ModeMTLS,
			wantParams: []string{},
			wantCert:   true,
			wantSource: SourceCallback,
		},
		{
			name: "secret regular",
			cred: NewSecret(testSecret), mode: ModeRegular,
			wantParams: []string{ParamClientSecret},
			wantSource: SourceStatic,
		},
		{
			name: "secret mtls",
			cred: NewSecret(testSecret), mode: ModeMTLS,
			wantCode: CodeSecretMTLS,
		},
		{
			name: "signed assertion regular",
			cred: NewSignedAssertion(testAssertion), mode: ModeRegular,
			wantParams:    []string{ParamClientAssertion, ParamClientAssertionType},
			wantAssertion: AssertionTypeJWTBearer,
			wantSource:    SourceStatic,
		},
		{
			name: "signed assertion mtls",
			cred: NewSignedAssertion(testAssertion), mode: ModeMTLS,
			wantCode: CodeAssertionWithoutCertificate,
		},
		{
			name: "callback with binding cert regular",
			cred: callbackWithCert, mode: ModeRegular,
			wantCode: CodeInvalidCredentialMaterial,
		},
		{
			name: "callback with binding cert mtls",
			cred: callbackWithCert, mode: ModeMTLS,
			wantParams:    []string{ParamClientAssertion, ParamClientAssertionType},
			wantAssertion: AssertionTypeJWTPoP,
			wantCert:      true,
			wantSource:    SourceCallback,
		},
		{
			name: "callback without binding cert regular",
			cred: callbackWithoutCert, mode: ModeRegular,
			wantParams:    []string{ParamClientAssertion, ParamClientAssertionType},
			wantAssertion: AssertionTypeJWTBearer,
			wantSource:    SourceCallback,
		},
		{
			name: "callback without binding cert mtls",
			cred: callbackWithoutCert, mode: ModeMTLS,
			wantCode: CodeMTLSCertificateNotProvided,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.cred)
			material, err := r.Resolve(context.Background(), testContext(tt.mode))

			if tt.wantCode != "" {
				var ce *ClientError
				require.ErrorAs(t, err, &ce)
				require.Equal(t, tt.wantCode, ce.Code)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, material.TokenRequestParameters, "parameters must never be nil")
			require.Len(t, material.TokenRequestParameters, len(tt.wantParams))
			for _, p := range tt.wantParams {
				require.Contains(t, material.TokenRequestParameters, p)
			}
			if tt.wantAssertion != "" {
				require.Equal(t, tt.wantAssertion, material.TokenRequestParameters[ParamClientAssertionType])
				require.NotEmpty(t, material.TokenRequestParameters[ParamClientAssertion])
			}
			if tt.wantCert {
				require.NotNil(t, material.ResolvedCertificate)
			} else {
				require.Nil(t, material.ResolvedCertificate)
			}
			require.Equal(t, tt.wantSource, material.Metadata.Source)

			// Exactly one of secret / assertion, never both.
			_, hasSecret := material.TokenRequestParameters[ParamClientSecret]
			_, hasAssertion := material.TokenRequestParameters[ParamClientAssertion]
			require.False(t, hasSecret && hasAssertion)
		})
	}
}

func TestSecretMTLSError_NamesTheProblem(t *testing.T) {
	r := NewResolver(NewSecret(testSecret))
	_, err := r.Resolve(context.Background(), testContext(ModeMTLS))

	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	require.Contains(t, ce.Error(), "mTLS")
	require.NotContains(t, ce.Error(), testSecret, "error must not leak the secret")
}

func TestCallbackWithCertRegular_MentionsTokenBindingCertificate(t *testing.T) {
	cert := testCert(t)
	cred := NewAssertionCallback(func(context.Context, SignedAssertionOptions) (SignedAssertion, error) {
		return SignedAssertion{Assertion: testAssertion, TokenBindingCertificate: cert}, nil
	})

	_, err := NewResolver(cred).Resolve(context.Background(), testContext(ModeRegular))
	require.ErrorContains(t, err, "TokenBindingCertificate")
	require.ErrorContains(t, err, "mTLS")
}
