package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/identicore/identicore/pkg/authority"
)

func TestResolve_RegionRequiredFailsBeforeCredential(t *testing.T) {
	invocations := 0
	cred := NewAssertionCallback(func(context.Context, SignedAssertionOptions) (SignedAssertion, error) {
		invocations++
		return SignedAssertion{Assertion: testAssertion, TokenBindingCertificate: testCert(t)}, nil
	})

	rc := testContext(ModeMTLS)
	rc.Region = ""

	_, err := NewResolver(cred).Resolve(context.Background(), rc)

	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, CodeRegionRequired, ce.Code)
	require.Contains(t, ce.Error(), "region")
	require.Zero(t, invocations, "credential must not be invoked when the region check fails")
}

func TestResolve_NonAADAuthority_NoRegionNeeded(t *testing.T) {
	cert := testCert(t)
	cred := NewAssertionCallback(func(context.Context, SignedAssertionOptions) (SignedAssertion, error) {
		return SignedAssertion{Assertion: testAssertion, TokenBindingCertificate: cert}, nil
	})

	rc := testContext(ModeMTLS)
	rc.AuthorityType = authority.Generic
	rc.Region = ""

	material, err := NewResolver(cred).Resolve(context.Background(), rc)
	require.NoError(t, err)
	require.NotNil(t, material.ResolvedCertificate)
}

func TestResolve_CredentialInvokedExactlyOnce(t *testing.T) {
	invocations := 0
	cred := NewAssertionCallback(func(context.Context, SignedAssertionOptions) (SignedAssertion, error) {
		invocations++
		return SignedAssertion{Assertion: testAssertion}, nil
	})

	_, err := NewResolver(cred).Resolve(context.Background(), testContext(ModeRegular))
	require.NoError(t, err)
	require.Equal(t, 1, invocations)
}

func TestResolve_CallbackErrorWrapped(t *testing.T) {
	cause := errors.New("vault unreachable")
	cred := NewAssertionCallback(func(context.Context, SignedAssertionOptions) (SignedAssertion, error) {
		return SignedAssertion{}, cause
	})

	_, err := NewResolver(cred).Resolve(context.Background(), testContext(ModeRegular))

	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, CodeInvalidClientAssertion, ce.Code)
	require.ErrorIs(t, err, cause, "inner cause must be preserved")
	require.Contains(t, ce.Error(), testClientID, "error should identify the failing client")
}

func TestResolve_EmptyAssertionFromCallback(t *testing.T) {
	cred := NewAssertionCallback(func(context.Context, SignedAssertionOptions) (SignedAssertion, error) {
		return SignedAssertion{}, nil
	})

	_, err := NewResolver(cred).Resolve(context.Background(), testContext(ModeRegular))

	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, CodeInvalidClientAssertion, ce.Code)
}

func TestResolve_NilCertificateFromProvider(t *testing.T) {
	cred := NewCertificateFromProvider(func(context.Context) (*Certificate, error) {
		return nil, nil
	})

	_, err := NewResolver(cred).Resolve(context.Background(), testContext(ModeRegular))

	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, CodeInvalidClientAssertion, ce.Code)
	require.Contains(t, ce.Error(), "nil certificate")
}

func TestResolve_CallbackSeesBindingRequirement(t *testing.T) {
	cert := testCert(t)
	var sawRequired bool
	cred := NewAssertionCallback(func(_ context.Context, opts SignedAssertionOptions) (SignedAssertion, error) {
		sawRequired = opts.TokenBindingRequired
		require.Equal(t, testClientID, opts.ClientID)
		require.Equal(t, testTokenEndpoint, opts.TokenEndpoint)
		return SignedAssertion{Assertion: testAssertion, TokenBindingCertificate: cert}, nil
	})

	_, err := NewResolver(cred).Resolve(context.Background(), testContext(ModeMTLS))
	require.NoError(t, err)
	require.True(t, sawRequired)
}

func TestResolve_MetadataPopulated(t *testing.T) {
	r := NewResolver(NewSecret(testSecret))
	material, err := r.Resolve(context.Background(), testContext(ModeRegular))
	require.NoError(t, err)
	require.Equal(t, "secret", material.Metadata.CredentialKind)
	require.NotEmpty(t, material.Metadata.CorrelationID)
	require.False(t, material.Metadata.MTLSRequested)
}

func TestResolve_SuppliedCorrelationIDKept(t *testing.T) {
	rc := testContext(ModeRegular)
	rc.CorrelationID = "corr-123"

	material, err := NewResolver(NewSecret(testSecret)).Resolve(context.Background(), rc)
	require.NoError(t, err)
	require.Equal(t, "corr-123", material.Metadata.CorrelationID)
}
