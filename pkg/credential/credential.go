// Package credential resolves a configured confidential-client credential
// into the wire-level authentication material for one token request. The
// set of credential kinds is closed: each kind supports a fixed set of
// authentication modes and resolving an unsupported combination is a hard
// typed error, never a degraded fallback.
package credential

import (
	"context"
	"time"
)

// Credential is one of the closed set of client credential kinds. The
// unexported resolve method keeps the set closed so the mode matrix stays
// exhaustively checkable.
type Credential interface {
	// Kind names the credential for metadata and error messages.
	Kind() string

	resolve(ctx context.Context, rc ResolutionContext, signer Signer, now time.Time) (Material, error)
}

// SignedAssertionOptions is handed to an assertion callback so it can
// scope the assertion it mints.
type SignedAssertionOptions struct {
	ClientID      string
	TokenEndpoint string
	// TokenBindingRequired tells the callback the request is in mTLS mode
	// and the result must carry a binding certificate.
	TokenBindingRequired bool
}

// SignedAssertion is an assertion callback's result. The binding
// certificate is only legal in mTLS mode.
type SignedAssertion struct {
	Assertion               string
	TokenBindingCertificate *Certificate
}

// AssertionCallback supplies a client assertion on demand. Invoked at
// most once per resolution; it may be slow or side-effecting, and errors
// are not retried here.
type AssertionCallback func(ctx context.Context, opts SignedAssertionOptions) (SignedAssertion, error)

// CertificateProvider supplies the signing/binding certificate on demand.
type CertificateProvider func(ctx context.Context) (*Certificate, error)

// --- secret ---

type secretCredential struct {
	secret string
}

// NewSecret builds a shared-secret credential. Secrets only work in
// regular mode; mTLS proof-of-possession has nothing to bind.
func NewSecret(secret string) Credential {
	return &secretCredential{secret: secret}
}

func (c *secretCredential) Kind() string { return "secret" }

func (c *secretCredential) resolve(_ context.Context, rc ResolutionContext, _ Signer, _ time.Time) (Material, error) {
	if rc.Mode == ModeMTLS {
		return Material{}, clientErr(CodeSecretMTLS,
			"secret credential cannot be used in mTLS mode; use a certificate or an assertion callback with a TokenBindingCertificate")
	}
	return Material{
		TokenRequestParameters: map[string]string{ParamClientSecret: c.secret},
		Metadata:               Metadata{CredentialKind: c.Kind(), Source: SourceStatic},
	}, nil
}

// --- certificate ---

type certificateCredential struct {
	cert     *Certificate        // static, may be nil when provider is set
	provider CertificateProvider // may be nil when cert is set
	sendX5C  bool
}

// CertificateOption tweaks a certificate credential.
type CertificateOption func(*certificateCredential)

// WithX5C includes the leaf certificate chain in the assertion header,
// enabling subject-name/issuer authentication on the service side.
func WithX5C() CertificateOption {
	return func(c *certificateCredential) { c.sendX5C = true }
}

// NewCertificateCredential builds a credential from a static certificate.
// Regular mode signs a JWT client assertion with it; mTLS mode returns it
// for TLS binding with no body parameters.
func NewCertificateCredential(cert *Certificate, opts ...CertificateOption) Credential {
	c := &certificateCredential{cert: cert}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewCertificateFromProvider builds a certificate credential whose
// certificate is fetched from a callback at resolution time, e.g. from a
// key vault or the binding-certificate manager.
func NewCertificateFromProvider(provider CertificateProvider, opts ...CertificateOption) Credential {
	c := &certificateCredential{provider: provider}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *certificateCredential) Kind() string { return "certificate" }

func (c *certificateCredential) resolve(ctx context.Context, rc ResolutionContext, signer Signer, now time.Time) (Material, error) {
	cert := c.cert
	source := SourceStatic
	if cert == nil {
		if c.provider == nil {
			return Material{}, clientErr(CodeInvalidClientAssertion, "certificate credential has neither a certificate nor a provider")
		}
		source = SourceCallback
		var err error
		cert, err = c.provider(ctx)
		if err != nil {
			return Material{}, wrapErr(CodeInvalidClientAssertion, err, "certificate provider failed for client %s", rc.ClientID)
		}
		if cert == nil {
			return Material{}, clientErr(CodeInvalidClientAssertion, "certificate provider returned a nil certificate for client %s", rc.ClientID)
		}
	}
	if cert.PrivateKey == nil {
		return Material{}, clientErr(CodeInvalidClientAssertion, "certificate for client %s is missing its private key", rc.ClientID)
	}

	meta := Metadata{CredentialKind: c.Kind(), Source: source, MTLSRequested: rc.Mode == ModeMTLS}

	if rc.Mode == ModeMTLS {
		// Certificate-only path: the TLS layer authenticates, the body
		// carries no credential parameters.
		return Material{
			TokenRequestParameters: map[string]string{},
			ResolvedCertificate:    cert,
			Metadata:               meta,
		}, nil
	}

	assertion, err := buildClientAssertion(signer, cert, rc, c.sendX5C, now)
	if err != nil {
		return Material{}, err
	}
	return Material{
		TokenRequestParameters: map[string]string{
			ParamClientAssertionType: AssertionTypeJWTBearer,
			ParamClientAssertion:     assertion,
		},
		ResolvedCertificate: cert,
		Metadata:            meta,
	}, nil
}

// --- precomputed signed assertion ---

type signedAssertionCredential struct {
	assertion string
}

// NewSignedAssertion wraps a caller-minted client assertion JWT
// (jwt-bearer). It carries no certificate, so mTLS mode is unsupported.
func NewSignedAssertion(assertion string) Credential {
	return &signedAssertionCredential{assertion: assertion}
}

func (c *signedAssertionCredential) Kind() string { return "signed_assertion" }

func (c *signedAssertionCredential) resolve(_ context.Context, rc ResolutionContext, _ Signer, _ time.Time) (Material, error) {
	if rc.Mode == ModeMTLS {
		return Material{}, clientErr(CodeAssertionWithoutCertificate,
			"signed-assertion credential has no certificate for mTLS mode; use an assertion callback that returns a TokenBindingCertificate")
	}
	if c.assertion == "" {
		return Material{}, clientErr(CodeInvalidClientAssertion, "signed-assertion credential holds an empty assertion")
	}
	return Material{
		TokenRequestParameters: map[string]string{
			ParamClientAssertionType: AssertionTypeJWTBearer,
			ParamClientAssertion:     c.assertion,
		},
		Metadata: Metadata{CredentialKind: c.Kind(), Source: SourceStatic},
	}, nil
}

// --- assertion callback ---

type assertionCallbackCredential struct {
	callback AssertionCallback
}

// NewAssertionCallback builds a delegate-based credential. In regular
// mode the callback must return a bare assertion (jwt-bearer); in mTLS
// mode it must also return the token-binding certificate and the
// assertion is presented as jwt-pop.
func NewAssertionCallback(callback AssertionCallback) Credential {
	return &assertionCallbackCredential{callback: callback}
}

func (c *assertionCallbackCredential) Kind() string { return "assertion_callback" }

func (c *assertionCallbackCredential) resolve(ctx context.Context, rc ResolutionContext, _ Signer, _ time.Time) (Material, error) {
	if c.callback == nil {
		return Material{}, clientErr(CodeInvalidClientAssertion, "assertion callback credential has a nil callback")
	}

	result, err := c.callback(ctx, SignedAssertionOptions{
		ClientID:             rc.ClientID,
		TokenEndpoint:        rc.TokenEndpoint,
		TokenBindingRequired: rc.Mode == ModeMTLS,
	})
	if err != nil {
		return Material{}, wrapErr(CodeInvalidClientAssertion, err, "assertion callback failed for client %s", rc.ClientID)
	}
	if result.Assertion == "" {
		return Material{}, clientErr(CodeInvalidClientAssertion, "assertion callback returned an empty assertion for client %s", rc.ClientID)
	}

	meta := Metadata{CredentialKind: c.Kind(), Source: SourceCallback, MTLSRequested: rc.Mode == ModeMTLS}

	if rc.Mode == ModeRegular {
		if result.TokenBindingCertificate != nil {
			return Material{}, clientErr(CodeInvalidCredentialMaterial,
				"assertion callback returned a TokenBindingCertificate outside mTLS mode; certificate-bearing assertions require mTLS")
		}
		return Material{
			TokenRequestParameters: map[string]string{
				ParamClientAssertionType: AssertionTypeJWTBearer,
				ParamClientAssertion:     result.Assertion,
			},
			Metadata: meta,
		}, nil
	}

	if result.TokenBindingCertificate == nil {
		return Material{}, clientErr(CodeMTLSCertificateNotProvided,
			"mTLS mode requires the assertion callback to supply a TokenBindingCertificate and it returned none")
	}
	return Material{
		TokenRequestParameters: map[string]string{
			ParamClientAssertionType: AssertionTypeJWTPoP,
			ParamClientAssertion:     result.Assertion,
		},
		ResolvedCertificate: result.TokenBindingCertificate,
		Metadata:            meta,
	}, nil
}
