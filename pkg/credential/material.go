package credential

import "time"

// OAuth2 token request parameter names and assertion type URNs.
const (
	ParamClientSecret        = "client_secret"
	ParamClientAssertion     = "client_assertion"
	ParamClientAssertionType = "client_assertion_type"

	AssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	AssertionTypeJWTPoP    = "urn:ietf:params:oauth:client-assertion-type:jwt-pop"
)

// Source records where the material came from. Telemetry only; not
// security relevant.
type Source string

const (
	SourceStatic   Source = "static"
	SourceCallback Source = "callback"
)

// Metadata describes one resolution for diagnostics.
type Metadata struct {
	CredentialKind string
	Source         Source
	MTLSRequested  bool
	ResolutionTime time.Duration
	CorrelationID  string
}

// Material is the wire-level authentication output of one resolution
// call, produced fresh every time.
//
// Invariant: TokenRequestParameters is never nil (it may be empty on the
// certificate-only mTLS path), and it holds exactly one of a client
// secret, a client assertion with its type, or neither when a binding
// certificate alone authenticates the request.
type Material struct {
	TokenRequestParameters map[string]string
	ResolvedCertificate    *Certificate
	Metadata               Metadata
}

// validate enforces the §matrix invariants on resolved material before it
// reaches the caller.
func (m Material) validate(mode AuthMode) error {
	if m.TokenRequestParameters == nil {
		return clientErr(CodeInvalidCredentialMaterial, "token request parameters must not be nil")
	}

	_, hasSecret := m.TokenRequestParameters[ParamClientSecret]
	_, hasAssertion := m.TokenRequestParameters[ParamClientAssertion]
	_, hasAssertionType := m.TokenRequestParameters[ParamClientAssertionType]

	if hasSecret && hasAssertion {
		return clientErr(CodeInvalidCredentialMaterial, "client secret and client assertion are mutually exclusive")
	}
	if hasAssertion != hasAssertionType {
		return clientErr(CodeInvalidCredentialMaterial, "client assertion requires a matching assertion type parameter")
	}
	if mode == ModeMTLS && m.ResolvedCertificate == nil {
		return clientErr(CodeMTLSCertificateNotProvided,
			"mTLS proof-of-possession requires a TokenBindingCertificate and none was resolved")
	}
	return nil
}
