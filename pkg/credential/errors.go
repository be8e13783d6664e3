package credential

import "fmt"

// Stable error codes for programmatic handling. Callers branch on
// ClientError.Code, not on message text; these strings never change.
const (
	// CodeSecretMTLS: a shared-secret credential was asked to resolve in
	// mTLS proof-of-possession mode.
	CodeSecretMTLS = "secret_credential_mtls"

	// CodeAssertionWithoutCertificate: a precomputed signed assertion has
	// no certificate to bind, so it cannot serve mTLS mode.
	CodeAssertionWithoutCertificate = "assertion_without_certificate"

	// CodeMTLSCertificateNotProvided: mTLS mode requires a token-binding
	// certificate and none was available in the resolved material.
	CodeMTLSCertificateNotProvided = "mtls_certificate_not_provided"

	// CodeRegionRequired: AAD authorities require a configured region for
	// mTLS proof-of-possession; checked before the credential is invoked.
	CodeRegionRequired = "region_required_for_mtls_pop"

	// CodeInvalidClientAssertion: an assertion delegate or certificate
	// provider returned nothing usable (empty assertion, nil certificate,
	// certificate without a private key).
	CodeInvalidClientAssertion = "invalid_client_assertion"

	// CodeInvalidCredentialMaterial: resolved material violates the
	// credential/mode matrix (e.g. a binding certificate outside mTLS
	// mode, or secret and assertion together).
	CodeInvalidCredentialMaterial = "invalid_credential_material"

	// CodeCryptoError: signing failed; the cause is preserved via
	// errors.Unwrap.
	CodeCryptoError = "crypto_error"
)

// ClientError is a non-retryable configuration or resolution failure.
// Code is stable for caller branching; Message names the offending
// credential and mode without echoing secret material.
type ClientError struct {
	Code    string
	Message string
	cause   error
}

func (e *ClientError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("credential: %s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("credential: %s: %s", e.Code, e.Message)
}

func (e *ClientError) Unwrap() error { return e.cause }

func clientErr(code, format string, args ...any) *ClientError {
	return &ClientError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapErr(code string, cause error, format string, args ...any) *ClientError {
	return &ClientError{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}
