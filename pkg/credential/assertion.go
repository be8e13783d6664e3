package credential

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/identicore/identicore/pkg/idx"
)

// assertionValidity is the nbf→exp window of a client assertion. Kept
// short: the assertion is minted immediately before the token request.
const assertionValidity = 10 * time.Minute

// Signer produces a detached JWS signature over the signing input
// (base64url(header) || "." || base64url(payload)) using the
// certificate's private key. The library does not implement signature
// algorithms itself; RS256/ES256 are delegated here.
type Signer interface {
	// Alg returns the JWS algorithm name for the certificate's key type.
	Alg(cert *Certificate) (string, error)
	// Sign returns the raw signature bytes for the signing input.
	Sign(signingInput []byte, cert *Certificate) ([]byte, error)
}

// jwtSigner is the default Signer, backed by golang-jwt's signing
// methods. RSA keys sign RS256, ECDSA keys sign ES256.
type jwtSigner struct{}

// NewJWTSigner returns the default in-process Signer.
func NewJWTSigner() Signer { return jwtSigner{} }

func (jwtSigner) Alg(cert *Certificate) (string, error) {
	return algForKey(cert)
}

func algForKey(cert *Certificate) (string, error) {
	switch cert.PrivateKey.(type) {
	case *rsa.PrivateKey:
		return "RS256", nil
	case *ecdsa.PrivateKey:
		return "ES256", nil
	default:
		return "", errNoPrivateKey
	}
}

func (jwtSigner) Sign(signingInput []byte, cert *Certificate) ([]byte, error) {
	alg, err := algForKey(cert)
	if err != nil {
		return nil, err
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, fmt.Errorf("credential: no signing method for %q", alg)
	}
	return method.Sign(string(signingInput), cert.PrivateKey)
}

// buildClientAssertion mints the canonical client-assertion JWT: aud is
// the token endpoint, iss and sub are the client id, jti is fresh per
// call, and caller-supplied extra claims win on collision.
func buildClientAssertion(signer Signer, cert *Certificate, rc ResolutionContext, sendX5C bool, now time.Time) (string, error) {
	alg, err := signer.Alg(cert)
	if err != nil {
		return "", wrapErr(CodeCryptoError, err, "determining signing algorithm for client %s", rc.ClientID)
	}

	header := map[string]any{
		"alg":      alg,
		"typ":      "JWT",
		"x5t":      cert.ThumbprintSHA1(),
		"x5t#S256": cert.ThumbprintSHA256(),
	}
	if sendX5C {
		header["x5c"] = []string{base64.StdEncoding.EncodeToString(cert.Leaf.Raw)}
	}

	claims := map[string]any{
		"aud": rc.TokenEndpoint,
		"iss": rc.ClientID,
		"sub": rc.ClientID,
		"jti": idx.New().String(),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(assertionValidity).Unix(),
	}
	for k, v := range rc.ExtraAssertionClaims {
		claims[k] = v
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", wrapErr(CodeCryptoError, err, "encoding assertion header")
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", wrapErr(CodeCryptoError, err, "encoding assertion claims")
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON)

	sig, err := signer.Sign([]byte(signingInput), cert)
	if err != nil {
		return "", wrapErr(CodeCryptoError, err, "signing client assertion for client %s", rc.ClientID)
	}

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}
