package credential

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // x5t is defined over SHA-1 by RFC 7515
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
)

// Certificate pairs a parsed X.509 leaf with its private key. It is the
// handle passed around for both assertion signing and TLS binding; once
// constructed it is never mutated, so it is safe to share across
// goroutines.
type Certificate struct {
	Leaf       *x509.Certificate
	PrivateKey crypto.PrivateKey
}

var errNoPrivateKey = errors.New("credential: certificate has no usable private key")

// NewCertificate validates that the leaf and key are present and that the
// key type is one we can sign with (RSA or ECDSA).
func NewCertificate(leaf *x509.Certificate, key crypto.PrivateKey) (*Certificate, error) {
	if leaf == nil {
		return nil, errors.New("credential: nil certificate leaf")
	}
	switch key.(type) {
	case *rsa.PrivateKey, *ecdsa.PrivateKey:
	default:
		return nil, errNoPrivateKey
	}
	return &Certificate{Leaf: leaf, PrivateKey: key}, nil
}

// ThumbprintSHA1 returns the base64url SHA-1 thumbprint of the DER leaf,
// used for the JWS "x5t" header.
func (c *Certificate) ThumbprintSHA1() string {
	sum := sha1.Sum(c.Leaf.Raw) //nolint:gosec
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ThumbprintSHA256 returns the base64url SHA-256 thumbprint of the DER
// leaf, used for the JWS "x5t#S256" header.
func (c *Certificate) ThumbprintSHA256() string {
	sum := sha256.Sum256(c.Leaf.Raw)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
