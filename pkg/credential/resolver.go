package credential

import (
	"context"
	"log/slog"
	"time"

	"github.com/identicore/identicore/pkg/authority"
	"github.com/identicore/identicore/pkg/idx"
	"github.com/identicore/identicore/pkg/slogx"
)

// Resolver turns a configured Credential into validated Material. It owns
// the fail-fast checks that must run before the credential is invoked and
// the matrix validation that runs after, so misconfiguration surfaces as
// a typed error instead of a malformed token request.
type Resolver struct {
	cred   Credential
	signer Signer
	logger *slog.Logger
	now    func() time.Time
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithSigner replaces the default in-process signer, e.g. with an HSM or
// key-vault backed implementation.
func WithSigner(s Signer) ResolverOption {
	return func(r *Resolver) { r.signer = s }
}

// WithLogger attaches a logger; resolution logs carry the correlation id
// and never the secret material.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver builds a resolver for one configured credential.
func NewResolver(cred Credential, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		cred:   cred,
		signer: NewJWTSigner(),
		logger: slogx.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve produces the authentication material for one logical token
// request. The configured credential is invoked exactly once; callers
// must not call Resolve twice for the same request.
func (r *Resolver) Resolve(ctx context.Context, rc ResolutionContext) (Material, error) {
	if rc.CorrelationID == "" {
		rc.CorrelationID = idx.New().String()
	}

	// Fail fast before touching the credential: AAD mTLS PoP is regional
	// and an unconfigured region can only ever produce a server error
	// later.
	if rc.Mode == ModeMTLS && rc.AuthorityType == authority.AAD && rc.Region == "" {
		return Material{}, clientErr(CodeRegionRequired,
			"mTLS proof-of-possession against an AAD authority requires a configured Azure region")
	}

	started := r.now()
	material, err := r.cred.resolve(ctx, rc, r.signer, started)
	if err != nil {
		r.logger.WarnContext(ctx, "credential resolution failed",
			"kind", r.cred.Kind(),
			"mode", rc.Mode.String(),
			"correlation_id", rc.CorrelationID,
			"error", err,
		)
		return Material{}, err
	}

	if err := material.validate(rc.Mode); err != nil {
		return Material{}, err
	}

	material.Metadata.ResolutionTime = r.now().Sub(started)
	material.Metadata.CorrelationID = rc.CorrelationID

	r.logger.DebugContext(ctx, "credential resolved",
		"kind", material.Metadata.CredentialKind,
		"source", string(material.Metadata.Source),
		"mode", rc.Mode.String(),
		"correlation_id", rc.CorrelationID,
		"duration", material.Metadata.ResolutionTime,
	)
	return material, nil
}
