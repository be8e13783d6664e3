// Package bindingcert manages the mTLS token-binding certificate for a
// process. A platform certificate store, when available, wins and is
// treated as externally managed; otherwise the manager generates an
// ephemeral self-signed certificate and renews it as expiry approaches.
package bindingcert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/identicore/identicore/pkg/credential"
	"github.com/identicore/identicore/pkg/slogx"
)

const (
	// Validity is the lifetime of an ephemeral binding certificate.
	Validity = 90 * 24 * time.Hour
	// RenewalThreshold is how close to expiry an ephemeral certificate
	// may get before GetOrCreate replaces it.
	RenewalThreshold = 5 * 24 * time.Hour
)

// Store looks up an externally provisioned binding certificate, e.g. from
// the OS certificate store. Lookup returns (nil, nil) when no certificate
// is installed; constrained platforms pass a nil Store to Manager and
// always run on ephemeral certificates.
type Store interface {
	Lookup(ctx context.Context) (*credential.Certificate, error)
}

// Manager owns the process-wide binding certificate. One mutex serializes
// the check-then-create path; handles returned to callers are immutable
// snapshots, renewal swaps the shared reference rather than mutating it.
type Manager struct {
	store   Store
	subject string
	logger  *slog.Logger
	now     func() time.Time

	mu             sync.Mutex
	cert           *credential.Certificate
	platformBacked bool
	subscribers    []func(*credential.Certificate)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithStore attaches a platform certificate store consulted on first use.
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithLogger attaches a logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock fixes the time source; tests use it to step past the renewal
// threshold.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a Manager. subject becomes the CN of generated
// ephemeral certificates.
func NewManager(subject string, opts ...Option) *Manager {
	m := &Manager{
		subject: subject,
		logger:  slogx.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers a callback invoked synchronously, under no lock
// ordering guarantees with respect to other subscribers, every time an
// ephemeral certificate is regenerated. Transports use this to re-bind
// their TLS client certificate. Platform-backed certificates never renew,
// so subscribers never fire for them.
func (m *Manager) Subscribe(fn func(*credential.Certificate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// GetOrCreate returns the current binding certificate, creating or
// renewing it as needed. force regenerates an ephemeral certificate
// immediately; it is ignored for platform-backed certificates, which this
// manager never renews. After the first successful call, callers never
// observe a nil certificate.
func (m *Manager) GetOrCreate(ctx context.Context, force bool) (*credential.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cert == nil {
		return m.initialize(ctx)
	}

	if m.platformBacked {
		// Externally managed; renewal belongs to whoever installed it.
		return m.cert, nil
	}

	if force || m.withinRenewalWindow() {
		return m.renew()
	}
	return m.cert, nil
}

// Current returns the cached certificate without creating one; nil before
// the first GetOrCreate.
func (m *Manager) Current() *credential.Certificate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cert
}

func (m *Manager) initialize(ctx context.Context) (*credential.Certificate, error) {
	if m.store != nil {
		cert, err := m.store.Lookup(ctx)
		if err != nil {
			return nil, err
		}
		if cert != nil {
			m.cert = cert
			m.platformBacked = true
			m.logger.InfoContext(ctx, "using platform-store binding certificate",
				"subject", cert.Leaf.Subject.CommonName,
				"not_after", cert.Leaf.NotAfter,
			)
			return m.cert, nil
		}
	}

	cert, err := generateSelfSigned(m.subject, m.now(), Validity)
	if err != nil {
		return nil, err
	}
	m.cert = cert
	m.logger.InfoContext(ctx, "generated ephemeral binding certificate",
		"subject", m.subject,
		"not_after", cert.Leaf.NotAfter,
	)
	return m.cert, nil
}

func (m *Manager) withinRenewalWindow() bool {
	return m.now().Add(RenewalThreshold).After(m.cert.Leaf.NotAfter)
}

// renew replaces the ephemeral certificate and notifies subscribers
// synchronously, still under the manager lock, so no caller can observe
// the new handle before dependents were told to re-bind.
func (m *Manager) renew() (*credential.Certificate, error) {
	cert, err := generateSelfSigned(m.subject, m.now(), Validity)
	if err != nil {
		return nil, err
	}
	m.cert = cert
	m.logger.Info("renewed ephemeral binding certificate",
		"subject", m.subject,
		"not_after", cert.Leaf.NotAfter,
	)
	for _, fn := range m.subscribers {
		fn(cert)
	}
	return cert, nil
}
