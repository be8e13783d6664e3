package bindingcert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/identicore/identicore/pkg/credential"
)

type fakeStore struct {
	cert *credential.Certificate
	err  error
}

func (s *fakeStore) Lookup(context.Context) (*credential.Certificate, error) {
	return s.cert, s.err
}

func storedCert(t *testing.T) *credential.Certificate {
	t.Helper()
	cert, err := generateSelfSigned("platform-backed", time.Now(), Validity)
	require.NoError(t, err)
	return cert
}

func TestGetOrCreate_StableHandleAcrossCalls(t *testing.T) {
	m := NewManager("identicore-binding")

	first, err := m.GetOrCreate(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := m.GetOrCreate(context.Background(), false)
	require.NoError(t, err)
	require.Same(t, first, second, "no redundant regeneration")
}

func TestGetOrCreate_ForceRegeneratesEphemeral(t *testing.T) {
	m := NewManager("identicore-binding")

	events := 0
	m.Subscribe(func(c *credential.Certificate) {
		events++
		require.NotNil(t, c)
	})

	first, err := m.GetOrCreate(context.Background(), false)
	require.NoError(t, err)
	require.Zero(t, events, "initial creation is not a renewal")

	second, err := m.GetOrCreate(context.Background(), true)
	require.NoError(t, err)
	require.NotSame(t, first, second)
	require.Equal(t, 1, events, "exactly one renewal event per regeneration")
}

func TestGetOrCreate_RenewsInsideThreshold(t *testing.T) {
	now := time.Now()
	current := now
	m := NewManager("identicore-binding", WithClock(func() time.Time { return current }))

	first, err := m.GetOrCreate(context.Background(), false)
	require.NoError(t, err)

	// Just outside the renewal window: handle stays.
	current = now.Add(Validity - RenewalThreshold - time.Hour)
	same, err := m.GetOrCreate(context.Background(), false)
	require.NoError(t, err)
	require.Same(t, first, same)

	// Inside the window: handle is replaced.
	current = now.Add(Validity - RenewalThreshold + time.Hour)
	renewed, err := m.GetOrCreate(context.Background(), false)
	require.NoError(t, err)
	require.NotSame(t, first, renewed)
	require.True(t, renewed.Leaf.NotAfter.After(first.Leaf.NotAfter))
}

func TestGetOrCreate_PlatformBackedNeverRenews(t *testing.T) {
	platform := storedCert(t)
	m := NewManager("identicore-binding", WithStore(&fakeStore{cert: platform}))

	events := 0
	m.Subscribe(func(*credential.Certificate) { events++ })

	got, err := m.GetOrCreate(context.Background(), false)
	require.NoError(t, err)
	require.Same(t, platform, got)

	// force is ignored for platform-backed certificates.
	again, err := m.GetOrCreate(context.Background(), true)
	require.NoError(t, err)
	require.Same(t, platform, again)
	require.Zero(t, events)
}

func TestGetOrCreate_StoreMissFallsBackToEphemeral(t *testing.T) {
	m := NewManager("identicore-binding", WithStore(&fakeStore{}))

	got, err := m.GetOrCreate(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "identicore-binding", got.Leaf.Subject.CommonName)

	// Ephemeral despite having a store: force renews.
	renewed, err := m.GetOrCreate(context.Background(), true)
	require.NoError(t, err)
	require.NotSame(t, got, renewed)
}

func TestGetOrCreate_StoreErrorPropagates(t *testing.T) {
	cause := errors.New("keychain locked")
	m := NewManager("identicore-binding", WithStore(&fakeStore{err: cause}))

	_, err := m.GetOrCreate(context.Background(), false)
	require.ErrorIs(t, err, cause)
	require.Nil(t, m.Current())
}

func TestGetOrCreate_ConcurrentFirstUse(t *testing.T) {
	m := NewManager("identicore-binding")

	const goroutines = 16
	certs := make([]*credential.Certificate, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			cert, err := m.GetOrCreate(context.Background(), false)
			require.NoError(t, err)
			certs[i] = cert
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		require.Same(t, certs[0], certs[i], "all callers share one handle")
	}
}

func TestEphemeralCertificateShape(t *testing.T) {
	m := NewManager("identicore-binding")
	cert, err := m.GetOrCreate(context.Background(), false)
	require.NoError(t, err)

	lifetime := cert.Leaf.NotAfter.Sub(time.Now())
	require.InDelta(t, Validity.Hours(), lifetime.Hours(), 1, "90 day validity window")
	require.NotNil(t, cert.PrivateKey)
	require.NotEmpty(t, cert.ThumbprintSHA256())
}
