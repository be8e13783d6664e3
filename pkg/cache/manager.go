package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/identicore/identicore/pkg/authority"
	"github.com/identicore/identicore/pkg/cache/storage"
	"github.com/identicore/identicore/pkg/scopeset"
	"github.com/identicore/identicore/pkg/slogx"
	"github.com/identicore/identicore/pkg/throttle"
)

// ErrNoTokenResponse is returned by Write for a response carrying no
// access token.
var ErrNoTokenResponse = errors.New("cache: token response has no access token")

// ThrottledError is returned by TryRead when the outcome would send the
// caller to the network but the per-key request budget is exhausted. It
// protects the token endpoint from tight retry loops on persistent
// misses.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("cache: token requests throttled, retry after %s", e.RetryAfter)
}

// Request identifies one token lookup or write: who is asking (client),
// against what authority, for which scopes, on behalf of which account.
// HomeAccountID may be empty on Write when the token response carries
// enough identity to derive it.
type Request struct {
	HomeAccountID string
	Authority     authority.Authority
	ClientID      string
	Scopes        []string
}

// Manager matches token requests against the persisted cache and ingests
// token responses into it.
type Manager struct {
	worker   *storage.Worker
	metadata authority.MetadataProvider
	gate     *throttle.Gate
	logger   *slog.Logger
	now      func() time.Time
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithMetadata sets the alias provider used to find records written under
// an equivalent environment host. Default is the public-cloud table.
func WithMetadata(p authority.MetadataProvider) ManagerOption {
	return func(m *Manager) { m.metadata = p }
}

// WithThrottle gates miss and refresh-required outcomes per cache key.
func WithThrottle(g *throttle.Gate) ManagerOption {
	return func(m *Manager) { m.gate = g }
}

// WithLogger attaches a logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithClock fixes the time source for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a Manager over a storage worker.
func NewManager(worker *storage.Worker, opts ...ManagerOption) *Manager {
	m := &Manager{
		worker:   worker,
		metadata: authority.DefaultMetadata(),
		logger:   slogx.Discard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TryRead looks for a usable cached token. A valid access token whose
// scopes cover the request is a hit. Otherwise a refresh token for the
// account and client (the client's own first, then its family's) yields
// OutcomeRefreshRequired. Otherwise the read is a miss. Corrupt records
// are skipped as if absent.
func (m *Manager) TryRead(ctx context.Context, req Request) (ReadResult, error) {
	requested := scopeset.Normalize(req.Scopes)
	aliases := m.aliases(req.Authority.Environment)

	for _, env := range aliases {
		at, err := m.findAccessToken(ctx, req, env, requested)
		if err != nil {
			return ReadResult{}, err
		}
		if at != nil {
			result := ReadResult{Outcome: OutcomeHit, AccessToken: at}
			m.attachIdentity(ctx, req, env, &result)
			m.logger.DebugContext(ctx, "cache hit",
				"client_id", req.ClientID, "environment", env)
			return result, nil
		}
	}

	for _, env := range aliases {
		rt, err := m.findRefreshToken(ctx, req, env)
		if err != nil {
			return ReadResult{}, err
		}
		if rt != nil {
			if err := m.allowNetwork(req); err != nil {
				return ReadResult{}, err
			}
			result := ReadResult{Outcome: OutcomeRefreshRequired, RefreshToken: rt}
			m.attachIdentity(ctx, req, env, &result)
			m.logger.DebugContext(ctx, "cache miss with refresh token",
				"client_id", req.ClientID, "environment", env)
			return result, nil
		}
	}

	if err := m.allowNetwork(req); err != nil {
		return ReadResult{}, err
	}
	m.logger.DebugContext(ctx, "cache miss", "client_id", req.ClientID)
	return ReadResult{Outcome: OutcomeMiss}, nil
}

// Write ingests a token response: the access token replaces any cached
// token for the same client and realm with overlapping scopes, the
// refresh token replaces the account's previous one for this client, and
// the ID token, account, and app metadata records are upserted.
func (m *Manager) Write(ctx context.Context, resp TokenResponse, req Request) (*Account, error) {
	if resp.AccessToken == "" {
		return nil, ErrNoTokenResponse
	}

	info, err := DecodeClientInfo(resp.ClientInfo)
	if err != nil {
		return nil, err
	}
	claims, err := ParseIDClaims(resp.IDToken)
	if err != nil {
		return nil, err
	}

	home := DeriveHomeAccountID(info, claims)
	if home == "" {
		home = req.HomeAccountID
	}
	env := strings.ToLower(req.Authority.Environment)
	realm := strings.ToLower(req.Authority.Realm)
	now := m.now()

	granted := scopeset.Normalize(resp.GrantedScope)
	if len(granted) == 0 {
		granted = scopeset.Normalize(req.Scopes)
	}

	at := AccessToken{
		HomeAccountID:  home,
		Environment:    env,
		CredentialType: CredentialTypeAccessToken,
		ClientID:       req.ClientID,
		Realm:          realm,
		Target:         granted.Join(),
		Secret:         resp.AccessToken,
		CachedAt:       newUnixTime(now),
		ExpiresOn:      newUnixTime(now.Add(resp.ExpiresIn)),
		TokenType:      resp.TokenType,
	}
	if err := m.upsertAccessToken(ctx, at, granted); err != nil {
		return nil, err
	}

	if resp.RefreshToken != "" {
		rt := RefreshToken{
			HomeAccountID:  home,
			Environment:    env,
			CredentialType: CredentialTypeRefreshToken,
			ClientID:       req.ClientID,
			Secret:         resp.RefreshToken,
			FamilyID:       resp.FamilyID,
		}
		if err := m.upsertRefreshToken(ctx, rt); err != nil {
			return nil, err
		}
		meta := AppMetadata{ClientID: req.ClientID, Environment: env, FamilyID: resp.FamilyID}
		if err := m.upsertAppMetadata(ctx, meta); err != nil {
			return nil, err
		}
	}

	if resp.IDToken != "" {
		id := IDToken{
			HomeAccountID:  home,
			Environment:    env,
			CredentialType: CredentialTypeIDToken,
			ClientID:       req.ClientID,
			Realm:          realm,
			Secret:         resp.IDToken,
		}
		if err := m.upsertMember(ctx, credentialBucketPath(home, env, bucketIDToken), id.Key(), id); err != nil {
			return nil, err
		}
	}

	accountType := AccountTypeMSSTS
	if req.Authority.Type == authority.ADFS {
		accountType = AccountTypeADFS
	}
	account := Account{
		HomeAccountID:  home,
		Environment:    env,
		Realm:          realm,
		LocalAccountID: claims.LocalAccountID(),
		AuthorityType:  accountType,
		Username:       claims.Username(),
		Name:           claims.Name,
		ClientInfo:     resp.ClientInfo,
	}
	if err := m.upsertMember(ctx, credentialBucketPath(home, env, bucketAccount), account.Key(), account); err != nil {
		return nil, err
	}
	return &account, nil
}

// ForceExpire rewrites every access token for the request's client and
// account so it is already expired. Debug and test tooling only.
func (m *Manager) ForceExpire(ctx context.Context, req Request) error {
	expired := newUnixTime(m.now().Add(-time.Second))
	for _, env := range m.aliases(req.Authority.Environment) {
		path := credentialBucketPath(req.HomeAccountID, env, bucketAccessToken)
		err := m.worker.ReadModifyWriteObject(ctx, path, func(obj *storage.Object) error {
			for _, key := range obj.Keys() {
				raw, _ := obj.Get(key)
				var at AccessToken
				if json.Unmarshal(raw, &at) != nil {
					continue
				}
				if !strings.EqualFold(at.ClientID, req.ClientID) {
					continue
				}
				at.ExpiresOn = expired
				if err := obj.SetValue(key, at); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// RemoveAccount deletes the account record and every credential cached
// for it, across all environments.
func (m *Manager) RemoveAccount(ctx context.Context, homeAccountID string) error {
	return m.worker.DeleteContent(ctx, accountPrefixPath(homeAccountID))
}

// Clear empties the whole cache.
func (m *Manager) Clear(ctx context.Context) error {
	return m.worker.DeleteContent(ctx, "")
}

// ClearCredentialType deletes every record of one credential type
// (CredentialTypeAccessToken, CredentialTypeRefreshToken,
// CredentialTypeIDToken) across all accounts.
func (m *Manager) ClearCredentialType(ctx context.Context, credentialType string) error {
	var bucket string
	switch credentialType {
	case CredentialTypeAccessToken:
		bucket = bucketAccessToken
	case CredentialTypeRefreshToken:
		bucket = bucketRefreshToken
	case CredentialTypeIDToken:
		bucket = bucketIDToken
	default:
		return fmt.Errorf("cache: unknown credential type %q", credentialType)
	}

	keys, err := m.worker.List(ctx, accountsPrefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if strings.HasSuffix(key, "/"+bucket) {
			if err := m.worker.Delete(ctx, key); err != nil {
				return err
			}
		}
	}
	return nil
}

// Accounts enumerates every account record in the cache.
func (m *Manager) Accounts(ctx context.Context) ([]Account, error) {
	keys, err := m.worker.List(ctx, accountsPrefix)
	if err != nil {
		return nil, err
	}

	var accounts []Account
	for _, key := range keys {
		if !strings.HasSuffix(key, "/"+bucketAccount) {
			continue
		}
		obj, err := m.worker.ReadObject(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, member := range obj.Keys() {
			raw, _ := obj.Get(member)
			var account Account
			if json.Unmarshal(raw, &account) != nil {
				continue
			}
			accounts = append(accounts, account)
		}
	}
	return accounts, nil
}

func (m *Manager) aliases(env string) []string {
	env = strings.ToLower(env)
	if m.metadata == nil {
		return []string{env}
	}
	aliases := m.metadata.Aliases(env)
	if len(aliases) == 0 {
		return []string{env}
	}
	return aliases
}

func (m *Manager) throttleKey(req Request) string {
	return key(req.HomeAccountID, req.Authority.Environment, req.ClientID,
		req.Authority.Realm, scopeset.Normalize(req.Scopes).Join())
}

func (m *Manager) allowNetwork(req Request) error {
	if m.gate == nil {
		return nil
	}
	tkey := m.throttleKey(req)
	if m.gate.Allow(tkey) {
		return nil
	}
	return &ThrottledError{RetryAfter: m.gate.RetryAfter(tkey)}
}

// findAccessToken scans the account's token object in stored order and
// returns the first valid token whose scopes cover the request. Expired
// tokens matching the request are deleted on the way through.
func (m *Manager) findAccessToken(ctx context.Context, req Request, env string, requested scopeset.Set) (*AccessToken, error) {
	path := credentialBucketPath(req.HomeAccountID, env, bucketAccessToken)
	obj, err := m.worker.ReadObject(ctx, path)
	if err != nil {
		return nil, err
	}

	var (
		match   *AccessToken
		expired []string
	)
	for _, key := range obj.Keys() {
		raw, _ := obj.Get(key)
		var at AccessToken
		if json.Unmarshal(raw, &at) != nil {
			continue
		}
		if !strings.EqualFold(at.ClientID, req.ClientID) ||
			!strings.EqualFold(at.Realm, req.Authority.Realm) ||
			!strings.EqualFold(at.HomeAccountID, req.HomeAccountID) {
			continue
		}
		if !requested.IsSubsetOf(scopeset.Split(at.Target)) {
			continue
		}
		if !at.ValidAt(m.now()) {
			expired = append(expired, key)
			continue
		}
		match = &at
		break
	}

	if len(expired) > 0 {
		err := m.worker.ReadModifyWriteObject(ctx, path, func(obj *storage.Object) error {
			for _, key := range expired {
				obj.Delete(key)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		m.logger.DebugContext(ctx, "evicted expired access tokens",
			"count", len(expired), "client_id", req.ClientID)
	}
	return match, nil
}

// findRefreshToken prefers the client's own refresh token and falls back
// to a family token when app metadata says the client belongs to one.
func (m *Manager) findRefreshToken(ctx context.Context, req Request, env string) (*RefreshToken, error) {
	obj, err := m.worker.ReadObject(ctx, credentialBucketPath(req.HomeAccountID, env, bucketRefreshToken))
	if err != nil {
		return nil, err
	}

	var tokens []RefreshToken
	for _, key := range obj.Keys() {
		raw, _ := obj.Get(key)
		var rt RefreshToken
		if json.Unmarshal(raw, &rt) != nil {
			continue
		}
		if !strings.EqualFold(rt.HomeAccountID, req.HomeAccountID) {
			continue
		}
		tokens = append(tokens, rt)
	}

	for _, rt := range tokens {
		if strings.EqualFold(rt.ClientID, req.ClientID) {
			rt := rt
			return &rt, nil
		}
	}

	familyID, err := m.familyID(ctx, req.ClientID, env)
	if err != nil {
		return nil, err
	}
	if familyID == "" {
		return nil, nil
	}
	for _, rt := range tokens {
		if rt.FamilyID == familyID {
			rt := rt
			return &rt, nil
		}
	}
	return nil, nil
}

func (m *Manager) familyID(ctx context.Context, clientID, env string) (string, error) {
	obj, err := m.worker.ReadObject(ctx, appMetadataPath(env))
	if err != nil {
		return "", err
	}
	meta := AppMetadata{ClientID: clientID, Environment: env}
	raw, ok := obj.Get(meta.Key())
	if !ok {
		return "", nil
	}
	if json.Unmarshal(raw, &meta) != nil {
		return "", nil
	}
	return meta.FamilyID, nil
}

// attachIdentity fills in the account and ID-token records when present.
// Their absence never downgrades the outcome.
func (m *Manager) attachIdentity(ctx context.Context, req Request, env string, result *ReadResult) {
	obj, err := m.worker.ReadObject(ctx, credentialBucketPath(req.HomeAccountID, env, bucketAccount))
	if err == nil {
		account := Account{
			HomeAccountID: req.HomeAccountID,
			Environment:   env,
			Realm:         req.Authority.Realm,
		}
		if raw, ok := obj.Get(account.Key()); ok {
			if json.Unmarshal(raw, &account) == nil {
				result.Account = &account
			}
		}
	}

	obj, err = m.worker.ReadObject(ctx, credentialBucketPath(req.HomeAccountID, env, bucketIDToken))
	if err == nil {
		id := IDToken{
			HomeAccountID:  req.HomeAccountID,
			Environment:    env,
			CredentialType: CredentialTypeIDToken,
			ClientID:       req.ClientID,
			Realm:          req.Authority.Realm,
		}
		if raw, ok := obj.Get(id.Key()); ok {
			if json.Unmarshal(raw, &id) == nil {
				result.IDToken = &id
			}
		}
	}
}

// upsertAccessToken writes at, first dropping cached tokens for the same
// client and realm whose scopes intersect the new grant. The server's
// newest grant for any shared scope supersedes older tokens.
func (m *Manager) upsertAccessToken(ctx context.Context, at AccessToken, granted scopeset.Set) error {
	path := credentialBucketPath(at.HomeAccountID, at.Environment, bucketAccessToken)
	return m.worker.ReadModifyWriteObject(ctx, path, func(obj *storage.Object) error {
		for _, key := range obj.Keys() {
			raw, _ := obj.Get(key)
			var existing AccessToken
			if json.Unmarshal(raw, &existing) != nil {
				continue
			}
			if strings.EqualFold(existing.ClientID, at.ClientID) &&
				strings.EqualFold(existing.Realm, at.Realm) &&
				granted.Intersects(scopeset.Split(existing.Target)) {
				obj.Delete(key)
			}
		}
		return obj.SetValue(at.Key(), at)
	})
}

// upsertRefreshToken writes rt, dropping the account's previous refresh
// token for this client. Old refresh tokens are never retained.
func (m *Manager) upsertRefreshToken(ctx context.Context, rt RefreshToken) error {
	path := credentialBucketPath(rt.HomeAccountID, rt.Environment, bucketRefreshToken)
	return m.worker.ReadModifyWriteObject(ctx, path, func(obj *storage.Object) error {
		for _, key := range obj.Keys() {
			raw, _ := obj.Get(key)
			var existing RefreshToken
			if json.Unmarshal(raw, &existing) != nil {
				continue
			}
			if strings.EqualFold(existing.ClientID, rt.ClientID) {
				obj.Delete(key)
			}
		}
		return obj.SetValue(rt.Key(), rt)
	})
}

func (m *Manager) upsertAppMetadata(ctx context.Context, meta AppMetadata) error {
	return m.worker.ReadModifyWriteObject(ctx, appMetadataPath(meta.Environment), func(obj *storage.Object) error {
		return obj.SetValue(meta.Key(), meta)
	})
}

func (m *Manager) upsertMember(ctx context.Context, path, memberKey string, v any) error {
	return m.worker.ReadModifyWriteObject(ctx, path, func(obj *storage.Object) error {
		return obj.SetValue(memberKey, v)
	})
}
