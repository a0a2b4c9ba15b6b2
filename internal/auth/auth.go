// Package auth issues and validates the two bearer credential types the
// kernel accepts: long-lived API keys scoped to a role and a set of
// projects, and short-lived JWT sessions minted for an agent after an API
// key exchange.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/kerrors"
	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/pkg/logger"
)

// Principal is the authenticated identity attached to a request context,
// regardless of whether it arrived as a raw API key or a JWT session.
type Principal struct {
	Subject    string
	Role       domain.Role
	ProjectIDs []string
}

// AuthorizedFor mirrors domain.ApiKey.AuthorizedFor for the resolved principal.
func (p Principal) AuthorizedFor(projectID string) bool {
	if len(p.ProjectIDs) == 0 {
		return true
	}
	for _, id := range p.ProjectIDs {
		if id == projectID {
			return true
		}
	}
	return false
}

// Manager issues API keys and JWT sessions and validates bearer tokens
// presented on incoming requests.
type Manager struct {
	keys    storage.APIKeyStore
	signer  *Signer
	log     *logger.Logger
	enabled bool
}

// New builds a Manager. When enabled is false, Authenticate always returns
// an admin principal with no project scoping, an insecure default meant for
// local onboarding, not production.
func New(keys storage.APIKeyStore, signer *Signer, log *logger.Logger, enabled bool) *Manager {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &Manager{keys: keys, signer: signer, log: log, enabled: enabled}
}

// HashKey returns the stored digest for a raw API key value.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a random raw API key and its stored digest. The raw
// value is shown to the caller exactly once and never persisted.
func GenerateKey() (raw string, hashed string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate api key: %w", err)
	}
	raw = "tsk_" + hex.EncodeToString(buf)
	return raw, HashKey(raw), nil
}

// IssueKey creates and persists a new API key, returning the one-time raw
// value alongside the stored record.
func (m *Manager) IssueKey(ctx context.Context, name string, role domain.Role, projectIDs []string) (string, domain.ApiKey, error) {
	raw, hashed, err := GenerateKey()
	if err != nil {
		return "", domain.ApiKey{}, err
	}
	key, err := m.keys.CreateAPIKey(ctx, domain.ApiKey{
		Name:       strings.TrimSpace(name),
		HashedKey:  hashed,
		Role:       role,
		ProjectIDs: projectIDs,
	})
	if err != nil {
		return "", domain.ApiKey{}, err
	}
	m.log.WithField("key_id", key.ID).WithField("role", string(role)).Info("api key issued")
	return raw, key, nil
}

// Authenticate resolves a bearer token (API key or JWT) into a Principal.
func (m *Manager) Authenticate(ctx context.Context, bearer string) (Principal, error) {
	bearer = strings.TrimSpace(bearer)
	if !m.enabled {
		return Principal{Subject: "anonymous", Role: domain.RoleAdmin}, nil
	}
	if bearer == "" {
		return Principal{}, kerrors.New(kerrors.AuthDenied, "missing bearer token")
	}
	if strings.HasPrefix(bearer, "tsk_") {
		return m.authenticateAPIKey(ctx, bearer)
	}
	if m.signer != nil {
		if claims, err := m.signer.Validate(bearer); err == nil {
			return Principal{Subject: claims.Subject, Role: domain.Role(claims.Role), ProjectIDs: claims.ProjectIDs}, nil
		}
	}
	return Principal{}, kerrors.New(kerrors.AuthDenied, "invalid bearer token")
}

func (m *Manager) authenticateAPIKey(ctx context.Context, raw string) (Principal, error) {
	hashed := HashKey(raw)
	key, found, err := m.keys.GetAPIKeyByHash(ctx, hashed)
	if err != nil {
		return Principal{}, err
	}
	if !found || key.Revoked {
		return Principal{}, kerrors.New(kerrors.AuthDenied, "invalid or revoked api key")
	}
	if subtle.ConstantTimeCompare([]byte(key.HashedKey), []byte(hashed)) != 1 {
		return Principal{}, kerrors.New(kerrors.AuthDenied, "invalid api key")
	}
	_ = m.keys.TouchLastUsed(ctx, key.ID, time.Now().UTC())
	return Principal{Subject: key.ID, Role: key.Role, ProjectIDs: key.ProjectIDs}, nil
}

// IssueSession mints a JWT session for an already-authenticated API key
// principal, so agents can avoid sending the raw key on every request.
func (m *Manager) IssueSession(p Principal, ttl time.Duration) (string, error) {
	if m.signer == nil {
		return "", kerrors.New(kerrors.Internal, "jwt signer not configured")
	}
	return m.signer.Sign(p, ttl)
}

// RequireRole returns an AUTH_DENIED kerrors.Error unless the principal's
// role is in allowed.
func RequireRole(p Principal, allowed ...domain.Role) error {
	for _, r := range allowed {
		if p.Role == r {
			return nil
		}
	}
	return kerrors.New(kerrors.AuthDenied, "role %s is not permitted to perform this operation", p.Role)
}
