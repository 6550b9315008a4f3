// Package token implements Component C: issuance, listing, revocation and
// validation of opaque bearer credentials bound to (clientId, serverIds).
package token

import (
	"context"
	"crypto/subtle"

	"github.com/google/uuid"

	"mcpbroker/internal/domain"
)

// Store is the subset of internal/store.Store the Token Service depends
// on, kept narrow so the Router Gate and tests can swap in a fake.
type Store interface {
	GetToken(ctx context.Context, id string) (*domain.Token, error)
	ListTokensByClient(ctx context.Context, clientID string) ([]domain.Token, error)
	CreateToken(ctx context.Context, t domain.Token) error
	RevokeToken(ctx context.Context, id string) error
}

// Validated is what Validate returns on success.
type Validated struct {
	ClientID  string
	ServerIDs []string
	Scopes    []string
}

// Service is the single source of truth for "does this token exist and
// what can it see".
type Service struct {
	store Store
}

func New(store Store) *Service {
	return &Service{store: store}
}

// Generate mints a new random token id bound to clientID and serverIDs.
// An empty serverIDs is accepted and persisted as-is; Validate's callers
// (the Router Gate) are responsible for treating it as deny-all (Open
// Question 1 in DESIGN.md).
func (s *Service) Generate(ctx context.Context, clientID string, serverIDs []string, issuedAtUnixMillis int64) (*domain.Token, error) {
	id := uuid.NewString()
	t := domain.Token{
		ID:        id,
		ClientID:  clientID,
		ServerIDs: serverIDs,
		IssuedAt:  issuedAtUnixMillis,
	}
	if err := s.store.CreateToken(ctx, t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Service) Revoke(ctx context.Context, tokenID string) error {
	return s.store.RevokeToken(ctx, tokenID)
}

func (s *Service) ListByClient(ctx context.Context, clientID string) ([]domain.Token, error) {
	return s.store.ListTokensByClient(ctx, clientID)
}

// Validate looks up presentedID and returns its grant, or Unauthenticated
// if it does not exist. The lookup itself is a store index hit, not a
// linear scan, so there is no meaningful constant-time requirement on the
// comparison of the id to the database — constant time matters where an
// attacker-controlled string is compared byte-for-byte against a secret
// held in memory. CompareTokens below provides that comparison; no
// caller in this module caches validation results or calls it.
func (s *Service) Validate(ctx context.Context, presentedID string) (*Validated, error) {
	if presentedID == "" {
		return nil, &domain.UnauthenticatedError{Reason: "empty token"}
	}
	t, err := s.store.GetToken(ctx, presentedID)
	if err != nil {
		if _, ok := err.(*domain.NotFoundError); ok {
			return nil, &domain.UnauthenticatedError{TokenID: presentedID, Reason: "token unknown"}
		}
		return nil, err
	}
	return &Validated{ClientID: t.ClientID, ServerIDs: t.ServerIDs, Scopes: t.Scopes}, nil
}

// CompareTokens performs a constant-time comparison of two token strings,
// for callers that hold a previously-validated id in memory (e.g. a
// short-lived cache) and want to re-check a presented string against it
// without a timing side channel.
func CompareTokens(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GrantsServer reports whether serverIDs contains target. An empty
// serverIDs always returns false — deny-all on empty grant.
func GrantsServer(serverIDs []string, target string) bool {
	if len(serverIDs) == 0 {
		return false
	}
	for _, id := range serverIDs {
		if id == target {
			return true
		}
	}
	return false
}
