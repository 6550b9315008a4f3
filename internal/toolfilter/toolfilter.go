// Package toolfilter implements Component D: per-(server, tool, client?)
// tool policy resolution, discovery-time init/cleanup, bulk operations,
// and a per-scope cache. Grounded on the tool-rewriting idiom in the
// teacher's aggregator tool_factory.go and the enable/disable policy
// shape of its denylist.go, generalized to a three-tier resolution
// rule.
package toolfilter

import (
	"context"
	"sync"

	"mcpbroker/internal/domain"
)

// Store is the persistence seam the Tool Filter Service depends on.
type Store interface {
	GetToolPreference(ctx context.Context, serverID, toolName, clientID string) (*domain.ToolPreference, error)
	ListToolPreferencesForScope(ctx context.Context, serverID, clientID string) ([]domain.ToolPreference, error)
	ListGlobalToolNames(ctx context.Context, serverID string) ([]string, error)
	UpsertToolPreference(ctx context.Context, p domain.ToolPreference) error
	UpdateOriginalDescription(ctx context.Context, serverID, toolName, description string) error
	DeleteToolPreferencesNotIn(ctx context.Context, serverID string, keepToolNames []string) error
	BulkSetEnabled(ctx context.Context, serverID, clientID string, enabled bool) error
	BulkReset(ctx context.Context, serverID, clientID string) error
}

// AnnouncedTool is what the Server Manager passes in on discovery: the
// tool name and description as announced by the upstream.
type AnnouncedTool struct {
	Name        string
	Description string
}

type scopeKey struct {
	serverID string
	clientID string
}

// Service resolves and caches tool preferences. The cache is a plain map
// behind an RWMutex, invalidated wholesale for a scope on any write to
// that scope — the same per-(serverId, clientId) granularity the
// resolution rule mandates, without the complexity of a generational
// cache.
type Service struct {
	store Store

	mu    sync.RWMutex
	cache map[scopeKey]map[string]domain.ResolvedTool
}

func New(store Store) *Service {
	return &Service{store: store, cache: make(map[scopeKey]map[string]domain.ResolvedTool)}
}

// Resolve implements the three-tier rule in: client-specific
// row, else global row, else the synthetic enabled-by-default value.
func (s *Service) Resolve(ctx context.Context, serverID, toolName, clientID string) (domain.ResolvedTool, error) {
	if resolved, ok := s.cacheGet(serverID, clientID, toolName); ok {
		return resolved, nil
	}

	resolved, err := s.resolveUncached(ctx, serverID, toolName, clientID)
	if err != nil {
		return domain.ResolvedTool{}, err
	}
	s.cacheSet(serverID, clientID, toolName, resolved)
	return resolved, nil
}

func (s *Service) resolveUncached(ctx context.Context, serverID, toolName, clientID string) (domain.ResolvedTool, error) {
	if clientID != "" {
		if p, err := s.store.GetToolPreference(ctx, serverID, toolName, clientID); err == nil {
			return toResolved(toolName, *p), nil
		} else if _, ok := err.(*domain.NotFoundError); !ok {
			return domain.ResolvedTool{}, err
		}
	}

	if p, err := s.store.GetToolPreference(ctx, serverID, toolName, ""); err == nil {
		return toResolved(toolName, *p), nil
	} else if _, ok := err.(*domain.NotFoundError); !ok {
		return domain.ResolvedTool{}, err
	}

	return domain.ResolvedTool{Enabled: true, OriginalName: toolName, Name: toolName}, nil
}

func toResolved(toolName string, p domain.ToolPreference) domain.ResolvedTool {
	name := toolName
	if p.CustomName != "" {
		name = p.CustomName
	}
	desc := p.OriginalDescription
	if p.CustomDescription != "" {
		desc = p.CustomDescription
	}
	return domain.ResolvedTool{
		Enabled:             p.Enabled,
		OriginalName:        toolName,
		Name:                name,
		Description:         desc,
		OriginalDescription: p.OriginalDescription,
	}
}

// InitDiscovery applies the discovery-time rule for every tool a
// newly-running server announces, then cleans up rows for tools no
// longer present, and invalidates every cached scope for serverID.
func (s *Service) InitDiscovery(ctx context.Context, serverID string, announced []AnnouncedTool) error {
	names := make([]string, 0, len(announced))
	for _, a := range announced {
		names = append(names, a.Name)

		existing, err := s.store.GetToolPreference(ctx, serverID, a.Name, "")
		switch {
		case err == nil:
			if existing.OriginalDescription != a.Description {
				if err := s.store.UpdateOriginalDescription(ctx, serverID, a.Name, a.Description); err != nil {
					return err
				}
			}
		case isNotFound(err):
			if err := s.store.UpsertToolPreference(ctx, domain.ToolPreference{
				ServerID: serverID, ToolName: a.Name, Enabled: true, OriginalDescription: a.Description,
			}); err != nil {
				return err
			}
		default:
			return err
		}
	}

	if err := s.store.DeleteToolPreferencesNotIn(ctx, serverID, names); err != nil {
		return err
	}

	s.invalidateServer(serverID)
	return nil
}

func isNotFound(err error) bool {
	_, ok := err.(*domain.NotFoundError)
	return ok
}

// EnableAll, DisableAll and Reset are the bulk operations, each scoped
// to one (serverId, clientId?).
func (s *Service) EnableAll(ctx context.Context, serverID, clientID string) error {
	if err := s.store.BulkSetEnabled(ctx, serverID, clientID, true); err != nil {
		return err
	}
	s.invalidateScope(serverID, clientID)
	return nil
}

func (s *Service) DisableAll(ctx context.Context, serverID, clientID string) error {
	if err := s.store.BulkSetEnabled(ctx, serverID, clientID, false); err != nil {
		return err
	}
	s.invalidateScope(serverID, clientID)
	return nil
}

func (s *Service) Reset(ctx context.Context, serverID, clientID string) error {
	if err := s.store.BulkReset(ctx, serverID, clientID); err != nil {
		return err
	}
	s.invalidateScope(serverID, clientID)
	return nil
}

// SetPreference writes a single preference row directly (used by CLI
// rename/describe/enable-one operations) and invalidates its scope.
func (s *Service) SetPreference(ctx context.Context, p domain.ToolPreference) error {
	if err := s.store.UpsertToolPreference(ctx, p); err != nil {
		return err
	}
	s.invalidateScope(p.ServerID, p.ClientID)
	return nil
}

func (s *Service) cacheGet(serverID, clientID, toolName string) (domain.ResolvedTool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scope, ok := s.cache[scopeKey{serverID, clientID}]
	if !ok {
		return domain.ResolvedTool{}, false
	}
	r, ok := scope[toolName]
	return r, ok
}

func (s *Service) cacheSet(serverID, clientID, toolName string, r domain.ResolvedTool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopeKey{serverID, clientID}
	scope, ok := s.cache[key]
	if !ok {
		scope = make(map[string]domain.ResolvedTool)
		s.cache[key] = scope
	}
	scope[toolName] = r
}

func (s *Service) invalidateScope(serverID, clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, scopeKey{serverID, clientID})
}

func (s *Service) invalidateServer(serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.cache {
		if key.serverID == serverID {
			delete(s.cache, key)
		}
	}
}
