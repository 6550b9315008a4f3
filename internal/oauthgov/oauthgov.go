// Package oauthgov implements Component F: the audit log, fixed-window
// rate limiter, key rotation scheduler, encrypted backup/restore, and
// versioned OAuth-dataset migration that sit around internal/oauthcore.
// Service implements oauthcore.Auditor so the two components wire
// directly together without an import cycle (oauthcore never imports
// oauthgov).
package oauthgov

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"mcpbroker/internal/crypto"
	"mcpbroker/internal/domain"
)

// AuditStore is the persistence seam for the append-only-to-disk half of
// the audit log (internal/store.AuditDAO).
type AuditStore interface {
	AppendAuditEntry(ctx context.Context, e domain.AuditEntry) error
	ListAuditEntries(ctx context.Context, limit int) ([]domain.AuditEntry, error)
	TrimAuditEntriesOlderThan(ctx context.Context, cutoffUnixMillis int64) (int64, error)
}

// OAuthDataStore is the subset of internal/store.Store the backup,
// restore and rotation flows need, kept narrow for testability.
type OAuthDataStore interface {
	ListOAuthConfigs(ctx context.Context) ([]domain.OAuthConfig, error)
	ListOAuthTokens(ctx context.Context) ([]domain.OAuthToken, error)
	UpsertOAuthConfig(ctx context.Context, c domain.OAuthConfig) error
	UpsertOAuthToken(ctx context.Context, t domain.OAuthToken) error
	RotateEncryptionKey(ctx context.Context, oldKey []byte, newSvc *crypto.Service) error
}

const (
	auditRingSize       = 10000
	auditRetention      = 90 * 24 * time.Hour
	defaultRotationDays = 90

	authRateLimit    = 10
	authRateWindow   = 24 * time.Hour
	refreshRateLimit = 30
	refreshRateWindow = time.Hour
	generalRateLimit = 60
	generalRateWindow = time.Minute

	backupKeepCount = 7
)

// Service is Component F: wraps audit logging, rate limiting, key
// rotation and backup/restore around the Store and Crypto services.
type Service struct {
	auditStore AuditStore
	dataStore  OAuthDataStore
	cryptoSvc  *crypto.Service

	ring *auditRing

	limiterMu sync.Mutex
	limiters  map[string]*fixedWindowLimiter

	machineIDHash string
	appVersion    string

	rotationInterval time.Duration
	lastRotation     time.Time
	rotationMu       sync.Mutex
}

// Config carries the construction-time knobs; zero values take sensible
// defaults.
type Config struct {
	MachineIDHash    string
	AppVersion       string
	RotationInterval time.Duration
}

func New(auditStore AuditStore, dataStore OAuthDataStore, cryptoSvc *crypto.Service, cfg Config) *Service {
	interval := cfg.RotationInterval
	if interval <= 0 {
		interval = defaultRotationDays * 24 * time.Hour
	}
	return &Service{
		auditStore:       auditStore,
		dataStore:        dataStore,
		cryptoSvc:        cryptoSvc,
		ring:             newAuditRing(auditRingSize),
		limiters:         make(map[string]*fixedWindowLimiter),
		machineIDHash:    cfg.MachineIDHash,
		appVersion:       cfg.AppVersion,
		rotationInterval: interval,
		lastRotation:     time.Now(),
	}
}

// StartupTrim runs the 90-day audit retention trim; it should be called
// once during wiring before any other component depends on the audit
// log being small.
func (s *Service) StartupTrim(ctx context.Context) error {
	cutoff := time.Now().Add(-auditRetention).UnixMilli()
	n, err := s.auditStore.TrimAuditEntriesOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		fmt.Fprintf(os.Stderr, "oauthgov: trimmed %d audit entries older than 90 days\n", n)
	}
	return nil
}

// Record implements oauthcore.Auditor: appends to the in-memory ring,
// persists to the Store, and surfaces critical entries on stderr.
func (s *Service) Record(ctx context.Context, serverID, eventType, message string, severity domain.Severity) {
	entry := domain.AuditEntry{
		ID:        newAuditID(),
		Timestamp: time.Now().UnixMilli(),
		EventType: eventType,
		Severity:  severity,
		ServerID:  serverID,
		Details:   map[string]interface{}{"message": message},
	}
	s.ring.push(entry)
	if err := s.auditStore.AppendAuditEntry(ctx, entry); err != nil {
		fmt.Fprintf(os.Stderr, "oauthgov: failed to persist audit entry: %v\n", err)
	}
	if severity == domain.SeverityCritical {
		fmt.Fprintf(os.Stderr, "[CRITICAL] %s serverId=%s: %s\n", eventType, serverID, message)
	}
}

// RecentEntries returns up to n of the most recent ring entries, newest
// first, without touching the Store.
func (s *Service) RecentEntries(n int) []domain.AuditEntry {
	return s.ring.recent(n)
}

// Allow implements oauthcore.Auditor: enforces the fixed-window rate
// limit for scope ("auth" | "refresh" | "general") on serverID, logging
// and denying without side effect when exceeded.
func (s *Service) Allow(ctx context.Context, serverID, scope string) error {
	limit, window := limitsFor(scope)
	key := serverID + "|" + scope

	s.limiterMu.Lock()
	l, ok := s.limiters[key]
	if !ok {
		l = newFixedWindowLimiter(limit, window)
		s.limiters[key] = l
	}
	s.limiterMu.Unlock()

	allowed, resetAt := l.allow()
	if !allowed {
		s.Record(ctx, serverID, domain.EventRateLimitExceeded,
			fmt.Sprintf("scope %s exceeded (%d/%v)", scope, limit, window), domain.SeverityWarning)
		return &domain.RateLimitedError{ServerID: serverID, Scope: scope, ResetAt: resetAt}
	}
	return nil
}

func limitsFor(scope string) (int, time.Duration) {
	switch scope {
	case "auth":
		return authRateLimit, authRateWindow
	case "refresh":
		return refreshRateLimit, refreshRateWindow
	default:
		return generalRateLimit, generalRateWindow
	}
}
