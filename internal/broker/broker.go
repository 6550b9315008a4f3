package broker

import (
	"context"
	"fmt"
	"time"

	"mcpbroker/internal/browser"
	"mcpbroker/internal/crypto"
	"mcpbroker/internal/mcpserver"
	"mcpbroker/internal/oauthcore"
	"mcpbroker/internal/oauthgov"
	"mcpbroker/internal/router"
	"mcpbroker/internal/store"
	"mcpbroker/internal/token"
	"mcpbroker/internal/toolfilter"
	"mcpbroker/pkg/logging"
)

// Config carries the construction-time knobs for one Broker.
type Config struct {
	DataDir          string
	RotationInterval time.Duration // 0 = oauthgov default (90 days)
	MachineIDHash    string
	AppVersion       string
	// Migrations registers the OAuth dataset's versioned migrations (see
	// internal/oauthgov.DataMigration). Empty by default: nothing in
	// this build needs a dataset migration yet, but the runner is wired
	// so one can be added without touching the composition root again.
	Migrations []oauthgov.DataMigration
}

// Broker holds one fully-wired instance of every component in the
// dependency graph: Store → Crypto → {Token, ToolFilter, OAuth Core →
// Governance} → Server Manager → Router Gate.
type Broker struct {
	Paths Paths

	Crypto     *crypto.Service
	Store      *store.Store
	Token      *token.Service
	ToolFilter *toolfilter.Service
	OAuthCore  *oauthcore.Service
	OAuthGov   *oauthgov.Service
	Servers    *mcpserver.Manager
	Router     *router.Gate

	Migrator *oauthgov.Migrator

	auditFile  *fileAuditStore
	cancelRot  context.CancelFunc
}

// Open builds a Broker over cfg.DataDir, running the Store's SQL schema
// migrations and the startup audit-retention trim synchronously. It does
// not start the rotation scheduler or autostart any server; call Run for
// that.
func Open(cfg Config) (*Broker, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("broker: DataDir must not be empty")
	}
	paths := NewPaths(cfg.DataDir)

	cryptoSvc, err := crypto.Load(paths.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("broker: loading encryption key: %w", err)
	}

	st, err := store.Open(paths.StoreDB, cryptoSvc)
	if err != nil {
		return nil, fmt.Errorf("broker: opening store: %w", err)
	}

	auditFile, err := newFileAuditStore(st, paths.AuditLog)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("broker: opening audit log: %w", err)
	}

	gov := oauthgov.New(auditFile, st, cryptoSvc, oauthgov.Config{
		MachineIDHash:    cfg.MachineIDHash,
		AppVersion:       cfg.AppVersion,
		RotationInterval: cfg.RotationInterval,
	})

	ctx := context.Background()
	if err := gov.StartupTrim(ctx); err != nil {
		logging.Warn("broker", "audit retention trim failed: %v", err)
	}

	migrator := oauthgov.NewMigrator(gov, paths.OAuthMigrationState, cfg.Migrations)
	if err := migrator.ApplyPending(ctx, paths.BackupDir); err != nil {
		_ = auditFile.Close()
		_ = st.Close()
		return nil, fmt.Errorf("broker: oauth dataset migration: %w", err)
	}

	tokenSvc := token.New(st)
	filterSvc := toolfilter.New(st)
	oauthSvc := oauthcore.New(st, browser.Opener{}, gov)
	manager := mcpserver.New(st, oauthSvc, toolDiscoverAdapter{filter: filterSvc})

	gate := router.New(tokenSvc, filterSvc, manager)

	return &Broker{
		Paths:      paths,
		Crypto:     cryptoSvc,
		Store:      st,
		Token:      tokenSvc,
		ToolFilter: filterSvc,
		OAuthCore:  oauthSvc,
		OAuthGov:   gov,
		Servers:    manager,
		Router:     gate,
		Migrator:   migrator,
		auditFile:  auditFile,
	}, nil
}

// Run loads every persisted server, auto-starts the non-disabled ones
// with AutoStart set, and starts the hourly key-rotation scheduler. It
// returns once startup work completes; the scheduler keeps running in
// its own goroutine until Shutdown cancels it.
func (b *Broker) Run(ctx context.Context) error {
	if err := b.Servers.Load(ctx); err != nil {
		return fmt.Errorf("broker: loading servers: %w", err)
	}
	b.Servers.AutoStart(ctx)

	rotCtx, cancel := context.WithCancel(ctx)
	b.cancelRot = cancel
	go b.OAuthGov.RunRotationScheduler(rotCtx)

	return nil
}

// Shutdown tears everything down in the reverse of the construction
// order: rotation scheduler, then every live upstream transport, then
// the audit file and Store.
func (b *Broker) Shutdown(ctx context.Context) error {
	if b.cancelRot != nil {
		b.cancelRot()
	}
	b.Servers.ClearAll(ctx)

	var firstErr error
	if err := b.auditFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := b.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
