package oauthgov

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"mcpbroker/internal/domain"
)

// DataMigration is one versioned step over the OAuth dataset (distinct
// from the Store's SQL schema migrations). Forward mutates
// configs/tokens in place; Reverse must undo exactly what Forward did,
// given the pre-image snapshot recorded in rollback history.
type DataMigration struct {
	ID      string
	Forward func(*backupPayload) error
	Reverse func(*backupPayload) error
}

// Migrator runs DataMigrations over the OAuth dataset, persisting applied
// version history and pre-image rollback snapshots to stateFilePath.
type Migrator struct {
	svc           *Service
	stateFilePath string
	migrations    []DataMigration
}

// NewMigrator builds a Migrator over migrations, sorted by ID so caller
// order doesn't matter (e.g. migrations assembled from a registry map).
func NewMigrator(svc *Service, stateFilePath string, migrations []DataMigration) *Migrator {
	sorted := append([]DataMigration(nil), migrations...)
	sortMigrationsByID(sorted)
	return &Migrator{svc: svc, stateFilePath: stateFilePath, migrations: sorted}
}

func (m *Migrator) loadState() (*domain.MigrationState, error) {
	data, err := os.ReadFile(m.stateFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &domain.MigrationState{RollbackHistory: map[string][]byte{}}, nil
		}
		return nil, &domain.MigrationError{Message: "failed to read migration state", Cause: err}
	}
	var state domain.MigrationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &domain.MigrationError{Message: "failed to parse migration state", Cause: err}
	}
	if state.RollbackHistory == nil {
		state.RollbackHistory = map[string][]byte{}
	}
	return &state, nil
}

func (m *Migrator) saveState(state *domain.MigrationState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return &domain.MigrationError{Message: "failed to marshal migration state", Cause: err}
	}
	if err := os.WriteFile(m.stateFilePath, data, 0o600); err != nil {
		return &domain.MigrationError{Message: "failed to write migration state", Cause: err}
	}
	return nil
}

func applied(state *domain.MigrationState, id string) bool {
	for _, a := range state.AppliedMigrations {
		if a == id {
			return true
		}
	}
	return false
}

// ApplyPending runs every migration not yet recorded as applied, in
// ID order. A pre-migration backup is created unconditionally
// before the first pending migration runs.
func (m *Migrator) ApplyPending(ctx context.Context, backupDir string) error {
	state, err := m.loadState()
	if err != nil {
		return err
	}

	var pending []DataMigration
	for _, mig := range m.migrations {
		if !applied(state, mig.ID) {
			pending = append(pending, mig)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	if _, err := m.svc.CreateBackup(ctx, backupDir, "", false); err != nil {
		return &domain.MigrationError{Message: "pre-migration backup failed", Cause: err}
	}

	for _, mig := range pending {
		if err := m.applyOne(ctx, state, mig); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) applyOne(ctx context.Context, state *domain.MigrationState, mig DataMigration) error {
	configs, err := m.svc.dataStore.ListOAuthConfigs(ctx)
	if err != nil {
		return err
	}
	tokens, err := m.svc.dataStore.ListOAuthTokens(ctx)
	if err != nil {
		return err
	}
	payload := backupPayload{Configs: configs, Tokens: tokens}

	preImage, err := json.Marshal(payload)
	if err != nil {
		return &domain.MigrationError{MigrationID: mig.ID, Message: "failed to snapshot pre-image", Cause: err}
	}

	if err := mig.Forward(&payload); err != nil {
		return &domain.MigrationError{MigrationID: mig.ID, Message: "forward migration failed", Cause: err}
	}

	for _, cfg := range payload.Configs {
		if err := m.svc.dataStore.UpsertOAuthConfig(ctx, cfg); err != nil {
			return &domain.MigrationError{MigrationID: mig.ID, Message: "failed to persist migrated config", Cause: err}
		}
	}
	for _, tok := range payload.Tokens {
		if err := m.svc.dataStore.UpsertOAuthToken(ctx, tok); err != nil {
			return &domain.MigrationError{MigrationID: mig.ID, Message: "failed to persist migrated token", Cause: err}
		}
	}

	state.AppliedMigrations = append(state.AppliedMigrations, mig.ID)
	state.CurrentVersion = mig.ID
	state.RollbackHistory[mig.ID] = preImage

	if err := m.saveState(state); err != nil {
		return err
	}
	m.svc.Record(ctx, "", domain.EventConfigurationChanged, "applied data migration "+mig.ID, domain.SeverityInfo)
	return nil
}

// Rollback reverses the single most recently applied migration using its
// recorded pre-image snapshot, restoring configs/tokens verbatim rather
// than re-deriving them through Reverse. Reverse is never called: a
// migration with no recorded snapshot cannot be rolled back, and the
// attempt returns a MigrationError.
func (m *Migrator) Rollback(ctx context.Context) error {
	state, err := m.loadState()
	if err != nil {
		return err
	}
	if len(state.AppliedMigrations) == 0 {
		return &domain.MigrationError{Message: "no applied migrations to roll back"}
	}
	return m.rollbackOne(ctx, state)
}

// RollbackTo reverses applied migrations one at a time, most recent
// first, until CurrentVersion equals target — undoing several migrations
// in a single call when more than one lies between the current version
// and target. target="" rolls all the way back to the pre-migration
// state. Each step's pre-image restore and state save happens before the
// next step begins, so a failure partway through leaves CurrentVersion at
// whatever version the last successful step reached rather than at the
// version RollbackTo started from.
func (m *Migrator) RollbackTo(ctx context.Context, target string) error {
	state, err := m.loadState()
	if err != nil {
		return err
	}
	if target != "" && !applied(state, target) {
		return &domain.MigrationError{MigrationID: target, Message: fmt.Sprintf("target version %q was never applied", target)}
	}

	for state.CurrentVersion != target {
		if len(state.AppliedMigrations) == 0 {
			return &domain.MigrationError{MigrationID: target, Message: "no applied migrations to roll back"}
		}
		if err := m.rollbackOne(ctx, state); err != nil {
			return err
		}
	}
	return nil
}

// rollbackOne undoes state.AppliedMigrations' last entry in place,
// persisting the updated state before returning. Shared by Rollback and
// RollbackTo so a multi-step RollbackTo is exactly a sequence of single
// steps, each durable on its own.
func (m *Migrator) rollbackOne(ctx context.Context, state *domain.MigrationState) error {
	last := state.AppliedMigrations[len(state.AppliedMigrations)-1]
	preImage, ok := state.RollbackHistory[last]
	if !ok {
		return &domain.MigrationError{MigrationID: last, Message: "no rollback snapshot recorded"}
	}

	var payload backupPayload
	if err := json.Unmarshal(preImage, &payload); err != nil {
		return &domain.MigrationError{MigrationID: last, Message: "failed to parse rollback snapshot", Cause: err}
	}

	for _, cfg := range payload.Configs {
		if err := m.svc.dataStore.UpsertOAuthConfig(ctx, cfg); err != nil {
			return &domain.MigrationError{MigrationID: last, Message: "failed to restore pre-image config", Cause: err}
		}
	}
	for _, tok := range payload.Tokens {
		if err := m.svc.dataStore.UpsertOAuthToken(ctx, tok); err != nil {
			return &domain.MigrationError{MigrationID: last, Message: "failed to restore pre-image token", Cause: err}
		}
	}

	state.AppliedMigrations = state.AppliedMigrations[:len(state.AppliedMigrations)-1]
	delete(state.RollbackHistory, last)
	if len(state.AppliedMigrations) > 0 {
		state.CurrentVersion = state.AppliedMigrations[len(state.AppliedMigrations)-1]
	} else {
		state.CurrentVersion = ""
	}

	if err := m.saveState(state); err != nil {
		return err
	}
	m.svc.Record(ctx, "", domain.EventConfigurationChanged, "rolled back data migration "+last, domain.SeverityWarning)
	return nil
}

// sortMigrationsByID orders migrations deterministically so the pending
// set is applied in a stable sequence regardless of construction order.
func sortMigrationsByID(migrations []DataMigration) {
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].ID < migrations[j].ID })
}
