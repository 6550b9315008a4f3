package oauthgov

import (
	"context"
	"time"

	"mcpbroker/internal/domain"
)

// RunRotationScheduler ticks hourly and rotates the encryption key once the configured
// rotation interval has elapsed since the last rotation. It blocks until
// ctx is cancelled; callers run it in its own goroutine.
func (s *Service) RunRotationScheduler(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maybeRotate(ctx)
		}
	}
}

func (s *Service) maybeRotate(ctx context.Context) {
	s.rotationMu.Lock()
	due := time.Since(s.lastRotation) >= s.rotationInterval
	s.rotationMu.Unlock()
	if !due {
		return
	}
	if err := s.RotateKey(ctx); err != nil {
		s.Record(ctx, "", domain.EventKeyRotated, "scheduled rotation failed: "+err.Error(), domain.SeverityError)
	}
}

// RotateKey performs on-demand key rotation: snapshots
// the current key, derives a new one, re-encrypts every encrypted column
// in a single Store transaction, and only then commits the new key to
// disk. A failed re-encryption transaction leaves the old key
// authoritative; Commit is never reached.
func (s *Service) RotateKey(ctx context.Context) error {
	oldKey := s.cryptoSvc.Key()
	oldVersion := s.cryptoSvc.KeyVersion()

	newSvc, err := s.cryptoSvc.Rotate()
	if err != nil {
		return err
	}
	if err := s.dataStore.RotateEncryptionKey(ctx, oldKey, newSvc); err != nil {
		return err
	}
	if err := newSvc.Commit(); err != nil {
		return err
	}
	s.cryptoSvc.Swap(newSvc)

	s.rotationMu.Lock()
	s.lastRotation = time.Now()
	s.rotationMu.Unlock()

	s.Record(ctx, "", domain.EventKeyRotated,
		"encryption key rotated", domain.SeverityInfo)
	_ = oldVersion
	return nil
}
