package audit

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// RecordRedact logs an export of regions over target (an image id, or the
// upload name when nothing was written back).
func (s *Service) RecordRedact(ctx context.Context, subject, target string, regions int) (Record, error) {
	rec := newRecord(KindRedact, subject, target)
	rec.Regions = regions
	return rec, s.insert(ctx, rec)
}

// RecordHandoff logs a region collection an editor handed to a host.
func (s *Service) RecordHandoff(ctx context.Context, sessionID, imageID string, regions int) (Record, error) {
	rec := newRecord(KindHandoff, sessionID, imageID)
	rec.Regions = regions
	return rec, s.insert(ctx, rec)
}

// RecordClean logs the parts an archive cleanup removed.
func (s *Service) RecordClean(ctx context.Context, subject, target string, removed []string) (Record, error) {
	rec := newRecord(KindClean, subject, target)
	rec.Removed = removed
	return rec, s.insert(ctx, rec)
}

func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.store.Get(ctx, id)
}

// List returns the newest records. limit falls back to a default when out
// of range.
func (s *Service) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	return s.store.List(ctx, limit)
}

func (s *Service) insert(ctx context.Context, rec Record) error {
	if err := s.store.Insert(ctx, rec); err != nil {
		return fmt.Errorf("record %s: %w", rec.Kind, err)
	}
	slog.Debug("audit recorded", "id", rec.ID, "kind", rec.Kind, "target", rec.Target)
	return nil
}
