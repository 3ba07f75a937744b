package cache

import (
	"context"
	"time"

	"stationpos/backend/internal/domain"
)

// ProgramCache holds loyalty program configuration keyed by organization.
type ProgramCache interface {
	Get(ctx context.Context, organizationID string) (*domain.LoyaltyProgram, bool, error)
	Set(ctx context.Context, value domain.LoyaltyProgram, ttl time.Duration) error
	Delete(ctx context.Context, organizationID string) error
}

type NoopProgramCache struct{}

func (NoopProgramCache) Get(_ context.Context, _ string) (*domain.LoyaltyProgram, bool, error) {
	return nil, false, nil
}

func (NoopProgramCache) Set(_ context.Context, _ domain.LoyaltyProgram, _ time.Duration) error {
	return nil
}

func (NoopProgramCache) Delete(_ context.Context, _ string) error {
	return nil
}
