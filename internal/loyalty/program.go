package loyalty

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"stationpos/backend/internal/cache"
	"stationpos/backend/internal/domain"
	"stationpos/backend/internal/store"
)

type ProgramStore interface {
	GetLoyaltyProgram(ctx context.Context, organizationID string) (*domain.LoyaltyProgram, error)
	UpsertLoyaltyProgram(ctx context.Context, program domain.LoyaltyProgram) error
}

// Programs serves per-organization program configuration through a cache.
type Programs struct {
	store  ProgramStore
	cache  cache.ProgramCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewPrograms(programStore ProgramStore, programCache cache.ProgramCache, ttl time.Duration, logger *zap.Logger) *Programs {
	if programCache == nil {
		programCache = cache.NoopProgramCache{}
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Programs{store: programStore, cache: programCache, ttl: ttl, logger: logger}
}

// Get returns the organization's program. An organization without a
// configured program gets an inactive one, which earns nothing.
func (p *Programs) Get(ctx context.Context, organizationID string) (domain.LoyaltyProgram, error) {
	cached, ok, err := p.cache.Get(ctx, organizationID)
	if err != nil {
		p.logger.Warn("loyalty program cache read failed", zap.String("organization_id", organizationID), zap.Error(err))
	}
	if ok && cached != nil {
		return *cached, nil
	}

	program, err := p.store.GetLoyaltyProgram(ctx, organizationID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.LoyaltyProgram{OrganizationID: organizationID}, nil
	}
	if err != nil {
		return domain.LoyaltyProgram{}, err
	}

	if err := p.cache.Set(ctx, *program, p.ttl); err != nil {
		p.logger.Warn("loyalty program cache write failed", zap.String("organization_id", organizationID), zap.Error(err))
	}
	return *program, nil
}

func (p *Programs) Save(ctx context.Context, program domain.LoyaltyProgram) (domain.LoyaltyProgram, error) {
	program.Name = strings.TrimSpace(program.Name)
	if program.OrganizationID == "" {
		return domain.LoyaltyProgram{}, fmt.Errorf("%w: organization required", store.ErrValidation)
	}
	if program.PointsPerCurrency.IsNegative() || program.CurrencyPerPoint.IsNegative() || program.MinPurchaseForPoints.IsNegative() {
		return domain.LoyaltyProgram{}, fmt.Errorf("%w: program rates must not be negative", store.ErrValidation)
	}
	program.UpdatedAt = time.Now().UTC()

	if err := p.store.UpsertLoyaltyProgram(ctx, program); err != nil {
		return domain.LoyaltyProgram{}, err
	}
	if err := p.cache.Delete(ctx, program.OrganizationID); err != nil {
		p.logger.Warn("loyalty program cache invalidation failed", zap.String("organization_id", program.OrganizationID), zap.Error(err))
	}
	return program, nil
}
