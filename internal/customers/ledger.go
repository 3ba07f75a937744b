package customers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"stationpos/backend/internal/domain"
	"stationpos/backend/internal/store"
)

// Get loads a customer for update inside tx.
func Get(ctx context.Context, tx store.Tx, tc domain.TenantContext, id string) (*domain.Customer, error) {
	customer, err := tx.GetCustomer(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	if customer.OrganizationID != tc.OrganizationID {
		return nil, fmt.Errorf("%w: customer %s belongs to another organization", store.ErrUnauthorized, id)
	}
	if customer.State() == domain.RecordDeleted {
		return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, id)
	}
	return customer, nil
}

// GetIncludingDeleted is Get for compensation paths, which must still reach a
// customer soft-deleted after the sale.
func GetIncludingDeleted(ctx context.Context, tx store.Tx, tc domain.TenantContext, id string) (*domain.Customer, error) {
	customer, err := tx.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if customer.OrganizationID != tc.OrganizationID {
		return nil, fmt.Errorf("%w: customer %s belongs to another organization", store.ErrUnauthorized, id)
	}
	return customer, nil
}

// RecordPurchase patches the lifetime aggregates for one completed sale.
// Loyalty points are left to the loyalty ledger.
func RecordPurchase(ctx context.Context, tx store.Tx, customer *domain.Customer, total decimal.Decimal, at time.Time) error {
	customer.TotalSpent = customer.TotalSpent.Add(total)
	customer.TotalPurchases++
	customer.LastPurchaseAt = &at
	return tx.UpdateCustomerAggregates(ctx, *customer)
}

// ReversePurchase undoes RecordPurchase. LastPurchaseAt is kept.
func ReversePurchase(ctx context.Context, tx store.Tx, customer *domain.Customer, total decimal.Decimal) error {
	customer.TotalSpent = customer.TotalSpent.Sub(total)
	customer.TotalPurchases = max(0, customer.TotalPurchases-1)
	return tx.UpdateCustomerAggregates(ctx, *customer)
}
