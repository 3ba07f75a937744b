// Package inventory holds the stock operations used by the sale engine. All
// functions run inside a store.Tx and check tenant ownership before writing.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"stationpos/backend/internal/domain"
	"stationpos/backend/internal/store"
)

// GetProduct returns the product regardless of its active flag. Missing or
// soft-deleted rows fail ErrNotFound, rows of another organization fail
// ErrUnauthorized.
func GetProduct(ctx context.Context, tx store.Tx, tc domain.TenantContext, id string) (*domain.Product, error) {
	product, err := tx.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	if product.OrganizationID != tc.OrganizationID {
		return nil, fmt.Errorf("%w: product %s belongs to another organization", store.ErrUnauthorized, id)
	}
	if product.State() == domain.RecordDeleted {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	return product, nil
}

// GetActiveProduct is GetProduct restricted to sellable products.
func GetActiveProduct(ctx context.Context, tx store.Tx, tc domain.TenantContext, id string) (*domain.Product, error) {
	product, err := GetProduct(ctx, tx, tc, id)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, fmt.Errorf("%w: product %s is inactive", store.ErrValidation, id)
	}
	return product, nil
}

func DecrementStock(ctx context.Context, tx store.Tx, tc domain.TenantContext, id string, qty int) error {
	if qty < 1 {
		return fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}
	if _, err := GetProduct(ctx, tx, tc, id); err != nil {
		return err
	}
	if err := tx.DecrementStock(ctx, id, qty); err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			return fmt.Errorf("%w: product %s", store.ErrInsufficientStock, id)
		}
		return err
	}
	return nil
}

// RestoreStock adds qty back without any ceiling check. Soft-deleted products
// are still restored so a cancellation never fails on catalog edits.
func RestoreStock(ctx context.Context, tx store.Tx, tc domain.TenantContext, id string, qty int) error {
	if qty < 1 {
		return fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}
	product, err := tx.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	if product.OrganizationID != tc.OrganizationID {
		return fmt.Errorf("%w: product %s belongs to another organization", store.ErrUnauthorized, id)
	}
	return tx.IncrementStock(ctx, id, qty)
}

// AdjustStock is the manual correction path and returns the product after the change.
func AdjustStock(ctx context.Context, tx store.Tx, tc domain.TenantContext, id string, qty int, op domain.AdjustOp) (*domain.Product, error) {
	if !op.IsValid() {
		return nil, fmt.Errorf("%w: unknown stock operation %q", store.ErrValidation, op)
	}
	if qty < 0 || (qty == 0 && op != domain.AdjustSet) {
		return nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}
	product, err := GetProduct(ctx, tx, tc, id)
	if err != nil {
		return nil, err
	}

	switch op {
	case domain.AdjustAdd:
		err = tx.IncrementStock(ctx, id, qty)
		product.Stock += qty
	case domain.AdjustSubtract:
		err = tx.DecrementStock(ctx, id, qty)
		product.Stock -= qty
	case domain.AdjustSet:
		err = tx.SetStock(ctx, id, qty)
		product.Stock = qty
	}
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			return nil, fmt.Errorf("%w: product %s has %d units", store.ErrInsufficientStock, id, product.Stock+qty)
		}
		return nil, err
	}
	return product, nil
}
