package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"stationpos/backend/internal/customers"
	"stationpos/backend/internal/domain"
	"stationpos/backend/internal/inventory"
	"stationpos/backend/internal/loyalty"
	"stationpos/backend/internal/store"
)

const unspecifiedReason = "unspecified"

// CancelSale reverses every effect of a completed sale: stock is restored,
// customer aggregates are rolled back and one net loyalty adjustment undoes
// the points earned and redeemed. The sale row itself is kept.
func (s *Service) CancelSale(ctx context.Context, tc domain.TenantContext, saleID string, reason string) (domain.Sale, error) {
	return s.reverseSale(ctx, tc, saleID, reason, domain.SaleStatusCancelled)
}

// RefundSale runs the same compensation as CancelSale and marks the sale
// refunded.
func (s *Service) RefundSale(ctx context.Context, tc domain.TenantContext, saleID string, reason string) (domain.Sale, error) {
	return s.reverseSale(ctx, tc, saleID, reason, domain.SaleStatusRefunded)
}

func (s *Service) reverseSale(ctx context.Context, tc domain.TenantContext, saleID string, reason string, target domain.SaleStatus) (domain.Sale, error) {
	if err := requireTenant(tc); err != nil {
		return domain.Sale{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = unspecifiedReason
	}

	now := s.now()
	var sale *domain.Sale
	var clamped bool
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		sale, err = getOwnedSale(ctx, tx, tc, saleID)
		if err != nil {
			return err
		}
		if !sale.Status.CanReverse() {
			return fmt.Errorf("%w: sale %s is %s", store.ErrInvalidStateTransition, sale.ID, sale.Status)
		}

		for _, line := range sale.Items {
			if err := inventory.RestoreStock(ctx, tx, tc, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}

		if sale.CustomerID != "" {
			clamped, err = reverseCustomer(ctx, tx, tc, *sale, target)
			if err != nil {
				return err
			}
		}

		sale.Status = target
		sale.CancelledAt = &now
		sale.CancelledBy = tc.ActorID
		sale.CancelReason = reason
		return tx.UpdateSaleHeader(ctx, *sale)
	})
	if err != nil {
		return domain.Sale{}, err
	}

	fields := []zap.Field{
		zap.String("organization_id", tc.OrganizationID),
		zap.String("sale_id", sale.ID),
		zap.String("status", string(sale.Status)),
		zap.String("actor", tc.ActorID),
		zap.String("reason", reason),
	}
	if clamped {
		s.logger.Warn("sale reversed, loyalty reversal clamped at zero balance", fields...)
	} else {
		s.logger.Info("sale reversed", fields...)
	}

	kind := domain.EventSaleCancelled
	if target == domain.SaleStatusRefunded {
		kind = domain.EventSaleRefunded
	}
	s.publish(ctx, tc, kind, *sale)
	return *sale, nil
}

// reverseCustomer rolls back aggregates and loyalty for a reversed sale. The
// net delta gives back redeemed points and takes back earned points; points
// already spent elsewhere cannot be taken back, so the balance stops at zero.
// It reports whether that clamp happened.
func reverseCustomer(ctx context.Context, tx store.Tx, tc domain.TenantContext, sale domain.Sale, target domain.SaleStatus) (bool, error) {
	customer, err := customers.GetIncludingDeleted(ctx, tx, tc, sale.CustomerID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := customers.ReversePurchase(ctx, tx, customer, sale.Total); err != nil {
		return false, err
	}

	want := sale.LoyaltyPointsUsed - sale.LoyaltyPointsEarned
	delta := want
	if customer.LoyaltyPoints+delta < 0 {
		delta = -customer.LoyaltyPoints
	}
	if delta == 0 {
		return want != 0, nil
	}

	_, err = loyalty.Adjust(ctx, tx, tc, customer, delta, loyalty.Entry{
		Reason:        domain.ReasonManual,
		Description:   fmt.Sprintf("reversal of sale %s (%s): returned %d redeemed, removed %d earned", sale.ID, target, sale.LoyaltyPointsUsed, sale.LoyaltyPointsEarned),
		RelatedSaleID: sale.ID,
	})
	if err != nil {
		return false, err
	}
	return delta != want, nil
}
