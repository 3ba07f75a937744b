// Package loyalty implements the points ledger: earn, redeem and adjust each
// move the customer's cached balance and append exactly one immutable
// LoyaltyTransaction carrying the balance after the change.
package loyalty

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"stationpos/backend/internal/domain"
	"stationpos/backend/internal/store"
)

// Entry describes why a ledger row was written.
type Entry struct {
	Reason        domain.LoyaltyReason
	Description   string
	RelatedSaleID string
}

// ComputeEarned returns floor(total * pointsPerCurrency) when the program is
// active and total reaches the minimum purchase, otherwise 0.
func ComputeEarned(program domain.LoyaltyProgram, total decimal.Decimal) int64 {
	if !program.IsActive || !total.IsPositive() {
		return 0
	}
	if total.LessThan(program.MinPurchaseForPoints) {
		return 0
	}
	return total.Mul(program.PointsPerCurrency).Floor().IntPart()
}

// RedemptionValue converts points to a currency amount at the program rate.
func RedemptionValue(program domain.LoyaltyProgram, points int64) decimal.Decimal {
	if points <= 0 {
		return decimal.Zero
	}
	return program.CurrencyPerPoint.Mul(decimal.NewFromInt(points)).Round(domain.MoneyScale)
}

func Earn(ctx context.Context, tx store.Tx, tc domain.TenantContext, customer *domain.Customer, points int64, entry Entry) (*domain.LoyaltyTransaction, error) {
	if points <= 0 {
		return nil, fmt.Errorf("%w: earned points must be positive", store.ErrValidation)
	}
	return apply(ctx, tx, tc, customer, domain.LoyaltyEarn, points, entry)
}

// Redeem stores the entry with negative points so every row's sign matches
// its effect on the balance.
func Redeem(ctx context.Context, tx store.Tx, tc domain.TenantContext, customer *domain.Customer, points int64, entry Entry) (*domain.LoyaltyTransaction, error) {
	if points <= 0 {
		return nil, fmt.Errorf("%w: redeemed points must be positive", store.ErrValidation)
	}
	if points > customer.LoyaltyPoints {
		return nil, fmt.Errorf("%w: balance %d, requested %d", store.ErrInsufficientLoyaltyPoints, customer.LoyaltyPoints, points)
	}
	return apply(ctx, tx, tc, customer, domain.LoyaltyRedeem, -points, entry)
}

// Adjust appends a signed net-effect entry. It fails rather than letting the
// balance go negative.
func Adjust(ctx context.Context, tx store.Tx, tc domain.TenantContext, customer *domain.Customer, delta int64, entry Entry) (*domain.LoyaltyTransaction, error) {
	if delta == 0 {
		return nil, fmt.Errorf("%w: adjustment must be non-zero", store.ErrValidation)
	}
	return apply(ctx, tx, tc, customer, domain.LoyaltyAdjust, delta, entry)
}

func apply(ctx context.Context, tx store.Tx, tc domain.TenantContext, customer *domain.Customer, kind domain.LoyaltyTransactionType, delta int64, entry Entry) (*domain.LoyaltyTransaction, error) {
	balance := customer.LoyaltyPoints + delta
	if balance < 0 {
		return nil, fmt.Errorf("%w: balance %d, change %d", store.ErrInsufficientLoyaltyPoints, customer.LoyaltyPoints, delta)
	}
	customer.LoyaltyPoints = balance
	if err := tx.UpdateCustomerAggregates(ctx, *customer); err != nil {
		return nil, err
	}

	return tx.AppendLoyaltyTransaction(ctx, domain.LoyaltyTransaction{
		OrganizationID: customer.OrganizationID,
		CustomerID:     customer.ID,
		Type:           kind,
		Points:         delta,
		Balance:        balance,
		Reason:         entry.Reason,
		Description:    entry.Description,
		RelatedSaleID:  entry.RelatedSaleID,
		CreatedBy:      tc.ActorID,
	})
}

// Replay sums the signed points of entries given in creation order.
func Replay(entries []domain.LoyaltyTransaction) int64 {
	var balance int64
	for _, e := range entries {
		balance += e.Points
	}
	return balance
}

// VerifyChain checks that every entry's balance snapshot equals the running
// sum of the entries before and including it.
func VerifyChain(entries []domain.LoyaltyTransaction) error {
	var running int64
	for _, e := range entries {
		running += e.Points
		if e.Balance != running {
			return fmt.Errorf("loyalty entry %s (seq %d) snapshots %d, replay gives %d", e.ID, e.Seq, e.Balance, running)
		}
	}
	return nil
}
