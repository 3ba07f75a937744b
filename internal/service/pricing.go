package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"stationpos/backend/internal/domain"
	"stationpos/backend/internal/inventory"
	"stationpos/backend/internal/store"
	"stationpos/backend/internal/xid"
)

var hundred = decimal.NewFromInt(100)

type saleTotals struct {
	Subtotal        decimal.Decimal
	LineDiscount    decimal.Decimal
	SaleDiscount    decimal.Decimal
	LoyaltyDiscount decimal.Decimal
	Discount        decimal.Decimal
	Tax             decimal.Decimal
	Total           decimal.Decimal
}

// priceCart loads every product of the cart for update, checks it can be sold
// in the requested quantity and returns the denormalized line items. Stock is
// not touched.
func priceCart(ctx context.Context, tx store.Tx, tc domain.TenantContext, saleID string, items []domain.SaleItemRequest) ([]domain.SaleLineItem, error) {
	requested := make(map[string]int, len(items))
	lines := make([]domain.SaleLineItem, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity for product %s must be positive", store.ErrValidation, item.ProductID)
		}
		product, err := inventory.GetActiveProduct(ctx, tx, tc, item.ProductID)
		if err != nil {
			return nil, err
		}
		requested[product.ID] += item.Quantity
		if product.Stock < requested[product.ID] {
			return nil, fmt.Errorf("%w: product %s has %d units, requested %d", store.ErrInsufficientStock, product.ID, product.Stock, requested[product.ID])
		}

		line, err := priceLine(*product, item)
		if err != nil {
			return nil, err
		}
		line.ID = xid.New("sli")
		line.SaleID = saleID
		lines = append(lines, line)
	}
	return lines, nil
}

// priceLine computes a line's figures. Tax is charged on the line amount after
// its own discount.
func priceLine(product domain.Product, item domain.SaleItemRequest) (domain.SaleLineItem, error) {
	subtotal := product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
	if item.Discount.IsNegative() || item.Discount.GreaterThan(subtotal) {
		return domain.SaleLineItem{}, fmt.Errorf("%w: line discount for product %s out of range", store.ErrValidation, product.ID)
	}
	discount := item.Discount.Round(domain.MoneyScale)
	tax := subtotal.Sub(discount).Mul(product.TaxRate).Round(domain.MoneyScale)

	return domain.SaleLineItem{
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    item.Quantity,
		UnitPrice:   product.Price,
		Discount:    discount,
		TaxRate:     product.TaxRate,
		Subtotal:    subtotal,
		Tax:         tax,
		Total:       subtotal.Sub(discount).Add(tax),
		Notes:       item.Notes,
	}, nil
}

// computeTotals aggregates priced lines. The sale-level percentage applies to
// the gross subtotal and does not reduce the per-line tax. The loyalty
// redemption value is part of the discount and may not exceed what is left to
// pay before tax.
func computeTotals(lines []domain.SaleLineItem, discountPercentage decimal.Decimal, loyaltyValue decimal.Decimal) (saleTotals, error) {
	var t saleTotals
	for _, line := range lines {
		t.Subtotal = t.Subtotal.Add(line.Subtotal)
		t.LineDiscount = t.LineDiscount.Add(line.Discount)
		t.Tax = t.Tax.Add(line.Tax)
	}

	t.SaleDiscount = t.Subtotal.Mul(discountPercentage).Div(hundred).Round(domain.MoneyScale)
	remaining := t.Subtotal.Sub(t.LineDiscount).Sub(t.SaleDiscount)
	if loyaltyValue.GreaterThan(remaining) {
		return saleTotals{}, fmt.Errorf("%w: loyalty redemption worth %s exceeds payable amount %s", store.ErrValidation, loyaltyValue.StringFixed(domain.MoneyScale), remaining.StringFixed(domain.MoneyScale))
	}
	t.LoyaltyDiscount = loyaltyValue
	t.Discount = t.LineDiscount.Add(t.SaleDiscount).Add(t.LoyaltyDiscount)
	t.Total = t.Subtotal.Sub(t.Discount).Add(t.Tax)
	return t, nil
}

func validateDiscountPercentage(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return fmt.Errorf("%w: discount percentage must be between 0 and 100", store.ErrValidation)
	}
	return nil
}

func (t saleTotals) applyTo(sale *domain.Sale) {
	sale.Subtotal = t.Subtotal
	sale.Discount = t.Discount
	sale.LoyaltyDiscount = t.LoyaltyDiscount
	sale.Tax = t.Tax
	sale.Total = t.Total
}
