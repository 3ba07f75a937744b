package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stationpos/backend/internal/customers"
	"stationpos/backend/internal/domain"
	"stationpos/backend/internal/events"
	"stationpos/backend/internal/inventory"
	"stationpos/backend/internal/loyalty"
	"stationpos/backend/internal/store"
	"stationpos/backend/internal/xid"
)

// Service is the sale transaction engine. Each exported mutation runs as a
// single unit of work on the repository.
type Service struct {
	repo     store.Repository
	programs *loyalty.Programs
	events   events.Publisher
	logger   *zap.Logger
	now      func() time.Time
}

func New(repo store.Repository, programs *loyalty.Programs, publisher events.Publisher, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if programs == nil {
		programs = loyalty.NewPrograms(repo, nil, 0, logger)
	}
	return &Service{
		repo:     repo,
		programs: programs,
		events:   publisher,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type payment struct {
	Method        domain.PaymentMethod
	TransactionID string
	Status        string
	CashReceived  decimal.Decimal
	PointsUsed    int64
}

func (p payment) validate() error {
	if !p.Method.IsValid() {
		return fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, p.Method)
	}
	if p.PointsUsed < 0 {
		return fmt.Errorf("%w: loyalty points used must not be negative", store.ErrValidation)
	}
	if p.CashReceived.IsNegative() {
		return fmt.Errorf("%w: cash received must not be negative", store.ErrValidation)
	}
	return nil
}

// CreateSale validates the cart, prices it, charges stock and loyalty, and
// stores a completed sale in one unit of work. It returns the new sale id.
func (s *Service) CreateSale(ctx context.Context, tc domain.TenantContext, req domain.CreateSaleRequest) (string, error) {
	if err := requireTenant(tc); err != nil {
		return "", err
	}
	if len(req.Items) == 0 {
		return "", fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}
	if err := validateDiscountPercentage(req.DiscountPercentage); err != nil {
		return "", err
	}
	pay := payment{
		Method:        req.PaymentMethod,
		TransactionID: strings.TrimSpace(req.PaymentTransactionID),
		Status:        strings.TrimSpace(req.PaymentStatus),
		CashReceived:  req.CashReceived,
		PointsUsed:    req.LoyaltyPointsUsed,
	}
	if err := pay.validate(); err != nil {
		return "", err
	}
	if pay.PointsUsed > 0 && req.CustomerID == "" {
		return "", fmt.Errorf("%w: redeeming loyalty points requires a customer", store.ErrValidation)
	}

	program, err := s.programs.Get(ctx, tc.OrganizationID)
	if err != nil {
		return "", err
	}

	now := s.now()
	sale := domain.Sale{
		ID:                 xid.New("sale"),
		OrganizationID:     tc.OrganizationID,
		CustomerID:         req.CustomerID,
		DiscountPercentage: req.DiscountPercentage,
		Notes:              strings.TrimSpace(req.Notes),
		CreatedBy:          tc.ActorID,
		CreatedAt:          now,
	}

	var lowStock []domain.Product
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		lines, err := priceCart(ctx, tx, tc, sale.ID, req.Items)
		if err != nil {
			return err
		}
		sale.Items = lines

		var customer *domain.Customer
		if sale.CustomerID != "" {
			customer, err = customers.Get(ctx, tx, tc, sale.CustomerID)
			if err != nil {
				return err
			}
		}

		lowStock, err = s.complete(ctx, tx, tc, &sale, customer, program, pay, now, tx.InsertSale)
		return err
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("sale completed",
		zap.String("organization_id", tc.OrganizationID),
		zap.String("sale_id", sale.ID),
		zap.String("total", sale.Total.StringFixed(domain.MoneyScale)),
		zap.Int64("points_earned", sale.LoyaltyPointsEarned),
		zap.Int64("points_used", sale.LoyaltyPointsUsed),
	)
	s.warnLowStock(tc, lowStock)
	s.publish(ctx, tc, domain.EventSaleCompleted, sale)
	return sale.ID, nil
}

// complete runs the payment, persistence, stock and loyalty steps shared by
// CreateSale and CompleteDraftSale. sale.Items must already be priced.
func (s *Service) complete(
	ctx context.Context,
	tx store.Tx,
	tc domain.TenantContext,
	sale *domain.Sale,
	customer *domain.Customer,
	program domain.LoyaltyProgram,
	pay payment,
	now time.Time,
	persist func(context.Context, domain.Sale) error,
) ([]domain.Product, error) {
	if pay.PointsUsed > 0 {
		if customer == nil {
			return nil, fmt.Errorf("%w: redeeming loyalty points requires a customer", store.ErrValidation)
		}
		if customer.LoyaltyPoints < pay.PointsUsed {
			return nil, fmt.Errorf("%w: balance %d, requested %d", store.ErrInsufficientLoyaltyPoints, customer.LoyaltyPoints, pay.PointsUsed)
		}
	}

	totals, err := computeTotals(sale.Items, sale.DiscountPercentage, loyalty.RedemptionValue(program, pay.PointsUsed))
	if err != nil {
		return nil, err
	}
	totals.applyTo(sale)

	sale.PaymentMethod = pay.Method
	sale.CashReceived = decimal.Zero
	sale.Change = decimal.Zero
	if pay.Method == domain.PaymentCash {
		change := pay.CashReceived.Sub(sale.Total)
		if change.IsNegative() {
			return nil, fmt.Errorf("%w: insufficient cash, total %s received %s", store.ErrValidation, sale.Total.StringFixed(domain.MoneyScale), pay.CashReceived.StringFixed(domain.MoneyScale))
		}
		sale.CashReceived = pay.CashReceived
		sale.Change = change
	} else {
		sale.PaymentTransactionID = pay.TransactionID
		sale.PaymentStatus = pay.Status
	}

	sale.LoyaltyPointsUsed = pay.PointsUsed
	sale.LoyaltyPointsEarned = 0
	if customer != nil {
		sale.LoyaltyPointsEarned = loyalty.ComputeEarned(program, sale.Total)
	}

	sale.Status = domain.SaleStatusCompleted
	sale.CompletedAt = &now
	if err := persist(ctx, *sale); err != nil {
		return nil, err
	}

	var lowStock []domain.Product
	for _, line := range sale.Items {
		if err := inventory.DecrementStock(ctx, tx, tc, line.ProductID, line.Quantity); err != nil {
			return nil, err
		}
		product, err := tx.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if product.BelowMinStock() {
			lowStock = append(lowStock, *product)
		}
	}

	if customer == nil {
		return lowStock, nil
	}
	if err := customers.RecordPurchase(ctx, tx, customer, sale.Total, now); err != nil {
		return nil, err
	}
	if sale.LoyaltyPointsEarned > 0 {
		if _, err := loyalty.Earn(ctx, tx, tc, customer, sale.LoyaltyPointsEarned, loyalty.Entry{
			Reason:        domain.ReasonPurchase,
			Description:   "points earned on sale " + sale.ID,
			RelatedSaleID: sale.ID,
		}); err != nil {
			return nil, err
		}
	}
	if sale.LoyaltyPointsUsed > 0 {
		if _, err := loyalty.Redeem(ctx, tx, tc, customer, sale.LoyaltyPointsUsed, loyalty.Entry{
			Reason:        domain.ReasonRedemption,
			Description:   "points redeemed on sale " + sale.ID,
			RelatedSaleID: sale.ID,
		}); err != nil {
			return nil, err
		}
	}
	return lowStock, nil
}

// CreateDraftSale prices a cart and stores it as a draft. Drafts reserve
// nothing: stock and loyalty are only charged by CompleteDraftSale.
func (s *Service) CreateDraftSale(ctx context.Context, tc domain.TenantContext, req domain.DraftSaleRequest) (string, error) {
	if err := requireTenant(tc); err != nil {
		return "", err
	}
	if len(req.Items) == 0 {
		return "", fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}
	if err := validateDiscountPercentage(req.DiscountPercentage); err != nil {
		return "", err
	}

	sale := domain.Sale{
		ID:                 xid.New("sale"),
		OrganizationID:     tc.OrganizationID,
		CustomerID:         req.CustomerID,
		Status:             domain.SaleStatusDraft,
		DiscountPercentage: req.DiscountPercentage,
		Notes:              strings.TrimSpace(req.Notes),
		CreatedBy:          tc.ActorID,
		CreatedAt:          s.now(),
	}
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		lines, err := priceCart(ctx, tx, tc, sale.ID, req.Items)
		if err != nil {
			return err
		}
		sale.Items = lines
		if sale.CustomerID != "" {
			if _, err := customers.Get(ctx, tx, tc, sale.CustomerID); err != nil {
				return err
			}
		}
		totals, err := computeTotals(sale.Items, sale.DiscountPercentage, decimal.Zero)
		if err != nil {
			return err
		}
		totals.applyTo(&sale)
		return tx.InsertSale(ctx, sale)
	})
	if err != nil {
		return "", err
	}
	return sale.ID, nil
}

// ApplyDiscount re-prices a draft with a new sale-level percentage.
func (s *Service) ApplyDiscount(ctx context.Context, tc domain.TenantContext, saleID string, discountPercentage decimal.Decimal) (domain.Sale, error) {
	if err := requireTenant(tc); err != nil {
		return domain.Sale{}, err
	}
	if !discountPercentage.IsPositive() {
		return domain.Sale{}, fmt.Errorf("%w: discount percentage must be positive", store.ErrValidation)
	}
	if err := validateDiscountPercentage(discountPercentage); err != nil {
		return domain.Sale{}, err
	}

	var sale *domain.Sale
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		sale, err = getOwnedSale(ctx, tx, tc, saleID)
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleStatusDraft {
			return fmt.Errorf("%w: sale %s is %s, discounts apply to drafts only", store.ErrInvalidStateTransition, sale.ID, sale.Status)
		}
		sale.DiscountPercentage = discountPercentage
		totals, err := computeTotals(sale.Items, discountPercentage, decimal.Zero)
		if err != nil {
			return err
		}
		totals.applyTo(sale)
		return tx.UpdateSaleHeader(ctx, *sale)
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// CompleteDraftSale moves a draft to completed, charging stock and loyalty
// exactly as CreateSale does for the draft's stored lines.
func (s *Service) CompleteDraftSale(ctx context.Context, tc domain.TenantContext, saleID string, req domain.CompleteDraftRequest) (domain.Sale, error) {
	if err := requireTenant(tc); err != nil {
		return domain.Sale{}, err
	}
	pay := payment{
		Method:        req.PaymentMethod,
		TransactionID: strings.TrimSpace(req.PaymentTransactionID),
		Status:        strings.TrimSpace(req.PaymentStatus),
		CashReceived:  req.CashReceived,
		PointsUsed:    req.LoyaltyPointsUsed,
	}
	if err := pay.validate(); err != nil {
		return domain.Sale{}, err
	}
	program, err := s.programs.Get(ctx, tc.OrganizationID)
	if err != nil {
		return domain.Sale{}, err
	}

	now := s.now()
	var sale *domain.Sale
	var lowStock []domain.Product
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		sale, err = getOwnedSale(ctx, tx, tc, saleID)
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleStatusDraft {
			return fmt.Errorf("%w: sale %s is %s, only drafts can be completed", store.ErrInvalidStateTransition, sale.ID, sale.Status)
		}

		requested := make(map[string]int, len(sale.Items))
		for _, line := range sale.Items {
			product, err := inventory.GetActiveProduct(ctx, tx, tc, line.ProductID)
			if err != nil {
				return err
			}
			requested[product.ID] += line.Quantity
			if product.Stock < requested[product.ID] {
				return fmt.Errorf("%w: product %s has %d units, requested %d", store.ErrInsufficientStock, product.ID, product.Stock, requested[product.ID])
			}
		}

		var customer *domain.Customer
		if sale.CustomerID != "" {
			customer, err = customers.Get(ctx, tx, tc, sale.CustomerID)
			if err != nil {
				return err
			}
		}
		lowStock, err = s.complete(ctx, tx, tc, sale, customer, program, pay, now, tx.UpdateSaleHeader)
		return err
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.warnLowStock(tc, lowStock)
	s.publish(ctx, tc, domain.EventSaleCompleted, *sale)
	return *sale, nil
}

func (s *Service) GetSale(ctx context.Context, tc domain.TenantContext, saleID string) (domain.Sale, error) {
	if err := requireTenant(tc); err != nil {
		return domain.Sale{}, err
	}
	var sale *domain.Sale
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		sale, err = getOwnedSale(ctx, tx, tc, saleID)
		return err
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// AdjustStock is the manual inventory correction path.
func (s *Service) AdjustStock(ctx context.Context, tc domain.TenantContext, productID string, req domain.StockAdjustRequest) (domain.Product, error) {
	if err := requireTenant(tc); err != nil {
		return domain.Product{}, err
	}
	var product *domain.Product
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		product, err = inventory.AdjustStock(ctx, tx, tc, productID, req.Quantity, req.Op)
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.logger.Info("stock adjusted",
		zap.String("organization_id", tc.OrganizationID),
		zap.String("product_id", productID),
		zap.String("op", string(req.Op)),
		zap.Int("quantity", req.Quantity),
		zap.Int("stock", product.Stock),
		zap.String("actor", tc.ActorID),
	)
	return *product, nil
}

// AdjustLoyaltyPoints changes a balance outside of any sale, bypassing the
// program's earn and redemption rates. It returns the new balance.
func (s *Service) AdjustLoyaltyPoints(ctx context.Context, tc domain.TenantContext, customerID string, req domain.LoyaltyAdjustRequest) (int64, error) {
	if err := requireTenant(tc); err != nil {
		return 0, err
	}
	if !req.Op.IsValid() {
		return 0, fmt.Errorf("%w: unknown loyalty operation %q", store.ErrValidation, req.Op)
	}
	if req.Points < 0 || (req.Points == 0 && req.Op != domain.AdjustSet) {
		return 0, fmt.Errorf("%w: points must be positive", store.ErrValidation)
	}

	var balance int64
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		customer, err := customers.Get(ctx, tx, tc, customerID)
		if err != nil {
			return err
		}

		var delta int64
		switch req.Op {
		case domain.AdjustAdd:
			delta = req.Points
		case domain.AdjustSubtract:
			if req.Points > customer.LoyaltyPoints {
				return fmt.Errorf("%w: balance %d, requested %d", store.ErrInsufficientLoyaltyPoints, customer.LoyaltyPoints, req.Points)
			}
			delta = -req.Points
		case domain.AdjustSet:
			delta = req.Points - customer.LoyaltyPoints
		}
		if delta == 0 {
			balance = customer.LoyaltyPoints
			return nil
		}

		description := strings.TrimSpace(req.Description)
		if description == "" {
			description = fmt.Sprintf("manual %s %d", req.Op, req.Points)
		}
		entry, err := loyalty.Adjust(ctx, tx, tc, customer, delta, loyalty.Entry{
			Reason:      domain.ReasonManual,
			Description: description,
		})
		if err != nil {
			return err
		}
		balance = entry.Balance
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) ListLoyaltyTransactions(ctx context.Context, tc domain.TenantContext, customerID string) ([]domain.LoyaltyTransaction, error) {
	if err := requireTenant(tc); err != nil {
		return nil, err
	}
	var entries []domain.LoyaltyTransaction
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := customers.Get(ctx, tx, tc, customerID); err != nil {
			return err
		}
		var err error
		entries, err = tx.ListLoyaltyTransactions(ctx, customerID)
		return err
	})
	return entries, err
}

// RebuildLoyaltyBalance resets the cached balance of a customer to the
// replayed ledger sum and returns it.
func (s *Service) RebuildLoyaltyBalance(ctx context.Context, tc domain.TenantContext, customerID string) (int64, error) {
	if err := requireTenant(tc); err != nil {
		return 0, err
	}
	var replayed, cached int64
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		customer, err := customers.Get(ctx, tx, tc, customerID)
		if err != nil {
			return err
		}
		entries, err := tx.ListLoyaltyTransactions(ctx, customerID)
		if err != nil {
			return err
		}
		if err := loyalty.VerifyChain(entries); err != nil {
			s.logger.Warn("loyalty ledger snapshots inconsistent", zap.String("customer_id", customerID), zap.Error(err))
		}
		replayed = loyalty.Replay(entries)
		if replayed < 0 {
			return fmt.Errorf("loyalty ledger for customer %s replays to negative balance %d", customerID, replayed)
		}
		cached = customer.LoyaltyPoints
		if replayed == cached {
			return nil
		}
		customer.LoyaltyPoints = replayed
		return tx.UpdateCustomerAggregates(ctx, *customer)
	})
	if err != nil {
		return 0, err
	}
	if replayed != cached {
		s.logger.Warn("loyalty balance rebuilt from ledger",
			zap.String("customer_id", customerID),
			zap.Int64("cached", cached),
			zap.Int64("replayed", replayed),
		)
	}
	return replayed, nil
}

func (s *Service) GetLoyaltyProgram(ctx context.Context, tc domain.TenantContext) (domain.LoyaltyProgram, error) {
	if err := requireTenant(tc); err != nil {
		return domain.LoyaltyProgram{}, err
	}
	return s.programs.Get(ctx, tc.OrganizationID)
}

func (s *Service) UpdateLoyaltyProgram(ctx context.Context, tc domain.TenantContext, program domain.LoyaltyProgram) (domain.LoyaltyProgram, error) {
	if err := requireTenant(tc); err != nil {
		return domain.LoyaltyProgram{}, err
	}
	program.OrganizationID = tc.OrganizationID
	return s.programs.Save(ctx, program)
}

func getOwnedSale(ctx context.Context, tx store.Tx, tc domain.TenantContext, saleID string) (*domain.Sale, error) {
	sale, err := tx.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.OrganizationID != tc.OrganizationID {
		return nil, fmt.Errorf("%w: sale %s belongs to another organization", store.ErrUnauthorized, saleID)
	}
	return sale, nil
}

func requireTenant(tc domain.TenantContext) error {
	if strings.TrimSpace(tc.OrganizationID) == "" {
		return fmt.Errorf("%w: organization context required", store.ErrUnauthorized)
	}
	return nil
}

func (s *Service) warnLowStock(tc domain.TenantContext, products []domain.Product) {
	for _, p := range products {
		s.logger.Warn("product at or below minimum stock",
			zap.String("organization_id", tc.OrganizationID),
			zap.String("product_id", p.ID),
			zap.Int("stock", p.Stock),
			zap.Int("min_stock", p.MinStock),
		)
	}
}

// publish is best effort: the sale has already committed.
func (s *Service) publish(ctx context.Context, tc domain.TenantContext, kind domain.SaleEventType, sale domain.Sale) {
	event := domain.SaleEvent{
		Type:           kind,
		OrganizationID: sale.OrganizationID,
		SaleID:         sale.ID,
		CustomerID:     sale.CustomerID,
		Total:          sale.Total,
		ActorID:        tc.ActorID,
		OccurredAt:     s.now(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("sale event publish failed", zap.String("type", string(kind)), zap.String("sale_id", sale.ID), zap.Error(err))
	}
}
