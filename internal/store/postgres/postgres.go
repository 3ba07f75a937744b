package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"stationpos/backend/internal/domain"
	"stationpos/backend/internal/store"
	"stationpos/backend/internal/xid"
)

const defaultRetryLimit = 3

type Store struct {
	db         *sql.DB
	retryLimit int
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an already opened pool.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, retryLimit: defaultRetryLimit}
}

// SetRetryLimit bounds how many times a unit of work is attempted when
// postgres aborts it with a serialization failure.
func (s *Store) SetRetryLimit(n int) {
	if n < 1 {
		n = 1
	}
	s.retryLimit = n
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.retryLimit; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) GetLoyaltyProgram(ctx context.Context, organizationID string) (*domain.LoyaltyProgram, error) {
	var p domain.LoyaltyProgram
	err := s.db.QueryRowContext(ctx, `
		SELECT organization_id, name, points_per_currency, currency_per_point, min_purchase_for_points, is_active, updated_at
		FROM loyalty_programs
		WHERE organization_id = $1
	`, organizationID).Scan(&p.OrganizationID, &p.Name, &p.PointsPerCurrency, &p.CurrencyPerPoint, &p.MinPurchaseForPoints, &p.IsActive, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) UpsertLoyaltyProgram(ctx context.Context, program domain.LoyaltyProgram) error {
	if program.OrganizationID == "" {
		return store.ErrValidation
	}
	if program.UpdatedAt.IsZero() {
		program.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loyalty_programs (organization_id, name, points_per_currency, currency_per_point, min_purchase_for_points, is_active, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (organization_id)
		DO UPDATE SET name = EXCLUDED.name,
			points_per_currency = EXCLUDED.points_per_currency,
			currency_per_point = EXCLUDED.currency_per_point,
			min_purchase_for_points = EXCLUDED.min_purchase_for_points,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`, program.OrganizationID, program.Name, program.PointsPerCurrency, program.CurrencyPerPoint, program.MinPurchaseForPoints, program.IsActive, program.UpdatedAt)
	return err
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, organization_id, active, created_at
		FROM app_users
		WHERE username = $1
	`, username).Scan(&user.Username, &user.Password, &user.Role, &user.OrganizationID, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" || user.OrganizationID == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, organization_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.Username, user.Password, user.Role, user.OrganizationID, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	return nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	var deletedAt sql.NullTime
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, organization_id, sku, name, price, cost, stock, min_stock, tax_rate, is_active, deleted_at
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&p.ID, &p.OrganizationID, &p.SKU, &p.Name, &p.Price, &p.Cost, &p.Stock, &p.MinStock, &p.TaxRate, &p.IsActive, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.DeletedAt = timePtr(deletedAt)
	return &p, nil
}

func (t *pgTx) DecrementStock(ctx context.Context, id string, qty int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
	`, id, qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	err = t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrInsufficientStock
}

func (t *pgTx) IncrementStock(ctx context.Context, id string, qty int) error {
	return t.execOne(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1
	`, id, qty)
}

func (t *pgTx) SetStock(ctx context.Context, id string, qty int) error {
	if qty < 0 {
		return store.ErrValidation
	}
	return t.execOne(ctx, `
		UPDATE products
		SET stock = $2, updated_at = now()
		WHERE id = $1
	`, id, qty)
}

func (t *pgTx) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	var lastPurchase, deletedAt sql.NullTime
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, organization_id, name, phone, loyalty_points, total_spent, total_purchases, last_purchase_at, deleted_at
		FROM customers
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Phone, &c.LoyaltyPoints, &c.TotalSpent, &c.TotalPurchases, &lastPurchase, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.LastPurchaseAt = timePtr(lastPurchase)
	c.DeletedAt = timePtr(deletedAt)
	return &c, nil
}

func (t *pgTx) UpdateCustomerAggregates(ctx context.Context, customer domain.Customer) error {
	return t.execOne(ctx, `
		UPDATE customers
		SET loyalty_points = $2, total_spent = $3, total_purchases = $4, last_purchase_at = $5, updated_at = now()
		WHERE id = $1
	`, customer.ID, customer.LoyaltyPoints, customer.TotalSpent, customer.TotalPurchases, nullTime(customer.LastPurchaseAt))
}

func (t *pgTx) AppendLoyaltyTransaction(ctx context.Context, entry domain.LoyaltyTransaction) (*domain.LoyaltyTransaction, error) {
	if entry.CustomerID == "" {
		return nil, store.ErrValidation
	}
	if entry.ID == "" {
		entry.ID = xid.New("lty")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO loyalty_transactions (
			id, organization_id, customer_id, type, points, balance,
			reason, description, related_sale_id, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING seq
	`, entry.ID, entry.OrganizationID, entry.CustomerID, entry.Type, entry.Points, entry.Balance,
		entry.Reason, entry.Description, nullIfEmpty(entry.RelatedSaleID), entry.CreatedBy, entry.CreatedAt,
	).Scan(&entry.Seq)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (t *pgTx) ListLoyaltyTransactions(ctx context.Context, customerID string) ([]domain.LoyaltyTransaction, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT seq, id, organization_id, customer_id, type, points, balance,
			reason, description, related_sale_id, created_by, created_at
		FROM loyalty_transactions
		WHERE customer_id = $1
		ORDER BY seq ASC
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LoyaltyTransaction, 0, 16)
	for rows.Next() {
		var e domain.LoyaltyTransaction
		var related sql.NullString
		if err := rows.Scan(&e.Seq, &e.ID, &e.OrganizationID, &e.CustomerID, &e.Type, &e.Points, &e.Balance,
			&e.Reason, &e.Description, &related, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.RelatedSaleID = related.String
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, organization_id, customer_id, status,
			subtotal, discount, discount_percentage, loyalty_discount, tax, total,
			payment_method, payment_transaction_id, payment_status, cash_received, change_due,
			loyalty_points_earned, loyalty_points_used, notes, created_by, created_at, completed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`, sale.ID, sale.OrganizationID, nullIfEmpty(sale.CustomerID), sale.Status,
		sale.Subtotal, sale.Discount, sale.DiscountPercentage, sale.LoyaltyDiscount, sale.Tax, sale.Total,
		string(sale.PaymentMethod), sale.PaymentTransactionID, sale.PaymentStatus, sale.CashReceived, sale.Change,
		sale.LoyaltyPointsEarned, sale.LoyaltyPointsUsed, sale.Notes, sale.CreatedBy, sale.CreatedAt, nullTime(sale.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: sale %s already exists", store.ErrValidation, sale.ID)
		}
		return err
	}

	for i, item := range sale.Items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_items (
				id, sale_id, position, product_id, product_name, quantity,
				unit_price, discount, tax_rate, subtotal, tax, total, notes
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`, item.ID, sale.ID, i, item.ProductID, item.ProductName, item.Quantity,
			item.UnitPrice, item.Discount, item.TaxRate, item.Subtotal, item.Tax, item.Total, item.Notes)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	var customerID sql.NullString
	var paymentMethod string
	var completedAt, cancelledAt sql.NullTime
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, organization_id, customer_id, status,
			subtotal, discount, discount_percentage, loyalty_discount, tax, total,
			payment_method, payment_transaction_id, payment_status, cash_received, change_due,
			loyalty_points_earned, loyalty_points_used, notes, created_by, created_at,
			completed_at, cancelled_at, cancelled_by, cancel_reason
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&sale.ID, &sale.OrganizationID, &customerID, &sale.Status,
		&sale.Subtotal, &sale.Discount, &sale.DiscountPercentage, &sale.LoyaltyDiscount, &sale.Tax, &sale.Total,
		&paymentMethod, &sale.PaymentTransactionID, &sale.PaymentStatus, &sale.CashReceived, &sale.Change,
		&sale.LoyaltyPointsEarned, &sale.LoyaltyPointsUsed, &sale.Notes, &sale.CreatedBy, &sale.CreatedAt,
		&completedAt, &cancelledAt, &sale.CancelledBy, &sale.CancelReason,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CustomerID = customerID.String
	sale.PaymentMethod = domain.PaymentMethod(paymentMethod)
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.CompletedAt = timePtr(completedAt)
	sale.CancelledAt = timePtr(cancelledAt)

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, product_id, product_name, quantity, unit_price, discount, tax_rate, subtotal, tax, total, notes
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sale.Items = make([]domain.SaleLineItem, 0, 8)
	for rows.Next() {
		item := domain.SaleLineItem{SaleID: sale.ID}
		if err := rows.Scan(&item.ID, &item.ProductID, &item.ProductName, &item.Quantity,
			&item.UnitPrice, &item.Discount, &item.TaxRate, &item.Subtotal, &item.Tax, &item.Total, &item.Notes); err != nil {
			return nil, err
		}
		sale.Items = append(sale.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (t *pgTx) UpdateSaleHeader(ctx context.Context, sale domain.Sale) error {
	return t.execOne(ctx, `
		UPDATE sales
		SET status = $2,
			subtotal = $3, discount = $4, discount_percentage = $5, loyalty_discount = $6, tax = $7, total = $8,
			payment_method = $9, payment_transaction_id = $10, payment_status = $11, cash_received = $12, change_due = $13,
			loyalty_points_earned = $14, loyalty_points_used = $15, notes = $16,
			completed_at = $17, cancelled_at = $18, cancelled_by = $19, cancel_reason = $20
		WHERE id = $1
	`, sale.ID, sale.Status,
		sale.Subtotal, sale.Discount, sale.DiscountPercentage, sale.LoyaltyDiscount, sale.Tax, sale.Total,
		string(sale.PaymentMethod), sale.PaymentTransactionID, sale.PaymentStatus, sale.CashReceived, sale.Change,
		sale.LoyaltyPointsEarned, sale.LoyaltyPointsUsed, sale.Notes,
		nullTime(sale.CompletedAt), nullTime(sale.CancelledAt), sale.CancelledBy, sale.CancelReason,
	)
}

// execOne runs a single-row write and maps zero affected rows to ErrNotFound.
func (t *pgTx) execOne(ctx context.Context, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SeedProduct and SeedCustomer insert catalog rows. They exist for bootstrap
// and integration tests; the engine itself never creates catalog rows.
func (s *Store) SeedProduct(ctx context.Context, p domain.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, organization_id, sku, name, price, cost, stock, min_stock, tax_rate, is_active, deleted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.OrganizationID, p.SKU, p.Name, p.Price, p.Cost, p.Stock, p.MinStock, p.TaxRate, p.IsActive, nullTime(p.DeletedAt))
	return err
}

func (s *Store) SeedCustomer(ctx context.Context, c domain.Customer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, organization_id, name, phone, loyalty_points, total_spent, total_purchases)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING
	`, c.ID, c.OrganizationID, c.Name, c.Phone, c.LoyaltyPoints, c.TotalSpent, c.TotalPurchases)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isSerializationFailure reports aborts postgres expects the client to retry.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}
