package store

import (
	"context"
	"errors"

	"stationpos/backend/internal/domain"
)

var (
	ErrNotFound                  = errors.New("not found")
	ErrUnauthorized              = errors.New("unauthorized")
	ErrValidation                = errors.New("validation error")
	ErrInsufficientStock         = errors.New("insufficient stock")
	ErrInsufficientLoyaltyPoints = errors.New("insufficient loyalty points")
	ErrInvalidStateTransition    = errors.New("invalid state transition")
)

// Repository is the persistence boundary of the engine. Every mutation goes
// through WithinTx so that stock, customer aggregates, sales and ledger rows
// commit together or not at all.
type Repository interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	GetLoyaltyProgram(ctx context.Context, organizationID string) (*domain.LoyaltyProgram, error)
	UpsertLoyaltyProgram(ctx context.Context, program domain.LoyaltyProgram) error
	UserStore
}

// Tx exposes row-level operations inside one unit of work. Reads lock the rows
// they return until the unit commits or rolls back. Lookups are by id only;
// tenant checks belong to the callers.
type Tx interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	// DecrementStock fails with ErrInsufficientStock when qty exceeds the current stock.
	DecrementStock(ctx context.Context, id string, qty int) error
	IncrementStock(ctx context.Context, id string, qty int) error
	SetStock(ctx context.Context, id string, qty int) error

	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	UpdateCustomerAggregates(ctx context.Context, customer domain.Customer) error

	AppendLoyaltyTransaction(ctx context.Context, entry domain.LoyaltyTransaction) (*domain.LoyaltyTransaction, error)
	ListLoyaltyTransactions(ctx context.Context, customerID string) ([]domain.LoyaltyTransaction, error)

	InsertSale(ctx context.Context, sale domain.Sale) error
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	// UpdateSaleHeader rewrites the header columns of a sale. Line items are never rewritten.
	UpdateSaleHeader(ctx context.Context, sale domain.Sale) error
}

type UserStore interface {
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
