package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"stationpos/backend/internal/domain"
	"stationpos/backend/internal/store"
	"stationpos/backend/internal/xid"
)

// Store keeps everything in process memory. Units of work are serialised by
// mu and run against a cloned state that replaces the live one only when the
// unit returns nil.
type Store struct {
	mu    sync.Mutex
	state *state

	metaMu          sync.RWMutex
	programs        map[string]domain.LoyaltyProgram
	usersByUsername map[string]domain.UserAccount
}

type state struct {
	products   map[string]domain.Product
	customers  map[string]domain.Customer
	sales      map[string]domain.Sale
	loyalty    map[string][]domain.LoyaltyTransaction
	loyaltySeq int64
}

func New() *Store {
	return &Store{
		state: &state{
			products:  make(map[string]domain.Product),
			customers: make(map[string]domain.Customer),
			sales:     make(map[string]domain.Sale),
			loyalty:   make(map[string][]domain.LoyaltyTransaction),
		},
		programs:        make(map[string]domain.LoyaltyProgram),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with a demo service-station catalog, two loyalty
// customers, an active program and admin/cashier accounts for organizationID.
func NewSeeded(organizationID string, adminPassword string, cashierPassword string) (*Store, error) {
	s := New()
	price := decimal.RequireFromString
	products := []domain.Product{
		{ID: "prd-fuel-95", SKU: "FUEL-95", Name: "Unleaded 95 (litre)", Price: price("1.74"), Stock: 20000, MinStock: 2000, TaxRate: price("0.21")},
		{ID: "prd-fuel-diesel", SKU: "FUEL-DSL", Name: "Diesel (litre)", Price: price("1.62"), Stock: 25000, MinStock: 2500, TaxRate: price("0.21")},
		{ID: "prd-oil-5w30", SKU: "OIL-5W30", Name: "Engine Oil 5W-30 1L", Price: price("12.90"), Stock: 60, MinStock: 10, TaxRate: price("0.21")},
		{ID: "prd-washer", SKU: "WASH-FLUID", Name: "Screen Wash 5L", Price: price("6.50"), Stock: 40, MinStock: 8, TaxRate: price("0.21")},
		{ID: "prd-coffee", SKU: "CAFE-LATTE", Name: "Latte To Go", Price: price("2.80"), Stock: 300, MinStock: 30, TaxRate: price("0.10")},
		{ID: "prd-sandwich", SKU: "FOOD-SANDW", Name: "Ham Sandwich", Price: price("4.20"), Stock: 25, MinStock: 5, TaxRate: price("0.10")},
		{ID: "prd-water", SKU: "DRINK-WATER", Name: "Still Water 500ml", Price: price("1.10"), Stock: 200, MinStock: 24, TaxRate: price("0.10")},
		{ID: "prd-carwash", SKU: "SRV-CARWASH", Name: "Car Wash Premium", Price: price("9.00"), Stock: 1000, MinStock: 0, TaxRate: price("0.21")},
	}
	for _, p := range products {
		p.OrganizationID = organizationID
		p.IsActive = true
		s.PutProduct(p)
	}
	s.PutCustomer(domain.Customer{ID: "cus-fleet-01", OrganizationID: organizationID, Name: "Ruta Norte Logistics", TotalSpent: decimal.Zero})
	s.PutCustomer(domain.Customer{ID: "cus-walkin-01", OrganizationID: organizationID, Name: "Ana Ortega", Phone: "+34 600 000 111", TotalSpent: decimal.Zero})
	s.PutLoyaltyProgram(domain.LoyaltyProgram{
		OrganizationID:       organizationID,
		Name:                 "Station Rewards",
		PointsPerCurrency:    decimal.NewFromInt(1),
		CurrencyPerPoint:     price("0.01"),
		MinPurchaseForPoints: decimal.NewFromInt(10),
		IsActive:             true,
		UpdatedAt:            time.Now().UTC(),
	})

	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPassword, domain.RoleAdmin},
		{"cashier", cashierPassword, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", u.username, err)
		}
		s.PutUser(domain.UserAccount{
			Username:       u.username,
			Password:       string(hash),
			Role:           u.role,
			OrganizationID: organizationID,
			Active:         true,
			CreatedAt:      time.Now().UTC(),
		})
	}
	return s, nil
}

func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[p.ID] = p
}

func (s *Store) PutCustomer(c domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.customers[c.ID] = c
}

func (s *Store) PutLoyaltyProgram(p domain.LoyaltyProgram) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	s.programs[p.OrganizationID] = p
}

func (s *Store) PutUser(u domain.UserAccount) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	s.usersByUsername[u.Username] = u
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) GetLoyaltyProgram(_ context.Context, organizationID string) (*domain.LoyaltyProgram, error) {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()

	program, ok := s.programs[organizationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &program, nil
}

func (s *Store) UpsertLoyaltyProgram(_ context.Context, program domain.LoyaltyProgram) error {
	if program.OrganizationID == "" {
		return store.ErrValidation
	}
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	s.programs[program.OrganizationID] = program
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	if user.Username == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: username already exists", store.ErrValidation)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

type tx struct {
	st *state
}

func (t *tx) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *tx) DecrementStock(_ context.Context, id string, qty int) error {
	p, ok := t.st.products[id]
	if !ok {
		return store.ErrNotFound
	}
	if qty > p.Stock {
		return store.ErrInsufficientStock
	}
	p.Stock -= qty
	t.st.products[id] = p
	return nil
}

func (t *tx) IncrementStock(_ context.Context, id string, qty int) error {
	p, ok := t.st.products[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Stock += qty
	t.st.products[id] = p
	return nil
}

func (t *tx) SetStock(_ context.Context, id string, qty int) error {
	if qty < 0 {
		return store.ErrValidation
	}
	p, ok := t.st.products[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Stock = qty
	t.st.products[id] = p
	return nil
}

func (t *tx) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	c, ok := t.st.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (t *tx) UpdateCustomerAggregates(_ context.Context, customer domain.Customer) error {
	if _, ok := t.st.customers[customer.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.customers[customer.ID] = customer
	return nil
}

func (t *tx) AppendLoyaltyTransaction(_ context.Context, entry domain.LoyaltyTransaction) (*domain.LoyaltyTransaction, error) {
	if entry.CustomerID == "" {
		return nil, store.ErrValidation
	}
	t.st.loyaltySeq++
	entry.Seq = t.st.loyaltySeq
	if entry.ID == "" {
		entry.ID = xid.New("lty")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	t.st.loyalty[entry.CustomerID] = append(t.st.loyalty[entry.CustomerID], entry)
	return &entry, nil
}

func (t *tx) ListLoyaltyTransactions(_ context.Context, customerID string) ([]domain.LoyaltyTransaction, error) {
	return slices.Clone(t.st.loyalty[customerID]), nil
}

func (t *tx) InsertSale(_ context.Context, sale domain.Sale) error {
	if _, exists := t.st.sales[sale.ID]; exists {
		return fmt.Errorf("%w: sale %s already exists", store.ErrValidation, sale.ID)
	}
	t.st.sales[sale.ID] = cloneSale(sale)
	return nil
}

func (t *tx) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	sale, ok := t.st.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneSale(sale)
	return &dup, nil
}

func (t *tx) UpdateSaleHeader(_ context.Context, sale domain.Sale) error {
	existing, ok := t.st.sales[sale.ID]
	if !ok {
		return store.ErrNotFound
	}
	sale.Items = existing.Items
	t.st.sales[sale.ID] = sale
	return nil
}

func (st *state) clone() *state {
	dup := &state{
		products:   maps.Clone(st.products),
		customers:  maps.Clone(st.customers),
		sales:      maps.Clone(st.sales),
		loyalty:    make(map[string][]domain.LoyaltyTransaction, len(st.loyalty)),
		loyaltySeq: st.loyaltySeq,
	}
	for customerID, entries := range st.loyalty {
		dup.loyalty[customerID] = slices.Clone(entries)
	}
	return dup
}

func cloneSale(src domain.Sale) domain.Sale {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}
