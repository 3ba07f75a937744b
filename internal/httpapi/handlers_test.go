package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stationpos/backend/internal/domain"
	"stationpos/backend/internal/service"
	"stationpos/backend/internal/store/memory"
)

const testOrg = "org-main"

func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo, err := memory.NewSeeded(testOrg, "admin123", "cashier123")
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	logger := zap.NewNop()
	svc := service.New(repo, nil, nil, logger)
	auth := NewAuthManager("test-secret-with-enough-length-000", time.Hour, repo, logger)
	return New(svc, auth, "*", logger)
}

func loginToken(t *testing.T, api *API, username, password string) string {
	t.Helper()

	res := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	if res.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d: %s", username, res.Code, res.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(res.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, api *API, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func fuelSale(qty int) domain.CreateSaleRequest {
	return domain.CreateSaleRequest{
		CustomerID:    "cus-fleet-01",
		Items:         []domain.SaleItemRequest{{ProductID: "prd-fuel-95", Quantity: qty}},
		PaymentMethod: domain.PaymentCash,
		CashReceived:  decimal.NewFromInt(25),
	}
}

func createSale(t *testing.T, api *API, token string, req domain.CreateSaleRequest) string {
	t.Helper()

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, req)
	if res.Code != http.StatusCreated {
		t.Fatalf("create sale: expected 201, got %d: %s", res.Code, res.Body.String())
	}
	var resp domain.CreateSaleResponse
	if err := json.Unmarshal(res.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if resp.SaleID == "" {
		t.Fatalf("expected sale id in response")
	}
	return resp.SaleID
}

func decodeSale(t *testing.T, res *httptest.ResponseRecorder) domain.Sale {
	t.Helper()

	var resp domain.SaleResponse
	if err := json.Unmarshal(res.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	return resp.Sale
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	res := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "admin123"})

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(res.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AccessToken == "" || resp.Role != domain.RoleAdmin || resp.OrganizationID != testOrg {
		t.Fatalf("unexpected login response %+v", resp)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	res := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginToken(t, api, "cashier", "cashier123")
	admin := loginToken(t, api, "admin", "admin123")

	saleID := createSale(t, api, cashier, fuelSale(10))

	res := doJSON(t, api, http.MethodGet, "/api/v1/sales/"+saleID, cashier, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("get sale: expected 200, got %d", res.Code)
	}
	sale := decodeSale(t, res)
	if sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected completed sale, got %s", sale.Status)
	}
	// 10 x 1.74 plus 21% tax rounded per line.
	if !sale.Total.Equal(decimal.RequireFromString("21.05")) {
		t.Fatalf("expected total 21.05, got %s", sale.Total)
	}
	if !sale.Change.Equal(decimal.RequireFromString("3.95")) {
		t.Fatalf("expected change 3.95, got %s", sale.Change)
	}
	if sale.LoyaltyPointsEarned != 21 {
		t.Fatalf("expected 21 points earned, got %d", sale.LoyaltyPointsEarned)
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/sales/"+saleID+"/cancel", cashier, domain.CancelSaleRequest{Reason: "pump fault"})
	if res.Code != http.StatusForbidden {
		t.Fatalf("cashier cancel: expected 403, got %d", res.Code)
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/sales/"+saleID+"/cancel", admin, domain.CancelSaleRequest{Reason: "pump fault"})
	if res.Code != http.StatusOK {
		t.Fatalf("admin cancel: expected 200, got %d: %s", res.Code, res.Body.String())
	}
	cancelled := decodeSale(t, res)
	if cancelled.Status != domain.SaleStatusCancelled || cancelled.CancelReason != "pump fault" || cancelled.CancelledBy != "admin" {
		t.Fatalf("unexpected cancelled sale %+v", cancelled)
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/sales/"+saleID+"/cancel", admin, nil)
	if res.Code != http.StatusConflict {
		t.Fatalf("second cancel: expected 409, got %d", res.Code)
	}

	res = doJSON(t, api, http.MethodGet, "/api/v1/customers/cus-fleet-01/loyalty/transactions", cashier, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("list loyalty: expected 200, got %d", res.Code)
	}
	var ledger domain.LoyaltyTransactionListResponse
	if err := json.Unmarshal(res.Body.Bytes(), &ledger); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	if len(ledger.Transactions) != 2 {
		t.Fatalf("expected earn and reversal entries, got %d", len(ledger.Transactions))
	}
	if ledger.Transactions[0].Type != domain.LoyaltyEarn || ledger.Transactions[1].Points != -21 || ledger.Transactions[1].Balance != 0 {
		t.Fatalf("unexpected ledger %+v", ledger.Transactions)
	}
}

func TestDraftSaleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginToken(t, api, "cashier", "cashier123")

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales/drafts", cashier, domain.DraftSaleRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prd-coffee", Quantity: 2}},
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("create draft: expected 201, got %d: %s", res.Code, res.Body.String())
	}
	var created domain.CreateSaleResponse
	_ = json.Unmarshal(res.Body.Bytes(), &created)

	res = doJSON(t, api, http.MethodPost, "/api/v1/sales/"+created.SaleID+"/discount", cashier, domain.ApplyDiscountRequest{DiscountPercentage: decimal.NewFromInt(10)})
	if res.Code != http.StatusOK {
		t.Fatalf("apply discount: expected 200, got %d: %s", res.Code, res.Body.String())
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/sales/"+created.SaleID+"/complete", cashier, domain.CompleteDraftRequest{PaymentMethod: domain.PaymentCard})
	if res.Code != http.StatusOK {
		t.Fatalf("complete draft: expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if sale := decodeSale(t, res); sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected completed draft, got %s", sale.Status)
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/sales/"+created.SaleID+"/discount", cashier, domain.ApplyDiscountRequest{DiscountPercentage: decimal.NewFromInt(5)})
	if res.Code != http.StatusConflict {
		t.Fatalf("discount on completed sale: expected 409, got %d", res.Code)
	}
}

func TestServiceErrorStatusMapping(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginToken(t, api, "cashier", "cashier123")

	cases := []struct {
		name string
		req  domain.CreateSaleRequest
		want int
	}{
		{
			name: "unknown product",
			req:  domain.CreateSaleRequest{Items: []domain.SaleItemRequest{{ProductID: "prd-missing", Quantity: 1}}, PaymentMethod: domain.PaymentCard},
			want: http.StatusNotFound,
		},
		{
			name: "insufficient stock",
			req:  domain.CreateSaleRequest{Items: []domain.SaleItemRequest{{ProductID: "prd-sandwich", Quantity: 26}}, PaymentMethod: domain.PaymentCard},
			want: http.StatusConflict,
		},
		{
			name: "no items",
			req:  domain.CreateSaleRequest{PaymentMethod: domain.PaymentCard},
			want: http.StatusBadRequest,
		},
		{
			name: "points without enough balance",
			req: domain.CreateSaleRequest{
				CustomerID:        "cus-walkin-01",
				Items:             []domain.SaleItemRequest{{ProductID: "prd-water", Quantity: 1}},
				PaymentMethod:     domain.PaymentCard,
				LoyaltyPointsUsed: 50,
			},
			want: http.StatusConflict,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier, tc.req)
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, res.Code, res.Body.String())
			}
		})
	}
}

func TestUnknownJSONFieldRejected(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginToken(t, api, "cashier", "cashier123")

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier, map[string]any{"items": []any{}, "surprise": true})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestCrossTenantSaleIsForbidden(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginToken(t, api, "cashier", "cashier123")
	saleID := createSale(t, api, cashier, fuelSale(2))

	foreign, err := api.auth.sign("intruder", domain.RoleAdmin, "org-other", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res := doJSON(t, api, http.MethodGet, "/api/v1/sales/"+saleID, foreign, nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
	res = doJSON(t, api, http.MethodPost, "/api/v1/sales/"+saleID+"/refund", foreign, nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on refund, got %d", res.Code)
	}
}

func TestLoyaltyAdjustAndRebuild(t *testing.T) {
	api := newTestAPI(t)
	admin := loginToken(t, api, "admin", "admin123")

	res := doJSON(t, api, http.MethodPost, "/api/v1/customers/cus-walkin-01/loyalty/adjust", admin, domain.LoyaltyAdjustRequest{Points: 40, Op: domain.AdjustAdd, Description: "welcome bonus"})
	if res.Code != http.StatusOK {
		t.Fatalf("adjust: expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var balance domain.LoyaltyBalanceResponse
	_ = json.Unmarshal(res.Body.Bytes(), &balance)
	if balance.Balance != 40 {
		t.Fatalf("expected balance 40, got %d", balance.Balance)
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/customers/cus-walkin-01/loyalty/adjust", admin, domain.LoyaltyAdjustRequest{Points: 100, Op: domain.AdjustSubtract})
	if res.Code != http.StatusConflict {
		t.Fatalf("overdraw: expected 409, got %d", res.Code)
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/customers/cus-walkin-01/loyalty/rebuild", admin, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("rebuild: expected 200, got %d", res.Code)
	}
	_ = json.Unmarshal(res.Body.Bytes(), &balance)
	if balance.Balance != 40 {
		t.Fatalf("expected rebuilt balance 40, got %d", balance.Balance)
	}
}

func TestStockAdjustRequiresSupervisor(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginToken(t, api, "cashier", "cashier123")
	admin := loginToken(t, api, "admin", "admin123")
	req := domain.StockAdjustRequest{Quantity: 5, Op: domain.AdjustAdd}

	res := doJSON(t, api, http.MethodPost, "/api/v1/products/prd-oil-5w30/stock", cashier, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("cashier: expected 403, got %d", res.Code)
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/products/prd-oil-5w30/stock", admin, req)
	if res.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var resp domain.StockAdjustResponse
	_ = json.Unmarshal(res.Body.Bytes(), &resp)
	if resp.Stock != 65 {
		t.Fatalf("expected stock 65, got %d", resp.Stock)
	}
}

func TestLoyaltyProgramEndpoints(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginToken(t, api, "cashier", "cashier123")
	admin := loginToken(t, api, "admin", "admin123")

	res := doJSON(t, api, http.MethodGet, "/api/v1/loyalty/program", cashier, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("get program: expected 200, got %d", res.Code)
	}

	update := domain.LoyaltyProgram{
		Name:                 "Station Rewards Plus",
		PointsPerCurrency:    decimal.NewFromInt(2),
		CurrencyPerPoint:     decimal.RequireFromString("0.01"),
		MinPurchaseForPoints: decimal.NewFromInt(5),
		IsActive:             true,
	}
	res = doJSON(t, api, http.MethodPut, "/api/v1/loyalty/program", cashier, update)
	if res.Code != http.StatusForbidden {
		t.Fatalf("cashier update: expected 403, got %d", res.Code)
	}

	res = doJSON(t, api, http.MethodPut, "/api/v1/loyalty/program", admin, update)
	if res.Code != http.StatusOK {
		t.Fatalf("admin update: expected 200, got %d: %s", res.Code, res.Body.String())
	}

	saleID := createSale(t, api, cashier, fuelSale(10))
	res = doJSON(t, api, http.MethodGet, "/api/v1/sales/"+saleID, cashier, nil)
	if sale := decodeSale(t, res); sale.LoyaltyPointsEarned != 42 {
		t.Fatalf("expected updated rate to earn 42 points, got %d", sale.LoyaltyPointsEarned)
	}

	update.PointsPerCurrency = decimal.NewFromInt(-1)
	res = doJSON(t, api, http.MethodPut, "/api/v1/loyalty/program", admin, update)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("negative rate: expected 400, got %d", res.Code)
	}
}
