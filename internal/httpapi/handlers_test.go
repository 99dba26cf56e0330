package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"solemate/backend/internal/domain"
	"solemate/backend/internal/service"
	"solemate/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.New()
	svc := service.New(repo, nil, nil, time.UTC, time.Second)
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", repo)

	return New(svc, auth, "*", nil)
}

func loginToken(t *testing.T, api *API, username string, password string) string {
	t.Helper()
	resp, err := api.auth.Login(domain.LoginRequest{Username: username, Password: password})
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return resp.AccessToken
}

// doJSON issues an authenticated JSON request with a valid CSRF token.
func doJSON(api *API, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	var body *bytes.Reader
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func createStockViaAPI(t *testing.T, api *API, token string) domain.StockItem {
	t.Helper()
	rec := doJSON(api, http.MethodPost, "/api/v1/stocks", token, domain.StockCreateRequest{
		Name:     "Runner Pro 2",
		Category: "running",
		UnitCost: decimal.NewFromInt(150),
		Variants: []domain.VariantInput{
			{Size: "40", Color: "black", Quantity: 6},
			{Size: "42", Color: "white", Quantity: 4},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create stock: status %d body %s", rec.Code, rec.Body.String())
	}
	var item domain.StockItem
	if err := json.NewDecoder(rec.Body).Decode(&item); err != nil {
		t.Fatalf("decode stock: %v", err)
	}
	return item
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHealthSurfacesStorageWarning(t *testing.T) {
	api := newTestAPI(t)
	api.persistStatus = func() error { return errors.New("storage quota exceeded") }

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	var body map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body["storage_warning"] == nil {
		t.Fatalf("expected storage_warning in %v", body)
	}
}

func TestLoginSuccessAndFailure(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "owner", Password: "owner123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status %d body %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if resp.AccessToken == "" || resp.Role != domain.RoleOwner {
		t.Fatalf("unexpected login response: %+v", resp)
	}

	rec = doJSON(api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "owner", Password: "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status %d", rec.Code)
	}
}

func TestStocksRequireAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stocks", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestStaffCannotCreateStock(t *testing.T) {
	api := newTestAPI(t)
	token := loginToken(t, api, "staff", "staff123")

	rec := doJSON(api, http.MethodPost, "/api/v1/stocks", token, domain.StockCreateRequest{
		Name:     "Court Classic",
		UnitCost: decimal.NewFromInt(90),
		Variants: []domain.VariantInput{{Size: "41", Quantity: 2}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestSaleAndRefundFlow(t *testing.T) {
	api := newTestAPI(t)
	ownerToken := loginToken(t, api, "owner", "owner123")
	staffToken := loginToken(t, api, "staff", "staff123")

	item := createStockViaAPI(t, api, ownerToken)

	rec := doJSON(api, http.MethodPost, "/api/v1/sales", staffToken, domain.SaleRequest{
		StockID: item.ID,
		Lines: []domain.SaleLineInput{
			{VariantID: item.Variants[0].ID, Quantity: 2, PricePerUnit: decimal.NewFromInt(200)},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("record sale: status %d body %s", rec.Code, rec.Body.String())
	}
	var saleResp domain.SaleResponse
	if err := json.NewDecoder(rec.Body).Decode(&saleResp); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if saleResp.Stock.CurrentQuantity != 8 {
		t.Fatalf("stock after sale = %d, want 8", saleResp.Stock.CurrentQuantity)
	}

	refundPath := fmt.Sprintf("/api/v1/sales/%s/refund", saleResp.Records[0].ID)

	rec = doJSON(api, http.MethodPost, refundPath, staffToken, domain.RefundRequest{OwnerPIN: "000000"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("bad PIN: status %d, want 403", rec.Code)
	}

	rec = doJSON(api, http.MethodPost, refundPath, staffToken, domain.RefundRequest{OwnerPIN: "123456"})
	if rec.Code != http.StatusOK {
		t.Fatalf("refund: status %d body %s", rec.Code, rec.Body.String())
	}
	var refund domain.RefundResponse
	if err := json.NewDecoder(rec.Body).Decode(&refund); err != nil {
		t.Fatalf("decode refund: %v", err)
	}
	if !refund.Refunded || refund.Stock == nil || refund.Stock.CurrentQuantity != 10 {
		t.Fatalf("unexpected refund response: %+v", refund)
	}
}

func TestOversellReturnsConflict(t *testing.T) {
	api := newTestAPI(t)
	ownerToken := loginToken(t, api, "owner", "owner123")
	item := createStockViaAPI(t, api, ownerToken)

	rec := doJSON(api, http.MethodPost, "/api/v1/sales", ownerToken, domain.SaleRequest{
		StockID: item.ID,
		Lines: []domain.SaleLineInput{
			{VariantID: item.Variants[0].ID, Quantity: 99, PricePerUnit: decimal.NewFromInt(200)},
		},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("oversell: status %d, want 409", rec.Code)
	}
}

func TestDashboardEndpoint(t *testing.T) {
	api := newTestAPI(t)
	token := loginToken(t, api, "staff", "staff123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard: status %d body %s", rec.Code, rec.Body.String())
	}
	var dash domain.Dashboard
	if err := json.NewDecoder(rec.Body).Decode(&dash); err != nil {
		t.Fatalf("decode dashboard: %v", err)
	}
}

func TestBackupExportImportOwnerOnly(t *testing.T) {
	api := newTestAPI(t)
	ownerToken := loginToken(t, api, "owner", "owner123")
	staffToken := loginToken(t, api, "staff", "staff123")
	createStockViaAPI(t, api, ownerToken)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/backup/export", nil)
	req.Header.Set("Authorization", "Bearer "+staffToken)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff export: status %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/backup/export", nil)
	req.Header.Set("Authorization", "Bearer "+ownerToken)
	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: status %d", rec.Code)
	}
	if rec.Header().Get("Content-Disposition") == "" {
		t.Fatal("export missing Content-Disposition")
	}
	exported := rec.Body.Bytes()

	req = httptest.NewRequest(http.MethodPost, "/api/v1/backup/import", bytes.NewReader(exported))
	req.Header.Set("Authorization", "Bearer "+ownerToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("import: status %d body %s", rec.Code, rec.Body.String())
	}

	var result service.ImportResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode import result: %v", err)
	}
	if result.Stocks != 1 {
		t.Fatalf("import result = %+v", result)
	}
}

func TestMalformedBackupRejected(t *testing.T) {
	api := newTestAPI(t)
	ownerToken := loginToken(t, api, "owner", "owner123")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/backup/import", bytes.NewReader([]byte(`{"sales":[]}`)))
	req.Header.Set("Authorization", "Bearer "+ownerToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed import: status %d, want 400", rec.Code)
	}
}

func TestStaffManagement(t *testing.T) {
	api := newTestAPI(t)
	ownerToken := loginToken(t, api, "owner", "owner123")

	rec := doJSON(api, http.MethodPost, "/api/v1/users/staff", ownerToken, domain.StaffCreateRequest{
		Username: "newstaff", Password: "secret123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create staff: status %d body %s", rec.Code, rec.Body.String())
	}

	if _, err := api.auth.Login(domain.LoginRequest{Username: "newstaff", Password: "secret123"}); err != nil {
		t.Fatalf("new staff cannot log in: %v", err)
	}
}
