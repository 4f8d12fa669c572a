package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"bodega/backend/internal/domain"
	"bodega/backend/internal/pos"
	"bodega/backend/internal/service"
	"bodega/backend/internal/store/memory"
	"bodega/backend/internal/store/sqlstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTheme struct{ opt domain.ThemeOption }

func (f *fakeTheme) Theme(context.Context) (domain.ThemeOption, error) {
	if f.opt == "" {
		return domain.ThemeSystem, nil
	}
	return f.opt, nil
}

func (f *fakeTheme) SetTheme(_ context.Context, opt domain.ThemeOption) error {
	f.opt = opt
	return nil
}

type fakeBackups struct {
	restored []byte
}

func (f *fakeBackups) Export(_ context.Context, w io.Writer) error {
	_, err := io.WriteString(w, "SQLite format 3\x00payload")
	return err
}

func (f *fakeBackups) Restore(_ context.Context, r io.Reader) error {
	b, err := io.ReadAll(r)
	f.restored = b
	return err
}

func (f *fakeBackups) Snapshot(context.Context) (string, error) {
	return "backups/bodega_backup_2024-03-15_18-30.db", nil
}

func (f *fakeBackups) SuggestedName() string { return "bodega_backup_2024-03-15_18-30.db" }

type testEnv struct {
	api     *API
	handler http.Handler
	backups *fakeBackups
}

// newTestAPI builds the full request path over the seeded in-memory store.
func newTestAPI(t *testing.T, pin string, withBackups bool) *testEnv {
	t.Helper()

	deps := service.Dependencies{Settings: &fakeTheme{}}
	env := &testEnv{}
	if withBackups {
		env.backups = &fakeBackups{}
		deps.Backups = env.backups
	}
	svc := service.New(memory.NewSeeded(), deps)
	api, err := New(svc, pos.NewSession(svc, svc, nil), Options{AllowedOrigin: "*", ManagerPIN: pin, Heartbeat: time.Hour})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	env.api = api
	env.handler = api.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method string, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	env := newTestAPI(t, "", false)
	rec := env.do(t, http.MethodGet, "/healthz", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestProductRoutes(t *testing.T) {
	env := newTestAPI(t, "", false)

	rec := env.do(t, http.MethodPost, "/api/v1/products", map[string]any{
		"name":           "Galletas Soda",
		"category":       "Abarrotes",
		"purchase_price": "0.80",
		"sale_price":     "1.20",
		"stock":          30,
		"barcode":        "7750243000097",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	created := decodeBody[struct{ Product domain.Product }](t, rec).Product
	if created.ID == 0 || !created.SalePrice.Equal(decimal.RequireFromString("1.20")) {
		t.Fatalf("unexpected product %+v", created)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/products", map[string]any{
		"name":    "Otra",
		"stock":   1,
		"barcode": "7750243000097",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate barcode: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/products/barcode/7750243000035", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("barcode lookup: expected 200, got %d", rec.Code)
	}
	if got := decodeBody[struct{ Product domain.Product }](t, rec).Product.Name; got != "Inca Kola 500ml" {
		t.Fatalf("barcode lookup returned %q", got)
	}

	if rec = env.do(t, http.MethodGet, "/api/v1/products/barcode/0000", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown barcode: expected 404, got %d", rec.Code)
	}
	if rec = env.do(t, http.MethodGet, "/api/v1/products/999", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id: expected 404, got %d", rec.Code)
	}
	if rec = env.do(t, http.MethodGet, "/api/v1/products/abc", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/products/search?name=leche&category=lac", nil)
	found := decodeBody[struct{ Products []domain.Product }](t, rec).Products
	if len(found) != 1 || found[0].ID != 4 {
		t.Fatalf("search: expected Leche Gloria only, got %+v", found)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/products/low-stock?threshold=10", nil)
	low := decodeBody[struct{ Products []domain.Product }](t, rec).Products
	if len(low) != 2 {
		t.Fatalf("low stock: expected 2 products, got %d", len(low))
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	env := newTestAPI(t, "", false)
	rec := env.do(t, http.MethodPost, "/api/v1/categories", map[string]any{"name": "Panadería", "color": "red"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCommitSaleRoutes(t *testing.T) {
	env := newTestAPI(t, "", false)

	rec := env.do(t, http.MethodPost, "/api/v1/sales", domain.CommitSaleRequest{
		Lines: []domain.CheckoutLine{{ProductID: 4, Quantity: 5, UnitSalePrice: decimal.RequireFromString("4.20")}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("overdraw: expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/api/v1/products/4", nil)
	if stock := decodeBody[struct{ Product domain.Product }](t, rec).Product.Stock; stock != 4 {
		t.Fatalf("expected stock untouched at 4, got %d", stock)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/sales", domain.CommitSaleRequest{
		Lines: []domain.CheckoutLine{{
			ProductID:         3,
			Quantity:          2,
			UnitSalePrice:     decimal.RequireFromString("2.50"),
			UnitPurchasePrice: decimal.RequireFromString("1.50"),
		}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("commit: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	sale := decodeBody[struct{ Sale domain.Sale }](t, rec).Sale
	if !sale.Total.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected total 5, got %s", sale.Total)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/sales", nil)
	if sales := decodeBody[struct{ Sales []domain.Sale }](t, rec).Sales; len(sales) != 1 {
		t.Fatalf("expected one sale, got %d", len(sales))
	}

	if rec = env.do(t, http.MethodPost, "/api/v1/sales", domain.CommitSaleRequest{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty sale: expected 400, got %d", rec.Code)
	}
}

func TestCartRoutes(t *testing.T) {
	env := newTestAPI(t, "", false)

	rec := env.do(t, http.MethodPost, "/api/v1/cart/lines", map[string]any{"barcode": "7750243000035"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add barcode: expected 200, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/v1/cart/lines", map[string]any{"product_id": 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("add id: expected 200, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPut, "/api/v1/cart/lines/1", map[string]any{"quantity": 3})
	view := decodeBody[struct {
		Applied bool
		Cart    pos.View
	}](t, rec)
	if !view.Applied || view.Cart.Count != 2 || !view.Cart.Total.Equal(decimal.RequireFromString("16.00")) {
		t.Fatalf("unexpected cart %+v", view)
	}

	if rec = env.do(t, http.MethodPost, "/api/v1/cart/lines", map[string]any{"barcode": "0000"}); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown barcode: expected 404, got %d", rec.Code)
	}
	if rec = env.do(t, http.MethodPost, "/api/v1/cart/lines", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty line: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/cart/checkout", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	out := decodeBody[struct {
		Sale domain.Sale
		Cart pos.View
	}](t, rec)
	if !out.Sale.Total.Equal(decimal.RequireFromString("16.00")) || out.Cart.Count != 0 {
		t.Fatalf("unexpected checkout %+v", out)
	}

	if rec = env.do(t, http.MethodPost, "/api/v1/cart/checkout", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty checkout: expected 400, got %d", rec.Code)
	}
}

func TestTrailingReportFormats(t *testing.T) {
	env := newTestAPI(t, "", false)

	rec := env.do(t, http.MethodGet, "/api/v1/reports/trailing?format=csv", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csv: expected 200, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("csv: unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.HasPrefix(rec.Body.String(), "day,label,sales,margin") {
		t.Fatalf("csv: unexpected header line in %q", rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), ".csv") {
		t.Fatalf("csv: expected attachment name, got %q", rec.Header().Get("Content-Disposition"))
	}

	rec = env.do(t, http.MethodGet, "/api/v1/reports/trailing?format=xlsx", nil)
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		t.Fatalf("xlsx: expected a workbook, got %d with %d bytes", rec.Code, rec.Body.Len())
	}

	if rec = env.do(t, http.MethodGet, "/api/v1/reports/trailing?format=pdf", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("pdf: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/dashboard", nil)
	dash := decodeBody[struct{ Dashboard domain.Dashboard }](t, rec).Dashboard
	if dash.LowStockThreshold != 5 || len(dash.LowStock) != 1 {
		t.Fatalf("unexpected dashboard alerts %+v", dash)
	}
}

func TestThemeRoutes(t *testing.T) {
	env := newTestAPI(t, "", false)

	rec := env.do(t, http.MethodGet, "/api/v1/settings/theme", nil)
	if got := decodeBody[map[string]string](t, rec)["theme"]; got != "SYSTEM" {
		t.Fatalf("expected SYSTEM, got %q", got)
	}
	if rec = env.do(t, http.MethodPut, "/api/v1/settings/theme", map[string]string{"theme": "dark"}); rec.Code != http.StatusOK {
		t.Fatalf("set theme: expected 200, got %d", rec.Code)
	}
	if rec = env.do(t, http.MethodPut, "/api/v1/settings/theme", map[string]string{"theme": "sepia"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad theme: expected 400, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/settings/theme", nil)
	if got := decodeBody[map[string]string](t, rec)["theme"]; got != "DARK" {
		t.Fatalf("expected DARK, got %q", got)
	}
}

func TestBackupRoutes(t *testing.T) {
	env := newTestAPI(t, "", true)

	rec := env.do(t, http.MethodGet, "/api/v1/backup", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("download: expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "bodega_backup_2024-03-15_18-30.db") {
		t.Fatalf("unexpected disposition %q", got)
	}
	if !strings.HasPrefix(rec.Body.String(), "SQLite format 3") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}

	if rec = env.do(t, http.MethodPost, "/api/v1/backup/snapshot", nil); rec.Code != http.StatusCreated {
		t.Fatalf("snapshot: expected 201, got %d", rec.Code)
	}

	bare := newTestAPI(t, "", false)
	if rec = bare.do(t, http.MethodGet, "/api/v1/backup", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("no backups: expected 503, got %d", rec.Code)
	}
}

func TestFeedStreamsSnapshots(t *testing.T) {
	env := newTestAPI(t, "", false)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/feeds/categories", nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open feed: %v", err)
	}
	defer res.Body.Close()

	if got := res.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
		t.Fatalf("unexpected content type %q", got)
	}

	scanner := bufio.NewScanner(res.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		}
		if strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			break
		}
	}
	if event != "categories" {
		t.Fatalf("expected categories event, got %q", event)
	}
	if !strings.Contains(data, "Abarrotes") {
		t.Fatalf("expected seeded categories in %q", data)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/feeds/unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown feed: expected 404, got %d", rec.Code)
	}
}

func TestDeleteReferencedProductConflictsOnSQLite(t *testing.T) {
	repo, err := sqlstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "bodega.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	svc := service.New(repo, service.Dependencies{})
	api, err := New(svc, pos.NewSession(svc, svc, nil), Options{AllowedOrigin: "*"})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	env := &testEnv{api: api, handler: api.Handler()}

	rec := env.do(t, http.MethodPost, "/api/v1/products", map[string]any{
		"name":           "Inca Kola 500ml",
		"purchase_price": "1.50",
		"sale_price":     "2.50",
		"stock":          10,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	product := decodeBody[struct{ Product domain.Product }](t, rec).Product

	rec = env.do(t, http.MethodPost, "/api/v1/sales", domain.CommitSaleRequest{
		Lines: []domain.CheckoutLine{{ProductID: product.ID, Quantity: 1, UnitSalePrice: product.SalePrice}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("commit: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/products/%d", product.ID), nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete referenced: expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/products/%d", product.ID), nil); rec.Code != http.StatusOK {
		t.Fatalf("product should survive the refused delete, got %d", rec.Code)
	}
}
