package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gentlechase/api/internal/config"
	"github.com/gentlechase/api/internal/db"
	"github.com/gentlechase/api/internal/importer"
	"github.com/gentlechase/api/internal/store"
)

const testPassword = "Password123!"

type testEnv struct {
	pool   *pgxpool.Pool
	router http.Handler
}

func setupTestEnv(t *testing.T) testEnv {
	t.Helper()
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("connect test db: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, `DROP SCHEMA public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := db.Migrate(ctx, databaseURL, "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.Config{
		Env:                "test",
		SessionCookieName:  "gc_sess",
		SessionTTL:         time.Hour,
		CSRFEnforce:        true,
		APIMaxBodyBytes:    1 << 20,
		ImportMaxFileBytes: 1 << 20,
		ImportMaxRows:      1000,
		ImportSessionTTL:   time.Hour,
		RateLimitMaxIPs:    100,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router, err := NewRouter(cfg, Deps{
		Pool:     pool,
		Store:    store.New(pool),
		Sessions: importer.NewMemoryStore(cfg.ImportSessionTTL),
		Synonyms: importer.DefaultSynonyms(),
	}, logger)
	if err != nil {
		t.Fatalf("build router: %v", err)
	}
	return testEnv{pool: pool, router: router}
}

func TestLogoutRevokesSession(t *testing.T) {
	env := setupTestEnv(t)

	cookie, csrf := signup(t, env.router, "session@example.com")
	status, _ := request(t, env.router, http.MethodGet, "/api/auth/me", nil, cookie, "")
	if status != http.StatusOK {
		t.Fatalf("expected 200 before logout, got %d", status)
	}

	status, _ = request(t, env.router, http.MethodPost, "/api/auth/logout", nil, cookie, csrf)
	if status != http.StatusNoContent {
		t.Fatalf("expected 204 logout response, got %d", status)
	}

	status, _ = request(t, env.router, http.MethodGet, "/api/auth/me", nil, cookie, "")
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", status)
	}
}

func TestSignupRejectsTakenEmail(t *testing.T) {
	env := setupTestEnv(t)
	signup(t, env.router, "taken@example.com")

	payload, _ := json.Marshal(map[string]string{"email": "TAKEN@example.com", "password": testPassword, "fullName": "Other"})
	status, body := request(t, env.router, http.MethodPost, "/api/auth/signup", payload, nil, "")
	if status != http.StatusConflict {
		t.Fatalf("expected 409, got %d (%s)", status, string(body))
	}
	assertErrorCode(t, body, "email_taken")
}

func TestLoginAfterSignup(t *testing.T) {
	env := setupTestEnv(t)
	signup(t, env.router, "login@example.com")

	payload, _ := json.Marshal(map[string]string{"email": "login@example.com", "password": "wrong-password"})
	status, _ := request(t, env.router, http.MethodPost, "/api/auth/login", payload, nil, "")
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a wrong password, got %d", status)
	}
	login(t, env.router, "login@example.com", testPassword)
}

func TestOnboardingGatesApp(t *testing.T) {
	env := setupTestEnv(t)
	cookie, csrf := signup(t, env.router, "wizard@example.com")

	status, body := request(t, env.router, http.MethodGet, "/api/invoices", nil, cookie, "")
	if status != http.StatusConflict {
		t.Fatalf("expected 409 before onboarding, got %d", status)
	}
	assertErrorCode(t, body, "onboarding_required")

	completeOnboarding(t, env.router, cookie, csrf, false)

	status, body = request(t, env.router, http.MethodGet, "/api/invoices", nil, cookie, "")
	if status != http.StatusOK {
		t.Fatalf("expected 200 after onboarding, got %d (%s)", status, string(body))
	}
	var list struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("parse invoices: %v", err)
	}
	if len(list.Items) != 1 {
		t.Fatalf("expected the onboarding invoice, got %d items", len(list.Items))
	}
}

func TestWritesRequireCSRF(t *testing.T) {
	env := setupTestEnv(t)
	cookie, csrf := signup(t, env.router, "csrf@example.com")
	completeOnboarding(t, env.router, cookie, csrf, true)

	payload, _ := json.Marshal(map[string]string{"name": "Acme"})
	status, body := request(t, env.router, http.MethodPost, "/api/clients", payload, cookie, "")
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf, got %d (%s)", status, string(body))
	}
	status, body = request(t, env.router, http.MethodPost, "/api/clients", payload, cookie, csrf)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 with csrf, got %d (%s)", status, string(body))
	}
}

func TestUserIsolation(t *testing.T) {
	env := setupTestEnv(t)

	cookieA, csrfA := signup(t, env.router, "a@example.com")
	completeOnboarding(t, env.router, cookieA, csrfA, true)
	invoiceID := createInvoice(t, env.router, cookieA, csrfA, "INV-0100")

	cookieB, csrfB := signup(t, env.router, "b@example.com")
	completeOnboarding(t, env.router, cookieB, csrfB, true)

	status, _ := request(t, env.router, http.MethodGet, "/api/invoices/"+invoiceID, nil, cookieB, "")
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's invoice, got %d", status)
	}
	status, _ = request(t, env.router, http.MethodPost, "/api/invoices/"+invoiceID+"/mark-paid", nil, cookieB, csrfB)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 marking another user's invoice paid, got %d", status)
	}

	// The same number is free for a different user.
	createInvoice(t, env.router, cookieB, csrfB, "INV-0100")
}

func TestRequestValidatorRejectsBadBody(t *testing.T) {
	env := setupTestEnv(t)
	cookie, csrf := signup(t, env.router, "validator@example.com")
	completeOnboarding(t, env.router, cookie, csrf, true)

	payload, _ := json.Marshal(map[string]any{"clientName": "Acme", "amount": 10, "dueDate": "2025-01-01", "status": "sent"})
	status, body := request(t, env.router, http.MethodPost, "/api/invoices", payload, cookie, csrf)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown status, got %d (%s)", status, string(body))
	}
	assertErrorCode(t, body, "validation_error")
}

func TestImportFlow(t *testing.T) {
	env := setupTestEnv(t)
	cookie, csrf := signup(t, env.router, "import@example.com")
	completeOnboarding(t, env.router, cookie, csrf, true)
	createInvoice(t, env.router, cookie, csrf, "INV-0001")

	csvData := "Invoice #,Customer,Total,Due,E-mail\n" +
		"INV-0001,Dup Co,10,2025-01-01,dup@x.test\n" +
		"INV-0002,Acme Corp,1200.50,2025-02-01,billing@acme.test\n" +
		"INV-0003,Acme Corp,abc,2025-02-01,\n"
	status, body := upload(t, env.router, cookie, csrf, "invoices.csv", []byte(csvData))
	if status != http.StatusCreated {
		t.Fatalf("upload expected 201, got %d (%s)", status, string(body))
	}
	var batch struct {
		ID        string `json:"id"`
		CanImport bool   `json:"canImport"`
		Rows      []struct {
			LocalID     string         `json:"localId"`
			IsDuplicate bool           `json:"isDuplicate"`
			Errors      map[string]any `json:"errors"`
		} `json:"rows"`
	}
	if err := json.Unmarshal(body, &batch); err != nil {
		t.Fatalf("parse batch: %v", err)
	}
	if len(batch.Rows) != 3 || !batch.Rows[0].IsDuplicate || batch.CanImport {
		t.Fatalf("unexpected batch %+v", batch)
	}

	status, body = request(t, env.router, http.MethodPost, "/api/imports/"+batch.ID+"/commit", nil, cookie, csrf)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 while a row has errors, got %d (%s)", status, string(body))
	}
	assertErrorCode(t, body, "not_importable")

	edit, _ := json.Marshal(map[string]string{"field": "amount", "value": "99.00"})
	status, body = request(t, env.router, http.MethodPatch, "/api/imports/"+batch.ID+"/rows/"+batch.Rows[2].LocalID, edit, cookie, csrf)
	if status != http.StatusOK {
		t.Fatalf("edit expected 200, got %d (%s)", status, string(body))
	}

	status, body = request(t, env.router, http.MethodPost, "/api/imports/"+batch.ID+"/commit", nil, cookie, csrf)
	if status != http.StatusOK {
		t.Fatalf("commit expected 200, got %d (%s)", status, string(body))
	}
	var res struct {
		Imported         int `json:"imported"`
		SkippedDuplicate int `json:"skippedDuplicate"`
		NewClients       int `json:"newClients"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("parse commit: %v", err)
	}
	if res.Imported != 2 || res.SkippedDuplicate != 1 || res.NewClients != 1 {
		t.Fatalf("unexpected commit result %+v", res)
	}

	status, _ = request(t, env.router, http.MethodGet, "/api/imports/"+batch.ID, nil, cookie, "")
	if status != http.StatusNotFound {
		t.Fatalf("expected the session to be gone after commit, got %d", status)
	}

	status, body = request(t, env.router, http.MethodGet, "/api/imports/runs", nil, cookie, "")
	if status != http.StatusOK || !bytes.Contains(body, []byte("invoices.csv")) {
		t.Fatalf("expected the run in history, got %d (%s)", status, string(body))
	}

	var audited int
	if err := env.pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM audit_log WHERE action = 'import.commit'`).Scan(&audited); err != nil {
		t.Fatalf("count audit rows: %v", err)
	}
	if audited != 1 {
		t.Fatalf("expected 1 import.commit audit row, got %d", audited)
	}
}

func TestExportInvoicesCSV(t *testing.T) {
	env := setupTestEnv(t)
	cookie, csrf := signup(t, env.router, "export@example.com")
	completeOnboarding(t, env.router, cookie, csrf, true)
	createInvoice(t, env.router, cookie, csrf, "INV-0042")

	status, body := request(t, env.router, http.MethodGet, "/api/exports/invoices.csv", nil, cookie, "")
	if status != http.StatusOK {
		t.Fatalf("export expected 200, got %d", status)
	}
	if !bytes.Contains(body, []byte("INV-0042")) {
		t.Fatalf("export missing invoice: %s", string(body))
	}
}

func signup(t *testing.T, router http.Handler, email string) (*http.Cookie, string) {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"email": email, "password": testPassword, "fullName": "Test Owner"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "127.0.0.1:12345"
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup expected 201, got %d with body: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse signup body: %v", err)
	}
	return sessionCookie(t, rec), resp.CSRFToken
}

func login(t *testing.T, router http.Handler, email, password string) *http.Cookie {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"email": email, "password": password})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "127.0.0.1:12345"
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login expected 200, got %d with body: %s", rec.Code, rec.Body.String())
	}
	return sessionCookie(t, rec)
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "gc_sess" {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

// completeOnboarding walks the wizard. With skipInvoice false it also
// creates a first invoice.
func completeOnboarding(t *testing.T, router http.Handler, session *http.Cookie, csrf string, skipInvoice bool) {
	t.Helper()
	steps := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodPut, "/api/onboarding/business", map[string]string{"businessName": "Test Studio"}},
		{http.MethodPost, "/api/onboarding/invoice", firstInvoice(skipInvoice)},
		{http.MethodPut, "/api/onboarding/reminders", map[string]string{"style": "polite", "pattern": "7days"}},
		{http.MethodPost, "/api/onboarding/complete", nil},
	}
	for _, step := range steps {
		var payload []byte
		if step.body != nil {
			payload, _ = json.Marshal(step.body)
		}
		status, body := request(t, router, step.method, step.path, payload, session, csrf)
		if status != http.StatusOK {
			t.Fatalf("%s %s expected 200, got %d (%s)", step.method, step.path, status, string(body))
		}
	}
}

func firstInvoice(skip bool) map[string]any {
	if skip {
		return map[string]any{"skip": true}
	}
	return map[string]any{"clientName": "First Client", "amount": "250.00", "dueDate": "2025-06-30"}
}

func createInvoice(t *testing.T, router http.Handler, session *http.Cookie, csrf, number string) string {
	t.Helper()
	payload, _ := json.Marshal(map[string]any{
		"invoiceNumber": number,
		"clientName":    "Integration Client",
		"amount":        "125.00",
		"dueDate":       "2025-05-01",
	})
	status, body := request(t, router, http.MethodPost, "/api/invoices", payload, session, csrf)
	if status != http.StatusCreated {
		t.Fatalf("create invoice expected 201, got %d (%s)", status, string(body))
	}
	var inv struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &inv); err != nil || inv.ID == "" {
		t.Fatalf("parse invoice body: %v (%s)", err, string(body))
	}
	return inv.ID
}

func upload(t *testing.T, router http.Handler, session *http.Cookie, csrf, filename string, data []byte) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &buf)
	req.RemoteAddr = "127.0.0.1:12345"
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(session)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec.Code, rec.Body.Bytes()
}

func assertErrorCode(t *testing.T, body []byte, code string) {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("parse error envelope: %v (%s)", err, string(body))
	}
	if env.Error.Code != code {
		t.Fatalf("expected error code %q, got %q", code, env.Error.Code)
	}
}

func request(t *testing.T, router http.Handler, method, path string, body []byte, session *http.Cookie, csrf string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:12345"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != nil {
		req.AddCookie(session)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	resBody, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, resBody
}
