package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	openapimiddleware "github.com/oapi-codegen/nethttp-middleware"

	apispec "github.com/gentlechase/api/api"
	"github.com/gentlechase/api/internal/audit"
	"github.com/gentlechase/api/internal/config"
	"github.com/gentlechase/api/internal/handlers"
	"github.com/gentlechase/api/internal/httpx"
	"github.com/gentlechase/api/internal/importer"
	"github.com/gentlechase/api/internal/middleware"
	"github.com/gentlechase/api/internal/store"
)

// uploadOverhead covers multipart framing on top of the file itself.
const uploadOverhead = 1 << 20

type Deps struct {
	Pool     *pgxpool.Pool
	Store    *store.Store
	Sessions importer.SessionStore
	Synonyms importer.Synonyms
}

func NewRouter(cfg config.Config, deps Deps, logger *slog.Logger) (http.Handler, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(apispec.OpenAPI)
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate openapi spec: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.SecurityHeaders(cfg.Env))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.LimitBodyBytesWithOverrides(cfg.APIMaxBodyBytes, []middleware.BodyLimitOverride{
		{PathPrefix: "/imports", MaxBytes: cfg.ImportMaxFileBytes + uploadOverhead},
	}))

	api := chi.NewRouter()
	api.Use(skipMultipart(openapimiddleware.OapiRequestValidatorWithOptions(doc, &openapimiddleware.Options{
		SilenceServersWarning: true,
		Options: openapi3filter.Options{
			// Sessions are checked by RequireAuth so routes can answer with
			// the regular error envelope.
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
		ErrorHandler: func(w http.ResponseWriter, message string, statusCode int) {
			requestID := w.Header().Get("X-Request-Id")
			httpx.WriteJSON(w, statusCode, httpx.ErrorEnvelope{
				Error:     httpx.ErrorBody{Code: "validation_error", Message: message},
				RequestID: requestID,
			})
		},
	})))

	var auditLogger *audit.Logger
	if deps.Pool != nil {
		auditLogger = audit.NewLogger(deps.Pool)
	}
	h := handlers.NewServer(cfg, deps.Store, auditLogger, logger, deps.Sessions, deps.Synonyms)

	authMW := middleware.AuthMiddleware{Sessions: deps.Store, CookieName: cfg.SessionCookieName}
	loginLimiter := middleware.NewLoginRateLimiter(10, time.Minute)
	uploadLimiter := middleware.NewIPRateLimiterWithMaxEntries(30, time.Minute, cfg.RateLimitMaxIPs)
	csrf := middleware.EnforceCSRF(cfg.CSRFEnforce)

	api.Group(func(public chi.Router) {
		public.Get("/health", h.GetHealth)
		public.With(loginLimiter.Middleware).Post("/auth/login", h.PostAuthLogin)
		public.With(loginLimiter.Middleware).Post("/auth/signup", h.PostAuthSignup)
	})

	api.Group(func(authed chi.Router) {
		authed.Use(authMW.RequireAuth)
		authed.Get("/auth/me", h.GetAuthMe)
		authed.Get("/auth/csrf", h.GetAuthCsrf)
		authed.With(csrf).Post("/auth/logout", h.PostAuthLogout)

		authed.Get("/onboarding", h.GetOnboarding)
		authed.Group(func(wizard chi.Router) {
			wizard.Use(csrf)
			wizard.Put("/onboarding/business", h.PutOnboardingBusiness)
			wizard.Post("/onboarding/invoice", h.PostOnboardingInvoice)
			wizard.Put("/onboarding/reminders", h.PutOnboardingReminders)
			wizard.Post("/onboarding/complete", h.PostOnboardingComplete)
		})

		authed.Group(func(app chi.Router) {
			app.Use(middleware.RequireOnboarding)

			app.Get("/dashboard/summary", h.GetDashboardSummary)

			app.Get("/clients", h.GetClients)
			app.Get("/invoices", h.GetInvoices)
			app.Get("/invoices/{invoiceId}", h.GetInvoice)

			app.Get("/imports/runs", h.GetImportRuns)
			app.Get("/imports/template.csv", h.GetImportTemplateCsv)
			app.Get("/imports/template.xlsx", h.GetImportTemplateXlsx)
			app.Get("/imports/{importId}", h.GetImport)

			app.Get("/exports/invoices.csv", h.GetExportsInvoicesCsv)
			app.Get("/exports/invoices.xlsx", h.GetExportsInvoicesXlsx)
			app.Get("/exports/clients.csv", h.GetExportsClientsCsv)

			app.Group(func(writes chi.Router) {
				writes.Use(csrf)

				writes.Post("/clients", h.PostClients)
				writes.Put("/clients/{clientId}", h.PutClient)
				writes.Delete("/clients/{clientId}", h.DeleteClient)
				writes.Post("/clients/{clientId}/toggle-status", h.PostClientToggleStatus)

				writes.Post("/invoices", h.PostInvoices)
				writes.Put("/invoices/{invoiceId}", h.PutInvoice)
				writes.Delete("/invoices/{invoiceId}", h.DeleteInvoice)
				writes.Post("/invoices/{invoiceId}/mark-paid", h.PostInvoiceMarkPaid)
				writes.Post("/invoices/{invoiceId}/reminders", h.PostInvoiceReminder)

				writes.With(uploadLimiter.Middleware("Too many uploads")).Post("/imports", h.PostImports)
				writes.Delete("/imports/{importId}", h.DeleteImport)
				writes.Patch("/imports/{importId}/rows/{rowId}", h.PatchImportRow)
				writes.Delete("/imports/{importId}/rows/{rowId}", h.DeleteImportRow)
				writes.Post("/imports/{importId}/commit", h.PostImportCommit)
			})
		})
	})

	r.Mount("/api", api)
	return r, nil
}

// skipMultipart bypasses the request validator for file uploads so the
// upload handler streams the body itself and reports size limits as 413.
func skipMultipart(validator func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		validated := validator(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data") {
				next.ServeHTTP(w, r)
				return
			}
			validated.ServeHTTP(w, r)
		})
	}
}
