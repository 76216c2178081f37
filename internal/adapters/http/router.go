package httpadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kirillkom/ackdesk/internal/config"
	"github.com/kirillkom/ackdesk/internal/core/ports"
	"github.com/kirillkom/ackdesk/internal/observability/metrics"
)

const serviceName = "ackdesk-api"

// Services are the inbound use cases the router dispatches to.
type Services struct {
	Documents   ports.DocumentService
	Completions ports.CompletionService
	Delivery    ports.DeliveryService
	Seats       ports.SeatService
	Quota       ports.QuotaService
	Analytics   ports.AnalyticsService
	Evidence    ports.EvidenceService
}

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Router struct {
	cfg     config.Config
	svc     Services
	metrics *metrics.HTTPServerMetrics
	checks  map[string]HealthCheck
	now     func() time.Time
}

func NewRouter(cfg config.Config, svc Services, httpMetrics *metrics.HTTPServerMetrics, checks map[string]HealthCheck) *Router {
	return &Router{
		cfg:     cfg,
		svc:     svc,
		metrics: httpMetrics,
		checks:  checks,
		now:     time.Now,
	}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestIDHeader, passwordHeader},
		ExposedHeaders:   []string{requestIDHeader, "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", rt.healthz)
	if rt.metrics != nil {
		r.Handle("/metrics", rt.metrics.Handler())
	}

	var reject func(reason string) func()
	if rt.metrics != nil {
		reject = func(reason string) func() {
			return func() { rt.metrics.RecordRejected(serviceName, reason) }
		}
	} else {
		reject = func(string) func() { return nil }
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(func(next http.Handler) http.Handler {
			return backpressureWithReject(next, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait, reject("backpressure"))
		})

		v1.Route("/public/documents/{publicID}", func(pub chi.Router) {
			limiter := newIPRateLimiter(rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
			pub.Use(func(next http.Handler) http.Handler {
				return rateLimitMiddleware(next, limiter, reject("rate_limit"))
			})
			pub.Get("/", rt.publicView)
			pub.Get("/content", rt.publicContent)
			pub.Post("/completions", rt.publicCompletion)
		})

		v1.Group(func(private chi.Router) {
			private.Use(authMiddleware(tokenVerifier{secret: []byte(rt.cfg.JWTSecret), issuer: rt.cfg.JWTIssuer}))

			private.Post("/documents", rt.createDocument)
			private.Route("/documents/{documentID}", func(doc chi.Router) {
				doc.Get("/", rt.getDocument)
				doc.Post("/versions", rt.addVersion)
				doc.Get("/versions/current", rt.currentVersion)
				doc.Post("/notify", rt.notifyRecipients)
				doc.Put("/notification-preference", rt.setNotificationPreference)
				doc.Get("/status", rt.documentStatus)
				doc.Get("/completions", rt.listCompletions)
				doc.Post("/completions", rt.recordCompletion)
				doc.Get("/evidence", rt.exportEvidence)
				doc.Post("/evidence/verify", rt.verifyEvidence)
			})
			private.Post("/recipients/resolve", rt.resolveRecipients)
			private.Get("/quota", rt.quota)
			private.Route("/workspaces/{workspaceID}", func(ws chi.Router) {
				ws.Get("/analytics", rt.workspaceAnalytics)
				ws.Get("/analytics.xlsx", rt.workspaceWorkbook)
				ws.Get("/seats", rt.seatUsage)
				ws.Post("/members/{userID}/license", rt.assignLicense)
				ws.Delete("/members/{userID}/license", rt.revokeLicense)
				ws.Put("/members/{userID}/role", rt.changeRole)
			})
		})
	})

	var handler http.Handler = r
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := map[string]string{}
	for name, check := range rt.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": results})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
