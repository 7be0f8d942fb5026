package memberlink

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/scalingmax/memberlink/internal/logging"
	"github.com/scalingmax/memberlink/internal/memberlink/admin"
	"github.com/scalingmax/memberlink/internal/memberlink/linker"
)

const requestIDHeader = "X-Request-ID"

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config    *Config
	Links     *linker.Handlers
	Webhook   http.Handler
	Events    admin.Pinger
	Checkout  *CheckoutHandlers
	Subscribe *SubscribeHandlers
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	// Health / readiness are unauthenticated probes.
	mux.HandleFunc("/healthz", admin.HandleHealthz)
	mux.HandleFunc("/readyz", admin.HandleReadyz(deps.Events))
	mux.Handle("/metrics", admin.AdminKeyMiddleware(deps.Config.AdminKey, promhttp.Handler()))

	// Stripe webhook (signature-authenticated)
	webhookLimiter := NewRateLimiter(120, time.Minute)
	mux.Handle("/webhook/payment", webhookLimiter.Middleware(deps.Webhook))

	// Member pages (token or state authenticated)
	linkLimiter := NewRateLimiter(30, time.Minute)
	mux.Handle("/chat-access", linkLimiter.Middleware(SecurityHeaders(http.HandlerFunc(deps.Links.HandleAccess))))
	mux.Handle("/chat-callback", linkLimiter.Middleware(SecurityHeaders(http.HandlerFunc(deps.Links.HandleCallback))))

	// Landing page forms (public, cross-origin)
	formLimiter := NewRateLimiter(20, time.Minute)
	formCORS := cors.Handler(cors.Options{
		AllowedOrigins: deps.Config.AllowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	})
	mux.Handle("/checkout", formLimiter.Middleware(formCORS(http.HandlerFunc(deps.Checkout.HandleCheckout))))
	mux.Handle("/subscribe", formLimiter.Middleware(formCORS(http.HandlerFunc(deps.Subscribe.HandleSubscribe))))
}

// RequestID attaches a request ID to the context, honoring an inbound
// X-Request-ID, and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, id := logging.WithRequestID(r.Context(), r.Header.Get(requestIDHeader))
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
