package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mailcrypt-service/internal/middleware"
)

// NewRouter はルーターを生成する。
func NewRouter(keys *KeyHandler, envelopes *EnvelopeHandler, diagnostics *DiagnosticsHandler) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// ルート定義
	r.Route("/v1/accounts/{account_id}/keys", func(r chi.Router) {
		r.Post("/", keys.GenerateKey)
		r.Get("/", keys.ListKeys)
		r.Delete("/", keys.RevokeKey)
		r.Get("/health", keys.GetKeyHealth)
		r.Post("/regenerate", keys.RegenerateKey)
	})
	r.Get("/v1/jobs/{job_id}", keys.GetJob)

	r.Route("/v1/envelopes", func(r chi.Router) {
		r.Post("/", envelopes.BuildEnvelope)
		r.Post("/open", envelopes.OpenEnvelope)
	})

	r.Route("/v1/diagnostics/accounts/{account_id}", func(r chi.Router) {
		r.Get("/", diagnostics.GetAccount)
		r.Post("/wipe", diagnostics.Wipe)
		r.Post("/rebuild", diagnostics.Rebuild)
	})

	return otelhttp.NewHandler(r, "mailcrypt-service",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
