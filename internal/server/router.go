// Package server assembles the desk HTTP API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"libracirc/internal/catalog"
	"libracirc/internal/circulation"
	"libracirc/internal/fines"
	"libracirc/internal/membership"
	custommiddleware "libracirc/internal/middleware"
	"libracirc/internal/projections"
	"libracirc/internal/reservations"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handlers groups the per-package HTTP handlers.
type Handlers struct {
	Circulation  *circulation.Handler
	Catalog      *catalog.Handler
	Membership   *membership.Handler
	Reservations *reservations.Handler
	Projections  *projections.Handler
	Fines        *fines.Handler
}

// NewRouter wires every route. Everything except login and the health check requires
// an operator session.
func NewRouter(h Handlers, auth *custommiddleware.AuthMiddleware, db Pinger, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(custommiddleware.Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5, "application/json"))

	r.Get("/healthz", healthz(db))

	r.Route("/api", func(r chi.Router) {
		r.Post("/operators/login", h.Membership.HandleLogin)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			r.Post("/operators", h.Membership.HandleRegisterOperator)

			r.Post("/loans", h.Circulation.HandleIssue)
			r.Post("/loans/{id}/return", h.Circulation.HandleReturn)
			r.Get("/loans/active", h.Projections.HandleActiveLoans)
			r.Get("/titles/available", h.Projections.HandleAvailableTitles)

			r.Get("/catalog/search", h.Catalog.HandleSearch)
			r.Post("/books", h.Catalog.HandleAddBook)
			r.Get("/books/{id}", h.Catalog.HandleGetBook)
			r.Post("/books/{id}/instances", h.Catalog.HandleAddInstance)
			r.Get("/books/{id}/reservations", h.Reservations.HandleListForBook)

			r.Get("/instances/{id}", h.Catalog.HandleGetInstance)
			r.Post("/instances/{id}/status", h.Circulation.HandleChangeStatus)
			r.Get("/instances/{id}/history", h.Circulation.HandleHistory)

			r.Post("/readers", h.Membership.HandleRegisterReader)
			r.Get("/readers/{id}", h.Membership.HandleGetReader)
			r.Get("/readers/{id}/fines", h.Fines.HandleListByReader)

			r.Post("/reservations", h.Reservations.HandlePlace)
			r.Get("/reservations/{id}", h.Reservations.HandleGet)
			r.Post("/reservations/{id}/complete", h.Reservations.HandleComplete)
			r.Post("/reservations/{id}/cancel", h.Reservations.HandleCancel)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

func healthz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}
}
