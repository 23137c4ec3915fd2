package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"libracirc/internal/calendar"
	"libracirc/internal/catalog"
	"libracirc/internal/circulation"
	"libracirc/internal/config"
	"libracirc/internal/eventstore"
	"libracirc/internal/fines"
	"libracirc/internal/membership"
	custommiddleware "libracirc/internal/middleware"
	"libracirc/internal/projections"
	"libracirc/internal/reservations"
)

// App is the assembled service.
type App struct {
	Router     http.Handler
	Membership membership.Service
}

// Build wires every service over db according to cfg.
func Build(cfg *config.Config, db *sqlx.DB, clock calendar.Clock, logger *zap.Logger) (*App, error) {
	calculator, err := fines.NewCalculator(cfg.FineDailyRateCents)
	if err != nil {
		return nil, fmt.Errorf("fine calculator: %w", err)
	}

	journal := eventstore.NewEventStore(db.DB)

	circulationSvc := circulation.NewService(
		circulation.NewPostgresStore(db.DB, journal, cfg.LockTimeout),
		calculator,
		circulation.Config{
			DefaultLoanDays: cfg.DefaultLoanDays,
			MaxAttempts:     cfg.RetryMaxAttempts,
			Clock:           clock,
		},
		logger.Named("circulation"),
	)

	var limiter *rate.Limiter
	if n := cfg.ReaderRegistrationsPerMinute; n > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	}
	membershipSvc := membership.NewService(journal, db.DB, limiter, logger.Named("membership"))

	auth := custommiddleware.NewAuthMiddleware(cfg.SessionSecret)

	h := Handlers{
		Circulation:  circulation.NewHandler(circulationSvc, logger),
		Catalog:      catalog.NewHandler(catalog.NewService(journal, db.DB, logger.Named("catalog")), logger),
		Membership:   membership.NewHandler(membershipSvc, auth, logger),
		Reservations: reservations.NewHandler(reservations.NewService(db.DB, journal, logger.Named("reservations")), logger),
		Projections:  projections.NewHandler(projections.NewService(db, clock), logger),
		Fines:        fines.NewHandler(fines.NewService(db), logger),
	}

	return &App{
		Router:     NewRouter(h, auth, db, logger.Named("http")),
		Membership: membershipSvc,
	}, nil
}
