package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/otcsettle/api/controllers"
	"github.com/angelmondragon/otcsettle/api/middleware"
	"github.com/angelmondragon/otcsettle/internal/settlement"
	"github.com/angelmondragon/otcsettle/pkg/config"
	"github.com/angelmondragon/otcsettle/pkg/db"
	"github.com/angelmondragon/otcsettle/pkg/logger"
)

// NewRouter mounts the ops endpoints and the quote API. redisP may be nil
// when Redis is disabled.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP controllers.Pinger,
	gatherer prometheus.Gatherer,
	engine settlement.Engine,
) http.Handler {
	if logg == nil {
		logg = logger.Nop()
	}
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, "/healthz", "/readyz", "/metrics"),
	)

	deps := map[string]controllers.Pinger{"database": dbP}
	if redisP != nil {
		deps["redis"] = redisP
	}
	r.Get("/healthz", controllers.Healthz(cfg))
	r.Get("/readyz", controllers.Readyz(cfg, logg, deps))
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/quotes", controllers.CreateQuote(engine, logg))
	})
	return r
}
