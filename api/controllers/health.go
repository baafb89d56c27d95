package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/otcsettle/api/responses"
	"github.com/angelmondragon/otcsettle/pkg/config"
	pkgerrors "github.com/angelmondragon/otcsettle/pkg/errors"
	"github.com/angelmondragon/otcsettle/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger is a dependency that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

func Healthz(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Otcsettle-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// Readyz pings every dependency; nil pingers are skipped so optional
// backends such as Redis do not fail readiness when disabled.
func Readyz(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Otcsettle-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := make(map[string]string, len(deps))
		failed := false
		for name, dep := range deps {
			if dep == nil {
				checks[name] = "disabled"
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				checks[name] = "unreachable"
				failed = true
				logg.Warn(logg.WithField(ctx, "dependency", name), "readiness check failed")
				continue
			}
			checks[name] = "ok"
		}
		if failed {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
