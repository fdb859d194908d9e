package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"

	"github.com/iota-uz/iota-attest/pkg/application"
	"github.com/iota-uz/iota-attest/pkg/configuration"
	"github.com/iota-uz/iota-attest/pkg/constants"
	"github.com/iota-uz/iota-attest/pkg/metrics"
	"github.com/iota-uz/iota-attest/pkg/middleware"
	"github.com/iota-uz/iota-attest/pkg/server"
)

type DefaultOptions struct {
	Logger        *logrus.Logger
	Configuration *configuration.Configuration
	Application   application.Application
	Pool          *pgxpool.Pool
}

// Default registers the shared middleware stack and operational controllers,
// then returns a server over every controller the application knows about.
func Default(options *DefaultOptions) (*server.HTTPServer, error) {
	app := options.Application
	conf := options.Configuration

	loggerOpts := middleware.DefaultLoggerOptions()
	loggerOpts.RequestIDHeader = conf.RequestIDHeader
	loggerOpts.RealIPHeader = conf.RealIPHeader

	// WithLogger opens the root span for each request.
	middlewares := []mux.MiddlewareFunc{
		middleware.WithLogger(options.Logger, loggerOpts),
	}
	if conf.OpenTelemetry.Enabled {
		middlewares = append(middlewares, middleware.TracedMiddleware("database"))
	}
	middlewares = append(middlewares,
		middleware.Provide(constants.PoolKey, options.Pool),
		middleware.Cors(conf.CORSOrigins()...),
	)

	if conf.RateLimit.Enabled {
		var store limiter.Store
		var err error

		switch conf.RateLimit.Storage {
		case "redis":
			store, err = middleware.NewRedisStore(conf.RateLimit.RedisURL)
			if err != nil {
				options.Logger.WithError(err).Warn("Failed to create Redis store for rate limiting, falling back to memory")
				store = middleware.NewMemoryStore()
			}
		default:
			store = middleware.NewMemoryStore()
		}

		if conf.OpenTelemetry.Enabled {
			middlewares = append(middlewares, middleware.TracedMiddleware("rateLimit"))
		}
		middlewares = append(middlewares, middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerPeriod: conf.RateLimit.GlobalRPS,
			Store:             store,
		}))
	}

	app.RegisterMiddleware(middlewares...)

	app.RegisterControllers(metrics.NewHealthController(func(r *http.Request) error {
		if options.Pool == nil {
			return nil
		}
		return options.Pool.Ping(r.Context())
	}))
	if conf.Prometheus.Enabled {
		app.RegisterControllers(metrics.NewPrometheusController(conf.Prometheus.Path))
	}

	return server.NewHTTPServer(app, server.NotFound(), server.MethodNotAllowed()), nil
}
