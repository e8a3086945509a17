// Command providerd runs a standalone OAuth 1.0 service provider over the
// configured storage backend.
package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	openauth "go.pilab.hu/openauth"
	echoapi "go.pilab.hu/openauth/api/echo"
	"go.pilab.hu/openauth/bolt"
	"go.pilab.hu/openauth/cache"
	cacheredis "go.pilab.hu/openauth/cache/redis"
	"go.pilab.hu/openauth/config"
	"go.pilab.hu/openauth/domain"
	"go.pilab.hu/openauth/internal/metrics"
	"go.pilab.hu/openauth/memory"
	"go.pilab.hu/openauth/mongodb"
	"go.pilab.hu/openauth/oauth"
	"go.pilab.hu/openauth/services"
	"go.pilab.hu/openauth/tracing"
)

const shutdownTimeout = 10 * time.Second

type repositories struct {
	tokens  domain.TokenRepository
	clients domain.ClientRepository
	grants  domain.AuthorizationRepository
	nonces  domain.NonceStore
	close   func(context.Context)
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg)
	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("storage", cfg.StorageBackend).
		Str("public_url", cfg.PublicURL).
		Msg("Starting openauth provider")

	ctx := context.Background()

	if cfg.TracingEnabled {
		tp, err := tracing.Init("openauth-provider")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracing")
		}
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				log.Error().Err(err).Msg("Tracer provider shutdown failed")
			}
		}()
	}

	repos, err := buildRepositories(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer repos.close(ctx)

	endpoints, err := buildEndpoints(cfg.PublicURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid PUBLIC_URL")
	}

	lifecycle := services.NewTokenLifecycleService(repos.tokens, repos.clients, repos.grants, services.TokenPolicy{
		RequestTokenTTL:   time.Duration(cfg.RequestTokenTTLMin) * time.Minute,
		AccessTokenTTL:    time.Duration(cfg.AccessTokenTTLHour) * time.Hour,
		IssuanceTolerance: time.Duration(cfg.IssuanceToleranceSec) * time.Second,
		VerifierFormat:    services.VerifierFormat(cfg.VerifierFormat),
		VerifierLength:    cfg.VerifierLength,
	})

	provider := openauth.NewServiceProvider(endpoints, lifecycle, repos.nonces,
		openauth.WithMaxMessageAge(cfg.MaxMessageAge()),
		openauth.WithRealm(cfg.Realm),
	)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())

	api := echoapi.NewProviderAPI(provider, headerAuthenticator)
	api.RegisterRoutes(e)

	if cfg.MetricsEnabled {
		metrics.Register(prometheus.DefaultRegisterer)
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	go func() {
		if err := e.Start(":" + cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}

func setupLogging(cfg *config.ProviderConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
}

func buildEndpoints(publicURL string) (oauth.Endpoints, error) {
	base, err := url.Parse(publicURL)
	if err != nil {
		return oauth.Endpoints{}, err
	}
	return oauth.Endpoints{
		RequestToken:      base.JoinPath("/oauth/request_token"),
		UserAuthorization: base.JoinPath("/oauth/authorize"),
		AccessToken:       base.JoinPath("/oauth/access_token"),
	}, nil
}

func buildRepositories(ctx context.Context, cfg *config.ProviderConfig) (*repositories, error) {
	repos := &repositories{close: func(context.Context) {}}

	switch cfg.StorageBackend {
	case config.StorageMongo:
		client, db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, err
		}
		if err := mongodb.EnsureIndexes(ctx, db, cfg.NonceWindow()); err != nil {
			return nil, err
		}
		repos.tokens = mongodb.NewTokenRepository(db)
		repos.clients = mongodb.NewClientRepository(db)
		repos.grants = mongodb.NewAuthorizationRepository(db)
		repos.nonces = mongodb.NewNonceStore(db)
		repos.close = func(ctx context.Context) {
			if err := client.Disconnect(ctx); err != nil {
				log.Error().Err(err).Msg("Error closing MongoDB connection")
			}
		}

	case config.StorageBolt:
		store, err := bolt.Open(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		repos.tokens = store.Tokens()
		repos.clients = store.Clients()
		repos.grants = store.Authorizations()
		repos.nonces = store.Nonces()
		repos.close = func(context.Context) {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing bolt store")
			}
		}

	default:
		repos.tokens = memory.NewTokenRepository()
		repos.clients = memory.NewClientRepository()
		repos.grants = memory.NewAuthorizationRepository()
		nonces := cache.NewNonceStore(cfg.NonceWindow())
		repos.nonces = nonces
		repos.close = func(context.Context) { _ = nonces.Close() }
	}

	// A shared Redis nonce store overrides the backend's own when several
	// provider processes serve the same endpoints.
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		repos.nonces = cacheredis.NewNonceStore(client, "openauth", cfg.NonceWindow())
		inner := repos.close
		repos.close = func(ctx context.Context) {
			if err := client.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing Redis client")
			}
			inner(ctx)
		}
	}

	return repos, nil
}

// headerAuthenticator trusts the reverse proxy's authenticated-user header.
// Standalone deployments replace this with their own login flow.
func headerAuthenticator(c echo.Context) (string, error) {
	user := c.Request().Header.Get("X-Authenticated-User")
	if user == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "sign-in required")
	}
	return user, nil
}
