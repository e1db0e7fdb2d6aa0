package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stepup/internal/flow"
	"stepup/internal/gate"
	gatehttp "stepup/internal/gate/handler"
	"stepup/internal/gate/store"
	jwttoken "stepup/internal/jwt_token"
	"stepup/internal/platform/config"
	"stepup/internal/platform/httpserver"
	"stepup/internal/platform/logger"
	"stepup/internal/platform/metrics"
	"stepup/internal/platform/redis"
	"stepup/internal/recovery"
	recoveryhttp "stepup/internal/recovery/handler"
	"stepup/internal/session"
	"stepup/internal/totp"
	totphttp "stepup/internal/totp/handler"
	"stepup/internal/webauthn"
	webauthnhttp "stepup/internal/webauthn/handler"
)

// completionFlagTTL bounds how long a finished step-up counts as "just
// completed" for gate decisions against a possibly stale session cache.
const completionFlagTTL = 2 * time.Minute

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	providerHost, err := providerHost(cfg.ProviderURL)
	if err != nil {
		log.Error("invalid provider URL", "url", cfg.ProviderURL, "error", err)
		os.Exit(1)
	}

	rdb, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}

	var markers gate.MarkerStore
	if rdb != nil {
		markers = store.NewRedis(rdb.Client, cfg.Gate.MarkerTTL)
		defer rdb.Close()
		log.Info("using redis marker store")
	} else {
		markers = store.NewMemory(cfg.Gate.MarkerTTL)
		log.Info("redis not configured, using in-memory marker store")
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	jwtValidator := jwttoken.NewJWTServiceAdapter(jwtService)

	// Ceremonies install the navigation guard on this client, so the flow
	// negotiator and the ceremony orchestrator must share it.
	providerClient := &http.Client{Timeout: 30 * time.Second}

	flows := flow.NewNegotiator(cfg.ProviderURL, providerClient,
		flow.WithLogger(log), flow.WithMetrics(m))
	sessions := session.NewManager(session.NewClient(cfg.ProviderURL, providerClient),
		session.WithLogger(log), session.WithMetrics(m))
	flags := session.NewCompletionFlags(completionFlagTTL)

	registry, err := gate.NewRegistry(
		gate.Operation{Name: recovery.OpViewCodes, RequiredTier: gate.Tier2},
		gate.Operation{Name: recovery.OpGenerateCodes, RequiredTier: gate.Tier3},
		gate.Operation{Name: recovery.OpRevokeCodes, RequiredTier: gate.Tier4},
	)
	if err != nil {
		log.Error("invalid operation registry", "error", err)
		os.Exit(1)
	}

	gatekeeper := gate.New(registry, sessions, markers, cfg.StepUpURL, cfg.Gate.MarkerTTL,
		gate.WithLogger(log), gate.WithMetrics(m),
		gate.WithCompletionFlags(flags, sessions))

	ceremonies := webauthn.NewOrchestrator(flows, sessions, webauthn.RemoteAuthenticator{},
		providerClient, providerHost,
		webauthn.WithLogger(log), webauthn.WithMetrics(m),
		webauthn.WithPolling(cfg.Ceremony.PollInterval, cfg.Ceremony.PollCeiling),
		webauthn.WithChallengeTTL(cfg.Ceremony.ChallengeTTL))

	enrollments := totp.NewController(flows, sessions,
		totp.WithLogger(log), totp.WithMetrics(m))

	codes := recovery.NewManager(flows, gatekeeper, sessions,
		recovery.WithLogger(log), recovery.WithMetrics(m))

	router := chi.NewRouter()
	webauthnhttp.New(ceremonies, log, m, jwtValidator).Register(router)
	totphttp.New(enrollments, log, m, jwtValidator).Register(router)
	recoveryhttp.New(codes, log, m, jwtValidator).Register(router)
	gatehttp.New(gatekeeper, flags, sessions, log, m, jwtValidator).Register(router)

	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if rdb != nil {
			if err := rdb.Health(r.Context()); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting stepup gateway", "addr", cfg.Addr, "provider", cfg.ProviderURL)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("gateway stopped")
}

// providerHost extracts the host the navigation guard may admit mid-ceremony.
func providerHost(providerURL string) (string, error) {
	u, err := url.Parse(providerURL)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}
