package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"aldar.app/internal/apiconfig"
	"aldar.app/internal/auth"
	"aldar.app/internal/cache"
	"aldar.app/internal/codec"
	"aldar.app/internal/config"
	"aldar.app/internal/httpapi"
	"aldar.app/internal/lms"
	"aldar.app/internal/obs"
	"aldar.app/internal/session"
	"aldar.app/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = ""
)

type redisPinger struct{ c *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }

func main() {
	// Инициализация observability (метрики, JSON-логгер)
	obs.Init()
	obs.InitBuildInfo("aldar-api", version, commit)
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.DB.DSN == "" {
		log.Fatal().Msg("ALDAR_PG_DSN is required")
	}

	store, err := pg.Open(cfg.DB.DSN, pg.Pool{MaxOpenConns: cfg.DB.MaxOpenConns, MaxIdleConns: cfg.DB.MaxIdleConns})
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer store.Close()

	ready := httpapi.ReadyProbe{Deps: []httpapi.Checker{store}}

	// Общий кэш токенов: Redis в проде, память для локального запуска
	var kv cache.Store
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		kv = cache.NewRedisStore(rdb)
		ready.Deps = append(ready.Deps, redisPinger{rdb})
	} else {
		log.Warn().Msg("redis not configured, token cache is process local")
		kv = cache.NewMemoryStore()
	}

	httpClient := &http.Client{Timeout: cfg.LMS.Timeout}
	tokens := cache.NewTokenCache(kv,
		cache.NewPasswordFetcher(cfg.LMS.TokenURL, cfg.LMS.ClientID, cfg.LMS.ClientSecret, cfg.LMS.Username, cfg.LMS.Password, httpClient),
		cache.TokenOptions{
			Env:      cfg.Env,
			Poll:     cfg.LMS.LockPoll,
			MaxWait:  cfg.LMS.LockMaxWait,
			Recorder: store,
		})

	flags := apiconfig.NewCache(store, cfg.Company, cfg.Env, apiconfig.DefaultTTL)
	client := lms.New(lms.Endpoints{
		Enrollment:   cfg.LMS.EnrollmentURL,
		UserUpdate:   cfg.LMS.UserUpdateURL,
		Profile:      cfg.LMS.ProfileURL,
		Earn:         cfg.LMS.EarnURL,
		Burn:         cfg.LMS.BurnURL,
		Refund:       cfg.LMS.RefundURL,
		Transactions: cfg.LMS.TransactionsURL,
		Points:       cfg.LMS.PointsURL,
		Configs:      cfg.LMS.ConfigsURL,
	}, tokens, store,
		lms.WithHTTPClient(httpClient),
		lms.WithErrorLog(store),
		lms.WithConfigs(flags),
	)

	cdc, err := codec.New(cfg.Codec.Key, cfg.Codec.Salt, cfg.Codec.Mode)
	if err != nil {
		log.Fatal().Err(err).Msg("codec")
	}

	var partners *auth.BasicAuthenticator
	if cfg.Callbacks.BasicAuthEnabled {
		partners = auth.NewBasicAuthenticator(cfg.Callbacks.Users)
	}

	var sessionOpts []session.Option
	if cfg.DefaultGroup > 0 {
		sessionOpts = append(sessionOpts, session.WithDefaultGroup(cfg.DefaultGroup))
	}

	pipeline := httpapi.NewPipeline(httpapi.PipelineConfig{
		Company:  cfg.Company,
		Debug:    cfg.Debug,
		Codec:    cdc,
		Flags:    flags,
		Tokens:   auth.NewDecoder(cfg.JWT.Secret, cfg.Company),
		Sessions: session.NewResolver(store, sessionOpts...),
		Partners: partners,
		ErrLog:   store,
		Incoming: store,
	})

	limiter := httpapi.NewRateLimiter(cfg.HTTP.RateBurst, float64(cfg.HTTP.RatePerSec))
	api, err := httpapi.New(httpapi.Options{
		Version:  version,
		Ready:    ready,
		Pipeline: pipeline,
		LMS:      client,
		Limiter:  limiter,
		Limits: httpapi.Limits{
			RateBurst:    cfg.HTTP.RateBurst,
			RatePerSec:   float64(cfg.HTTP.RatePerSec),
			MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
			Origins:      cfg.HTTP.Origins,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build api")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go limiter.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// gRPC: только health-протокол для балансировщика
	var gs *grpc.Server
	if cfg.HTTP.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.HTTP.GRPCAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.HTTP.GRPCAddr).Msg("grpc listen")
		}
		gs = grpc.NewServer()
		hs := httpapi.NewHealthServer(ready)
		hs.Register(gs)
		go hs.Run(ctx, 10*time.Second)
		go func() {
			if err := gs.Serve(lis); err != nil {
				log.Error().Err(err).Msg("grpc serve")
			}
		}()
	}

	log.Info().Str("version", version).Str("addr", srv.Addr).Str("env", cfg.Env).Msg("starting aldar-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if gs != nil {
		gs.GracefulStop()
	}
	log.Info().Msg("stopped")
}
