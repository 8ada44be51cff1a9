package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ivankudzin/tgshop/internal/config"
	"github.com/ivankudzin/tgshop/internal/infra/yookassa"
	pgrepo "github.com/ivankudzin/tgshop/internal/repo/postgres"
	redrepo "github.com/ivankudzin/tgshop/internal/repo/redis"
	catalogsvc "github.com/ivankudzin/tgshop/internal/services/catalog"
	paymentsvc "github.com/ivankudzin/tgshop/internal/services/payments"
	"github.com/ivankudzin/tgshop/internal/services/paytoken"
	ratesvc "github.com/ivankudzin/tgshop/internal/services/rate"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
		pool = nil
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	limiter := ratesvc.NewLimiter(redrepo.NewRateRepo(redisClient))

	catalogService := catalogsvc.NewService(catalogsvc.Dependencies{
		Store:        pgrepo.NewProductRepo(pool),
		ExchangeRate: cfg.Payments.ExchangeRate,
	})

	tokenSecret := strings.TrimSpace(cfg.Payments.TokenSecret)
	if tokenSecret == "" {
		tokenSecret = strings.TrimSpace(cfg.Bot.Token)
		log.Warn("payments.token_secret is empty, falling back to bot token")
	}
	codec, err := paytoken.NewCodec(tokenSecret, cfg.Payments.TokenPastWindow, cfg.Payments.TokenFutureSkew)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, fmt.Errorf("init payment token codec: %w", err)
	}

	gatewayClient := yookassa.NewClient(yookassa.Config{
		ShopID:    cfg.YooKassa.ShopID,
		SecretKey: cfg.YooKassa.SecretKey,
		BaseURL:   cfg.YooKassa.APIBaseURL,
		Timeout:   cfg.YooKassa.Timeout,
	})

	paymentService, err := paymentsvc.NewService(paymentsvc.Dependencies{
		Catalog:       catalogService,
		Store:         pgrepo.NewGatewayPaymentRepo(pool),
		Ledger:        pgrepo.NewLedgerRepo(pool),
		Gateway:       gatewayClient,
		Codec:         codec,
		Limiter:       limiter,
		Logger:        log,
		Limits:        paymentLimits(cfg.Limits),
		IntegritySalt: tokenSecret,
		ReturnURL:     cfg.YooKassa.ReturnURL,
		WebhookSecret: cfg.YooKassa.WebhookSecret,
	})
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, fmt.Errorf("init payments service: %w", err)
	}

	if !paymentService.WebhookConfigured() {
		log.Warn("yookassa.webhook_secret is empty, webhook requests will be rejected")
	}

	RegisterRoutes(r, Dependencies{
		PaymentService: paymentService,
		Logger:         log,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		httpRouter: r,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}

func paymentLimits(limits config.LimitsConfig) paymentsvc.Limits {
	return paymentsvc.Limits{
		StarsInvoice:  ratesvc.Rule{Limit: limits.StarsInvoice.Limit, Window: limits.StarsInvoice.Window},
		GatewayCreate: ratesvc.Rule{Limit: limits.GatewayCreate.Limit, Window: limits.GatewayCreate.Window},
		GatewayCheck:  ratesvc.Rule{Limit: limits.GatewayCheck.Limit, Window: limits.GatewayCheck.Window},
	}
}
