package botapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ivankudzin/tgshop/internal/config"
	tginfra "github.com/ivankudzin/tgshop/internal/infra/telegram"
	"github.com/ivankudzin/tgshop/internal/infra/yookassa"
	"github.com/ivankudzin/tgshop/internal/jobs/reconcile"
	pgrepo "github.com/ivankudzin/tgshop/internal/repo/postgres"
	redrepo "github.com/ivankudzin/tgshop/internal/repo/redis"
	catalogsvc "github.com/ivankudzin/tgshop/internal/services/catalog"
	paymentsvc "github.com/ivankudzin/tgshop/internal/services/payments"
	"github.com/ivankudzin/tgshop/internal/services/paytoken"
	ratesvc "github.com/ivankudzin/tgshop/internal/services/rate"
	subsvc "github.com/ivankudzin/tgshop/internal/services/subscriptions"
)

type App struct {
	cfg           config.Config
	logger        *zap.Logger
	postgres      *pgxpool.Pool
	redis         *goredis.Client
	bot           *tginfra.Bot
	catalog       *catalogsvc.Service
	payments      *paymentsvc.Service
	subscriptions *subsvc.Service
	limiter       *ratesvc.Limiter
	ledgerRepo    *pgrepo.LedgerRepo
	paymentRepo   *pgrepo.GatewayPaymentRepo
	reconcileJob  *reconcile.Job

	stateMu     sync.Mutex
	stateByChat map[int64]dialogState
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("init postgres for bot app: %w", err)
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	limiter := ratesvc.NewLimiter(redrepo.NewRateRepo(redisClient))

	productRepo := pgrepo.NewProductRepo(pool)
	paymentRepo := pgrepo.NewGatewayPaymentRepo(pool)
	ledgerRepo := pgrepo.NewLedgerRepo(pool)

	catalogService := catalogsvc.NewService(catalogsvc.Dependencies{
		Store:        productRepo,
		ExchangeRate: cfg.Payments.ExchangeRate,
	})

	// A dedicated token secret is preferred; falling back to the bot token
	// keeps single-secret deployments working.
	tokenSecret := strings.TrimSpace(cfg.Payments.TokenSecret)
	if tokenSecret == "" {
		tokenSecret = strings.TrimSpace(cfg.Bot.Token)
		logger.Warn("payments.token_secret is empty, falling back to bot token")
	}
	codec, err := paytoken.NewCodec(tokenSecret, cfg.Payments.TokenPastWindow, cfg.Payments.TokenFutureSkew)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init payment token codec: %w", err)
	}

	gatewayClient := yookassa.NewClient(yookassa.Config{
		ShopID:    cfg.YooKassa.ShopID,
		SecretKey: cfg.YooKassa.SecretKey,
		BaseURL:   cfg.YooKassa.APIBaseURL,
		Timeout:   cfg.YooKassa.Timeout,
	})
	if !gatewayClient.Configured() {
		logger.Warn("yookassa credentials are empty, card payments disabled")
	}

	paymentsService, err := paymentsvc.NewService(paymentsvc.Dependencies{
		Catalog:       catalogService,
		Store:         paymentRepo,
		Ledger:        ledgerRepo,
		Gateway:       gatewayClient,
		Codec:         codec,
		Limiter:       limiter,
		Logger:        logger,
		Limits:        paymentLimits(cfg.Limits),
		IntegritySalt: tokenSecret,
		ReturnURL:     cfg.YooKassa.ReturnURL,
		WebhookSecret: cfg.YooKassa.WebhookSecret,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init payments service: %w", err)
	}

	subscriptionsService := subsvc.NewService(subsvc.Dependencies{
		Ledger:      ledgerRepo,
		Catalog:     catalogService,
		DefaultDays: cfg.Catalog.SubscriptionDays,
	})

	reconcileJob := reconcile.New(paymentsService, cfg.Jobs.ReconcileGrace, cfg.Jobs.ReconcileBatch, logger)

	var bot *tginfra.Bot
	if strings.TrimSpace(cfg.Bot.Token) != "" {
		bot, err = tginfra.NewBot(cfg.Bot.Token)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("init telegram bot: %w", err)
		}
	} else {
		logger.Warn("BOT_TOKEN is empty, bot listener disabled")
	}

	app := &App{
		cfg:           cfg,
		logger:        logger,
		postgres:      pool,
		redis:         redisClient,
		bot:           bot,
		catalog:       catalogService,
		payments:      paymentsService,
		subscriptions: subscriptionsService,
		limiter:       limiter,
		ledgerRepo:    ledgerRepo,
		paymentRepo:   paymentRepo,
		reconcileJob:  reconcileJob,
		stateByChat:   make(map[int64]dialogState),
	}
	paymentsService.AttachNotifier(app)
	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Info("bot app started")

	errCh := make(chan error, 2)
	go func() {
		errCh <- a.runReconcileLoop(ctx)
	}()

	if a.bot != nil {
		go func() {
			errCh <- a.bot.Listen(ctx, tginfra.Handlers{
				OnCommand:     a.handleCommand,
				OnText:        a.handleText,
				OnCallback:    a.handleCallback,
				OnPreCheckout: a.handlePreCheckout,
				OnPayment:     a.handlePayment,
			})
		}()
	}

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("bot app stopped")
			return nil
		case err := <-errCh:
			if err == nil || errors.Is(err, context.Canceled) {
				continue
			}
			return err
		}
	}
}

func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis client", zap.Error(err))
		}
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
}

func (a *App) runReconcileLoop(ctx context.Context) error {
	if a.reconcileJob == nil {
		return nil
	}

	interval := a.cfg.Jobs.ReconcileInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.reconcileJob.Run(ctx); err != nil {
				a.logger.Error("reconcile run failed", zap.Error(err))
			}
		}
	}
}

// NotifyGatewayDelivery implements the payments delivery notifier: when the
// reconcile loop settles a payment, the buyer gets the purchase in chat
// without pressing the check button.
func (a *App) NotifyGatewayDelivery(ctx context.Context, userID int64, delivery paymentsvc.Delivery) {
	if a.bot == nil {
		return
	}
	if err := a.sendDelivery(ctx, userID, delivery); err != nil {
		a.logger.Error("deliver reconciled purchase",
			zap.Int64("user_id", userID),
			zap.String("payment_id", delivery.GatewayPaymentID),
			zap.Error(err),
		)
	}
}

func (a *App) isAdmin(userID int64) bool {
	for _, id := range a.cfg.Bot.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func paymentLimits(limits config.LimitsConfig) paymentsvc.Limits {
	return paymentsvc.Limits{
		StarsInvoice:  ratesvc.Rule{Limit: limits.StarsInvoice.Limit, Window: limits.StarsInvoice.Window},
		GatewayCreate: ratesvc.Rule{Limit: limits.GatewayCreate.Limit, Window: limits.GatewayCreate.Window},
		GatewayCheck:  ratesvc.Rule{Limit: limits.GatewayCheck.Limit, Window: limits.GatewayCheck.Window},
	}
}
