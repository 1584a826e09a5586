package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "prima/api/swagger" // swagger docs
	"prima/internal/config"
	"prima/internal/database"
	"prima/internal/handler"
	"prima/internal/ledger"
	"prima/internal/logger"
	"prima/internal/metrics"
	"prima/internal/middleware"
	"prima/internal/model"
	"prima/internal/repository"
	"prima/internal/service"
	"prima/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Prima Invoice Financing API
// @version         1.0
// @description     Wallet-authenticated access to the Prima invoice ledger: role views, bounds checks and invoice transactions.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		_ = logger.Setup(logger.DefaultConfig())
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logger")
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	log.Info().Msg("Connected to PostgreSQL successfully.")

	// Set up dependencies (Repository -> Service -> Handler)
	txRepo := repository.NewTransactionRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	txManager := repository.NewTransactionManager(db)

	// receipts of a previous process are no longer awaited
	if n, err := txRepo.FailStale(ctx, "abandoned by a restart before confirmation"); err != nil {
		log.Warn().Err(err).Msg("Failed to close stale transactions")
	} else if n > 0 {
		log.Warn().Int64("count", n).Msg("Marked stale submitted transactions as failed")
	}

	client, err := ledger.DialConfig(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Ledger connection failed")
	}
	m := metrics.New(prometheus.DefaultRegisterer)
	chain := ledger.NewThrottled(client, cfg.LedgerReadRPS, cfg.LedgerReadBurst, m)
	prima := model.MustIdentity(cfg.PrimaAddress)
	log.Info().Str("rpc", cfg.RPCURL).Int64("chain_id", cfg.ChainID).Str("approval_mode", cfg.ApprovalMode).Msg("Ledger client ready")

	// Set up WebSocket Hub
	wsHub := websocket.NewHub(cfg.CORSOrigins)
	go wsHub.Run(ctx)

	registryService := service.NewRegistryService(chain, cfg.HydrationLimit)
	views := service.NewViewRegistry(ctx, registryService, m, wsHub.PublishView)
	views.SetIdleTTL(cfg.ViewIdleTTL)
	txService := service.NewTransactionService(chain, cfg.Mode(), txRepo, auditRepo, txManager, views, wsHub, m)
	invoiceService := service.NewInvoiceService(registryService, service.NewBoundsService(chain), chain, txService, views, prima)
	accountService := service.NewAccountService(chain, txService, prima)
	sessionService := service.NewSessionService(cfg.Secret(), cfg.SessionTTL, cfg.ChainID, auditRepo)
	auditService := service.NewAuditService(auditRepo)
	statisticsService := service.NewStatisticsService(txRepo)

	if cfg.WatchBlocks {
		watcher := service.NewBlockWatcher(client, views)
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Block watcher stopped")
			}
		}()
	}

	// Initialize Handlers
	crossSite := cfg.GinMode == gin.ReleaseMode
	authHandler := handler.NewAuthHandler(sessionService, cfg.SessionTTL, crossSite)
	invoiceHandler := handler.NewInvoiceHandler(invoiceService)
	accountHandler := handler.NewAccountHandler(accountService)
	transactionHandler := handler.NewTransactionHandler(txService)
	auditHandler := handler.NewAuditHandler(auditService)
	statisticsHandler := handler.NewStatisticsHandler(statisticsService)

	router := gin.New()
	router.Use(logger.GinMiddleware(), gin.Recovery())

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	router.Use(cors.New(corsConfig))
	router.Use(middleware.RequireTrustedOrigin(cfg.CORSOrigins))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, sessionService)
	})

	auth := middleware.RequireSession(sessionService)
	authHandler.RegisterRoutes(router.Group(""))
	invoiceHandler.RegisterRoutes(router.Group(""), auth)
	accountHandler.RegisterRoutes(router.Group(""), auth)
	transactionHandler.RegisterRoutes(router.Group(""), auth)
	auditHandler.RegisterRoutes(router.Group(""), auth)
	statisticsHandler.RegisterRoutes(router.Group(""), auth)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
