package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/p2p-usdt-api/internal/auth"
	"github.com/ksred/p2p-usdt-api/internal/chat"
	"github.com/ksred/p2p-usdt-api/internal/config"
	"github.com/ksred/p2p-usdt-api/internal/database"
	"github.com/ksred/p2p-usdt-api/internal/identity"
	"github.com/ksred/p2p-usdt-api/internal/metrics"
	"github.com/ksred/p2p-usdt-api/internal/offer"
	"github.com/ksred/p2p-usdt-api/internal/order"
	"github.com/ksred/p2p-usdt-api/internal/reference"
	"github.com/ksred/p2p-usdt-api/internal/settlement"
	"github.com/ksred/p2p-usdt-api/internal/stats"
	"github.com/ksred/p2p-usdt-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// handlers groups every HTTP handler set the router needs
type handlers struct {
	auth       *auth.GinHandlers
	offers     *offer.GinHandlers
	orders     *order.GinHandlers
	chat       *chat.GinHandlers
	settlement *settlement.GinHandlers
	identity   *identity.GinHandlers
	reference  *reference.GinHandlers
	stats      *stats.GinHandlers
}

// setupLogging enables pretty printing outside production and debug logging on request
func setupLogging(cfg *config.Config) {
	if !cfg.IsProduction() {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main wires the marketplace services, starts the background processors and
// serves the API until SIGINT or SIGTERM
func main() {
	configPath := flag.String("config", "", "path to a config file (defaults to ./config.yaml when present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewDatabase(cfg.Database, cfg.Debug)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize services
	hub := chat.NewHub()
	statsService := stats.NewService(db)
	identityService := identity.NewService(db, statsService)
	authService := auth.NewService(db, cfg.Auth, identityService)
	offerService := offer.NewService(db, identityService)
	orderService := order.NewService(db, hub, cfg.P2P.ArbiterWallets)
	chatService := chat.NewService(db, orderService, hub)
	settlementService := settlement.NewService(db)
	referenceService, err := reference.NewService()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load reference data")
	}

	// Start background processors
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	settlementProcessor := settlement.NewProcessor(db, settlement.LogSettler{}, orderService, cfg.Settlement)
	go settlementProcessor.Start(processorCtx)

	expiryProcessor := order.NewExpiryProcessor(orderService, cfg.P2P.ExpirySweepInterval)
	go expiryProcessor.Start(processorCtx)

	router := gin.Default()
	router.Use(metrics.Middleware())

	setupRoutes(router, authService, cfg.Server.RateLimit, handlers{
		auth:       auth.NewGinHandlers(authService),
		offers:     offer.NewGinHandlers(offerService),
		orders:     order.NewGinHandlers(orderService),
		chat:       chat.NewGinHandlers(chatService),
		settlement: settlement.NewGinHandlers(settlementService, orderService),
		identity:   identity.NewGinHandlers(identityService),
		reference:  reference.NewGinHandlers(referenceService),
		stats:      stats.NewGinHandlers(statsService),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		zlog.Info().Str("port", cfg.Server.Port).Str("env", cfg.Env).Msg("Starting P2P API")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop sweeping before the listener so no transition races the shutdown
	processorCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints. Reads of public market data need
// no token; anything that acts for a wallet sits behind JWT authentication.
// Rate limiting runs after authentication so traders are limited per wallet.
func setupRoutes(router *gin.Engine, tokens middleware.TokenValidator, rateLimit bool, h handlers) {
	limit := func(c *gin.Context) { c.Next() }
	if rateLimit {
		limit = middleware.RateLimit()
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authRoutes := v1.Group("/auth")
		authRoutes.Use(limit)
		{
			authRoutes.POST("/challenge", h.auth.ChallengeHandler())
			authRoutes.POST("/token", h.auth.GenerateTokenHandler())
		}

		// Public market data
		public := v1.Group("/p2p")
		public.Use(limit)
		{
			public.GET("/offers/country/:code", h.offers.ListByCountryHandler())
			public.GET("/offers/wallet/:wallet", h.offers.ListByWalletHandler())
			public.GET("/offers/:id", h.offers.GetOfferHandler())
			public.GET("/countries", h.reference.CountriesHandler())
			public.GET("/banks/:code", h.reference.BanksHandler())
			public.GET("/reference-prices", h.reference.ReferencePricesHandler())
			public.GET("/stats", h.stats.MarketStatsHandler())
			public.GET("/users/:wallet", h.identity.GetProfileHandler())
		}

		// Wallet routes
		private := v1.Group("/p2p")
		private.Use(middleware.JWTAuth(tokens, false), limit)
		{
			private.POST("/offers", h.offers.CreateOfferHandler())
			private.PUT("/offers/:id", h.offers.UpdateOfferHandler())
			private.PUT("/offers/:id/status", h.offers.SetStatusHandler())

			private.POST("/orders", h.orders.CreateOrderHandler())
			private.GET("/orders/wallet/:wallet", h.orders.ListByWalletHandler())
			private.GET("/orders/:id", h.orders.GetOrderHandler())
			private.PUT("/orders/:id/status", h.orders.TransitionHandler())
			private.GET("/orders/:id/settlement", h.settlement.GetSettlementHandler())

			private.GET("/orders/:id/chat", h.chat.ListHandler())
			private.POST("/orders/:id/chat", h.chat.AppendHandler())

			private.PUT("/profile", h.identity.UpdateProfileHandler())
		}

		// Browsers cannot set headers on a websocket handshake
		stream := v1.Group("/p2p")
		stream.Use(middleware.JWTAuth(tokens, true))
		{
			stream.GET("/orders/:id/chat/ws", h.chat.StreamHandler())
		}
	}
}
