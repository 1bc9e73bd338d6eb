package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/perstream/checkout/api"
	"github.com/perstream/checkout/cache"
	"github.com/perstream/checkout/chain"
	"github.com/perstream/checkout/config"
	"github.com/perstream/checkout/db"
	"github.com/perstream/checkout/middleware"
	"github.com/perstream/checkout/monitoring"
	"github.com/perstream/checkout/permits"
	"github.com/perstream/checkout/providers"
	"github.com/perstream/checkout/security"
	"github.com/perstream/checkout/services"
	"github.com/perstream/checkout/stores"
	"github.com/perstream/checkout/utils"
)

const serviceVersion = "1.0.0"

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorPurple = "\033[35m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func printBanner() {
	fmt.Printf("%s%s", colorCyan, colorBold)
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                                                              ║")
	fmt.Println("║  ⚡ Perstream Checkout Service                               ║")
	fmt.Println("║                                                              ║")
	fmt.Println("║  Gas-sponsored token payments for digital content           ║")
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Printf("%s", colorReset)
}

func printStep(step, message string) {
	fmt.Printf("%s[%s]%s %s%s%s\n", colorBlue, step, colorReset, colorBold, message, colorReset)
}

func printSuccess(message string) {
	fmt.Printf("%s✓%s %s\n", colorGreen, colorReset, message)
}

func printWarning(message string) {
	fmt.Printf("%s⚠%s %s\n", colorYellow, colorReset, message)
}

func printError(message string) {
	fmt.Printf("%s✗%s %s\n", colorRed, colorReset, message)
}

func printInfo(message string) {
	fmt.Printf("%sℹ%s %s\n", colorCyan, colorReset, message)
}

func main() {
	printBanner()
	fmt.Println()

	printStep("1/10", "Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		printError(fmt.Sprintf("Failed to load configuration: %v", err))
		os.Exit(1)
	}
	printSuccess("Configuration loaded successfully")

	printStep("2/10", "Validating configuration...")
	if err := cfg.Validate(); err != nil {
		printError(fmt.Sprintf("Configuration validation failed: %v", err))
		os.Exit(1)
	}
	printSuccess("Configuration validation passed")

	printStep("3/10", "Connecting to database...")
	database, err := db.Connect(cfg)
	if err != nil {
		printError(fmt.Sprintf("Failed to connect to database: %v", err))
		os.Exit(1)
	}
	defer db.Close(database)

	if err := db.Migrate(database); err != nil {
		printError(fmt.Sprintf("Failed to run migrations: %v", err))
		os.Exit(1)
	}
	printSuccess(fmt.Sprintf("Connected to PostgreSQL at %s:%d", cfg.Database.Host, cfg.Database.Port))

	printStep("4/10", "Connecting to Redis...")
	redisCache, err := cache.CreateRedisCache(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL,
		PoolSize: cfg.Redis.PoolSize,
		MinIdle:  cfg.Redis.MinIdle,
	})
	if err != nil {
		// Sessions and idempotency records live in Redis; without it no
		// checkout can be opened or replayed safely.
		printError(fmt.Sprintf("Failed to connect to Redis: %v", err))
		os.Exit(1)
	}
	defer redisCache.Close()
	printSuccess(fmt.Sprintf("Connected to Redis at %s:%d", cfg.Redis.Host, cfg.Redis.Port))

	printStep("5/10", "Connecting to settlement chain...")
	chainClient, err := chain.CreateClient(cfg.Chain)
	if err != nil {
		printError(fmt.Sprintf("Failed to create chain client: %v", err))
		os.Exit(1)
	}
	defer chainClient.Close()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 10*time.Second)
	if err := chainClient.VerifyNetwork(verifyCtx); err != nil {
		cancelVerify()
		printError(fmt.Sprintf("Chain verification failed: %v", err))
		os.Exit(1)
	}
	cancelVerify()
	printSuccess(fmt.Sprintf("Connected to chain %d via %s", cfg.Chain.ChainID, cfg.Chain.RPCURL))

	printStep("6/10", "Initializing gas sponsorship...")
	var sponsor providers.Sponsor
	var paymasterClient *providers.PaymasterClient
	if cfg.Paymaster.Enabled {
		paymasterClient = providers.CreatePaymasterClient(providers.PaymasterOptions{
			URL:        cfg.Paymaster.URL,
			APIKey:     cfg.Paymaster.APIKey,
			EntryPoint: cfg.Paymaster.EntryPoint,
		})
		sponsor = providers.CreateGuardedSponsor(paymasterClient, cfg.Paymaster.Timeout, func(name string, from, to providers.FuseState) {
			utils.Warn(context.Background(), "sponsor fuse state changed", map[string]interface{}{
				"sponsor": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			monitoring.SetGauge("sponsor_fuse_state", float64(to), map[string]string{"sponsor": name})
		})
		printSuccess(fmt.Sprintf("Paymaster ready at %s", cfg.Paymaster.URL))
	} else {
		printWarning("Paymaster disabled, all payments will use the conventional path")
	}

	printStep("7/10", "Initializing stores...")
	sessionStore := stores.CreateSessionStore(redisCache, cfg.Checkout.SessionRetention)
	idempotencyStore := stores.CreateIdempotencyStore(redisCache, cfg.Checkout.IdempotencyTTL)
	purchaseStore := stores.CreatePurchaseStore(database)
	printSuccess("Stores initialized")

	printStep("8/10", "Initializing services...")
	validator := permits.CreateValidator(chainClient, cfg.Chain.TokenAddress)
	paymentService := services.CreatePaymentService(validator, sponsor, chainClient, cfg.Chain)
	checkoutService := services.CreateCheckoutService(sessionStore, purchaseStore, paymentService, chainClient, cfg.Chain, cfg.Checkout)
	batchService := services.CreateBatchService(paymentService, cfg.Checkout)
	printSuccess("Services initialized")

	printStep("9/10", "Initializing security and monitoring...")
	jwtManager := security.CreateJWTManager(cfg.Security.JWTSecret, "perstream-checkout", "checkout-api")

	rateLimiter := security.CreateTieredRateLimiter(map[string]security.RateLimitConfig{
		"default": {RequestsPerSecond: cfg.Security.RateLimitRPS, Burst: cfg.Security.RateLimitBurst, Window: time.Minute},
		"premium": {RequestsPerSecond: cfg.Security.RateLimitRPS * 5, Burst: cfg.Security.RateLimitBurst * 5, Window: time.Minute},
		"service": {RequestsPerSecond: cfg.Security.RateLimitRPS * 20, Burst: cfg.Security.RateLimitBurst * 20, Window: time.Minute},
	})

	healthService := monitoring.CreateHealthService(serviceVersion)
	healthService.AddCheck("database", func(ctx context.Context) error {
		sqlDB, err := database.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	healthService.AddCheck("redis", func(ctx context.Context) error {
		return redisCache.Client().Ping(ctx).Err()
	})
	healthService.AddCheck("chain", func(ctx context.Context) error {
		return chainClient.VerifyNetwork(ctx)
	})
	if paymasterClient != nil {
		// Sponsorship down still settles payments through the fallback, so
		// the probe degrades the service instead of failing it.
		healthService.AddDegradedCheck("paymaster", func(ctx context.Context) error {
			if !paymasterClient.IsAvailable(ctx) {
				return fmt.Errorf("sponsorship service unreachable")
			}
			return nil
		})
	}
	printSuccess("Security and monitoring initialized")

	printStep("10/10", "Setting up HTTP server...")
	checkoutHandler := api.CreateCheckoutHandler(checkoutService)
	paymentHandler := api.CreatePaymentHandler(paymentService, batchService)
	healthHandler := api.CreateHealthHandler(healthService)

	router := mux.NewRouter()

	authMiddleware := middleware.CreateAuthMiddleware(jwtManager, rateLimiter)
	idempotency := middleware.CreateIdempotencyMiddleware(idempotencyStore)

	router.Use(middleware.CorrelationMiddleware)
	router.Use(middleware.LoggingMiddleware)
	router.Use(authMiddleware.HeadersMiddleware)
	allowedOrigins := []string{"http://localhost:3000", "http://localhost:8080"}
	router.Use(middleware.CORSMiddleware(allowedOrigins))
	router.Use(middleware.RecoveryMiddleware)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	if cfg.Security.RateLimitEnabled {
		apiRouter.Use(authMiddleware.RateLimitMiddleware)
	}
	apiRouter.Use(authMiddleware.JWTMiddleware)

	apiRouter.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
	apiRouter.HandleFunc("/metrics", healthHandler.HandleMetrics).Methods("GET")

	// Money-moving routes require an Idempotency-Key so client retries can
	// never double-spend.
	idem := idempotency.Middleware
	apiRouter.Handle("/checkout/init", idem(http.HandlerFunc(checkoutHandler.HandleInit))).Methods("POST")
	apiRouter.Handle("/checkout/complete", idem(http.HandlerFunc(checkoutHandler.HandleComplete))).Methods("POST")
	apiRouter.Handle("/checkout/cancel", idem(http.HandlerFunc(checkoutHandler.HandleCancel))).Methods("POST")
	apiRouter.HandleFunc("/checkout/{id}", checkoutHandler.HandleGetSession).Methods("GET")

	apiRouter.Handle("/payments/execute", idem(http.HandlerFunc(paymentHandler.HandleExecute))).Methods("POST")
	apiRouter.Handle("/payments/batch-execute", idem(http.HandlerFunc(paymentHandler.HandleBatchExecute))).Methods("POST")
	apiRouter.HandleFunc("/payments/estimate-savings", paymentHandler.HandleEstimateSavings).Methods("POST")

	apiRouter.HandleFunc("/purchases", checkoutHandler.HandleListPurchases).Methods("GET")

	server := &http.Server{
		Addr:           ":" + cfg.Server.Port,
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	printSuccess("HTTP server configured")

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(cfg.Checkout.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if _, err := checkoutService.CleanupExpired(sweepCtx); err != nil {
					utils.Error(sweepCtx, "session sweep failed", map[string]interface{}{"error": err.Error()})
				}
			}
		}
	}()

	fmt.Println()
	fmt.Printf("%s%s🎉 Perstream Checkout is ready!%s\n", colorGreen, colorBold, colorReset)
	fmt.Println()
	fmt.Printf("%s%sAPI Endpoints:%s\n", colorPurple, colorBold, colorReset)
	fmt.Printf("  %s•%s Health Check: %shttp://localhost:%s/api/v1/health%s\n", colorCyan, colorReset, colorYellow, cfg.Server.Port, colorReset)
	fmt.Printf("  %s•%s Metrics:      %shttp://localhost:%s/api/v1/metrics%s\n", colorCyan, colorReset, colorYellow, cfg.Server.Port, colorReset)
	fmt.Printf("  %s•%s Checkout:     %shttp://localhost:%s/api/v1/checkout/init%s\n", colorCyan, colorReset, colorYellow, cfg.Server.Port, colorReset)
	fmt.Printf("  %s•%s Payments:     %shttp://localhost:%s/api/v1/payments/execute%s\n", colorCyan, colorReset, colorYellow, cfg.Server.Port, colorReset)
	fmt.Printf("  %s•%s Purchases:    %shttp://localhost:%s/api/v1/purchases%s\n", colorCyan, colorReset, colorYellow, cfg.Server.Port, colorReset)
	fmt.Println()
	fmt.Printf("%s%sEnvironment:%s %s%s%s\n", colorPurple, colorBold, colorReset, colorYellow, cfg.Environment, colorReset)
	fmt.Printf("%s%sServer Port:%s %s%s%s\n", colorPurple, colorBold, colorReset, colorYellow, cfg.Server.Port, colorReset)
	fmt.Printf("%s%sSettlement:%s %s%s on chain %d%s\n", colorPurple, colorBold, colorReset, colorYellow, cfg.Chain.TokenSymbol, cfg.Chain.ChainID, colorReset)
	fmt.Printf("%s%sSponsorship:%s %s%v%s\n", colorPurple, colorBold, colorReset, colorYellow, cfg.Paymaster.Enabled, colorReset)
	fmt.Println()
	fmt.Printf("%s%sPress Ctrl+C to stop the server%s\n", colorYellow, colorBold, colorReset)
	fmt.Println()

	go func() {
		printInfo(fmt.Sprintf("Starting HTTP server on port %s...", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			printError(fmt.Sprintf("Server failed to start: %v", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println()
	printWarning("Shutting down checkout service...")

	stopSweeper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		printError(fmt.Sprintf("Server forced to shutdown: %v", err))
		os.Exit(1)
	}

	rateLimiter.Close()

	printSuccess("Checkout service stopped gracefully")
}
