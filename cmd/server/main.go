package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/estatedesk/backoffice/internal/config"
	"github.com/estatedesk/backoffice/internal/database"
	"github.com/estatedesk/backoffice/internal/handlers"
	mW "github.com/estatedesk/backoffice/internal/middleware"
	"github.com/estatedesk/backoffice/internal/services"
)

// @title EstateDesk Back Office API
// @version 1.0
// @description Wallet ledger and bill settlement service for the property-management back office
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	walletCfg := config.LoadWalletConfig()

	// Initialize stores
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Wire services
	accountStore := services.NewAccountStore(db, walletCfg)
	transactionLog := services.NewTransactionLog(db, walletCfg)
	passwordGuard := services.NewPasswordGuard(db, accountStore, walletCfg)
	walletService := services.NewWalletService(db, redisClient, accountStore, transactionLog, walletCfg)
	billingService := services.NewBillingService(db, walletService, passwordGuard, accountStore, walletCfg)
	qrService := services.NewQRService(db, redisClient)
	qrHandler := handlers.NewQRHandler(qrService)

	mW.InitAuthMiddleware(redisClient)

	// Overdue bill sweep
	sweeper := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(log.Default()))))
	if _, err := sweeper.AddFunc(walletCfg.OverdueSweepSpec, billingService.SweepOverdue); err != nil {
		log.Fatalf("Failed to schedule overdue sweep: %v", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/wallet", walletService.HandleGetWallet)
			r.Post("/wallet/recharge", walletService.HandleRecharge)
			r.Get("/wallet/transactions", walletService.HandleGetTransactions)
			r.Post("/wallet/password", passwordGuard.HandleSetPassword)
			r.Put("/wallet/password", passwordGuard.HandleChangePassword)
			r.Post("/wallet/verify", passwordGuard.HandleVerifyPassword)

			r.Get("/bills/unpaid", billingService.HandleListUnpaid)
			r.Post("/bills/pay-batch", billingService.HandlePayBatch)
			r.Post("/bills/{billID}/pay", billingService.HandlePayBill)

			r.Post("/qr/generate", qrHandler.GenerateQR)
			r.Post("/qr/process", qrHandler.ProcessQR)

			// Privileged endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireAdmin)

				r.Post("/admin/wallet/{ownerID}/recharge", walletService.HandleAdminRecharge)
				r.Post("/admin/wallet/{ownerID}/freeze", walletService.HandleFreeze)
				r.Post("/admin/wallet/{ownerID}/unfreeze", walletService.HandleUnfreeze)
				r.Post("/admin/wallet/{ownerID}/reset-password", passwordGuard.HandleAdminResetPassword)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
