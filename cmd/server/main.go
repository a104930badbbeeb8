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
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/desibank/backend/docs"
	"github.com/desibank/backend/internal/audit"
	"github.com/desibank/backend/internal/config"
	"github.com/desibank/backend/internal/database"
	"github.com/desibank/backend/internal/handlers"
	mW "github.com/desibank/backend/internal/middleware"
	"github.com/desibank/backend/internal/notifications"
	"github.com/desibank/backend/internal/services"
)

// @title DesiBank Backend API
// @version 1.0
// @description Personal banking backend: accounts, ledger, payments, EMI plans
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
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

	viper.SetDefault("jwt.expiry_hours", 24)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	docs.SwaggerInfo.Title = "DesiBank Backend API"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	paymentCfg := config.LoadPaymentConfig()
	qrCfg := config.LoadQRConfig()
	notifyCfg := config.LoadNotificationConfig()

	notifier := notifications.NewPublisher(notifyCfg.AMQPURL, notifyCfg.Exchange)
	defer notifier.Close()

	ledger := services.NewLedgerService(db, audit.NewLogger())
	settlementService := services.NewSettlementService(redisClient, paymentCfg)

	authService := services.NewAuthService(db, redisClient)
	accountService := services.NewAccountService(db)
	transactionService := services.NewTransactionService(db, ledger, notifier)
	paymentService := services.NewPaymentService(db, ledger, settlementService, notifier, paymentCfg)
	emiService := services.NewEmiService(db, ledger, notifier)
	statementService := services.NewStatementService(db, redisClient)
	qrService := services.NewQRService(db, redisClient, qrCfg)
	qrHandler := handlers.NewQRHandler(qrService)

	authMiddleware := mW.NewAuthMiddleware(redisClient)

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)

			r.Post("/auth/logout", authService.Logout)
			r.Get("/auth/me", authService.GetProfile)

			r.Get("/dashboard", accountService.Dashboard)

			r.Post("/accounts", accountService.CreateAccount)
			r.Get("/accounts", accountService.ListAccounts)
			r.Get("/accounts/{accountId}", accountService.GetAccount)
			r.Put("/accounts/{accountId}/nickname", accountService.UpdateNickname)
			r.Put("/accounts/{accountId}/freeze", accountService.FreezeAccount)
			r.Put("/accounts/{accountId}/unfreeze", accountService.UnfreezeAccount)
			r.Delete("/accounts/{accountId}", accountService.CloseAccount)

			r.Post("/transactions/deposit", transactionService.Deposit)
			r.Post("/transactions/withdraw", transactionService.Withdraw)
			r.Post("/transactions/transfer", transactionService.Transfer)
			r.Get("/transactions/{transactionId}", transactionService.GetTransaction)
			r.Get("/accounts/{accountId}/transactions", transactionService.ListTransactions)
			r.Get("/accounts/{accountId}/statement", statementService.GetStatement)

			r.Post("/payments", paymentService.CreatePayment)
			r.Get("/payments", paymentService.ListPayments)
			r.Get("/payments/{paymentId}", paymentService.GetPayment)

			r.Post("/emi/calculate", emiService.Calculate)
			r.Post("/emi/plans", emiService.CreatePlan)
			r.Get("/emi/plans", emiService.ListPlans)
			r.Get("/emi/plans/{planId}", emiService.GetPlan)
			r.Get("/emi/plans/{planId}/schedule", emiService.GetSchedule)
			r.Post("/emi/plans/{planId}/installments/{installmentId}/pay", emiService.PayInstallment)

			r.Post("/qr/generate", qrHandler.GenerateQR)
			r.Post("/qr/process", qrHandler.ProcessQR)
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
