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
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/tradesafi/backend/internal/config"
	"github.com/tradesafi/backend/internal/database"
	"github.com/tradesafi/backend/internal/handlers"
	"github.com/tradesafi/backend/internal/middleware"
	"github.com/tradesafi/backend/internal/models"
	"github.com/tradesafi/backend/internal/services"
)

func main() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.SetEnvPrefix("")

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

	viper.BindEnv("admin.email", "ADMIN_EMAIL")
	viper.BindEnv("admin.password", "ADMIN_PASSWORD")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	cfg := config.LoadEscrowConfig()

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	defer redisClient.Close()

	// Message senders per platform. Missing credentials fall back to the log
	// sender so local runs still show outgoing traffic.
	telegramSender := services.NewTelegramSender(cfg.TelegramBotToken)
	senders := map[models.Platform]services.MessageSender{}
	if cfg.TelegramBotToken != "" {
		senders[models.PlatformTelegram] = telegramSender
	} else {
		log.Println("TELEGRAM_BOT_TOKEN not set, Telegram notifications go to the log")
		senders[models.PlatformTelegram] = services.LogSender{}
	}
	if cfg.WhatsAppAPIURL != "" && cfg.WhatsAppAPIToken != "" {
		senders[models.PlatformWhatsApp] = services.NewWhatsAppSender(cfg.WhatsAppAPIURL, cfg.WhatsAppAPIToken)
	} else {
		senders[models.PlatformWhatsApp] = services.LogSender{}
	}

	notifier := services.NewNotificationService(db, senders)
	ledgerService := services.NewLedgerService(db)
	disputeService := services.NewDisputeService(db, ledgerService, notifier)

	var wallets services.DepositAddressGenerator
	var bitcoinService *services.BitcoinService
	if cfg.BlockCypherToken != "" {
		bitcoinService = services.NewBitcoinService(cfg.BlockCypherToken, cfg.BlockCypherBaseURL)
		wallets = bitcoinService
	}

	var mpesaService *services.MpesaService
	if cfg.MpesaConsumerKey != "" && cfg.MpesaSecret != "" {
		mpesaService = services.NewMpesaService(cfg.MpesaConsumerKey, cfg.MpesaSecret,
			cfg.MpesaPasskey, cfg.MpesaShortcode, cfg.MpesaBaseURL,
			os.Getenv("MPESA_CALLBACK_URL"))
	}

	escrowService := services.NewEscrowService(db, ledgerService, disputeService, notifier, wallets)
	userService := services.NewUserService(db)
	sessionService := services.NewSessionService(redisClient, cfg.SessionTTL)
	shareService := services.NewShareLinkService(db, redisClient, cfg.BotUsername)
	adminAuth := services.NewAdminAuthService(db, redisClient)

	if email, password := viper.GetString("admin.email"), viper.GetString("admin.password"); email != "" && password != "" {
		if err := adminAuth.SeedAdmin(email, password); err != nil {
			log.Printf("Warning: admin seed failed: %v", err)
		}
	}

	escrowHandler := handlers.NewEscrowHandler(escrowService, shareService, ledgerService)
	adminHandler := handlers.NewAdminHandler(disputeService, userService, escrowService)
	walletHandler := handlers.NewWalletHandler(ledgerService, userService, escrowService, mpesaService, bitcoinService)
	telegramHandler := handlers.NewTelegramHandler(escrowService, userService, sessionService, shareService, telegramSender)

	middleware.InitAuthMiddleware(redisClient)

	// Inspection deadlines live in the database, so the scheduler picks up
	// where a previous process left off.
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	scheduler := services.NewInspectionScheduler(db, escrowService, cfg.SchedulerInterval)
	escrowService.SetDeadlineWaker(scheduler.Nudge)
	go scheduler.Run(schedulerCtx)

	r := chi.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Timeout(60 * time.Second))

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

	r.Route("/api/v1", func(r chi.Router) {
		// Bot webhooks and party operations. Parties authenticate through
		// their chat platform; these routes trust the bot gateway in front.
		r.Post("/telegram/webhook", telegramHandler.Webhook)

		r.Post("/transactions", escrowHandler.CreateTransaction)
		r.Get("/transactions/{txId}", escrowHandler.GetTransaction)
		r.Get("/transactions/{txId}/share", escrowHandler.GetShareLink)
		r.Get("/transactions/{txId}/ledger", escrowHandler.GetLedgerEntries)
		r.Post("/transactions/{txId}/join", escrowHandler.JoinAsBuyer)
		r.Post("/transactions/{txId}/fund", escrowHandler.FundEscrow)
		r.Post("/transactions/{txId}/sent", escrowHandler.MarkItemSent)
		r.Post("/transactions/{txId}/delivery", escrowHandler.ConfirmDelivery)
		r.Post("/transactions/{txId}/extend", escrowHandler.ExtendInspection)
		r.Post("/transactions/{txId}/receipt", escrowHandler.ConfirmReceipt)
		r.Post("/transactions/{txId}/dispute", escrowHandler.InitiateDispute)

		r.Get("/wallet/{userId}/balances", walletHandler.GetBalances)
		r.Post("/wallet/{userId}/topup", walletHandler.InitiateTopup)
		r.Get("/wallet/deposits/{txId}", walletHandler.CheckDeposit)

		r.Post("/admin/login", adminAuth.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminAuthMiddleware)

			r.Post("/admin/logout", adminAuth.Logout)
			r.Get("/admin/stats", adminHandler.GetStats)
			r.Get("/admin/transactions", adminHandler.ListRecentTransactions)
			r.Get("/admin/disputes", adminHandler.ListDisputes)
			r.Get("/admin/disputes/{disputeId}", adminHandler.GetDispute)
			r.Post("/admin/disputes/{disputeId}/review", adminHandler.MarkUnderReview)
			r.Post("/admin/disputes/{disputeId}/resolve", adminHandler.ResolveDispute)
			r.Get("/admin/users", adminHandler.ListUsers)
			r.Post("/admin/users/{userId}/status", adminHandler.UpdateUserStatus)
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
	stopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
