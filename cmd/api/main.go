package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/sohojware/checkout-guard/internal/fraud"
	"github.com/sohojware/checkout-guard/internal/guard"
	"github.com/sohojware/checkout-guard/internal/handlers"
	"github.com/sohojware/checkout-guard/internal/license"
	"github.com/sohojware/checkout-guard/internal/mailer"
	"github.com/sohojware/checkout-guard/internal/repository"
	"github.com/sohojware/checkout-guard/internal/service"
	"github.com/sohojware/checkout-guard/pkg/config"
	"github.com/sohojware/checkout-guard/pkg/database"
	"github.com/sohojware/checkout-guard/pkg/events"
	"github.com/sohojware/checkout-guard/pkg/logger"
	mw "github.com/sohojware/checkout-guard/pkg/middleware"
)

func main() {
	cfg := config.Load()

	// Connect to database
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Connect to Redis for the fraud-report cache
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("Invalid Redis URL", "error", err)
		os.Exit(1)
	}
	if cfg.Redis.Password != "" {
		redisOpts.Password = cfg.Redis.Password
	}
	redisOpts.DB = cfg.Redis.DB
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	// Connect to event bus
	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// Initialize repositories
	orderRepo := repository.NewOrderRepository(pool)
	blocklistRepo := repository.NewBlocklistRepository(pool)
	incompleteRepo := repository.NewIncompleteRepository(pool)
	settingsRepo := repository.NewSettingsRepository(pool)

	// Initialize remote clients
	fraudClient := fraud.NewClient(cfg.Remote.BaseURL, cfg.Remote.FraudTimeout, redisClient, cfg.Remote.FraudCacheTTL)
	licenseClient := license.NewClient(cfg.Remote.BaseURL, cfg.Remote.StoreURL, cfg.Remote.DeviceID, cfg.Remote.LicenseTimeout, settingsRepo)

	var mail mailer.Service
	if cfg.Email.DevMode {
		mail = mailer.NewDevMailer()
	} else {
		mail = mailer.NewMailerSend(cfg.Email.MailerSendKey, cfg.Email.FromName, cfg.Email.FromEmail)
	}

	// Initialize services
	pipeline := guard.NewPipeline(blocklistRepo, orderRepo)
	checkoutService := service.NewCheckoutService(pipeline, settingsRepo, incompleteRepo, orderRepo, eventBus)
	adminService := service.NewAdminService(
		blocklistRepo, incompleteRepo, orderRepo, settingsRepo,
		fraudClient, licenseClient, mail, eventBus, cfg.Remote.StoreURL)

	// Apply storefront status changes in the background
	if err := checkoutService.SubscribeOrderStatus(eventBus); err != nil {
		logger.Error("Failed to subscribe to order status events", "error", err)
		os.Exit(1)
	}

	// Initialize handlers
	h := handlers.New(checkoutService, adminService, cfg.Auth.JWTSecret)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("checkout-guard"))
	r.Use(mw.Logging)
	r.Use(mw.Health)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Routes
	r.Route("/v1", func(r chi.Router) {
		// Storefront-facing checkout routes
		r.Route("/checkout", func(r chi.Router) {
			r.Post("/validate", h.ValidateCheckout)
			r.Post("/capture", h.CaptureCheckout)
			r.Post("/complete", h.CompleteCheckout)
		})

		// Admin routes (JWT required)
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.RequireJWT("admin"))

			r.Route("/blocklist", func(r chi.Router) {
				r.Get("/", h.ListBlocked)
				r.Post("/", h.BlockUser)
				r.Post("/from-orders", h.BlockFromOrders)
				r.Delete("/{id}", h.UnblockUser)
			})

			r.Route("/incomplete-orders", func(r chi.Router) {
				r.Get("/", h.ListIncompleteOrders)
				r.Get("/stats", h.IncompleteStats)
				r.Get("/{id}", h.GetIncompleteOrder)
				r.Post("/{id}/reject", h.RejectIncompleteOrder)
				r.Post("/{id}/called", h.MarkIncompleteCalled)
				r.Post("/{id}/convert", h.ConvertIncompleteOrder)
				r.Post("/{id}/remind", h.RemindIncompleteOrder)
			})

			r.Get("/phone-history/{phone}", h.PhoneHistory)
			r.Post("/fraud-check", h.FraudCheck)

			r.Route("/license", func(r chi.Router) {
				r.Post("/activate", h.ActivateLicense)
				r.Post("/deactivate", h.DeactivateLicense)
				r.Get("/status", h.LicenseStatus)
			})

			r.Get("/settings", h.GetSettings)
			r.Put("/settings", h.UpdateSettings)
		})
	})

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down checkout-guard...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Shutdown error", "error", err)
		}
	}()

	logger.Info("Starting checkout-guard", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
