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
	_ "github.com/soulseer/backend/docs"
	"github.com/soulseer/backend/internal/database"
	"github.com/soulseer/backend/internal/hub"
	mW "github.com/soulseer/backend/internal/middleware"
	"github.com/soulseer/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title SoulSeer Session Engine API
// @version 1.0
// @description Metered session engine: per-minute billing, settlement, and real-time coordination
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

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
	viper.BindEnv("settlement.reader_share_percent", "READER_SHARE_PERCENT")
	viper.BindEnv("heartbeat.tick_interval", "HEARTBEAT_TICK_INTERVAL")
	viper.BindEnv("heartbeat.liveness_timeout", "HEARTBEAT_LIVENESS_TIMEOUT")
	viper.BindEnv("heartbeat.grace_period", "HEARTBEAT_GRACE_PERIOD")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerService := services.NewLedgerService(db, redisClient)
	sessionService := services.NewSessionService(db, ledgerService)
	giftService := services.NewGiftService(db, ledgerService)

	connectionHub := hub.NewHub(sessionService, giftService, nil, ledgerService)
	heartbeatDriver := services.NewHeartbeatDriver(sessionService, connectionHub)
	sessionService.SetNotifier(connectionHub)
	sessionService.SetDriver(heartbeatDriver)
	connectionHub.SetLiveness(heartbeatDriver)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
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

	// Real-time channel (one persistent connection per client)
	r.Group(func(r chi.Router) {
		r.Use(mW.AuthMiddleware)
		r.Get("/ws", connectionHub.ServeWS)
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Long-lived connections live on /ws; request handlers get a bound.
		r.Use(middleware.Timeout(60 * time.Second))

		// Public endpoints (no auth required)
		r.Get("/readers", sessionService.ListReaders)
		r.Get("/readers/{readerId}", sessionService.GetReaderByID)
		r.Get("/gifts", giftService.GetCatalog)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/sessions/start", sessionService.StartSession)
			r.Post("/sessions/heartbeat", sessionService.Heartbeat)
			r.Post("/sessions/extend", sessionService.ExtendSession)
			r.Post("/sessions/end", sessionService.EndSession)
			r.Get("/sessions", sessionService.ListSessions)
			r.Get("/sessions/{sessionId}", sessionService.GetSessionByID)

			r.Get("/balance", sessionService.GetBalance)
			r.Post("/balance/topup", sessionService.Topup)
			r.Get("/earnings", sessionService.GetEarnings)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
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

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	heartbeatDriver.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
