package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/taskhive/taskhive/internal/admin"
	"github.com/taskhive/taskhive/internal/audit"
	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/gateway"
	"github.com/taskhive/taskhive/internal/metrics"
	"github.com/taskhive/taskhive/internal/moderation"
	"github.com/taskhive/taskhive/internal/notifications"
	"github.com/taskhive/taskhive/internal/payments"
	"github.com/taskhive/taskhive/internal/settings"
	"github.com/taskhive/taskhive/internal/settlement"
	"github.com/taskhive/taskhive/internal/submissions"
	"github.com/taskhive/taskhive/internal/tasks"
	"github.com/taskhive/taskhive/internal/users"
	"github.com/taskhive/taskhive/internal/votes"
	"github.com/taskhive/taskhive/pkg/messaging"
)

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func main() {
	port := getEnv("PORT", "8000")
	dbURL := getEnv("DATABASE_URL", "postgres://localhost:5432/taskhive?sslmode=disable")
	natsURL := getEnv("NATS_URL", "nats://localhost:4222")
	redisURL := getEnv("REDIS_URL", "")
	influxURL := getEnv("INFLUX_URL", "")
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	natsClient, err := messaging.NewClient(natsURL, messaging.ClientOptions{
		Name:          "taskhive-gateway",
		ReconnectWait: time.Second,
		MaxReconnects: 60,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsClient.Close()

	var cache *redis.Client
	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		cache = redis.NewClient(opts)
		defer cache.Close()
	}

	recorder := metrics.NewRecorder(influxURL,
		getEnv("INFLUX_TOKEN", ""), getEnv("INFLUX_ORG", "taskhive"), getEnv("INFLUX_BUCKET", "platform"))
	if recorder != nil {
		defer recorder.Close()
	}

	settingsStore := settings.NewStore(db, cache)
	userDir := users.NewDirectory(db)
	taskStore := tasks.NewStore(db)
	subStore := submissions.NewStore(db)
	voteLedger := votes.NewLedger(db)
	auditRec := audit.NewRecorder(db)

	notifier := notifications.NewService(db, natsClient)
	subService := submissions.NewService(subStore, userDir, taskStore, notifier, auditRec, natsClient)
	engine := settlement.NewEngine(db, subStore, voteLedger, notifier, natsClient, recorder)
	modService := moderation.NewService(db, subStore, voteLedger, userDir, settingsStore, engine, natsClient, recorder)
	payService := payments.NewService(db, userDir, settingsStore, subService, notifier, auditRec, natsClient, recorder)
	adminService := admin.NewService(db, userDir, settingsStore, notifier, auditRec, natsClient)
	authService := auth.NewService(db, jwtSecret)

	gw := gateway.NewGateway(gateway.Config{
		Port:            port,
		RateLimitMax:    100,
		RateLimitWindow: time.Minute,
	}, authService, userDir, settingsStore, subService, modService, payService,
		adminService, notifier, auditRec, natsClient)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: gw.Router(),
	}

	go func() {
		log.Printf("Gateway starting on port %s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Gateway shutdown error: %v", err)
	}
	if err := natsClient.Drain(); err != nil {
		log.Printf("NATS drain error: %v", err)
	}

	log.Println("Gateway stopped")
}
