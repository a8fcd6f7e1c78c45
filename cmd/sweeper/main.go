package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/taskhive/taskhive/internal/admin"
	"github.com/taskhive/taskhive/internal/audit"
	"github.com/taskhive/taskhive/internal/notifications"
	"github.com/taskhive/taskhive/internal/settings"
	"github.com/taskhive/taskhive/internal/settlement"
	"github.com/taskhive/taskhive/internal/submissions"
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

// The sweeper runs the periodic policy jobs: the moderator auto-upgrade
// sweep and the stale-moderation check.
func main() {
	dbURL := getEnv("DATABASE_URL", "postgres://localhost:5432/taskhive?sslmode=disable")
	natsURL := getEnv("NATS_URL", "nats://localhost:4222")
	interval, err := time.ParseDuration(getEnv("SWEEP_INTERVAL", "5m"))
	if err != nil {
		log.Fatalf("Invalid SWEEP_INTERVAL: %v", err)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	natsClient, err := messaging.NewClient(natsURL, messaging.ClientOptions{
		Name:          "taskhive-sweeper",
		ReconnectWait: time.Second,
		MaxReconnects: 60,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsClient.Close()

	settingsStore := settings.NewStore(db, nil)
	userDir := users.NewDirectory(db)
	subStore := submissions.NewStore(db)
	voteLedger := votes.NewLedger(db)
	notifier := notifications.NewService(db, natsClient)

	adminService := admin.NewService(db, userDir, settingsStore, notifier, audit.NewRecorder(db), natsClient)
	engine := settlement.NewEngine(db, subStore, voteLedger, notifier, natsClient, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Sweeper running every %s", interval)
	for {
		sweep(ctx, adminService, engine, settingsStore)

		select {
		case <-ctx.Done():
			log.Println("Sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

func sweep(ctx context.Context, adminService *admin.Service, engine *settlement.Engine, settingsStore *settings.Store) {
	upgraded, err := adminService.AutoUpgradeModerators(ctx)
	if err != nil {
		log.Printf("auto-upgrade sweep failed: %v", err)
	} else if upgraded > 0 {
		log.Printf("auto-upgrade sweep granted moderation to %d users", upgraded)
	}

	st, err := settingsStore.Get(ctx)
	if err != nil {
		log.Printf("failed to load settings: %v", err)
		return
	}
	expired, err := engine.ExpireStale(ctx, time.Duration(st.ModerationTimeoutHours)*time.Hour)
	if err != nil {
		log.Printf("stale-moderation sweep failed: %v", err)
	} else if expired > 0 {
		log.Printf("expired %d stale submissions", expired)
	}
}
