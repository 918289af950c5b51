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

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"studyhub.org/internal/audit"
	"studyhub.org/internal/config"
	"studyhub.org/internal/directory"
	"studyhub.org/internal/httpapi"
	"studyhub.org/internal/obs"
	"studyhub.org/internal/session"
	"studyhub.org/internal/store/filestore"
	"studyhub.org/internal/store/pg"
	"studyhub.org/internal/token"
)

var version = "0.3.0"

type store interface {
	directory.Store
	audit.Sink
}

func main() {
	_ = godotenv.Load()
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("STUDYHUB_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Postgres when a DSN is configured, the file store otherwise.
	var (
		st store
		db *sql.DB
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		defer pgStore.Close()
		st, db = pgStore, pgStore.DB()
	} else {
		fileStore, err := filestore.New(cfg.DataDir)
		if err != nil {
			log.Fatalf("open file store: %v", err)
		}
		st = fileStore
	}

	ctx := context.Background()
	adminPassword, err := directory.Bootstrap(ctx, st)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	if adminPassword != "" {
		// Printed exactly once, on the run that created the account.
		log.Printf("bootstrap admin %s created, password: %s", directory.BootstrapAdminEmail, adminPassword)
	}

	recorder := audit.NewRecorder(st)
	tenants := directory.NewTenants(st, directory.WithTenantsRecorder(recorder))
	users := directory.NewUsers(st, tenants, directory.WithUsersRecorder(recorder))

	codec, err := token.NewCodec(cfg.AuthSecret)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}
	manager, err := session.NewManager(codec, users, tenants, recorder,
		session.WithTTLs(cfg.SessionTTL, cfg.RememberTTL))
	if err != nil {
		log.Fatalf("session manager: %v", err)
	}

	// Housekeeping: sweep expired sessions, enforce audit retention.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 10m", func() {
		if n := manager.Sweep(); n > 0 {
			log.Printf("swept %d expired sessions", n)
		}
	}); err != nil {
		log.Fatalf("schedule session sweep: %v", err)
	}
	retention := time.Duration(cfg.AuditDays) * 24 * time.Hour
	if _, err := scheduler.AddFunc("@daily", func() {
		n, err := recorder.PurgeOlderThan(context.Background(), retention)
		if err != nil {
			log.Printf("audit retention: %v", err)
			return
		}
		if n > 0 {
			log.Printf("purged %d audit events older than %d days", n, cfg.AuditDays)
		}
	}); err != nil {
		log.Fatalf("schedule audit retention: %v", err)
	}
	scheduler.Start()

	api := httpapi.New(manager, users, tenants, recorder, httpapi.ReadyProbe{DB: db}, version)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting studyhub-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	<-scheduler.Stop().Done()
	log.Println("Stopped")
}
