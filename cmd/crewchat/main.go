package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/teamstack/crewchat/backend/internal/auth"
	"github.com/teamstack/crewchat/backend/internal/chat"
	"github.com/teamstack/crewchat/backend/internal/config"
	"github.com/teamstack/crewchat/backend/internal/conversations"
	"github.com/teamstack/crewchat/backend/internal/messages"
	"github.com/teamstack/crewchat/backend/internal/notifications"
	"github.com/teamstack/crewchat/backend/internal/storage/postgres"
	"github.com/teamstack/crewchat/backend/internal/storage/sqlite"
	"github.com/teamstack/crewchat/backend/internal/uploads"
	"github.com/teamstack/crewchat/backend/internal/users"
)

type database interface {
	Migrate() error
}

func main() {
	migrate := flag.Bool("migrate", false, "run migrations and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file loaded", "err", err)
	}
	cfg := config.MustLoad()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	var (
		db   *sql.DB
		conn database
	)
	switch cfg.DBDriver {
	case "postgres":
		pg, err := postgres.New(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("Error connecting to database: %v", err)
		}
		db, conn = pg.Db, pg
	default:
		lite, err := sqlite.New(cfg.SQLITEDsn)
		if err != nil {
			log.Fatalf("Error connecting to database: %v", err)
		}
		db, conn = lite.Db, lite
	}
	defer db.Close()

	if *migrate {
		if err := conn.Migrate(); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		slog.Info("migration completed")
		return
	}

	hub := chat.NewHub(db)
	convStore := conversations.NewStore(db)
	notifStore := notifications.NewStore(db)
	engine := &messages.Engine{
		Store:         messages.NewStore(db),
		Conversations: convStore,
		Notifications: notifStore,
		Broadcast:     hub,
		Mail:          notifications.NewMailer(db, cfg.SendGridAPIKey, cfg.SendGridFrom),
		ReadWindow:    cfg.ReadWindow,
	}

	router := gin.Default()
	router.Static("/uploads", cfg.UploadDir)

	api := router.Group("/api")
	users.RegisterPublic(api, db, cfg)
	chat.RegisterWS(api, hub, engine, cfg.JWTSecret)

	authed := api.Group("", auth.JWTMiddleware(cfg.JWTSecret))
	users.Register(authed, db)
	conversations.Register(authed, convStore, engine)
	messages.Register(authed, engine)
	notifications.Register(authed, notifStore)
	uploads.Register(authed, cfg.UploadDir)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("crewchat listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "err", err)
	}

	// Drain in-flight fan-out before the process exits.
	engine.Wait()
}
