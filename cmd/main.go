package main

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"raffle/internal/config"
	"raffle/internal/draw"
	"raffle/internal/events"
	"raffle/internal/export"
	"raffle/internal/handlers"
	"raffle/internal/history"
	"raffle/internal/hub"
	"raffle/internal/i18n"
	"raffle/internal/parser"
	"raffle/internal/services"
	"raffle/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/joho/godotenv"
)

//go:embed all:templates
var templateFS embed.FS

//go:embed all:assets
var assetsFS embed.FS

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	defer logger.Init("raffle", cfg.Logging.Verbose, false, os.Stdout).Close()
	logger.Infof("configuration loaded: %s", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr, err := i18n.New(cfg.Draw.Locale)
	if err != nil {
		logger.Fatalf("Failed to load locale: %v", err)
	}

	// 1. Open the history store
	kv, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		logger.Fatalf("Failed to open %s store: %v", cfg.Store.Driver, err)
	}
	defer kv.Close()
	raffleHistory := history.New(kv, tr.SyntheticLocationName)

	// 2. Connect the event bus when configured
	var publisher events.Publisher = events.Nop{}
	if cfg.Events.NATSURL != "" {
		natsPublisher, err := events.ConnectNATS(cfg.Events.NATSURL)
		if err != nil {
			logger.Fatalf("Failed to connect to NATS: %v", err)
		}
		publisher = natsPublisher
	}
	defer publisher.Close()

	// 3. Initialize the raffle service and the live update hub
	raffleService := services.NewRaffleService(ctx, draw.New(tr.SyntheticLocationName), parser.New(tr), raffleHistory,
		nil, publisher, services.Options{
			RevealDelay:  cfg.Draw.RevealDelay,
			DefaultTitle: cfg.Draw.DefaultTitle,
			IdleTimeout:  cfg.Session.IdleTimeout,
		})
	wsHub := hub.New(raffleService.Snapshot)
	go wsHub.Run(ctx)
	raffleService.SetNotifier(wsHub)

	// 4. Load HTML templates from the embedded filesystem.
	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		logger.Fatalf("Failed to parse templates: %v", err)
	}

	// 5. Initialize the HTTP Handler
	httpHandler := handlers.NewHTTPHandler(raffleService, raffleHistory, wsHub, export.New(tr), tr, templates,
		handlers.Options{BaseURL: cfg.Server.BaseURL, MaxUploadSize: cfg.Upload.MaxFileSize})

	// 6. Set up the Gin router
	r := gin.Default()

	assetsSubFS, err := fs.Sub(assetsFS, "assets")
	if err != nil {
		logger.Fatalf("Failed to create assets sub-filesystem: %v", err)
	}
	r.StaticFS("/assets", http.FS(assetsSubFS))

	httpHandler.RegisterPublicRoutes(r)

	tenantRoutes := r.Group("/")
	tenantRoutes.Use(httpHandler.TenantMiddleware())
	httpHandler.RegisterTenantRoutes(tenantRoutes)

	// 7. Start the background janitor to clean up inactive sessions
	go func() {
		ticker := time.NewTicker(cfg.Session.JanitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := raffleService.CleanUpInactiveSessions()
				logger.V(1).Infof("Performed cleanup of inactive sessions, removed %d.", removed)
			}
		}
	}()

	// 8. Run the server until interrupted
	srv := &http.Server{Addr: cfg.Addr(), Handler: r}
	go func() {
		logger.Infof("Server starting on %s", cfg.Server.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to run server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown: %v", err)
	}
	raffleService.Wait()
}
