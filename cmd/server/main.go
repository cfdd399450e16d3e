package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/gogpu/gg"
	"github.com/gorilla/mux"

	"github.com/pixelveil/pixelveil/backend-go/internal/asset"
	"github.com/pixelveil/pixelveil/backend-go/internal/audit"
	"github.com/pixelveil/pixelveil/backend-go/internal/auth"
	"github.com/pixelveil/pixelveil/backend-go/internal/collab"
	"github.com/pixelveil/pixelveil/backend-go/internal/config"
	"github.com/pixelveil/pixelveil/backend-go/internal/document"
	"github.com/pixelveil/pixelveil/backend-go/internal/export"
	mw "github.com/pixelveil/pixelveil/backend-go/internal/middleware"
	"github.com/pixelveil/pixelveil/backend-go/internal/region"
	"github.com/pixelveil/pixelveil/backend-go/internal/typeid"
)

func main() {
	hashKey := flag.String("hash-key", "", "print the bcrypt hash of an API key for API_KEY_HASH and exit")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	gg.SetLogger(logger)

	if *hashKey != "" {
		hash, err := auth.HashAPIKey(*hashKey)
		if err != nil {
			slog.Error("hash api key", "error", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store audit.Store
	if cfg.DatabaseURL != "" {
		pg, err := audit.NewPgStore(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("connect to database", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		store = pg
	} else {
		slog.Warn("DATABASE_URL not set, keeping audit records in memory")
		store = audit.NewMemoryStore(1000)
	}
	auditService := audit.NewService(store)
	auditHandler := audit.NewHandler(auditService)

	images, err := document.NewDirIntegration(cfg.AssetDir)
	if err != nil {
		slog.Error("open image directory", "error", err, "dir", cfg.AssetDir)
		os.Exit(1)
	}
	if cfg.SeedSample {
		seeded, err := document.SeedSample(ctx, images)
		if err != nil {
			slog.Error("seed sample image", "error", err)
			os.Exit(1)
		}
		if seeded {
			slog.Info("sample image added", "dir", cfg.AssetDir)
		}
	}

	authService := auth.NewService(cfg.APIKeyHash, cfg.JWTSecret)
	authHandler := auth.NewHandler(authService)
	if !authService.Enabled() {
		slog.Warn("API_KEY_HASH not set, API is unauthenticated")
	}

	hub := collab.NewHub(func(ctx context.Context, sessionID, imageID string, regions []region.Region) {
		if _, err := auditService.RecordHandoff(ctx, sessionID, imageID, len(regions)); err != nil {
			slog.Warn("audit handoff", "error", err, "session", sessionID)
		}
	})
	go hub.Run()

	assetHandler := asset.NewHandler(images, cfg.MaxUploadBytes())
	exportHandler := export.NewHandler(images, auditService, cfg.MaxUploadBytes())

	gzip, err := mw.Gzip()
	if err != nil {
		slog.Error("build gzip middleware", "error", err)
		os.Exit(1)
	}

	r := mux.NewRouter()

	// Global middleware
	r.Use(mw.Recovery)
	r.Use(mw.Logger)
	r.Use(mw.CORS(cfg.Origins()))

	r.HandleFunc("/auth/token", authHandler.Token).Methods("POST", "OPTIONS")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Protected API routes
	api := r.PathPrefix("/api").Subrouter()
	api.Use(authService.AuthMiddleware)
	api.Use(gzip)

	api.HandleFunc("/documents/images", assetHandler.List).Methods("GET")
	api.HandleFunc("/documents/images", assetHandler.Upload).Methods("POST")
	api.HandleFunc("/documents/images/{imageId}", assetHandler.Raw).Methods("GET")
	api.HandleFunc("/documents/images/{imageId}", assetHandler.Replace).Methods("PUT")
	api.HandleFunc("/documents/images/{imageId}", assetHandler.Delete).Methods("DELETE")
	api.HandleFunc("/redact", exportHandler.Redact).Methods("POST")
	api.HandleFunc("/archive/clean", exportHandler.CleanArchive).Methods("POST")
	api.HandleFunc("/archive/scan", exportHandler.ScanArchive).Methods("POST")
	api.HandleFunc("/audit", auditHandler.List).Methods("GET")
	api.HandleFunc("/audit/{recordId}", auditHandler.Get).Methods("GET")

	// WebSocket endpoint
	acceptOpts := &websocket.AcceptOptions{OriginPatterns: cfg.OriginPatterns()}
	r.HandleFunc("/ws/session/{sessionId}", func(w http.ResponseWriter, r *http.Request) {
		handleWebSocket(w, r, hub, authService, acceptOpts)
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server")
		hub.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("server starting", "addr", addr, "images", cfg.AssetDir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func handleWebSocket(w http.ResponseWriter, r *http.Request, hub *collab.Hub, authSvc *auth.Service, opts *websocket.AcceptOptions) {
	sessionID := mux.Vars(r)["sessionId"]
	if err := typeid.Validate(sessionID, typeid.PrefixSession); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	role, err := collab.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Browsers cannot set headers on websocket requests, so the token
	// travels as a query parameter.
	if _, err := authSvc.Authenticate(r.URL.Query().Get("token")); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	hub.Serve(w, r, sessionID, role, opts)
}
