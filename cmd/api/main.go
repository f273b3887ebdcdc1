package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sanyaden/smartyme-voice-input-sub000/internal/config"
	"github.com/sanyaden/smartyme-voice-input-sub000/internal/handler"
	fallbackHandler "github.com/sanyaden/smartyme-voice-input-sub000/internal/handler/fallback"
	relayHandler "github.com/sanyaden/smartyme-voice-input-sub000/internal/handler/relay"
	"github.com/sanyaden/smartyme-voice-input-sub000/internal/model/session"
	"github.com/sanyaden/smartyme-voice-input-sub000/internal/service/ai"
	fallbacksvc "github.com/sanyaden/smartyme-voice-input-sub000/internal/service/fallback"
	relaysvc "github.com/sanyaden/smartyme-voice-input-sub000/internal/service/relay"
	"github.com/sanyaden/smartyme-voice-input-sub000/internal/service/speech"
	"github.com/sanyaden/smartyme-voice-input-sub000/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatalf("failed to initialize storage: %v", err)
	}
	defer store.Close()
	log.Printf("storage initialized driver=%s", cfg.Storage.Driver)

	registry := session.NewRegistry()
	recorder := relaysvc.NewRecorder(store)
	messageRouter := relaysvc.NewRouter(recorder)

	// Realtime relay surface
	var relayH *relayHandler.Handler
	if cfg.Upstream.Enabled() {
		connector := relaysvc.NewConnector(cfg.Upstream, messageRouter)
		relayH = relayHandler.New(cfg.Auth, registry, messageRouter, recorder, connector)
		log.Println("realtime relay initialized")
	} else {
		log.Println("upstream credentials not configured, realtime relay disabled")
	}

	// HTTP fallback surface
	var fallbackH *fallbackHandler.Handler
	if cfg.Speech.Enabled() && cfg.AI.Enabled() {
		speechClient := speech.NewClient(cfg.Speech)
		completer, err := ai.NewCompleter(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize completion provider: %v", err)
		} else {
			pipeline := fallbacksvc.New(speechClient, completer, speechClient, cfg.Pipeline.StageTimeout)
			fallbackH = fallbackHandler.New(registry, pipeline, recorder)
			log.Printf("fallback pipeline initialized provider=%s", cfg.AI.Provider)
		}
	} else {
		log.Println("speech or completion credentials not configured, fallback pipeline disabled")
	}

	router := handler.NewRouter(relayH, fallbackH)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("voice relay listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
