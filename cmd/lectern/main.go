package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/deepestlearning/lectern/internal/config"
	"github.com/deepestlearning/lectern/internal/deck"
	"github.com/deepestlearning/lectern/internal/httpapi"
	"github.com/deepestlearning/lectern/internal/lecture"
	"github.com/deepestlearning/lectern/internal/llm"
	"github.com/deepestlearning/lectern/internal/observability"
	"github.com/deepestlearning/lectern/internal/speech"
	"github.com/deepestlearning/lectern/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	lectureStore, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer lectureStore.Close()

	decks, err := deck.NewStore(cfg.DeckDir)
	if err != nil {
		log.Fatalf("deck store init failed: %v", err)
	}

	generator, err := newGenerator(ctx, cfg)
	if err != nil {
		log.Fatalf("generator init failed: %v", err)
	}

	engine := newVoiceEngine(cfg)
	defer engine.Close()

	svc, err := lecture.NewService(lecture.Options{
		Store:     lectureStore,
		Decks:     decks,
		Pages:     deck.NewExtractor(),
		Generator: generator,
		Renderer:  speech.NewSynthesizer(engine),
		AudioDir:  cfg.AudioDir,
		Metrics:   metrics,
	})
	if err != nil {
		log.Fatalf("lecture service init failed: %v", err)
	}

	api := httpapi.New(cfg, svc, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

func newGenerator(ctx context.Context, cfg config.Config) (llm.Provider, error) {
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return nil, errors.New("GEMINI_API_KEY is not set")
	}
	p, err := llm.NewGeminiProvider(ctx, llm.GeminiConfig{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("generator: gemini model=%s", p.ModelID())
	return llm.WithRetry(p, llm.RetryConfig{
		MaxAttempts: cfg.GenRetryAttempts,
		InitialWait: cfg.GenRetryWait,
		MaxWait:     cfg.GenRetryMaxWait,
	}), nil
}

func newVoiceEngine(cfg config.Config) speech.Engine {
	tryElevenLabs := func() speech.Engine {
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			return nil
		}
		e, err := speech.NewElevenLabsEngine(speech.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			WSBaseURL:    cfg.ElevenLabsWSBaseURL,
			VoiceID:      cfg.ElevenLabsTTSVoice,
			ModelID:      cfg.ElevenLabsTTSModel,
			OutputFormat: cfg.ElevenLabsTTSOutputFormat,
		})
		if err != nil {
			log.Printf("elevenlabs engine unavailable: %v", err)
			return nil
		}
		log.Printf("voice engine: elevenlabs voice=%s", cfg.ElevenLabsTTSVoice)
		return e
	}

	tryKokoro := func(fatal bool) speech.Engine {
		e, err := speech.NewKokoroEngine(speech.KokoroConfig{
			Python:       cfg.LocalKokoroPython,
			WorkerScript: cfg.LocalKokoroWorkerScript,
			Voice:        cfg.LocalKokoroVoice,
			LangCode:     cfg.LocalKokoroLangCode,
		})
		if err != nil {
			if fatal {
				log.Fatalf("kokoro engine init failed: %v", err)
			}
			log.Printf("kokoro engine unavailable: %v", err)
			return nil
		}
		log.Printf("voice engine: kokoro voice=%s", cfg.LocalKokoroVoice)
		return e
	}

	switch cfg.VoiceProvider {
	case "elevenlabs":
		if e := tryElevenLabs(); e != nil {
			return e
		}
		log.Fatalf("VOICE_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
	case "kokoro":
		return tryKokoro(true)
	case "mock":
		log.Printf("voice engine: mock")
		return speech.NewMockEngine()
	case "auto":
		if e := tryElevenLabs(); e != nil {
			return e
		}
		if e := tryKokoro(false); e != nil {
			return e
		}
		log.Printf("voice engine: mock (no elevenlabs key and kokoro unavailable)")
		return speech.NewMockEngine()
	}
	return speech.NewMockEngine()
}
