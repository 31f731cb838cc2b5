package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the lecture service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	DataDir  string
	DeckDir  string
	AudioDir string

	DatabaseURL string

	GeminiAPIKey     string
	GeminiModel      string
	GenRetryAttempts int
	GenRetryWait     time.Duration
	GenRetryMaxWait  time.Duration

	VoiceProvider string

	ElevenLabsAPIKey          string
	ElevenLabsWSBaseURL       string
	ElevenLabsTTSVoice        string
	ElevenLabsTTSModel        string
	ElevenLabsTTSOutputFormat string

	LocalKokoroPython       string
	LocalKokoroWorkerScript string
	LocalKokoroVoice        string
	LocalKokoroLangCode     string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "lectern"),
		DataDir:             envOrDefault("APP_DATA_DIR", "data"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		GeminiAPIKey:        stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:         envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		GenRetryAttempts:    3,
		GenRetryWait:        500 * time.Millisecond,
		GenRetryMaxWait:     8 * time.Second,
		VoiceProvider:       envOrDefault("VOICE_PROVIDER", "auto"),
		ElevenLabsAPIKey:    stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsWSBaseURL: envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		// Default to a warm premade voice suited to long-form narration.
		ElevenLabsTTSVoice: envOrDefault("ELEVENLABS_TTS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		ElevenLabsTTSModel: envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		// PCM keeps the WAV wrapping on our side so streamed and fetched
		// audio share one container.
		ElevenLabsTTSOutputFormat: envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "pcm_24000"),
		LocalKokoroPython:         envOrDefault("LOCAL_KOKORO_PYTHON", ""),
		LocalKokoroWorkerScript:   envOrDefault("LOCAL_KOKORO_WORKER_SCRIPT", "scripts/kokoro_worker.py"),
		LocalKokoroVoice:          envOrDefault("LOCAL_KOKORO_VOICE", "af_heart"),
		LocalKokoroLangCode:       envOrDefault("LOCAL_KOKORO_LANG_CODE", "a"),
		ShutdownTimeout:           15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GenRetryAttempts, err = intFromEnv("GEN_RETRY_ATTEMPTS", cfg.GenRetryAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.GenRetryWait, err = durationFromEnv("GEN_RETRY_WAIT", cfg.GenRetryWait)
	if err != nil {
		return Config{}, err
	}
	cfg.GenRetryMaxWait, err = durationFromEnv("GEN_RETRY_MAX_WAIT", cfg.GenRetryMaxWait)
	if err != nil {
		return Config{}, err
	}

	cfg.DeckDir = envOrDefault("APP_DECK_DIR", filepath.Join(cfg.DataDir, "decks"))
	cfg.AudioDir = envOrDefault("APP_AUDIO_DIR", filepath.Join(cfg.DataDir, "audio"))

	if cfg.GenRetryAttempts <= 0 {
		return Config{}, fmt.Errorf("GEN_RETRY_ATTEMPTS must be positive")
	}
	if cfg.GenRetryWait <= 0 || cfg.GenRetryMaxWait < cfg.GenRetryWait {
		return Config{}, fmt.Errorf("GEN_RETRY_WAIT and GEN_RETRY_MAX_WAIT must be positive and ordered")
	}
	switch cfg.VoiceProvider {
	case "auto", "kokoro", "elevenlabs", "mock":
	default:
		return Config{}, fmt.Errorf("VOICE_PROVIDER must be auto, kokoro, elevenlabs or mock")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
