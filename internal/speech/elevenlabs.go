package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/deepestlearning/lectern/internal/reliability"
)

// ElevenLabsConfig configures the hosted voice engine.
type ElevenLabsConfig struct {
	APIKey       string
	WSBaseURL    string
	VoiceID      string
	ModelID      string
	OutputFormat string // pcm_<rate>, e.g. pcm_16000
}

// ElevenLabsEngine synthesizes one sentence per websocket stream-input
// session. Narration sentences are short enough that a connection per
// sentence keeps the adapter simple and each call independently retryable.
type ElevenLabsEngine struct {
	cfg        ElevenLabsConfig
	sampleRate int
}

func NewElevenLabsEngine(cfg ElevenLabsConfig) (*ElevenLabsEngine, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("elevenlabs api key is required")
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		return nil, fmt.Errorf("elevenlabs voice id is required")
	}
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "pcm_16000"
	}

	rate, err := strconv.Atoi(strings.TrimPrefix(cfg.OutputFormat, "pcm_"))
	if err != nil || rate <= 0 {
		return nil, fmt.Errorf("unsupported output format %q (expected pcm_<rate>)", cfg.OutputFormat)
	}

	return &ElevenLabsEngine{cfg: cfg, sampleRate: rate}, nil
}

func (e *ElevenLabsEngine) Speak(ctx context.Context, text string) (Fragment, error) {
	u, err := url.Parse(strings.TrimRight(e.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(e.cfg.VoiceID) + "/stream-input")
	if err != nil {
		return Fragment{}, err
	}
	q := u.Query()
	q.Set("model_id", e.cfg.ModelID)
	q.Set("output_format", e.cfg.OutputFormat)
	q.Set("auto_mode", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", e.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return Fragment{}, fmt.Errorf("dial tts websocket: %w", err)
	}
	defer conn.Close()

	// Prime the stream as documented for TTS websocket flows, then send the
	// sentence and close input in one shot.
	if err := conn.WriteJSON(map[string]any{"text": " "}); err != nil {
		return Fragment{}, fmt.Errorf("prime tts stream: %w", err)
	}
	if err := conn.WriteJSON(map[string]any{"text": text + " ", "try_trigger_generation": true}); err != nil {
		return Fragment{}, fmt.Errorf("send tts text: %w", err)
	}
	if err := conn.WriteJSON(map[string]any{"text": ""}); err != nil {
		return Fragment{}, fmt.Errorf("close tts input: %w", err)
	}

	var pcm []byte
	var graphemes strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return Fragment{}, err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			// The server drops the connection once the final chunk is out;
			// treat EOF after audio as completion.
			if len(pcm) > 0 {
				break
			}
			return Fragment{}, fmt.Errorf("read tts message: %w", err)
		}

		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}

		if errMsg, _ := raw["error"].(string); errMsg != "" {
			code, _ := raw["message_type"].(string)
			return Fragment{}, &EngineError{Code: code, Detail: errMsg, Retryable: reliability.IsRetryableSynthMessageType(code)}
		}
		if audio, _ := raw["audio"].(string); audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(audio)
			if err != nil {
				return Fragment{}, fmt.Errorf("decode audio chunk: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if alignment, ok := raw["alignment"].(map[string]any); ok {
			if chars, ok := alignment["chars"].([]any); ok {
				for _, c := range chars {
					if s, ok := c.(string); ok {
						graphemes.WriteString(s)
					}
				}
			}
		}
		if final, _ := raw["isFinal"].(bool); final {
			break
		}
		if final, _ := raw["is_final"].(bool); final {
			break
		}
	}

	return Fragment{
		Graphemes:  graphemes.String(),
		PCM:        pcm,
		SampleRate: e.sampleRate,
	}, nil
}

func (e *ElevenLabsEngine) Close() error { return nil }

// EngineError is a classified voice-engine failure.
type EngineError struct {
	Code      string
	Detail    string
	Retryable bool
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("voice engine error %s: %s", e.Code, e.Detail)
}
