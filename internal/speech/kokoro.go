package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// KokoroConfig configures the local Kokoro worker engine.
type KokoroConfig struct {
	Python       string
	WorkerScript string
	Voice        string
	LangCode     string
	Speed        float64
}

// KokoroEngine drives a long-lived Kokoro worker subprocess over
// line-delimited JSON. Each request synthesizes one sentence and returns
// the (graphemes, phonemes, samples) tuple the pipeline emits.
type KokoroEngine struct {
	cfg KokoroConfig

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	dec    *json.Decoder
	closed bool
}

type kokoroRequest struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Voice    string  `json:"voice"`
	LangCode string  `json:"lang_code"`
	Speed    float64 `json:"speed"`
}

type kokoroResponse struct {
	ID          string `json:"id"`
	OK          bool   `json:"ok"`
	Graphemes   string `json:"graphemes"`
	Phonemes    string `json:"phonemes"`
	SampleRate  int    `json:"sample_rate"`
	AudioBase64 string `json:"audio_base64"`
	Error       string `json:"error"`
}

// NewKokoroEngine starts the worker process and fires a warmup request so
// dependency errors surface at startup rather than mid-lecture.
func NewKokoroEngine(cfg KokoroConfig) (*KokoroEngine, error) {
	python := strings.TrimSpace(cfg.Python)
	if python == "" {
		python = "python3"
	}
	script := strings.TrimSpace(cfg.WorkerScript)
	if script == "" {
		script = "scripts/kokoro_worker.py"
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("kokoro worker script not found: %s", script)
	}
	if cfg.Voice == "" {
		cfg.Voice = "af_heart"
	}
	if cfg.LangCode == "" {
		cfg.LangCode = "a"
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}

	cmd := exec.Command(python, "-u", script)
	cmd.Env = append(os.Environ(), "PYTORCH_ENABLE_MPS_FALLBACK=1")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	e := &KokoroEngine{cfg: cfg, cmd: cmd, stdin: stdin, dec: json.NewDecoder(stdout)}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()
	if _, err := e.Speak(ctx, "warmup"); err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("kokoro worker failed to start: %s", msg)
	}

	return e, nil
}

// Speak synthesizes one sentence. The worker is single-flight; callers are
// serialized on the engine mutex.
func (e *KokoroEngine) Speak(_ context.Context, text string) (Fragment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Fragment{}, fmt.Errorf("kokoro worker closed")
	}

	req := kokoroRequest{
		ID:       fmt.Sprintf("req-%d", time.Now().UnixNano()),
		Text:     text,
		Voice:    e.cfg.Voice,
		LangCode: e.cfg.LangCode,
		Speed:    e.cfg.Speed,
	}

	b, _ := json.Marshal(req)
	b = append(b, '\n')
	if _, err := e.stdin.Write(b); err != nil {
		return Fragment{}, fmt.Errorf("write kokoro request: %w", err)
	}

	var resp kokoroResponse
	if err := e.dec.Decode(&resp); err != nil {
		return Fragment{}, fmt.Errorf("decode kokoro response: %w", err)
	}
	if resp.ID != req.ID {
		return Fragment{}, fmt.Errorf("kokoro worker out-of-sync (got %q, expected %q)", resp.ID, req.ID)
	}
	if !resp.OK {
		msg := strings.TrimSpace(resp.Error)
		if msg == "" {
			msg = "unknown kokoro error"
		}
		return Fragment{}, fmt.Errorf("kokoro: %s", msg)
	}

	sampleRate := resp.SampleRate
	if sampleRate <= 0 {
		sampleRate = 24000
	}

	var pcm []byte
	if strings.TrimSpace(resp.AudioBase64) != "" {
		var err error
		pcm, err = base64.StdEncoding.DecodeString(resp.AudioBase64)
		if err != nil {
			return Fragment{}, fmt.Errorf("decode audio_base64: %w", err)
		}
	}

	return Fragment{
		Graphemes:  resp.Graphemes,
		Phonemes:   resp.Phonemes,
		PCM:        pcm,
		SampleRate: sampleRate,
	}, nil
}

// Close shuts the worker process down.
func (e *KokoroEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.stdin != nil {
		_ = e.stdin.Close()
	}
	if e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
		_ = e.cmd.Wait()
	}
	return nil
}
