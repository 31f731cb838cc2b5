package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/deepestlearning/lectern/internal/audio"
)

// ErrNoSpeech reports a script with no speakable text after sanitizing.
var ErrNoSpeech = errors.New("no speakable text in script")

// Synthesizer renders narration scripts through a voice engine, one
// sentence per engine call, concatenating fragments in order.
type Synthesizer struct {
	engine Engine
}

func NewSynthesizer(engine Engine) *Synthesizer {
	return &Synthesizer{engine: engine}
}

// Render synthesizes the whole script in memory and returns raw PCM with
// its sample rate.
func (s *Synthesizer) Render(ctx context.Context, script string) ([]byte, int, error) {
	var pcm []byte
	rate := 0
	err := s.render(ctx, script, func(f Fragment) error {
		rate = f.SampleRate
		pcm = append(pcm, f.PCM...)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return pcm, rate, nil
}

// RenderToFile synthesizes the script and writes a complete WAV file at
// path. The file appears atomically: synthesis goes to path+".part" and
// is renamed only after a clean finish, so a reader never observes a
// truncated file at the final path.
func (s *Synthesizer) RenderToFile(ctx context.Context, script, path string) error {
	return s.renderTee(ctx, script, nil, path)
}

// RenderStream synthesizes the script while fanning out: each audio
// fragment goes both to the durable file at path and to the client
// writer. A client write failure (disconnect) stops client emission but
// never interrupts persistence; the persisted file still completes and is
// finalized. An engine failure removes the partial file entirely.
func (s *Synthesizer) RenderStream(ctx context.Context, script string, client io.Writer, path string) error {
	return s.renderTee(ctx, script, client, path)
}

func (s *Synthesizer) renderTee(ctx context.Context, script string, client io.Writer, path string) error {
	part := path + ".part"
	f, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("create audio file: %w", err)
	}

	discard := func() {
		_ = f.Close()
		_ = os.Remove(part)
	}

	var fileWAV *audio.StreamWriter
	var clientWAV *audio.StreamWriter
	clientDead := client == nil

	err = s.render(ctx, script, func(frag Fragment) error {
		if fileWAV == nil {
			fileWAV = audio.NewStreamWriter(f, frag.SampleRate)
			if client != nil {
				clientWAV = audio.NewStreamWriter(client, frag.SampleRate)
			}
		}
		if _, err := fileWAV.Write(frag.PCM); err != nil {
			return fmt.Errorf("persist audio: %w", err)
		}
		if !clientDead {
			if _, err := clientWAV.Write(frag.PCM); err != nil {
				// Client went away; keep synthesizing for the durable copy.
				clientDead = true
			}
		}
		return nil
	})
	if err != nil {
		discard()
		return err
	}

	if fileWAV == nil {
		discard()
		return ErrNoSpeech
	}
	if err := fileWAV.Finalize(); err != nil {
		discard()
		return fmt.Errorf("finalize audio: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("close audio file: %w", err)
	}
	if err := os.Rename(part, path); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("publish audio file: %w", err)
	}
	return nil
}

// render drives the engine sentence by sentence and hands fragments to
// emit in order. The first fragment fixes the sample rate; later
// mismatches abort so concatenation never mixes formats.
func (s *Synthesizer) render(ctx context.Context, script string, emit func(Fragment) error) error {
	sentences := SplitSentences(SanitizeScript(script))
	if len(sentences) == 0 {
		return ErrNoSpeech
	}

	rate := 0
	for _, sentence := range sentences {
		if err := ctx.Err(); err != nil {
			return err
		}
		frag, err := s.engine.Speak(ctx, sentence)
		if err != nil {
			return fmt.Errorf("synthesize %q: %w", sentence, err)
		}
		if len(frag.PCM) == 0 {
			continue
		}
		if frag.SampleRate <= 0 {
			frag.SampleRate = 16000
		}
		if rate == 0 {
			rate = frag.SampleRate
		} else if frag.SampleRate != rate {
			return fmt.Errorf("sample rate changed mid-script: %d then %d", rate, frag.SampleRate)
		}
		if err := emit(frag); err != nil {
			return err
		}
	}
	if rate == 0 {
		return ErrNoSpeech
	}
	return nil
}
