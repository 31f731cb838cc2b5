// Package speech turns narration scripts into audio, one sentence at a
// time, through a pluggable voice engine.
package speech

import "context"

// Fragment is the synthesis result for one sentence. Voice engines report
// grapheme and phoneme alignment alongside the samples; the lecture core
// only consumes PCM.
type Fragment struct {
	Graphemes  string
	Phonemes   string
	PCM        []byte // PCM16LE mono
	SampleRate int
}

// Engine synthesizes a single sentence of narration.
type Engine interface {
	Speak(ctx context.Context, text string) (Fragment, error)
	Close() error
}
