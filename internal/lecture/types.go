package lecture

import (
	"context"
	"io"
)

// StepResult is the outcome of generating narration for one slide.
type StepResult struct {
	Script string `json:"script"`
	// Question is empty when the generator chose not to ask one.
	Question string `json:"question,omitempty"`
	// HypothesisUse explains how the hypothesis shaped the narration.
	// Observability side-channel only; it never feeds back into the
	// hypothesis.
	HypothesisUse string `json:"hypothesis_use"`
}

// AnswerResult is the outcome of grading a student's answer.
type AnswerResult struct {
	Correct    bool   `json:"correct"`
	Feedback   string `json:"feedback"`
	Hypothesis string `json:"hypothesis"`
}

// FreeQuestionResult is the outcome of answering a student-initiated
// question.
type FreeQuestionResult struct {
	Answer        string `json:"answer"`
	Hypothesis    string `json:"hypothesis"`
	HypothesisUse string `json:"hypothesis_use"`
}

// AudioState describes slide audio materialization.
type AudioState string

const (
	AudioNotFound   AudioState = "not_found"
	AudioGenerating AudioState = "generating"
	AudioReady      AudioState = "ready"
)

// SlideStatus reports per-slide state to the client.
type SlideStatus struct {
	Audio           AudioState `json:"audio"`
	QuestionPending bool       `json:"question_pending"`
}

// DeckStore persists uploaded slide decks.
type DeckStore interface {
	Save(data []byte) (string, error)
	Remove(path string) error
}

// PageExtractor produces single-page documents from a stored deck. The
// release func returned by ExtractPage must run on every path.
type PageExtractor interface {
	PageCount(deckPath string) (int, error)
	ExtractPage(deckPath string, n int) (path string, release func(), err error)
}

// AudioRenderer materializes narration audio.
type AudioRenderer interface {
	RenderToFile(ctx context.Context, script, path string) error
	RenderStream(ctx context.Context, script string, client io.Writer, path string) error
}
