package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports an absent lecture or slide.
var ErrNotFound = errors.New("record not found")

// Lecture is the durable record of one teaching session.
type Lecture struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	DeckPath   string    `json:"deck_path"`
	Hypothesis string    `json:"hypothesis"`
	CreatedAt  time.Time `json:"created_at"`
}

// Slide is the durable per-slide state. Script, Question, HypothesisUse and
// AudioPath use the empty string as "not set".
type Slide struct {
	ID            string    `json:"id"`
	LectureID     string    `json:"lecture_id"`
	SlideNumber   int       `json:"slide_number"`
	Script        string    `json:"script"`
	Question      string    `json:"question"`
	HypothesisUse string    `json:"hypothesis_use"`
	AudioPath     string    `json:"audio_path"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store persists lectures and slides. Implementations guarantee at most one
// slide row per (lecture, slide_number); UpsertSlide replaces content while
// preserving row identity.
type Store interface {
	CreateLecture(ctx context.Context, lec Lecture) (Lecture, error)
	GetLecture(ctx context.Context, id string) (Lecture, error)
	UpdateHypothesis(ctx context.Context, id, hypothesis string) error

	// ResetLecture replaces the deck and hypothesis of an existing lecture
	// and cascades deletion of all its slides.
	ResetLecture(ctx context.Context, id, title, deckPath, hypothesis string) (Lecture, error)

	UpsertSlide(ctx context.Context, s Slide) (Slide, error)
	GetSlide(ctx context.Context, lectureID string, slideNumber int) (Slide, error)
	ListSlides(ctx context.Context, lectureID string) ([]Slide, error)
	SetSlideAudioPath(ctx context.Context, lectureID string, slideNumber int, audioPath string) error

	Close() error
}
