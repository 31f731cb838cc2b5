package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps lectures and slides in process memory. Used when no
// DATABASE_URL is configured and throughout the test suite.
type InMemoryStore struct {
	mu       sync.RWMutex
	lectures map[string]Lecture
	slides   map[string]map[int]Slide // lecture id -> slide number -> slide
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		lectures: make(map[string]Lecture),
		slides:   make(map[string]map[int]Slide),
	}
}

func (s *InMemoryStore) CreateLecture(_ context.Context, lec Lecture) (Lecture, error) {
	if lec.ID == "" {
		lec.ID = uuid.NewString()
	}
	if lec.CreatedAt.IsZero() {
		lec.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lectures[lec.ID] = lec
	s.slides[lec.ID] = make(map[int]Slide)
	return lec, nil
}

func (s *InMemoryStore) GetLecture(_ context.Context, id string) (Lecture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lec, ok := s.lectures[id]
	if !ok {
		return Lecture{}, ErrNotFound
	}
	return lec, nil
}

func (s *InMemoryStore) UpdateHypothesis(_ context.Context, id, hypothesis string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lec, ok := s.lectures[id]
	if !ok {
		return ErrNotFound
	}
	lec.Hypothesis = hypothesis
	s.lectures[id] = lec
	return nil
}

func (s *InMemoryStore) ResetLecture(_ context.Context, id, title, deckPath, hypothesis string) (Lecture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lec, ok := s.lectures[id]
	if !ok {
		return Lecture{}, ErrNotFound
	}
	lec.Title = title
	lec.DeckPath = deckPath
	lec.Hypothesis = hypothesis
	s.lectures[id] = lec
	s.slides[id] = make(map[int]Slide)
	return lec, nil
}

func (s *InMemoryStore) UpsertSlide(_ context.Context, sl Slide) (Slide, error) {
	if sl.UpdatedAt.IsZero() {
		sl.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lectures[sl.LectureID]; !ok {
		return Slide{}, ErrNotFound
	}
	bySlide := s.slides[sl.LectureID]
	if prev, ok := bySlide[sl.SlideNumber]; ok {
		// Replacing an existing slide number keeps the original row identity.
		sl.ID = prev.ID
	} else if sl.ID == "" {
		sl.ID = uuid.NewString()
	}
	bySlide[sl.SlideNumber] = sl
	return sl, nil
}

func (s *InMemoryStore) GetSlide(_ context.Context, lectureID string, slideNumber int) (Slide, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.slides[lectureID][slideNumber]
	if !ok {
		return Slide{}, ErrNotFound
	}
	return sl, nil
}

func (s *InMemoryStore) ListSlides(_ context.Context, lectureID string) ([]Slide, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bySlide, ok := s.slides[lectureID]
	if !ok {
		return nil, nil
	}
	out := make([]Slide, 0, len(bySlide))
	for _, sl := range bySlide {
		out = append(out, sl)
	}
	// Ordered by slide number for narration continuity.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].SlideNumber > out[j].SlideNumber; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out, nil
}

func (s *InMemoryStore) SetSlideAudioPath(_ context.Context, lectureID string, slideNumber int, audioPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slides[lectureID][slideNumber]
	if !ok {
		return ErrNotFound
	}
	sl.AudioPath = audioPath
	sl.UpdatedAt = time.Now().UTC()
	s.slides[lectureID][slideNumber] = sl
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
