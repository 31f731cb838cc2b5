package lecture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/deepestlearning/lectern/internal/deck"
	"github.com/deepestlearning/lectern/internal/llm"
	"github.com/deepestlearning/lectern/internal/observability"
	"github.com/deepestlearning/lectern/internal/store"
)

// Service is the lecture state machine. Every operation on the same
// lecture runs under that lecture's mutex, so hypothesis updates are
// strict read-modify-write cycles and step/audio calls never race.
type Service struct {
	store    store.Store
	decks    DeckStore
	pages    PageExtractor
	gen      llm.Provider
	renderer AudioRenderer
	audioDir string
	metrics  *observability.Metrics
	locks    *lockTable
	logger   *log.Logger
}

// Options wires a Service's collaborators.
type Options struct {
	Store     store.Store
	Decks     DeckStore
	Pages     PageExtractor
	Generator llm.Provider
	Renderer  AudioRenderer
	AudioDir  string
	Metrics   *observability.Metrics
	Logger    *log.Logger
}

func NewService(opts Options) (*Service, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("lecture: store is required")
	case opts.Decks == nil:
		return nil, errors.New("lecture: deck store is required")
	case opts.Pages == nil:
		return nil, errors.New("lecture: page extractor is required")
	case opts.Generator == nil:
		return nil, errors.New("lecture: generator is required")
	case opts.Renderer == nil:
		return nil, errors.New("lecture: audio renderer is required")
	case opts.AudioDir == "":
		return nil, errors.New("lecture: audio dir is required")
	}
	if err := os.MkdirAll(opts.AudioDir, 0o755); err != nil {
		return nil, fmt.Errorf("lecture: create audio dir: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		store:    opts.Store,
		decks:    opts.Decks,
		pages:    opts.Pages,
		gen:      opts.Generator,
		renderer: opts.Renderer,
		audioDir: opts.AudioDir,
		metrics:  opts.Metrics,
		locks:    newLockTable(),
		logger:   logger,
	}, nil
}

// CreateLecture stores an uploaded deck and opens a fresh lecture with
// the blank-slate hypothesis.
func (s *Service) CreateLecture(ctx context.Context, deckBytes []byte, title string) (store.Lecture, error) {
	s.countOp("create")
	if len(deckBytes) == 0 {
		return store.Lecture{}, fmt.Errorf("%w: empty deck upload", ErrValidation)
	}
	if title == "" {
		title = "Untitled lecture"
	}

	deckPath, err := s.decks.Save(deckBytes)
	if err != nil {
		return store.Lecture{}, s.fail("create", "storage", fmt.Errorf("%w: save deck: %v", ErrStorage, err))
	}
	if _, err := s.pages.PageCount(deckPath); err != nil {
		_ = s.decks.Remove(deckPath)
		return store.Lecture{}, fmt.Errorf("%w: deck is not a readable pdf", ErrValidation)
	}

	lec, err := s.store.CreateLecture(ctx, store.Lecture{
		Title:      title,
		DeckPath:   deckPath,
		Hypothesis: DefaultHypothesis,
	})
	if err != nil {
		_ = s.decks.Remove(deckPath)
		return store.Lecture{}, s.fail("create", "storage", fmt.Errorf("%w: create lecture: %v", ErrStorage, err))
	}
	s.logger.Printf("lecture created id=%s title=%q deck=%s", lec.ID, lec.Title, deckPath)
	return lec, nil
}

// ResetLecture swaps the deck of an existing lecture, purges all its
// slides and audio, and rewinds the hypothesis to the blank-slate
// sentinel. The lecture id survives.
func (s *Service) ResetLecture(ctx context.Context, lectureID string, deckBytes []byte, title string) (store.Lecture, error) {
	s.countOp("reset")
	if len(deckBytes) == 0 {
		return store.Lecture{}, fmt.Errorf("%w: empty deck upload", ErrValidation)
	}

	mu := s.locks.forLecture(lectureID)
	mu.Lock()
	defer mu.Unlock()

	prior, err := s.store.GetLecture(ctx, lectureID)
	if err != nil {
		return store.Lecture{}, s.mapStoreErr("reset", err)
	}
	if title == "" {
		title = prior.Title
	}

	deckPath, err := s.decks.Save(deckBytes)
	if err != nil {
		return store.Lecture{}, s.fail("reset", "storage", fmt.Errorf("%w: save deck: %v", ErrStorage, err))
	}
	if _, err := s.pages.PageCount(deckPath); err != nil {
		_ = s.decks.Remove(deckPath)
		return store.Lecture{}, fmt.Errorf("%w: deck is not a readable pdf", ErrValidation)
	}

	slides, err := s.store.ListSlides(ctx, lectureID)
	if err != nil {
		_ = s.decks.Remove(deckPath)
		return store.Lecture{}, s.fail("reset", "storage", fmt.Errorf("%w: list slides: %v", ErrStorage, err))
	}

	lec, err := s.store.ResetLecture(ctx, lectureID, title, deckPath, DefaultHypothesis)
	if err != nil {
		_ = s.decks.Remove(deckPath)
		return store.Lecture{}, s.mapStoreErr("reset", err)
	}

	// Old artifacts are unreachable once the reset commits.
	for _, sl := range slides {
		if sl.AudioPath != "" {
			_ = os.Remove(sl.AudioPath)
		}
	}
	if prior.DeckPath != "" && prior.DeckPath != deckPath {
		_ = s.decks.Remove(prior.DeckPath)
	}
	s.logger.Printf("lecture reset id=%s deck=%s", lec.ID, deckPath)
	return lec, nil
}

// GetLecture returns the current lecture record.
func (s *Service) GetLecture(ctx context.Context, lectureID string) (store.Lecture, error) {
	lec, err := s.store.GetLecture(ctx, lectureID)
	if err != nil {
		return store.Lecture{}, s.mapStoreErr("get", err)
	}
	return lec, nil
}

// StepSlide generates narration for slide n, replacing any prior row
// for that slide number. Re-stepping invalidates previously rendered
// audio for the slide.
func (s *Service) StepSlide(ctx context.Context, lectureID string, n int) (StepResult, error) {
	s.countOp("step")
	mu := s.locks.forLecture(lectureID)
	mu.Lock()
	defer mu.Unlock()

	lec, err := s.store.GetLecture(ctx, lectureID)
	if err != nil {
		return StepResult{}, s.mapStoreErr("step", err)
	}

	total, err := s.pages.PageCount(lec.DeckPath)
	if err != nil {
		return StepResult{}, s.fail("step", "storage", fmt.Errorf("%w: read deck: %v", ErrStorage, err))
	}
	if n < 1 || n > total {
		return StepResult{}, fmt.Errorf("%w: slide %d of %d", ErrValidation, n, total)
	}

	prior, err := s.narrationBefore(ctx, lectureID, n)
	if err != nil {
		return StepResult{}, s.fail("step", "storage", fmt.Errorf("%w: load narration: %v", ErrStorage, err))
	}

	pagePath, release, err := s.pages.ExtractPage(lec.DeckPath, n)
	if err != nil {
		if errors.Is(err, deck.ErrPageOutOfRange) {
			return StepResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return StepResult{}, s.fail("step", "storage", fmt.Errorf("%w: extract page: %v", ErrStorage, err))
	}
	defer release()

	pageBytes, err := os.ReadFile(pagePath)
	if err != nil {
		return StepResult{}, s.fail("step", "storage", fmt.Errorf("%w: read page: %v", ErrStorage, err))
	}

	prompt := stepContinuePrompt(prior, lec.Hypothesis)
	if n == 1 || prior == "" {
		prompt = stepIntroPrompt(lec.Hypothesis)
	}

	payload := stepPayload{}
	if err := s.generate(ctx, llm.Request{
		System:     stepSystemPrompt,
		Prompt:     prompt,
		Attachment: &llm.Attachment{MIMEType: "application/pdf", Data: pageBytes},
		Schema:     stepSchema,
	}, &payload); err != nil {
		return StepResult{}, s.fail("step", "generation", err)
	}
	if !payload.AskQuestion {
		payload.Question = ""
	}

	// A regenerated script makes any previously rendered audio stale.
	if old, err := s.store.GetSlide(ctx, lectureID, n); err == nil && old.AudioPath != "" {
		_ = os.Remove(old.AudioPath)
	}

	if _, err := s.store.UpsertSlide(ctx, store.Slide{
		LectureID:     lectureID,
		SlideNumber:   n,
		Script:        payload.Script,
		Question:      payload.Question,
		HypothesisUse: payload.HypothesisUse,
	}); err != nil {
		return StepResult{}, s.fail("step", "storage", fmt.Errorf("%w: persist slide: %v", ErrStorage, err))
	}

	s.logger.Printf("slide stepped lecture=%s slide=%d question=%t", lectureID, n, payload.Question != "")
	return StepResult{
		Script:        payload.Script,
		Question:      payload.Question,
		HypothesisUse: payload.HypothesisUse,
	}, nil
}

// SubmitAnswer grades the student's answer to the question posed on
// slide n and replaces the lecture hypothesis with the evaluator's
// rewrite.
func (s *Service) SubmitAnswer(ctx context.Context, lectureID string, n int, answer string) (AnswerResult, error) {
	s.countOp("answer")
	if strings.TrimSpace(answer) == "" {
		return AnswerResult{}, fmt.Errorf("%w: empty answer", ErrValidation)
	}

	mu := s.locks.forLecture(lectureID)
	mu.Lock()
	defer mu.Unlock()

	lec, err := s.store.GetLecture(ctx, lectureID)
	if err != nil {
		return AnswerResult{}, s.mapStoreErr("answer", err)
	}
	slide, err := s.store.GetSlide(ctx, lectureID, n)
	if err != nil {
		return AnswerResult{}, s.mapStoreErr("answer", err)
	}
	if slide.Question == "" {
		return AnswerResult{}, fmt.Errorf("%w: slide %d has no pending question", ErrValidation, n)
	}

	payload := feedbackPayload{}
	if err := s.generate(ctx, llm.Request{
		System: feedbackSystemPrompt,
		Prompt: feedbackPrompt(slide.Question, answer, lec.Hypothesis),
		Schema: feedbackSchema,
	}, &payload); err != nil {
		return AnswerResult{}, s.fail("answer", "generation", err)
	}

	if err := s.store.UpdateHypothesis(ctx, lectureID, payload.Hypothesis); err != nil {
		return AnswerResult{}, s.fail("answer", "storage", fmt.Errorf("%w: update hypothesis: %v", ErrStorage, err))
	}

	s.logger.Printf("answer graded lecture=%s slide=%d correct=%t", lectureID, n, payload.Correct)
	return AnswerResult{
		Correct:    payload.Correct,
		Feedback:   payload.Feedback,
		Hypothesis: payload.Hypothesis,
	}, nil
}

// AskFreeQuestion answers a student-initiated question against the
// narration up to and including slide n. The hypothesis rewrite it
// stores is dampened by contract: a free question is weak evidence.
func (s *Service) AskFreeQuestion(ctx context.Context, lectureID string, n int, question string) (FreeQuestionResult, error) {
	s.countOp("free_question")
	if strings.TrimSpace(question) == "" {
		return FreeQuestionResult{}, fmt.Errorf("%w: empty question", ErrValidation)
	}

	mu := s.locks.forLecture(lectureID)
	mu.Lock()
	defer mu.Unlock()

	lec, err := s.store.GetLecture(ctx, lectureID)
	if err != nil {
		return FreeQuestionResult{}, s.mapStoreErr("free_question", err)
	}
	narration, err := s.narrationThrough(ctx, lectureID, n)
	if err != nil {
		return FreeQuestionResult{}, s.fail("free_question", "storage", fmt.Errorf("%w: load narration: %v", ErrStorage, err))
	}

	payload := freeQuestionPayload{}
	if err := s.generate(ctx, llm.Request{
		System: freeQuestionSystemPrompt,
		Prompt: freeQuestionPrompt(narration, question, lec.Hypothesis),
		Schema: freeQuestionSchema,
	}, &payload); err != nil {
		return FreeQuestionResult{}, s.fail("free_question", "generation", err)
	}

	if err := s.store.UpdateHypothesis(ctx, lectureID, payload.Hypothesis); err != nil {
		return FreeQuestionResult{}, s.fail("free_question", "storage", fmt.Errorf("%w: update hypothesis: %v", ErrStorage, err))
	}

	s.logger.Printf("free question answered lecture=%s slide=%d", lectureID, n)
	return FreeQuestionResult{
		Answer:        payload.Answer,
		Hypothesis:    payload.Hypothesis,
		HypothesisUse: payload.HypothesisUse,
	}, nil
}

// FetchAudio materializes slide n's narration audio if needed and
// returns a reader over the finished WAV file.
func (s *Service) FetchAudio(ctx context.Context, lectureID string, n int) (io.ReadCloser, error) {
	s.countOp("audio")
	mu := s.locks.forLecture(lectureID)
	mu.Lock()
	defer mu.Unlock()

	slide, path, err := s.audioTarget(ctx, lectureID, n)
	if err != nil {
		return nil, err
	}
	if f, err := os.Open(path); err == nil {
		return f, nil
	}

	if err := s.renderAudio(ctx, slide, path, func(c context.Context) error {
		return s.renderer.RenderToFile(c, slide.Script, path)
	}); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, s.fail("audio", "storage", fmt.Errorf("%w: open audio: %v", ErrStorage, err))
	}
	return f, nil
}

// StreamAudio renders slide n's narration audio sentence by sentence,
// writing chunks to the client as they are synthesized while persisting
// the complete file for later fetches. A client disconnect does not
// abort persistence.
func (s *Service) StreamAudio(ctx context.Context, lectureID string, n int, client io.Writer) error {
	s.countOp("audio_stream")
	mu := s.locks.forLecture(lectureID)
	mu.Lock()
	defer mu.Unlock()

	slide, path, err := s.audioTarget(ctx, lectureID, n)
	if err != nil {
		return err
	}
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		if _, err := io.Copy(client, f); err != nil {
			return fmt.Errorf("write cached audio: %w", err)
		}
		return nil
	}

	return s.renderAudio(ctx, slide, path, func(c context.Context) error {
		return s.renderer.RenderStream(c, slide.Script, client, path)
	})
}

// AudioStatus reports slide n's audio and question state without
// triggering synthesis.
func (s *Service) AudioStatus(ctx context.Context, lectureID string, n int) (SlideStatus, error) {
	slide, err := s.store.GetSlide(ctx, lectureID, n)
	if err != nil {
		return SlideStatus{}, s.mapStoreErr("status", err)
	}

	st := SlideStatus{Audio: AudioNotFound, QuestionPending: slide.Question != ""}
	if slide.AudioPath != "" {
		if _, err := os.Stat(slide.AudioPath); err == nil {
			st.Audio = AudioReady
		} else {
			st.Audio = AudioGenerating
		}
	}
	return st, nil
}

// audioTarget resolves the slide and its audio file path, recording the
// path before synthesis so status polls observe the generating state.
func (s *Service) audioTarget(ctx context.Context, lectureID string, n int) (store.Slide, string, error) {
	slide, err := s.store.GetSlide(ctx, lectureID, n)
	if err != nil {
		return store.Slide{}, "", s.mapStoreErr("audio", err)
	}
	if slide.Script == "" {
		return store.Slide{}, "", fmt.Errorf("%w: slide %d has no narration yet", ErrValidation, n)
	}

	path := slide.AudioPath
	if path == "" {
		path = s.audioPath(lectureID, n)
		if err := s.store.SetSlideAudioPath(ctx, lectureID, n, path); err != nil {
			return store.Slide{}, "", s.fail("audio", "storage", fmt.Errorf("%w: record audio path: %v", ErrStorage, err))
		}
	}
	return slide, path, nil
}

// renderAudio runs one synthesis, clearing the recorded path on failure
// so the slide falls back to the not-found state.
func (s *Service) renderAudio(ctx context.Context, slide store.Slide, path string, render func(context.Context) error) error {
	if s.metrics != nil {
		s.metrics.ActiveSyntheses.Inc()
		defer s.metrics.ActiveSyntheses.Dec()
	}
	start := time.Now()
	err := render(ctx)
	if s.metrics != nil {
		s.metrics.ObserveSynthesisLatency(time.Since(start))
	}
	if err != nil {
		_ = s.store.SetSlideAudioPath(ctx, slide.LectureID, slide.SlideNumber, "")
		return s.fail("audio", "synthesis", fmt.Errorf("%w: %v", ErrSynthesis, err))
	}
	s.logger.Printf("audio rendered lecture=%s slide=%d path=%s in=%s",
		slide.LectureID, slide.SlideNumber, path, time.Since(start).Round(time.Millisecond))
	return nil
}

func (s *Service) audioPath(lectureID string, n int) string {
	return fmt.Sprintf("%s/%s-slide-%d.wav", s.audioDir, lectureID, n)
}

// generate runs one model call against a hypothesis snapshot and
// decodes the structured response.
func (s *Service) generate(ctx context.Context, req llm.Request, out any) error {
	start := time.Now()
	resp, err := s.gen.Generate(ctx, req)
	if s.metrics != nil {
		s.metrics.ObserveGenerationLatency(time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	if err := json.Unmarshal(resp.Content, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrGeneration, err)
	}
	return nil
}

// narrationBefore concatenates the stored scripts of slides below n in
// slide order. Gaps are skipped; continuity comes from whatever the
// student has actually stepped through.
func (s *Service) narrationBefore(ctx context.Context, lectureID string, n int) (string, error) {
	return s.narration(ctx, lectureID, func(num int) bool { return num < n })
}

// narrationThrough is narrationBefore plus slide n itself.
func (s *Service) narrationThrough(ctx context.Context, lectureID string, n int) (string, error) {
	return s.narration(ctx, lectureID, func(num int) bool { return num <= n })
}

func (s *Service) narration(ctx context.Context, lectureID string, include func(int) bool) (string, error) {
	slides, err := s.store.ListSlides(ctx, lectureID)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, sl := range slides {
		if include(sl.SlideNumber) && sl.Script != "" {
			parts = append(parts, sl.Script)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func (s *Service) countOp(op string) {
	if s.metrics != nil {
		s.metrics.LectureOps.WithLabelValues(op).Inc()
	}
}

func (s *Service) fail(op, kind string, err error) error {
	if s.metrics != nil {
		s.metrics.OpErrors.WithLabelValues(op, kind).Inc()
	}
	s.logger.Printf("%s failed kind=%s err=%v", op, kind, err)
	return err
}

func (s *Service) mapStoreErr(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return s.fail(op, "storage", fmt.Errorf("%w: %v", ErrStorage, err))
}
