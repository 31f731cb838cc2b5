package lecture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/deepestlearning/lectern/internal/llm"
	"github.com/deepestlearning/lectern/internal/speech"
	"github.com/deepestlearning/lectern/internal/store"
)

type fakeDecks struct {
	dir     string
	saves   int
	removed []string
}

func (f *fakeDecks) Save(data []byte) (string, error) {
	f.saves++
	path := filepath.Join(f.dir, fmt.Sprintf("deck-%d.pdf", f.saves))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeDecks) Remove(path string) error {
	f.removed = append(f.removed, path)
	return os.Remove(path)
}

type fakePages struct {
	dir      string
	count    int
	extracts int
	releases int
}

func (f *fakePages) PageCount(string) (int, error) { return f.count, nil }

func (f *fakePages) ExtractPage(_ string, n int) (string, func(), error) {
	f.extracts++
	path := filepath.Join(f.dir, fmt.Sprintf("page-%d-%d.pdf", n, f.extracts))
	if err := os.WriteFile(path, []byte("page"), 0o644); err != nil {
		return "", nil, err
	}
	return path, func() {
		f.releases++
		os.Remove(path)
	}, nil
}

type testRig struct {
	svc    *Service
	store  *store.InMemoryStore
	gen    *llm.MockProvider
	engine *speech.MockEngine
	decks  *fakeDecks
	pages  *fakePages
}

func newTestRig(t *testing.T, pageCount int) *testRig {
	t.Helper()
	dir := t.TempDir()
	st := store.NewInMemoryStore()
	gen := llm.NewMockProvider()
	engine := speech.NewMockEngine()
	decks := &fakeDecks{dir: dir}
	pages := &fakePages{dir: dir, count: pageCount}

	svc, err := NewService(Options{
		Store:     st,
		Decks:     decks,
		Pages:     pages,
		Generator: gen,
		Renderer:  speech.NewSynthesizer(engine),
		AudioDir:  filepath.Join(dir, "audio"),
		Logger:    log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &testRig{svc: svc, store: st, gen: gen, engine: engine, decks: decks, pages: pages}
}

func (r *testRig) newLecture(t *testing.T) store.Lecture {
	t.Helper()
	lec, err := r.svc.CreateLecture(context.Background(), []byte("%PDF-fake"), "Networks 101")
	if err != nil {
		t.Fatalf("CreateLecture: %v", err)
	}
	return lec
}

func stepJSON(script, question, use string) json.RawMessage {
	p := stepPayload{Script: script, AskQuestion: question != "", Question: question, HypothesisUse: use}
	b, _ := json.Marshal(p)
	return b
}

func TestCreateLectureSeedsHypothesis(t *testing.T) {
	r := newTestRig(t, 3)
	lec := r.newLecture(t)

	if lec.Hypothesis != DefaultHypothesis {
		t.Fatalf("hypothesis = %q, want sentinel", lec.Hypothesis)
	}
	if lec.Title != "Networks 101" {
		t.Fatalf("title = %q", lec.Title)
	}
	if _, err := os.Stat(lec.DeckPath); err != nil {
		t.Fatalf("deck not saved: %v", err)
	}
}

func TestCreateLectureRejectsEmptyUpload(t *testing.T) {
	r := newTestRig(t, 3)
	_, err := r.svc.CreateLecture(context.Background(), nil, "")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestStepSlidePersistsSingleRow(t *testing.T) {
	r := newTestRig(t, 3)
	lec := r.newLecture(t)
	ctx := context.Background()

	r.gen.AddResponse(llm.MockResponse{Content: stepJSON("First take.", "What is ETX?", "kept it basic")})
	r.gen.AddResponse(llm.MockResponse{Content: stepJSON("Second take.", "", "went deeper")})

	res, err := r.svc.StepSlide(ctx, lec.ID, 1)
	if err != nil {
		t.Fatalf("StepSlide: %v", err)
	}
	if res.Script != "First take." || res.Question != "What is ETX?" {
		t.Fatalf("unexpected result %+v", res)
	}

	first, err := r.store.GetSlide(ctx, lec.ID, 1)
	if err != nil {
		t.Fatalf("GetSlide: %v", err)
	}

	if _, err := r.svc.StepSlide(ctx, lec.ID, 1); err != nil {
		t.Fatalf("re-step: %v", err)
	}

	slides, err := r.store.ListSlides(ctx, lec.ID)
	if err != nil {
		t.Fatalf("ListSlides: %v", err)
	}
	if len(slides) != 1 {
		t.Fatalf("slide rows = %d, want 1", len(slides))
	}
	if slides[0].ID != first.ID {
		t.Fatalf("row identity changed on re-step: %s -> %s", first.ID, slides[0].ID)
	}
	if slides[0].Script != "Second take." {
		t.Fatalf("script = %q, want overwrite", slides[0].Script)
	}
	if slides[0].Question != "" {
		t.Fatalf("question = %q, want cleared when not asked", slides[0].Question)
	}
}

func TestStepSlideOutOfRangeLeavesNoRow(t *testing.T) {
	r := newTestRig(t, 2)
	lec := r.newLecture(t)
	ctx := context.Background()

	_, err := r.svc.StepSlide(ctx, lec.ID, 5)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if r.gen.CallCount() != 0 {
		t.Fatalf("generator called %d times for invalid slide", r.gen.CallCount())
	}
	if slides, _ := r.store.ListSlides(ctx, lec.ID); len(slides) != 0 {
		t.Fatalf("slide rows = %d, want 0", len(slides))
	}
}

func TestStepSlideReleasesPageOnGenerationFailure(t *testing.T) {
	r := newTestRig(t, 2)
	lec := r.newLecture(t)
	ctx := context.Background()

	r.gen.AddResponse(llm.MockResponse{Err: &llm.ErrProviderUnavailable{Err: errors.New("down")}})

	_, err := r.svc.StepSlide(ctx, lec.ID, 1)
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
	if r.pages.releases != r.pages.extracts {
		t.Fatalf("releases = %d, extracts = %d", r.pages.releases, r.pages.extracts)
	}
	if slides, _ := r.store.ListSlides(ctx, lec.ID); len(slides) != 0 {
		t.Fatalf("partial slide persisted after generation failure")
	}
}

func TestStepSlideThreadsNarrationAndHypothesis(t *testing.T) {
	r := newTestRig(t, 3)
	lec := r.newLecture(t)
	ctx := context.Background()

	r.gen.AddResponse(llm.MockResponse{Content: stepJSON("Welcome to mesh routing.", "", "intro pacing")})
	r.gen.AddResponse(llm.MockResponse{Content: stepJSON("Now, link metrics.", "", "building up")})

	if _, err := r.svc.StepSlide(ctx, lec.ID, 1); err != nil {
		t.Fatalf("step 1: %v", err)
	}
	if _, err := r.svc.StepSlide(ctx, lec.ID, 2); err != nil {
		t.Fatalf("step 2: %v", err)
	}

	intro := r.gen.Calls[0]
	if strings.Contains(intro.Prompt, "<lecture>") {
		t.Fatalf("first slide prompt carries prior narration")
	}
	if !strings.Contains(intro.Prompt, DefaultHypothesis) {
		t.Fatalf("hypothesis missing from intro prompt")
	}
	if intro.Attachment == nil || intro.Attachment.MIMEType != "application/pdf" {
		t.Fatalf("slide page not attached")
	}

	cont := r.gen.Calls[1]
	if !strings.Contains(cont.Prompt, "Welcome to mesh routing.") {
		t.Fatalf("continuation prompt lacks prior narration")
	}
}

func TestSubmitAnswerRequiresQuestion(t *testing.T) {
	r := newTestRig(t, 3)
	lec := r.newLecture(t)
	ctx := context.Background()

	r.gen.AddResponse(llm.MockResponse{Content: stepJSON("No question here.", "", "")})
	if _, err := r.svc.StepSlide(ctx, lec.ID, 1); err != nil {
		t.Fatalf("step: %v", err)
	}

	_, err := r.svc.SubmitAnswer(ctx, lec.ID, 1, "my answer")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestSubmitAnswerOverwritesHypothesis(t *testing.T) {
	r := newTestRig(t, 3)
	lec := r.newLecture(t)
	ctx := context.Background()

	r.gen.AddResponse(llm.MockResponse{Content: stepJSON("Lecture.", "Define ETX.", "")})
	if _, err := r.svc.StepSlide(ctx, lec.ID, 1); err != nil {
		t.Fatalf("step: %v", err)
	}

	rewritten := "The student understands expected transmission count but not route flapping."
	fb, _ := json.Marshal(feedbackPayload{Correct: true, Feedback: "Well done.", Hypothesis: rewritten})
	r.gen.AddResponse(llm.MockResponse{Content: fb})

	res, err := r.svc.SubmitAnswer(ctx, lec.ID, 1, "Expected transmission count.")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if !res.Correct || res.Hypothesis != rewritten {
		t.Fatalf("unexpected result %+v", res)
	}

	got, err := r.store.GetLecture(ctx, lec.ID)
	if err != nil {
		t.Fatalf("GetLecture: %v", err)
	}
	if got.Hypothesis != rewritten {
		t.Fatalf("stored hypothesis = %q, want full replacement", got.Hypothesis)
	}
	if strings.Contains(got.Hypothesis, DefaultHypothesis) {
		t.Fatalf("stored hypothesis concatenates the old text")
	}

	grading := r.gen.Calls[len(r.gen.Calls)-1]
	if !strings.Contains(grading.Prompt, "Define ETX.") {
		t.Fatalf("evaluator not given the question actually asked")
	}
	if !strings.Contains(grading.Prompt, DefaultHypothesis) {
		t.Fatalf("evaluator not given the prior hypothesis")
	}
}

func TestSelfReportOverridePassesThrough(t *testing.T) {
	r := newTestRig(t, 3)
	lec := r.newLecture(t)
	ctx := context.Background()

	r.gen.AddResponse(llm.MockResponse{Content: stepJSON("Lecture.", "Define ETX.", "")})
	if _, err := r.svc.StepSlide(ctx, lec.ID, 1); err != nil {
		t.Fatalf("step: %v", err)
	}

	claimed := "The student reports prior expertise in this topic and should be treated as advanced."
	fb, _ := json.Marshal(feedbackPayload{Correct: false, Feedback: "Noted.", Hypothesis: claimed})
	r.gen.AddResponse(llm.MockResponse{Content: fb})

	if _, err := r.svc.SubmitAnswer(ctx, lec.ID, 1, "I already know this topic."); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	got, _ := r.store.GetLecture(ctx, lec.ID)
	if got.Hypothesis != claimed {
		t.Fatalf("hypothesis = %q, want the claimed state verbatim", got.Hypothesis)
	}
}

func TestAskFreeQuestionUpdatesHypothesis(t *testing.T) {
	r := newTestRig(t, 3)
	lec := r.newLecture(t)
	ctx := context.Background()

	r.gen.AddResponse(llm.MockResponse{Content: stepJSON("Slide one narration.", "", "")})
	if _, err := r.svc.StepSlide(ctx, lec.ID, 1); err != nil {
		t.Fatalf("step: %v", err)
	}

	nudged := DefaultHypothesis + " They asked about acronym expansions."
	fq, _ := json.Marshal(freeQuestionPayload{Answer: "It stands for expected transmission count.", Hypothesis: nudged, HypothesisUse: "kept it literal"})
	r.gen.AddResponse(llm.MockResponse{Content: fq})

	res, err := r.svc.AskFreeQuestion(ctx, lec.ID, 1, "What does ETX stand for?")
	if err != nil {
		t.Fatalf("AskFreeQuestion: %v", err)
	}
	if res.Answer == "" || res.Hypothesis != nudged {
		t.Fatalf("unexpected result %+v", res)
	}

	got, _ := r.store.GetLecture(ctx, lec.ID)
	if got.Hypothesis != nudged {
		t.Fatalf("stored hypothesis = %q, want exactly the generator's rewrite", got.Hypothesis)
	}

	call := r.gen.Calls[len(r.gen.Calls)-1]
	if !strings.Contains(call.Prompt, "Slide one narration.") {
		t.Fatalf("free question prompt lacks narration so far")
	}
}

func TestAskFreeQuestionRejectsEmpty(t *testing.T) {
	r := newTestRig(t, 3)
	lec := r.newLecture(t)
	_, err := r.svc.AskFreeQuestion(context.Background(), lec.ID, 1, "   ")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestFetchAudioRendersOnceThenServesFile(t *testing.T) {
	r := newTestRig(t, 3)
	lec := r.newLecture(t)
	ctx := context.Background()

	r.gen.AddResponse(llm.MockResponse{Content: stepJSON("One sentence. Two sentences.", "", "")})
	if _, err := r.svc.StepSlide(ctx, lec.ID, 1); err != nil {
		t.Fatalf("step: %v", err)
	}

	rc, err := r.svc.FetchAudio(ctx, lec.ID, 1)
	if err != nil {
		t.Fatalf("FetchAudio: %v", err)
	}
	first, _ := io.ReadAll(rc)
	rc.Close()
	if len(first) == 0 {
		t.Fatalf("empty audio")
	}
	calls := r.engine.Calls()
	if calls == 0 {
		t.Fatalf("engine never invoked")
	}

	rc, err = r.svc.FetchAudio(ctx, lec.ID, 1)
	if err != nil {
		t.Fatalf("second FetchAudio: %v", err)
	}
	second, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(first, second) {
		t.Fatalf("cached audio differs from rendered audio")
	}
	if r.engine.Calls() != calls {
		t.Fatalf("engine re-invoked for cached audio")
	}

	st, err := r.svc.AudioStatus(ctx, lec.ID, 1)
	if err != nil {
		t.Fatalf("AudioStatus: %v", err)
	}
	if st.Audio != AudioReady {
		t.Fatalf("audio state = %s, want ready", st.Audio)
	}
}

func TestAudioStatusStates(t *testing.T) {
	r := newTestRig(t, 3)
	lec := r.newLecture(t)
	ctx := context.Background()

	r.gen.AddResponse(llm.MockResponse{Content: stepJSON("Narration.", "Quiz?", "")})
	if _, err := r.svc.StepSlide(ctx, lec.ID, 1); err != nil {
		t.Fatalf("step: %v", err)
	}

	st, err := r.svc.AudioStatus(ctx, lec.ID, 1)
	if err != nil {
		t.Fatalf("AudioStatus: %v", err)
	}
	if st.Audio != AudioNotFound {
		t.Fatalf("state before render = %s, want not_found", st.Audio)
	}
	if !st.QuestionPending {
		t.Fatalf("question_pending = false, want true")
	}

	// A recorded path with no file on disk means a render is in flight.
	if err := r.store.SetSlideAudioPath(ctx, lec.ID, 1, filepath.Join(t.TempDir(), "missing.wav")); err != nil {
		t.Fatalf("SetSlideAudioPath: %v", err)
	}
	st, _ = r.svc.AudioStatus(ctx, lec.ID, 1)
	if st.Audio != AudioGenerating {
		t.Fatalf("state with dangling path = %s, want generating", st.Audio)
	}
}

func TestStreamAudioWritesClientAndPersists(t *testing.T) {
	r := newTestRig(t, 3)
	lec := r.newLecture(t)
	ctx := context.Background()

	r.gen.AddResponse(llm.MockResponse{Content: stepJSON("Alpha. Beta. Gamma.", "", "")})
	if _, err := r.svc.StepSlide(ctx, lec.ID, 1); err != nil {
		t.Fatalf("step: %v", err)
	}

	var client bytes.Buffer
	if err := r.svc.StreamAudio(ctx, lec.ID, 1, &client); err != nil {
		t.Fatalf("StreamAudio: %v", err)
	}
	if client.Len() == 0 {
		t.Fatalf("client received no audio")
	}

	st, _ := r.svc.AudioStatus(ctx, lec.ID, 1)
	if st.Audio != AudioReady {
		t.Fatalf("state after stream = %s, want ready", st.Audio)
	}

	// The persisted file serves later fetches without re-synthesis.
	calls := r.engine.Calls()
	rc, err := r.svc.FetchAudio(ctx, lec.ID, 1)
	if err != nil {
		t.Fatalf("FetchAudio after stream: %v", err)
	}
	rc.Close()
	if r.engine.Calls() != calls {
		t.Fatalf("engine re-invoked after streamed persist")
	}
}

func TestSynthesisFailureLeavesNoAudioState(t *testing.T) {
	r := newTestRig(t, 3)
	lec := r.newLecture(t)
	ctx := context.Background()

	r.gen.AddResponse(llm.MockResponse{Content: stepJSON("Alpha. Beta.", "", "")})
	if _, err := r.svc.StepSlide(ctx, lec.ID, 1); err != nil {
		t.Fatalf("step: %v", err)
	}

	r.engine.FailAfter = 2
	r.engine.Err = errors.New("engine crashed")

	_, err := r.svc.FetchAudio(ctx, lec.ID, 1)
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("err = %v, want ErrSynthesis", err)
	}

	st, _ := r.svc.AudioStatus(ctx, lec.ID, 1)
	if st.Audio != AudioNotFound {
		t.Fatalf("state after failed render = %s, want not_found", st.Audio)
	}
	slide, _ := r.store.GetSlide(ctx, lec.ID, 1)
	if slide.AudioPath != "" {
		t.Fatalf("audio path %q kept after failed render", slide.AudioPath)
	}
}

func TestReStepInvalidatesAudio(t *testing.T) {
	r := newTestRig(t, 3)
	lec := r.newLecture(t)
	ctx := context.Background()

	r.gen.AddResponse(llm.MockResponse{Content: stepJSON("Version one.", "", "")})
	if _, err := r.svc.StepSlide(ctx, lec.ID, 1); err != nil {
		t.Fatalf("step: %v", err)
	}
	rc, err := r.svc.FetchAudio(ctx, lec.ID, 1)
	if err != nil {
		t.Fatalf("FetchAudio: %v", err)
	}
	rc.Close()
	slide, _ := r.store.GetSlide(ctx, lec.ID, 1)
	oldAudio := slide.AudioPath

	r.gen.AddResponse(llm.MockResponse{Content: stepJSON("Version two.", "", "")})
	if _, err := r.svc.StepSlide(ctx, lec.ID, 1); err != nil {
		t.Fatalf("re-step: %v", err)
	}

	if _, err := os.Stat(oldAudio); !os.IsNotExist(err) {
		t.Fatalf("stale audio file survives re-step")
	}
	st, _ := r.svc.AudioStatus(ctx, lec.ID, 1)
	if st.Audio == AudioReady {
		t.Fatalf("audio still ready after script regeneration")
	}
}

func TestResetLecturePurgesState(t *testing.T) {
	r := newTestRig(t, 3)
	lec := r.newLecture(t)
	ctx := context.Background()

	r.gen.AddResponse(llm.MockResponse{Content: stepJSON("Old narration.", "Q?", "")})
	if _, err := r.svc.StepSlide(ctx, lec.ID, 1); err != nil {
		t.Fatalf("step: %v", err)
	}
	fb, _ := json.Marshal(feedbackPayload{Correct: true, Feedback: "ok", Hypothesis: "The student is advanced."})
	r.gen.AddResponse(llm.MockResponse{Content: fb})
	if _, err := r.svc.SubmitAnswer(ctx, lec.ID, 1, "answer"); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	rc, err := r.svc.FetchAudio(ctx, lec.ID, 1)
	if err != nil {
		t.Fatalf("FetchAudio: %v", err)
	}
	rc.Close()
	slide, _ := r.store.GetSlide(ctx, lec.ID, 1)
	oldAudio := slide.AudioPath
	oldDeck := lec.DeckPath

	reset, err := r.svc.ResetLecture(ctx, lec.ID, []byte("%PDF-new"), "")
	if err != nil {
		t.Fatalf("ResetLecture: %v", err)
	}
	if reset.ID != lec.ID {
		t.Fatalf("lecture id changed on reset")
	}
	if reset.Hypothesis != DefaultHypothesis {
		t.Fatalf("hypothesis = %q, want sentinel after reset", reset.Hypothesis)
	}
	if reset.Title != lec.Title {
		t.Fatalf("title = %q, want carried over", reset.Title)
	}
	if slides, _ := r.store.ListSlides(ctx, lec.ID); len(slides) != 0 {
		t.Fatalf("slides survive reset")
	}
	if _, err := os.Stat(oldAudio); !os.IsNotExist(err) {
		t.Fatalf("audio file survives reset")
	}
	if _, err := os.Stat(oldDeck); !os.IsNotExist(err) {
		t.Fatalf("old deck survives reset")
	}
}

func TestOperationsOnMissingLecture(t *testing.T) {
	r := newTestRig(t, 3)
	ctx := context.Background()

	if _, err := r.svc.StepSlide(ctx, "nope", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("step err = %v, want ErrNotFound", err)
	}
	if _, err := r.svc.SubmitAnswer(ctx, "nope", 1, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("answer err = %v, want ErrNotFound", err)
	}
	if _, err := r.svc.AudioStatus(ctx, "nope", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("status err = %v, want ErrNotFound", err)
	}
}
