package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/deepestlearning/lectern/internal/config"
	"github.com/deepestlearning/lectern/internal/lecture"
	"github.com/deepestlearning/lectern/internal/store"
)

// fakeLectures scripts the lecture core for transport tests.
type fakeLectures struct {
	lecture      store.Lecture
	step         lecture.StepResult
	answer       lecture.AnswerResult
	freeQuestion lecture.FreeQuestionResult
	status       lecture.SlideStatus
	audio        []byte
	err          error

	gotTitle    string
	gotDeckSize int
	gotAnswer   string
	gotQuestion string
}

func (f *fakeLectures) CreateLecture(_ context.Context, deckBytes []byte, title string) (store.Lecture, error) {
	f.gotDeckSize = len(deckBytes)
	f.gotTitle = title
	return f.lecture, f.err
}

func (f *fakeLectures) ResetLecture(_ context.Context, _ string, deckBytes []byte, title string) (store.Lecture, error) {
	f.gotDeckSize = len(deckBytes)
	f.gotTitle = title
	return f.lecture, f.err
}

func (f *fakeLectures) GetLecture(context.Context, string) (store.Lecture, error) {
	return f.lecture, f.err
}

func (f *fakeLectures) StepSlide(context.Context, string, int) (lecture.StepResult, error) {
	return f.step, f.err
}

func (f *fakeLectures) SubmitAnswer(_ context.Context, _ string, _ int, answer string) (lecture.AnswerResult, error) {
	f.gotAnswer = answer
	return f.answer, f.err
}

func (f *fakeLectures) AskFreeQuestion(_ context.Context, _ string, _ int, question string) (lecture.FreeQuestionResult, error) {
	f.gotQuestion = question
	return f.freeQuestion, f.err
}

func (f *fakeLectures) FetchAudio(context.Context, string, int) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.audio)), nil
}

func (f *fakeLectures) StreamAudio(_ context.Context, _ string, _ int, client io.Writer) error {
	if f.err != nil {
		return f.err
	}
	_, err := client.Write(f.audio)
	return err
}

func (f *fakeLectures) AudioStatus(context.Context, string, int) (lecture.SlideStatus, error) {
	return f.status, f.err
}

func newTestServer(t *testing.T, fake *fakeLectures) *httptest.Server {
	t.Helper()
	srv := New(config.Config{}, fake, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func deckForm(t *testing.T, filename, title string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if title != "" {
		if err := mw.WriteField("title", title); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestCreateLectureUpload(t *testing.T) {
	fake := &fakeLectures{lecture: store.Lecture{ID: "lec-1", Title: "Mesh Routing"}}
	ts := newTestServer(t, fake)

	body, contentType := deckForm(t, "mesh-routing.pdf", "", []byte("%PDF-fake"))
	res, err := http.Post(ts.URL+"/v1/lectures", contentType, body)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var created lectureResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID != "lec-1" {
		t.Fatalf("id = %q", created.ID)
	}
	if fake.gotTitle != "mesh-routing" {
		t.Fatalf("title = %q, want derived from filename", fake.gotTitle)
	}
	if fake.gotDeckSize == 0 {
		t.Fatalf("deck bytes not forwarded")
	}
}

func TestCreateLectureRequiresFile(t *testing.T) {
	ts := newTestServer(t, &fakeLectures{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("title", "No Deck")
	mw.Close()

	res, err := http.Post(ts.URL+"/v1/lectures", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestStepSlideRoute(t *testing.T) {
	fake := &fakeLectures{step: lecture.StepResult{Script: "Welcome.", Question: "Why?", HypothesisUse: "kept it simple"}}
	ts := newTestServer(t, fake)

	res, err := http.Get(ts.URL + "/v1/lectures/lec-1/slides/2/step")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got lecture.StepResult
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Script != "Welcome." || got.Question != "Why?" {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestSlideNumberValidation(t *testing.T) {
	ts := newTestServer(t, &fakeLectures{})

	for _, n := range []string{"0", "-3", "two"} {
		res, err := http.Get(ts.URL + "/v1/lectures/lec-1/slides/" + n + "/step")
		if err != nil {
			t.Fatalf("request error = %v", err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("slide %q status = %d, want %d", n, res.StatusCode, http.StatusBadRequest)
		}
	}
}

func TestSubmitAnswerRoute(t *testing.T) {
	fake := &fakeLectures{answer: lecture.AnswerResult{Correct: true, Feedback: "Good.", Hypothesis: "advanced"}}
	ts := newTestServer(t, fake)

	body, _ := json.Marshal(map[string]string{"answer": "expected transmission count"})
	res, err := http.Post(ts.URL+"/v1/lectures/lec-1/slides/1/answer", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if fake.gotAnswer != "expected transmission count" {
		t.Fatalf("answer = %q, not forwarded", fake.gotAnswer)
	}
}

func TestErrorKindMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
		code string
	}{
		{fmt.Errorf("%w: lecture gone", lecture.ErrNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: no question", lecture.ErrValidation), http.StatusBadRequest, "invalid_request"},
		{fmt.Errorf("%w: model down", lecture.ErrGeneration), http.StatusBadGateway, "generation_failed"},
		{fmt.Errorf("%w: engine crash", lecture.ErrSynthesis), http.StatusBadGateway, "synthesis_failed"},
		{fmt.Errorf("%w: disk full", lecture.ErrStorage), http.StatusInternalServerError, "storage_failed"},
		{errors.New("unclassified"), http.StatusInternalServerError, "storage_failed"},
	}

	for _, tc := range cases {
		ts := newTestServer(t, &fakeLectures{err: tc.err})
		res, err := http.Get(ts.URL + "/v1/lectures/lec-1/slides/1/step")
		if err != nil {
			t.Fatalf("request error = %v", err)
		}
		var body errorResponse
		if decodeErr := json.NewDecoder(res.Body).Decode(&body); decodeErr != nil {
			t.Fatalf("decode error body: %v", decodeErr)
		}
		res.Body.Close()
		if res.StatusCode != tc.want {
			t.Fatalf("err %v status = %d, want %d", tc.err, res.StatusCode, tc.want)
		}
		if body.Code != tc.code {
			t.Fatalf("err %v code = %q, want %q", tc.err, body.Code, tc.code)
		}
		if tc.code == "generation_failed" && strings.Contains(body.Error, "model down") {
			t.Fatalf("upstream detail leaked to client: %q", body.Error)
		}
	}
}

func TestFetchAudioRoute(t *testing.T) {
	fake := &fakeLectures{audio: []byte("RIFFdata")}
	ts := newTestServer(t, fake)

	res, err := http.Get(ts.URL + "/v1/lectures/lec-1/slides/1/audio")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("content type = %q", ct)
	}
	body, _ := io.ReadAll(res.Body)
	if !bytes.Equal(body, fake.audio) {
		t.Fatalf("body = %q", body)
	}
}

func TestStreamAudioRoute(t *testing.T) {
	fake := &fakeLectures{audio: []byte("RIFFstream")}
	ts := newTestServer(t, fake)

	res, err := http.Get(ts.URL + "/v1/lectures/lec-1/slides/1/audio/stream")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("content type = %q", ct)
	}
	body, _ := io.ReadAll(res.Body)
	if !bytes.Equal(body, fake.audio) {
		t.Fatalf("body = %q", body)
	}
}

func TestStreamAudioErrorBeforeFirstChunk(t *testing.T) {
	fake := &fakeLectures{err: fmt.Errorf("%w: engine crash", lecture.ErrSynthesis)}
	ts := newTestServer(t, fake)

	res, err := http.Get(ts.URL + "/v1/lectures/lec-1/slides/1/audio/stream")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadGateway)
	}
}

func TestSlideStatusRoute(t *testing.T) {
	fake := &fakeLectures{status: lecture.SlideStatus{Audio: lecture.AudioReady, QuestionPending: true}}
	ts := newTestServer(t, fake)

	res, err := http.Get(ts.URL + "/v1/lectures/lec-1/slides/1/status")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()

	var got lecture.SlideStatus
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Audio != lecture.AudioReady || !got.QuestionPending {
		t.Fatalf("unexpected status %+v", got)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, &fakeLectures{})

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("request error = %v", err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, res.StatusCode)
		}
	}
}
