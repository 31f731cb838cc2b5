package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/deepestlearning/lectern/internal/lecture"
	"github.com/deepestlearning/lectern/internal/store"
)

// LectureService is the slice of the lecture core the HTTP layer drives.
type LectureService interface {
	CreateLecture(ctx context.Context, deckBytes []byte, title string) (store.Lecture, error)
	ResetLecture(ctx context.Context, lectureID string, deckBytes []byte, title string) (store.Lecture, error)
	GetLecture(ctx context.Context, lectureID string) (store.Lecture, error)
	StepSlide(ctx context.Context, lectureID string, n int) (lecture.StepResult, error)
	SubmitAnswer(ctx context.Context, lectureID string, n int, answer string) (lecture.AnswerResult, error)
	AskFreeQuestion(ctx context.Context, lectureID string, n int, question string) (lecture.FreeQuestionResult, error)
	FetchAudio(ctx context.Context, lectureID string, n int) (io.ReadCloser, error)
	StreamAudio(ctx context.Context, lectureID string, n int, client io.Writer) error
	AudioStatus(ctx context.Context, lectureID string, n int) (lecture.SlideStatus, error)
}

// maxDeckUpload bounds multipart deck uploads.
const maxDeckUpload = 64 << 20

type lectureResponse struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (s *Server) handleCreateLecture(w http.ResponseWriter, r *http.Request) {
	deckBytes, title, ok := s.readDeckUpload(w, r)
	if !ok {
		return
	}

	lec, err := s.lectures.CreateLecture(r.Context(), deckBytes, title)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, lectureResponse{ID: lec.ID, Title: lec.Title})
}

func (s *Server) handleResetLecture(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deckBytes, title, ok := s.readDeckUpload(w, r)
	if !ok {
		return
	}

	lec, err := s.lectures.ResetLecture(r.Context(), id, deckBytes, title)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, lectureResponse{ID: lec.ID, Title: lec.Title})
}

func (s *Server) handleGetLecture(w http.ResponseWriter, r *http.Request) {
	lec, err := s.lectures.GetLecture(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, lec)
}

func (s *Server) handleStepSlide(w http.ResponseWriter, r *http.Request) {
	id, n, ok := slideParams(w, r)
	if !ok {
		return
	}
	res, err := s.lectures.StepSlide(r.Context(), id, n)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	id, n, ok := slideParams(w, r)
	if !ok {
		return
	}
	var req struct {
		Answer string `json:"answer"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "body must be JSON with an answer field")
		return
	}
	res, err := s.lectures.SubmitAnswer(r.Context(), id, n, req.Answer)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleFreeQuestion(w http.ResponseWriter, r *http.Request) {
	id, n, ok := slideParams(w, r)
	if !ok {
		return
	}
	var req struct {
		Question string `json:"question"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "body must be JSON with a question field")
		return
	}
	res, err := s.lectures.AskFreeQuestion(r.Context(), id, n, req.Question)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleFetchAudio(w http.ResponseWriter, r *http.Request) {
	id, n, ok := slideParams(w, r)
	if !ok {
		return
	}
	rc, err := s.lectures.FetchAudio(r.Context(), id, n)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "audio/wav")
	_, _ = io.Copy(w, rc)
}

func (s *Server) handleStreamAudio(w http.ResponseWriter, r *http.Request) {
	id, n, ok := slideParams(w, r)
	if !ok {
		return
	}

	fw := &flushWriter{w: w}
	if err := s.lectures.StreamAudio(r.Context(), id, n, fw); err != nil {
		// Headers are committed once audio bytes have gone out; at that
		// point the truncated body is the only failure signal available.
		if !fw.wrote {
			respondServiceError(w, err)
		}
		return
	}
}

func (s *Server) handleSlideStatus(w http.ResponseWriter, r *http.Request) {
	id, n, ok := slideParams(w, r)
	if !ok {
		return
	}
	st, err := s.lectures.AudioStatus(r.Context(), id, n)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// readDeckUpload pulls the deck file and optional title out of a
// multipart form, deriving a title from the filename when absent.
func (s *Server) readDeckUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	if err := r.ParseMultipartForm(maxDeckUpload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "expected multipart form with a file field")
		return nil, "", false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "file field is required")
		return nil, "", false
	}
	defer file.Close()

	deckBytes, err := io.ReadAll(io.LimitReader(file, maxDeckUpload))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "could not read uploaded file")
		return nil, "", false
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" && header.Filename != "" {
		title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}
	return deckBytes, title, true
}

func slideParams(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	id := chi.URLParam(r, "id")
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n < 1 {
		respondError(w, http.StatusBadRequest, "invalid_request", "slide number must be a positive integer")
		return "", 0, false
	}
	return id, n, true
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lecture.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, lecture.ErrValidation):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, lecture.ErrGeneration):
		respondError(w, http.StatusBadGateway, "generation_failed", "narration generation failed")
	case errors.Is(err, lecture.ErrSynthesis):
		respondError(w, http.StatusBadGateway, "synthesis_failed", "audio synthesis failed")
	default:
		respondError(w, http.StatusInternalServerError, "storage_failed", "internal storage failure")
	}
}

// flushWriter pushes each synthesized chunk to the client immediately so
// playback can begin before the full render finishes.
type flushWriter struct {
	w     http.ResponseWriter
	wrote bool
}

func (f *flushWriter) Write(p []byte) (int, error) {
	if !f.wrote {
		f.w.Header().Set("Content-Type", "audio/wav")
		f.wrote = true
	}
	n, err := f.w.Write(p)
	if fl, ok := f.w.(http.Flusher); ok {
		fl.Flush()
	}
	return n, err
}
