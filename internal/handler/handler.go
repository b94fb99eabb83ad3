package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"interviewd/internal/engine"
	"interviewd/internal/model"
	"interviewd/internal/store"
	"interviewd/internal/stream"
)

// maxUploadBytes caps direct audio blob uploads.
const maxUploadBytes = 32 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	engine    *engine.Engine
	registry  *stream.Registry
	questions *store.Store
}

// New creates a new Handler.
func New(e *engine.Engine, r *stream.Registry, s *store.Store) *Handler {
	return &Handler{engine: e, registry: r, questions: s}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/session/start", h.handleStart)
	r.Get("/api/session/{sessionID}/next", h.handleNext)
	r.Post("/api/session/{sessionID}/answer/{questionID}", h.handleAnswer)
	r.Post("/api/session/{sessionID}/finish", h.handleFinish)
	r.Get("/api/session/{sessionID}/report", h.handleReport)

	r.Post("/api/questions", h.handleAddQuestion)
	r.Get("/api/questions", h.handleListQuestions)
	r.Put("/api/questions/{questionID}", h.handleUpdateQuestion)
	r.Delete("/api/questions/{questionID}", h.handleDeleteQuestion)
}

type startRequest struct {
	Name           string            `json:"name"`
	Email          string            `json:"email"`
	Category       model.Category    `json:"category"`
	TotalQuestions int               `json:"total_questions"`
	AdvanceMode    model.AdvanceMode `json:"advance_mode,omitempty"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, engine.Wrap(engine.CodeInvalidRequest, err, "decode request body"))
		return
	}
	sess, err := h.engine.Start(
		model.Candidate{Name: req.Name, Email: req.Email},
		req.Category, req.TotalQuestions, req.AdvanceMode,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r, "sessionID")
	if err != nil {
		writeError(w, err)
		return
	}
	step, err := h.engine.NextQuestion(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, step)
}

// handleAnswer accepts a multipart form with a transcript field and an
// optional audio file. The uploaded blob goes through the same naming
// scheme as streamed resources.
func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r, "sessionID")
	if err != nil {
		writeError(w, err)
		return
	}
	questionID, err := pathID(r, "questionID")
	if err != nil {
		writeError(w, err)
		return
	}

	var transcript, audioPath string
	if err := r.ParseMultipartForm(maxUploadBytes); err == nil {
		transcript = r.FormValue("transcript")
		if file, _, err := r.FormFile("audio"); err == nil {
			data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
			file.Close()
			if err != nil {
				writeError(w, engine.Wrap(engine.CodeResourceFailure, err, "read audio upload"))
				return
			}
			audioPath, err = h.registry.SaveBlob(sessionID, questionID, data)
			if err != nil {
				writeError(w, engine.Wrap(engine.CodeResourceFailure, err, "store audio upload"))
				return
			}
		}
	} else {
		var body struct {
			Transcript string `json:"transcript"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, engine.Wrap(engine.CodeInvalidRequest, err, "decode request body"))
			return
		}
		transcript = body.Transcript
	}

	answer, err := h.engine.RecordAnswer(sessionID, questionID, transcript, audioPath)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"answer": answer})
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r, "sessionID")
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := h.engine.Finish(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r, "sessionID")
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := h.engine.Report(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, engine.Errf(engine.CodeInvalidRequest, "invalid %s", name)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := engine.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case engine.CodeInvalidRequest, engine.CodeEmptySession, engine.CodeDecodeFailure:
		status = http.StatusBadRequest
	case engine.CodeNotFound:
		status = http.StatusNotFound
	}

	msg := err.Error()
	var e *engine.Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": string(code), "message": msg},
	})
}
