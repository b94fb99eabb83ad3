package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"interviewd/internal/engine"
	"interviewd/internal/model"
)

// Question administration. The interview engine never mutates
// questions; these endpoints exist for the tooling that maintains the
// question bank.

func (h *Handler) handleAddQuestion(w http.ResponseWriter, r *http.Request) {
	var q model.Question
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, engine.Wrap(engine.CodeInvalidRequest, err, "decode question"))
		return
	}
	if q.Text == "" || !model.ValidCategory(q.Category) {
		writeError(w, engine.Errf(engine.CodeInvalidRequest, "question needs text and a valid category"))
		return
	}
	if q.Difficulty == "" {
		q.Difficulty = model.DifficultyMedium
	}
	if q.TimeLimit == 0 {
		q.TimeLimit = 60
	}
	id, err := h.questions.InsertQuestion(q)
	if err != nil {
		writeError(w, engine.Wrap(engine.CodeResourceFailure, err, "insert question"))
		return
	}
	q.ID = id
	writeJSON(w, http.StatusCreated, q)
}

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	category := model.Category(r.URL.Query().Get("category"))
	questions, err := h.questions.ListQuestions(category)
	if err != nil {
		writeError(w, engine.Wrap(engine.CodeResourceFailure, err, "list questions"))
		return
	}
	if questions == nil {
		questions = []model.Question{}
	}
	writeJSON(w, http.StatusOK, questions)
}

func (h *Handler) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "questionID")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.questions.GetQuestion(id); errors.Is(err, sql.ErrNoRows) {
		writeError(w, engine.Errf(engine.CodeNotFound, "question %d not found", id))
		return
	} else if err != nil {
		writeError(w, engine.Wrap(engine.CodeResourceFailure, err, "load question"))
		return
	}

	var q model.Question
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, engine.Wrap(engine.CodeInvalidRequest, err, "decode question"))
		return
	}
	q.ID = id
	if err := h.questions.UpdateQuestion(q); err != nil {
		writeError(w, engine.Wrap(engine.CodeResourceFailure, err, "update question"))
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "questionID")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.questions.DeleteQuestion(id); err != nil {
		writeError(w, engine.Wrap(engine.CodeResourceFailure, err, "delete question"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "question deleted"})
}
